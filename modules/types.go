package modules

import "github.com/go-chi/chi"

type Module interface {
	Route(r chi.Router)
	Shutdown()
}
