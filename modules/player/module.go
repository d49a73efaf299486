package player

import (
	_ "embed"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

//go:embed player.html
var playHTML string

type ModuleCtx struct {
	logger zerolog.Logger
	config Config
}

func New(config *Config) *ModuleCtx {
	module := &ModuleCtx{
		logger: log.With().Str("module", "player").Logger(),
		config: config.withDefaultValues(),
	}

	return module
}

func (m *ModuleCtx) Route(r chi.Router) {
	r.Get("/Videos/{itemId}/player.html", m.ServeHTTP)
}

func (m *ModuleCtx) Shutdown() {}

func (m *ModuleCtx) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, err := uuid.Parse(chi.URLParam(r, "itemId")); err != nil {
		http.Error(w, "400 invalid item id", http.StatusBadRequest)
		return
	}

	// query is forwarded to the playlist, encoding keeps it safe inside the script
	source := m.config.Source
	if query := r.URL.Query().Encode(); query != "" {
		source += "?" + query
	}

	w.Header().Set("Content-Type", "text/html")

	html := strings.Replace(playHTML, "index.m3u8", source, 1)
	_, _ = w.Write([]byte(html))
}
