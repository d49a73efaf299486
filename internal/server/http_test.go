package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServerRoutes(t *testing.T) {
	s := New(&Config{Metrics: true})
	s.Mount(func(r *chi.Mux) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("pong"))
		})
	})

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/ping", http.StatusOK, "pong"},
		{"/missing", http.StatusOK, "404"},
		{"/metrics", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(t, s.Handler(), tt.path)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestServerRateLimit(t *testing.T) {
	s := New(&Config{RateLimitRPS: 0.001, RateLimitBurst: 1})
	s.Mount(func(r *chi.Mux) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("pong"))
		})
	})

	if rec := get(t, s.Handler(), "/ping"); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	rec := get(t, s.Handler(), "/ping")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Errorf("Retry-After header missing")
	}
}

func TestServerPProf(t *testing.T) {
	s := New(&Config{PProf: true})

	if rec := get(t, s.Handler(), pprofPath+"/"); rec.Code != http.StatusOK {
		t.Errorf("pprof index status = %d, want 200", rec.Code)
	}
}
