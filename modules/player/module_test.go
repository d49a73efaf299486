package player

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
)

func TestPlayer(t *testing.T) {
	router := chi.NewRouter()
	New(&Config{}).Route(router)

	tests := []struct {
		name     string
		path     string
		status   int
		contains string
	}{
		{
			name:     "plain",
			path:     "/Videos/6f1b2c1e-4c55-4a4e-9a3b-1d2e3f4a5b6c/player.html",
			status:   http.StatusOK,
			contains: "var source = 'live.m3u8';",
		},
		{
			name:     "query forwarded",
			path:     "/Videos/6f1b2c1e-4c55-4a4e-9a3b-1d2e3f4a5b6c/player.html?deviceId=tv&x=%27",
			status:   http.StatusOK,
			contains: "var source = 'live.m3u8?deviceId=tv&x=%27';",
		},
		{
			name:   "invalid item",
			path:   "/Videos/nope/player.html",
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.contains != "" && !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("body does not contain %q", tt.contains)
			}
		})
	}
}
