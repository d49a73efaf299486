package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog"
)

type logformatter struct {
	logger zerolog.Logger
}

func (l *logformatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	req := map[string]interface{}{}

	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		req["id"] = reqID
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	req["scheme"] = scheme
	req["proto"] = r.Proto
	req["method"] = r.Method
	req["remote"] = r.RemoteAddr
	req["agent"] = r.UserAgent()
	req["uri"] = fmt.Sprintf("%s://%s%s", scheme, r.Host, r.RequestURI)

	return &logentry{
		logger: l.logger,
		noisy:  isNoisyPath(r.URL.Path),
		fields: map[string]interface{}{
			"req": req,
		},
	}
}

type logentry struct {
	logger zerolog.Logger
	noisy  bool
	fields map[string]interface{}
}

func (e *logentry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra interface{}) {
	e.fields["res"] = map[string]interface{}{
		"status":  status,
		"bytes":   bytes,
		"elapsed": float64(elapsed.Nanoseconds()) / 1000000.0,
	}

	switch {
	case status >= 500:
		e.logger.Error().Fields(e.fields).Msgf("request failed (%d)", status)
	case status >= 400:
		e.logger.Warn().Fields(e.fields).Msgf("request failed (%d)", status)
	case e.noisy:
		e.logger.Trace().Fields(e.fields).Msgf("request complete (%d)", status)
	default:
		e.logger.Debug().Fields(e.fields).Msgf("request complete (%d)", status)
	}
}

func (e *logentry) Panic(v interface{}, stack []byte) {
	e.fields["panic"] = fmt.Sprintf("%+v", v)
	e.fields["stack"] = string(stack)

	e.logger.Error().Fields(e.fields).Msg("request panicked")
}

// segment fetches happen every few seconds per viewer
func isNoisyPath(path string) bool {
	return strings.Contains(path, "/hls/") || path == "/metrics"
}
