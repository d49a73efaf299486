package hlslive

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/go-livestream/internal/metrics"
	"github.com/m1k1o/go-livestream/pkg/hlslive"
	"github.com/m1k1o/go-livestream/pkg/streamstate"
	"github.com/m1k1o/go-livestream/pkg/transcoding"
)

// nginx convention, the client went away before we answered
const statusClientClosedRequest = 499

var (
	playlistIdRegex = regexp.MustCompile(`^[0-9A-Za-z_-]+$`)
	segmentRegex    = regexp.MustCompile(`^[0-9A-Za-z_-]+\.[0-9A-Za-z]+$`)
)

type ModuleCtx struct {
	logger zerolog.Logger
	config Config

	resolver   StateResolver
	controller OutputController
	activity   ActivityTracker
}

func New(config *Config, resolver StateResolver, controller OutputController, activity ActivityTracker) *ModuleCtx {
	return &ModuleCtx{
		logger: log.With().Str("module", "hlslive").Logger(),
		config: config.withDefaultValues(),

		resolver:   resolver,
		controller: controller,
		activity:   activity,
	}
}

func (m *ModuleCtx) Route(r chi.Router) {
	r.Get("/Videos/{itemId}/"+m.config.PlaylistName, m.livePlaylist)
	r.Get("/Videos/{itemId}/hls/{playlistId}/{segment}", m.segment)
}

func (m *ModuleCtx) Shutdown() {}

func (m *ModuleCtx) livePlaylist(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	itemID := chi.URLParam(r, "itemId")

	logger := m.logger.With().
		Str("item", itemID).
		Str("request-id", middleware.GetReqID(r.Context())).
		Logger()

	if _, err := uuid.Parse(itemID); err != nil {
		metrics.AdmissionsTotal.WithLabelValues("bad_request").Inc()
		http.Error(w, "400 invalid item id", http.StatusBadRequest)
		return
	}

	req, err := streamstate.ParseVideoRequest(itemID, r.URL.Query())
	if err != nil {
		m.writeError(w, r, logger, err)
		return
	}
	req.UserAgent = r.UserAgent()

	state, err := m.resolver.Resolve(r.Context(), req)
	if err != nil {
		m.writeError(w, r, logger, err)
		return
	}

	admission, err := m.controller.EnsureLiveOutput(r.Context(), state)
	if admission == nil || admission.Ownership == hlslive.OwnedByCaller {
		defer state.Dispose()
	}
	if err != nil {
		m.writeError(w, r, logger, err)
		return
	}

	playlist, err := hlslive.RenderLivePlaylist(state.OutputFilePath, state.SegmentLength)
	if err != nil {
		m.writeError(w, r, logger, err)
		return
	}

	outcome := "existing"
	switch {
	case admission.Started:
		outcome = "started"
	case admission.Job != nil:
		outcome = "joined"
	}
	metrics.AdmissionsTotal.WithLabelValues(outcome).Inc()
	metrics.AdmissionDuration.Observe(time.Since(start).Seconds())

	logger.Debug().
		Str("outcome", outcome).
		Dur("elapsed", time.Since(start)).
		Msg("serving live playlist")

	w.Header().Set("Content-Type", "application/x-mpegURL")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(playlist))
}

func (m *ModuleCtx) writeError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	switch {
	case r.Context().Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		metrics.AdmissionsTotal.WithLabelValues("cancelled").Inc()
		logger.Debug().Int("status", statusClientClosedRequest).Msg("client went away")
		// nobody is listening anymore
		w.WriteHeader(statusClientClosedRequest)
	case errors.Is(err, streamstate.ErrInvalidRequest):
		metrics.AdmissionsTotal.WithLabelValues("bad_request").Inc()
		http.Error(w, "400 "+err.Error(), http.StatusBadRequest)
	case errors.Is(err, streamstate.ErrItemNotFound):
		metrics.AdmissionsTotal.WithLabelValues("not_found").Inc()
		http.Error(w, "404 item not found", http.StatusNotFound)
	case errors.Is(err, hlslive.ErrSegmentTimeout):
		metrics.AdmissionsTotal.WithLabelValues("timeout").Inc()
		logger.Warn().Err(err).Msg("output did not become playable in time")
		http.Error(w, "504 timed out waiting for segments", http.StatusGatewayTimeout)
	case errors.Is(err, transcoding.ErrSpawnFailed):
		metrics.AdmissionsTotal.WithLabelValues("spawn_failed").Inc()
		metrics.SpawnFailuresTotal.Inc()
		logger.Err(err).Msg("unable to start encoder")
		http.Error(w, "500 unable to start transcoding", http.StatusInternalServerError)
	case errors.Is(err, hlslive.ErrEncoderExited):
		metrics.AdmissionsTotal.WithLabelValues("encoder_exited").Inc()
		logger.Err(err).Msg("encoder exited early")
		http.Error(w, "500 transcoding failed", http.StatusInternalServerError)
	default:
		metrics.AdmissionsTotal.WithLabelValues("error").Inc()
		logger.Err(err).Msg("unable to serve live playlist")
		http.Error(w, "500 internal server error", http.StatusInternalServerError)
	}
}

func (m *ModuleCtx) segment(w http.ResponseWriter, r *http.Request) {
	playlistID := chi.URLParam(r, "playlistId")
	segment := chi.URLParam(r, "segment")

	if !playlistIdRegex.MatchString(playlistID) ||
		!segmentRegex.MatchString(segment) ||
		!strings.HasPrefix(segment, playlistID) {
		http.Error(w, "400 invalid parameters", http.StatusBadRequest)
		return
	}

	segmentPath := filepath.Join(m.config.TranscodeDir, segment)
	if _, err := os.Stat(segmentPath); err != nil {
		http.Error(w, "404 segment not found", http.StatusNotFound)
		return
	}

	m.activity.PingRequest(filepath.Join(m.config.TranscodeDir, playlistID+".m3u8"))
	metrics.SegmentRequestsTotal.Inc()

	if strings.HasSuffix(segment, ".ts") {
		w.Header().Set("Content-Type", "video/mp2t")
	}
	http.ServeFile(w, r, segmentPath)
}
