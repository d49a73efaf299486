package hlslive

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultPollInterval = 100 * time.Millisecond

// Gate waits for segments by watching the manifest directory, with
// polling as fallback when notifications are unavailable or missed.
type Gate struct {
	logger       zerolog.Logger
	timeout      time.Duration
	pollInterval time.Duration
}

func NewGate(timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Gate{
		logger:       log.With().Str("module", "hlslive").Str("submodule", "gate").Logger(),
		timeout:      timeout,
		pollInterval: defaultPollInterval,
	}
}

func (g *Gate) watch(playlist string) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(playlist)); err != nil {
		watcher.Close()
		return nil, err
	}

	return watcher, nil
}

// WaitForMinimumSegmentCount blocks until the manifest lists minSegments
// segments. It fails with ErrSegmentTimeout after the gate timeout and with
// the context error when ctx is done first.
func (g *Gate) WaitForMinimumSegmentCount(ctx context.Context, playlist string, minSegments int) error {
	if minSegments <= 0 {
		return nil
	}

	logger := g.logger.With().Str("playlist", playlist).Int("min-segments", minSegments).Logger()

	var events <-chan fsnotify.Event
	var errors <-chan error

	watcher, err := g.watch(playlist)
	if err == nil {
		defer watcher.Close()
		events = watcher.Events
		errors = watcher.Errors
	} else {
		logger.Warn().Err(err).Msg("unable to watch playlist, polling only")
	}

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	timeout := time.NewTimer(g.timeout)
	defer timeout.Stop()

	started := time.Now()
	for {
		count, err := CountSegments(playlist)
		if err != nil {
			logger.Warn().Err(err).Msg("unable to read playlist")
		}

		if count >= minSegments {
			logger.Debug().Int("segments", count).Dur("waited", time.Since(started)).Msg("playlist ready")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			logger.Warn().Int("segments", count).Msg("playlist load timeouted")
			return fmt.Errorf("%w: %d of %d segments after %s", ErrSegmentTimeout, count, minSegments, g.timeout)
		case <-ticker.C:
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		case err, ok := <-errors:
			if !ok {
				errors = nil
				continue
			}
			logger.Warn().Err(err).Msg("playlist watcher error")
		}
	}
}
