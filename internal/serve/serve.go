package serve

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/m1k1o/go-livestream/internal/metrics"
	"github.com/m1k1o/go-livestream/internal/server"
	"github.com/m1k1o/go-livestream/internal/telemetry"
	"github.com/m1k1o/go-livestream/modules"
	"github.com/m1k1o/go-livestream/modules/hlslive"
	"github.com/m1k1o/go-livestream/modules/player"
	hlsLivePkg "github.com/m1k1o/go-livestream/pkg/hlslive"
	"github.com/m1k1o/go-livestream/pkg/streamstate"
	"github.com/m1k1o/go-livestream/pkg/transcoding"
)

func NewCommand() *Main {
	return &Main{
		Config: &Config{},
	}
}

type Main struct {
	Config *Config

	logger   zerolog.Logger
	server   *server.ServerManagerCtx
	registry *transcoding.Registry
	cache    *streamstate.RedisProbeCache
	modules  []modules.Module

	shutdownTracing func(context.Context) error
}

func (main *Main) Preflight() {
	main.logger = log.With().Str("service", "main").Logger()
}

func (main *Main) probeCache() streamstate.ProbeCache {
	config := main.Config.Cache

	if config.RedisURL != "" {
		cache, err := streamstate.NewRedisProbeCache(config.RedisURL, config.TTL)
		if err != nil {
			main.logger.Panic().Err(err).Msg("unable to create redis probe cache")
		}
		main.cache = cache
		main.logger.Info().Msg("using redis probe cache")
		return cache
	}

	if config.Enabled {
		main.logger.Info().Str("cache-dir", config.Dir).Msg("using file probe cache")
		return streamstate.NewFileProbeCache(config.Dir)
	}

	return nil
}

func (main *Main) start() {
	config := main.Config

	shutdownTracing, err := telemetry.Init(context.Background(), "livestream", config.Telemetry)
	if err != nil {
		main.logger.Warn().Err(err).Msg("starting without tracing")
	}
	main.shutdownTracing = shutdownTracing

	if config.Server.Metrics {
		metrics.Register(prometheus.DefaultRegisterer)
	}

	transcodeDir := config.Live.TranscodeDir
	if transcodeDir == "" {
		transcodeDir = filepath.Join(os.TempDir(), "livestream")
	}
	if abs, err := filepath.Abs(transcodeDir); err == nil {
		transcodeDir = abs
	}

	resolver := streamstate.NewResolver(streamstate.Config{
		TranscodeDir:  transcodeDir,
		SegmentLength: config.Live.SegmentLength,
		MinSegments:   config.Live.MinSegments,
	}, streamstate.ConfigLibrary(config.Library), streamstate.FFprobe{
		Binary: config.Live.FFprobeBinary,
	}, main.probeCache())

	main.registry = transcoding.New(transcoding.Config{
		FFmpegBinary:        config.Live.FFmpegBinary,
		TranscodeDir:        transcodeDir,
		FileLock:            config.Live.FileLock,
		CleanupPeriod:       config.Live.CleanupPeriod,
		ActiveIdleTimeout:   config.Live.ActiveIdleTimeout,
		InactiveIdleTimeout: config.Live.InactiveIdleTimeout,
	})

	main.registry.OnStart(func(job *transcoding.Job) {
		metrics.JobStartsTotal.Inc()
		metrics.ActiveJobs.Inc()
	})

	main.registry.OnStop(func(job *transcoding.Job, err error) {
		metrics.ActiveJobs.Dec()
		if err != nil {
			metrics.JobFailuresTotal.Inc()
		}
	})

	if config.Live.PurgeOnStart {
		if err := main.registry.PurgeOutputDir(); err != nil {
			main.logger.Panic().Err(err).Str("dir", transcodeDir).Msg("unable to purge transcode dir")
		}
	} else if err := os.MkdirAll(transcodeDir, 0755); err != nil {
		main.logger.Panic().Err(err).Str("dir", transcodeDir).Msg("unable to create transcode dir")
	}

	main.registry.Run()

	gate := hlsLivePkg.NewGate(config.Live.SegmentTimeout)
	controller := hlsLivePkg.New(main.registry, gate, config.Live.Encoding)

	main.server = server.New(&config.Server)

	main.modules = []modules.Module{
		hlslive.New(&hlslive.Config{
			TranscodeDir: transcodeDir,
		}, resolver, controller, main.registry),
		player.New(&player.Config{}),
	}

	for _, module := range main.modules {
		module := module
		main.server.Mount(func(r *chi.Mux) {
			module.Route(r)
		})
	}

	main.server.Start()
	main.logger.Info().
		Str("transcode-dir", transcodeDir).
		Int("library-items", len(config.Library)).
		Msg("serving live streams")
}

func (main *Main) shutdown() {
	err := main.server.Shutdown()
	main.logger.Err(err).Msg("http manager shutdown")

	for _, module := range main.modules {
		module.Shutdown()
	}

	err = main.registry.Shutdown()
	main.logger.Err(err).Msg("transcoding registry shutdown")

	if main.cache != nil {
		err = main.cache.Close()
		main.logger.Err(err).Msg("probe cache closed")
	}

	if main.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err = main.shutdownTracing(ctx)
		main.logger.Err(err).Msg("tracing shutdown")
	}
}

func (main *Main) Run(cmd *cobra.Command, args []string) {
	main.logger.Info().Msg("starting main server")
	main.start()
	main.logger.Info().Msg("main ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit

	main.logger.Warn().Msgf("received %s, attempting graceful shutdown", sig)
	main.shutdown()
	main.logger.Info().Msg("shutdown complete")
}
