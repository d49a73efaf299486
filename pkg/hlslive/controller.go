package hlslive

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/m1k1o/go-livestream/pkg/encoding"
	"github.com/m1k1o/go-livestream/pkg/streamstate"
	"github.com/m1k1o/go-livestream/pkg/transcoding"
)

// Controller makes sure at most one encoder is started per output path and
// that requests are answered only after the output is playable.
type Controller struct {
	logger   zerolog.Logger
	tracer   trace.Tracer
	registry JobRegistry
	gate     SegmentGate
	options  encoding.Options
}

func New(registry JobRegistry, gate SegmentGate, options encoding.Options) *Controller {
	return &Controller{
		logger:   log.With().Str("module", "hlslive").Str("submodule", "controller").Logger(),
		tracer:   otel.Tracer("github.com/m1k1o/go-livestream/pkg/hlslive"),
		registry: registry,
		gate:     gate,
		options:  options,
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureLiveOutput starts the encoder for the state output unless it
// already exists, then waits until the output is playable. On error the
// returned admission tells whether the state was already disposed.
func (c *Controller) EnsureLiveOutput(ctx context.Context, state *streamstate.StreamState) (*Admission, error) {
	ctx, span := c.tracer.Start(ctx, "hlslive.EnsureLiveOutput", trace.WithAttributes(
		attribute.String("item.id", state.ItemID),
		attribute.String("output.path", state.OutputFilePath),
	))
	defer span.End()

	admission, err := c.ensureLiveOutput(ctx, state)

	span.SetAttributes(
		attribute.Bool("encoder.started", admission.Started),
		attribute.String("state.ownership", admission.Ownership.String()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return admission, err
}

func (c *Controller) ensureLiveOutput(ctx context.Context, state *streamstate.StreamState) (*Admission, error) {
	admission := &Admission{Ownership: OwnedByCaller}
	playlist := state.OutputFilePath

	logger := c.logger.With().Str("playlist", playlist).Logger()

	job, err := c.startIfMissing(ctx, state, admission)
	if err != nil {
		return admission, err
	}

	if job != nil {
		// the spawning request is already accounted as a viewer
		admission.Job = job
		defer c.registry.OnEndRequest(job)

		if err := c.waitPlayable(ctx, job, playlist, state.MinSegments); err != nil {
			logger.Warn().Err(err).Msg("newly started output did not become playable")
			return admission, err
		}

		return admission, nil
	}

	job = c.registry.OnBeginRequest(playlist)
	if job == nil {
		// output produced by a job that no longer exists, or another process
		return admission, nil
	}

	admission.Job = job
	defer c.registry.OnEndRequest(job)

	if !job.IsReady() {
		if err := c.waitPlayable(ctx, job, playlist, state.MinSegments); err != nil {
			logger.Warn().Err(err).Msg("existing output did not become playable")
			return admission, err
		}
	}

	return admission, nil
}

// deadJob returns the job registered for playlist if its encoder exited
// before the output became playable.
func (c *Controller) deadJob(playlist string, minSegments int) *transcoding.Job {
	job := c.registry.Lookup(playlist)
	if job == nil || !job.HasExited() || job.IsReady() {
		return nil
	}

	// last segments may have been written right before exit
	if SegmentsReady(playlist, minSegments) {
		return nil
	}

	return job
}

func (c *Controller) outputUsable(playlist string, minSegments int) bool {
	return fileExists(playlist) && c.deadJob(playlist, minSegments) == nil
}

// startIfMissing holds the path lock only while checking and spawning.
func (c *Controller) startIfMissing(ctx context.Context, state *streamstate.StreamState, admission *Admission) (*transcoding.Job, error) {
	playlist := state.OutputFilePath

	if c.outputUsable(playlist, state.MinSegments) {
		return nil, nil
	}

	unlock, err := c.registry.Lock(ctx, playlist)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if fileExists(playlist) {
		dead := c.deadJob(playlist, state.MinSegments)
		if dead == nil {
			return nil, nil
		}

		c.logger.Warn().
			Str("playlist", playlist).
			Str("job", dead.ID).
			AnErr("exit-error", dead.Err()).
			Msg("restarting output whose encoder exited before it was playable")

		c.registry.Discard(dead)
	}

	cmd := encoding.Build(state, c.options)

	job, err := c.registry.Start(ctx, transcoding.StartRequest{
		Path:          playlist,
		Args:          cmd.Args(),
		ItemID:        state.ItemID,
		DeviceID:      deviceID(state),
		PlaySessionID: playSessionID(state),
		IsLiveOutput:  true,
	})
	if err != nil {
		state.Dispose()
		admission.Ownership = Released
		return nil, err
	}

	admission.Started = true
	c.logger.Info().Str("playlist", playlist).Str("job", job.ID).Msg("live output started")

	return job, nil
}

// waitPlayable gates on segment count, giving up early if the encoder exits.
func (c *Controller) waitPlayable(ctx context.Context, job *transcoding.Job, playlist string, minSegments int) error {
	gateCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-job.Done():
			cancel()
		case <-gateCtx.Done():
		}
	}()

	err := c.gate.WaitForMinimumSegmentCount(gateCtx, playlist, minSegments)
	if err != nil && ctx.Err() == nil && job.HasExited() {
		// encoder may have written its last segments right before exiting
		if SegmentsReady(playlist, minSegments) {
			err = nil
		} else {
			return fmt.Errorf("%w: %v", ErrEncoderExited, job.Err())
		}
	}
	if err != nil {
		return err
	}

	job.MarkReady()
	return nil
}

func deviceID(state *streamstate.StreamState) string {
	if state.Request == nil {
		return ""
	}
	return state.Request.DeviceID
}

func playSessionID(state *streamstate.StreamState) string {
	if state.Request == nil {
		return ""
	}
	return state.Request.PlaySessionID
}
