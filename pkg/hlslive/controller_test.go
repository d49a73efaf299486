package hlslive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m1k1o/go-livestream/pkg/encoding"
	"github.com/m1k1o/go-livestream/pkg/streamstate"
	"github.com/m1k1o/go-livestream/pkg/transcoding"
)

type fakeRegistry struct {
	locks *transcoding.LockTable

	acquires atomic.Int32
	releases atomic.Int32
	starts   atomic.Int32
	begins   atomic.Int32
	ends     atomic.Int32
	discards atomic.Int32

	startErr error

	mu   sync.Mutex
	jobs map[string]*transcoding.Job
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		locks: transcoding.NewLockTable(false),
		jobs:  map[string]*transcoding.Job{},
	}
}

func (r *fakeRegistry) Lock(ctx context.Context, path string) (func(), error) {
	unlock, err := r.locks.Lock(ctx, path)
	if err != nil {
		return nil, err
	}

	r.acquires.Add(1)
	return func() {
		r.releases.Add(1)
		unlock()
	}, nil
}

func (r *fakeRegistry) Start(ctx context.Context, req transcoding.StartRequest) (*transcoding.Job, error) {
	r.starts.Add(1)

	if r.startErr != nil {
		return nil, r.startErr
	}

	// give concurrent requesters time to pile up on the lock
	time.Sleep(10 * time.Millisecond)

	job := transcoding.NewJob(req)

	r.mu.Lock()
	r.jobs[job.Path] = job
	r.mu.Unlock()

	if err := os.WriteFile(req.Path, nil, 0644); err != nil {
		return nil, err
	}

	return job, nil
}

func (r *fakeRegistry) Lookup(path string) *transcoding.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.jobs[filepath.Clean(path)]
}

func (r *fakeRegistry) OnBeginRequest(path string) *transcoding.Job {
	job := r.Lookup(path)
	if job != nil {
		r.begins.Add(1)
		job.BeginRequest()
	}
	return job
}

func (r *fakeRegistry) OnEndRequest(job *transcoding.Job) {
	r.ends.Add(1)
	job.EndRequest()
}

func (r *fakeRegistry) Discard(job *transcoding.Job) {
	r.discards.Add(1)

	r.mu.Lock()
	if r.jobs[job.Path] == job {
		delete(r.jobs, job.Path)
	}
	r.mu.Unlock()

	_ = os.Remove(job.Path)
}

type fakeGate struct {
	calls atomic.Int32
	err   error
	wait  bool // block until ctx is done
}

func (g *fakeGate) WaitForMinimumSegmentCount(ctx context.Context, playlist string, minSegments int) error {
	g.calls.Add(1)

	if g.wait {
		<-ctx.Done()
		return ctx.Err()
	}

	return g.err
}

type disposeCounter struct {
	n atomic.Int32
}

func (d *disposeCounter) state(dir string) *streamstate.StreamState {
	state := &streamstate.StreamState{
		ItemID:           "item",
		MediaPath:        "/media/movie.mkv",
		OutputFilePath:   filepath.Join(dir, "output.m3u8"),
		SegmentLength:    6,
		MinSegments:      2,
		IsOutputVideo:    true,
		OutputVideoCodec: "h264",
		OutputAudioCodec: "aac",
		VideoStream:      &streamstate.MediaStream{Index: 0, Type: "video", Codec: "h264"},
		AudioStream:      &streamstate.MediaStream{Index: 1, Type: "audio", Codec: "aac", Channels: 2},
	}
	state.OnDispose(func() {
		d.n.Add(1)
	})
	return state
}

// handle mirrors what an http handler does with the admission result.
func handle(ctx context.Context, c *Controller, state *streamstate.StreamState) (*Admission, error) {
	admission, err := c.EnsureLiveOutput(ctx, state)
	if admission.Ownership == OwnedByCaller {
		state.Dispose()
	}
	return admission, err
}

func TestEnsureLiveOutputSingleSpawn(t *testing.T) {
	const requests = 20

	dir := t.TempDir()
	registry := newFakeRegistry()
	gate := &fakeGate{}
	c := New(registry, gate, encoding.Options{})

	disposed := &disposeCounter{}

	var wg sync.WaitGroup
	var started atomic.Int32
	errs := make(chan error, requests)

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			admission, err := handle(context.Background(), c, disposed.state(dir))
			if err != nil {
				errs <- err
				return
			}
			if admission.Started {
				started.Add(1)
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("EnsureLiveOutput() error = %v", err)
	}

	if got := registry.starts.Load(); got != 1 {
		t.Errorf("spawns = %d, want 1", got)
	}
	if got := started.Load(); got != 1 {
		t.Errorf("admissions reporting start = %d, want 1", got)
	}
	if acquires, releases := registry.acquires.Load(), registry.releases.Load(); acquires != releases {
		t.Errorf("lock acquired %d times, released %d times", acquires, releases)
	}
	if got := registry.locks.Len(); got != 0 {
		t.Errorf("lock table size = %d, want 0", got)
	}
	if got := disposed.n.Load(); got != requests {
		t.Errorf("dispose count = %d, want %d", got, requests)
	}
	// spawner is accounted on start, everyone else begins explicitly
	if begins, ends := registry.begins.Load(), registry.ends.Load(); ends != begins+1 {
		t.Errorf("viewer begins = %d, ends = %d, want ends = begins + 1", begins, ends)
	}
	if job := registry.Lookup(filepath.Join(dir, "output.m3u8")); job == nil || !job.IsReady() {
		t.Errorf("job = %v, want registered and ready", job)
	}
}

func TestEnsureLiveOutputSpawnFailure(t *testing.T) {
	dir := t.TempDir()
	registry := newFakeRegistry()
	registry.startErr = fmt.Errorf("%w: exec: \"ffmpeg\": not found", transcoding.ErrSpawnFailed)
	gate := &fakeGate{}
	c := New(registry, gate, encoding.Options{})

	disposed := &disposeCounter{}
	state := disposed.state(dir)

	admission, err := handle(context.Background(), c, state)
	if !errors.Is(err, transcoding.ErrSpawnFailed) {
		t.Fatalf("EnsureLiveOutput() error = %v, want ErrSpawnFailed", err)
	}

	if admission.Ownership != Released {
		t.Errorf("ownership = %v, want %v", admission.Ownership, Released)
	}
	if !state.IsDisposed() {
		t.Errorf("state was not disposed")
	}
	if got := disposed.n.Load(); got != 1 {
		t.Errorf("dispose count = %d, want 1", got)
	}
	if acquires, releases := registry.acquires.Load(), registry.releases.Load(); acquires != 1 || releases != 1 {
		t.Errorf("lock acquired %d times, released %d times, want 1 and 1", acquires, releases)
	}
	if got := gate.calls.Load(); got != 0 {
		t.Errorf("gate calls = %d, want 0", got)
	}
	if got := registry.ends.Load(); got != 0 {
		t.Errorf("viewer ends = %d, want 0", got)
	}
}

func TestEnsureLiveOutputLockCancellation(t *testing.T) {
	dir := t.TempDir()
	registry := newFakeRegistry()
	c := New(registry, &fakeGate{}, encoding.Options{})

	disposed := &disposeCounter{}
	state := disposed.state(dir)

	// somebody else holds the lock
	unlock, err := registry.locks.Lock(context.Background(), state.OutputFilePath)
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	admission, err := handle(ctx, c, state)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("EnsureLiveOutput() error = %v, want context.DeadlineExceeded", err)
	}

	if admission.Ownership != OwnedByCaller {
		t.Errorf("ownership = %v, want %v", admission.Ownership, OwnedByCaller)
	}
	if got := disposed.n.Load(); got != 1 {
		t.Errorf("dispose count = %d, want 1", got)
	}
	if got := registry.starts.Load(); got != 0 {
		t.Errorf("spawns = %d, want 0", got)
	}
	if got := registry.acquires.Load(); got != 0 {
		t.Errorf("lock acquires = %d, want 0", got)
	}
}

func TestEnsureLiveOutputGateFailure(t *testing.T) {
	tests := []struct {
		name string
		gate *fakeGate
		ctx  func() (context.Context, context.CancelFunc)
		want error
	}{
		{
			name: "timeout",
			gate: &fakeGate{err: fmt.Errorf("%w: 0 of 2 segments", ErrSegmentTimeout)},
			ctx:  func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
			want: ErrSegmentTimeout,
		},
		{
			name: "client cancellation",
			gate: &fakeGate{wait: true},
			ctx:  func() (context.Context, context.CancelFunc) { return context.WithTimeout(context.Background(), 50*time.Millisecond) },
			want: context.DeadlineExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			registry := newFakeRegistry()
			c := New(registry, tt.gate, encoding.Options{})

			disposed := &disposeCounter{}
			state := disposed.state(dir)

			ctx, cancel := tt.ctx()
			defer cancel()

			admission, err := handle(ctx, c, state)
			if !errors.Is(err, tt.want) {
				t.Fatalf("EnsureLiveOutput() error = %v, want %v", err, tt.want)
			}

			if admission.Ownership != OwnedByCaller {
				t.Errorf("ownership = %v, want %v", admission.Ownership, OwnedByCaller)
			}
			if got := disposed.n.Load(); got != 1 {
				t.Errorf("dispose count = %d, want 1", got)
			}
			if acquires, releases := registry.acquires.Load(), registry.releases.Load(); acquires != 1 || releases != 1 {
				t.Errorf("lock acquired %d times, released %d times, want 1 and 1", acquires, releases)
			}

			// started job is not rolled back
			job := registry.Lookup(state.OutputFilePath)
			if job == nil {
				t.Fatalf("job was removed after gate failure")
			}
			if job.IsReady() {
				t.Errorf("job marked ready after gate failure")
			}
			if got := registry.ends.Load(); got != 1 {
				t.Errorf("viewer ends = %d, want 1", got)
			}
		})
	}
}

func TestEnsureLiveOutputExistingOutput(t *testing.T) {
	t.Run("without job", func(t *testing.T) {
		dir := t.TempDir()
		registry := newFakeRegistry()
		gate := &fakeGate{}
		c := New(registry, gate, encoding.Options{})

		disposed := &disposeCounter{}
		state := disposed.state(dir)

		if err := os.WriteFile(state.OutputFilePath, []byte("#EXTM3U\n"), 0644); err != nil {
			t.Fatal(err)
		}

		admission, err := handle(context.Background(), c, state)
		if err != nil {
			t.Fatalf("EnsureLiveOutput() error = %v", err)
		}

		if admission.Started || admission.Job != nil {
			t.Errorf("admission = %+v, want no job", admission)
		}
		if got := registry.acquires.Load(); got != 0 {
			t.Errorf("lock acquires = %d, want 0", got)
		}
		if got := gate.calls.Load(); got != 0 {
			t.Errorf("gate calls = %d, want 0", got)
		}
		if got := disposed.n.Load(); got != 1 {
			t.Errorf("dispose count = %d, want 1", got)
		}
	})

	t.Run("with ready job", func(t *testing.T) {
		dir := t.TempDir()
		registry := newFakeRegistry()
		gate := &fakeGate{}
		c := New(registry, gate, encoding.Options{})

		disposed := &disposeCounter{}
		state := disposed.state(dir)

		// first request starts the job
		if _, err := handle(context.Background(), c, state); err != nil {
			t.Fatalf("EnsureLiveOutput() error = %v", err)
		}

		job := registry.Lookup(state.OutputFilePath)
		before := job.LastActivity()
		time.Sleep(5 * time.Millisecond)

		admission, err := handle(context.Background(), c, disposed.state(dir))
		if err != nil {
			t.Fatalf("EnsureLiveOutput() error = %v", err)
		}

		if admission.Started {
			t.Errorf("second request started a job")
		}
		if admission.Job != job {
			t.Errorf("admission job = %v, want %v", admission.Job, job)
		}
		if got := gate.calls.Load(); got != 1 {
			t.Errorf("gate calls = %d, want 1", got)
		}
		if got := job.ActiveRequests(); got != 0 {
			t.Errorf("active requests = %d, want 0", got)
		}
		if !job.LastActivity().After(before) {
			t.Errorf("heartbeat did not refresh job activity")
		}
		if got := registry.starts.Load(); got != 1 {
			t.Errorf("spawns = %d, want 1", got)
		}
	})
}
