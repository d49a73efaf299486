package transcoding

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/go-livestream/internal/utils"
)

// how long to wait for a killed encoder before its files are removed
const stopTimeout = 5 * time.Second

type Config struct {
	FFmpegBinary string
	TranscodeDir string
	FileLock     bool

	CleanupPeriod time.Duration
	// idle timeout of jobs that already produced a playable output
	ActiveIdleTimeout time.Duration
	// idle timeout of jobs that did not become playable yet
	InactiveIdleTimeout time.Duration
}

func (c Config) withDefaultValues() Config {
	if c.FFmpegBinary == "" {
		c.FFmpegBinary = "ffmpeg"
	}
	if c.CleanupPeriod <= 0 {
		c.CleanupPeriod = 4 * time.Second
	}
	if c.ActiveIdleTimeout <= 0 {
		c.ActiveIdleTimeout = 60 * time.Second
	}
	if c.InactiveIdleTimeout <= 0 {
		c.InactiveIdleTimeout = 120 * time.Second
	}
	return c
}

type Registry struct {
	logger zerolog.Logger
	config Config
	locks  *LockTable

	mu   sync.RWMutex
	jobs map[string]*Job

	command func(name string, args ...string) *exec.Cmd

	events struct {
		onStart func(job *Job)
		onStop  func(job *Job, err error)
	}

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

func New(config Config) *Registry {
	return &Registry{
		logger:  log.With().Str("module", "transcoding").Str("submodule", "registry").Logger(),
		config:  config.withDefaultValues(),
		locks:   NewLockTable(config.FileLock),
		jobs:    map[string]*Job{},
		command: exec.Command,

		shutdown: make(chan struct{}),
	}
}

// Run starts periodic idle cleanup until Shutdown is called.
func (r *Registry) Run() {
	go func() {
		ticker := time.NewTicker(r.config.CleanupPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-r.shutdown:
				return
			case <-ticker.C:
				r.Cleanup()
			}
		}
	}()
}

// Lock acquires the mutex of given output path.
func (r *Registry) Lock(ctx context.Context, path string) (func(), error) {
	return r.locks.Lock(ctx, path)
}

// Start spawns the encoder and registers its job. The output manifest is
// created before Start returns, so other lock holders observe it.
func (r *Registry) Start(ctx context.Context, req StartRequest) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := normalizePath(req.Path)

	// output is missing, previous job cannot serve it anymore
	if stale := r.Lookup(path); stale != nil {
		r.remove(stale)
		r.logger.Warn().Str("path", path).Str("job", stale.ID).Msg("replacing job with missing output")
		r.kill(stale)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	job := NewJob(req)
	job.logger = job.logger.With().Str("path", path).Logger()

	cmd := r.command(r.config.FFmpegBinary, req.Args...)
	cmd.Dir = dir
	cmd.Stderr = utils.LogEvent(job.onCmdLog)
	configureProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	job.cmd = cmd

	r.mu.Lock()
	r.jobs[path] = job
	r.mu.Unlock()

	if r.events.onStart != nil {
		r.events.onStart(job)
	}

	go r.wait(job)

	// registered before the manifest appears, so whoever sees the
	// manifest also finds the job
	if err := writePlaceholder(path); err != nil {
		r.remove(job)
		r.kill(job)
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	job.logger.Info().
		Int("pid", job.Pid()).
		Bool("live", job.IsLiveOutput).
		Str("args", strings.Join(req.Args, " ")).
		Msg("encoder started")

	return job, nil
}

func writePlaceholder(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if os.IsExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return f.Close()
}

func (r *Registry) wait(job *Job) {
	err := job.cmd.Wait()
	if err != nil {
		if exiterr, ok := err.(*exec.ExitError); ok {
			if status, ok := exiterr.Sys().(syscall.WaitStatus); ok {
				job.logger.Warn().Int("exit-status", status.ExitStatus()).Msg("the encoder has exited with an exit code != 0")
			}
		} else {
			job.logger.Err(err).Msg("the encoder has exited with an error")
		}
	} else {
		job.logger.Info().Msg("the encoder has successfully exited")
	}

	job.markExited(err)
	job.logger.Debug().Dur("position", job.Position()).Msg("encoder progress at exit")

	if r.events.onStop != nil {
		r.events.onStop(job, err)
	}

	// finite outputs are complete, live outputs stay until idle
	if !job.IsLiveOutput && r.remove(job) {
		r.removeFiles(job)
	}
}

// Lookup returns the job registered for path, or nil.
func (r *Registry) Lookup(path string) *Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.jobs[normalizePath(path)]
}

// OnBeginRequest records a viewer arrival. Returns nil if no job is registered.
func (r *Registry) OnBeginRequest(path string) *Job {
	job := r.Lookup(path)
	if job != nil {
		job.BeginRequest()
	}
	return job
}

// OnEndRequest records a viewer departure.
func (r *Registry) OnEndRequest(job *Job) {
	if job != nil {
		job.EndRequest()
	}
}

// PingRequest refreshes activity of the job producing path.
func (r *Registry) PingRequest(path string) bool {
	job := r.Lookup(path)
	if job == nil {
		return false
	}

	job.Ping()
	return true
}

// Jobs returns a snapshot of registered jobs.
func (r *Registry) Jobs() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// remove unregisters job, if it is still the registered one.
func (r *Registry) remove(job *Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.jobs[job.Path] != job {
		return false
	}

	delete(r.jobs, job.Path)
	return true
}

func (r *Registry) kill(job *Job) {
	if job.HasExited() {
		return
	}

	job.logger.Debug().Msg("performing stop")
	killProcessGroup(job.logger, job.cmd)

	select {
	case <-job.Done():
	case <-time.After(stopTimeout):
		job.logger.Warn().Msg("encoder did not exit after kill")
	}
}

// Discard unregisters job and removes its output files, so the next
// requester starts a fresh encoder. The caller must hold the path lock.
func (r *Registry) Discard(job *Job) {
	if !r.remove(job) {
		return
	}

	job.logger.Warn().
		Bool("ready", job.IsReady()).
		Bool("exited", job.HasExited()).
		Msg("discarding job")

	r.kill(job)
	r.removeFiles(job)
}

// removeFiles deletes the manifest and every segment sharing its base name.
// Lock files stay, another process may be holding or waiting on them.
func (r *Registry) removeFiles(job *Job) {
	base := strings.TrimSuffix(job.Path, filepath.Ext(job.Path))

	matches, err := filepath.Glob(base + "*")
	if err != nil {
		job.logger.Err(err).Msg("unable to list output files")
		return
	}

	removed := 0
	for _, match := range matches {
		if strings.HasSuffix(match, lockFileSuffix) {
			continue
		}

		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			job.logger.Err(err).Str("file", match).Msg("unable to remove output file")
			continue
		}
		removed++
	}

	job.logger.Debug().Int("files", removed).Msg("output files removed")
}

// idle reports whether job should be stopped. Jobs whose encoder exited
// before the output became playable cannot serve anybody and are stopped
// as soon as they have no viewers.
func (r *Registry) idle(job *Job, now time.Time) bool {
	if job.ActiveRequests() > 0 {
		return false
	}

	ready := job.IsReady()
	if !ready && job.HasExited() {
		return true
	}

	timeout := r.config.InactiveIdleTimeout
	if ready {
		timeout = r.config.ActiveIdleTimeout
	}

	return now.Sub(job.LastActivity()) > timeout
}

// Cleanup stops jobs without viewers whose idle time exceeded their timeout.
func (r *Registry) Cleanup() {
	now := time.Now()

	var stale []*Job
	for _, job := range r.Jobs() {
		stop := r.idle(job, now)

		r.logger.Debug().
			Str("job", job.ID).
			Dur("diff", now.Sub(job.LastActivity())).
			Bool("ready", job.IsReady()).
			Bool("stop", stop).
			Msg("performing cleanup")

		if stop {
			stale = append(stale, job)
		}
	}

	for _, job := range stale {
		r.stopJob(job)
	}
}

func (r *Registry) stopJob(job *Job) {
	// do not race with a requester starting a new job for the same path
	unlock, err := r.locks.Lock(context.Background(), job.Path)
	if err != nil {
		job.logger.Err(err).Msg("unable to lock output path")
		return
	}
	defer unlock()

	// a viewer may have joined while waiting for the lock
	if !r.idle(job, time.Now()) || !r.remove(job) {
		return
	}

	job.logger.Info().
		Int("pid", job.Pid()).
		Dur("position", job.Position()).
		Msg("stopping idle job")

	r.kill(job)
	r.removeFiles(job)
}

// PurgeOutputDir removes everything from the transcode directory.
func (r *Registry) PurgeOutputDir() error {
	if r.config.TranscodeDir == "" {
		return nil
	}

	entries, err := os.ReadDir(r.config.TranscodeDir)
	if os.IsNotExist(err) {
		return os.MkdirAll(r.config.TranscodeDir, 0755)
	}
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(r.config.TranscodeDir, entry.Name())); err != nil {
			return err
		}
	}

	r.logger.Info().Str("dir", r.config.TranscodeDir).Int("entries", len(entries)).Msg("transcode dir purged")
	return nil
}

// Shutdown stops all jobs and removes their files.
func (r *Registry) Shutdown() error {
	r.shutdownOnce.Do(func() {
		close(r.shutdown)
	})

	for _, job := range r.Jobs() {
		if !r.remove(job) {
			continue
		}

		r.kill(job)
		r.removeFiles(job)
	}

	return nil
}

func (r *Registry) OnStart(event func(job *Job)) {
	r.events.onStart = event
}

func (r *Registry) OnStop(event func(job *Job, err error)) {
	r.events.onStop = event
}
