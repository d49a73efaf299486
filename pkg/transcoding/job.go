package transcoding

import (
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartRequest describes an encoder job to be spawned for an output path.
type StartRequest struct {
	Path          string
	Args          []string
	ItemID        string
	DeviceID      string
	PlaySessionID string

	// live outputs are never treated as finished when the encoder exits
	IsLiveOutput bool
}

// Job is a running (or exited) encoder process producing one output path.
type Job struct {
	ID            string
	Path          string
	ItemID        string
	DeviceID      string
	PlaySessionID string
	IsLiveOutput  bool
	StartedAt     time.Time

	logger zerolog.Logger
	cmd    *exec.Cmd

	mu             sync.Mutex
	activeRequests int
	lastActivity   time.Time
	ready          bool
	position       time.Duration

	exited  chan struct{}
	exitErr error
}

// NewJob creates a job accounted to the requester that is starting it.
func NewJob(req StartRequest) *Job {
	id := uuid.New().String()
	now := time.Now()

	return &Job{
		ID:            id,
		Path:          normalizePath(req.Path),
		ItemID:        req.ItemID,
		DeviceID:      req.DeviceID,
		PlaySessionID: req.PlaySessionID,
		IsLiveOutput:  req.IsLiveOutput,
		StartedAt:     now,

		logger: log.With().Str("module", "transcoding").Str("submodule", "job").Str("job", id).Logger(),

		activeRequests: 1,
		lastActivity:   now,
		exited:         make(chan struct{}),
	}
}

// BeginRequest records a viewer arrival.
func (j *Job) BeginRequest() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.activeRequests++
	j.lastActivity = time.Now()
}

// EndRequest records a viewer departure.
func (j *Job) EndRequest() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.activeRequests > 0 {
		j.activeRequests--
	}
	j.lastActivity = time.Now()
}

func (j *Job) Ping() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.lastActivity = time.Now()
}

func (j *Job) ActiveRequests() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.activeRequests
}

func (j *Job) LastActivity() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.lastActivity
}

// MarkReady records that the output became playable.
func (j *Job) MarkReady() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.ready = true
}

func (j *Job) IsReady() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.ready
}

// Position returns encoded media time reported by the encoder.
func (j *Job) Position() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.position
}

// Done is closed when the encoder process exits.
func (j *Job) Done() <-chan struct{} {
	return j.exited
}

func (j *Job) HasExited() bool {
	select {
	case <-j.exited:
		return true
	default:
		return false
	}
}

// Err returns the exit error, valid after Done is closed.
func (j *Job) Err() error {
	select {
	case <-j.exited:
		return j.exitErr
	default:
		return nil
	}
}

func (j *Job) Pid() int {
	if j.cmd == nil || j.cmd.Process == nil {
		return 0
	}
	return j.cmd.Process.Pid
}

func (j *Job) markExited(err error) {
	j.exitErr = err
	close(j.exited)
}

var progressTimeRegexp = regexp.MustCompile(`time=(-?\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

func parseProgressTime(line string) (time.Duration, bool) {
	match := progressTimeRegexp.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}

	hours, err := strconv.Atoi(match[1])
	if err != nil || hours < 0 {
		return 0, false
	}
	minutes, _ := strconv.Atoi(match[2])
	seconds, _ := strconv.ParseFloat(match[3], 64)

	total := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return total, true
}

func (j *Job) onCmdLog(message string) {
	if position, ok := parseProgressTime(message); ok {
		j.mu.Lock()
		j.position = position
		j.mu.Unlock()

		j.logger.Debug().Dur("position", position).Msg(message)
		return
	}

	j.logger.Info().Msg(message)
}
