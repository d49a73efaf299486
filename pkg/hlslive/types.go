package hlslive

import (
	"context"
	"errors"

	"github.com/m1k1o/go-livestream/pkg/transcoding"
)

var (
	ErrSegmentTimeout = errors.New("timed out waiting for segments")
	ErrEncoderExited  = errors.New("encoder exited before output became playable")
)

// JobRegistry is the part of the transcoding registry the controller uses.
type JobRegistry interface {
	Lock(ctx context.Context, path string) (unlock func(), err error)
	Start(ctx context.Context, req transcoding.StartRequest) (*transcoding.Job, error)
	Lookup(path string) *transcoding.Job
	OnBeginRequest(path string) *transcoding.Job
	OnEndRequest(job *transcoding.Job)
	// Discard unregisters a job and removes its output, under the path lock.
	Discard(job *transcoding.Job)
}

type SegmentGate interface {
	WaitForMinimumSegmentCount(ctx context.Context, playlist string, minSegments int) error
}

type Ownership int

const (
	// OwnedByCaller means the caller still has to dispose the stream state.
	OwnedByCaller Ownership = iota
	// Released means the stream state has already been disposed.
	Released
)

func (o Ownership) String() string {
	switch o {
	case OwnedByCaller:
		return "owned-by-caller"
	case Released:
		return "released"
	}
	return "unknown"
}

// Admission is the outcome of EnsureLiveOutput.
type Admission struct {
	Ownership Ownership
	// Started is true if this call spawned the encoder.
	Started bool
	// Job producing the output, nil if none is registered.
	Job *transcoding.Job
}
