package hlslive

import (
	"context"

	"github.com/m1k1o/go-livestream/pkg/hlslive"
	"github.com/m1k1o/go-livestream/pkg/streamstate"
)

type Config struct {
	// directory holding manifests and segments
	TranscodeDir string
	PlaylistName string
}

func (c Config) withDefaultValues() Config {
	if c.PlaylistName == "" {
		c.PlaylistName = "live.m3u8"
	}
	return c
}

type StateResolver interface {
	Resolve(ctx context.Context, req *streamstate.VideoRequest) (*streamstate.StreamState, error)
}

type OutputController interface {
	EnsureLiveOutput(ctx context.Context, state *streamstate.StreamState) (*hlslive.Admission, error)
}

type ActivityTracker interface {
	PingRequest(path string) bool
}
