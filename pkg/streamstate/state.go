package streamstate

import (
	"sync"
	"sync/atomic"
)

type SubtitleDeliveryMethod string

const (
	SubtitleEncode   SubtitleDeliveryMethod = "Encode"   // burn into video
	SubtitleEmbed    SubtitleDeliveryMethod = "Embed"    // copy into the output container
	SubtitleExternal SubtitleDeliveryMethod = "External" // served as a separate file
	SubtitleHls      SubtitleDeliveryMethod = "Hls"      // separate hls rendition
	SubtitleDrop     SubtitleDeliveryMethod = "Drop"
)

const CopyCodec = "copy"

// MediaStream describes one elementary stream of the input as reported by ffprobe.
type MediaStream struct {
	Index     int    `json:"index"`
	TypeIndex int    `json:"type_index"` // position among streams of the same type
	Type      string `json:"type"`       // video, audio or subtitle
	Codec     string `json:"codec"`
	Profile   string `json:"profile,omitempty"`
	Level     int    `json:"level,omitempty"`
	Language  string `json:"language,omitempty"`
	IsDefault bool   `json:"default,omitempty"`

	// video
	Width        int     `json:"width,omitempty"`
	Height       int     `json:"height,omitempty"`
	FrameRate    float64 `json:"frame_rate,omitempty"`
	BitDepth     int     `json:"bit_depth,omitempty"`
	IsAVC        bool    `json:"is_avc,omitempty"`
	IsInterlaced bool    `json:"interlaced,omitempty"`

	// NalLengthSize is empty when the container does not report it.
	NalLengthSize string `json:"nal_length_size,omitempty"`

	// audio
	Channels   int `json:"channels,omitempty"`
	SampleRate int `json:"sample_rate,omitempty"`

	BitRate int `json:"bit_rate,omitempty"`

	// subtitle
	IsTextSubtitle bool `json:"text_subtitle,omitempty"`
}

// StreamState is the negotiated result of a single live stream request.
// Fields are not modified after the resolver returns it.
type StreamState struct {
	Request   *VideoRequest
	ItemID    string
	MediaPath string
	IsRemote  bool // media path is an url

	OutputFilePath   string
	SegmentContainer string
	SegmentLength    int
	MinSegments      int

	IsOutputVideo      bool
	OutputVideoCodec   string
	OutputVideoBitrate int
	OutputWidth        int
	OutputHeight       int
	OutputMaxWidth     int
	OutputMaxHeight    int
	OutputFramerate    float64
	OutputVideoProfile string
	OutputVideoLevel   string
	OutputVideoSync    string
	Deinterlace        bool
	GenPtsOutput       bool

	OutputAudioCodec      string
	OutputAudioChannels   int
	OutputAudioBitrate    int
	OutputAudioSampleRate int

	VideoStream            *MediaStream
	AudioStream            *MediaStream
	SubtitleStream         *MediaStream
	SubtitleDeliveryMethod SubtitleDeliveryMethod

	StartTimeTicks             int64
	CpuCoreLimit               int
	ReadInputAtNativeFramerate bool

	disposeOnce sync.Once
	disposed    atomic.Bool
	releasersMu sync.Mutex
	releasers   []func()
}

// OnDispose registers fn to run when the state is disposed.
func (s *StreamState) OnDispose(fn func()) {
	s.releasersMu.Lock()
	defer s.releasersMu.Unlock()

	s.releasers = append(s.releasers, fn)
}

// Dispose releases resources held by the state. Only the first call has an effect.
func (s *StreamState) Dispose() {
	s.disposeOnce.Do(func() {
		s.releasersMu.Lock()
		releasers := s.releasers
		s.releasers = nil
		s.releasersMu.Unlock()

		// release in reverse order of acquisition
		for i := len(releasers) - 1; i >= 0; i-- {
			releasers[i]()
		}

		s.disposed.Store(true)
	})
}

func (s *StreamState) IsDisposed() bool {
	return s.disposed.Load()
}

func (s *StreamState) IsVideoCopy() bool {
	return s.OutputVideoCodec == CopyCodec
}

func (s *StreamState) IsAudioCopy() bool {
	return s.OutputAudioCodec == CopyCodec
}
