package streamstate

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	defaultVideoCodec = "h264"
	defaultAudioCodec = "aac"
)

type Config struct {
	TranscodeDir  string
	SegmentLength int
	MinSegments   int
}

func (c Config) withDefaultValues() Config {
	if c.SegmentLength <= 0 {
		c.SegmentLength = 6
	}
	if c.MinSegments <= 0 {
		c.MinSegments = 1
	}
	return c
}

type Resolver struct {
	logger  zerolog.Logger
	config  Config
	library Library
	prober  Prober
	cache   ProbeCache
	probes  singleflight.Group

	inputsMu sync.Mutex
	inputs   map[string]int
}

// NewResolver creates a resolver; cache may be nil.
func NewResolver(config Config, library Library, prober Prober, cache ProbeCache) *Resolver {
	return &Resolver{
		logger:  log.With().Str("module", "streamstate").Str("submodule", "resolver").Logger(),
		config:  config.withDefaultValues(),
		library: library,
		prober:  prober,
		cache:   cache,
		inputs:  map[string]int{},
	}
}

// OpenInputs returns number of states that were resolved and not yet disposed.
func (r *Resolver) OpenInputs() int {
	r.inputsMu.Lock()
	defer r.inputsMu.Unlock()

	total := 0
	for _, n := range r.inputs {
		total += n
	}
	return total
}

func (r *Resolver) openInput(path string) func() {
	r.inputsMu.Lock()
	r.inputs[path]++
	r.inputsMu.Unlock()

	return func() {
		r.inputsMu.Lock()
		defer r.inputsMu.Unlock()

		r.inputs[path]--
		if r.inputs[path] <= 0 {
			delete(r.inputs, path)
		}
	}
}

func (r *Resolver) probe(ctx context.Context, mediaPath string) (*ProbeMediaData, error) {
	v, err, shared := r.probes.Do(mediaPath, func() (interface{}, error) {
		if r.cache != nil {
			data, err := r.cache.Get(ctx, mediaPath)
			if err == nil {
				probe := &ProbeMediaData{}
				if err := json.Unmarshal(data, probe); err == nil {
					return probe, nil
				}
				r.logger.Warn().Str("path", mediaPath).Msg("ignoring corrupted probe cache entry")
			} else if !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn().Err(err).Str("path", mediaPath).Msg("probe cache lookup failed")
			}
		}

		probe, err := r.prober.Probe(ctx, mediaPath)
		if err != nil {
			return nil, err
		}

		if r.cache != nil {
			data, err := json.Marshal(probe)
			if err == nil {
				err = r.cache.Set(ctx, mediaPath, data)
			}
			if err != nil {
				r.logger.Warn().Err(err).Str("path", mediaPath).Msg("unable to store probe cache entry")
			}
		}

		return probe, nil
	})

	if err != nil {
		return nil, err
	}

	if shared {
		r.logger.Debug().Str("path", mediaPath).Msg("probe result shared")
	}

	return v.(*ProbeMediaData), nil
}

// OutputFilePath returns the manifest path for given request identity.
func (r *Resolver) OutputFilePath(mediaPath string, req *VideoRequest) (string, error) {
	dir := r.config.TranscodeDir
	if dir == "" || !filepath.IsAbs(dir) {
		return "", fmt.Errorf("%w: transcode dir %q is not absolute", ErrInvalidOutputPath, dir)
	}

	if fi, err := os.Stat(dir); err == nil && !fi.IsDir() {
		return "", fmt.Errorf("%w: %q is not a directory", ErrInvalidOutputPath, dir)
	}

	identity := fmt.Sprintf("%s-%s-%s-%s", mediaPath, req.UserAgent, req.DeviceID, req.PlaySessionID)
	h := sha1.Sum([]byte(identity))

	return filepath.Join(filepath.Clean(dir), hex.EncodeToString(h[:])+".m3u8"), nil
}

func (r *Resolver) Resolve(ctx context.Context, req *VideoRequest) (*StreamState, error) {
	mediaPath, err := r.library.MediaPath(req.ItemID)
	if err != nil {
		return nil, err
	}

	isRemote := strings.HasPrefix(mediaPath, "http://") || strings.HasPrefix(mediaPath, "https://")
	if !isRemote {
		if _, err := os.Stat(mediaPath); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrItemNotFound, err)
		}
	}

	outputPath, err := r.OutputFilePath(mediaPath, req)
	if err != nil {
		return nil, err
	}

	probe, err := r.probe(ctx, mediaPath)
	if err != nil {
		return nil, fmt.Errorf("unable to probe media: %w", err)
	}

	state := &StreamState{
		Request:          req,
		ItemID:           req.ItemID,
		MediaPath:        mediaPath,
		IsRemote:         isRemote,
		OutputFilePath:   outputPath,
		SegmentContainer: req.SegmentContainer,
		SegmentLength:    r.config.SegmentLength,
		MinSegments:      r.config.MinSegments,

		StartTimeTicks:             req.StartTimeTicks,
		CpuCoreLimit:               req.CpuCoreLimit,
		ReadInputAtNativeFramerate: isRemote,
	}

	if req.SegmentLength > 0 {
		state.SegmentLength = req.SegmentLength
	}
	if req.MinSegments > 0 {
		state.MinSegments = req.MinSegments
	}

	if err := selectStreams(state, probe, req); err != nil {
		return nil, err
	}

	negotiateSubtitles(state, req)
	negotiateVideo(state, req)
	negotiateAudio(state, req)

	state.OnDispose(r.openInput(mediaPath))

	r.logger.Debug().
		Str("item", req.ItemID).
		Str("output", outputPath).
		Str("video", state.OutputVideoCodec).
		Str("audio", state.OutputAudioCodec).
		Msg("stream state resolved")

	return state, nil
}

func selectStreams(state *StreamState, probe *ProbeMediaData, req *VideoRequest) error {
	if req.VideoStreamIndex != nil {
		state.VideoStream = probe.Stream(*req.VideoStreamIndex, "video")
		if state.VideoStream == nil {
			return fmt.Errorf("%w: video stream %d not found", ErrInvalidRequest, *req.VideoStreamIndex)
		}
	} else {
		state.VideoStream = probe.DefaultStream("video")
	}

	if req.AudioStreamIndex != nil {
		state.AudioStream = probe.Stream(*req.AudioStreamIndex, "audio")
		if state.AudioStream == nil {
			return fmt.Errorf("%w: audio stream %d not found", ErrInvalidRequest, *req.AudioStreamIndex)
		}
	} else {
		state.AudioStream = probe.DefaultStream("audio")
	}

	if req.SubtitleStreamIndex != nil {
		state.SubtitleStream = probe.Stream(*req.SubtitleStreamIndex, "subtitle")
		if state.SubtitleStream == nil {
			return fmt.Errorf("%w: subtitle stream %d not found", ErrInvalidRequest, *req.SubtitleStreamIndex)
		}
	}

	return nil
}

func negotiateSubtitles(state *StreamState, req *VideoRequest) {
	if state.SubtitleStream == nil {
		return
	}

	state.SubtitleDeliveryMethod = req.SubtitleMethod
	if state.SubtitleDeliveryMethod == "" {
		state.SubtitleDeliveryMethod = SubtitleEncode
	}

	if state.SubtitleDeliveryMethod == SubtitleDrop {
		state.SubtitleStream = nil
	}
}

func splitCodecs(value, fallback string) []string {
	var codecs []string
	for _, c := range strings.Split(value, ",") {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			codecs = append(codecs, c)
		}
	}
	if len(codecs) == 0 {
		codecs = []string{fallback}
	}
	return codecs
}

func containsCodec(codecs []string, codec string) bool {
	codec = strings.ToLower(codec)
	for _, c := range codecs {
		if c == codec || (c == "h265" && codec == "hevc") || (c == "hevc" && codec == "h265") {
			return true
		}
	}
	return false
}

func canStreamCopyVideo(state *StreamState, req *VideoRequest, codecs []string) bool {
	vs := state.VideoStream
	if vs == nil || !req.EnableAutoStreamCopy || !req.AllowVideoStreamCopy {
		return false
	}

	if !containsCodec(codecs, vs.Codec) {
		return false
	}

	// burn-in requires decoding
	if state.SubtitleStream != nil && state.SubtitleDeliveryMethod == SubtitleEncode {
		return false
	}

	if req.RequireAvc && strings.EqualFold(vs.Codec, "h264") && !vs.IsAVC {
		return false
	}

	if req.DeInterlace && vs.IsInterlaced {
		return false
	}

	if req.Width > 0 && vs.Width != req.Width {
		return false
	}
	if req.Height > 0 && vs.Height != req.Height {
		return false
	}
	if req.MaxWidth > 0 && vs.Width > req.MaxWidth {
		return false
	}
	if req.MaxHeight > 0 && vs.Height > req.MaxHeight {
		return false
	}

	if req.VideoBitRate > 0 && vs.BitRate > req.VideoBitRate {
		return false
	}
	if req.MaxVideoBitDepth > 0 && vs.BitDepth > req.MaxVideoBitDepth {
		return false
	}
	if req.MaxFramerate > 0 && vs.FrameRate > req.MaxFramerate {
		return false
	}

	if req.Profile != "" && vs.Profile != "" {
		match := false
		for _, p := range strings.Split(req.Profile, ",") {
			if strings.EqualFold(strings.TrimSpace(p), vs.Profile) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	return true
}

func negotiateVideo(state *StreamState, req *VideoRequest) {
	if state.VideoStream == nil {
		return
	}

	state.IsOutputVideo = true

	codecs := splitCodecs(req.VideoCodec, defaultVideoCodec)
	if canStreamCopyVideo(state, req, codecs) {
		state.OutputVideoCodec = CopyCodec
		state.GenPtsOutput = !req.CopyTimestamps
	} else {
		state.OutputVideoCodec = codecs[0]
		state.OutputVideoBitrate = req.VideoBitRate
		state.OutputWidth = req.Width
		state.OutputHeight = req.Height
		state.OutputMaxWidth = req.MaxWidth
		state.OutputMaxHeight = req.MaxHeight
		state.Deinterlace = req.DeInterlace && state.VideoStream.IsInterlaced

		state.OutputFramerate = req.Framerate
		if state.OutputFramerate == 0 && req.MaxFramerate > 0 && state.VideoStream.FrameRate > req.MaxFramerate {
			state.OutputFramerate = req.MaxFramerate
		}

		if req.Profile != "" {
			state.OutputVideoProfile = strings.TrimSpace(strings.Split(req.Profile, ",")[0])
		}
		state.OutputVideoLevel = req.Level
	}

	if !req.CopyTimestamps {
		state.OutputVideoSync = "-1"
	}
}

func canStreamCopyAudio(state *StreamState, req *VideoRequest, codecs []string) bool {
	as := state.AudioStream
	if as == nil || !req.EnableAutoStreamCopy || !req.AllowAudioStreamCopy {
		return false
	}

	if !containsCodec(codecs, as.Codec) {
		return false
	}

	if req.AudioBitRate > 0 && as.BitRate > req.AudioBitRate {
		return false
	}
	if req.AudioChannels > 0 && as.Channels != req.AudioChannels {
		return false
	}
	if maxChannels := maxAudioChannels(req); maxChannels > 0 && as.Channels > maxChannels {
		return false
	}
	if req.AudioSampleRate > 0 && as.SampleRate != req.AudioSampleRate {
		return false
	}

	return true
}

func maxAudioChannels(req *VideoRequest) int {
	limit := req.MaxAudioChannels
	if req.TranscodingMaxAudioChannels > 0 && (limit == 0 || req.TranscodingMaxAudioChannels < limit) {
		limit = req.TranscodingMaxAudioChannels
	}
	return limit
}

func negotiateAudio(state *StreamState, req *VideoRequest) {
	if state.AudioStream == nil {
		return
	}

	codecs := splitCodecs(req.AudioCodec, defaultAudioCodec)
	if canStreamCopyAudio(state, req, codecs) {
		state.OutputAudioCodec = CopyCodec
		return
	}

	state.OutputAudioCodec = codecs[0]

	channels := req.AudioChannels
	if channels == 0 {
		channels = state.AudioStream.Channels
	}
	if limit := maxAudioChannels(req); limit > 0 && (channels == 0 || channels > limit) {
		channels = limit
	}
	state.OutputAudioChannels = channels

	bitrate := req.AudioBitRate
	if bitrate == 0 && channels > 0 {
		// 128k per stereo pair
		pairs := (channels + 1) / 2
		bitrate = 128000 * pairs
	}
	state.OutputAudioBitrate = bitrate

	state.OutputAudioSampleRate = req.AudioSampleRate
}
