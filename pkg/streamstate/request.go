package streamstate

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// VideoRequest holds the query parameters of a live stream request.
// Zero values mean "not requested" unless stated otherwise.
type VideoRequest struct {
	ItemID    string
	UserAgent string

	Container                 string
	Static                    bool
	Params                    string
	Tag                       string
	DeviceProfileID           string
	PlaySessionID             string
	SegmentContainer          string
	SegmentLength             int
	MinSegments               int
	MediaSourceID             string
	DeviceID                  string
	LiveStreamID              string
	Context                   string
	TranscodingReasons        string
	EnableMpegtsM2TsMode      bool
	EnableSubtitlesInManifest bool

	EnableAutoStreamCopy bool
	AllowVideoStreamCopy bool
	AllowAudioStreamCopy bool
	BreakOnNonKeyFrames  bool
	CopyTimestamps       bool
	StartTimeTicks       int64
	CpuCoreLimit         int

	VideoCodec           string
	VideoStreamIndex     *int
	VideoBitRate         int
	Width                int
	Height               int
	MaxWidth             int
	MaxHeight            int
	Framerate            float64
	MaxFramerate         float64
	Profile              string
	Level                string
	MaxRefFrames         int
	MaxVideoBitDepth     int
	RequireAvc           bool
	DeInterlace          bool
	RequireNonAnamorphic bool

	AudioCodec                  string
	AudioStreamIndex            *int
	AudioSampleRate             int
	AudioBitRate                int
	AudioChannels               int
	MaxAudioChannels            int
	MaxAudioBitDepth            int
	TranscodingMaxAudioChannels int

	SubtitleCodec       string
	SubtitleStreamIndex *int
	SubtitleMethod      SubtitleDeliveryMethod

	// StreamOptions collects query keys that are not recognized.
	StreamOptions map[string]string
}

// NewVideoRequest returns a request with the defaults of an empty query string.
func NewVideoRequest(itemID string) *VideoRequest {
	return &VideoRequest{
		ItemID:                    itemID,
		Static:                    true,
		EnableAutoStreamCopy:      true,
		AllowVideoStreamCopy:      true,
		AllowAudioStreamCopy:      true,
		CopyTimestamps:            true,
		RequireAvc:                true,
		DeInterlace:               true,
		RequireNonAnamorphic:      true,
		EnableMpegtsM2TsMode:      true,
		EnableSubtitlesInManifest: true,
		StreamOptions:             map[string]string{},
	}
}

type queryParser struct {
	values map[string]string
	used   map[string]struct{}
	errs   []string
}

func (p *queryParser) lookup(key string) (string, bool) {
	key = strings.ToLower(key)
	p.used[key] = struct{}{}
	value, ok := p.values[key]
	return value, ok && value != ""
}

func (p *queryParser) str(key string, dst *string) {
	if value, ok := p.lookup(key); ok {
		*dst = value
	}
}

func (p *queryParser) int(key string, dst *int) {
	value, ok := p.lookup(key)
	if !ok {
		return
	}

	i, err := strconv.Atoi(value)
	if err != nil || i < 0 {
		p.errs = append(p.errs, key)
		return
	}

	*dst = i
}

func (p *queryParser) optInt(key string, dst **int) {
	value, ok := p.lookup(key)
	if !ok {
		return
	}

	i, err := strconv.Atoi(value)
	if err != nil || i < 0 {
		p.errs = append(p.errs, key)
		return
	}

	*dst = &i
}

func (p *queryParser) int64(key string, dst *int64) {
	value, ok := p.lookup(key)
	if !ok {
		return
	}

	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil || i < 0 {
		p.errs = append(p.errs, key)
		return
	}

	*dst = i
}

func (p *queryParser) float(key string, dst *float64) {
	value, ok := p.lookup(key)
	if !ok {
		return
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f < 0 {
		p.errs = append(p.errs, key)
		return
	}

	*dst = f
}

func (p *queryParser) bool(key string, dst *bool) {
	value, ok := p.lookup(key)
	if !ok {
		return
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		p.errs = append(p.errs, key)
		return
	}

	*dst = b
}

// ParseVideoRequest reads the live stream query surface. Keys are matched
// case-insensitively; unknown keys end up in StreamOptions.
func ParseVideoRequest(itemID string, query url.Values) (*VideoRequest, error) {
	req := NewVideoRequest(itemID)

	p := &queryParser{
		values: map[string]string{},
		used:   map[string]struct{}{},
	}

	for key, values := range query {
		if len(values) > 0 {
			p.values[strings.ToLower(key)] = values[0]
		}
	}

	p.str("container", &req.Container)
	p.bool("static", &req.Static)
	p.str("params", &req.Params)
	p.str("tag", &req.Tag)
	p.str("deviceProfileId", &req.DeviceProfileID)
	p.str("playSessionId", &req.PlaySessionID)
	p.str("segmentContainer", &req.SegmentContainer)
	p.int("segmentLength", &req.SegmentLength)
	p.int("minSegments", &req.MinSegments)
	p.str("mediaSourceId", &req.MediaSourceID)
	p.str("deviceId", &req.DeviceID)
	p.str("liveStreamId", &req.LiveStreamID)
	p.str("context", &req.Context)
	p.str("transcodingReasons", &req.TranscodingReasons)
	p.bool("enableMpegtsM2TsMode", &req.EnableMpegtsM2TsMode)
	p.bool("enableSubtitlesInManifest", &req.EnableSubtitlesInManifest)

	p.bool("enableAutoStreamCopy", &req.EnableAutoStreamCopy)
	p.bool("allowVideoStreamCopy", &req.AllowVideoStreamCopy)
	p.bool("allowAudioStreamCopy", &req.AllowAudioStreamCopy)
	p.bool("breakOnNonKeyFrames", &req.BreakOnNonKeyFrames)
	p.bool("copyTimestamps", &req.CopyTimestamps)
	p.int64("startTimeTicks", &req.StartTimeTicks)
	p.int("cpuCoreLimit", &req.CpuCoreLimit)

	p.str("videoCodec", &req.VideoCodec)
	p.optInt("videoStreamIndex", &req.VideoStreamIndex)
	p.int("videoBitRate", &req.VideoBitRate)
	p.int("width", &req.Width)
	p.int("height", &req.Height)
	p.int("maxWidth", &req.MaxWidth)
	p.int("maxHeight", &req.MaxHeight)
	p.float("framerate", &req.Framerate)
	p.float("maxFramerate", &req.MaxFramerate)
	p.str("profile", &req.Profile)
	p.str("level", &req.Level)
	p.int("maxRefFrames", &req.MaxRefFrames)
	p.int("maxVideoBitDepth", &req.MaxVideoBitDepth)
	p.bool("requireAvc", &req.RequireAvc)
	p.bool("deInterlace", &req.DeInterlace)
	p.bool("requireNonAnamorphic", &req.RequireNonAnamorphic)

	p.str("audioCodec", &req.AudioCodec)
	p.optInt("audioStreamIndex", &req.AudioStreamIndex)
	p.int("audioSampleRate", &req.AudioSampleRate)
	p.int("audioBitRate", &req.AudioBitRate)
	p.int("audioChannels", &req.AudioChannels)
	p.int("maxAudioChannels", &req.MaxAudioChannels)
	p.int("maxAudioBitDepth", &req.MaxAudioBitDepth)
	p.int("transcodingMaxAudioChannels", &req.TranscodingMaxAudioChannels)

	p.str("subtitleCodec", &req.SubtitleCodec)
	p.optInt("subtitleStreamIndex", &req.SubtitleStreamIndex)

	var method string
	p.str("subtitleMethod", &method)
	if method != "" {
		m, ok := parseSubtitleMethod(method)
		if !ok {
			p.errs = append(p.errs, "subtitleMethod")
		}
		req.SubtitleMethod = m
	}

	if req.SegmentContainer != "" {
		container, ok := parseSegmentContainer(req.SegmentContainer)
		if !ok {
			p.errs = append(p.errs, "segmentContainer")
		}
		req.SegmentContainer = container
	}

	if len(p.errs) > 0 {
		return nil, fmt.Errorf("%w: malformed query parameters: %s", ErrInvalidRequest, strings.Join(p.errs, ", "))
	}

	for key, value := range p.values {
		if _, ok := p.used[key]; !ok {
			req.StreamOptions[key] = value
		}
	}

	return req, nil
}

func parseSubtitleMethod(value string) (SubtitleDeliveryMethod, bool) {
	for _, m := range []SubtitleDeliveryMethod{
		SubtitleEncode,
		SubtitleEmbed,
		SubtitleExternal,
		SubtitleHls,
		SubtitleDrop,
	} {
		if strings.EqualFold(string(m), value) {
			return m, true
		}
	}

	return "", false
}

// segment files are named after the container, only known ones are accepted
var segmentContainers = []string{"ts", "mp4"}

func parseSegmentContainer(value string) (string, bool) {
	for _, c := range segmentContainers {
		if strings.EqualFold(c, value) {
			return c, true
		}
	}

	return "", false
}
