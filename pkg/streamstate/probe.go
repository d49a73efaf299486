package streamstate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ProbeMediaData is the subset of ffprobe output the resolver negotiates with.
type ProbeMediaData struct {
	FormatName []string      `json:"format_name"`
	Duration   time.Duration `json:"duration"`
	BitRate    int           `json:"bit_rate"`
	Streams    []MediaStream `json:"streams"`
}

// Stream returns the stream with given index and type.
func (d *ProbeMediaData) Stream(index int, streamType string) *MediaStream {
	for i := range d.Streams {
		if d.Streams[i].Index == index && d.Streams[i].Type == streamType {
			return &d.Streams[i]
		}
	}
	return nil
}

// DefaultStream returns the stream flagged as default for given type,
// falling back to the first stream of that type.
func (d *ProbeMediaData) DefaultStream(streamType string) *MediaStream {
	var first *MediaStream
	for i := range d.Streams {
		s := &d.Streams[i]
		if s.Type != streamType {
			continue
		}
		if s.IsDefault {
			return s
		}
		if first == nil {
			first = s
		}
	}
	return first
}

type Prober interface {
	Probe(ctx context.Context, inputPath string) (*ProbeMediaData, error)
}

// FFprobe runs the ffprobe binary with json output.
type FFprobe struct {
	Binary string
}

var textSubtitleCodecs = map[string]struct{}{
	"ass":       {},
	"ssa":       {},
	"subrip":    {},
	"srt":       {},
	"webvtt":    {},
	"mov_text":  {},
	"text":      {},
	"microdvd":  {},
	"subviewer": {},
	"sami":      {},
	"realtext":  {},
	"ttml":      {},
}

func IsTextSubtitleCodec(codec string) bool {
	_, ok := textSubtitleCodecs[strings.ToLower(codec)]
	return ok
}

func (p FFprobe) Probe(ctx context.Context, inputPath string) (*ProbeMediaData, error) {
	args := []string{
		"-v", "error", // Hide debug information
		"-ignore_chapters", "1",

		"-show_format",
		"-show_streams",

		"-of", "json",
		inputPath,
	}

	cmd := exec.CommandContext(ctx, p.Binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe %q: %w: %s", inputPath, err, strings.TrimSpace(stderr.String()))
	}

	return parseProbeOutput(stdout.Bytes())
}

func parseProbeOutput(data []byte) (*ProbeMediaData, error) {
	out := struct {
		Streams []struct {
			Index          int    `json:"index"`
			CodecName      string `json:"codec_name"`
			CodecType      string `json:"codec_type"`
			Profile        string `json:"profile"`
			Level          int    `json:"level"`
			Width          int    `json:"width"`
			Height         int    `json:"height"`
			RFrameRate     string `json:"r_frame_rate"`
			BitsPerRawSamp string `json:"bits_per_raw_sample"`
			FieldOrder     string `json:"field_order"`
			IsAVC          string `json:"is_avc"`
			NalLengthSize  string `json:"nal_length_size"`
			Channels       int    `json:"channels"`
			SampleRate     string `json:"sample_rate"`
			BitRate        string `json:"bit_rate"`
			Disposition    struct {
				Default int `json:"default"`
			} `json:"disposition"`
			Tags struct {
				Language string `json:"language"`
			} `json:"tags"`
		} `json:"streams"`
		Format struct {
			FormatName string `json:"format_name"`
			Duration   string `json:"duration"`
			BitRate    string `json:"bit_rate"`
		} `json:"format"`
	}{}

	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unable to parse ffprobe output: %w", err)
	}

	probe := &ProbeMediaData{
		BitRate: atoi(out.Format.BitRate),
	}

	if out.Format.FormatName != "" {
		probe.FormatName = strings.Split(out.Format.FormatName, ",")
	}

	if out.Format.Duration != "" {
		duration, err := time.ParseDuration(out.Format.Duration + "s")
		if err != nil {
			return nil, err
		}
		probe.Duration = duration
	}

	typeIndex := map[string]int{}
	for _, s := range out.Streams {
		stream := MediaStream{
			Index:         s.Index,
			TypeIndex:     typeIndex[s.CodecType],
			Type:          s.CodecType,
			Codec:         s.CodecName,
			Profile:       s.Profile,
			Level:         s.Level,
			Language:      s.Tags.Language,
			IsDefault:     s.Disposition.Default == 1,
			Width:         s.Width,
			Height:        s.Height,
			FrameRate:     parseFrameRate(s.RFrameRate),
			BitDepth:      atoi(s.BitsPerRawSamp),
			IsAVC:         s.IsAVC == "true" || s.IsAVC == "1",
			IsInterlaced:  s.FieldOrder != "" && s.FieldOrder != "progressive" && s.FieldOrder != "unknown",
			NalLengthSize: s.NalLengthSize,
			Channels:      s.Channels,
			SampleRate:    atoi(s.SampleRate),
			BitRate:       atoi(s.BitRate),
		}

		if stream.Type == "subtitle" {
			stream.IsTextSubtitle = IsTextSubtitleCodec(stream.Codec)
		}

		typeIndex[s.CodecType]++
		probe.Streams = append(probe.Streams, stream)
	}

	return probe, nil
}

func atoi(value string) int {
	i, _ := strconv.Atoi(value)
	return i
}

// parseFrameRate reads ffprobe rational notation, e.g. 30000/1001.
func parseFrameRate(value string) float64 {
	num, den, found := strings.Cut(value, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
