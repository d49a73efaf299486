package encoding

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/m1k1o/go-livestream/pkg/streamstate"
)

// Arg is a single command line token. Quoted tokens are rendered in double
// quotes by String but passed unchanged by Args.
type Arg struct {
	Value  string
	Quoted bool
}

// CommandLine is an ordered list of encoder arguments.
type CommandLine []Arg

func raw(values ...string) CommandLine {
	cmd := make(CommandLine, 0, len(values))
	for _, v := range values {
		cmd = append(cmd, Arg{Value: v})
	}
	return cmd
}

func quoted(value string) Arg {
	return Arg{Value: value, Quoted: true}
}

// Args returns argv suitable for exec.Command.
func (c CommandLine) Args() []string {
	args := make([]string, 0, len(c))
	for _, a := range c {
		args = append(args, a.Value)
	}
	return args
}

func (c CommandLine) String() string {
	parts := make([]string, 0, len(c))
	for _, a := range c {
		if a.Quoted {
			parts = append(parts, `"`+strings.ReplaceAll(a.Value, `"`, `\"`)+`"`)
		} else {
			parts = append(parts, a.Value)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// SegmentExtension returns file extension of segments including the dot.
func SegmentExtension(state *streamstate.StreamState) string {
	if state.SegmentContainer != "" {
		return "." + state.SegmentContainer
	}
	return ".ts"
}

// SegmentFormat returns value of the segmenter -segment_format flag.
func SegmentFormat(state *streamstate.StreamState) string {
	format := strings.TrimPrefix(SegmentExtension(state), ".")
	if strings.EqualFold(format, "ts") {
		return "mpegts"
	}
	return format
}

// SegmentPattern returns the segment file name template with a serial placeholder.
func SegmentPattern(state *streamstate.StreamState) string {
	dir := filepath.Dir(state.OutputFilePath)
	return filepath.Join(dir, baseName(state)) + "%d" + SegmentExtension(state)
}

// SegmentBaseURL is prefixed to every manifest entry.
func SegmentBaseURL(state *streamstate.StreamState) string {
	return "hls/" + baseName(state) + "/"
}

func baseName(state *streamstate.StreamState) string {
	name := filepath.Base(state.OutputFilePath)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Build returns the segmenting encoder command line for given state.
func Build(state *streamstate.StreamState, opts Options) CommandLine {
	opts = opts.withDefaultValues()

	videoCodec := VideoEncoder(state, opts)
	threads := Threads(state, opts, videoCodec)

	cmd := CommandLine{}
	cmd = append(cmd, InputModifier(state, opts)...)
	cmd = append(cmd, InputArgument(state)...)
	cmd = append(cmd, raw(
		"-map_metadata", "-1",
		"-map_chapters", "-1",
		"-threads", strconv.Itoa(threads),
	)...)
	cmd = append(cmd, MapArgs(state)...)
	cmd = append(cmd, VideoArgs(state, opts)...)
	cmd = append(cmd, AudioArgs(state, opts)...)
	cmd = append(cmd, raw(
		"-f", "segment",
		"-max_delay", "5000000",
		"-avoid_negative_ts", "disabled",
		"-start_at_zero",
		"-segment_time", strconv.Itoa(state.SegmentLength),
	)...)
	cmd = append(cmd, raw(
		"-individual_header_trailer", "0",
		"-segment_format", SegmentFormat(state),
		"-segment_list_entry_prefix",
	)...)
	cmd = append(cmd, quoted(SegmentBaseURL(state)))
	cmd = append(cmd, raw(
		"-segment_list_type", "m3u8",
		"-segment_start_number", "0",
		"-segment_list",
	)...)
	cmd = append(cmd, quoted(state.OutputFilePath))
	cmd = append(cmd, raw("-y")...)
	cmd = append(cmd, quoted(SegmentPattern(state)))

	return cmd
}

// BuildCommandLine renders Build as a single string.
func BuildCommandLine(state *streamstate.StreamState, opts Options) string {
	return Build(state, opts).String()
}

// VideoArgs returns video output arguments, empty when the output has no video.
func VideoArgs(state *streamstate.StreamState, opts Options) CommandLine {
	if !state.IsOutputVideo {
		return nil
	}

	opts = opts.withDefaultValues()
	codec := VideoEncoder(state, opts)

	args := raw("-codec:v:0", codec)

	if IsCopyCodec(codec) {
		if vs := state.VideoStream; vs != nil && hasNalLengthSize(vs) {
			args = append(args, BitStreamArgs(vs)...)
		}
	} else {
		args = append(args, VideoQualityParam(state, codec, opts)...)
		args = append(args, raw("-force_key_frames")...)
		args = append(args, quoted("expr:gte(t,n_forced*"+strconv.Itoa(state.SegmentLength)+")"))

		if hasGraphicalSubtitleBurnIn(state) {
			args = append(args, GraphicalSubtitleParam(state)...)
		} else {
			args = append(args, OutputSizeParam(state)...)
		}
	}

	args = append(args, raw("-flags", "-global_header")...)

	if state.OutputVideoSync != "" {
		args = append(args, raw("-vsync", state.OutputVideoSync)...)
	}

	args = append(args, OutputFFlags(state)...)
	return args
}

// AudioArgs returns audio output arguments.
func AudioArgs(state *streamstate.StreamState, opts Options) CommandLine {
	codec := AudioEncoder(state)
	if codec == "" {
		return nil
	}

	if IsCopyCodec(codec) {
		return raw("-codec:a:0", "copy")
	}

	opts = opts.withDefaultValues()
	args := raw("-codec:a:0", codec)

	if state.OutputAudioChannels > 0 {
		args = append(args, raw("-ac", strconv.Itoa(state.OutputAudioChannels))...)
	}
	if state.OutputAudioBitrate > 0 {
		args = append(args, raw("-ab", strconv.Itoa(state.OutputAudioBitrate))...)
	}
	if state.OutputAudioSampleRate > 0 {
		args = append(args, raw("-ar", strconv.Itoa(state.OutputAudioSampleRate))...)
	}

	args = append(args, AudioFilterParam(state, opts)...)
	return args
}

// hasNalLengthSize reports a present and non-zero marker.
func hasNalLengthSize(vs *streamstate.MediaStream) bool {
	value := strings.TrimSpace(vs.NalLengthSize)
	if value == "" {
		return false
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n != 0
	}
	return true
}

func hasGraphicalSubtitleBurnIn(state *streamstate.StreamState) bool {
	return state.SubtitleStream != nil &&
		!state.SubtitleStream.IsTextSubtitle &&
		state.SubtitleDeliveryMethod == streamstate.SubtitleEncode
}

func hasTextSubtitleBurnIn(state *streamstate.StreamState) bool {
	return state.SubtitleStream != nil &&
		state.SubtitleStream.IsTextSubtitle &&
		state.SubtitleDeliveryMethod == streamstate.SubtitleEncode
}
