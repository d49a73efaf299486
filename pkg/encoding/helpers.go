package encoding

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/m1k1o/go-livestream/pkg/streamstate"
)

func IsCopyCodec(codec string) bool {
	return strings.EqualFold(codec, streamstate.CopyCodec)
}

// VideoEncoder maps the negotiated video codec to an ffmpeg encoder name.
func VideoEncoder(state *streamstate.StreamState, opts Options) string {
	codec := strings.ToLower(state.OutputVideoCodec)
	switch codec {
	case streamstate.CopyCodec:
		return streamstate.CopyCodec
	case "", "h264", "avc":
		return opts.withDefaultValues().H264Encoder
	case "hevc", "h265":
		return opts.withDefaultValues().HevcEncoder
	case "vp8":
		return "libvpx"
	case "vp9":
		return "libvpx-vp9"
	case "av1":
		return "libsvtav1"
	case "theora":
		return "libtheora"
	}
	return codec
}

// AudioEncoder maps the negotiated audio codec to an ffmpeg encoder name.
func AudioEncoder(state *streamstate.StreamState) string {
	codec := strings.ToLower(state.OutputAudioCodec)
	switch codec {
	case "mp3":
		return "libmp3lame"
	case "opus":
		return "libopus"
	case "vorbis":
		return "libvorbis"
	}
	return codec
}

// Threads returns encoder thread count, 0 lets ffmpeg decide.
func Threads(state *streamstate.StreamState, opts Options, videoCodec string) int {
	if state.CpuCoreLimit > 0 {
		return state.CpuCoreLimit
	}

	// vpx does not scale with automatic thread selection
	if opts.EncodingThreadCount <= 0 && strings.HasPrefix(videoCodec, "libvpx") {
		return 4
	}

	if opts.EncodingThreadCount > 0 {
		return opts.EncodingThreadCount
	}

	return 0
}

// InputModifier returns arguments placed before the input.
func InputModifier(state *streamstate.StreamState, opts Options) CommandLine {
	args := CommandLine{}

	if opts.HardwareAcceleration != "" && state.IsOutputVideo && !state.IsVideoCopy() {
		args = append(args, raw("-hwaccel", opts.HardwareAcceleration)...)
	}

	if opts.AnalyzeDurationMs > 0 {
		args = append(args, raw("-analyzeduration", strconv.Itoa(opts.AnalyzeDurationMs*1000))...)
	}

	if state.ReadInputAtNativeFramerate {
		args = append(args, raw("-re")...)
	}

	if state.StartTimeTicks > 0 {
		// ticks are 100ns units
		seconds := float64(state.StartTimeTicks) / 1e7
		args = append(args, raw("-ss", strconv.FormatFloat(seconds, 'f', 3, 64))...)
	}

	return args
}

func InputArgument(state *streamstate.StreamState) CommandLine {
	input := state.MediaPath
	if !state.IsRemote {
		input = "file:" + input
	}
	return CommandLine{{Value: "-i"}, quoted(input)}
}

func MapArgs(state *streamstate.StreamState) CommandLine {
	if state.VideoStream == nil && state.AudioStream == nil {
		return nil
	}

	args := CommandLine{}

	switch {
	case hasGraphicalSubtitleBurnIn(state):
		args = append(args, raw("-map", "[v]")...)
	case state.VideoStream != nil:
		args = append(args, raw("-map", "0:"+strconv.Itoa(state.VideoStream.Index))...)
	default:
		args = append(args, raw("-map", "-0:v")...)
	}

	if state.AudioStream != nil {
		args = append(args, raw("-map", "0:"+strconv.Itoa(state.AudioStream.Index))...)
	} else {
		args = append(args, raw("-map", "-0:a")...)
	}

	if state.SubtitleStream != nil && state.SubtitleDeliveryMethod == streamstate.SubtitleEmbed {
		args = append(args, raw("-map", "0:"+strconv.Itoa(state.SubtitleStream.Index))...)
	} else {
		args = append(args, raw("-map", "-0:s")...)
	}

	return args
}

func isX26x(codec string) bool {
	return codec == "libx264" || codec == "libx265"
}

// VideoQualityParam returns rate control arguments of given encoder.
func VideoQualityParam(state *streamstate.StreamState, codec string, opts Options) CommandLine {
	opts = opts.withDefaultValues()
	args := CommandLine{}

	switch {
	case isX26x(codec):
		args = append(args, raw("-preset", opts.Preset)...)

		if state.OutputVideoBitrate > 0 {
			bitrate := strconv.Itoa(state.OutputVideoBitrate)
			bufsize := strconv.Itoa(state.OutputVideoBitrate * 2)
			args = append(args, raw("-b:v", bitrate, "-maxrate", bitrate, "-bufsize", bufsize)...)
		} else {
			crf := opts.H264CRF
			if codec == "libx265" {
				crf = opts.H265CRF
			}
			args = append(args, raw("-crf", strconv.Itoa(crf))...)
		}

		if codec == "libx264" {
			profile := strings.ToLower(state.OutputVideoProfile)
			if profile == "" {
				profile = "high"
			}
			args = append(args, raw("-profile:v", profile)...)
		}

		if codec == "libx265" {
			// required by apple players
			args = append(args, raw("-tag:v", "hvc1")...)
		}
	case strings.HasPrefix(codec, "libvpx"):
		args = append(args, raw("-deadline", "realtime", "-cpu-used", "8")...)
		if state.OutputVideoBitrate > 0 {
			args = append(args, raw("-b:v", strconv.Itoa(state.OutputVideoBitrate))...)
		}
	default:
		if state.OutputVideoBitrate > 0 {
			args = append(args, raw("-b:v", strconv.Itoa(state.OutputVideoBitrate))...)
		}
	}

	if state.OutputVideoLevel != "" {
		args = append(args, raw("-level", state.OutputVideoLevel)...)
	}

	if state.OutputFramerate > 0 {
		args = append(args, raw("-r", strconv.FormatFloat(state.OutputFramerate, 'f', -1, 64))...)
	}

	return args
}

// scaleFilter returns scale expression keeping even dimensions and aspect ratio.
func scaleFilter(state *streamstate.StreamState) string {
	w, h := state.OutputWidth, state.OutputHeight
	mw, mh := state.OutputMaxWidth, state.OutputMaxHeight

	switch {
	case w > 0 && h > 0:
		return fmt.Sprintf("scale=trunc(%d/2)*2:trunc(%d/2)*2", w, h)
	case w > 0:
		return fmt.Sprintf("scale=%d:trunc(ow/a/2)*2", w)
	case h > 0:
		return fmt.Sprintf("scale=trunc(oh*a/2)*2:%d", h)
	case mw > 0 && mh > 0:
		return fmt.Sprintf("scale=trunc(min(max(iw\\,ih*a)\\,min(%d\\,%d*a))/2)*2:trunc(min(max(iw/a\\,ih)\\,min(%d/a\\,%d))/2)*2", mw, mh, mw, mh)
	case mw > 0:
		return fmt.Sprintf("scale=trunc(min(max(iw\\,ih*a)\\,%d)/2)*2:trunc(ow/a/2)*2", mw)
	case mh > 0:
		return fmt.Sprintf("scale=trunc(oh*a/2)*2:min(max(iw/a\\,ih)\\,%d)", mh)
	}

	return ""
}

func videoFilters(state *streamstate.StreamState) []string {
	var filters []string

	if state.Deinterlace {
		filters = append(filters, "yadif=0:-1:0")
	}

	if scale := scaleFilter(state); scale != "" {
		filters = append(filters, scale)
	}

	return filters
}

func escapeFilterPath(path string) string {
	r := strings.NewReplacer(`\`, `/`, `:`, `\:`, `'`, `\'`)
	return r.Replace(path)
}

// OutputSizeParam returns the -vf chain, empty when no filtering is needed.
func OutputSizeParam(state *streamstate.StreamState) CommandLine {
	filters := videoFilters(state)

	if hasTextSubtitleBurnIn(state) && !state.IsRemote {
		filters = append(filters, fmt.Sprintf("subtitles=f='%s':si=%d",
			escapeFilterPath(state.MediaPath), state.SubtitleStream.TypeIndex))
	}

	if len(filters) == 0 {
		return nil
	}

	return CommandLine{{Value: "-vf"}, quoted(strings.Join(filters, ","))}
}

// GraphicalSubtitleParam overlays a bitmap subtitle stream over the video.
func GraphicalSubtitleParam(state *streamstate.StreamState) CommandLine {
	videoIndex := 0
	if state.VideoStream != nil {
		videoIndex = state.VideoStream.Index
	}

	base := fmt.Sprintf("[0:%d]", videoIndex)

	var chain []string
	if filters := videoFilters(state); len(filters) > 0 {
		chain = append(chain, base+strings.Join(filters, ",")+"[base]")
		base = "[base]"
	}

	chain = append(chain, fmt.Sprintf("%s[0:%d]overlay=eof_action=pass:repeatlast=0[v]", base, state.SubtitleStream.Index))

	return CommandLine{{Value: "-filter_complex"}, quoted(strings.Join(chain, ";"))}
}

// OutputFFlags returns muxer flags placed after video arguments.
func OutputFFlags(state *streamstate.StreamState) CommandLine {
	if state.GenPtsOutput {
		return raw("-fflags", "+genpts")
	}
	return nil
}

// AudioFilterParam returns the -af chain used when audio is transcoded.
func AudioFilterParam(state *streamstate.StreamState, opts Options) CommandLine {
	opts = opts.withDefaultValues()

	var filters []string

	downmix := state.AudioStream != nil &&
		state.AudioStream.Channels > 2 &&
		state.OutputAudioChannels > 0 &&
		state.OutputAudioChannels <= 2
	if downmix && opts.DownMixAudioBoost != 1 {
		filters = append(filters, "volume="+strconv.FormatFloat(opts.DownMixAudioBoost, 'f', -1, 64))
	}

	// keep audio in sync with segment boundaries
	filters = append(filters, "aresample=async=1")

	return CommandLine{{Value: "-af"}, quoted(strings.Join(filters, ","))}
}

// BitStreamArgs returns the filter converting length prefixed NAL units to annex b.
func BitStreamArgs(vs *streamstate.MediaStream) CommandLine {
	switch strings.ToLower(vs.Codec) {
	case "h264", "avc":
		return raw("-bsf:v", "h264_mp4toannexb")
	case "hevc", "h265":
		return raw("-bsf:v", "hevc_mp4toannexb")
	}
	return nil
}
