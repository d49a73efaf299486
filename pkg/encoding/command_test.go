package encoding

import (
	"strings"
	"testing"

	"github.com/m1k1o/go-livestream/pkg/streamstate"
)

func copyState() *streamstate.StreamState {
	return &streamstate.StreamState{
		MediaPath:        "/media/movie.mkv",
		OutputFilePath:   "/transcode/abc.m3u8",
		SegmentLength:    6,
		MinSegments:      1,
		IsOutputVideo:    true,
		OutputVideoCodec: "copy",
		OutputAudioCodec: "copy",
		VideoStream: &streamstate.MediaStream{
			Index:         0,
			Type:          "video",
			Codec:         "h264",
			NalLengthSize: "4",
		},
		AudioStream: &streamstate.MediaStream{
			Index:    1,
			Type:     "audio",
			Codec:    "aac",
			Channels: 2,
		},
	}
}

func TestBuildCommandLine(t *testing.T) {
	want := `-i "file:/media/movie.mkv" -map_metadata -1 -map_chapters -1 -threads 0 ` +
		`-map 0:0 -map 0:1 -map -0:s ` +
		`-codec:v:0 copy -bsf:v h264_mp4toannexb -flags -global_header ` +
		`-codec:a:0 copy ` +
		`-f segment -max_delay 5000000 -avoid_negative_ts disabled -start_at_zero -segment_time 6 ` +
		`-individual_header_trailer 0 -segment_format mpegts -segment_list_entry_prefix "hls/abc/" ` +
		`-segment_list_type m3u8 -segment_start_number 0 -segment_list "/transcode/abc.m3u8" -y "/transcode/abc%d.ts"`

	got := BuildCommandLine(copyState(), Options{})
	if got != want {
		t.Errorf("BuildCommandLine() =\n%s\nwant\n%s", got, want)
	}

	if again := BuildCommandLine(copyState(), Options{}); again != got {
		t.Errorf("BuildCommandLine() is not deterministic:\n%s\n%s", got, again)
	}

	if strings.Contains(got, "  ") {
		t.Errorf("BuildCommandLine() contains double spaces: %s", got)
	}
}

func TestBuildArgs(t *testing.T) {
	args := Build(copyState(), Options{}).Args()

	if args[0] != "-i" || args[1] != "file:/media/movie.mkv" {
		t.Errorf("Args() input = %v, want [-i file:/media/movie.mkv]", args[:2])
	}

	if last := args[len(args)-1]; last != "/transcode/abc%d.ts" {
		t.Errorf("Args() last = %q, want segment pattern", last)
	}

	for _, arg := range args {
		if strings.Contains(arg, `"`) {
			t.Errorf("Args() contains quoted token %q", arg)
		}
	}
}

func TestVideoArgsCopyBitstreamFilter(t *testing.T) {
	tests := []struct {
		name          string
		codec         string
		nalLengthSize string
		want          string
	}{
		{
			name:          "nal length size zero",
			codec:         "h264",
			nalLengthSize: "0",
			want:          "-codec:v:0 copy -flags -global_header",
		},
		{
			name:          "nal length size missing",
			codec:         "h264",
			nalLengthSize: "",
			want:          "-codec:v:0 copy -flags -global_header",
		},
		{
			name:          "nal length size 32",
			codec:         "h264",
			nalLengthSize: "32",
			want:          "-codec:v:0 copy -bsf:v h264_mp4toannexb -flags -global_header",
		},
		{
			name:          "hevc source",
			codec:         "hevc",
			nalLengthSize: "4",
			want:          "-codec:v:0 copy -bsf:v hevc_mp4toannexb -flags -global_header",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := copyState()
			state.VideoStream.Codec = tt.codec
			state.VideoStream.NalLengthSize = tt.nalLengthSize

			if got := VideoArgs(state, Options{}).String(); got != tt.want {
				t.Errorf("VideoArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVideoArgsKeyframes(t *testing.T) {
	state := copyState()
	state.OutputVideoCodec = "h264"
	state.SegmentLength = 6

	got := BuildCommandLine(state, Options{})

	if !strings.Contains(got, `-force_key_frames "expr:gte(t,n_forced*6)"`) {
		t.Errorf("BuildCommandLine() = %s, want forced keyframes every 6 seconds", got)
	}
	if !strings.Contains(got, "-codec:v:0 libx264 -preset superfast -crf 23 -profile:v high") {
		t.Errorf("BuildCommandLine() = %s, want libx264 with default quality", got)
	}
	if strings.Contains(got, "-bsf:v") {
		t.Errorf("BuildCommandLine() = %s, want no bitstream filter when encoding", got)
	}
}

func TestVideoArgsNoVideo(t *testing.T) {
	state := copyState()
	state.IsOutputVideo = false

	if got := VideoArgs(state, Options{}); len(got) != 0 {
		t.Errorf("VideoArgs() = %q, want empty", got.String())
	}
	if got := BuildCommandLine(state, Options{}); strings.Contains(got, "-codec:v:0") {
		t.Errorf("BuildCommandLine() = %s, want no video codec", got)
	}
}

func TestVideoArgsVsync(t *testing.T) {
	state := copyState()
	state.VideoStream.NalLengthSize = "0"
	state.OutputVideoSync = "-1"
	state.GenPtsOutput = true

	want := "-codec:v:0 copy -flags -global_header -vsync -1 -fflags +genpts"
	if got := VideoArgs(state, Options{}).String(); got != want {
		t.Errorf("VideoArgs() = %q, want %q", got, want)
	}
}

func TestVideoArgsSubtitleBurnIn(t *testing.T) {
	tests := []struct {
		name       string
		subtitle   *streamstate.MediaStream
		method     streamstate.SubtitleDeliveryMethod
		contains   []string
		notContain []string
	}{
		{
			name:       "graphical subtitle burned in",
			subtitle:   &streamstate.MediaStream{Index: 2, Type: "subtitle", Codec: "hdmv_pgs_subtitle"},
			method:     streamstate.SubtitleEncode,
			contains:   []string{`-filter_complex "[0:0]scale=1280:trunc(ow/a/2)*2[base];[base][0:2]overlay`, "-map [v]"},
			notContain: []string{"-vf "},
		},
		{
			name:       "graphical subtitle embedded",
			subtitle:   &streamstate.MediaStream{Index: 2, Type: "subtitle", Codec: "hdmv_pgs_subtitle"},
			method:     streamstate.SubtitleEmbed,
			contains:   []string{`-vf "scale=1280:trunc(ow/a/2)*2"`, "-map 0:2"},
			notContain: []string{"-filter_complex"},
		},
		{
			name:       "text subtitle burned in",
			subtitle:   &streamstate.MediaStream{Index: 2, Type: "subtitle", Codec: "subrip", IsTextSubtitle: true},
			method:     streamstate.SubtitleEncode,
			contains:   []string{`-vf "scale=1280:trunc(ow/a/2)*2,subtitles=f='/media/movie.mkv':si=0"`},
			notContain: []string{"-filter_complex"},
		},
		{
			name:       "no subtitle",
			contains:   []string{`-vf "scale=1280:trunc(ow/a/2)*2"`, "-map -0:s"},
			notContain: []string{"-filter_complex"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := copyState()
			state.OutputVideoCodec = "h264"
			state.OutputWidth = 1280
			state.SubtitleStream = tt.subtitle
			state.SubtitleDeliveryMethod = tt.method

			got := BuildCommandLine(state, Options{})
			for _, s := range tt.contains {
				if !strings.Contains(got, s) {
					t.Errorf("BuildCommandLine() = %s, want to contain %s", got, s)
				}
			}
			for _, s := range tt.notContain {
				if strings.Contains(got, s) {
					t.Errorf("BuildCommandLine() = %s, want not to contain %s", got, s)
				}
			}
		})
	}
}

func TestSegmentFormat(t *testing.T) {
	tests := []struct {
		container   string
		wantFormat  string
		wantPattern string
	}{
		{"", "mpegts", "/transcode/abc%d.ts"},
		{"ts", "mpegts", "/transcode/abc%d.ts"},
		{"TS", "mpegts", "/transcode/abc%d.TS"},
		{"mp4", "mp4", "/transcode/abc%d.mp4"},
	}

	for _, tt := range tests {
		t.Run("container "+tt.container, func(t *testing.T) {
			state := copyState()
			state.SegmentContainer = tt.container

			got := BuildCommandLine(state, Options{})
			if !strings.Contains(got, "-segment_format "+tt.wantFormat+" ") {
				t.Errorf("BuildCommandLine() = %s, want segment format %s", got, tt.wantFormat)
			}
			if !strings.HasSuffix(got, `-y "`+tt.wantPattern+`"`) {
				t.Errorf("BuildCommandLine() = %s, want pattern %s", got, tt.wantPattern)
			}
		})
	}
}

func TestAudioArgs(t *testing.T) {
	t.Run("copy emits codec only", func(t *testing.T) {
		state := copyState()
		state.OutputAudioChannels = 2
		state.OutputAudioBitrate = 128000

		if got := AudioArgs(state, Options{}).String(); got != "-codec:a:0 copy" {
			t.Errorf("AudioArgs() = %q, want %q", got, "-codec:a:0 copy")
		}
	})

	t.Run("transcode with all parameters", func(t *testing.T) {
		state := copyState()
		state.OutputAudioCodec = "aac"
		state.OutputAudioChannels = 2
		state.OutputAudioBitrate = 128000
		state.OutputAudioSampleRate = 44100

		got := BuildCommandLine(state, Options{})
		want := `-codec:a:0 aac -ac 2 -ab 128000 -ar 44100 -af "aresample=async=1"`
		if !strings.Contains(got, want) {
			t.Errorf("BuildCommandLine() = %s, want to contain %s", got, want)
		}
	})

	t.Run("transcode omits missing parameters", func(t *testing.T) {
		state := copyState()
		state.OutputAudioCodec = "mp3"

		want := `-codec:a:0 libmp3lame -af "aresample=async=1"`
		if got := AudioArgs(state, Options{}).String(); got != want {
			t.Errorf("AudioArgs() = %q, want %q", got, want)
		}
	})

	t.Run("downmix boosts volume", func(t *testing.T) {
		state := copyState()
		state.AudioStream.Channels = 6
		state.OutputAudioCodec = "aac"
		state.OutputAudioChannels = 2

		want := `-codec:a:0 aac -ac 2 -af "volume=2,aresample=async=1"`
		if got := AudioArgs(state, Options{}).String(); got != want {
			t.Errorf("AudioArgs() = %q, want %q", got, want)
		}
	})
}

func TestThreads(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		opts  Options
		codec string
		want  int
	}{
		{"auto", 0, Options{}, "libx264", 0},
		{"configured", 0, Options{EncodingThreadCount: 3}, "libx264", 3},
		{"cpu core limit wins", 2, Options{EncodingThreadCount: 3}, "libx264", 2},
		{"vpx auto", 0, Options{}, "libvpx-vp9", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := copyState()
			state.CpuCoreLimit = tt.limit
			if got := Threads(state, tt.opts, tt.codec); got != tt.want {
				t.Errorf("Threads() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestInputModifier(t *testing.T) {
	state := copyState()
	state.OutputVideoCodec = "h264"
	state.StartTimeTicks = 15 * 10000000
	state.IsRemote = true
	state.ReadInputAtNativeFramerate = true
	state.MediaPath = "http://example.com/live.ts"

	got := BuildCommandLine(state, Options{HardwareAcceleration: "vaapi"})
	want := `-hwaccel vaapi -re -ss 15.000 -i "http://example.com/live.ts"`
	if !strings.HasPrefix(got, want) {
		t.Errorf("BuildCommandLine() = %s, want prefix %s", got, want)
	}
}
