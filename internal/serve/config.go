package serve

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/m1k1o/go-livestream/internal/server"
	"github.com/m1k1o/go-livestream/internal/telemetry"
	"github.com/m1k1o/go-livestream/pkg/encoding"
)

type Live struct {
	TranscodeDir  string
	PurgeOnStart  bool
	FileLock      bool
	FFmpegBinary  string
	FFprobeBinary string

	SegmentLength  int
	MinSegments    int
	SegmentTimeout time.Duration

	CleanupPeriod       time.Duration
	ActiveIdleTimeout   time.Duration
	InactiveIdleTimeout time.Duration

	Encoding encoding.Options
}

type Cache struct {
	Enabled  bool
	Dir      string
	RedisURL string
	TTL      time.Duration
}

type Config struct {
	Server    server.Config
	Telemetry telemetry.Config

	// item id to media path or url
	Library map[string]string

	Live  Live
	Cache Cache
}

func (c Config) Init(cmd *cobra.Command) error {
	if err := c.Server.Init(cmd); err != nil {
		return err
	}

	cmd.PersistentFlags().String("telemetry.endpoint", "", "OTLP http endpoint for traces, disabled when empty")
	if err := viper.BindPFlag("telemetry.endpoint", cmd.PersistentFlags().Lookup("telemetry.endpoint")); err != nil {
		return err
	}

	cmd.PersistentFlags().Float64("telemetry.sample-rate", 0.1, "ratio of sampled traces")
	if err := viper.BindPFlag("telemetry.sample-rate", cmd.PersistentFlags().Lookup("telemetry.sample-rate")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("live.transcode-dir", "", "directory for live manifests and segments (must be absolute)")
	if err := viper.BindPFlag("live.transcode-dir", cmd.PersistentFlags().Lookup("live.transcode-dir")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("live.purge-on-start", true, "remove leftovers from transcode dir on start")
	if err := viper.BindPFlag("live.purge-on-start", cmd.PersistentFlags().Lookup("live.purge-on-start")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("live.file-lock", false, "also lock output paths across processes")
	if err := viper.BindPFlag("live.file-lock", cmd.PersistentFlags().Lookup("live.file-lock")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("live.ffmpeg-binary", "ffmpeg", "ffmpeg binary path")
	if err := viper.BindPFlag("live.ffmpeg-binary", cmd.PersistentFlags().Lookup("live.ffmpeg-binary")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("live.ffprobe-binary", "ffprobe", "ffprobe binary path")
	if err := viper.BindPFlag("live.ffprobe-binary", cmd.PersistentFlags().Lookup("live.ffprobe-binary")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("live.segment-length", 6, "default segment length in seconds")
	if err := viper.BindPFlag("live.segment-length", cmd.PersistentFlags().Lookup("live.segment-length")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("live.min-segments", 1, "default number of segments required before playlist is served")
	if err := viper.BindPFlag("live.min-segments", cmd.PersistentFlags().Lookup("live.min-segments")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("live.segment-timeout", 60*time.Second, "how long to wait for first segments")
	if err := viper.BindPFlag("live.segment-timeout", cmd.PersistentFlags().Lookup("live.segment-timeout")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("live.cleanup-period", 4*time.Second, "how often idle jobs are looked for")
	if err := viper.BindPFlag("live.cleanup-period", cmd.PersistentFlags().Lookup("live.cleanup-period")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("live.active-idle-timeout", 60*time.Second, "idle timeout of playable jobs")
	if err := viper.BindPFlag("live.active-idle-timeout", cmd.PersistentFlags().Lookup("live.active-idle-timeout")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("live.inactive-idle-timeout", 120*time.Second, "idle timeout of jobs that are not playable yet")
	if err := viper.BindPFlag("live.inactive-idle-timeout", cmd.PersistentFlags().Lookup("live.inactive-idle-timeout")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("live.encoding.threads", 0, "encoder thread count, 0 lets ffmpeg decide")
	if err := viper.BindPFlag("live.encoding.threads", cmd.PersistentFlags().Lookup("live.encoding.threads")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("live.encoding.preset", "superfast", "x264/x265 preset")
	if err := viper.BindPFlag("live.encoding.preset", cmd.PersistentFlags().Lookup("live.encoding.preset")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("live.encoding.h264-crf", 23, "h264 constant rate factor")
	if err := viper.BindPFlag("live.encoding.h264-crf", cmd.PersistentFlags().Lookup("live.encoding.h264-crf")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("live.encoding.h265-crf", 28, "h265 constant rate factor")
	if err := viper.BindPFlag("live.encoding.h265-crf", cmd.PersistentFlags().Lookup("live.encoding.h265-crf")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("live.encoding.h264-encoder", "libx264", "h264 encoder name")
	if err := viper.BindPFlag("live.encoding.h264-encoder", cmd.PersistentFlags().Lookup("live.encoding.h264-encoder")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("live.encoding.hevc-encoder", "libx265", "hevc encoder name")
	if err := viper.BindPFlag("live.encoding.hevc-encoder", cmd.PersistentFlags().Lookup("live.encoding.hevc-encoder")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("live.encoding.hardware-acceleration", "", "ffmpeg -hwaccel value (vaapi, qsv, cuda)")
	if err := viper.BindPFlag("live.encoding.hardware-acceleration", cmd.PersistentFlags().Lookup("live.encoding.hardware-acceleration")); err != nil {
		return err
	}

	cmd.PersistentFlags().Float64("live.encoding.downmix-audio-boost", 2, "volume boost when downmixing to stereo")
	if err := viper.BindPFlag("live.encoding.downmix-audio-boost", cmd.PersistentFlags().Lookup("live.encoding.downmix-audio-boost")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("live.encoding.analyze-duration-ms", 0, "input analyze duration in milliseconds")
	if err := viper.BindPFlag("live.encoding.analyze-duration-ms", cmd.PersistentFlags().Lookup("live.encoding.analyze-duration-ms")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("cache.enabled", true, "cache ffprobe results")
	if err := viper.BindPFlag("cache.enabled", cmd.PersistentFlags().Lookup("cache.enabled")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("cache.dir", "", "global probe cache dir, cache files are stored next to media when empty")
	if err := viper.BindPFlag("cache.dir", cmd.PersistentFlags().Lookup("cache.dir")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("cache.redis-url", "", "store probe results in redis instead of files")
	if err := viper.BindPFlag("cache.redis-url", cmd.PersistentFlags().Lookup("cache.redis-url")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("cache.ttl", 24*time.Hour, "redis probe cache entry lifetime")
	if err := viper.BindPFlag("cache.ttl", cmd.PersistentFlags().Lookup("cache.ttl")); err != nil {
		return err
	}

	return nil
}

func (c *Config) Set() {
	c.Server.Set()

	c.Telemetry.Endpoint = viper.GetString("telemetry.endpoint")
	c.Telemetry.SampleRate = viper.GetFloat64("telemetry.sample-rate")

	c.Library = viper.GetStringMapString("library")
	if len(c.Library) == 0 {
		log.Warn().Msg("library is empty, no items can be played")
	}

	c.Live = Live{
		TranscodeDir:  viper.GetString("live.transcode-dir"),
		PurgeOnStart:  viper.GetBool("live.purge-on-start"),
		FileLock:      viper.GetBool("live.file-lock"),
		FFmpegBinary:  viper.GetString("live.ffmpeg-binary"),
		FFprobeBinary: viper.GetString("live.ffprobe-binary"),

		SegmentLength:  viper.GetInt("live.segment-length"),
		MinSegments:    viper.GetInt("live.min-segments"),
		SegmentTimeout: viper.GetDuration("live.segment-timeout"),

		CleanupPeriod:       viper.GetDuration("live.cleanup-period"),
		ActiveIdleTimeout:   viper.GetDuration("live.active-idle-timeout"),
		InactiveIdleTimeout: viper.GetDuration("live.inactive-idle-timeout"),

		Encoding: encoding.Options{
			EncodingThreadCount:  viper.GetInt("live.encoding.threads"),
			Preset:               viper.GetString("live.encoding.preset"),
			H264CRF:              viper.GetInt("live.encoding.h264-crf"),
			H265CRF:              viper.GetInt("live.encoding.h265-crf"),
			H264Encoder:          viper.GetString("live.encoding.h264-encoder"),
			HevcEncoder:          viper.GetString("live.encoding.hevc-encoder"),
			HardwareAcceleration: viper.GetString("live.encoding.hardware-acceleration"),
			DownMixAudioBoost:    viper.GetFloat64("live.encoding.downmix-audio-boost"),
			AnalyzeDurationMs:    viper.GetInt("live.encoding.analyze-duration-ms"),
		},
	}

	c.Cache = Cache{
		Enabled:  viper.GetBool("cache.enabled"),
		Dir:      viper.GetString("cache.dir"),
		RedisURL: viper.GetString("cache.redis-url"),
		TTL:      viper.GetDuration("cache.ttl"),
	}
}
