package cmd

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

type logConfig struct {
	Level   string
	Console bool

	// rotated json log file, disabled when empty
	File       string
	MaxAge     int // days
	MaxSize    int // megabytes
	MaxBackups int
}

func (logConfig) Init(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()

	flags.String("log.level", "", "minimum log level (trace, debug, info, warn, error)")
	flags.Bool("log.console", true, "write human readable logs to stderr")
	flags.String("log.file", "", "also write json logs to this file")
	flags.Int("log.maxage", 0, "days to keep rotated log files, 0 keeps them")
	flags.Int("log.maxsize", 100, "megabytes written before the log file is rotated")
	flags.Int("log.maxbackups", 0, "number of rotated log files to keep, 0 keeps all")

	for _, name := range []string{"log.level", "log.console", "log.file", "log.maxage", "log.maxsize", "log.maxbackups"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			return err
		}
	}

	return nil
}

func (c *logConfig) Set() {
	*c = logConfig{
		Level:      viper.GetString("log.level"),
		Console:    viper.GetBool("log.console"),
		File:       viper.GetString("log.file"),
		MaxAge:     viper.GetInt("log.maxage"),
		MaxSize:    viper.GetInt("log.maxsize"),
		MaxBackups: viper.GetInt("log.maxbackups"),
	}
}

func initLogging(config logConfig) {
	var writers []io.Writer

	if config.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if config.File != "" {
		file := &lumberjack.Logger{
			Filename:   config.File,
			MaxAge:     config.MaxAge,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
		}
		go rotateOnHangup(file)

		writers = append(writers, file)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(io.MultiWriter(writers...))

	setLogLevel(config.Level)

	log.Info().
		Bool("console", config.Console).
		Str("file", config.File).
		Int("maxage", config.MaxAge).
		Int("maxsize", config.MaxSize).
		Int("maxbackups", config.MaxBackups).
		Msg("logging configured")
}

// rotateOnHangup lets logrotate style tooling reopen the file with SIGHUP.
func rotateOnHangup(file *lumberjack.Logger) {
	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)

	for range hangup {
		if err := file.Rotate(); err != nil {
			log.Err(err).Str("file", file.Filename).Msg("unable to rotate log file")
		}
	}
}

func setLogLevel(value string) {
	level := zerolog.InfoLevel

	if value != "" {
		parsed, err := zerolog.ParseLevel(value)
		if err != nil {
			log.Warn().Str("log-level", value).Msg("unknown log level, using info")
		} else {
			level = parsed
		}
	}

	zerolog.SetGlobalLevel(level)
}
