package utils

import (
	"github.com/rs/zerolog"
)

type LogWriterCtx struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// LogWriter logs every written line with given level.
func LogWriter(l zerolog.Logger, level zerolog.Level) *LogWriterCtx {
	return &LogWriterCtx{
		logger: l,
		level:  level,
	}
}

func (l LogWriterCtx) Write(p []byte) (n int, err error) {
	return LogEvent(func(message string) {
		l.logger.WithLevel(l.level).Msg(message)
	}).Write(p)
}
