package utils

import (
	"strings"
)

type LogEventCtx struct {
	event func(message string)
}

// LogEvent calls event for every non-empty line written. Carriage returns
// used by progress output are treated as line breaks.
func LogEvent(event func(message string)) *LogEventCtx {
	return &LogEventCtx{
		event: event,
	}
}

func (l LogEventCtx) Write(p []byte) (n int, err error) {
	lines := strings.FieldsFunc(string(p), func(r rune) bool {
		return r == '\n' || r == '\r'
	})

	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			l.event(line)
		}
	}

	return len(p), nil
}
