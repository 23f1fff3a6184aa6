package fs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// badgerLogger routes badger's printf-style logging into slog. Badger is
// chatty at info level, so its info output is demoted to debug.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.emit(slog.LevelError, format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.emit(slog.LevelWarn, format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.emit(slog.LevelDebug, format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.emit(slog.LevelDebug, format, args...)
}

func (l badgerLogger) emit(level slog.Level, format string, args ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, args...))
	l.log.Log(context.Background(), level, msg, "component", "badger")
}
