package logger

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

var levels = map[string]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

// Case-insensitive. Unknown or empty level is an error
func parseLevel(level string) (slog.Level, error) {
	lvl, ok := levels[strings.ToLower(level)]
	if !ok {
		return 0, fmt.Errorf("unknown log level '%s'", level)
	}
	return lvl, nil
}

// adapter implements Logger over slog.Handler.
// Records are built here, so the source points to the caller of Debug/Info/Warn/Error
type adapter struct {
	handler slog.Handler
}

func (a *adapter) Debug(msg string, args ...any) { a.log(slog.LevelDebug, msg, args) }
func (a *adapter) Info(msg string, args ...any)  { a.log(slog.LevelInfo, msg, args) }
func (a *adapter) Warn(msg string, args ...any)  { a.log(slog.LevelWarn, msg, args) }
func (a *adapter) Error(msg string, args ...any) { a.log(slog.LevelError, msg, args) }

func (a *adapter) With(args ...any) Logger {
	return &adapter{handler: slog.New(a.handler).With(args...).Handler()}
}

func (a *adapter) WithGroup(name string) Logger {
	return &adapter{handler: a.handler.WithGroup(name)}
}

func (a *adapter) log(level slog.Level, msg string, args []any) {
	ctx := context.Background()
	if !a.handler.Enabled(ctx, level) {
		return
	}

	// Skip runtime.Callers, log and the level method
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	record := slog.NewRecord(time.Now(), level, msg, pcs[0])
	record.Add(args...)
	_ = a.handler.Handle(ctx, record)
}

// Keep file name only in source attribute
func shortSource(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey {
		return a
	}
	if source, ok := a.Value.Any().(*slog.Source); ok {
		source.File = filepath.Base(source.File)
	}
	return a
}
