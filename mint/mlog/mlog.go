// Package mlog is the logging setup every component embeds, lifted
// out of mint.go's setupLogger/logInfof/logErrorf/logDebugf so the
// four components that log (keys, quote, engine, treasury) each get
// their own logger instance in that exact style without repeating the
// runtime.Callers plumbing four times over.
package mlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

type Level int

const (
	Info Level = iota
	Debug
	Disable
)

// New builds a text-handler *slog.Logger writing to stdout plus, when
// logFile is non-empty, an appended log file — short source paths,
// second-precision timestamps, exactly mint.go's setupLogger.
func New(logFile string, level Level) (*slog.Logger, error) {
	replacer := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		if a.Key == slog.TimeKey {
			a.Value = slog.StringValue(time.Now().Truncate(time.Second * 2).Format(time.DateTime))
		}
		return a
	}

	var logWriter io.Writer = os.Stdout
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, fmt.Errorf("error opening log file: %v", err)
		}
		logWriter = io.MultiWriter(os.Stdout, f)
	}

	slogLevel := slog.LevelInfo
	switch level {
	case Debug:
		slogLevel = slog.LevelDebug
	case Disable:
		logWriter = io.Discard
	}

	return slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		AddSource:   true,
		Level:       slogLevel,
		ReplaceAttr: replacer,
	})), nil
}

// Logger is embedded by each component's top-level type (Factory,
// Service, Engine, ...) to get Infof/Errorf/Debugf helpers that
// preserve the caller's own source position rather than mlog's.
type Logger struct {
	L *slog.Logger
}

func (lg Logger) Infof(format string, args ...any) {
	lg.record(slog.LevelInfo, format, args...)
}

func (lg Logger) Errorf(format string, args ...any) {
	lg.record(slog.LevelError, format, args...)
}

func (lg Logger) Debugf(format string, args ...any) {
	if lg.L == nil || !lg.L.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	lg.record(slog.LevelDebug, format, args...)
}

func (lg Logger) record(level slog.Level, format string, args ...any) {
	if lg.L == nil {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, fmt.Sprintf(format, args...), pcs[0])
	_ = lg.L.Handler().Handle(context.Background(), r)
}
