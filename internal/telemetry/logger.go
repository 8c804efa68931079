package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

type LogOptions struct {
	Format string // text|json
	Level  string // debug|info|warn|error
	// File, when set, receives a copy of every record and is rotated.
	File string
}

// NewLogger builds the process logger. The returned closer releases the log
// file, if any.
func NewLogger(opts LogOptions) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	var (
		w      io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if opts.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stdout, rotated)
		closer = rotated
	}

	ho := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch opts.Format {
	case "json":
		h = slog.NewJSONHandler(w, ho)
	case "text", "":
		h = slog.NewTextHandler(w, ho)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("log format %q", opts.Format)
	}
	return slog.New(h), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
