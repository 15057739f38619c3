package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/juju/lumberjack/v2"
	"github.com/rs/zerolog"
)

// Options controls where and at which level the worker logs
type Options struct {
	// File is the rotating log file. Empty logs to stdout.
	File string
	// Level overrides the default level (info for files, debug for the console).
	Level string
	// MaxSizeMB and MaxBackups control rotation of File.
	MaxSizeMB  int
	MaxBackups int
}

// NewLogger creates the process logger. The returned closer flushes the
// rotating file and must be called on shutdown.
func NewLogger(opts Options) (zerolog.Logger, io.Closer) {
	var (
		out    io.Writer
		closer io.Closer = nopCloser{}
		level  zerolog.Level
	)

	if opts.File != "" {
		if opts.MaxSizeMB <= 0 {
			opts.MaxSizeMB = 10
		}
		if opts.MaxBackups <= 0 {
			opts.MaxBackups = 1
		}
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		out = lj
		closer = lj
		level = zerolog.InfoLevel
	} else {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		level = zerolog.DebugLevel
	}

	if opts.Level != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level)); err == nil {
			level = parsed
		}
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Str("service", "alpr-importer").Logger()
	return logger, closer
}

// Component returns a child logger tagged with a component name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
