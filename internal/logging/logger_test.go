package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/rs/zerolog"
)

func TestNewLoggerWritesToFile(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(t.TempDir(), "import.log")

	log, closer := NewLogger(Options{File: path})
	c.Check(log.GetLevel(), qt.Equals, zerolog.InfoLevel)

	plog := Component(log, "poller")
	plog.Info().Int("count", 3).Msg("grabbed results")
	plog.Debug().Msg("suppressed")
	c.Assert(closer.Close(), qt.IsNil)

	data, err := os.ReadFile(path)
	c.Assert(err, qt.IsNil)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	c.Assert(lines, qt.HasLen, 1)
	c.Check(lines[0], qt.Contains, `"component":"poller"`)
	c.Check(lines[0], qt.Contains, `"count":3`)
	c.Check(lines[0], qt.Contains, `"message":"grabbed results"`)
}

func TestNewLoggerLevelOverride(t *testing.T) {
	c := qt.New(t)

	log, closer := NewLogger(Options{Level: "WARN"})
	defer closer.Close()
	c.Check(log.GetLevel(), qt.Equals, zerolog.WarnLevel)

	log, closer = NewLogger(Options{Level: "bogus"})
	defer closer.Close()
	c.Check(log.GetLevel(), qt.Equals, zerolog.DebugLevel)
}
