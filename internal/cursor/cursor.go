// Package cursor persists the polling watermark of the import worker.
//
// The watermark records the newest read time that has been claimed by the
// poller, not the newest one uploaded. A crash in the middle of a batch can
// therefore only replay reads, never skip them.
package cursor

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/juju/clock"
	"github.com/juju/utils/v4"
)

// Version is the on-disk format version.
const Version = 1

// State is the JSON document stored on disk.
type State struct {
	Version   int   `json:"version"`
	LastParse int64 `json:"last_parse"`
	LastSave  int64 `json:"last_save"`
}

// Cursor is the durable watermark. It is owned by a single goroutine and
// is not safe for concurrent use.
type Cursor struct {
	path  string
	clock clock.Clock
	state State
	// saved is the LastParse value most recently loaded or persisted.
	saved int64
}

// Load reads the cursor stored at path. A missing or unreadable file yields a
// zero cursor so the process always starts.
func Load(path string, clk clock.Clock) *Cursor {
	if clk == nil {
		clk = clock.WallClock
	}
	c := &Cursor{
		path:  path,
		clock: clk,
		state: State{Version: Version},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil || state.LastParse < 0 {
		return c
	}
	state.Version = Version
	c.state = state
	c.saved = state.LastParse
	return c
}

// State returns a copy of the current cursor value.
func (c *Cursor) State() State {
	return c.state
}

// LastParse returns the watermark as a UTC instant.
func (c *Cursor) LastParse() time.Time {
	return time.UnixMilli(c.state.LastParse).UTC()
}

// Advance moves the watermark to t if t is newer. It never moves backwards.
func (c *Cursor) Advance(t time.Time) {
	if ms := t.UnixMilli(); ms > c.state.LastParse {
		c.state.LastParse = ms
	}
}

// Rollback discards every advance made since the last Persist.
func (c *Cursor) Rollback() {
	c.state.LastParse = c.saved
}

// Persist writes the cursor with a fresh save time. The file is replaced
// atomically.
func (c *Cursor) Persist() error {
	c.state.Version = Version
	c.state.LastSave = c.clock.Now().UnixMilli()

	data, err := json.MarshalIndent(c.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cursor: %w", err)
	}
	if err := utils.AtomicWriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cursor %s: %w", c.path, err)
	}
	c.saved = c.state.LastParse
	return nil
}
