// Package session persists SessionState, the per-run resume record of
// spec.md §3: "{phase_index, current_package, timestamp, failure_reason?},
// consumed on --resume." Created at phase start, removed at successful
// completion.
//
// Grounded on the teacher's config/portago.go, which decodes the daemon's
// TOML configuration with github.com/BurntSushi/toml — SPEC_FULL.md §B
// repurposes that same dependency here since SessionState, like the
// teacher's config, is a small structured document an operator may want to
// read by hand after a crash.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/fcanata00/porg/pkg/porgerr"
)

// State is one orchestrator's resume record.
type State struct {
	PhaseIndex     int       `toml:"phase_index"`
	CurrentPackage string    `toml:"current_package"`
	Timestamp      time.Time `toml:"timestamp"`
	FailureReason  string    `toml:"failure_reason,omitempty"`
}

// Save writes state to path atomically (temp file in the same directory,
// then rename), so a reader never observes a half-written resume record.
func Save(path string, state State) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("session: mkdir %s: %w", dir, porgerr.ErrIO)
	}
	tmp, err := os.CreateTemp(dir, ".session-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("session: create temp: %w", porgerr.ErrIO)
	}
	tmpPath := tmp.Name()
	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(state); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("session: close temp: %w", porgerr.ErrIO)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("session: rename into place: %w", porgerr.ErrIO)
	}
	return nil
}

// Load reads a previously saved state. Absence of the file is reported as
// porgerr.ErrNotFound, letting callers distinguish "nothing to resume" from
// a genuine read failure.
func Load(path string) (State, error) {
	var state State
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return state, fmt.Errorf("session: %s: %w", path, porgerr.ErrNotFound)
	}
	if _, err := toml.DecodeFile(path, &state); err != nil {
		return state, fmt.Errorf("session: decode %s: %w", path, porgerr.ErrDBCorrupt)
	}
	return state, nil
}

// Clear removes the resume record after a successful completion. Removing
// an already-absent file is not an error.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: clear %s: %w", path, porgerr.ErrIO)
	}
	return nil
}

// Exists reports whether a resume record is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
