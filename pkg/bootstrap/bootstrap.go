// Package bootstrap implements component J of SPEC_FULL.md, spec.md §4.J:
// ordered execution of a bootstrap manifest's phases, each invoking the
// Builder against the phase's recipe redirected to the bootstrap root, with
// a per-phase checkpoint so --resume begins at the first non-success phase.
//
// Grounded on the teacher's pkg/emerge/main.go (the top-level "read a
// manifest of ordered steps, run each, stop on the first failure" shape of
// an emerge --resume invocation) for the overall Orchestrator.Run
// structure, and on pkg/session/session.go's atomic-write discipline for
// the per-phase state file (spec.md §6: "Bootstrap per-phase state:
// {name, status, extra, ts}").
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/fcanata00/porg/pkg/dblock"
	"github.com/fcanata00/porg/pkg/logger"
	"github.com/fcanata00/porg/pkg/porgerr"
	"github.com/fcanata00/porg/pkg/recipe"
	"github.com/fcanata00/porg/pkg/sandbox"
)

// Status is one phase's recorded outcome.
type Status string

const (
	StatusBuilding Status = "building"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
)

// PhaseState is the exact persisted shape spec.md §6 names for bootstrap:
// "{name, status, extra, ts}". Extra carries the log path reference on
// success, or the failure reason on failure.
type PhaseState struct {
	Name   string    `toml:"name"`
	Status Status    `toml:"status"`
	Extra  string    `toml:"extra,omitempty"`
	TS     time.Time `toml:"ts"`
}

// Phase is one entry of the bootstrap manifest: a named step that builds
// metafile redirected to the bootstrap root per its recipe's Stage field
// (spec.md §4.F "stage: bootstrap|toolchain").
type Phase struct {
	Name     string
	Metafile string // path to the phase's recipe file
}

// Manifest is the ordered list of phases read from the bootstrap config.
type Manifest struct {
	Phases []Phase `toml:"phase"`
}

// LoadManifest reads a TOML-encoded bootstrap manifest: an ordered
// `[[phase]]` table list, each with `name` and `metafile` keys. TOML is
// used here for the same reason pkg/session uses it for SessionState
// (SPEC_FULL.md §B): this is a small structured document, not porg.conf's
// flat KEY=VALUE shape.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("bootstrap: decode manifest %s: %w", path, porgerr.ErrParse)
	}
	return &m, nil
}

// Orchestrator drives one bootstrap run's phases in order against Builder,
// serialized (spec.md §5: "Concurrency is serialized (phases are inherently
// ordered)"), guarded by a process-wide advisory lock.
type Orchestrator struct {
	Builder  *sandbox.Builder
	Log      *logger.Logger
	StateDir string // per-phase state files live here
	LockPath string // process-wide bootstrap lock target (spec.md §4.J, §5)
}

func (o *Orchestrator) phaseStatePath(name string) string {
	return filepath.Join(o.StateDir, "phase-"+name+".toml")
}

func (o *Orchestrator) saveStatus(name string, status Status, extra string) {
	st := PhaseState{Name: name, Status: status, Extra: extra, TS: time.Now().UTC()}
	path := o.phaseStatePath(name)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		o.Log.Emit(logger.ERROR, "bootstrap: mkdir %s: %v", dir, err)
		return
	}
	tmp, err := os.CreateTemp(dir, ".phase-*.toml.tmp")
	if err != nil {
		o.Log.Emit(logger.ERROR, "bootstrap: create temp for phase %s: %v", name, err)
		return
	}
	if err := toml.NewEncoder(tmp).Encode(st); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		o.Log.Emit(logger.ERROR, "bootstrap: encode phase %s: %v", name, err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		o.Log.Emit(logger.ERROR, "bootstrap: persist phase %s: %v", name, err)
	}
}

// loadStatus reads a phase's last recorded status, returning
// (PhaseState{}, false) if no state file exists yet — a phase that has
// never run is implicitly "not success" for --resume purposes.
func (o *Orchestrator) loadStatus(name string) (PhaseState, bool) {
	var st PhaseState
	data, err := os.ReadFile(o.phaseStatePath(name))
	if err != nil {
		return st, false
	}
	if _, err := toml.Decode(string(data), &st); err != nil {
		return st, false
	}
	return st, true
}

// Verify reports every phase's last recorded status, for the `bootstrap
// verify` CLI verb (spec.md §6).
func (o *Orchestrator) Verify(m *Manifest) []PhaseState {
	out := make([]PhaseState, 0, len(m.Phases))
	for _, p := range m.Phases {
		st, ok := o.loadStatus(p.Name)
		if !ok {
			st = PhaseState{Name: p.Name, Status: "", TS: time.Time{}}
		}
		out = append(out, st)
	}
	return out
}

// Run executes m's phases in order. When resume is true, execution begins
// at the first phase whose last recorded status is not StatusSuccess
// (spec.md §4.J "--resume begins at the first non-success phase").
func (o *Orchestrator) Run(ctx context.Context, m *Manifest, resume bool) error {
	lock, err := dblock.Acquire(o.LockPath, dblock.Options{})
	if err != nil {
		return fmt.Errorf("bootstrap: acquire lock: %w", err)
	}
	defer lock.Release()

	startIdx := 0
	if resume {
		for i, p := range m.Phases {
			st, ok := o.loadStatus(p.Name)
			if !ok || st.Status != StatusSuccess {
				startIdx = i
				break
			}
			startIdx = i + 1
		}
	}

	for i := startIdx; i < len(m.Phases); i++ {
		if err := o.runPhase(ctx, m.Phases[i]); err != nil {
			return err
		}
	}
	return nil
}

// Rebuild re-runs a single named phase unconditionally, regardless of its
// last recorded status (spec.md §4.J "rebuild <phase> re-runs one phase
// unconditionally").
func (o *Orchestrator) Rebuild(ctx context.Context, m *Manifest, name string) error {
	lock, err := dblock.Acquire(o.LockPath, dblock.Options{})
	if err != nil {
		return fmt.Errorf("bootstrap: acquire lock: %w", err)
	}
	defer lock.Release()

	for _, p := range m.Phases {
		if p.Name == name {
			return o.runPhase(ctx, p)
		}
	}
	return fmt.Errorf("bootstrap: phase %q: %w", name, porgerr.ErrNotFound)
}

func (o *Orchestrator) runPhase(ctx context.Context, p Phase) error {
	o.Log.Emit(logger.STAGE, "bootstrap: entering phase %q", p.Name)
	o.saveStatus(p.Name, StatusBuilding, "")

	rec, err := recipe.LoadFile(p.Metafile)
	if err != nil {
		o.saveStatus(p.Name, StatusFailed, err.Error())
		return fmt.Errorf("bootstrap: phase %s: load recipe: %w", p.Name, err)
	}

	result, err := o.Builder.Build(ctx, rec, false)
	if err != nil {
		o.saveStatus(p.Name, StatusFailed, err.Error())
		return fmt.Errorf("bootstrap: phase %s: %w", p.Name, err)
	}

	o.saveStatus(p.Name, StatusSuccess, result.ArtifactPath)
	return nil
}
