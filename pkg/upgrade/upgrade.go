// Package upgrade implements component I of SPEC_FULL.md, spec.md §4.I: a
// strict build-then-swap orchestrator over the resolver's upgrade plan.
//
// Grounded on the teacher's pkg/emerge package (the "plan, then execute one
// package at a time in dependency order, persist state on failure" shape of
// a Portage-style world update) for the overall Run/execute structure.
package upgrade

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fcanata00/porg/pkg/db"
	"github.com/fcanata00/porg/pkg/logger"
	"github.com/fcanata00/porg/pkg/porgerr"
	"github.com/fcanata00/porg/pkg/recipe"
	"github.com/fcanata00/porg/pkg/remover"
	"github.com/fcanata00/porg/pkg/resolver"
	"github.com/fcanata00/porg/pkg/sandbox"
	"github.com/fcanata00/porg/pkg/versions"
)

// State is the exact persisted shape spec.md §6 names for upgrade:
// "{target, metafile, new_version, installed_version, timestamp, phase?}".
// Unlike pkg/session's SessionState (the Builder's per-package resume
// record), this tracks which package the *orchestrator* was mid-swap on.
type State struct {
	Target           string    `json:"target"`
	Metafile         string    `json:"metafile"`
	NewVersion       string    `json:"new_version"`
	InstalledVersion string    `json:"installed_version"`
	Timestamp        time.Time `json:"timestamp"`
	Phase            string    `json:"phase,omitempty"`
}

func saveState(path string, st State) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("upgrade: %w", porgerr.ErrIO)
	}
	buf, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".upgrade-state-*.json.tmp")
	if err != nil {
		return fmt.Errorf("upgrade: %w", porgerr.ErrIO)
	}
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("upgrade: %w", porgerr.ErrIO)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("upgrade: %w", porgerr.ErrIO)
	}
	return os.Rename(tmp.Name(), path)
}

func loadState(path string) (State, error) {
	var st State
	data, err := os.ReadFile(path)
	if err != nil {
		return st, err
	}
	err = json.Unmarshal(data, &st)
	return st, err
}

func clearState(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Report summarizes one Run.
type Report struct {
	Plan     *resolver.UpgradePlan
	Upgraded []string
	Skipped  []string
}

// Orchestrator ties the resolver's plan, the Builder, the Remover, and the
// installed DB together into the swap sequence of spec.md §4.I.
type Orchestrator struct {
	Resolver     *resolver.Resolver
	Builder      *sandbox.Builder
	Remover      *remover.Remover
	DB           *db.DB
	RecipeLookup func(name string) (*recipe.Recipe, error)
	Log          *logger.Logger
	StateDir     string
}

func (o *Orchestrator) stateFile() string {
	return filepath.Join(o.StateDir, "upgrade.json")
}

// Run plans the upgrade for scope and executes it package by package in
// plan order (spec.md §4.I "Plan" and "Execute").
func (o *Orchestrator) Run(ctx context.Context, scope resolver.Scope, resume bool, parallel int) (*Report, error) {
	plan, err := o.Resolver.UpgradePlan(scope)
	if err != nil {
		return nil, err
	}
	o.Log.Emit(logger.INFO, "upgrade plan: order=%v needs_rebuild=%v", plan.UpgradeOrder, plan.NeedsRebuild)

	needsRebuild := map[string]bool{}
	for _, n := range plan.NeedsRebuild {
		needsRebuild[n] = true
	}

	startIdx := 0
	resumeTarget := ""
	if resume {
		if st, err := loadState(o.stateFile()); err == nil && st.Target != "" {
			resumeTarget = st.Target
			for i, n := range plan.UpgradeOrder {
				if n == st.Target {
					startIdx = i
					break
				}
			}
			o.Log.Emit(logger.WARN, "upgrade: resuming at %s (phase %q, recorded %s)", st.Target, st.Phase, st.Timestamp)
		}
	}

	work := plan.UpgradeOrder[startIdx:]
	report := &Report{Plan: plan}

	if parallel > 1 {
		err = o.runParallel(ctx, work, needsRebuild, resumeTarget, parallel, report)
	} else {
		err = o.runSequential(ctx, work, needsRebuild, resumeTarget, report)
	}
	return report, err
}

// runSequential is the non-parallel path: every package is built, swapped,
// and registered strictly in plan order; the first fatal error stops the
// whole run (spec.md §7 "stop on the first fatal error for strict flows
// (upgrade)").
func (o *Orchestrator) runSequential(ctx context.Context, work []string, needsRebuild map[string]bool, resumeTarget string, report *Report) error {
	for _, name := range work {
		if !needsRebuild[name] {
			report.Skipped = append(report.Skipped, name)
			continue
		}
		if err := o.executeAndRecord(ctx, name, name == resumeTarget); err != nil {
			return err
		}
		report.Upgraded = append(report.Upgraded, name)
	}
	return nil
}

// runParallel partitions work into dependency-respecting batches, builds
// each batch's members concurrently, then serializes the remove+expand+
// register swap in plan order after the batch's builds complete (spec.md
// §4.I "Parallelism (optional)").
func (o *Orchestrator) runParallel(ctx context.Context, work []string, needsRebuild map[string]bool, resumeTarget string, parallel int, report *Report) error {
	batches, err := o.batch(work)
	if err != nil {
		return err
	}

	for _, batch := range batches {
		toBuild := make([]string, 0, len(batch))
		for _, name := range batch {
			if needsRebuild[name] {
				toBuild = append(toBuild, name)
			} else {
				report.Skipped = append(report.Skipped, name)
			}
		}

		built, buildErr := o.buildBatch(ctx, toBuild, resumeTarget, parallel)
		for _, name := range batch {
			if !needsRebuild[name] {
				continue
			}
			result, ok := built[name]
			if !ok {
				continue
			}
			if result.err != nil {
				o.persistFailure(name, result.rec, result.err, "build-in-sandbox")
				return fmt.Errorf("upgrade: %s: %w", name, result.err)
			}
			if err := o.swap(ctx, result.rec, result.artifact); err != nil {
				o.persistFailure(name, result.rec, err, "swap")
				return fmt.Errorf("upgrade: %s: %w", name, err)
			}
			report.Upgraded = append(report.Upgraded, name)
		}
		if buildErr != nil {
			return buildErr
		}
	}
	return nil
}

type buildOutcome struct {
	rec      *recipe.Recipe
	artifact string
	err      error
}

// buildBatch runs Builder.Build concurrently over names, bounded to at most
// maxConcurrent in flight at once. Each package's staging and chroot
// directories are private per spec.md §5's ordering guarantee ("Parallel
// builds do not observe each other's staging directories"), so no
// additional locking beyond the bound itself is needed here.
func (o *Orchestrator) buildBatch(ctx context.Context, names []string, resumeTarget string, maxConcurrent int) (map[string]buildOutcome, error) {
	out := make(map[string]buildOutcome, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	sem := make(chan struct{}, maxConcurrent)

	for _, name := range names {
		wg.Add(1)
		sem <- struct{}{}
		go func(name string) {
			defer wg.Done()
			defer func() { <-sem }()
			rec, err := o.RecipeLookup(name)
			if err != nil {
				mu.Lock()
				out[name] = buildOutcome{err: err}
				mu.Unlock()
				return
			}
			result, err := o.Builder.Build(ctx, rec, name == resumeTarget)
			mu.Lock()
			out[name] = buildOutcome{rec: rec, artifact: result.ArtifactPath, err: err}
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return out, nil
}

// batch groups names into dependency-respecting layers: a name's layer is
// one past the deepest layer of any of its build/runtime dependencies that
// also appear in names (spec.md §4.I: "within a batch no package depends on
// another in the same batch"). Layer size is not capped by parallel — that
// bound instead limits how many builds within one layer run concurrently,
// via buildBatch's semaphore.
func (o *Orchestrator) batch(names []string) ([][]string, error) {
	inWork := map[string]bool{}
	for _, n := range names {
		inWork[n] = true
	}

	layer := map[string]int{}
	for _, name := range names {
		rec, err := o.RecipeLookup(name)
		if err != nil {
			return nil, err
		}
		max := -1
		for _, dep := range append(append([]string{}, rec.Dependencies.Build...), rec.Dependencies.Runtime...) {
			if !inWork[dep] {
				continue
			}
			if l, ok := layer[dep]; ok && l > max {
				max = l
			}
		}
		layer[name] = max + 1
	}

	var maxLayer int
	for _, l := range layer {
		if l > maxLayer {
			maxLayer = l
		}
	}

	batches := make([][]string, maxLayer+1)
	for _, name := range names {
		l := layer[name]
		batches[l] = append(batches[l], name)
	}
	for _, b := range batches {
		sort.Strings(b)
	}
	return batches, nil
}

// executeAndRecord runs one package through build->swap and, on failure,
// persists the upgrade State naming exactly this package (spec.md §4.I
// step 6).
func (o *Orchestrator) executeAndRecord(ctx context.Context, name string, resumeThis bool) error {
	rec, err := o.RecipeLookup(name)
	if err != nil {
		return err
	}

	installedVersion := ""
	if installed, lookupErr := o.DB.Get(name); lookupErr == nil {
		installedVersion = installed.Version
		if !versions.Newer(rec.Version, installed.Version) {
			return nil // spec.md §4.I step 1: not newer, skip
		}
	}

	result, err := o.Builder.Build(ctx, rec, resumeThis)
	if err != nil {
		st := State{Target: name, Metafile: rec.Path, NewVersion: rec.Version, InstalledVersion: installedVersion, Timestamp: time.Now().UTC(), Phase: "build"}
		o.persist(st)
		return fmt.Errorf("upgrade: %s: build failed: %w", name, err)
	}

	if err := o.swap(ctx, rec, result.ArtifactPath); err != nil {
		st := State{Target: name, Metafile: rec.Path, NewVersion: rec.Version, InstalledVersion: installedVersion, Timestamp: time.Now().UTC(), Phase: "swap"}
		o.persist(st)
		return fmt.Errorf("upgrade: %s: swap failed: %w", name, err)
	}

	if resumeThis {
		if err := clearState(o.stateFile()); err != nil {
			o.Log.Emit(logger.WARN, "upgrade: clearing state: %v", err)
		}
	}
	return nil
}

// swap runs spec.md §4.I steps 3-5: remove the old version with force,
// expand the new artifact onto the live root (skipped when the recipe's
// own expand_to_root already did this as part of Build's state machine),
// and register the new record.
func (o *Orchestrator) swap(ctx context.Context, rec *recipe.Recipe, artifactPath string) error {
	if installed, err := o.DB.IsInstalled(rec.Name); err == nil && installed {
		if _, err := o.Remover.Remove(ctx, rec.Name, remover.Options{Force: true}); err != nil {
			return fmt.Errorf("remove old version: %w", err)
		}
	}

	if !rec.ExpandToRoot {
		if err := o.Builder.ExpandToRoot(ctx, rec, artifactPath); err != nil {
			return fmt.Errorf("expand to root: %w", err)
		}
	}

	if err := o.DB.Register(rec.Name, rec.Version, rec.Prefix, rec.Dependencies.Runtime, nil); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

func (o *Orchestrator) persist(st State) {
	if err := saveState(o.stateFile(), st); err != nil {
		o.Log.Emit(logger.ERROR, "upgrade: failed to persist state for %s: %v", st.Target, err)
	}
}

func (o *Orchestrator) persistFailure(name string, rec *recipe.Recipe, err error, phase string) {
	metafile, version := "", ""
	if rec != nil {
		metafile, version = rec.Path, rec.Version
	}
	o.persist(State{Target: name, Metafile: metafile, NewVersion: version, Timestamp: time.Now().UTC(), Phase: phase})
}
