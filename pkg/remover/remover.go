// Package remover implements component G of SPEC_FULL.md, spec.md §4.G:
// dependent checks, hooks, and safe prefix deletion for one installed
// package, with recursive orphan cleanup.
//
// Grounded on the teacher's pkg/emaint (the housekeeping-operation shape:
// check preconditions, act, report) for the overall Remove structure, and
// on pkg/resolver for the dependent/orphan queries it composes with.
package remover

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/fcanata00/porg/pkg/db"
	"github.com/fcanata00/porg/pkg/hooks"
	"github.com/fcanata00/porg/pkg/logger"
	"github.com/fcanata00/porg/pkg/porgerr"
	"github.com/fcanata00/porg/pkg/recipe"
	"github.com/fcanata00/porg/pkg/resolver"
)

// CriticalPrefixes mirrors pkg/resolver's set: these prefixes are never
// deleted, even with force (spec.md §4.F's
// critical-prefix list, reused here per §4.G step 4).
var CriticalPrefixes = resolver.CriticalPrefixes

// Options controls one Remove call (spec.md §4.G).
type Options struct {
	Force     bool
	Recursive bool
	DryRun    bool
}

// Report summarizes what Remove did (or, under DryRun, would do).
type Report struct {
	Name           string
	Dependents     []string
	PrefixDeleted  bool
	Unregistered   bool
	OrphansRemoved []string
}

// Remover ties the installed DB, the resolver's dependent/orphan queries,
// and recipe-declared hooks together into the remove operation.
type Remover struct {
	DB           *db.DB
	Resolver     *resolver.Resolver
	RecipeLookup func(name string) (*recipe.Recipe, error)
	Log          *logger.Logger
}

// Remove implements spec.md §4.G's seven-step operation.
func (rm *Remover) Remove(ctx context.Context, name string, opts Options) (*Report, error) {
	return rm.remove(ctx, name, opts, map[string]bool{})
}

// remove carries the in-progress removal set so recursive orphan cleanup
// can guard against removing the package that triggered it (spec.md §4.G
// step 6: "guarding against removing self").
func (rm *Remover) remove(ctx context.Context, name string, opts Options, inProgress map[string]bool) (*Report, error) {
	rec, err := rm.DB.Get(name)
	if err != nil {
		return nil, err
	}
	report := &Report{Name: rec.Name}

	dependents := rm.Resolver.ReverseDependents(rec.Name)
	if len(dependents) > 0 && !opts.Force {
		return nil, fmt.Errorf("remover: %s has dependents %v: %w", rec.Name, dependents, porgerr.ErrHasDependents)
	}
	report.Dependents = dependents

	if err := rm.runHooks(ctx, rec.Name, recipe.HookPreRemove, opts); err != nil {
		return nil, err
	}

	safe := !CriticalPrefixes[rec.Prefix] && !rm.prefixShared(rec.Name, rec.Prefix)
	switch {
	case opts.DryRun:
		rm.Log.Emit(logger.INFO, "dry-run: would delete prefix %s for %s (safe=%v)", rec.Prefix, rec.Name, safe)
	case safe:
		if err := os.RemoveAll(rec.Prefix); err != nil {
			return nil, fmt.Errorf("remover: delete prefix %s: %w", rec.Prefix, porgerr.ErrIO)
		}
		report.PrefixDeleted = true
	case opts.Force:
		rm.Log.Emit(logger.WARN, "%s: prefix %s is critical or shared, forced past deletion without removing files", rec.Name, rec.Prefix)
	default:
		return nil, fmt.Errorf("remover: %s: prefix %s is critical or shared, refusing without force: %w", rec.Name, rec.Prefix, porgerr.ErrPermissionDenied)
	}

	if !opts.DryRun {
		if _, err := rm.DB.Unregister(rec.Name); err != nil {
			return nil, err
		}
		report.Unregistered = true
	}

	if opts.Recursive {
		inProgress[rec.Name] = true
		orphans := rm.Resolver.Orphans()
		sort.Strings(orphans)
		for _, o := range orphans {
			if o == rec.Name || inProgress[o] {
				continue
			}
			sub, err := rm.remove(ctx, o, Options{Force: true, DryRun: opts.DryRun}, inProgress)
			if err != nil {
				rm.Log.Emit(logger.WARN, "%s: recursive orphan cleanup of %s failed: %v", rec.Name, o, err)
				continue
			}
			report.OrphansRemoved = append(report.OrphansRemoved, sub.Name)
		}
	}

	if err := rm.runHooks(ctx, rec.Name, recipe.HookPostRemove, opts); err != nil {
		return nil, err
	}

	return report, nil
}

// prefixShared reports whether another installed record (not named
// excludeName) shares the same prefix (spec.md §4.G step 4).
func (rm *Remover) prefixShared(excludeName, prefix string) bool {
	list, err := rm.DB.List()
	if err != nil {
		return false
	}
	for _, r := range list {
		if r.Name != excludeName && r.Prefix == prefix {
			return true
		}
	}
	return false
}

func (rm *Remover) runHooks(ctx context.Context, name, stage string, opts Options) error {
	if opts.DryRun || rm.RecipeLookup == nil {
		return nil
	}
	rec, err := rm.RecipeLookup(name)
	if err != nil || rec == nil {
		return nil // recipe no longer present in the ports tree: nothing to run
	}
	cmds := rec.Hooks[stage]
	if len(cmds) == 0 {
		return nil
	}
	env := hooks.Env{Name: rec.Name, Version: rec.Version, Prefix: rec.Prefix}
	_, err = hooks.RunStage(ctx, rec.Prefix, cmds, env, opts.Force, func(msg string) {
		rm.Log.Emit(logger.WARN, "%s: hook (forced past failure): %s", name, msg)
	})
	return err
}
