package main

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/fcanata00/porg/pkg/remover"
)

// cmdRemove implements spec.md §6's `remove <pkg…>` verb, component G.
func cmdRemove(ctx context.Context, args []string) (int, error) {
	fs := pflag.NewFlagSet("remove", pflag.ContinueOnError)
	force := fs.Bool("force", false, "remove despite dependents or a critical/shared prefix")
	recursive := fs.Bool("recursive", false, "also remove packages left orphaned by this removal")
	dryRun := fs.Bool("dry-run", false, "compute and log decisions without mutating anything")
	quiet := fs.Bool("quiet", false, "suppress non-error stdout mirroring")
	if err := fs.Parse(args); err != nil {
		return 2, err
	}
	targets := fs.Args()
	if len(targets) == 0 {
		return 2, fmt.Errorf("remove: at least one package name is required")
	}

	a, err := newApp(*quiet, false)
	if err != nil {
		return 2, err
	}
	defer a.close()

	opts := remover.Options{Force: *force, Recursive: *recursive, DryRun: *dryRun}

	hadDependents := false
	for _, target := range targets {
		report, err := a.remov.Remove(ctx, target, opts)
		if err != nil {
			hadDependents = true
			fmt.Printf("remove: %s: %v\n", target, err)
			continue
		}
		fmt.Printf("removed %s (dependents=%v orphans=%v)\n", report.Name, report.Dependents, report.OrphansRemoved)
	}
	if hadDependents {
		return 1, nil
	}
	return 0, nil
}
