package main

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/fcanata00/porg/pkg/logger"
)

// cmdInstall implements spec.md §6's `install <pkg…>` verb: resolve each
// named package's build order, acquire and build every package in that
// order, register into the installed DB (spec.md §2's data flow for a
// single install: Recipe Loader -> Resolver -> Acquirer -> Builder -> DB).
func cmdInstall(ctx context.Context, args []string) (int, error) {
	fs := pflag.NewFlagSet("install", pflag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "compute the plan without building or registering")
	yes := fs.Bool("yes", false, "auto-confirm expand-to-root overlays")
	quiet := fs.Bool("quiet", false, "suppress non-error stdout mirroring")
	if err := fs.Parse(args); err != nil {
		return 2, err
	}
	targets := fs.Args()
	if len(targets) == 0 {
		return 2, fmt.Errorf("install: at least one package name is required")
	}

	a, err := newApp(*quiet, *yes)
	if err != nil {
		return 2, err
	}
	defer a.close()

	for _, target := range targets {
		order, err := a.resolv.Resolve(target)
		if err != nil {
			return 2, fmt.Errorf("install: %s: %w", target, err)
		}
		a.log.Emit(logger.INFO, "install plan for %s: %v", target, order)

		if *dryRun {
			continue
		}

		for _, name := range order {
			if installed, _ := a.database.IsInstalled(name); installed {
				continue
			}
			rec, err := a.recipes.Lookup(name)
			if err != nil {
				return 3, fmt.Errorf("install: %w", err)
			}
			result, err := a.builder.Build(ctx, rec, false)
			if err != nil {
				return 3, fmt.Errorf("install: build %s: %w", name, err)
			}
			if rec.ExpandToRoot {
				if err := a.builder.ExpandToRoot(ctx, rec, result.ArtifactPath); err != nil {
					return 3, fmt.Errorf("install: expand %s: %w", name, err)
				}
			}
			if err := a.database.Register(rec.Name, rec.Version, rec.Prefix, rec.Dependencies.Runtime, nil); err != nil {
				return 3, fmt.Errorf("install: register %s: %w", name, err)
			}
		}
	}
	return 0, nil
}
