package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/fcanata00/porg/pkg/resolver"
)

// cmdUpgrade implements spec.md §6's `upgrade [--pkg P|--world]` verb,
// component I.
func cmdUpgrade(ctx context.Context, args []string) (int, error) {
	fs := pflag.NewFlagSet("upgrade", pflag.ContinueOnError)
	pkg := fs.String("pkg", "", "upgrade a single package")
	world := fs.Bool("world", false, "upgrade every installed package")
	check := fs.Bool("check", false, "print the plan and exit without building")
	sync := fs.Bool("sync", false, "sync the ports tree before planning")
	resume := fs.Bool("resume", false, "resume a previously interrupted upgrade")
	parallel := fs.Int("parallel", 1, "batch parallelism bound (spec.md §4.I)")
	dryRun := fs.Bool("dry-run", false, "alias for --check")
	quiet := fs.Bool("quiet", false, "suppress non-error stdout mirroring")
	if err := fs.Parse(args); err != nil {
		return 2, err
	}
	if !*world && *pkg == "" {
		return 2, fmt.Errorf("upgrade: one of --pkg or --world is required")
	}

	a, err := newApp(*quiet, true)
	if err != nil {
		return 2, err
	}
	defer a.close()

	if *sync {
		if code, err := cmdSync(ctx, nil); err != nil {
			return code, fmt.Errorf("upgrade: sync: %w", err)
		}
	}

	scope := resolver.Scope{Single: *pkg, World: *world}

	if *check || *dryRun {
		plan, err := a.resolv.UpgradePlan(scope)
		if err != nil {
			return 2, err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return 0, enc.Encode(plan)
	}

	report, err := a.upgrader.Run(ctx, scope, *resume, *parallel)
	if err != nil {
		return 3, fmt.Errorf("upgrade: %w", err)
	}
	fmt.Printf("upgraded: %v\nskipped: %v\n", report.Upgraded, report.Skipped)
	return 0, nil
}
