package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/fcanata00/porg/pkg/audit"
)

// cmdResolve implements spec.md §6's `resolve` verb, component H's
// revdep/depclean scan and repair, scoped to just those two scans (the
// fuller `audit` verb below adds the best-effort extras).
func cmdResolve(ctx context.Context, args []string) (int, error) {
	fs := pflag.NewFlagSet("resolve", pflag.ContinueOnError)
	scan := fs.Bool("scan", true, "run the revdep/depclean scans")
	fix := fs.Bool("fix", false, "rebuild packages the scan found broken")
	clean := fs.Bool("clean", false, "remove orphaned packages the scan found")
	all := fs.Bool("all", false, "apply both --fix and --clean")
	parallel := fs.Int("parallel", 1, "repair parallelism bound")
	dryRun := fs.Bool("dry-run", false, "compute and log repair actions without applying them")
	asJSON := fs.Bool("json", false, "emit the report as JSON")
	quiet := fs.Bool("quiet", false, "suppress non-error stdout mirroring")
	if err := fs.Parse(args); err != nil {
		return 2, err
	}
	if *all {
		*fix, *clean = true, true
	}

	a, err := newApp(*quiet, *fix || *clean)
	if err != nil {
		return 2, err
	}
	defer a.close()

	var report *audit.Report
	if *scan {
		report, err = a.auditor.Scan(ctx)
		if err != nil {
			return 2, err
		}
	}

	if *asJSON && report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(report)
	}

	opts := audit.RepairOptions{DryRun: *dryRun, AutoYes: true, Parallelism: *parallel}
	var repairErrs []error
	if *fix && report != nil {
		repairErrs = append(repairErrs, a.auditor.FixBroken(ctx, report, opts)...)
	}
	if *clean && report != nil {
		repairErrs = append(repairErrs, a.auditor.CleanOrphans(ctx, report, opts)...)
	}
	for _, e := range repairErrs {
		fmt.Fprintf(os.Stderr, "resolve: repair error: %v\n", e)
	}

	if report != nil && (len(report.BrokenLibs) > 0 || len(report.Orphans) > 0) {
		return 1, nil
	}
	return 0, nil
}
