package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/fcanata00/porg/pkg/audit"
)

// cmdAudit implements spec.md §6's `audit` verb: the full scan (revdep,
// depclean, and the best-effort extras of SPEC_FULL.md §C's supplemented
// scans) plus optional rebuild-needed reporting and repair, always
// collated into the stable-schema JSON report of spec.md §6.
func cmdAudit(ctx context.Context, args []string) (int, error) {
	fs := pflag.NewFlagSet("audit", pflag.ContinueOnError)
	fs.Bool("scan", true, "run the full scan (default)")
	fix := fs.Bool("fix", false, "rebuild broken packages")
	clean := fs.Bool("clean", false, "remove orphans")
	all := fs.Bool("all", false, "apply both --fix and --clean")
	rebuildNeeded := fs.Bool("rebuild-needed", false, "also report upgrade_plan's needs_rebuild set")
	parallel := fs.Int("parallel", 1, "repair parallelism bound")
	dryRun := fs.Bool("dry-run", false, "compute and log repair actions without applying them")
	asJSON := fs.Bool("json", true, "emit the report as JSON (default)")
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

	report, err := a.auditor.Scan(ctx)
	if err != nil {
		return 2, err
	}

	type fullReport struct {
		*audit.Report
		NeedsRebuild []string `json:"needs_rebuild,omitempty"`
	}
	out := fullReport{Report: report}
	if *rebuildNeeded {
		if plan, err := a.resolv.UpgradePlan(worldScope()); err == nil {
			out.NeedsRebuild = plan.NeedsRebuild
		}
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(out)
	}

	opts := audit.RepairOptions{DryRun: *dryRun, AutoYes: true, Parallelism: *parallel}
	var repairErrs []error
	if *fix {
		repairErrs = append(repairErrs, a.auditor.FixBroken(ctx, report, opts)...)
	}
	if *clean {
		repairErrs = append(repairErrs, a.auditor.CleanOrphans(ctx, report, opts)...)
	}
	for _, e := range repairErrs {
		fmt.Fprintf(os.Stderr, "audit: repair error: %v\n", e)
	}

	if len(report.BrokenLibs) > 0 || len(report.Orphans) > 0 {
		return 1, nil
	}
	return 0, nil
}
