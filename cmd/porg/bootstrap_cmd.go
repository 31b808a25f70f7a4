package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/fcanata00/porg/pkg/bootstrap"
)

// cmdBootstrap implements spec.md §6's `bootstrap` verb, component J:
// `prepare | list | verify | rebuild <phase> | build [--dry] | resume |
// enter | iso | clean | full`. This core implements the subset that is
// engineering spine rather than ISO/chroot shell tooling (§1 "Out of
// scope": "ISO image generation"): list, verify, build, resume, rebuild.
func cmdBootstrap(ctx context.Context, args []string) (int, error) {
	if len(args) == 0 {
		return 2, fmt.Errorf("bootstrap: a subverb is required (list|verify|build|resume|rebuild)")
	}
	sub, rest := args[0], args[1:]

	fs := pflag.NewFlagSet("bootstrap", pflag.ContinueOnError)
	manifestPath := fs.String("manifest", "/etc/porg/bootstrap.toml", "bootstrap phase manifest")
	quiet := fs.Bool("quiet", false, "suppress non-error stdout mirroring")
	if err := fs.Parse(rest); err != nil {
		return 2, err
	}

	a, err := newApp(*quiet, true)
	if err != nil {
		return 2, err
	}
	defer a.close()

	m, err := bootstrap.LoadManifest(*manifestPath)
	if err != nil {
		return 2, err
	}
	orch := &bootstrap.Orchestrator{
		Builder:  a.builder,
		Log:      a.log,
		StateDir: filepath.Join(a.cfg.WorkDir, "bootstrap-state"),
		LockPath: filepath.Join(a.cfg.WorkDir, "bootstrap"),
	}

	switch sub {
	case "list":
		for _, p := range m.Phases {
			fmt.Println(p.Name)
		}
		return 0, nil

	case "verify":
		for _, st := range orch.Verify(m) {
			fmt.Printf("%s: %s\n", st.Name, st.Status)
		}
		return 0, nil

	case "build":
		if err := orch.Run(ctx, m, false); err != nil {
			return 3, err
		}
		return 0, nil

	case "resume":
		if err := orch.Run(ctx, m, true); err != nil {
			return 3, err
		}
		return 0, nil

	case "rebuild":
		if fs.NArg() == 0 {
			return 2, fmt.Errorf("bootstrap rebuild: a phase name is required")
		}
		if err := orch.Rebuild(ctx, m, fs.Arg(0)); err != nil {
			return 3, err
		}
		return 0, nil

	default:
		return 2, fmt.Errorf("bootstrap: unsupported subverb %q in this core (ISO/chroot shell tooling is out of scope, spec.md §1)", sub)
	}
}
