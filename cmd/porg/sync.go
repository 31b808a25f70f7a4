package main

import (
	"context"

	"github.com/spf13/pflag"

	"github.com/fcanata00/porg/pkg/logger"
	"github.com/fcanata00/porg/pkg/portsync"
)

// cmdSync implements spec.md §6's `sync` verb (SPEC_FULL.md §C.4): update
// the ports tree via git fetch/pull, or an initial clone.
func cmdSync(ctx context.Context, args []string) (int, error) {
	fs := pflag.NewFlagSet("sync", pflag.ContinueOnError)
	quiet := fs.Bool("quiet", false, "suppress non-error stdout mirroring")
	if err := fs.Parse(args); err != nil {
		return 2, err
	}

	a, err := newApp(*quiet, false)
	if err != nil {
		return 2, err
	}
	defer a.close()

	s := &portsync.Syncer{
		PortsDir: a.cfg.PortsDir,
		Repo:     a.cfg.GitRepo,
		Branch:   a.cfg.GitBranch,
		Log:      func(format string, args ...interface{}) { a.log.Emit(logger.INFO, format, args...) },
	}
	if err := s.Sync(ctx); err != nil {
		return 3, err
	}
	return 0, nil
}
