// Package portsync implements the `sync` CLI verb of spec.md §6, which
// names the verb but assigns it no component: SPEC_FULL.md §C.4 grounds it
// on the teacher's pkg/sync/rsync.go and sync/rsync.go (an external-remote
// tree update) but against a git-backed ports tree instead of the teacher's
// rsync mirror, since spec.md §6 configures sync with GIT_REPO/GIT_BRANCH.
package portsync

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fcanata00/porg/pkg/porgerr"
)

// Syncer updates the recipe ports tree from a git remote.
type Syncer struct {
	PortsDir string
	Repo     string
	Branch   string
	Log      func(format string, args ...interface{})
}

func (s *Syncer) log(format string, args ...interface{}) {
	if s.Log != nil {
		s.Log(format, args...)
	}
}

// Sync clones PortsDir from Repo/Branch if it does not yet exist as a git
// work tree, or otherwise fetches and fast-forwards it (spec.md §6:
// "Update ports tree", driven by GIT_REPO/GIT_BRANCH).
func (s *Syncer) Sync(ctx context.Context) error {
	if s.Repo == "" {
		return fmt.Errorf("portsync: GIT_REPO is not configured: %w", porgerr.ErrInvalidInput)
	}

	if _, err := os.Stat(filepath.Join(s.PortsDir, ".git")); err != nil {
		return s.clone(ctx)
	}
	return s.pull(ctx)
}

func (s *Syncer) clone(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.PortsDir), 0o755); err != nil {
		return fmt.Errorf("portsync: mkdir %s: %w", s.PortsDir, porgerr.ErrIO)
	}
	args := []string{"clone"}
	if s.Branch != "" {
		args = append(args, "--branch", s.Branch)
	}
	args = append(args, s.Repo, s.PortsDir)

	s.log("portsync: cloning %s into %s", s.Repo, s.PortsDir)
	cmd := exec.CommandContext(ctx, "git", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("portsync: git clone: %w (%s)", porgerr.ErrIO, out)
	}
	return nil
}

func (s *Syncer) pull(ctx context.Context) error {
	s.log("portsync: fetching updates for %s", s.PortsDir)
	fetch := exec.CommandContext(ctx, "git", "-C", s.PortsDir, "fetch", "origin")
	if out, err := fetch.CombinedOutput(); err != nil {
		return fmt.Errorf("portsync: git fetch: %w (%s)", porgerr.ErrIO, out)
	}

	branch := s.Branch
	if branch == "" {
		branch = "HEAD"
	}
	merge := exec.CommandContext(ctx, "git", "-C", s.PortsDir, "merge", "--ff-only", "origin/"+branch)
	if out, err := merge.CombinedOutput(); err != nil {
		return fmt.Errorf("portsync: git merge --ff-only: %w (%s)", porgerr.ErrIO, out)
	}
	return nil
}
