// Package sandbox implements component F of SPEC_FULL.md, the Sandboxed
// Builder of spec.md §4.F — the state machine that turns one recipe into a
// packaged artifact inside an isolated filesystem.
//
// Isolation is modeled as a capability-typed interface with two
// implementations, per spec.md §9's "Sandboxing fallback" design note:
// Namespace is the primary primitive (Linux mount/pid/net namespaces via
// golang.org/x/sys/unix, the teacher's own low-level syscall dependency —
// see pkg/process for its process-table reads), Chroot is the privileged
// fallback selected at runtime with a logged warning when namespaces are
// unavailable.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/fcanata00/porg/pkg/porgerr"
)

// Env is the filesystem layout of one prepared sandbox (spec.md §4.F
// "Sandbox contract").
type Env struct {
	Root      string // private overlay root
	SourceDir string // Root/<name>/, the extracted source tree
	DestDir   string // install target inside Root, exported as $DESTDIR
}

// Isolator prepares, runs commands inside, and tears down one sandbox.
type Isolator interface {
	Name() string
	Prepare(pkgKey, sourceName string) (Env, error)
	Run(ctx context.Context, env Env, shellCommand string, extraEnv []string) error
	Teardown(env Env) error
}

// bindTargets are read-only bound into every sandbox so the host toolchain
// is visible without granting write access to it (spec.md §4.F).
var bindTargets = []string{"/usr", "/bin", "/lib", "/lib64"}

// Detect picks an Isolator for the configured method, falling back to
// Chroot with a logged warning when the namespace primitive is unavailable
// (spec.md §4.F, §9).
func Detect(method string, workRoot string, warn func(string)) Isolator {
	switch method {
	case "chroot":
		return &Chroot{WorkRoot: workRoot}
	default:
		ns := &Namespace{WorkRoot: workRoot}
		if ns.Available() {
			return ns
		}
		if warn != nil {
			warn("namespace sandbox primitive unavailable, falling back to chroot (requires privilege)")
		}
		return &Chroot{WorkRoot: workRoot}
	}
}

// Namespace isolates via Linux mount/pid/net namespaces.
type Namespace struct {
	WorkRoot string
}

func (n *Namespace) Name() string { return "namespace" }

// Available probes for CLONE_NEWNS support by attempting a minimal unshare
// in a throwaway child. Any failure (missing kernel support, missing
// CAP_SYS_ADMIN) is treated as unavailable rather than fatal.
func (n *Namespace) Available() bool {
	cmd := exec.Command("true")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWNET,
	}
	return cmd.Run() == nil
}

func (n *Namespace) Prepare(pkgKey, sourceName string) (Env, error) {
	root := filepath.Join(n.WorkRoot, "chroot_root", pkgKey)
	env := Env{
		Root:      root,
		SourceDir: filepath.Join(root, sourceName),
		DestDir:   filepath.Join(root, "dest"),
	}
	for _, dir := range []string{root, env.SourceDir, env.DestDir, filepath.Join(root, "dev"), filepath.Join(root, "proc"), filepath.Join(root, "tmp")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Env{}, fmt.Errorf("sandbox: mkdir %s: %w", dir, porgerr.ErrSandboxUnavailable)
		}
	}
	for _, target := range bindTargets {
		mnt := filepath.Join(root, target)
		if err := os.MkdirAll(mnt, 0o755); err != nil {
			continue
		}
		if err := unix.Mount(target, mnt, "", unix.MS_BIND|unix.MS_RDONLY, ""); err != nil {
			// Best effort: a missing bind target (e.g. no /lib64 on this
			// host) degrades toolchain visibility but is not fatal on its
			// own; the build step will fail loudly if it actually needed it.
			continue
		}
	}
	return env, nil
}

// Run executes shellCommand inside env with a fresh mount/pid/net namespace
// and the sandbox root as its filesystem root. Network namespaces with no
// configured interface give the "network denied by default" property of
// spec.md §4.F without an explicit firewall rule.
func (n *Namespace) Run(ctx context.Context, env Env, shellCommand string, extraEnv []string) error {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", shellCommand)
	cmd.Dir = env.SourceDir
	cmd.Env = extraEnv
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWNET,
		Chroot:     env.Root,
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sandbox: namespace run failed: %w", err)
	}
	return nil
}

func (n *Namespace) Teardown(env Env) error {
	for _, target := range bindTargets {
		_ = unix.Unmount(filepath.Join(env.Root, target), unix.MNT_DETACH)
	}
	return os.RemoveAll(env.Root)
}

// Chroot isolates via a plain chroot(2), the privileged fallback of
// spec.md §4.F and §9. It requires the caller to already be root.
type Chroot struct {
	WorkRoot string
}

func (c *Chroot) Name() string { return "chroot" }

func (c *Chroot) Prepare(pkgKey, sourceName string) (Env, error) {
	root := filepath.Join(c.WorkRoot, "chroot_root", pkgKey)
	env := Env{
		Root:      root,
		SourceDir: filepath.Join(root, sourceName),
		DestDir:   filepath.Join(root, "dest"),
	}
	for _, dir := range []string{root, env.SourceDir, env.DestDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Env{}, fmt.Errorf("sandbox: mkdir %s: %w", dir, porgerr.ErrSandboxUnavailable)
		}
	}
	for _, target := range bindTargets {
		mnt := filepath.Join(root, target)
		if err := os.MkdirAll(mnt, 0o755); err != nil {
			continue
		}
		_ = unix.Mount(target, mnt, "", unix.MS_BIND|unix.MS_RDONLY, "")
	}
	return env, nil
}

func (c *Chroot) Run(ctx context.Context, env Env, shellCommand string, extraEnv []string) error {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", shellCommand)
	cmd.Dir = env.SourceDir
	cmd.Env = extraEnv
	cmd.SysProcAttr = &syscall.SysProcAttr{Chroot: env.Root}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sandbox: chroot run failed: %w", err)
	}
	return nil
}

func (c *Chroot) Teardown(env Env) error {
	for _, target := range bindTargets {
		_ = unix.Unmount(filepath.Join(env.Root, target), unix.MNT_DETACH)
	}
	return os.RemoveAll(env.Root)
}
