package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fcanata00/porg/pkg/acquirer"
	"github.com/fcanata00/porg/pkg/config"
	"github.com/fcanata00/porg/pkg/hooks"
	"github.com/fcanata00/porg/pkg/logger"
	"github.com/fcanata00/porg/pkg/manifest"
	"github.com/fcanata00/porg/pkg/porgerr"
	"github.com/fcanata00/porg/pkg/recipe"
	"github.com/fcanata00/porg/pkg/session"
)

// writeManifest records a per-artifact digest manifest alongside the
// package (SPEC_FULL.md §C.2), so a later verify pass can re-check an
// artifact's contents without rebuilding it.
func writeManifest(stageRoot, artifactPath string) error {
	m, err := manifest.Build(stageRoot)
	if err != nil {
		return err
	}
	return manifest.Write(m, manifest.PathFor(artifactPath))
}

// states is the linear state machine of spec.md §4.F, executed strictly in
// this order. parse and resolve_deps are checkpoints only: by the time the
// orchestrator hands a Recipe to Build, the Recipe Loader and Resolver
// (components C and D) have already done that work for the whole install
// plan, not per package.
var states = []string{
	"parse", "resolve_deps", "download", "verify", "extract", "patch",
	"pre-build-hooks", "build-in-sandbox", "install-in-sandbox", "post-build-hooks",
	"merge-into-staging", "post-install-hooks", "strip", "package",
	"post-package-hooks", "expand-to-root",
}

var criticalPrefixes = map[string]bool{
	"/": true, "/usr": true, "/bin": true, "/sbin": true,
	"/lib": true, "/lib64": true, "/etc": true,
}

// Result is what Build produces on success.
type Result struct {
	ArtifactPath string
	StageRoot    string
}

// Builder drives one recipe through the state machine of spec.md §4.F.
type Builder struct {
	Acquirer  *acquirer.Acquirer
	Config    *config.Config
	Log       *logger.Logger
	StateDir  string // where per-package SessionState files live
	Isolator  Isolator // nil selects Detect(Config.ChrootMethod, ...) lazily
	Force     bool // downgrade hook failures to warnings
	Confirmed bool // explicit confirmation (or --yes) for expand-to-root
}

func (b *Builder) isolator() Isolator {
	if b.Isolator != nil {
		return b.Isolator
	}
	return Detect(b.Config.ChrootMethod, b.Config.WorkDir, func(msg string) { b.Log.Emit(logger.WARN, "%s", msg) })
}

func (b *Builder) stateFile(rec *recipe.Recipe) string {
	return filepath.Join(b.StateDir, rec.Key()+".state")
}

// checkpoint carries the working paths a completed state hands to the next
// one. SessionState itself (spec.md §3) is just {phase_index,
// current_package, timestamp, failure_reason}; it says where --resume
// should re-enter but not what that state needs to act on, so Builder keeps
// this small sidecar to avoid recomputing (or worse, re-running) completed
// states' side effects on resume.
type checkpoint struct {
	SourcePath    string `json:"source_path"`
	SourceDir     string `json:"source_dir"`
	SandboxRoot   string `json:"sandbox_root"`
	SandboxSource string `json:"sandbox_source"`
	SandboxDest   string `json:"sandbox_dest"`
	ArtifactPath  string `json:"artifact_path"`
}

func (b *Builder) checkpointFile(rec *recipe.Recipe) string {
	return filepath.Join(b.StateDir, rec.Key()+".checkpoint.json")
}

func saveCheckpoint(path string, cp checkpoint) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	buf, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.json.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func loadCheckpoint(path string) checkpoint {
	var cp checkpoint
	data, err := os.ReadFile(path)
	if err != nil {
		return cp
	}
	_ = json.Unmarshal(data, &cp)
	return cp
}

// stageBase redirects the staging root to the bootstrap root for
// stage: bootstrap|toolchain recipes; every other contract is unchanged
// (spec.md §4.F "Tie-breaks and edge cases").
func (b *Builder) stageBase(rec *recipe.Recipe) string {
	if rec.Stage == recipe.StageBootstrap || rec.Stage == recipe.StageToolchain {
		return filepath.Join(b.Config.WorkDir, "bootstrap-root", string(rec.Stage))
	}
	return filepath.Join(b.Config.WorkDir, "stage")
}

// Build runs rec through the full state machine. When resume is true and a
// SessionState exists for this package, execution re-enters at the state
// that previously failed instead of starting over (spec.md §4.F, §5
// testable property 7).
func (b *Builder) Build(ctx context.Context, rec *recipe.Recipe, resume bool) (Result, error) {
	stateFile := b.stateFile(rec)
	cpFile := b.checkpointFile(rec)
	startIdx := 0
	if resume {
		if st, err := session.Load(stateFile); err == nil {
			startIdx = st.PhaseIndex
			b.Log.Emit(logger.WARN, "resuming %s at state %q (%s)", rec.Key(), states[startIdx], st.FailureReason)
		}
	}

	cp := checkpoint{}
	if startIdx > 0 {
		cp = loadCheckpoint(cpFile)
	}

	var (
		sourcePath   = cp.SourcePath
		sourceDir    = cp.SourceDir
		env          = Env{Root: cp.SandboxRoot, SourceDir: cp.SandboxSource, DestDir: cp.SandboxDest}
		stageRoot    = filepath.Join(b.stageBase(rec), rec.Key())
		artifactPath = cp.ArtifactPath
	)

	fail := func(idx int, err error) (Result, error) {
		saveErr := session.Save(stateFile, session.State{
			PhaseIndex:     idx,
			CurrentPackage: rec.Key(),
			Timestamp:      time.Now().UTC(),
			FailureReason:  err.Error(),
		})
		if saveErr != nil {
			b.Log.Emit(logger.ERROR, "failed to persist session state for %s: %v", rec.Key(), saveErr)
		}
		b.Log.Emit(logger.ERROR, "%s: state %q failed: %v", rec.Key(), states[idx], err)
		return Result{}, err
	}

	saveCP := func() {
		if err := saveCheckpoint(cpFile, checkpoint{
			SourcePath: sourcePath, SourceDir: sourceDir,
			SandboxRoot: env.Root, SandboxSource: env.SourceDir, SandboxDest: env.DestDir,
			ArtifactPath: artifactPath,
		}); err != nil {
			b.Log.Emit(logger.WARN, "%s: persisting build checkpoint: %v", rec.Key(), err)
		}
	}

	for idx := startIdx; idx < len(states); idx++ {
		b.Log.Emit(logger.STAGE, "%s: entering state %q", rec.Key(), states[idx])
		if err := session.Save(stateFile, session.State{
			PhaseIndex:     idx,
			CurrentPackage: rec.Key(),
			Timestamp:      time.Now().UTC(),
		}); err != nil {
			b.Log.Emit(logger.WARN, "%s: persisting session state: %v", rec.Key(), err)
		}
		switch states[idx] {
		case "parse", "resolve_deps", "verify":
			// Checkpoints only; parse/resolve_deps are upstream work and
			// verify is folded into Acquirer.Acquire's own checksum/
			// signature gate (spec.md §4.E). Kept as named states purely
			// so --resume has the same granularity the spec lists.

		case "download":
			path, err := b.Acquirer.Acquire(ctx, rec.Sources)
			if err != nil {
				return fail(idx, err)
			}
			sourcePath = path
			saveCP()

		case "extract":
			extractDir := filepath.Join(b.Config.WorkDir, "extract", rec.Key())
			os.RemoveAll(extractDir)
			top, err := Extract(sourcePath, extractDir)
			if err != nil {
				return fail(idx, fmt.Errorf("%w: %v", porgerr.ErrExtractFailed, err))
			}
			sourceDir = top
			saveCP()

		case "patch":
			for _, p := range rec.Patches {
				if err := applyPatch(ctx, sourceDir, p); err != nil {
					return fail(idx, err)
				}
			}

		case "pre-build-hooks":
			if err := b.runHookStage(ctx, sourceDir, rec, recipe.HookPreBuild); err != nil {
				return fail(idx, err)
			}

		case "build-in-sandbox":
			iso := b.isolator()
			e, err := iso.Prepare(rec.Key(), filepath.Base(sourceDir))
			if err != nil {
				return fail(idx, err)
			}
			env = e
			if err := copyTree(sourceDir, env.SourceDir); err != nil {
				return fail(idx, fmt.Errorf("%w: %v", porgerr.ErrBuildFailed, err))
			}
			if err := iso.Run(ctx, env, rec.Build, buildEnv(rec, env, b.Config.Jobs)); err != nil {
				return fail(idx, fmt.Errorf("%w: %v", porgerr.ErrBuildFailed, err))
			}
			saveCP()

		case "install-in-sandbox":
			iso := b.isolator()
			if err := iso.Run(ctx, env, fakerootWrap(rec.Install), buildEnv(rec, env, b.Config.Jobs)); err != nil {
				return fail(idx, fmt.Errorf("%w: %v", porgerr.ErrInstallFailed, err))
			}

		case "post-build-hooks":
			if err := b.runHookStage(ctx, sourceDir, rec, recipe.HookPostBuild); err != nil {
				return fail(idx, err)
			}

		case "merge-into-staging":
			if err := copyTree(env.DestDir, stageRoot); err != nil {
				return fail(idx, fmt.Errorf("%w: %v", porgerr.ErrInstallFailed, err))
			}
			if err := b.isolator().Teardown(env); err != nil {
				b.Log.Emit(logger.WARN, "%s: sandbox teardown: %v", rec.Key(), err)
			}
			if treeIsEmpty(stageRoot) {
				b.Log.Emit(logger.WARN, "%s: staging directory is empty after install", rec.Key())
			}

		case "post-install-hooks":
			if err := b.runHookStage(ctx, stageRoot, rec, recipe.HookPostInstall); err != nil {
				return fail(idx, err)
			}

		case "strip":
			if b.Config.StripBinaries {
				if _, err := Strip(stageRoot); err != nil {
					return fail(idx, err)
				}
			}

		case "package":
			path, err := Package(stageRoot, filepath.Join(b.Config.CacheDir, "packages"), rec.Key(), b.Config.PackageFormat)
			if err != nil {
				return fail(idx, err)
			}
			artifactPath = path
			if err := writeManifest(stageRoot, artifactPath); err != nil {
				b.Log.Emit(logger.WARN, "%s: writing manifest: %v", rec.Key(), err)
			}
			saveCP()

		case "post-package-hooks":
			if err := b.runHookStage(ctx, stageRoot, rec, recipe.HookPostPackage); err != nil {
				return fail(idx, err)
			}

		case "expand-to-root":
			if rec.ExpandToRoot {
				if err := b.ExpandToRoot(ctx, rec, artifactPath); err != nil {
					return fail(idx, err)
				}
			}
		}
	}

	if err := session.Clear(stateFile); err != nil {
		b.Log.Emit(logger.WARN, "%s: clearing session state: %v", rec.Key(), err)
	}
	os.Remove(cpFile)
	return Result{ArtifactPath: artifactPath, StageRoot: stageRoot}, nil
}

func (b *Builder) runHookStage(ctx context.Context, dir string, rec *recipe.Recipe, stage string) error {
	cmds := rec.Hooks[stage]
	if len(cmds) == 0 {
		return nil
	}
	env := hooks.Env{Name: rec.Name, Version: rec.Version, Prefix: rec.Prefix, Jobs: strconv.Itoa(b.Config.Jobs)}
	_, err := hooks.RunStage(ctx, dir, cmds, env, b.Force, func(msg string) {
		b.Log.Emit(logger.WARN, "%s: hook (forced past failure): %s", rec.Key(), msg)
	})
	return err
}

// ExpandToRoot overlays the packaged artifact onto the real filesystem
// (spec.md §4.F "Expand-to-root"). Exported so the Upgrade Orchestrator
// (spec.md §4.I step 4) can invoke it directly on a package whose recipe
// does not itself set expand_to_root but that still needs its new artifact
// installed over the live root as part of a swap.
func (b *Builder) ExpandToRoot(ctx context.Context, rec *recipe.Recipe, artifactPath string) error {
	if !b.Confirmed {
		return fmt.Errorf("sandbox: expand-to-root for %s requires confirmation or --yes: %w", rec.Key(), porgerr.ErrPermissionDenied)
	}
	if err := b.runHookStage(ctx, "/", rec, recipe.HookPreExpandRoot); err != nil {
		return err
	}

	info, statErr := os.Stat(artifactPath)
	trivial := statErr == nil && info.Size() < 1024

	if criticalPrefixes[rec.Prefix] {
		if trivial {
			return fmt.Errorf("sandbox: refusing to overlay a trivial/empty artifact onto critical prefix %s: %w", rec.Prefix, porgerr.ErrPermissionDenied)
		}
		b.Log.Emit(logger.ERROR, "%s: expanding a non-empty artifact onto critical prefix %s", rec.Key(), rec.Prefix)
	}

	tmp, err := os.MkdirTemp("", "porg-expand-*")
	if err != nil {
		return fmt.Errorf("sandbox: expand-to-root: %w", porgerr.ErrIO)
	}
	defer os.RemoveAll(tmp)

	if _, err := Extract(artifactPath, tmp); err != nil {
		return fmt.Errorf("sandbox: expand-to-root extract: %w", porgerr.ErrExtractFailed)
	}
	if err := copyTree(tmp, "/"); err != nil {
		return fmt.Errorf("sandbox: expand-to-root overlay: %w", err)
	}

	return b.runHookStage(ctx, "/", rec, recipe.HookPostExpandRoot)
}

func applyPatch(ctx context.Context, dir, patchPath string) error {
	f, err := os.Open(patchPath)
	if err != nil {
		return fmt.Errorf("sandbox: open patch %s: %w", patchPath, porgerr.ErrPatchFailed)
	}
	defer f.Close()

	cmd := exec.CommandContext(ctx, "patch", "-p1")
	cmd.Dir = dir
	cmd.Stdin = f
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("sandbox: apply patch %s: %w (%s)", patchPath, porgerr.ErrPatchFailed, out)
	}
	return nil
}

// buildEnv is the whitelisted environment exported into the sandbox
// (spec.md §4.F: "DESTDIR ... JOBS ... set").
func buildEnv(rec *recipe.Recipe, env Env, jobs int) []string {
	return []string{
		"DESTDIR=" + env.DestDir,
		"JOBS=" + strconv.Itoa(jobs),
		"PKG_NAME=" + rec.Name,
		"PKG_VERSION=" + rec.Version,
		"PKG_PREFIX=" + rec.Prefix,
		"PATH=/usr/bin:/bin:/usr/sbin:/sbin",
		"HOME=/tmp",
	}
}

// fakerootWrap runs the install command under fakeroot so that file
// ownership recorded inside DESTDIR reads as root:root without requiring
// actual privilege (spec.md §4.F "Install staging").
func fakerootWrap(installCmd string) string {
	return "fakeroot -- /bin/sh -c " + shQuote(installCmd)
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
