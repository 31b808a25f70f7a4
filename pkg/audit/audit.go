// Package audit implements component H of SPEC_FULL.md, spec.md §4.H: the
// revdep/depclean scans and the repair actions that drive the Builder and
// Remover over their findings.
//
// Grounded on the teacher's pkg/gentoolkit package (the original revdep-
// rebuild/depclean/equery family this component descends from) for the
// overall "scan, collate into one report, repair on request" shape, and on
// pkg/util/elf for ELF inspection — here via the standard library's
// debug/elf, which already exposes ImportedLibraries() for exactly the
// DT_NEEDED walk spec.md §4.H's revdep-scan needs.
package audit

import (
	"context"
	"debug/elf"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fcanata00/porg/pkg/db"
	"github.com/fcanata00/porg/pkg/logger"
	"github.com/fcanata00/porg/pkg/recipe"
	"github.com/fcanata00/porg/pkg/remover"
	"github.com/fcanata00/porg/pkg/resolver"
	"github.com/fcanata00/porg/pkg/sandbox"
)

// BrokenLib is one ELF file whose dynamic dependency could not be resolved.
type BrokenLib struct {
	Pkg  string `json:"pkg"`
	File string `json:"file"`
	Ldd  string `json:"ldd"`
}

// BrokenSymlink is one dangling symlink found under a standard path.
type BrokenSymlink struct {
	Path string `json:"path"`
}

// Orphan is an installed package with no reverse dependents.
type Orphan struct {
	Pkg    string `json:"pkg"`
	Prefix string `json:"prefix"`
}

// Report is the stable JSON schema of spec.md §6.
type Report struct {
	GeneratedAt    time.Time       `json:"generated_at"`
	Host           string          `json:"host"`
	Kernel         string          `json:"kernel"`
	BrokenLibs     []BrokenLib     `json:"broken_libs"`
	BrokenSymlinks []BrokenSymlink `json:"broken_symlinks"`
	Orphans        []Orphan        `json:"orphans"`
	PkgconfLA      []string        `json:"pkgconf_la"`
	PythonOrphans  []string        `json:"python_orphans"`
	Security       []string        `json:"security"`
}

// standardLibDirs are consulted, alongside every installed package's own
// lib directories, when resolving an ELF's DT_NEEDED entries.
var standardLibDirs = []string{"/lib", "/lib64", "/usr/lib", "/usr/lib64", "/usr/local/lib"}

// standardScanSuffixes are the paths revdep-scan and the symlink scan walk
// within each installed package's prefix (spec.md §4.H).
var standardScanSuffixes = []string{
	"bin", "sbin", "lib", "lib64",
	filepath.Join("usr", "lib"), filepath.Join("usr", "bin"), filepath.Join("usr", "sbin"), filepath.Join("usr", "lib64"),
}

// Auditor composes the installed DB, the resolver's orphan query, and
// repair hooks into the Builder and Remover.
type Auditor struct {
	DB           *db.DB
	Resolver     *resolver.Resolver
	Builder      *sandbox.Builder
	Remover      *remover.Remover
	RecipeLookup func(name string) (*recipe.Recipe, error)
	Log          *logger.Logger
}

// Scan runs every scan in spec.md §4.H and collates them into one Report.
func (a *Auditor) Scan(ctx context.Context) (*Report, error) {
	records, err := a.DB.List()
	if err != nil {
		return nil, err
	}

	report := &Report{GeneratedAt: time.Now().UTC()}
	if host, err := os.Hostname(); err == nil {
		report.Host = host
	}
	report.Kernel = kernelVersion()

	report.BrokenLibs = a.revdepScan(records)
	report.BrokenSymlinks = a.symlinkScan(records)
	report.PkgconfLA = a.libtoolArchiveScan(records)
	report.PythonOrphans = a.pythonOrphanScan(records)
	report.Security = a.securityScan(records)

	for _, name := range a.Resolver.Orphans() {
		rec, err := a.DB.Get(name)
		if err != nil {
			continue
		}
		report.Orphans = append(report.Orphans, Orphan{Pkg: rec.Name, Prefix: rec.Prefix})
	}
	return report, nil
}

func kernelVersion() string {
	out, err := exec.Command("uname", "-r").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// revdepScan walks each installed package's standard subdirectories, and
// for every ELF file resolves its DT_NEEDED entries; the first unresolved
// one marks the package broken and short-circuits the rest of its walk
// (spec.md §4.H "Short-circuit per package on first broken binary").
func (a *Auditor) revdepScan(records []db.Record) []BrokenLib {
	libDirs := append([]string(nil), standardLibDirs...)
	for _, r := range records {
		for _, suffix := range []string{"lib", "lib64", filepath.Join("usr", "lib"), filepath.Join("usr", "lib64")} {
			libDirs = append(libDirs, filepath.Join(r.Prefix, suffix))
		}
	}

	var broken []BrokenLib
	for _, r := range records {
		found := a.scanPackageForBrokenLibs(r, libDirs, &broken)
		if found {
			continue
		}
	}
	return broken
}

func (a *Auditor) scanPackageForBrokenLibs(r db.Record, libDirs []string, broken *[]BrokenLib) bool {
	for _, suffix := range standardScanSuffixes {
		dir := filepath.Join(r.Prefix, suffix)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			path := filepath.Join(dir, e.Name())
			needed, ok := importedLibraries(path)
			if !ok {
				continue
			}
			for _, lib := range needed {
				if !resolvable(lib, libDirs) {
					*broken = append(*broken, BrokenLib{Pkg: r.Name, File: path, Ldd: lib})
					return true
				}
			}
		}
	}
	return false
}

func importedLibraries(path string) ([]string, bool) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()
	libs, err := f.ImportedLibraries()
	if err != nil {
		return nil, false
	}
	return libs, true
}

func resolvable(lib string, dirs []string) bool {
	if filepath.IsAbs(lib) {
		_, err := os.Stat(lib)
		return err == nil
	}
	for _, d := range dirs {
		if _, err := os.Stat(filepath.Join(d, lib)); err == nil {
			return true
		}
	}
	return false
}

// symlinkScan is a best-effort, report-only pass for dangling symlinks
// under each package's standard directories (spec.md §4.H "Additional
// scans").
func (a *Auditor) symlinkScan(records []db.Record) []BrokenSymlink {
	var out []BrokenSymlink
	for _, r := range records {
		for _, suffix := range standardScanSuffixes {
			dir := filepath.Join(r.Prefix, suffix)
			entries, err := os.ReadDir(dir)
			if err != nil {
				continue
			}
			for _, e := range entries {
				path := filepath.Join(dir, e.Name())
				info, err := os.Lstat(path)
				if err != nil || info.Mode()&os.ModeSymlink == 0 {
					continue
				}
				if _, err := os.Stat(path); err != nil {
					out = append(out, BrokenSymlink{Path: path})
				}
			}
		}
	}
	return out
}

// libtoolArchiveScan reports .la libtool archive files, which commonly
// reference build-time paths that no longer exist after a package is
// rebuilt elsewhere (spec.md §4.H "Additional scans").
func (a *Auditor) libtoolArchiveScan(records []db.Record) []string {
	var out []string
	for _, r := range records {
		filepath.Walk(r.Prefix, func(path string, info os.FileInfo, err error) error {
			if err == nil && info != nil && !info.IsDir() && strings.HasSuffix(path, ".la") {
				out = append(out, path)
			}
			return nil
		})
	}
	sort.Strings(out)
	return out
}

// pythonOrphanScan reports compiled .pyc files whose source .py no longer
// exists, a common leftover after an interpreter or module upgrade
// (spec.md §4.H "Additional scans").
func (a *Auditor) pythonOrphanScan(records []db.Record) []string {
	var out []string
	for _, r := range records {
		filepath.Walk(r.Prefix, func(path string, info os.FileInfo, err error) error {
			if err != nil || info == nil || info.IsDir() || !strings.HasSuffix(path, ".pyc") {
				return nil
			}
			base := strings.TrimSuffix(filepath.Base(path), ".pyc")
			srcDir := filepath.Dir(path)
			if filepath.Base(srcDir) == "__pycache__" {
				// __pycache__/mod.cpython-311.pyc compiles ../mod.py
				srcDir = filepath.Dir(srcDir)
				if i := strings.Index(base, "."); i >= 0 {
					base = base[:i]
				}
			}
			srcCandidate := filepath.Join(srcDir, base+".py")
			if _, err := os.Stat(srcCandidate); err != nil {
				out = append(out, path)
			}
			return nil
		})
	}
	sort.Strings(out)
	return out
}

// securityScan invokes an external vulnerability scanner when one is
// present on PATH (spec.md §4.H: "optional invocation ... when present").
// Neither trivy nor grype being installed is not an error; it just leaves
// this field empty.
func (a *Auditor) securityScan(records []db.Record) []string {
	scanner := ""
	for _, candidate := range []string{"trivy", "grype"} {
		if _, err := exec.LookPath(candidate); err == nil {
			scanner = candidate
			break
		}
	}
	if scanner == "" {
		return nil
	}
	var out []string
	for _, r := range records {
		cmd := exec.Command(scanner, "fs", "--quiet", r.Prefix)
		if scanner == "grype" {
			cmd = exec.Command(scanner, "dir:"+r.Prefix, "-q")
		}
		result, err := cmd.CombinedOutput()
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(string(result)); s != "" {
			out = append(out, fmt.Sprintf("%s: %s", r.Name, s))
		}
	}
	return out
}

// RepairOptions controls FixBroken and CleanOrphans (spec.md §4.H "Both
// honor dry-run, auto-yes, and a parallelism bound").
type RepairOptions struct {
	DryRun      bool
	AutoYes     bool
	Parallelism int
}

// FixBroken invokes the Builder over each broken package's recipe
// (spec.md §4.H "Repair actions").
func (a *Auditor) FixBroken(ctx context.Context, report *Report, opts RepairOptions) []error {
	names := map[string]bool{}
	for _, b := range report.BrokenLibs {
		names[b.Pkg] = true
	}
	return a.forEachBounded(namesOf(names), opts, func(name string) error {
		if opts.DryRun {
			a.Log.Emit(logger.INFO, "dry-run: would rebuild %s (broken dynamic dependency)", name)
			return nil
		}
		rec, err := a.RecipeLookup(name)
		if err != nil {
			return err
		}
		_, err = a.Builder.Build(ctx, rec, false)
		return err
	})
}

// CleanOrphans invokes the Remover on every orphan the scan found
// (spec.md §4.H "Repair actions").
func (a *Auditor) CleanOrphans(ctx context.Context, report *Report, opts RepairOptions) []error {
	names := make([]string, 0, len(report.Orphans))
	for _, o := range report.Orphans {
		names = append(names, o.Pkg)
	}
	return a.forEachBounded(names, opts, func(name string) error {
		_, err := a.Remover.Remove(ctx, name, remover.Options{Force: true, DryRun: opts.DryRun})
		return err
	})
}

func namesOf(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// forEachBounded runs fn over names with at most opts.Parallelism
// concurrent calls (spec.md §5 "Prefer a worker-pool abstraction with a
// bounded queue"), collecting every error rather than stopping at the
// first, since repair is a best-effort batch operation.
func (a *Auditor) forEachBounded(names []string, opts RepairOptions, fn func(string) error) []error {
	n := opts.Parallelism
	if n < 1 {
		n = 1
	}
	sem := make(chan struct{}, n)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for _, name := range names {
		wg.Add(1)
		sem <- struct{}{}
		go func(name string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(name); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
		}(name)
	}
	wg.Wait()
	return errs
}
