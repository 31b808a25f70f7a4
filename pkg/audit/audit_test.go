package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcanata00/porg/pkg/db"
	"github.com/fcanata00/porg/pkg/logger"
	"github.com/fcanata00/porg/pkg/recipe"
	"github.com/fcanata00/porg/pkg/remover"
	"github.com/fcanata00/porg/pkg/resolver"
)

type fakeRecipes struct{ infos map[string]resolver.RecipeInfo }

func (f fakeRecipes) Recipe(name string) (resolver.RecipeInfo, bool) {
	i, ok := f.infos[name]
	return i, ok
}

type fakeInstalled struct{ records []resolver.InstalledInfo }

func (f fakeInstalled) Installed() []resolver.InstalledInfo { return f.records }

func setup(t *testing.T) (*Auditor, *db.DB, string) {
	t.Helper()
	dir := t.TempDir()
	database := db.Open(filepath.Join(dir, "installed.json"))
	log, err := logger.New(logger.Options{LogDir: filepath.Join(dir, "log")})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	a := &Auditor{DB: database, Log: log}
	return a, database, dir
}

func toInstalledInfo(t *testing.T, database *db.DB) []resolver.InstalledInfo {
	t.Helper()
	list, err := database.List()
	require.NoError(t, err)
	out := make([]resolver.InstalledInfo, 0, len(list))
	for _, r := range list {
		out = append(out, resolver.InstalledInfo{
			Name: r.Name, Version: r.Version, Prefix: r.Prefix,
			Dependencies: r.Dependencies, InstalledAt: r.InstalledAt,
		})
	}
	return out
}

func TestScanReportsOrphanWithNoDependents(t *testing.T) {
	a, database, dir := setup(t)
	prefix := filepath.Join(dir, "prefix-libfoo")
	require.NoError(t, os.MkdirAll(prefix, 0o755))
	require.NoError(t, database.Register("libfoo", "1.0", prefix, nil, nil))
	a.Resolver = resolver.New(fakeRecipes{}, fakeInstalled{records: toInstalledInfo(t, database)})

	report, err := a.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Orphans, 1)
	assert.Equal(t, "libfoo", report.Orphans[0].Pkg)
	assert.Equal(t, prefix, report.Orphans[0].Prefix)
	assert.NotEmpty(t, report.GeneratedAt)
}

func TestScanExcludesPackageWithDependents(t *testing.T) {
	a, database, dir := setup(t)
	libPrefix := filepath.Join(dir, "prefix-libfoo")
	appPrefix := filepath.Join(dir, "prefix-app")
	require.NoError(t, os.MkdirAll(libPrefix, 0o755))
	require.NoError(t, os.MkdirAll(appPrefix, 0o755))
	require.NoError(t, database.Register("libfoo", "1.0", libPrefix, nil, nil))
	require.NoError(t, database.Register("app", "1.0", appPrefix, []string{"libfoo"}, nil))
	a.Resolver = resolver.New(fakeRecipes{}, fakeInstalled{records: toInstalledInfo(t, database)})

	report, err := a.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Orphans, 1)
	assert.Equal(t, "app", report.Orphans[0].Pkg)
}

func TestResolvableFindsLibraryInSearchDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "libfoo.so.1"), []byte("x"), 0o644))
	assert.True(t, resolvable("libfoo.so.1", []string{dir}))
	assert.False(t, resolvable("libbar.so.1", []string{dir}))
}

func TestImportedLibrariesRejectsNonELF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notelf.bin")
	require.NoError(t, os.WriteFile(path, []byte("plain text, not an ELF file"), 0o644))
	_, ok := importedLibraries(path)
	assert.False(t, ok)
}

func TestLibtoolArchiveScanFindsLAFiles(t *testing.T) {
	a, database, dir := setup(t)
	prefix := filepath.Join(dir, "prefix-lib")
	require.NoError(t, os.MkdirAll(filepath.Join(prefix, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(prefix, "lib", "libfoo.la"), []byte(""), 0o644))
	require.NoError(t, database.Register("libfoo", "1.0", prefix, nil, nil))

	records, err := database.List()
	require.NoError(t, err)
	found := a.libtoolArchiveScan(records)
	require.Len(t, found, 1)
	assert.Equal(t, filepath.Join(prefix, "lib", "libfoo.la"), found[0])
}

func TestPythonOrphanScanFindsPycWithoutSource(t *testing.T) {
	a, database, dir := setup(t)
	prefix := filepath.Join(dir, "prefix-py")
	pycache := filepath.Join(prefix, "lib", "python3.11", "site-packages", "__pycache__")
	require.NoError(t, os.MkdirAll(pycache, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pycache, "mod.cpython-311.pyc"), []byte(""), 0o644))
	require.NoError(t, database.Register("pymod", "1.0", prefix, nil, nil))

	records, err := database.List()
	require.NoError(t, err)
	found := a.pythonOrphanScan(records)
	require.Len(t, found, 1)
}

func TestSymlinkScanFindsDanglingSymlink(t *testing.T) {
	a, database, dir := setup(t)
	prefix := filepath.Join(dir, "prefix-bin")
	binDir := filepath.Join(prefix, "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	require.NoError(t, os.Symlink(filepath.Join(binDir, "missing-target"), filepath.Join(binDir, "dangling")))
	require.NoError(t, database.Register("tool", "1.0", prefix, nil, nil))

	records, err := database.List()
	require.NoError(t, err)
	found := a.symlinkScan(records)
	require.Len(t, found, 1)
	assert.Equal(t, filepath.Join(binDir, "dangling"), found[0].Path)
}

func TestFixBrokenDryRunSkipsRecipeLookupAndBuilder(t *testing.T) {
	a, _, _ := setup(t)
	a.RecipeLookup = func(name string) (*recipe.Recipe, error) {
		t.Fatalf("RecipeLookup must not be called in dry-run mode")
		return nil, nil
	}
	report := &Report{BrokenLibs: []BrokenLib{{Pkg: "widget", File: "/x/libwidget.so", Ldd: "libmissing.so"}}}

	errs := a.FixBroken(context.Background(), report, RepairOptions{DryRun: true, Parallelism: 2})
	assert.Empty(t, errs)
}

func TestCleanOrphansHonorsDryRun(t *testing.T) {
	a, database, dir := setup(t)
	prefix := filepath.Join(dir, "prefix-orphan")
	require.NoError(t, os.MkdirAll(prefix, 0o755))
	require.NoError(t, database.Register("orphan", "1.0", prefix, nil, nil))

	log, err := logger.New(logger.Options{LogDir: filepath.Join(dir, "rmlog")})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	a.Remover = &remover.Remover{DB: database, Log: log, Resolver: resolver.New(fakeRecipes{}, fakeInstalled{records: toInstalledInfo(t, database)})}

	report := &Report{Orphans: []Orphan{{Pkg: "orphan", Prefix: prefix}}}
	errs := a.CleanOrphans(context.Background(), report, RepairOptions{DryRun: true, Parallelism: 2})
	assert.Empty(t, errs)
	assert.DirExists(t, prefix)
}
