package remover

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcanata00/porg/pkg/db"
	"github.com/fcanata00/porg/pkg/logger"
	"github.com/fcanata00/porg/pkg/porgerr"
	"github.com/fcanata00/porg/pkg/resolver"
)

type fakeRecipes struct{ infos map[string]resolver.RecipeInfo }

func (f fakeRecipes) Recipe(name string) (resolver.RecipeInfo, bool) {
	i, ok := f.infos[name]
	return i, ok
}

type fakeInstalled struct{ records []resolver.InstalledInfo }

func (f fakeInstalled) Installed() []resolver.InstalledInfo { return f.records }

func setup(t *testing.T) (*Remover, *db.DB, string) {
	t.Helper()
	dir := t.TempDir()
	database := db.Open(filepath.Join(dir, "installed.json"))
	log, err := logger.New(logger.Options{LogDir: filepath.Join(dir, "log")})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	rm := &Remover{DB: database, Log: log}
	return rm, database, dir
}

func mkPrefix(t *testing.T, dir string) string {
	t.Helper()
	p, err := os.MkdirTemp(dir, "prefix-*")
	require.NoError(t, err)
	return p
}

func TestRemoveDeletesPrefixAndUnregisters(t *testing.T) {
	rm, database, dir := setup(t)
	prefix := mkPrefix(t, dir)
	require.NoError(t, database.Register("hello", "2.12", prefix, nil, nil))
	rm.Resolver = resolver.New(fakeRecipes{}, fakeInstalled{})

	report, err := rm.Remove(context.Background(), "hello", Options{})
	require.NoError(t, err)
	assert.True(t, report.PrefixDeleted)
	assert.True(t, report.Unregistered)
	assert.NoDirExists(t, prefix)

	installed, err := database.IsInstalled("hello")
	require.NoError(t, err)
	assert.False(t, installed)
}

func TestRemoveRefusesWithDependentsUnlessForced(t *testing.T) {
	rm, database, dir := setup(t)
	prefix := mkPrefix(t, dir)
	require.NoError(t, database.Register("libfoo", "1.0", prefix, nil, nil))
	require.NoError(t, database.Register("app", "1.0", mkPrefix(t, dir), []string{"libfoo"}, nil))

	rm.Resolver = resolver.New(fakeRecipes{}, fakeInstalled{records: toInstalledInfo(t, database)})

	_, err := rm.Remove(context.Background(), "libfoo", Options{})
	assert.ErrorIs(t, err, porgerr.ErrHasDependents)

	report, err := rm.Remove(context.Background(), "libfoo", Options{Force: true})
	require.NoError(t, err)
	assert.True(t, report.Unregistered)
}

func TestRemoveDryRunMutatesNothing(t *testing.T) {
	rm, database, dir := setup(t)
	prefix := mkPrefix(t, dir)
	require.NoError(t, database.Register("hello", "2.12", prefix, nil, nil))
	rm.Resolver = resolver.New(fakeRecipes{}, fakeInstalled{})

	report, err := rm.Remove(context.Background(), "hello", Options{DryRun: true})
	require.NoError(t, err)
	assert.False(t, report.PrefixDeleted)
	assert.False(t, report.Unregistered)
	assert.DirExists(t, prefix)

	installed, err := database.IsInstalled("hello")
	require.NoError(t, err)
	assert.True(t, installed)
}

func TestRemoveRefusesCriticalPrefixUnlessForced(t *testing.T) {
	rm, database, _ := setup(t)
	require.NoError(t, database.Register("coreutils", "9.4", "/usr", nil, nil))
	rm.Resolver = resolver.New(fakeRecipes{}, fakeInstalled{})

	_, err := rm.Remove(context.Background(), "coreutils", Options{})
	assert.ErrorIs(t, err, porgerr.ErrPermissionDenied)

	report, err := rm.Remove(context.Background(), "coreutils", Options{Force: true})
	require.NoError(t, err)
	assert.False(t, report.PrefixDeleted)
	assert.True(t, report.Unregistered)
}

func TestRemoveNotFound(t *testing.T) {
	rm, _, _ := setup(t)
	rm.Resolver = resolver.New(fakeRecipes{}, fakeInstalled{})
	_, err := rm.Remove(context.Background(), "ghost", Options{})
	assert.ErrorIs(t, err, porgerr.ErrNotFound)
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
