package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecipes map[string]RecipeInfo

func (f fakeRecipes) Recipe(name string) (RecipeInfo, bool) {
	r, ok := f[name]
	return r, ok
}

type fakeInstalled []InstalledInfo

func (f fakeInstalled) Installed() []InstalledInfo { return f }

func TestResolveOrdersDepsBeforeDependents(t *testing.T) {
	recipes := fakeRecipes{
		"app":    {Name: "app", Version: "1.0", RuntimeDeps: []string{"libfoo"}},
		"libfoo": {Name: "libfoo", Version: "1.0"},
	}
	r := New(recipes, fakeInstalled{})

	order, err := r.Resolve("app")
	require.NoError(t, err)
	assert.Equal(t, []string{"libfoo", "app"}, order)
}

func TestResolveDetectsCycle(t *testing.T) {
	recipes := fakeRecipes{
		"A": {Name: "A", RuntimeDeps: []string{"B"}},
		"B": {Name: "B", RuntimeDeps: []string{"C"}},
		"C": {Name: "C", RuntimeDeps: []string{"A"}},
	}
	r := New(recipes, fakeInstalled{})

	_, err := r.Resolve("A")
	require.Error(t, err)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Contains(t, cycleErr.Path, "A")
}

func TestResolveMissingRecipe(t *testing.T) {
	r := New(fakeRecipes{}, fakeInstalled{})
	_, err := r.Resolve("ghost")
	require.Error(t, err)
	var missing *MissingRecipeError
	require.ErrorAs(t, err, &missing)
}

func TestReverseDependentsDirectOnly(t *testing.T) {
	installed := fakeInstalled{
		{Name: "libfoo", Version: "1.0", Prefix: "/usr"},
		{Name: "app", Version: "2.0", Prefix: "/usr", Dependencies: []string{"libfoo"}},
	}
	r := New(fakeRecipes{}, installed)
	assert.Equal(t, []string{"app"}, r.ReverseDependents("libfoo"))
}

func TestUpgradePlanWorldFlagsDependentRebuild(t *testing.T) {
	now := time.Now()
	installed := fakeInstalled{
		{Name: "libfoo", Version: "1.0", Prefix: "/usr", InstalledAt: now.Add(-2 * time.Hour)},
		{Name: "app", Version: "2.0", Prefix: "/usr", Dependencies: []string{"libfoo"}, InstalledAt: now.Add(-1 * time.Hour)},
	}
	recipes := fakeRecipes{
		"libfoo": {Name: "libfoo", Version: "1.1"},
		"app":    {Name: "app", Version: "2.0", RuntimeDeps: []string{"libfoo"}},
	}
	r := New(recipes, installed)

	plan, err := r.UpgradePlan(Scope{World: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"libfoo", "app"}, plan.UpgradeOrder)
	assert.ElementsMatch(t, []string{"libfoo", "app"}, plan.NeedsRebuild)
}

func TestOrphansExcludesCriticalPrefixes(t *testing.T) {
	installed := fakeInstalled{
		{Name: "orphan-pkg", Version: "1.0", Prefix: "/opt/orphan-pkg"},
		{Name: "base-files", Version: "1.0", Prefix: "/"},
	}
	r := New(fakeRecipes{}, installed)
	assert.Equal(t, []string{"orphan-pkg"}, r.Orphans())
}
