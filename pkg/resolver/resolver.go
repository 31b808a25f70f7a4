package resolver

import (
	"fmt"
	"sort"
	"time"

	"github.com/fcanata00/porg/pkg/porgerr"
	"github.com/fcanata00/porg/pkg/versions"
)

// RecipeInfo is the minimal view of a recipe the resolver needs: its
// dependency sets and version. Builder/loader-specific fields live in
// pkg/recipe; the resolver only needs this projection.
type RecipeInfo struct {
	Name       string
	Version    string
	BuildDeps  []string
	RuntimeDeps []string
}

// RecipeSource looks up recipes lazily by name, as spec.md §4.D requires
// ("a graph built by lazily loading recipes discovered under the ports
// tree").
type RecipeSource interface {
	Recipe(name string) (RecipeInfo, bool)
}

// InstalledInfo is the resolver's view of one installed record.
type InstalledInfo struct {
	Name         string
	Version      string
	Prefix       string
	Dependencies []string // runtime dependencies, as recorded at install time
	InstalledAt  time.Time
}

// InstalledSource lists the currently installed set.
type InstalledSource interface {
	Installed() []InstalledInfo
}

// CriticalPrefixes are the prefixes orphans() must never return, extending
// the source's original root/usr-only exclusion to every prefix spec.md §9
// flags as critical (the Open Question's resolution).
var CriticalPrefixes = map[string]bool{
	"/": true, "/usr": true, "/bin": true, "/sbin": true,
	"/lib": true, "/lib64": true, "/etc": true,
}

// CycleError is returned by Resolve when the dependency graph has a cycle
// reachable from the requested package.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle_detected: %v", e.Path)
}

func (e *CycleError) Unwrap() error { return porgerr.ErrCycleDetected }

// MissingRecipeError names the recipe that could not be found.
type MissingRecipeError struct {
	Name string
}

func (e *MissingRecipeError) Error() string {
	return fmt.Sprintf("missing_recipe: %s", e.Name)
}

func (e *MissingRecipeError) Unwrap() error { return porgerr.ErrMissingRecipe }

// Resolver answers dependency queries over recipes and the installed set.
type Resolver struct {
	recipes   RecipeSource
	installed InstalledSource
}

// New builds a Resolver over the given recipe and installed-set providers.
func New(recipes RecipeSource, installed InstalledSource) *Resolver {
	return &Resolver{recipes: recipes, installed: installed}
}

type color int

const (
	white color = iota
	gray
	black
)

// Resolve returns a topological order sufficient to install name:
// dependencies appear before dependents, siblings tie-broken by name for
// reproducibility across runs (spec.md §4.D operation 1).
func (r *Resolver) Resolve(name string) ([]string, error) {
	g := newGraph()
	colors := map[string]color{}
	var order []string

	var visit func(n string, path []string) error
	visit = func(n string, path []string) error {
		switch colors[n] {
		case black:
			return nil
		case gray:
			// Found a back-edge into the current DFS stack: a cycle.
			cyclePath := append(append([]string(nil), path...), n)
			return &CycleError{Path: cyclePath}
		}
		info, ok := r.recipes.Recipe(n)
		if !ok {
			return &MissingRecipeError{Name: n}
		}
		colors[n] = gray
		deps := append(append([]string(nil), info.BuildDeps...), info.RuntimeDeps...)
		deps = dedupSorted(deps)
		for _, d := range deps {
			g.addEdge(n, d)
			if err := visit(d, append(path, n)); err != nil {
				return err
			}
		}
		colors[n] = black
		order = append(order, n)
		return nil
	}

	if err := visit(name, nil); err != nil {
		return nil, err
	}
	return order, nil
}

func dedupSorted(items []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	sort.Strings(out)
	return out
}

// Missing returns the transitive dependency set of name minus whatever is
// already installed (spec.md §4.D operation 2).
func (r *Resolver) Missing(name string) ([]string, error) {
	order, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	installedSet := map[string]bool{}
	for _, rec := range r.installed.Installed() {
		installedSet[rec.Name] = true
	}
	var out []string
	for _, n := range order {
		if n == name {
			continue
		}
		if !installedSet[n] {
			out = append(out, n)
		}
	}
	return out, nil
}

// ReverseDependents returns installed records whose recorded runtime
// dependencies contain name, direct only (spec.md §4.D operation 3).
func (r *Resolver) ReverseDependents(name string) []string {
	var out []string
	for _, rec := range r.installed.Installed() {
		for _, d := range rec.Dependencies {
			if d == name {
				out = append(out, rec.Name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Scope selects the subject of an upgrade plan: either a single package or
// the whole installed world (spec.md §4.D operation 4).
type Scope struct {
	Single string // empty means World
	World  bool
}

// UpgradePlan is the resolver's answer to "what needs building, in what
// order".
type UpgradePlan struct {
	UpgradeOrder []string
	NeedsRebuild []string
}

// UpgradePlan computes the topological order over the chosen subgraph and
// flags packages whose recipe is newer than what's installed, or whose
// runtime dependency was rebuilt more recently than they were installed
// (spec.md §4.D operation 4).
func (r *Resolver) UpgradePlan(scope Scope) (*UpgradePlan, error) {
	installedByName := map[string]InstalledInfo{}
	for _, rec := range r.installed.Installed() {
		installedByName[rec.Name] = rec
	}

	var roots []string
	if scope.World || scope.Single == "" {
		for name := range installedByName {
			roots = append(roots, name)
		}
		sort.Strings(roots)
	} else {
		roots = []string{scope.Single}
	}

	seen := map[string]bool{}
	var order []string
	for _, root := range roots {
		o, err := r.Resolve(root)
		if err != nil {
			return nil, err
		}
		for _, n := range o {
			if !seen[n] {
				seen[n] = true
				order = append(order, n)
			}
		}
	}

	rebuiltAt := map[string]time.Time{}
	var needsRebuild []string
	now := time.Now()
	for _, name := range order {
		info, ok := r.recipes.Recipe(name)
		if !ok {
			return nil, &MissingRecipeError{Name: name}
		}
		rebuild := false
		if installed, ok := installedByName[name]; ok {
			if versions.Newer(info.Version, installed.Version) {
				rebuild = true
			}
			for _, dep := range info.RuntimeDeps {
				if t, ok := rebuiltAt[dep]; ok && t.After(installed.InstalledAt) {
					rebuild = true
				}
			}
		} else {
			// Not installed yet: building it is itself a "rebuild" in
			// the sense that downstream dependents must be flagged.
			rebuild = true
		}
		if rebuild {
			needsRebuild = append(needsRebuild, name)
			rebuiltAt[name] = now
		}
	}

	return &UpgradePlan{UpgradeOrder: order, NeedsRebuild: needsRebuild}, nil
}

// Orphans returns installed packages with zero reverse-dependents whose
// prefix is not one of CriticalPrefixes (spec.md §4.D operation 5, widened
// per the Open Question resolution in spec.md §9).
func (r *Resolver) Orphans() []string {
	hasDependent := map[string]bool{}
	for _, rec := range r.installed.Installed() {
		for _, d := range rec.Dependencies {
			hasDependent[d] = true
		}
	}
	var out []string
	for _, rec := range r.installed.Installed() {
		if hasDependent[rec.Name] {
			continue
		}
		if CriticalPrefixes[rec.Prefix] {
			continue
		}
		out = append(out, rec.Name)
	}
	sort.Strings(out)
	return out
}
