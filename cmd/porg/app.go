package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fcanata00/porg/pkg/acquirer"
	"github.com/fcanata00/porg/pkg/audit"
	"github.com/fcanata00/porg/pkg/config"
	"github.com/fcanata00/porg/pkg/db"
	"github.com/fcanata00/porg/pkg/logger"
	"github.com/fcanata00/porg/pkg/recipe"
	"github.com/fcanata00/porg/pkg/remover"
	"github.com/fcanata00/porg/pkg/resolver"
	"github.com/fcanata00/porg/pkg/sandbox"
	"github.com/fcanata00/porg/pkg/upgrade"
)

// app wires every component of SPEC_FULL.md together once per invocation,
// reading /etc/porg/porg.conf per spec.md §6.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	database *db.DB
	recipes  *recipeStore
	resolv   *resolver.Resolver
	builder  *sandbox.Builder
	remov    *remover.Remover
	auditor  *audit.Auditor
	upgrader *upgrade.Orchestrator
}

func newApp(quiet, yes bool) (*app, error) {
	cfg, err := config.Load("/etc/porg/porg.conf")
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Options{
		LogDir:     cfg.LogDir,
		Quiet:      quiet,
		JSONMirror: cfg.LogJSON,
		Color:      cfg.LogColor,
	})
	if err != nil {
		return nil, err
	}

	database := db.Open(cfg.InstalledDB)
	recipes := newRecipeStore(cfg.PortsDir)
	resolv := resolver.New(recipes, dbInstalledAdapter{database})

	ac := acquirer.New(filepath.Join(cfg.CacheDir, "sources"), cfg.GPGKeyring, cfg.StrictGPG)

	builder := &sandbox.Builder{
		Acquirer:  ac,
		Config:    cfg,
		Log:       log,
		StateDir:  filepath.Join(cfg.WorkDir, "state"),
		Confirmed: yes,
	}

	remov := &remover.Remover{
		DB:           database,
		Resolver:     resolv,
		RecipeLookup: recipes.Lookup,
		Log:          log,
	}

	auditor := &audit.Auditor{
		DB:           database,
		Resolver:     resolv,
		Builder:      builder,
		Remover:      remov,
		RecipeLookup: recipes.Lookup,
		Log:          log,
	}

	upgrader := &upgrade.Orchestrator{
		Resolver:     resolv,
		Builder:      builder,
		Remover:      remov,
		DB:           database,
		RecipeLookup: recipes.Lookup,
		Log:          log,
		StateDir:     filepath.Join(cfg.WorkDir, "state"),
	}

	return &app{
		cfg: cfg, log: log, database: database, recipes: recipes,
		resolv: resolv, builder: builder, remov: remov, auditor: auditor, upgrader: upgrader,
	}, nil
}

func (a *app) close() {
	a.log.Close()
}

// recipeStore discovers recipe files under a ports tree (spec.md §6:
// "/usr/ports/<category>/<name>/*.y{a,}ml") and loads them on demand,
// satisfying both resolver.RecipeSource (component D) and the
// *recipe.Recipe lookup the Builder/Remover/Upgrade/Audit components need.
type recipeStore struct {
	root  string
	byName map[string]string // name -> recipe file path, populated lazily
}

func newRecipeStore(root string) *recipeStore {
	return &recipeStore{root: root}
}

func (s *recipeStore) index() map[string]string {
	if s.byName != nil {
		return s.byName
	}
	s.byName = map[string]string{}
	walkPorts(s.root, s.byName)
	return s.byName
}

func walkPorts(root string, out map[string]string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		full := root + "/" + e.Name()
		if e.IsDir() {
			walkPorts(full, out)
			continue
		}
		if strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml") {
			name := strings.TrimSuffix(strings.TrimSuffix(e.Name(), ".yaml"), ".yml")
			out[name] = full
		}
	}
}

// Lookup loads and parses name's recipe file, implementing the
// func(name string) (*recipe.Recipe, error) signature Remover, Upgrade, and
// Audit all take.
func (s *recipeStore) Lookup(name string) (*recipe.Recipe, error) {
	path, ok := s.index()[name]
	if !ok {
		return nil, fmt.Errorf("recipe: %s: not found under ports tree", name)
	}
	return recipe.LoadFile(path)
}

// Recipe implements resolver.RecipeSource.
func (s *recipeStore) Recipe(name string) (resolver.RecipeInfo, bool) {
	rec, err := s.Lookup(name)
	if err != nil {
		return resolver.RecipeInfo{}, false
	}
	return resolver.RecipeInfo{
		Name:        rec.Name,
		Version:     rec.Version,
		BuildDeps:   rec.Dependencies.Build,
		RuntimeDeps: rec.Dependencies.Runtime,
	}, true
}

// dbInstalledAdapter implements resolver.InstalledSource over the
// installed DB (component B), translating db.Record to resolver.InstalledInfo.
type dbInstalledAdapter struct {
	db *db.DB
}

func (a dbInstalledAdapter) Installed() []resolver.InstalledInfo {
	records, err := a.db.List()
	if err != nil {
		return nil
	}
	out := make([]resolver.InstalledInfo, 0, len(records))
	for _, r := range records {
		out = append(out, resolver.InstalledInfo{
			Name: r.Name, Version: r.Version, Prefix: r.Prefix,
			Dependencies: r.Dependencies, InstalledAt: r.InstalledAt,
		})
	}
	return out
}

func worldScope() resolver.Scope {
	return resolver.Scope{World: true}
}
