package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fcanata00/porg/pkg/porgerr"
)

// ParseError reports the line and column of a grammar violation, per
// spec.md §4.C's documented failure mode parse_error{line, column, reason}.
type ParseError struct {
	Line   int
	Column int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("recipe: parse error at %d:%d: %s", e.Line, e.Column, e.Reason)
}

func (e *ParseError) Unwrap() error { return porgerr.ErrParse }

func parseErr(line, col int, reason string, args ...interface{}) error {
	return &ParseError{Line: line, Column: col, Reason: fmt.Sprintf(reason, args...)}
}

// wrapYAMLErr turns a gopkg.in/yaml.v3 decode error into a ParseError,
// recovering the line number yaml.v3 already embeds in its error text
// ("yaml: line 4: ...", or one "line N: ..." entry per *yaml.TypeError).
func wrapYAMLErr(err error) error {
	msg := err.Error()
	line := 0
	if idx := strings.Index(msg, "line "); idx != -1 {
		rest := msg[idx+len("line "):]
		end := strings.IndexAny(rest, ": ")
		if end == -1 {
			end = len(rest)
		}
		if n, convErr := strconv.Atoi(rest[:end]); convErr == nil {
			line = n
		}
	}
	return &ParseError{Line: line, Column: 1, Reason: msg}
}

// rawSource mirrors one entry of a recipe's "sources" sequence.
type rawSource struct {
	URL          string `yaml:"url"`
	Checksum     string `yaml:"checksum"`
	SignatureURL string `yaml:"signature_url"`
}

// rawDependencies mirrors a recipe's "dependencies" map.
type rawDependencies struct {
	Build    []string `yaml:"build"`
	Runtime  []string `yaml:"runtime"`
	Optional []string `yaml:"optional"`
}

// rawRecipe is the YAML document shape spec.md §3 and §4.C describe. Meta
// captures every key the grammar doesn't name, via yaml.v3's inline-map
// support, satisfying spec.md §4.C: "Unknown keys are preserved as opaque
// metadata — never an error."
type rawRecipe struct {
	Name         string                 `yaml:"name"`
	Version      string                 `yaml:"version"`
	Stage        string                 `yaml:"stage"`
	Prefix       string                 `yaml:"prefix"`
	ExpandToRoot bool                   `yaml:"expand_to_root"`
	Source       string                 `yaml:"source"`
	SHA256       string                 `yaml:"sha256"`
	GPG          string                 `yaml:"gpg"`
	Build        string                 `yaml:"build"`
	Install      string                 `yaml:"install"`
	Patches      []string               `yaml:"patches"`
	Sources      []rawSource            `yaml:"sources"`
	Dependencies rawDependencies        `yaml:"dependencies"`
	Hooks        map[string][]string    `yaml:"hooks"`
	Meta         map[string]interface{} `yaml:",inline"`
}

// LoadFile reads path and parses it into a Recipe, applying the filename-
// derived default name/version when missing (spec.md §4.C).
func LoadFile(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("recipe: read %s: %w", path, porgerr.ErrIO)
	}
	r, err := Parse(string(data))
	if err != nil {
		return nil, err
	}
	r.Path = path
	if r.Name == "" {
		base := filepath.Base(path)
		r.Name = strings.TrimSuffix(strings.TrimSuffix(base, filepath.Ext(base)), ".yaml")
	}
	return r, nil
}

// Parse parses recipe source text into a Recipe. Recipes are declarative
// YAML documents (spec.md §4.C's literal/folded block scalars for "build"
// and "install" are exactly YAML's own "|"/">" block scalar styles), so
// this delegates the grammar itself to gopkg.in/yaml.v3 rather than
// hand-rolling a scanner.
func Parse(content string) (*Recipe, error) {
	var raw rawRecipe
	if err := yaml.Unmarshal([]byte(content), &raw); err != nil {
		return nil, wrapYAMLErr(err)
	}

	stage := Stage(raw.Stage)
	if stage == "" {
		stage = StageNormal
	}
	switch stage {
	case StageNormal, StageBootstrap, StageToolchain:
	default:
		return nil, parseErr(0, 1, "invalid stage %q", raw.Stage)
	}

	var sources []Source
	for _, s := range raw.Sources {
		sources = append(sources, Source{URL: s.URL, Checksum: s.Checksum, SignatureURL: s.SignatureURL})
	}
	if len(sources) == 0 && raw.Source != "" {
		sources = []Source{{URL: raw.Source, Checksum: raw.SHA256, SignatureURL: raw.GPG}}
	}

	hooks := raw.Hooks
	if hooks == nil {
		hooks = map[string][]string{}
	}

	meta := make(map[string]string, len(raw.Meta))
	for k, v := range raw.Meta {
		meta[k] = stringifyYAMLValue(v)
	}

	version := raw.Version
	if version == "" {
		version = "0.0.0"
	}

	return &Recipe{
		Name:    raw.Name,
		Version: version,

		Stage: stage,

		Sources: sources,
		Patches: raw.Patches,

		// YAML's clip chomping (the default for both "|" and ">" block
		// scalars) keeps one trailing newline; trimmed here so a recipe
		// author's choice of chomping indicator doesn't leak into the
		// shell command string the Builder executes verbatim.
		Build:   strings.TrimRight(raw.Build, "\n"),
		Install: strings.TrimRight(raw.Install, "\n"),

		Dependencies: Dependencies{
			Build:    raw.Dependencies.Build,
			Runtime:  raw.Dependencies.Runtime,
			Optional: raw.Dependencies.Optional,
		},

		Hooks: hooks,

		Prefix:       raw.Prefix,
		ExpandToRoot: raw.ExpandToRoot,

		Meta: meta,
	}, nil
}

// stringifyYAMLValue renders an inline-captured unknown value back to
// text: scalars verbatim, nested maps/sequences re-marshaled to YAML so
// the opaque metadata round-trips without porg needing to understand it.
func stringifyYAMLValue(v interface{}) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case map[string]interface{}, []interface{}:
		b, err := yaml.Marshal(vv)
		if err != nil {
			return fmt.Sprint(vv)
		}
		return strings.TrimRight(string(b), "\n")
	default:
		return fmt.Sprint(vv)
	}
}

// SortedHookStages returns the recipe's hook stage names in a stable order,
// for deterministic execution logging.
func (r *Recipe) SortedHookStages() []string {
	out := make([]string, 0, len(r.Hooks))
	for k := range r.Hooks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
