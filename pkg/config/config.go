// Package config loads /etc/porg/porg.conf: simple KEY=VALUE lines (spec.md
// §6). Unrecognized keys are preserved but ignored, never an error.
//
// This is the one ambient concern porg keeps on the standard library
// rather than a pack dependency — see SPEC_FULL.md §A.3 for why
// BurntSushi/toml (the teacher's own config library, config/portago.go)
// does not fit this flat, section-less KEY=VALUE shape, and why
// alyu/configparser's INI sections are likewise the wrong grammar.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Known keys, spec.md §6.
const (
	KeyPortsDir      = "PORTS_DIR"
	KeyWorkDir       = "WORKDIR"
	KeyCacheDir      = "CACHE_DIR"
	KeyLogDir        = "LOG_DIR"
	KeyLogLevel      = "LOG_LEVEL"
	KeyLogColor      = "LOG_COLOR"
	KeyLogJSON       = "LOG_JSON"
	KeyLogRotateDays = "LOG_ROTATE_DAYS"
	KeyInstalledDB   = "INSTALLED_DB"
	KeyJobs          = "JOBS"
	KeyChrootMethod  = "CHROOT_METHOD"
	KeyPackageFormat = "PACKAGE_FORMAT"
	KeyStripBinaries = "STRIP_BINARIES"
	KeyStrictGPG     = "STRICT_GPG"
	KeyGPGKeyring    = "GPG_KEYRING"
	KeyParallelN     = "PARALLEL_N"
	KeyLFS           = "LFS"
	KeyLFSUser       = "LFS_USER"
	KeyLFSTgt        = "LFS_TGT"
	KeyGitRepo       = "GIT_REPO"
	KeyGitBranch     = "GIT_BRANCH"
)

// Config is the parsed porg.conf: recognized keys typed, everything else
// (recognized or not) kept in Raw so callers needing a key this package
// doesn't surface yet can still reach it.
type Config struct {
	Raw map[string]string

	PortsDir      string
	WorkDir       string
	CacheDir      string
	LogDir        string
	LogLevel      string
	LogColor      bool
	LogJSON       bool
	LogRotateDays int
	InstalledDB   string
	Jobs          int
	ChrootMethod  string
	PackageFormat string
	StripBinaries bool
	StrictGPG     bool
	GPGKeyring    string
	ParallelN     int
	LFS           string
	LFSUser       string
	LFSTgt        string
	GitRepo       string
	GitBranch     string
}

// Default returns the built-in defaults from spec.md §6's filesystem layout.
func Default() *Config {
	return &Config{
		Raw:           map[string]string{},
		PortsDir:      "/usr/ports",
		WorkDir:       "/var/tmp/porg",
		CacheDir:      "/var/cache/porg",
		LogDir:        "/var/log/porg",
		LogLevel:      "INFO",
		LogColor:      true,
		LogJSON:       false,
		LogRotateDays: 14,
		InstalledDB:   "/var/lib/porg/db/installed.json",
		Jobs:          1,
		ChrootMethod:  "sandbox",
		PackageFormat: "zst",
		StripBinaries: true,
		StrictGPG:     false,
		GPGKeyring:    "/etc/porg/gpg-keyring",
		ParallelN:     1,
	}
}

// Load reads a KEY=VALUE file on top of Default(). A missing file is not an
// error: Default() alone is a valid configuration.
func Load(path string) (*Config, error) {
	c := Default()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		key, value, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("config: %s:%d: missing '=' in %q", path, line, raw)
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))
		c.Raw[key] = value
		c.apply(key, value)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return c, nil
}

func unquote(s string) string {
	if len(s) >= 2 && ((s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'')) {
		return s[1 : len(s)-1]
	}
	return s
}

func (c *Config) apply(key, value string) {
	switch key {
	case KeyPortsDir:
		c.PortsDir = value
	case KeyWorkDir:
		c.WorkDir = value
	case KeyCacheDir:
		c.CacheDir = value
	case KeyLogDir:
		c.LogDir = value
	case KeyLogLevel:
		c.LogLevel = value
	case KeyLogColor:
		c.LogColor = parseBool(value, c.LogColor)
	case KeyLogJSON:
		c.LogJSON = parseBool(value, c.LogJSON)
	case KeyLogRotateDays:
		c.LogRotateDays = parseInt(value, c.LogRotateDays)
	case KeyInstalledDB:
		c.InstalledDB = value
	case KeyJobs:
		c.Jobs = parseInt(value, c.Jobs)
	case KeyChrootMethod:
		c.ChrootMethod = value
	case KeyPackageFormat:
		c.PackageFormat = value
	case KeyStripBinaries:
		c.StripBinaries = parseBool(value, c.StripBinaries)
	case KeyStrictGPG:
		c.StrictGPG = parseBool(value, c.StrictGPG)
	case KeyGPGKeyring:
		c.GPGKeyring = value
	case KeyParallelN:
		c.ParallelN = parseInt(value, c.ParallelN)
	case KeyLFS:
		c.LFS = value
	case KeyLFSUser:
		c.LFSUser = value
	case KeyLFSTgt:
		c.LFSTgt = value
	case KeyGitRepo:
		c.GitRepo = value
	case KeyGitBranch:
		c.GitBranch = value
	}
	// Unrecognized keys stay only in Raw, per spec.md §4.C's "never an error"
	// rule applied consistently to config.
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func parseInt(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
