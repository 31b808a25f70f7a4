// Package db implements component B of SPEC_FULL.md: the atomic,
// crash-safe installed-package database of spec.md §4.B.
//
// Grounded on the teacher's pkg/dbapi/vartree.go (the installed-package
// view over a filesystem database) for the shape of the public API, and on
// atom/locks.go for the lock-then-mutate discipline — but the on-disk
// format here is exactly what spec.md §4.B mandates: a single JSON object,
// keys sorted, written via temp-then-rename in the same directory so a
// reader never observes a torn write.
package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fcanata00/porg/pkg/dblock"
	"github.com/fcanata00/porg/pkg/porgerr"
)

// Record is spec.md §3's InstalledRecord.
type Record struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Prefix       string            `json:"prefix"`
	InstalledAt  time.Time         `json:"installed_at"`
	Dependencies []string          `json:"dependencies"`
	Meta         map[string]string `json:"meta,omitempty"`
}

// Key returns "{name}-{version}", the DB's storage key (spec.md §3).
func (r Record) Key() string { return r.Name + "-" + r.Version }

// DB is the installed-package database. One DB value wraps one file path;
// callers share it across goroutines within a process, but the file itself
// may be shared across processes — every mutation takes the directory lock
// of pkg/dblock around the read-modify-write-rename cycle.
type DB struct {
	path string
}

// Open returns a DB bound to path. The file need not exist yet; the first
// successful mutation creates it.
func Open(path string) *DB {
	return &DB{path: path}
}

// VerifyIssue describes one problem found by Verify.
type VerifyIssue struct {
	Key    string
	Reason string
}

// Stats summarizes the DB's contents.
type Stats struct {
	PackageCount   int
	ApproxBytesTotal int64
}

func (d *DB) load() (map[string]Record, error) {
	data, err := os.ReadFile(d.path)
	if os.IsNotExist(err) {
		return map[string]Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db: read %s: %w", d.path, porgerr.ErrIO)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]Record{}, nil
	}
	var recs map[string]Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("db: decode %s: %w", d.path, porgerr.ErrDBCorrupt)
	}
	return recs, nil
}

// save writes recs to d.path atomically: encode to a temp file in the same
// directory, then rename over the target. Readers racing this write observe
// either the previous file or the new one in full, never a partial file.
func (d *DB) save(recs map[string]Record) error {
	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("db: mkdir %s: %w", dir, porgerr.ErrIO)
	}

	keys := make([]string, 0, len(recs))
	for k := range recs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// The file's sorted key order comes from encoding/json's map encoder,
	// which always writes map keys in sorted order; the map built here
	// carries no order of its own.
	ordered := make(map[string]Record, len(recs))
	for _, k := range keys {
		ordered[k] = recs[k]
	}

	buf, err := json.MarshalIndent(ordered, "", "  ")
	if err != nil {
		return fmt.Errorf("db: encode: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".installed-*.json.tmp")
	if err != nil {
		return fmt.Errorf("db: create temp: %w", porgerr.ErrIO)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("db: write temp: %w", porgerr.ErrIO)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("db: close temp: %w", porgerr.ErrIO)
	}
	if err := os.Rename(tmpPath, d.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("db: rename into place: %w", porgerr.ErrIO)
	}
	return nil
}

func (d *DB) withLock(fn func(recs map[string]Record) (map[string]Record, error)) error {
	lock, err := dblock.Acquire(d.path, dblock.Options{})
	if err != nil {
		return err
	}
	defer lock.Release()

	recs, err := d.load()
	if err != nil {
		return err
	}
	newRecs, err := fn(recs)
	if err != nil {
		return err
	}
	if newRecs == nil {
		return nil // read-only operation disguised as a mutation path
	}
	return d.save(newRecs)
}

// isPrefixWritable reports whether prefix is "/" or an existing-or-
// creatable, writable directory (spec.md §4.B register's invalid_prefix
// failure mode).
func isPrefixWritable(prefix string) bool {
	if prefix == "/" {
		return true
	}
	if prefix == "" {
		return false
	}
	if err := os.MkdirAll(prefix, 0o755); err != nil {
		return false
	}
	probe := filepath.Join(prefix, ".porg-write-probe")
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}

// Register inserts "{name}-{version}" with the given prefix, runtime
// dependency list, and optional metadata, timestamped now. Because at most
// one version of a name may be installed at a time (spec.md §3 invariant),
// any existing record for the same name is replaced atomically as part of
// the same write — this is what makes the upgrade flow's "register new"
// step (spec.md §4.I) a single-version swap rather than a two-step
// remove-then-add.
func (d *DB) Register(name, version, prefix string, deps []string, meta map[string]string) error {
	if !isPrefixWritable(prefix) {
		return fmt.Errorf("db: register %s-%s: prefix %q: %w", name, version, prefix, porgerr.ErrInvalidPrefix)
	}
	return d.withLock(func(recs map[string]Record) (map[string]Record, error) {
		for k, r := range recs {
			if r.Name == name {
				delete(recs, k)
			}
		}
		rec := Record{
			Name:         name,
			Version:      version,
			Prefix:       prefix,
			InstalledAt:  time.Now().UTC(),
			Dependencies: append([]string(nil), deps...),
			Meta:         meta,
		}
		recs[rec.Key()] = rec
		return recs, nil
	})
}

// matches implements the matching rule shared by Get, Unregister, and
// IsInstalled (spec.md §4.B): k == q, or k starts with q + "-", or the
// record's name field equals q.
func matches(k string, r Record, q string) bool {
	if k == q {
		return true
	}
	if strings.HasPrefix(k, q+"-") {
		return true
	}
	return r.Name == q
}

// Unregister removes every key matching q, returning the removed keys.
func (d *DB) Unregister(q string) ([]string, error) {
	var removed []string
	err := d.withLock(func(recs map[string]Record) (map[string]Record, error) {
		for k, r := range recs {
			if matches(k, r, q) {
				removed = append(removed, k)
				delete(recs, k)
			}
		}
		if len(removed) == 0 {
			return nil, fmt.Errorf("db: unregister %q: %w", q, porgerr.ErrNotFound)
		}
		sort.Strings(removed)
		return recs, nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Get returns the first record matching q.
func (d *DB) Get(q string) (Record, error) {
	recs, err := d.load()
	if err != nil {
		return Record{}, err
	}
	keys := make([]string, 0, len(recs))
	for k := range recs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if matches(k, recs[k], q) {
			return recs[k], nil
		}
	}
	return Record{}, fmt.Errorf("db: get %q: %w", q, porgerr.ErrNotFound)
}

// List returns every record, sorted by key.
func (d *DB) List() ([]Record, error) {
	recs, err := d.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(recs))
	for k := range recs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, recs[k])
	}
	return out, nil
}

// IsInstalled reports whether any record matches name.
func (d *DB) IsInstalled(name string) (bool, error) {
	_, err := d.Get(name)
	if err != nil {
		if errors.Is(err, porgerr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Backup copies the current DB file to dest/installed.json.bak.<unix-ts>,
// returning the backup path.
func (d *DB) Backup(destDir string) (string, error) {
	if destDir == "" {
		destDir = filepath.Dir(d.path)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("db: backup mkdir %s: %w", destDir, porgerr.ErrIO)
	}
	data, err := os.ReadFile(d.path)
	if os.IsNotExist(err) {
		data = []byte("{}")
	} else if err != nil {
		return "", fmt.Errorf("db: backup read: %w", porgerr.ErrIO)
	}
	dest := filepath.Join(destDir, fmt.Sprintf("installed.json.bak.%d", time.Now().Unix()))
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("db: backup write %s: %w", dest, porgerr.ErrIO)
	}
	return dest, nil
}

// Restore replaces the DB's contents with src's, atomically.
func (d *DB) Restore(src string) error {
	data, err := os.ReadFile(src)
	if os.IsNotExist(err) {
		return fmt.Errorf("db: restore %s: %w", src, porgerr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("db: restore read %s: %w", src, porgerr.ErrIO)
	}
	var recs map[string]Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return fmt.Errorf("db: restore %s: %w", src, porgerr.ErrInvalidInput)
	}
	return d.withLock(func(map[string]Record) (map[string]Record, error) {
		return recs, nil
	})
}

// Stats reports package count and the approximate on-disk byte total summed
// across every record's prefix tree.
func (d *DB) Stats() (Stats, error) {
	recs, err := d.load()
	if err != nil {
		return Stats{}, err
	}
	var total int64
	for _, r := range recs {
		total += dirSize(r.Prefix)
	}
	return Stats{PackageCount: len(recs), ApproxBytesTotal: total}, nil
}

func dirSize(root string) int64 {
	var total int64
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}

// Verify checks that each record's prefix exists and has a bin or usr/bin
// subdirectory, returning the list of issues found (spec.md §4.B).
func (d *DB) Verify() ([]VerifyIssue, error) {
	recs, err := d.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(recs))
	for k := range recs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var issues []VerifyIssue
	for _, k := range keys {
		r := recs[k]
		info, err := os.Stat(r.Prefix)
		if err != nil || !info.IsDir() {
			issues = append(issues, VerifyIssue{Key: k, Reason: "prefix missing"})
			continue
		}
		hasBin := dirExists(filepath.Join(r.Prefix, "bin")) || dirExists(filepath.Join(r.Prefix, "usr", "bin"))
		if !hasBin {
			issues = append(issues, VerifyIssue{Key: k, Reason: "no bin or usr/bin subdirectory"})
		}
	}
	return issues, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
