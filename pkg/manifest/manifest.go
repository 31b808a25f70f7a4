// Package manifest writes and verifies the per-artifact digest manifest of
// SPEC_FULL.md §C.2: a "{artifact}.manifest" file (see PathFor) next to
// the packaged artifact recording every staged file's size and digest set, so
// db.Verify-style re-checks can validate an artifact without rebuilding it.
//
// Grounded on the teacher's pkg/manifest (a Manifest2-format file listing
// per-entry digests keyed by type/name) for the shape of "one line per
// file, sorted for diff-friendliness" — rewritten against porg's own
// pkg/checksum digest set instead of the teacher's DIST/EBUILD/AUX/MISC
// entry typing, since a porg artifact has no ebuild-tree categories to
// preserve.
package manifest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fcanata00/porg/pkg/checksum"
	"github.com/fcanata00/porg/pkg/porgerr"
)

// Entry is one staged file's recorded size and digest set.
type Entry struct {
	Path    string            // relative to the staging root
	Size    int64
	Digests map[string]string // algorithm name -> lowercase hex digest
}

// Manifest is the full per-artifact record: one Entry per regular file
// under the staging root at packaging time.
type Manifest struct {
	Entries []Entry
}

// PathFor returns the manifest file path conventionally placed alongside
// an artifact: "{artifactPath}.manifest".
func PathFor(artifactPath string) string {
	return artifactPath + ".manifest"
}

// Build walks stageRoot and computes checksum.DigestSet over every regular
// file, returning entries sorted by relative path for deterministic output
// (spec.md §3's sorted-for-diff-friendliness convention, applied here too).
func Build(stageRoot string) (*Manifest, error) {
	var entries []Entry
	err := filepath.Walk(stageRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(stageRoot, path)
		if err != nil {
			return err
		}
		digests, _, err := checksum.DigestSet(path)
		if err != nil {
			return fmt.Errorf("manifest: digest %s: %w", rel, err)
		}
		entries = append(entries, Entry{Path: rel, Size: info.Size(), Digests: digests})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("manifest: walk %s: %w", stageRoot, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return &Manifest{Entries: entries}, nil
}

// Write renders m to path atomically: one line per entry, "path size
// algo=digest algo=digest ...", algorithms sorted for reproducibility.
func Write(m *Manifest, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("manifest: mkdir %s: %w", dir, porgerr.ErrIO)
	}
	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("manifest: create temp: %w", porgerr.ErrIO)
	}
	w := bufio.NewWriter(tmp)
	for _, e := range m.Entries {
		algos := make([]string, 0, len(e.Digests))
		for a := range e.Digests {
			algos = append(algos, a)
		}
		sort.Strings(algos)
		parts := []string{e.Path, fmt.Sprint(e.Size)}
		for _, a := range algos {
			parts = append(parts, fmt.Sprintf("%s=%s", a, e.Digests[a]))
		}
		if _, err := fmt.Fprintln(w, strings.Join(parts, " ")); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("manifest: write: %w", porgerr.ErrIO)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("manifest: flush: %w", porgerr.ErrIO)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("manifest: close temp: %w", porgerr.ErrIO)
	}
	return os.Rename(tmp.Name(), path)
}

// Read parses a manifest file previously written by Write.
func Read(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("manifest: %s: %w", path, porgerr.ErrNotFound)
		}
		return nil, fmt.Errorf("manifest: open %s: %w", path, porgerr.ErrIO)
	}
	defer f.Close()

	m := &Manifest{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		e := Entry{Path: fields[0], Digests: map[string]string{}}
		fmt.Sscan(fields[1], &e.Size)
		for _, kv := range fields[2:] {
			k, v, ok := strings.Cut(kv, "=")
			if ok {
				e.Digests[k] = v
			}
		}
		m.Entries = append(m.Entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, porgerr.ErrIO)
	}
	return m, nil
}

// Verify re-computes digests for every entry recorded against stageRoot
// (or, for already-packaged artifacts, a directory the artifact was
// extracted into) and reports any file whose digest set no longer matches,
// without needing to rebuild the package.
func Verify(m *Manifest, root string) ([]string, error) {
	var mismatches []string
	for _, e := range m.Entries {
		path := filepath.Join(root, e.Path)
		got, err := checksum.FileDigestSetFiltered(path, e.Digests)
		if err != nil {
			mismatches = append(mismatches, fmt.Sprintf("%s: %v", e.Path, err))
			continue
		}
		for algo, want := range e.Digests {
			if got[algo] != want {
				mismatches = append(mismatches, fmt.Sprintf("%s: %s mismatch", e.Path, algo))
				break
			}
		}
	}
	return mismatches, nil
}
