package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "installed.json")
	return Open(path), dir
}

func TestRegisterThenGetThenIsInstalled(t *testing.T) {
	d, dir := newTestDB(t)
	prefix := filepath.Join(dir, "usr")

	require.NoError(t, d.Register("hello", "2.12", prefix, nil, nil))

	rec, err := d.Get("hello")
	require.NoError(t, err)
	assert.Equal(t, "hello-2.12", rec.Key())

	ok, err := d.IsInstalled("hello")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSingleVersionInvariantReplacesPrior(t *testing.T) {
	d, dir := newTestDB(t)
	prefix := filepath.Join(dir, "usr")
	require.NoError(t, d.Register("libfoo", "1.0", prefix, nil, nil))
	require.NoError(t, d.Register("libfoo", "1.1", prefix, nil, nil))

	list, err := d.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "1.1", list[0].Version)
}

func TestUnregisterRemovesRecord(t *testing.T) {
	d, dir := newTestDB(t)
	prefix := filepath.Join(dir, "usr")
	require.NoError(t, d.Register("hello", "2.12", prefix, nil, nil))

	removed, err := d.Unregister("hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello-2.12"}, removed)

	ok, err := d.IsInstalled("hello")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnregisterNotFound(t *testing.T) {
	d, _ := newTestDB(t)
	_, err := d.Unregister("ghost")
	assert.Error(t, err)
}

func TestMatchingRulePartialKey(t *testing.T) {
	d, dir := newTestDB(t)
	prefix := filepath.Join(dir, "usr")
	require.NoError(t, d.Register("hello", "2.12", prefix, nil, nil))

	rec, err := d.Get("hello-2.12")
	require.NoError(t, err)
	assert.Equal(t, "hello", rec.Name)

	rec2, err := d.Get("hello")
	require.NoError(t, err)
	assert.Equal(t, rec, rec2)
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	d, dir := newTestDB(t)
	prefix := filepath.Join(dir, "usr")
	require.NoError(t, d.Register("hello", "2.12", prefix, nil, nil))

	before, err := os.ReadFile(d.path)
	require.NoError(t, err)

	backupPath, err := d.Backup("")
	require.NoError(t, err)

	require.NoError(t, d.Register("other", "1.0", prefix, nil, nil))
	require.NoError(t, d.Restore(backupPath))

	after, err := os.ReadFile(d.path)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestRegisterInvalidPrefix(t *testing.T) {
	d, _ := newTestDB(t)
	err := d.Register("hello", "1.0", "", nil, nil)
	assert.Error(t, err)
}

func TestVerifyFlagsMissingBinDir(t *testing.T) {
	d, dir := newTestDB(t)
	prefix := filepath.Join(dir, "usr")
	require.NoError(t, os.MkdirAll(prefix, 0o755))
	require.NoError(t, d.Register("hello", "2.12", prefix, nil, nil))

	issues, err := d.Verify()
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Reason, "bin")
}
