package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesSessionFile(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Options{LogDir: dir, Quiet: true})
	require.NoError(t, err)
	defer l.Close()

	l.Emit(INFO, "hello %s", "world")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), l.Counts()["INFO"])
}

func TestJSONMirrorOptIn(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Options{LogDir: dir, Quiet: true, JSONMirror: true})
	require.NoError(t, err)
	defer l.Close()

	l.Emit(WARN, "careful")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRotateCompressesOldLogs(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.log")
	require.NoError(t, os.WriteFile(old, []byte("stale"), 0o644))
	oldTime := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(old, oldTime, oldTime))

	require.NoError(t, Rotate(dir, RotatePolicy{CompressAfterDays: 14, DeleteAfterDays: 0}))

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(old + ".gz")
	assert.NoError(t, err)
}
