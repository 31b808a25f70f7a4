package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripSkipsNonELFFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("plain text\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "share"), 0o755))

	stripped, err := Strip(dir)
	require.NoError(t, err)
	assert.Empty(t, stripped)
}

func TestIsELFRejectsNonELFMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0o755))
	assert.False(t, isELF(path))
}
