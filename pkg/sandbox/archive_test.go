package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixtureTree(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "tool"), []byte("#!/bin/sh\necho hi\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("hello\n"), 0o644))
}

func TestPackageAndExtractRoundTripTar(t *testing.T) {
	stageDir := t.TempDir()
	writeFixtureTree(t, stageDir)

	outDir := t.TempDir()
	artifact, err := Package(stageDir, outDir, "hello-1.0", "tar")
	require.NoError(t, err)
	assert.FileExists(t, artifact)

	destDir := t.TempDir()
	top, err := Extract(artifact, destDir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(top, "README"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestPackageAndExtractRoundTripGz(t *testing.T) {
	stageDir := t.TempDir()
	writeFixtureTree(t, stageDir)

	outDir := t.TempDir()
	artifact, err := Package(stageDir, outDir, "hello-1.0", "gz")
	require.NoError(t, err)
	assert.FileExists(t, artifact)
	assert.True(t, len(artifact) > 4 && artifact[len(artifact)-7:] == ".tar.gz")

	destDir := t.TempDir()
	top, err := Extract(artifact, destDir)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(top, "bin", "tool"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "echo hi")
}

func TestExtractUsesStageDirItselfWhenMultipleTopLevelEntries(t *testing.T) {
	stageDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(stageDir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(stageDir, "b.txt"), []byte("b"), 0o644))

	outDir := t.TempDir()
	artifact, err := Package(stageDir, outDir, "multi-1.0", "tar")
	require.NoError(t, err)

	destDir := t.TempDir()
	top, err := Extract(artifact, destDir)
	require.NoError(t, err)
	assert.Equal(t, destDir, top)
}
