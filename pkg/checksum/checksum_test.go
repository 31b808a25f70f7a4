package checksum

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestVerifySHA256Match(t *testing.T) {
	p := writeTemp(t, "hello world")
	d, _, err := FileDigest(p, SHA256)
	require.NoError(t, err)
	ok, err := VerifySHA256(p, d)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifySHA256Mismatch(t *testing.T) {
	p := writeTemp(t, "hello world")
	ok, err := VerifySHA256(p, "0000000000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDigestSetDeterministic(t *testing.T) {
	p := writeTemp(t, "payload")
	set1, names1, err := DigestSet(p)
	require.NoError(t, err)
	set2, names2, err := DigestSet(p)
	require.NoError(t, err)
	assert.Equal(t, names1, names2)
	assert.Equal(t, set1, set2)
	assert.Contains(t, set1, SHA256)
}

func TestNewUnknownAlgorithm(t *testing.T) {
	_, ok := New("NOPE")
	assert.False(t, ok)
}
