package acquirer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcanata00/porg/pkg/porgerr"
	"github.com/fcanata00/porg/pkg/recipe"
)

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestAcquireHTTPSourceVerifiesChecksum(t *testing.T) {
	payload := []byte("hello world\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	a := New(t.TempDir(), "", false)
	path, err := a.Acquire(context.Background(), []recipe.Source{
		{URL: srv.URL + "/hello.tar.gz", Checksum: sha256Hex(payload)},
	})
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestAcquireFallsThroughOnChecksumMismatch(t *testing.T) {
	payload := []byte("one")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	goodDir := t.TempDir()
	goodFile := filepath.Join(goodDir, "fallback.txt")
	require.NoError(t, os.WriteFile(goodFile, []byte("two"), 0o644))

	a := New(t.TempDir(), "", false)
	path, err := a.Acquire(context.Background(), []recipe.Source{
		{URL: srv.URL + "/bad.tar.gz", Checksum: "deadbeef"},
		{URL: "file://" + goodFile, Checksum: sha256Hex([]byte("two"))},
	})
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)
}

func TestAcquireExhaustsSourcesReturnsNoValidSource(t *testing.T) {
	a := New(t.TempDir(), "", false)
	_, err := a.Acquire(context.Background(), []recipe.Source{
		{URL: "ftp://example.invalid/missing.tar.gz"},
	})
	assert.ErrorIs(t, err, porgerr.ErrNoValidSource)
}

func TestAcquireCachesAlreadyDownloadedFile(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("cached"))
	}))
	defer srv.Close()

	a := New(t.TempDir(), "", false)
	sources := []recipe.Source{{URL: srv.URL + "/once.tar.gz", Checksum: sha256Hex([]byte("cached"))}}

	_, err := a.Acquire(context.Background(), sources)
	require.NoError(t, err)
	_, err = a.Acquire(context.Background(), sources)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=porg-test", "GIT_AUTHOR_EMAIL=porg@example.com",
		"GIT_COMMITTER_NAME=porg-test", "GIT_COMMITTER_EMAIL=porg@example.com",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

// TestAcquireVCSSchemeRoutesThroughGitClone exercises the "vcs+<transport>"
// URL convention end to end: a vcs+file:// source must route to fetchVCS and
// strip only the "vcs+" prefix, leaving a URL git itself understands.
func TestAcquireVCSSchemeRoutesThroughGitClone(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	upstream := t.TempDir()
	runGit(t, upstream, "init", "--initial-branch=main")
	require.NoError(t, os.WriteFile(filepath.Join(upstream, "README"), []byte("hi\n"), 0o644))
	runGit(t, upstream, "add", ".")
	runGit(t, upstream, "commit", "-m", "initial")

	a := New(t.TempDir(), "", false)
	path, err := a.Acquire(context.Background(), []recipe.Source{
		{URL: "vcs+file://" + upstream},
	})
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(path, "README"))
	assert.NoError(t, err)
}

func TestAcquireStrictGPGRejectsUnsignedUncheckedSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	a := New(t.TempDir(), "", true)
	_, err := a.Acquire(context.Background(), []recipe.Source{{URL: srv.URL + "/x.tar.gz"}})
	assert.ErrorIs(t, err, porgerr.ErrNoValidSource)
}
