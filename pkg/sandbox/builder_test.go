package sandbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcanata00/porg/pkg/acquirer"
	"github.com/fcanata00/porg/pkg/config"
	"github.com/fcanata00/porg/pkg/logger"
	"github.com/fcanata00/porg/pkg/porgerr"
	"github.com/fcanata00/porg/pkg/recipe"
	"github.com/fcanata00/porg/pkg/session"
)

func testBuilder(t *testing.T, workDir string) *Builder {
	t.Helper()
	cfg := config.Default()
	cfg.WorkDir = workDir
	cfg.CacheDir = filepath.Join(workDir, "cache")

	log, err := logger.New(logger.Options{LogDir: filepath.Join(workDir, "log")})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	return &Builder{
		Acquirer: acquirer.New(filepath.Join(workDir, "cache", "distfiles"), cfg.GPGKeyring, false),
		Config:   cfg,
		Log:      log,
		StateDir: filepath.Join(workDir, "state"),
	}
}

func TestBuildPersistsSessionStateOnDownloadFailure(t *testing.T) {
	work := t.TempDir()
	b := testBuilder(t, work)
	rec := &recipe.Recipe{
		Name: "ghost", Version: "1.0",
		Sources: []recipe.Source{{URL: "http://127.0.0.1:1/missing.tar.gz"}},
	}

	_, err := b.Build(context.Background(), rec, false)
	assert.Error(t, err)

	st, loadErr := session.Load(b.stateFile(rec))
	require.NoError(t, loadErr)
	assert.Equal(t, "download", states[st.PhaseIndex])
	assert.Equal(t, rec.Key(), st.CurrentPackage)
}

func TestBuildResumeSkipsAlreadyCompletedDownload(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("not a real archive"))
	}))
	defer srv.Close()

	work := t.TempDir()
	b := testBuilder(t, work)
	rec := &recipe.Recipe{
		Name: "widget", Version: "2.0",
		Sources: []recipe.Source{{URL: srv.URL + "/widget.bin"}},
	}

	_, err := b.Build(context.Background(), rec, false)
	require.Error(t, err)
	assert.Equal(t, 1, hits)

	st, loadErr := session.Load(b.stateFile(rec))
	require.NoError(t, loadErr)
	assert.Equal(t, "extract", states[st.PhaseIndex])

	_, err = b.Build(context.Background(), rec, true)
	require.Error(t, err)
	assert.Equal(t, 1, hits, "resume must not re-download a state that already completed")
}

func TestStageBaseRedirectsForBootstrapStage(t *testing.T) {
	b := testBuilder(t, t.TempDir())
	normal := &recipe.Recipe{Name: "a", Version: "1", Stage: recipe.StageNormal}
	boot := &recipe.Recipe{Name: "b", Version: "1", Stage: recipe.StageBootstrap}

	assert.Equal(t, filepath.Join(b.Config.WorkDir, "stage"), b.stageBase(normal))
	assert.Equal(t, filepath.Join(b.Config.WorkDir, "bootstrap-root", "bootstrap"), b.stageBase(boot))
}

func TestExpandToRootRefusesWithoutConfirmation(t *testing.T) {
	b := testBuilder(t, t.TempDir())
	rec := &recipe.Recipe{Name: "tool", Version: "1.0", Prefix: "/opt/tool", ExpandToRoot: true}

	err := b.ExpandToRoot(context.Background(), rec, "/nonexistent-artifact")
	assert.ErrorIs(t, err, porgerr.ErrPermissionDenied)
}

func TestBuildEnvIncludesWhitelistedVariables(t *testing.T) {
	rec := &recipe.Recipe{Name: "hello", Version: "2.12", Prefix: "/usr"}
	env := buildEnv(rec, Env{DestDir: "/sandbox/dest"}, 4)
	assert.Contains(t, env, "DESTDIR=/sandbox/dest")
	assert.Contains(t, env, "JOBS=4")
	assert.Contains(t, env, "PKG_NAME=hello")
	assert.Contains(t, env, "PKG_VERSION=2.12")
	assert.Contains(t, env, "PKG_PREFIX=/usr")
}

func TestShQuoteEscapesSingleQuotes(t *testing.T) {
	got := shQuote(`echo 'hi there'`)
	assert.Equal(t, `'echo '\''hi there'\'''`, got)
}
