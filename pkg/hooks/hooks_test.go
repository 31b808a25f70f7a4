package hooks

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesStdoutAndEnv(t *testing.T) {
	env := Env{DestDir: "/tmp/dest", Jobs: "4", Name: "hello", Version: "1.0", Prefix: "/usr"}
	res, err := Run(context.Background(), t.TempDir(), `/bin/sh -c "echo $PKG_NAME-$PKG_VERSION"`, env)
	require.NoError(t, err)
	assert.Equal(t, "hello-1.0\n", res.Stdout)
}

func TestRunNonZeroExitIsHookFailed(t *testing.T) {
	_, err := Run(context.Background(), t.TempDir(), "false", Env{})
	assert.Error(t, err)
}

func TestRunStageForceDowngradesToWarning(t *testing.T) {
	var warnings []string
	results, err := RunStage(context.Background(), t.TempDir(),
		[]string{"false", "true"}, Env{}, true, func(msg string) { warnings = append(warnings, msg) })
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Len(t, warnings, 1)
}

func TestRunStageWithoutForceStopsOnFirstFailure(t *testing.T) {
	_, err := RunStage(context.Background(), t.TempDir(), []string{"false", "true"}, Env{}, false, nil)
	assert.Error(t, err)
}

func TestCapturedOutputFormatsHeader(t *testing.T) {
	var sb strings.Builder
	CapturedOutput(&sb, Result{Command: "echo hi", Stdout: "hi\n"})
	assert.Contains(t, sb.String(), "+ echo hi")
	assert.Contains(t, sb.String(), "hi\n")
}
