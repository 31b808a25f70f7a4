package dblock

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	target := filepath.Join(t.TempDir(), "installed.json")
	l, err := Acquire(target, Options{})
	require.NoError(t, err)
	require.NoError(t, l.Release())

	l2, err := Acquire(target, Options{})
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestAcquireFailsWhenHeld(t *testing.T) {
	target := filepath.Join(t.TempDir(), "installed.json")
	l, err := Acquire(target, Options{})
	require.NoError(t, err)
	defer l.Release()

	_, err = Acquire(target, Options{Retries: 2, Delay: 5 * time.Millisecond})
	assert.Error(t, err)
}
