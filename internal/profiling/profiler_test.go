package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_CPUProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpu.prof")

	s, err := Start(path, "")
	require.NoError(t, err)

	// Burn a little CPU so the profile has samples.
	sum := 0
	for i := 0; i < 1_000_000; i++ {
		sum += i
	}
	_ = sum

	require.NoError(t, s.Stop())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestSession_HeapProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.prof")

	s, err := Start("", path)
	require.NoError(t, err)
	require.NoError(t, s.Stop())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestSession_NoPathsIsNoOp(t *testing.T) {
	s, err := Start("", "")
	require.NoError(t, err)
	assert.NoError(t, s.Stop())
}

func TestSession_NilStop(t *testing.T) {
	var s *Session
	assert.NoError(t, s.Stop())
}

func TestSession_BadCPUPath(t *testing.T) {
	_, err := Start(filepath.Join(t.TempDir(), "missing", "cpu.prof"), "")
	assert.Error(t, err)
}
