package statusstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sentrypool/sentrypool/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status")
	want := []types.BackendStatus{types.BackendUp, types.BackendDown, types.BackendConnectWait}

	require.NoError(t, Save(path, want))
	got := Load(path, len(want), false)

	assert.Equal(t, types.BackendConnectWait, got[0])
	assert.Equal(t, types.BackendDown, got[1])
	// CONNECT_WAIT and UP both encode as the same non-DOWN byte, so a
	// reload can't distinguish them; only DOWN survives a round trip.
	assert.Equal(t, types.BackendConnectWait, got[2])
}

func TestLoadMissingFileStartsClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist")

	got := Load(path, 3, false)

	for _, st := range got {
		assert.Equal(t, types.BackendConnectWait, st)
	}
}

func TestLoadDiscardRemovesFileAndResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status")
	require.NoError(t, Save(path, []types.BackendStatus{types.BackendDown}))

	got := Load(path, 1, true)

	assert.Equal(t, types.BackendConnectWait, got[0])
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLoadAllDownIsTreatedAsBogus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status")
	require.NoError(t, Save(path, []types.BackendStatus{types.BackendDown, types.BackendDown}))

	got := Load(path, 2, false)

	for _, st := range got {
		assert.Equal(t, types.BackendConnectWait, st, "a file reporting every backend down must be treated as corrupt")
	}
}

func TestLoadTooShortFileStartsClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status")
	require.NoError(t, os.WriteFile(path, []byte{0}, 0o644))

	got := Load(path, 3, false)

	for _, st := range got {
		assert.Equal(t, types.BackendConnectWait, st)
	}
}
