package staking_rewards

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateWallet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "id.json")

	created, isNew, err := LoadOrCreateWallet(path)
	require.NoError(t, err)
	assert.True(t, isNew)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, isNew, err := LoadOrCreateWallet(path)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, created.PublicKey(), loaded.PublicKey())
}

func TestLoadWallet_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, []byte("[1,2,3]"), 0600))
	_, err := LoadWallet(path)
	assert.Error(t, err)

	_, err = LoadWallet(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
