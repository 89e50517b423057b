package secure

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageSetGet(t *testing.T) {
	s := NewStorage(t.TempDir(), false)

	require.NoError(t, s.Set("db-password", "hunter2"))

	got, err := s.Get("db-password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}

func TestStorageGetMissing(t *testing.T) {
	s := NewStorage(t.TempDir(), false)

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestStorageDeleteViaEmptyValue(t *testing.T) {
	s := NewStorage(t.TempDir(), false)

	require.NoError(t, s.Set("token", "abc"))
	require.NoError(t, s.Set("token", ""))

	_, err := s.Get("token")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestStoragePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	s1 := NewStorage(dir, false)
	require.NoError(t, s1.Set("api-key", "secret-value"))
	require.NoError(t, s1.Close())

	s2 := NewStorage(dir, false)
	got, err := s2.Get("api-key")
	require.NoError(t, err)
	assert.Equal(t, "secret-value", got)
}

func TestStorageFileIsEncrypted(t *testing.T) {
	dir := t.TempDir()

	s := NewStorage(dir, false)
	require.NoError(t, s.Set("api-key", "plaintext-needle"))

	blob, err := os.ReadFile(filepath.Join(dir, StorageFile))
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "plaintext-needle")
	assert.NotContains(t, string(blob), "api-key")
}

func TestStorageWrongKeyFails(t *testing.T) {
	dir := t.TempDir()

	s1 := NewStorage(dir, false)
	require.NoError(t, s1.Set("api-key", "value"))

	// Replace the key file; decryption must fail, not return garbage.
	require.NoError(t, os.WriteFile(filepath.Join(dir, KeyFile), make([]byte, 32), 0600))

	s2 := NewStorage(dir, false)
	_, err := s2.Get("api-key")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSecretNotFound)
}

func TestStorageInMemory(t *testing.T) {
	dir := t.TempDir()
	s := NewStorage(dir, true)

	require.NoError(t, s.Set("ephemeral", "value"))

	got, err := s.Get("ephemeral")
	require.NoError(t, err)
	assert.Equal(t, "value", got)

	_, statErr := os.Stat(filepath.Join(dir, StorageFile))
	assert.True(t, os.IsNotExist(statErr), "in-memory storage wrote a store file")
}

func TestStorageNames(t *testing.T) {
	s := NewStorage(t.TempDir(), false)

	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Set("b", "2"))

	names, err := s.Names()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestStorageClosed(t *testing.T) {
	s := NewStorage(t.TempDir(), false)
	require.NoError(t, s.Close())

	_, err := s.Get("x")
	assert.ErrorIs(t, err, ErrStorageClosed)
	assert.True(t, errors.Is(s.Set("x", "y"), ErrStorageClosed))
}
