package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestMakeFileBackup_MissingSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project-metadata.json")

	require.NoError(t, MakeFileBackup(path, 1))

	_, err := os.Stat(BackupPath(path))
	assert.True(t, os.IsNotExist(err))
}

func TestMakeFileBackup_CreatesBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project-metadata.json")
	writeFile(t, path, `{"resources":{}}`)

	require.NoError(t, MakeFileBackup(path, 1))

	assert.Equal(t, `{"resources":{}}`, readFile(t, BackupPath(path)))
	// Original remains untouched.
	assert.Equal(t, `{"resources":{}}`, readFile(t, path))
}

func TestMakeFileBackup_SingleGenerationOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")

	writeFile(t, path, "v1")
	require.NoError(t, MakeFileBackup(path, 1))
	writeFile(t, path, "v2")
	require.NoError(t, MakeFileBackup(path, 1))

	assert.Equal(t, "v2", readFile(t, BackupPath(path)))
	_, err := os.Stat(path + Suffix + ".1")
	assert.True(t, os.IsNotExist(err))
}

func TestMakeFileBackup_RotatesGenerations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")

	writeFile(t, path, "v1")
	require.NoError(t, MakeFileBackup(path, 3))
	writeFile(t, path, "v2")
	require.NoError(t, MakeFileBackup(path, 3))
	writeFile(t, path, "v3")
	require.NoError(t, MakeFileBackup(path, 3))

	assert.Equal(t, "v3", readFile(t, path+Suffix))
	assert.Equal(t, "v2", readFile(t, path+Suffix+".1"))
	assert.Equal(t, "v1", readFile(t, path+Suffix+".2"))
}

func TestMakeFileBackup_ZeroGenerations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	writeFile(t, path, "v1")

	require.NoError(t, MakeFileBackup(path, 0))

	_, err := os.Stat(BackupPath(path))
	assert.True(t, os.IsNotExist(err))
}

func TestMakeFileBackup_DirectoryIsError(t *testing.T) {
	dir := t.TempDir()
	err := MakeFileBackup(dir, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory")
}
