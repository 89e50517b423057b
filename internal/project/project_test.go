package project

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/projmeta/internal/config"
)

func testStoreConfig() config.StoreConfig {
	return config.StoreConfig{
		MetadataDir:       ".projmeta",
		FlushDelay:        config.Duration(5 * time.Millisecond),
		BackupGenerations: 1,
		IDPolicy:          config.IDPolicyFail,
	}
}

func newTestProject(t *testing.T) (*Project, string) {
	t.Helper()
	dir := t.TempDir()
	p, err := New(dir, testStoreConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(p.Dispose)
	return p, dir
}

func TestNewValidation(t *testing.T) {
	_, err := New("", testStoreConfig(), nil)
	assert.ErrorIs(t, err, ErrEmptyProjectPath)

	_, err = NewInMemory("", testStoreConfig(), nil)
	assert.ErrorIs(t, err, ErrEmptyProjectName)
}

func TestProjectName(t *testing.T) {
	p, dir := newTestProject(t)
	assert.Equal(t, filepath.Base(dir), p.Name())
	assert.Equal(t, dir, p.Path())
	assert.False(t, p.IsInMemory())
}

func TestIDGeneratedAndPersisted(t *testing.T) {
	p, dir := newTestProject(t)

	id, err := p.ID()
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err, "generated ID is not a UUID")

	// Memoized.
	again, err := p.ID()
	require.NoError(t, err)
	assert.Equal(t, id, again)

	// Stable across instances.
	p2, err := New(dir, testStoreConfig(), nil)
	require.NoError(t, err)
	defer p2.Dispose()

	id2, err := p2.ID()
	require.NoError(t, err)
	assert.Equal(t, id, id2)
}

func TestIDCorruptFailPolicy(t *testing.T) {
	p, dir := newTestProject(t)

	metaDir := filepath.Join(dir, ".projmeta")
	require.NoError(t, os.MkdirAll(metaDir, 0700))
	settings, err := json.Marshal(map[string]any{PropProjectID: "not-a-uuid"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(metaDir, SettingsFileName), settings, 0600))

	_, err = p.ID()
	assert.ErrorIs(t, err, ErrInvalidProjectID)
}

func TestIDCorruptRegeneratePolicy(t *testing.T) {
	dir := t.TempDir()
	metaDir := filepath.Join(dir, ".projmeta")
	require.NoError(t, os.MkdirAll(metaDir, 0700))
	settings, err := json.Marshal(map[string]any{PropProjectID: "not-a-uuid"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(metaDir, SettingsFileName), settings, 0600))

	cfg := testStoreConfig()
	cfg.IDPolicy = config.IDPolicyRegenerate
	p, err := New(dir, cfg, nil)
	require.NoError(t, err)
	defer p.Dispose()

	id, err := p.ID()
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	// The regenerated ID replaces the corrupt one on disk.
	data, err := os.ReadFile(filepath.Join(metaDir, SettingsFileName))
	require.NoError(t, err)
	var stored map[string]any
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, id, stored[PropProjectID])
}

func TestProjectProperties(t *testing.T) {
	p, dir := newTestProject(t)

	_, ok := p.ProjectProperty("theme")
	assert.False(t, ok)

	p.SetProjectProperty("theme", "dark")
	v, ok := p.ProjectProperty("theme")
	require.True(t, ok)
	assert.Equal(t, "dark", v)

	// Synchronous persistence.
	_, err := os.Stat(filepath.Join(dir, ".projmeta", SettingsFileName))
	assert.NoError(t, err)

	// nil removes, and the removal persists.
	p.SetProjectProperty("theme", nil)
	_, ok = p.ProjectProperty("theme")
	assert.False(t, ok)

	p2, err := New(dir, testStoreConfig(), nil)
	require.NoError(t, err)
	defer p2.Dispose()
	_, ok = p2.ProjectProperty("theme")
	assert.False(t, ok, "removed property reappeared after reload")
}

func TestResourcePropertiesFlush(t *testing.T) {
	p, dir := newTestProject(t)

	p.SetResourceProperty("scripts/query.sql", "bookmark", true)
	p.SetResourceProperty("scripts/query.sql", "position", 42)

	metaFile := filepath.Join(dir, ".projmeta", MetadataFileName)
	require.Eventually(t, func() bool {
		_, err := os.Stat(metaFile)
		return err == nil
	}, time.Second, 5*time.Millisecond, "debounced flush never wrote the metadata file")

	data, err := os.ReadFile(metaFile)
	require.NoError(t, err)
	var doc struct {
		Resources map[string]map[string]any `json:"resources"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, true, doc.Resources["scripts/query.sql"]["bookmark"])
	assert.Equal(t, float64(42), doc.Resources["scripts/query.sql"]["position"])
}

func TestResourceCacheLifecycleHooks(t *testing.T) {
	p, _ := newTestProject(t)

	p.SetResourceProperty("old/path.sql", "bookmark", true)

	p.UpdateResourceCache("old/path.sql", "new/path.sql")
	_, ok := p.ResourceProperties("old/path.sql")
	assert.False(t, ok)
	v, ok := p.ResourceProperty("new/path.sql", "bookmark")
	require.True(t, ok)
	assert.Equal(t, true, v)

	p.RemoveResourceFromCache("new/path.sql")
	_, ok = p.ResourceProperties("new/path.sql")
	assert.False(t, ok)
}

func TestFormatDetection(t *testing.T) {
	t.Run("unknown before any metadata", func(t *testing.T) {
		p, _ := newTestProject(t)
		assert.Equal(t, FormatUnknown, p.Format())
		assert.False(t, p.IsModern())
	})

	t.Run("modern after first write", func(t *testing.T) {
		p, _ := newTestProject(t)
		p.SetProjectProperty("k", "v")
		assert.Equal(t, FormatModern, p.Format())
		assert.True(t, p.IsModern())
	})

	t.Run("legacy layout", func(t *testing.T) {
		dir := t.TempDir()
		settings, err := json.Marshal(map[string]any{"k": "v"})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, SettingsFileName), settings, 0600))

		p, err := New(dir, testStoreConfig(), nil)
		require.NoError(t, err)
		defer p.Dispose()

		assert.Equal(t, FormatLegacy, p.Format())
		assert.Equal(t, dir, p.MetadataDir())

		v, ok := p.ProjectProperty("k")
		require.True(t, ok)
		assert.Equal(t, "v", v)
	})

	t.Run("in-memory is modern", func(t *testing.T) {
		p, err := NewInMemory("scratch", testStoreConfig(), nil)
		require.NoError(t, err)
		defer p.Dispose()
		assert.True(t, p.IsModern())
	})
}

func TestInMemoryProjectNeverPersists(t *testing.T) {
	p, err := NewInMemory("scratch", testStoreConfig(), nil)
	require.NoError(t, err)
	defer p.Dispose()

	p.SetProjectProperty("k", "v")
	p.SetResourceProperty("a.sql", "bookmark", true)

	id, err := p.ID()
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	v, ok := p.ProjectProperty("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, p.FlushMetadata(context.Background()))
	assert.Empty(t, p.Path())
}

func TestCollaboratorsLazyAndOwned(t *testing.T) {
	p, dir := newTestProject(t)

	// Nothing on disk before first use.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	reg, err := p.DataSources()
	require.NoError(t, err)
	reg2, err := p.DataSources()
	require.NoError(t, err)
	assert.Same(t, reg, reg2, "registry not owned as a singleton")

	tasks, err := p.Tasks()
	require.NoError(t, err)
	assert.NotNil(t, tasks)

	secrets, err := p.SecureStorage()
	require.NoError(t, err)
	require.NoError(t, secrets.Set("db-pass", "x"))
}

func TestDispose(t *testing.T) {
	p, dir := newTestProject(t)

	p.SetResourceProperty("a.sql", "bookmark", true)
	p.Dispose()

	// The pending flush completed before Dispose returned.
	_, err := os.Stat(filepath.Join(dir, ".projmeta", MetadataFileName))
	assert.NoError(t, err)

	// Idempotent; collaborators refuse after disposal.
	p.Dispose()
	_, err = p.DataSources()
	assert.ErrorIs(t, err, ErrProjectDisposed)
	_, err = p.Tasks()
	assert.ErrorIs(t, err, ErrProjectDisposed)
	_, err = p.SecureStorage()
	assert.ErrorIs(t, err, ErrProjectDisposed)
}

func TestFlushMetadataSynchronous(t *testing.T) {
	p, dir := newTestProject(t)

	p.SetResourceProperty("a.sql", "bookmark", true)
	require.NoError(t, p.FlushMetadata(context.Background()))

	_, err := os.Stat(filepath.Join(dir, ".projmeta", MetadataFileName))
	assert.NoError(t, err)
}
