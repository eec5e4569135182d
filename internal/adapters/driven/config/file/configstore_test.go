package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/propops/internal/core/domain"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0600))
}

func TestNewConfigStore_Success(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewConfigStore(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmpDir, "config.toml"), store.Path())
}

func TestNewConfigStore_NestedDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	_, err := NewConfigStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestConfigStore_Load_NoFileReturnsDefaults(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)

	cfg, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultConfig(), cfg)
}

func TestConfigStore_Load_FileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[remote]
base_url = "https://api.example.com"

[cache]
default_ttl = "30s"

[queue]
concurrency = 8
`)
	store, err := NewConfigStore(dir)
	require.NoError(t, err)

	cfg, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Cache.DefaultTTL.Std())
	assert.Equal(t, 8, cfg.Queue.Concurrency)
	// Untouched keys keep their defaults.
	assert.Equal(t, domain.DefaultConfig().Cache.NegativeTTL, cfg.Cache.NegativeTTL)
	assert.Equal(t, domain.DefaultConfig().Sync, cfg.Sync)
}

func TestConfigStore_Load_EnvironmentWins(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[remote]
base_url = "https://file.example.com"
`)
	t.Setenv("PROPOPS_REMOTE_BASE_URL", "https://env.example.com")
	t.Setenv("PROPOPS_QUEUE_MAX_RETRIES", "9")
	t.Setenv("PROPOPS_AUTH_LEAD_TIME", "2m")
	t.Setenv("PROPOPS_SCHEDULER_ENABLED", "false")

	store, err := NewConfigStore(dir)
	require.NoError(t, err)

	cfg, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, 9, cfg.Queue.MaxRetries)
	assert.Equal(t, 2*time.Minute, cfg.Auth.LeadTime.Std())
	assert.False(t, cfg.Scheduler.Enabled)
}

func TestConfigStore_Load_BadEnvironmentValue(t *testing.T) {
	t.Setenv("PROPOPS_CACHE_DEFAULT_TTL", "soon")

	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load()
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestConfigStore_Load_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "this is [not valid")

	store, err := NewConfigStore(dir)
	require.NoError(t, err)

	_, err = store.Load()
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestConfigStore_Load_ValidationFailureNamesKey(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[queue]
concurrency = 0

[log]
level = "chatty"
`)
	store, err := NewConfigStore(dir)
	require.NoError(t, err)

	_, err = store.Load()
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "queue.concurrency")
	assert.Contains(t, err.Error(), "log.level")
}

func TestConfigStore_Load_MaxDelayBelowBase(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[cache]
base_delay = "10s"
max_delay = "1s"
`)
	store, err := NewConfigStore(dir)
	require.NoError(t, err)

	_, err = store.Load()
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "cache.max_delay")
}

func TestConfigStore_SaveReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewConfigStore(dir)
	require.NoError(t, err)

	cfg := domain.DefaultConfig()
	cfg.Remote.BaseURL = "https://saved.example.com"
	cfg.Sync.PageSize = 250
	cfg.Changes.MinInterval = domain.Duration(750 * time.Millisecond)
	require.NoError(t, store.Save(cfg))

	reloaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)
}

func TestConfigStore_SaveRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	store, err := NewConfigStore(dir)
	require.NoError(t, err)

	cfg := domain.DefaultConfig()
	cfg.Remote.BaseURL = ""

	err = store.Save(cfg)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.NoFileExists(t, store.Path())
}

func TestConfigStore_FilePermissions(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Save(domain.DefaultConfig()))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
