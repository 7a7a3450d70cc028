package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Sync.BatchSize)
	assert.Equal(t, 25, cfg.Sync.MicroBatchSize)
	assert.Equal(t, 50, cfg.Sync.TimeBudgetSecs)
	assert.Equal(t, 180, cfg.Sync.StaleAfterSecs)
	assert.Equal(t, "1", cfg.Sync.DefaultCountryCode)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	content := []byte("sync:\n  batch_size: 250\n  time_budget_secs: 30\nlog:\n  level: debug\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Sync.BatchSize)
	assert.Equal(t, 30, cfg.Sync.TimeBudgetSecs)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched keys keep defaults.
	assert.Equal(t, 25, cfg.Sync.MicroBatchSize)
}

func TestLoadAliases(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	content := []byte("email: [correo, email_addr]\nphone: [telefono]\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	aliases, err := LoadAliases(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"correo", "email_addr"}, aliases["email"])
	assert.Equal(t, []string{"telefono"}, aliases["phone"])
}

func TestLoadAliases_EmptyPath(t *testing.T) {
	aliases, err := LoadAliases("")
	require.NoError(t, err)
	assert.Nil(t, aliases)
}

func TestLoadAliases_MissingFile(t *testing.T) {
	_, err := LoadAliases("/nonexistent/sources.yaml")
	assert.Error(t, err)
}

func TestInitLogger_BadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	assert.Error(t, err)
}

func TestInitLogger_Console(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	assert.NoError(t, err)
}
