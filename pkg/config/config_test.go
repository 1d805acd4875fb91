package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baluhost/baluhost/pkg/errdefs"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() should validate, got %v", err)
	}
	assert.Equal(t, ModeProd, cfg.Mode)
	assert.Equal(t, 120, cfg.Sampler.HistorySize)
	assert.Equal(t, 8, cfg.PasswordMinLength)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "baluhost.yaml")
	data := `
mode: dev
storageRootPath: /tmp/storage
tempPath: /tmp/scratch
perUserQuotaBytes: 1048576
sampler:
  diskIntervalMs: 500
retention:
  processSeconds: 3600
scheduler:
  scrubInterval: "cron:30 2 * * 6"
raid:
  plainDisks:
    - label: archive
      rootPath: /mnt/archive
      readonly: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeDev, cfg.Mode)
	assert.Equal(t, "/tmp/storage", cfg.StorageRootPath)
	assert.Equal(t, int64(1048576), cfg.PerUserQuotaBytes)
	assert.Equal(t, 500, cfg.Sampler.DiskIntervalMs)
	assert.Equal(t, 3600, cfg.Retention.ProcessSeconds)
	assert.Equal(t, "cron:30 2 * * 6", cfg.Scheduler.ScrubInterval)
	require.Len(t, cfg.Raid.PlainDisks, 1)
	assert.True(t, cfg.Raid.PlainDisks[0].Readonly)

	// Untouched keys keep their defaults.
	assert.Equal(t, "/srv/baluhost/baluhost.db", cfg.DatabasePath)
	assert.Equal(t, 900, cfg.TokenExpirySeconds)
}

func TestDevModeTightensCPUCadence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: dev\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.Sampler.CPUIntervalMs)

	// An explicit file value wins over the dev default.
	require.NoError(t, os.WriteFile(path, []byte("mode: dev\nsampler:\n  cpuIntervalMs: 4000\n"), 0o644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Sampler.CPUIntervalMs)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BALUHOST_MODE", "dev")
	t.Setenv("BALUHOST_STORAGE_ROOT_PATH", "/data/store")
	t.Setenv("BALUHOST_TOKEN_EXPIRY_SECONDS", "120")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ModeDev, cfg.Mode)
	assert.Equal(t, "/data/store", cfg.StorageRootPath)
	assert.Equal(t, 120, cfg.TokenExpirySeconds)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Mode = "staging" }},
		{"empty storage root", func(c *Config) { c.StorageRootPath = "" }},
		{"empty temp path", func(c *Config) { c.TempPath = "" }},
		{"zero quota", func(c *Config) { c.PerUserQuotaBytes = 0 }},
		{"short password", func(c *Config) { c.PasswordMinLength = 4 }},
		{"zero token expiry", func(c *Config) { c.TokenExpirySeconds = 0 }},
		{"zero disk interval", func(c *Config) { c.Sampler.DiskIntervalMs = 0 }},
		{"zero history", func(c *Config) { c.Sampler.HistorySize = 0 }},
		{"zero retention", func(c *Config) { c.Retention.SmartSeconds = 0 }},
		{"negative grace", func(c *Config) { c.Scheduler.GracePeriodSeconds = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !errdefs.IsKind(err, errdefs.KindInvalidArg) {
				t.Errorf("kind = %q, want invalid_argument", errdefs.KindOf(err))
			}
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/baluhost.yaml")
	if err == nil {
		t.Fatal("Load() on a missing file should fail")
	}
}

func TestRetentionByTable(t *testing.T) {
	cfg := Default()
	byTable := cfg.Retention.ByTable()

	assert.Len(t, byTable, 6)
	assert.Equal(t, 7*24*time.Hour, byTable["disk_io_samples"])
	assert.Equal(t, 24*time.Hour, byTable["process_samples"])
	assert.Equal(t, 90*24*time.Hour, byTable["smart_records"])
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, time.Second, cfg.DiskInterval())
	assert.Equal(t, 3*time.Second, cfg.CPUInterval())
	assert.Equal(t, 15*time.Minute, cfg.TokenTTL())
	assert.Equal(t, 10*time.Second, cfg.GracePeriod())
}
