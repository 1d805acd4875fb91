package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/baluhost/baluhost/pkg/errdefs"
)

// Mode selects the RAID backend and sampler cadence defaults.
type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

// LogConfig controls the global logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// SamplerConfig controls monitoring cadence and history depth.
type SamplerConfig struct {
	CPUIntervalMs  int `yaml:"cpuIntervalMs"`
	DiskIntervalMs int `yaml:"diskIntervalMs"`
	HistorySize    int `yaml:"historySize"`
	ProcessTopN    int `yaml:"processTopN"`
}

// RetentionConfig holds per-table sample retention in seconds.
type RetentionConfig struct {
	CPUSeconds     int `yaml:"cpuSeconds"`
	MemorySeconds  int `yaml:"memorySeconds"`
	NetworkSeconds int `yaml:"networkSeconds"`
	DiskIOSeconds  int `yaml:"diskIoSeconds"`
	ProcessSeconds int `yaml:"processSeconds"`
	SmartSeconds   int `yaml:"smartSeconds"`
}

// SchedulerConfig holds trigger specs for the built-in jobs plus shutdown
// grace. Specs use the scheduler syntax: "interval:1h", "cron:0 3 * * 0",
// "daily:03:00".
type SchedulerConfig struct {
	ScrubInterval      string `yaml:"scrubInterval"`
	SmartInterval      string `yaml:"smartInterval"`
	AutoBackupInterval string `yaml:"autoBackupInterval"`
	GracePeriodSeconds int    `yaml:"gracePeriodSeconds"`
}

// PlainDisk exposes a non-RAID directory or mount as a mountpoint.
type PlainDisk struct {
	Label    string `yaml:"label"`
	RootPath string `yaml:"rootPath"`
	Readonly bool   `yaml:"readonly"`
}

// RaidConfig holds backend knobs that are not per-array.
type RaidConfig struct {
	PlainDisks []PlainDisk `yaml:"plainDisks"`
}

// Config is the complete runtime configuration. Zero values are filled from
// Default(); a YAML file and BALUHOST_* environment variables override it.
type Config struct {
	Mode                 Mode            `yaml:"mode"`
	StorageRootPath      string          `yaml:"storageRootPath"`
	TempPath             string          `yaml:"tempPath"`
	DatabasePath         string          `yaml:"databasePath"`
	SimStatePath         string          `yaml:"simStatePath"`
	PerUserQuotaBytes    int64           `yaml:"perUserQuotaBytes"`
	PasswordMinLength    int             `yaml:"passwordMinLength"`
	TokenExpirySeconds   int             `yaml:"tokenExpirySeconds"`
	RefreshExpirySeconds int             `yaml:"refreshExpirySeconds"`
	AccessTokenSecret    string          `yaml:"accessTokenSecret"`
	Log                  LogConfig       `yaml:"log"`
	Sampler              SamplerConfig   `yaml:"sampler"`
	Retention            RetentionConfig `yaml:"retention"`
	Scheduler            SchedulerConfig `yaml:"scheduler"`
	Raid                 RaidConfig      `yaml:"raid"`
}

// Default returns the production defaults. Dev mode tightens the CPU
// cadence; everything else is identical across modes.
func Default() *Config {
	return &Config{
		Mode:                 ModeProd,
		StorageRootPath:      "/srv/baluhost/storage",
		TempPath:             "/srv/baluhost/tmp",
		DatabasePath:         "/srv/baluhost/baluhost.db",
		SimStatePath:         "/srv/baluhost/raidsim.db",
		PerUserQuotaBytes:    10 * 1024 * 1024 * 1024,
		PasswordMinLength:    8,
		TokenExpirySeconds:   900,
		RefreshExpirySeconds: 14 * 24 * 3600,
		Log:                  LogConfig{Level: "info", JSON: true},
		Sampler: SamplerConfig{
			CPUIntervalMs:  3000,
			DiskIntervalMs: 1000,
			HistorySize:    120,
			ProcessTopN:    10,
		},
		Retention: RetentionConfig{
			CPUSeconds:     7 * 24 * 3600,
			MemorySeconds:  7 * 24 * 3600,
			NetworkSeconds: 7 * 24 * 3600,
			DiskIOSeconds:  7 * 24 * 3600,
			ProcessSeconds: 24 * 3600,
			SmartSeconds:   90 * 24 * 3600,
		},
		Scheduler: SchedulerConfig{
			ScrubInterval:      "cron:0 3 * * 0",
			SmartInterval:      "interval:1h",
			AutoBackupInterval: "interval:24h",
			GracePeriodSeconds: 10,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (skipped when path is empty), then environment overrides, then
// validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errdefs.Wrap(err, errdefs.KindInvalidArg, "config.Load")
		}
	}

	cfg.applyEnv()
	cfg.applyModeDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BALUHOST_MODE"); v != "" {
		c.Mode = Mode(v)
	}
	if v := os.Getenv("BALUHOST_STORAGE_ROOT_PATH"); v != "" {
		c.StorageRootPath = v
	}
	if v := os.Getenv("BALUHOST_TEMP_PATH"); v != "" {
		c.TempPath = v
	}
	if v := os.Getenv("BALUHOST_DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("BALUHOST_SIM_STATE_PATH"); v != "" {
		c.SimStatePath = v
	}
	if v := os.Getenv("BALUHOST_ACCESS_TOKEN_SECRET"); v != "" {
		c.AccessTokenSecret = v
	}
	if v := os.Getenv("BALUHOST_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("BALUHOST_LOG_JSON"); v != "" {
		c.Log.JSON = v == "true" || v == "1"
	}
	if v := os.Getenv("BALUHOST_PER_USER_QUOTA_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.PerUserQuotaBytes = n
		}
	}
	if v := os.Getenv("BALUHOST_TOKEN_EXPIRY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TokenExpirySeconds = n
		}
	}
	if v := os.Getenv("BALUHOST_REFRESH_EXPIRY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RefreshExpirySeconds = n
		}
	}
}

// applyModeDefaults adjusts cadence defaults the file did not override.
func (c *Config) applyModeDefaults() {
	if c.Mode == ModeDev && c.Sampler.CPUIntervalMs == 3000 {
		c.Sampler.CPUIntervalMs = 2000
	}
}

// Validate rejects configurations the components cannot run with.
func (c *Config) Validate() error {
	if c.Mode != ModeDev && c.Mode != ModeProd {
		return errdefs.Errorf(errdefs.KindInvalidArg, "mode must be dev or prod, got %q", c.Mode)
	}
	if c.StorageRootPath == "" {
		return errdefs.Errorf(errdefs.KindInvalidArg, "storageRootPath is required")
	}
	if c.TempPath == "" {
		return errdefs.Errorf(errdefs.KindInvalidArg, "tempPath is required")
	}
	if c.DatabasePath == "" {
		return errdefs.Errorf(errdefs.KindInvalidArg, "databasePath is required")
	}
	if c.PerUserQuotaBytes <= 0 {
		return errdefs.Errorf(errdefs.KindInvalidArg, "perUserQuotaBytes must be positive, got %d", c.PerUserQuotaBytes)
	}
	if c.PasswordMinLength < 8 {
		return errdefs.Errorf(errdefs.KindInvalidArg, "passwordMinLength must be at least 8, got %d", c.PasswordMinLength)
	}
	if c.TokenExpirySeconds <= 0 || c.RefreshExpirySeconds <= 0 {
		return errdefs.Errorf(errdefs.KindInvalidArg, "token expiries must be positive")
	}
	if c.Sampler.CPUIntervalMs <= 0 || c.Sampler.DiskIntervalMs <= 0 {
		return errdefs.Errorf(errdefs.KindInvalidArg, "sampler intervals must be positive")
	}
	if c.Sampler.HistorySize <= 0 {
		return errdefs.Errorf(errdefs.KindInvalidArg, "sampler historySize must be positive, got %d", c.Sampler.HistorySize)
	}
	if c.Sampler.ProcessTopN <= 0 {
		return errdefs.Errorf(errdefs.KindInvalidArg, "sampler processTopN must be positive, got %d", c.Sampler.ProcessTopN)
	}
	for name, secs := range c.Retention.byTable() {
		if secs <= 0 {
			return errdefs.Errorf(errdefs.KindInvalidArg, "retention for %s must be positive, got %d", name, secs)
		}
	}
	if c.Scheduler.GracePeriodSeconds < 0 {
		return errdefs.Errorf(errdefs.KindInvalidArg, "scheduler gracePeriodSeconds must not be negative")
	}
	return nil
}

// CPUInterval returns the CPU sampler tick.
func (c *Config) CPUInterval() time.Duration {
	return time.Duration(c.Sampler.CPUIntervalMs) * time.Millisecond
}

// DiskInterval returns the disk sampler tick.
func (c *Config) DiskInterval() time.Duration {
	return time.Duration(c.Sampler.DiskIntervalMs) * time.Millisecond
}

// TokenTTL returns the access-token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenExpirySeconds) * time.Second
}

// RefreshTTL returns the refresh-token lifetime.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshExpirySeconds) * time.Second
}

// GracePeriod returns the shutdown grace for running jobs.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Scheduler.GracePeriodSeconds) * time.Second
}

func (r RetentionConfig) byTable() map[string]int {
	return map[string]int{
		"cpu_samples":     r.CPUSeconds,
		"memory_samples":  r.MemorySeconds,
		"network_samples": r.NetworkSeconds,
		"disk_io_samples": r.DiskIOSeconds,
		"process_samples": r.ProcessSeconds,
		"smart_records":   r.SmartSeconds,
	}
}

// ByTable maps sample table names to their retention windows.
func (r RetentionConfig) ByTable() map[string]time.Duration {
	out := make(map[string]time.Duration, 6)
	for table, secs := range r.byTable() {
		out[table] = time.Duration(secs) * time.Second
	}
	return out
}
