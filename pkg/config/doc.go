/*
Package config loads and validates the BaluHost runtime configuration.

Configuration is resolved in three layers: built-in defaults, an optional
YAML file, then BALUHOST_* environment variables. The result is validated
once at startup; components receive the immutable *Config and never consult
the environment themselves.

# Resolution Order

	Default() ──▶ YAML file ──▶ environment ──▶ Validate()

Later layers win. A missing file path is allowed only when no path was
given; pointing at a nonexistent file is an error.

# Configuration File

	mode: dev | prod
	storageRootPath: /srv/baluhost/storage
	tempPath: /srv/baluhost/tmp
	databasePath: /srv/baluhost/baluhost.db
	simStatePath: /srv/baluhost/raidsim.db
	perUserQuotaBytes: 10737418240
	passwordMinLength: 8
	tokenExpirySeconds: 900
	refreshExpirySeconds: 1209600
	log:
	  level: info
	  json: true
	sampler:
	  cpuIntervalMs: 3000
	  diskIntervalMs: 1000
	  historySize: 120
	  processTopN: 10
	retention:
	  cpuSeconds: 604800
	  memorySeconds: 604800
	  networkSeconds: 604800
	  diskIoSeconds: 604800
	  processSeconds: 86400
	  smartSeconds: 7776000
	scheduler:
	  scrubInterval: "cron:0 3 * * 0"
	  smartInterval: "interval:1h"
	  autoBackupInterval: "interval:24h"
	  gracePeriodSeconds: 10
	raid:
	  plainDisks:
	    - label: archive
	      rootPath: /mnt/archive
	      readonly: true

# Mode

mode selects the RAID controller backend (prod: mdadm, dev: simulator) and
tightens the CPU sampler cadence in dev (2 s instead of 3 s) unless the file
overrides it explicitly.

# Environment Variables

	BALUHOST_MODE                   mode
	BALUHOST_STORAGE_ROOT_PATH      storageRootPath
	BALUHOST_TEMP_PATH              tempPath
	BALUHOST_DATABASE_PATH          databasePath
	BALUHOST_SIM_STATE_PATH         simStatePath
	BALUHOST_ACCESS_TOKEN_SECRET    accessTokenSecret
	BALUHOST_LOG_LEVEL              log.level
	BALUHOST_LOG_JSON               log.json
	BALUHOST_PER_USER_QUOTA_BYTES   perUserQuotaBytes
	BALUHOST_TOKEN_EXPIRY_SECONDS   tokenExpirySeconds
	BALUHOST_REFRESH_EXPIRY_SECONDS refreshExpirySeconds

# Usage

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
	    return err
	}
	core, err := core.New(cfg)

Validation failures carry errdefs.KindInvalidArg and abort startup.

# Integration Points

  - pkg/core: The only consumer of the full Config
  - pkg/sampler: Receives cadence and history depth
  - pkg/monitor: Receives retention windows via Retention.ByTable()
  - pkg/scheduler: Receives built-in job trigger specs and grace period
  - pkg/auth, pkg/tokens: Receive expiry and password policy
*/
package config
