/*
Package log provides structured logging for BaluHost using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Context Loggers                     │          │
	│  │  - WithComponent("raid")                    │          │
	│  │  - WithDevice("sda")                        │          │
	│  │  - WithArray("md0")                         │          │
	│  │  - WithJob("raid-scrub")                    │          │
	│  └────────────────────────────────────────────┘          │
	└───────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init(), before any component starts
  - Thread-safe concurrent writes

Log Levels:
  - Debug: per-tick sampler detail, parser traces
  - Info: lifecycle events (array created, job fired, token revoked)
  - Warn: recoverable anomalies (counter wrap, skipped tick, dropped event)
  - Error: failed operations (mdadm non-zero exit, persistence failure)
  - Fatal: unrecoverable startup errors (migration checksum mismatch)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithDevice: Add block device context
  - WithArray: Add md array context
  - WithJob: Add scheduler job context

# Usage

Initializing the logger:

	import "github.com/baluhost/baluhost/pkg/log"

	// JSON output (prod)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (dev)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("control plane started")
	log.Warn("disk counter wrapped, skipping tick")
	log.Error("failed to persist sample batch")

Structured logging:

	log.Logger.Info().
		Str("array", "md0").
		Str("action", "recover").
		Float64("progress", 0.42).
		Msg("rebuild advancing")

	log.Logger.Error().
		Err(err).
		Str("device", "sdb").
		Msg("smartctl scan failed")

Component loggers:

	raidLog := log.WithComponent("raid")
	raidLog.Info().Str("array", "md0").Msg("array created")

	samplerLog := log.WithComponent("sampler").
		With().Str("kind", "disk").Logger()
	samplerLog.Debug().Int("devices", 4).Msg("tick complete")

# Log Output Examples

JSON format (prod):

	{"level":"info","component":"raid","array":"md0","time":"2026-03-02T10:30:00Z","message":"array created"}
	{"level":"warn","component":"sampler","device":"sdb","time":"2026-03-02T10:30:01Z","message":"counter wrap, tick skipped"}

Console format (dev):

	10:30:00 INF array created component=raid array=md0
	10:30:01 WRN counter wrap, tick skipped component=sampler device=sdb

# Integration Points

This package integrates with:

  - pkg/core: Initializes the logger from config before components start
  - pkg/raid: Logs array transitions and mdadm invocations
  - pkg/sampler: Logs per-tick failures at debug/warn
  - pkg/monitor: Logs retention passes and degraded samplers
  - pkg/scheduler: Logs fires, retries, and failures
  - pkg/store: Logs migration progress

# Design Patterns

Global logger pattern: a single package-level instance, initialized once at
startup, accessible without plumbing through every constructor.

Context logger pattern: child loggers carry component/device/array/job
fields so call sites stay terse and logs stay queryable.

Structured fields over interpolation: use .Str/.Int/.Err; never concatenate
values into the message.

# Security

Never log secrets. Token plaintext exists only in the issuing call frame;
log JTIs, never token bytes. Password material never reaches a log call.

# Best Practices

Do:
  - Use Info level in production
  - Create component-specific loggers at construction time
  - Log errors with .Err() and a typed kind where available
  - Include device/array/job context on every domain log

Don't:
  - Log token plaintext, password hashes, or raw user paths outside debug
  - Log per-sample detail above Debug level
  - Block on log writes in sampler hot paths

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
