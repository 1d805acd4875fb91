/*
Package metrics provides Prometheus instrumentation and component health
tracking for BaluHost.

Collectors are declared as package-level variables and registered once in
init(). Components update them directly; no scraping endpoint is served by
the core — the collaborator mounts Handler(), HealthHandler(), ReadyHandler()
and LivenessHandler() wherever its HTTP surface lives.

# Architecture

	┌──────────────────── METRICS SYSTEM ───────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐            │
	│  │          Prometheus Registry               │            │
	│  │  - Global DefaultRegistry                  │            │
	│  │  - MustRegister at package init            │            │
	│  │  - Automatic Go runtime metrics            │            │
	│  └──────────────────┬─────────────────────────┘            │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐            │
	│  │            Domain Collectors               │            │
	│  │  RAID / Sampler / Scheduler / Tokens /     │            │
	│  │  Event bus / Files / Persistence           │            │
	│  └──────────────────┬─────────────────────────┘            │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐            │
	│  │        Component Health Registry           │            │
	│  │  RegisterComponent / UpdateComponent       │            │
	│  │  GetHealth (all) / GetReadiness (critical) │            │
	│  └────────────────────────────────────────────┘            │
	└────────────────────────────────────────────────────────────┘

# Metric Inventory

RAID:
  - baluhost_raid_arrays_total{status}: arrays by derived status
  - baluhost_raid_sync_progress{array,action}: rebuild/scrub progress, 0-1
  - baluhost_mdadm_invocations_total{op,outcome}: shell-outs by result

Samplers:
  - baluhost_sampler_ticks_total{sampler}: completed ticks
  - baluhost_sampler_errors_total{sampler}: swallowed per-tick errors
  - baluhost_sampler_tick_duration_seconds{sampler}: tick latency

Persistence:
  - baluhost_samples_persisted_total{table}: rows written
  - baluhost_retention_deleted_rows_total{table}: rows aged out

Scheduler:
  - baluhost_job_runs_total{job,status}: executions by outcome
  - baluhost_job_duration_seconds{job}: run latency

Tokens:
  - baluhost_refresh_tokens_issued_total
  - baluhost_refresh_tokens_revoked_total

Event bus:
  - baluhost_events_published_total{topic}
  - baluhost_events_dropped_total{topic}: slow-subscriber drops

Files:
  - baluhost_quota_rejections_total
  - baluhost_sandbox_rejections_total

# Usage

Counting an outcome:

	metrics.MdadmInvocations.WithLabelValues("create", "ok").Inc()

Timing a section:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SamplerTickDuration, "disk")

Component health (feeds /health and /ready):

	metrics.RegisterComponent("store", true, "")
	metrics.UpdateComponent("sampler", false, "5 consecutive failures")

# Health vs Readiness

GetHealth() aggregates every registered component; one unhealthy component
makes the whole response unhealthy (HTTP 503 from HealthHandler).

GetReadiness() checks only the critical set (store, raid, scheduler); a
missing or unhealthy critical component reports not_ready. Use readiness for
boot gating and health for alerting.

# Design Patterns

Package-level collectors: a single init() registration, no registry
plumbing through constructors. Label cardinality stays bounded: array names
and job names are operator-controlled and few; user-labelled metrics are
avoided.

Timer pattern: NewTimer() at the top of an operation, ObserveDuration or
ObserveDurationVec on the way out. Duration() may be read repeatedly for
logging.

# Integration Points

  - pkg/sampler: tick counters, durations, swallowed errors
  - pkg/monitor: persistence and retention counters, sampler health updates
  - pkg/raid: array gauges, sync progress, mdadm outcomes
  - pkg/scheduler: job run counters and durations
  - pkg/tokens: issue/revoke counters
  - pkg/events: publish/drop counters
  - pkg/files: quota and sandbox rejections
  - pkg/core: registers components at startup, version via SetVersion

# See Also

  - Prometheus client: https://github.com/prometheus/client_golang
  - pkg/monitor for where sampler health transitions originate
*/
package metrics
