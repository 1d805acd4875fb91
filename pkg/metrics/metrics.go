package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RAID metrics
	ArraysTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "baluhost_raid_arrays_total",
			Help: "Number of RAID arrays by status",
		},
		[]string{"status"},
	)

	ArraySyncProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "baluhost_raid_sync_progress",
			Help: "Sync progress per array (0-1, absent when idle)",
		},
		[]string{"array", "action"},
	)

	MdadmInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baluhost_mdadm_invocations_total",
			Help: "mdadm invocations by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	// Sampler metrics
	SamplerTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baluhost_sampler_ticks_total",
			Help: "Completed sampler ticks by sampler name",
		},
		[]string{"sampler"},
	)

	SamplerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baluhost_sampler_errors_total",
			Help: "Per-tick sampler errors by sampler name",
		},
		[]string{"sampler"},
	)

	SamplerTickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "baluhost_sampler_tick_duration_seconds",
			Help:    "Time spent in one sampler tick",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sampler"},
	)

	// Persistence metrics
	SamplesPersisted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baluhost_samples_persisted_total",
			Help: "Sample rows written by table",
		},
		[]string{"table"},
	)

	RetentionDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baluhost_retention_deleted_rows_total",
			Help: "Rows removed by retention passes, by table",
		},
		[]string{"table"},
	)

	// Scheduler metrics
	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baluhost_job_runs_total",
			Help: "Job executions by job name and final status",
		},
		[]string{"job", "status"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "baluhost_job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	// Token metrics
	TokensIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "baluhost_refresh_tokens_issued_total",
			Help: "Refresh tokens issued",
		},
	)

	TokensRevoked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "baluhost_refresh_tokens_revoked_total",
			Help: "Refresh tokens revoked",
		},
	)

	// Event bus metrics
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baluhost_events_published_total",
			Help: "Events published by topic",
		},
		[]string{"topic"},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baluhost_events_dropped_total",
			Help: "Events dropped from slow subscriber buffers, by topic",
		},
		[]string{"topic"},
	)

	// File layer metrics
	QuotaRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "baluhost_quota_rejections_total",
			Help: "Writes rejected by quota admission",
		},
	)

	SandboxRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "baluhost_sandbox_rejections_total",
			Help: "Operations rejected by the path sandbox",
		},
	)

	MountpointCapacityBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "baluhost_mountpoint_capacity_bytes",
			Help: "Declared capacity per mountpoint (0 when unknown)",
		},
		[]string{"mountpoint", "kind"},
	)

	MountpointUsedBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "baluhost_mountpoint_used_bytes",
			Help: "Bytes in use per mountpoint",
		},
		[]string{"mountpoint", "kind"},
	)
)

func init() {
	prometheus.MustRegister(ArraysTotal)
	prometheus.MustRegister(ArraySyncProgress)
	prometheus.MustRegister(MdadmInvocations)
	prometheus.MustRegister(SamplerTicks)
	prometheus.MustRegister(SamplerErrors)
	prometheus.MustRegister(SamplerTickDuration)
	prometheus.MustRegister(SamplesPersisted)
	prometheus.MustRegister(RetentionDeleted)
	prometheus.MustRegister(JobRuns)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(TokensIssued)
	prometheus.MustRegister(TokensRevoked)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(QuotaRejections)
	prometheus.MustRegister(SandboxRejections)
	prometheus.MustRegister(MountpointCapacityBytes)
	prometheus.MustRegister(MountpointUsedBytes)
}

// Handler returns the Prometheus HTTP handler for the collaborator to mount.
func Handler() http.Handler {
	return promhttp.Handler()
}
