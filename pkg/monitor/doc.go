// Package monitor owns the telemetry samplers, persists their output, and
// serves current and historical readings. Each sampler runs in its own
// goroutine and hands finished batches to this package's sinks, which are
// the only writers of their respective sample tables. Retention runs in
// the writer's goroutine right after a persisted batch, throttled per
// table.
package monitor
