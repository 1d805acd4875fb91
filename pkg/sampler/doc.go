// Package sampler collects host telemetry: per-device disk I/O rates,
// CPU utilisation with a per-thread breakdown, memory, per-interface
// network throughput, a top-N process table, and SMART health.
//
// Every sampler reads the OS exclusively through a host.Runner, keeps a
// bounded in-memory ring of recent samples, and hands each tick's batch
// to a sink supplied by the monitoring orchestrator. Rate samplers work
// on cumulative kernel counters: the first observation of a device only
// establishes a baseline, and a counter running backwards (wrap or
// device reset) re-baselines and skips that tick instead of emitting a
// bogus spike.
package sampler
