// Package scheduler runs named background jobs on interval, cron, or
// daily triggers. A one-second evaluation loop fires due jobs; a late
// tick (suspend, clock jump, long GC pause) collapses any number of
// missed periods into a single catch-up run, after which the cadence
// re-anchors to the time the job actually fired.
//
// Each firing job runs in its own goroutine, never concurrently with
// itself, with bounded retries and exponential backoff. Executions are
// persisted as append-only history with per-job pruning.
package scheduler
