/*
Package types defines the core data structures used throughout BaluHost.

This package contains all fundamental types of the storage control plane's
domain model: RAID arrays and member devices, monitoring samples, SMART
records, scheduled jobs and their execution history, refresh tokens, user
accounts, mountpoints, file metadata, and quotas. All other packages build on
these types for state management, persistence, and the collaborator API.

# Architecture

The types package is the foundation of the data model. It defines:

  - RAID topology (arrays, member devices, levels, sync actions)
  - Monitoring samples (CPU, memory, network, disk I/O, processes, SMART)
  - Scheduling records (jobs, triggers, executions, retry policies)
  - Authentication records (users, refresh tokens)
  - Storage records (mountpoints, file metadata, quotas)

All types are designed to be:
  - Serializable (JSON for snapshots, database rows for persistence)
  - Plain data (no goroutines, no locks; callers synchronize)
  - Self-documenting (typed string enums, explicit units in field names)

# Core Types

RAID:
  - RaidArray: One md array with derived Status and ordered Devices
  - RaidDevice: One member with Role, State, Slot, and event counter
  - RaidLevel: raid0, raid1, raid5, raid6, raid10
  - ArrayStatus: optimal, degraded, rebuilding, inactive, failed
  - SyncAction: idle, check, repair, resync, recover

Monitoring:
  - DiskSample: Per-device byte and IOPS rates over one tick
  - CPUSample: Total plus per-thread utilisation percentages
  - MemorySample, NetworkSample, ProcessSample: Analogous observations
  - SmartRecord: Normalised smartctl output with raw attribute map

Scheduling:
  - ScheduledJob: Registry entry with trigger spec and failure counters
  - JobExecution: Append-only history row per run
  - RetryPolicy: Bounded exponential backoff

Auth & storage:
  - User: Account with bcrypt hash, role, and lockout fields
  - RefreshToken: Revocation record holding only the token's SHA-256
  - Mountpoint: Sandboxed root path backed by an array, disk, or directory
  - FileMetadata: One tracked entry per (mountpoint, path)
  - Quota: Per-user allowance with admission-checked usage

# Usage

Building an array model (as the parser or simulator does):

	progress := 0.0
	array := types.RaidArray{
		Name:       "md0",
		Level:      types.RaidLevel1,
		SizeBytes:  500 * 1024 * 1024 * 1024,
		SyncAction: types.SyncResync,
		SyncProgress: &progress,
		Status:     types.ArrayStatusRebuilding,
		Devices: []types.RaidDevice{
			{Name: "sda1", ArrayName: "md0", Role: types.RoleActive, State: types.DeviceActive, Slot: 0},
			{Name: "sdb1", ArrayName: "md0", Role: types.RoleActive, State: types.DeviceRebuilding, Slot: 1},
		},
	}

Recording a job run:

	exec := types.JobExecution{
		ID:          uuid.New().String(),
		JobName:     "raid-scrub",
		StartedAt:   time.Now(),
		Status:      types.ExecutionRunning,
		TriggeredBy: types.TriggeredBySchedule,
	}

# State Machines

Array status transitions (driven by the RAID controller):

	inactive → rebuilding → optimal
	optimal → degraded → rebuilding → optimal
	degraded → failed (terminal until manual intervention)

Device state transitions:

	active ↔ faulty (fail)        faulty → removed
	free → spare → rebuilding → active (add spare + recovery)
	active ↔ write-mostly (RAID1 only)

Execution status transitions:

	running → success | failure | cancelled

# Design Patterns

Enumeration pattern — all enums are typed string constants:

	type ArrayStatus string
	const (
	    ArrayStatusOptimal  ArrayStatus = "optimal"
	    ArrayStatusDegraded ArrayStatus = "degraded"
	)

Optional fields use pointers: SyncProgress is nil unless a sync runs;
RevokedAt is nil until revocation; LockedUntil is nil unless locked.

Counters are int64 end to end. Kernel counters can wrap; samplers handle
wrap by re-baselining, never by widening types.

# Integration Points

This package is imported by:

  - pkg/raid: Builds and mutates RaidArray models
  - pkg/sampler: Emits the sample types
  - pkg/monitor: Persists samples and serves history queries
  - pkg/scheduler: Maintains ScheduledJob and JobExecution records
  - pkg/tokens: Issues and revokes RefreshToken rows
  - pkg/auth: Manages User accounts
  - pkg/files: Enforces Mountpoint, FileMetadata, and Quota invariants
  - pkg/store: Maps these types to and from database rows

# Thread Safety

All types are plain data. They may be read concurrently but mutations must
be synchronized by the owning component (the controller for arrays, the
scheduler for jobs, the store for persisted rows).

# See Also

  - pkg/raid for the array state machine
  - pkg/store for the persisted schema
  - pkg/scheduler for trigger spec syntax
*/
package types
