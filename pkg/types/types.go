package types

import (
	"fmt"
	"time"
)

// RaidLevel identifies the redundancy level of an array.
type RaidLevel string

const (
	RaidLevel0  RaidLevel = "raid0"
	RaidLevel1  RaidLevel = "raid1"
	RaidLevel5  RaidLevel = "raid5"
	RaidLevel6  RaidLevel = "raid6"
	RaidLevel10 RaidLevel = "raid10"
)

// ParseRaidLevel normalises user or kernel spellings ("1", "raid1", "RAID1").
func ParseRaidLevel(s string) (RaidLevel, error) {
	switch s {
	case "0", "raid0", "RAID0":
		return RaidLevel0, nil
	case "1", "raid1", "RAID1":
		return RaidLevel1, nil
	case "5", "raid5", "RAID5":
		return RaidLevel5, nil
	case "6", "raid6", "RAID6":
		return RaidLevel6, nil
	case "10", "raid10", "RAID10":
		return RaidLevel10, nil
	}
	return "", fmt.Errorf("unknown raid level %q", s)
}

// ArrayStatus represents the derived health of an array.
type ArrayStatus string

const (
	ArrayStatusOptimal    ArrayStatus = "optimal"
	ArrayStatusDegraded   ArrayStatus = "degraded"
	ArrayStatusRebuilding ArrayStatus = "rebuilding"
	ArrayStatusInactive   ArrayStatus = "inactive"
	ArrayStatusFailed     ArrayStatus = "failed"
)

// SyncAction is the kernel sync_action of an array.
type SyncAction string

const (
	SyncIdle    SyncAction = "idle"
	SyncCheck   SyncAction = "check"
	SyncRepair  SyncAction = "repair"
	SyncResync  SyncAction = "resync"
	SyncRecover SyncAction = "recover"
)

// BitmapMode selects the write-intent bitmap location.
type BitmapMode string

const (
	BitmapNone     BitmapMode = "none"
	BitmapInternal BitmapMode = "internal"
)

// DeviceState is the per-member state within an array.
type DeviceState string

const (
	DeviceActive      DeviceState = "active"
	DeviceFaulty      DeviceState = "faulty"
	DeviceMissing     DeviceState = "missing"
	DeviceRebuilding  DeviceState = "rebuilding"
	DeviceSpare       DeviceState = "spare"
	DeviceWriteMostly DeviceState = "write-mostly"
)

// DeviceRole is the function a member plays in its array.
type DeviceRole string

const (
	RoleActive      DeviceRole = "active"
	RoleSpare       DeviceRole = "spare"
	RoleWriteMostly DeviceRole = "write-mostly"
	RoleJournal     DeviceRole = "journal"
)

// RaidDevice is one member of an array. Devices reference their parent by
// ArrayName only; the array owns the device records.
type RaidDevice struct {
	Name      string
	ArrayName string
	Role      DeviceRole
	State     DeviceState
	Slot      int
}

// RaidArray is the typed model of one md array. Device order is significant
// for RAID0 and RAID10.
type RaidArray struct {
	Name         string
	Level        RaidLevel
	SizeBytes    int64
	ChunkKB      int
	Bitmap       BitmapMode
	SyncAction   SyncAction
	SyncProgress *float64 // nil unless SyncAction != idle
	Status       ArrayStatus
	MinSyncKB    int
	MaxSyncKB    int
	Devices      []RaidDevice
}

// Device returns the member with the given name, or nil.
func (a *RaidArray) Device(name string) *RaidDevice {
	for i := range a.Devices {
		if a.Devices[i].Name == name {
			return &a.Devices[i]
		}
	}
	return nil
}

// ScrubAction is the subset of sync actions a scrub may request.
type ScrubAction string

const (
	ScrubCheck  ScrubAction = "check"
	ScrubRepair ScrubAction = "repair"
)

// DiskSample is one per-device I/O rate observation. Rates are per second,
// computed from 64-bit kernel counters over one tick.
type DiskSample struct {
	DeviceName       string `db:"device_name"`
	TMillis          int64  `db:"t_millis"`
	ReadBytesPerSec  int64  `db:"read_bytes_per_sec"`
	WriteBytesPerSec int64  `db:"write_bytes_per_sec"`
	ReadOpsPerSec    int64  `db:"read_ops_per_sec"`
	WriteOpsPerSec   int64  `db:"write_ops_per_sec"`
}

// CPUSample is one CPU utilisation observation with a per-thread breakdown.
type CPUSample struct {
	TMillis      int64
	TotalPct     float64
	PerThreadPct []float64
	FreqMHz      int
	TempC        float64
}

// MemorySample is one memory usage observation.
type MemorySample struct {
	TMillis        int64 `db:"t_millis"`
	TotalBytes     int64 `db:"total_bytes"`
	UsedBytes      int64 `db:"used_bytes"`
	AvailableBytes int64 `db:"available_bytes"`
	CachedBytes    int64 `db:"cached_bytes"`
	SwapTotalBytes int64 `db:"swap_total_bytes"`
	SwapUsedBytes  int64 `db:"swap_used_bytes"`
}

// NetworkSample is one per-interface throughput observation.
type NetworkSample struct {
	TMillis         int64  `db:"t_millis"`
	Interface       string `db:"interface"`
	RxBytesPerSec   int64  `db:"rx_bytes_per_sec"`
	TxBytesPerSec   int64  `db:"tx_bytes_per_sec"`
	RxPacketsPerSec int64  `db:"rx_packets_per_sec"`
	TxPacketsPerSec int64  `db:"tx_packets_per_sec"`
}

// ProcessSample is one row of the per-tick top-N process table.
type ProcessSample struct {
	TMillis     int64   `db:"t_millis"`
	PID         int     `db:"pid"`
	Command     string  `db:"command"`
	CPUPct      float64 `db:"cpu_pct"`
	MemoryBytes int64   `db:"memory_bytes"`
}

// SmartHealth is the overall SMART verdict for a device.
type SmartHealth string

const (
	SmartPassed  SmartHealth = "passed"
	SmartFailed  SmartHealth = "failed"
	SmartUnknown SmartHealth = "unknown"
)

// SmartRecord is one normalised SMART observation. Attributes maps raw
// attribute IDs to raw values; it is empty when parsing failed.
type SmartRecord struct {
	DeviceName         string
	TMillis            int64
	Health             SmartHealth
	TempC              int
	PowerOnHours       int64
	ReallocatedSectors int64
	PendingSectors     int64
	Attributes         map[int]int64
}

// ExecutionStatus is the outcome of one job execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSuccess   ExecutionStatus = "success"
	ExecutionFailure   ExecutionStatus = "failure"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// TriggerSource records what caused a job execution.
type TriggerSource string

const (
	TriggeredBySchedule TriggerSource = "schedule"
	TriggeredByManual   TriggerSource = "manual"
	TriggeredByRetry    TriggerSource = "retry"
)

// RetryPolicy bounds automatic re-runs after a failed execution. Backoff is
// BackoffSeconds * 2^(attempt-1), capped at MaxBackoffSeconds.
type RetryPolicy struct {
	MaxAttempts       int `db:"max_attempts"`
	BackoffSeconds    int `db:"backoff_seconds"`
	MaxBackoffSeconds int `db:"max_backoff_seconds"`
}

// ScheduledJob is the persisted registry entry for one named job. The
// trigger spec is a string of the form "interval:60s", "cron:0 3 * * 0" or
// "daily:03:00".
type ScheduledJob struct {
	Name                string          `db:"name"`
	TriggerSpec         string          `db:"trigger_spec"`
	Enabled             bool            `db:"enabled"`
	LastRunAt           *time.Time      `db:"last_run_at"`
	LastStatus          ExecutionStatus `db:"last_status"`
	LastErr             string          `db:"last_err"`
	ConsecutiveFailures int             `db:"consecutive_failures"`
	RetryPolicy         RetryPolicy     `db:"-"`
}

// JobExecution is one append-only history row for a job run.
type JobExecution struct {
	ID          string          `db:"id"`
	JobName     string          `db:"job_name"`
	StartedAt   time.Time       `db:"started_at"`
	FinishedAt  *time.Time      `db:"finished_at"`
	Status      ExecutionStatus `db:"status"`
	DurationMs  int64           `db:"duration_ms"`
	Error       string          `db:"error"`
	TriggeredBy TriggerSource   `db:"triggered_by"`
}

// RefreshToken is the persisted revocation record for one issued refresh
// token. Hash is the SHA-256 of the token bytes; the plaintext is never
// stored anywhere.
type RefreshToken struct {
	JTI              string     `db:"jti"`
	UserID           int64      `db:"user_id"`
	DeviceID         string     `db:"device_id"`
	Hash             []byte     `db:"hash"`
	IssuedAt         time.Time  `db:"issued_at"`
	ExpiresAt        time.Time  `db:"expires_at"`
	RevokedAt        *time.Time `db:"revoked_at"`
	RevocationReason string     `db:"revocation_reason"`
	IP               string     `db:"ip"`
	UserAgent        string     `db:"user_agent"`
	LastUsedAt       *time.Time `db:"last_used_at"`
}

// UserRole is the authorisation level of an account.
type UserRole string

const (
	RoleAdmin UserRole = "admin"
	RoleUser  UserRole = "user"
)

// User is one account. Usernames are unique case-insensitively. A user owns
// their refresh tokens and file metadata; deleting the user cascades.
type User struct {
	ID               int64      `db:"id"`
	Username         string     `db:"username"`
	Email            string     `db:"email"`
	PasswordHash     string     `db:"password_hash"`
	Role             UserRole   `db:"role"`
	CreatedAt        time.Time  `db:"created_at"`
	FailedLoginCount int        `db:"failed_login_count"`
	LockedUntil      *time.Time `db:"locked_until"`
}

// MountpointKind classifies where a mountpoint's storage comes from.
type MountpointKind string

const (
	MountRaidArray MountpointKind = "raid-array"
	MountPlainDisk MountpointKind = "plain-disk"
	MountVirtual   MountpointKind = "virtual"
)

// Mountpoint is a named root path the file layer sandboxes against.
type Mountpoint struct {
	ID            string         `db:"id"`
	Label         string         `db:"label"`
	RootPath      string         `db:"root_path"`
	Kind          MountpointKind `db:"kind"`
	CapacityBytes int64          `db:"capacity_bytes"`
	UsedBytes     int64          `db:"used_bytes"`
	Readonly      bool           `db:"readonly"`
}

// FileMetadata is one tracked filesystem entry, keyed by
// (MountpointID, Path). Path is canonical and relative to the mountpoint
// root.
type FileMetadata struct {
	ID           int64     `db:"id"`
	MountpointID string    `db:"mountpoint_id"`
	Path         string    `db:"path"`
	OwnerID      int64     `db:"owner_id"`
	SizeBytes    int64     `db:"size_bytes"`
	IsDirectory  bool      `db:"is_directory"`
	CreatedAt    time.Time `db:"created_at"`
	ModifiedAt   time.Time `db:"modified_at"`
}

// Quota is the per-user storage allowance. UsedBytes never exceeds
// LimitBytes; admission is checked before any write.
type Quota struct {
	UserID     int64 `db:"user_id"`
	LimitBytes int64 `db:"limit_bytes"`
	UsedBytes  int64 `db:"used_bytes"`
}

// Range bounds a history query in wall-clock time.
type Range struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range (inclusive bounds).
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}
