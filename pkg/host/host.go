package host

import (
	"context"
	"time"
)

const (
	// DefaultTimeout bounds any spawned command that does not set its own.
	DefaultTimeout = 30 * time.Second

	// SmartctlTimeout is longer because smartctl can block on spun-down
	// or failing drives while the kernel retries the ATA command.
	SmartctlTimeout = 60 * time.Second
)

// Well-known host paths. Every component addresses the OS through these
// constants so fakes can key fixtures on them.
const (
	ProcMdstat    = "/proc/mdstat"
	ProcDiskstats = "/proc/diskstats"
	ProcStat      = "/proc/stat"
	ProcMeminfo   = "/proc/meminfo"
	ProcNetDev    = "/proc/net/dev"
	ProcPIDStat   = "/proc/[0-9]*/stat"
	SysBlockGlob  = "/sys/block/*"

	SpeedLimitMin = "/proc/sys/dev/raid/speed_limit_min"
	SpeedLimitMax = "/proc/sys/dev/raid/speed_limit_max"
)

// External tool names resolved through PATH.
const (
	MdadmBin    = "mdadm"
	SmartctlBin = "smartctl"
)

// Cmd describes one external command invocation.
type Cmd struct {
	Name    string
	Args    []string
	Stdin   string
	Timeout time.Duration // zero means DefaultTimeout
}

// Result carries the captured output of a finished command. A non-zero
// ExitCode is not an error at this layer; callers decide what it means.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// DiskCounters holds the cumulative I/O counters of one block device as
// reported by /proc/diskstats. Counters only move forward except on
// device reset or reboot.
type DiskCounters struct {
	Device         string
	ReadOps        int64
	SectorsRead    int64
	ReadTimeMs     int64
	WriteOps       int64
	SectorsWritten int64
	WriteTimeMs    int64
	InFlight       int64
	IOTimeMs       int64
	WeightedIOMs   int64
}

// ReadBytes returns the cumulative bytes read (sectors are 512 bytes in
// diskstats regardless of the device's physical sector size).
func (c DiskCounters) ReadBytes() int64 { return c.SectorsRead * 512 }

// WrittenBytes returns the cumulative bytes written.
func (c DiskCounters) WrittenBytes() int64 { return c.SectorsWritten * 512 }

// Runner abstracts process execution and host filesystem access. Every
// component that touches /proc, /sys, or spawns a tool goes through a
// Runner, so the whole control plane runs against fixtures in tests and
// in simulation mode.
type Runner interface {
	// Run executes one command and captures its output. The context and
	// cmd.Timeout both bound the child; whichever fires first wins.
	Run(ctx context.Context, cmd Cmd) (Result, error)

	// ReadFile reads a host file such as /proc/mdstat.
	ReadFile(path string) ([]byte, error)

	// WriteFile writes a host control file such as the RAID speed limits.
	WriteFile(path string, data []byte) error

	// Glob expands a host path pattern such as /sys/block/*.
	Glob(pattern string) ([]string, error)

	// ReadCounters returns the current diskstats counters for one device.
	ReadCounters(device string) (DiskCounters, error)
}

// SpawnMdadm runs mdadm with the default administration timeout.
func SpawnMdadm(ctx context.Context, r Runner, args ...string) (Result, error) {
	return r.Run(ctx, Cmd{Name: MdadmBin, Args: args, Timeout: DefaultTimeout})
}

// SpawnSmartctl runs smartctl with the extended SMART timeout.
func SpawnSmartctl(ctx context.Context, r Runner, args ...string) (Result, error) {
	return r.Run(ctx, Cmd{Name: SmartctlBin, Args: args, Timeout: SmartctlTimeout})
}
