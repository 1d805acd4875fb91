/*
Package host is the single gateway between BaluHost and the operating
system: process execution, /proc and /sys reads, and control-file writes
all pass through the Runner interface defined here.

# Architecture

Every component that needs the OS holds a Runner, never os/exec or the
filesystem directly. Production wires ExecRunner; tests and simulation
mode wire FakeRunner:

	┌─────────────────── OS ADAPTER ────────────────────────┐
	│                                                         │
	│   pkg/raid ──┐                                          │
	│   pkg/sampler├──► Runner interface                      │
	│   pkg/files ─┘        │                                 │
	│                       ├── ExecRunner (production)       │
	│                       │     - os/exec with deadlines    │
	│                       │     - SIGTERM then SIGKILL      │
	│                       │     - /proc, /sys reads         │
	│                       │                                 │
	│                       └── FakeRunner (tests, sim mode)  │
	│                             - fixtures by cmd and path  │
	│                             - call recording            │
	│                             - error and delay injection │
	└─────────────────────────────────────────────────────────┘

# Core Components

Runner:
  - Run: spawn a tool, capture stdout/stderr/exit code
  - ReadFile/WriteFile: host files (/proc/mdstat, speed limits)
  - Glob: path enumeration (/sys/block/*)
  - ReadCounters: parsed /proc/diskstats for one device

ExecRunner:
  - Real processes via os/exec
  - Per-command timeout (DefaultTimeout unless the Cmd sets one)
  - On deadline: SIGTERM, then SIGKILL after killAfter
  - Output capped at maxOutputBytes per stream

FakeRunner:
  - Commands served from fixtures keyed by name plus arguments
  - Queued one-shot fixtures ahead of sticky ones
  - Files from an in-memory map, writes visible to later reads
  - Records every call for assertions; safe for parallel use

# Error Classification

OS failures map onto the shared taxonomy so callers branch on kind, not
on platform error strings:

	binary missing, file absent   not_available
	EACCES / EPERM                permission_denied
	deadline exceeded             timeout
	malformed diskstats           parse
	anything else                 io

A non-zero exit code is NOT an error at this layer. mdadm uses exit
codes as answers (e.g. --detail on a stopped array), so Run returns the
populated Result and the caller decides.

# Usage

Spawning tools:

	res, err := host.SpawnMdadm(ctx, runner, "--detail", "/dev/md0")
	if err != nil {
		return err // did not run: missing, denied, or timed out
	}
	if res.ExitCode != 0 {
		// ran and said no; res.Stderr has mdadm's reason
	}

Reading counters:

	c, err := runner.ReadCounters("sda")
	if err != nil {
		// device vanished or diskstats unreadable
	}
	bytesRead := c.ReadBytes()

Driving a test:

	f := host.NewFakeRunner()
	f.SetFile(host.ProcMdstat, fixture)
	f.QueueCommand(host.Result{ExitCode: 1, Stderr: "device busy"}, nil,
		host.MdadmBin, "--fail", "/dev/md0", "/dev/sdb1")

# Design Patterns

  - Hexagonal boundary: one interface isolates every OS touchpoint, so
    the whole control plane runs deterministically against fixtures.
  - Path constants: components address /proc files through the ProcX
    constants, which doubles as the fixture keyspace for FakeRunner.
  - Graceful kill: SIGTERM first gives mdadm a chance to release its
    locks; SIGKILL after killAfter guarantees the deadline holds.
  - Capped capture: a runaway child cannot balloon the daemon's heap.

# Integration Points

  - pkg/raid: mdadm invocations, /proc/mdstat, sync speed limits
  - pkg/sampler: /proc/stat, meminfo, net/dev, diskstats, smartctl
  - pkg/monitor: owns the Runner passed to every sampler
  - pkg/core: constructs ExecRunner in prod, FakeRunner in sim mode

# Thread Safety

ExecRunner is stateless and safe for concurrent use. FakeRunner guards
all fixture and recording state with a mutex.

# See Also

  - pkg/raid for the mdadm command surface built on this package
  - pkg/sampler for the /proc consumers
*/
package host
