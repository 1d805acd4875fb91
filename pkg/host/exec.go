package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/log"
)

// maxOutputBytes caps captured stdout/stderr per stream. mdadm and
// smartctl emit a few KB; anything near the cap indicates a runaway
// child and gets truncated rather than eating the heap.
const maxOutputBytes = 4 << 20

// killAfter is how long a signalled child gets to exit before SIGKILL.
const killAfter = 5 * time.Second

// ExecRunner executes real processes and reads the real /proc and /sys.
// It is the production Runner; everything else in the control plane is
// OS-agnostic.
type ExecRunner struct {
	// DiskstatsPath is swappable so counter parsing can run against a
	// fixture file. Production always uses ProcDiskstats.
	DiskstatsPath string

	logger zerolog.Logger
}

// NewExecRunner returns a Runner backed by os/exec and the host filesystem.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		DiskstatsPath: ProcDiskstats,
		logger:        log.WithComponent("host"),
	}
}

// Run executes cmd with a deadline. On deadline the child receives
// SIGTERM, then SIGKILL after killAfter. A non-zero exit returns a
// populated Result and a nil error.
func (r *ExecRunner) Run(ctx context.Context, cmd Cmd) (Result, error) {
	op := fmt.Sprintf("host.Run(%s)", cmd.Name)

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Cancel = func() error { return c.Process.Signal(syscall.SIGTERM) }
	c.WaitDelay = killAfter
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}

	stdout := &cappedBuffer{max: maxOutputBytes}
	stderr := &cappedBuffer{max: maxOutputBytes}
	c.Stdout = stdout
	c.Stderr = stderr

	err := c.Run()

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if c.ProcessState != nil {
		res.ExitCode = c.ProcessState.ExitCode()
	}

	switch {
	case err == nil:
		return res, nil
	case ctx.Err() != nil:
		r.logger.Warn().
			Str("cmd", cmd.Name).
			Strs("args", cmd.Args).
			Dur("timeout", timeout).
			Msg("command timed out")
		return res, errdefs.Errorf(errdefs.KindTimeout, "%s: timed out after %s", op, timeout)
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The tool ran and failed; the caller reads ExitCode/Stderr.
			return res, nil
		}
		return res, classifyHostErr(op, err)
	}
}

// ReadFile reads a host file such as /proc/mdstat.
func (r *ExecRunner) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, classifyHostErr(fmt.Sprintf("host.ReadFile(%s)", path), err)
	}
	return data, nil
}

// WriteFile writes a host control file such as the RAID speed limits.
func (r *ExecRunner) WriteFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return classifyHostErr(fmt.Sprintf("host.WriteFile(%s)", path), err)
	}
	return nil
}

// Glob expands a host path pattern.
func (r *ExecRunner) Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		// Only possible failure is a malformed pattern.
		return nil, errdefs.Wrap(err, errdefs.KindInvalidArg, fmt.Sprintf("host.Glob(%s)", pattern))
	}
	return matches, nil
}

// ReadCounters returns the current diskstats counters for one device.
func (r *ExecRunner) ReadCounters(device string) (DiskCounters, error) {
	data, err := r.ReadFile(r.DiskstatsPath)
	if err != nil {
		return DiskCounters{}, err
	}
	all, err := ParseDiskstats(data)
	if err != nil {
		return DiskCounters{}, err
	}
	return countersFor(all, device)
}

// classifyHostErr maps OS failures onto the shared error taxonomy.
func classifyHostErr(op string, err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return errdefs.Wrap(err, errdefs.KindNotAvailable, op)
	case errors.Is(err, fs.ErrNotExist):
		return errdefs.Wrap(err, errdefs.KindNotAvailable, op)
	case errors.Is(err, fs.ErrPermission):
		return errdefs.Wrap(err, errdefs.KindPermissionDenied, op)
	case errors.Is(err, context.DeadlineExceeded):
		return errdefs.Wrap(err, errdefs.KindTimeout, op)
	default:
		return errdefs.Wrap(err, errdefs.KindIO, op)
	}
}

// cappedBuffer stores up to max bytes and silently discards the rest,
// always reporting full consumption so the child never sees EPIPE.
type cappedBuffer struct {
	buf bytes.Buffer
	max int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remaining := b.max - int64(b.buf.Len())
	if remaining <= 0 {
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		b.buf.Write(p[:remaining])
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
