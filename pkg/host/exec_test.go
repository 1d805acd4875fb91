package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baluhost/baluhost/pkg/errdefs"
)

func TestExecRunnerRun(t *testing.T) {
	r := NewExecRunner()

	res, err := r.Run(context.Background(), Cmd{Name: "echo", Args: []string{"hello"}})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestExecRunnerNonZeroExitIsNotAnError(t *testing.T) {
	r := NewExecRunner()

	res, err := r.Run(context.Background(), Cmd{Name: "sh", Args: []string{"-c", "echo oops >&2; exit 3"}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Stderr, "oops")
}

func TestExecRunnerStdin(t *testing.T) {
	r := NewExecRunner()

	res, err := r.Run(context.Background(), Cmd{Name: "cat", Stdin: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "ping", res.Stdout)
}

func TestExecRunnerTimeout(t *testing.T) {
	r := NewExecRunner()

	start := time.Now()
	_, err := r.Run(context.Background(), Cmd{Name: "sleep", Args: []string{"30"}, Timeout: 100 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 10*time.Second, "child must not run to completion")
}

func TestExecRunnerMissingBinary(t *testing.T) {
	r := NewExecRunner()

	_, err := r.Run(context.Background(), Cmd{Name: "baluhost-test-no-such-binary"})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotAvailable), "got %v", err)
}

func TestExecRunnerReadFileMissing(t *testing.T) {
	r := NewExecRunner()

	_, err := r.ReadFile(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotAvailable), "got %v", err)
}

func TestExecRunnerWriteReadRoundtrip(t *testing.T) {
	r := NewExecRunner()
	path := filepath.Join(t.TempDir(), "speed_limit_max")

	require.NoError(t, r.WriteFile(path, []byte("200000")))
	data, err := r.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "200000", string(data))
}

func TestExecRunnerGlob(t *testing.T) {
	r := NewExecRunner()
	dir := t.TempDir()
	for _, name := range []string{"sda", "sdb", "md0"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	matches, err := r.Glob(filepath.Join(dir, "sd*"))
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestExecRunnerReadCounters(t *testing.T) {
	r := NewExecRunner()
	path := filepath.Join(t.TempDir(), "diskstats")
	require.NoError(t, os.WriteFile(path, []byte(diskstatsFixture), 0o644))
	r.DiskstatsPath = path

	c, err := r.ReadCounters("nvme0n1")
	require.NoError(t, err)
	assert.Equal(t, int64(330816), c.ReadOps)
	assert.Equal(t, int64(748163), c.WriteOps)

	_, err = r.ReadCounters("sdz")
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotAvailable), "got %v", err)
}

func TestSpawnHelpersUseFixedTimeouts(t *testing.T) {
	f := NewFakeRunner()
	f.SetCommand(Result{Stdout: "ok"}, nil, MdadmBin, "--detail", "/dev/md0")
	f.SetCommand(Result{Stdout: "{}"}, nil, SmartctlBin, "-H", "/dev/sda")

	_, err := SpawnMdadm(context.Background(), f, "--detail", "/dev/md0")
	require.NoError(t, err)
	_, err = SpawnSmartctl(context.Background(), f, "-H", "/dev/sda")
	require.NoError(t, err)

	calls := f.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, DefaultTimeout, calls[0].Timeout)
	assert.Equal(t, SmartctlTimeout, calls[1].Timeout)
}
