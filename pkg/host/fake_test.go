package host

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baluhost/baluhost/pkg/errdefs"
)

func TestFakeRunnerUnknownCommand(t *testing.T) {
	f := NewFakeRunner()

	_, err := f.Run(context.Background(), Cmd{Name: "mdadm", Args: []string{"--detail", "/dev/md0"}})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotAvailable), "got %v", err)
}

func TestFakeRunnerQueuedBeforeSticky(t *testing.T) {
	f := NewFakeRunner()
	f.SetCommand(Result{Stdout: "sticky"}, nil, "mdadm", "--detail", "/dev/md0")
	f.QueueCommand(Result{Stdout: "first"}, nil, "mdadm", "--detail", "/dev/md0")
	f.QueueCommand(Result{}, errors.New("device busy"), "mdadm", "--detail", "/dev/md0")

	cmd := Cmd{Name: "mdadm", Args: []string{"--detail", "/dev/md0"}}

	res, err := f.Run(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, "first", res.Stdout)

	_, err = f.Run(context.Background(), cmd)
	require.EqualError(t, err, "device busy")

	// Queue exhausted, sticky fixture serves from now on.
	for i := 0; i < 3; i++ {
		res, err = f.Run(context.Background(), cmd)
		require.NoError(t, err)
		assert.Equal(t, "sticky", res.Stdout)
	}
}

func TestFakeRunnerDelayHonorsTimeout(t *testing.T) {
	f := NewFakeRunner()
	f.SetCommand(Result{Stdout: "slow"}, nil, "smartctl", "-a")
	f.SetCommandDelay(time.Minute, "smartctl", "-a")

	_, err := f.Run(context.Background(), Cmd{Name: "smartctl", Args: []string{"-a"}, Timeout: 20 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindTimeout), "got %v", err)
}

func TestFakeRunnerFiles(t *testing.T) {
	f := NewFakeRunner()
	f.SetFile(ProcMdstat, []byte("Personalities : [raid1]\n"))

	data, err := f.ReadFile(ProcMdstat)
	require.NoError(t, err)
	assert.Contains(t, string(data), "raid1")

	_, err = f.ReadFile("/proc/meminfo")
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotAvailable), "got %v", err)

	f.SetFileError(ProcMdstat, errdefs.Errorf(errdefs.KindIO, "read torn"))
	_, err = f.ReadFile(ProcMdstat)
	assert.True(t, errdefs.IsKind(err, errdefs.KindIO), "got %v", err)

	assert.Equal(t, []string{ProcMdstat, "/proc/meminfo", ProcMdstat}, f.ReadPaths())
}

func TestFakeRunnerWriteVisibleToRead(t *testing.T) {
	f := NewFakeRunner()

	require.NoError(t, f.WriteFile(SpeedLimitMax, []byte("200000")))
	data, err := f.ReadFile(SpeedLimitMax)
	require.NoError(t, err)
	assert.Equal(t, "200000", string(data))

	writes := f.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, SpeedLimitMax, writes[0].Path)
	assert.Equal(t, "200000", string(writes[0].Data))
}

func TestFakeRunnerGlob(t *testing.T) {
	f := NewFakeRunner()
	f.SetFile("/sys/block/sda", nil)
	f.SetFile("/sys/block/sdb", nil)
	f.SetFile("/sys/block/md0", nil)
	f.SetFile("/proc/stat", nil)

	matches, err := f.Glob(SysBlockGlob)
	require.NoError(t, err)
	assert.Equal(t, []string{"/sys/block/md0", "/sys/block/sda", "/sys/block/sdb"}, matches)

	f.SetGlob(SysBlockGlob, []string{"/sys/block/sda"})
	matches, err = f.Glob(SysBlockGlob)
	require.NoError(t, err)
	assert.Equal(t, []string{"/sys/block/sda"}, matches)
}

func TestFakeRunnerReadCounters(t *testing.T) {
	f := NewFakeRunner()
	f.SetFile(ProcDiskstats, []byte(diskstatsFixture))

	c, err := f.ReadCounters("sda")
	require.NoError(t, err)
	assert.Equal(t, int64(124571), c.ReadOps)

	_, err = f.ReadCounters("sdq")
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindNotAvailable), "got %v", err)
}

func TestFakeRunnerParallelUse(t *testing.T) {
	f := NewFakeRunner()
	f.SetCommand(Result{Stdout: "ok"}, nil, "mdadm", "--detail", "/dev/md0")
	f.SetFile(ProcStat, []byte("cpu 1 2 3 4\n"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.Run(context.Background(), Cmd{Name: "mdadm", Args: []string{"--detail", "/dev/md0"}})
			_, _ = f.ReadFile(ProcStat)
		}()
	}
	wg.Wait()

	assert.Len(t, f.Calls(), 16)
	assert.Len(t, f.CallsFor("mdadm"), 16)
	assert.Len(t, f.ReadPaths(), 16)

	f.Reset()
	assert.Empty(t, f.Calls())
	assert.Empty(t, f.ReadPaths())
}
