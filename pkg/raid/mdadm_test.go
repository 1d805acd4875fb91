package raid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/host"
	"github.com/baluhost/baluhost/pkg/types"
)

const mdadmHealthyFixture = `Personalities : [raid1]
md0 : active raid1 sdb1[1] sda1[0]
      104857600 blocks super 1.2 [2/2] [UU]

unused devices: <none>
`

const mdadmRecoveringFixture = `Personalities : [raid1]
md0 : active raid1 sdc1[2] sdb1[1] sda1[0](F)
      104857600 blocks super 1.2 [2/1] [_U]
      [==>..................]  recovery = 12.5% (13107200/104857600) finish=74.9min speed=20000K/sec

unused devices: <none>
`

func newMdadm(t *testing.T, mdstat string) (*MdadmController, *host.FakeRunner) {
	t.Helper()
	runner := host.NewFakeRunner()
	runner.SetFile(host.ProcMdstat, []byte(mdstat))
	return NewMdadmController(runner, nil), runner
}

func TestMdadmListMergesDetailExport(t *testing.T) {
	ctx := context.Background()
	c, runner := newMdadm(t, mdadmHealthyFixture)

	detail := `MD_LEVEL=raid1
MD_DEVICES=2
MD_METADATA=1.2
MD_UUID=3f9c2d1a:8b6e4a07:5d21c3f8:0a9b7e64
MD_DEVNAME=md0
MD_DEVICE_ev_sda1_DEV=/dev/sda1
MD_DEVICE_ev_sda1_ROLE=0
MD_DEVICE_ev_sdb1_DEV=/dev/sdb1
MD_DEVICE_ev_sdb1_ROLE=journal
`
	runner.SetCommand(host.Result{Stdout: detail}, nil,
		host.MdadmBin, "--detail", "--export", "/dev/md0")

	arrays, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, arrays, 1)

	a := arrays[0]
	assert.Equal(t, "md0", a.Name)
	assert.Equal(t, types.ArrayStatusOptimal, a.Status)
	assert.Equal(t, types.RoleJournal, a.Device("sdb1").Role)
	assert.Equal(t, types.RoleActive, a.Device("sda1").Role)
}

func TestMdadmListSurvivesDetailFailure(t *testing.T) {
	ctx := context.Background()
	c, _ := newMdadm(t, mdadmHealthyFixture)

	// No detail fixture installed: the spawn fails, mdstat alone stands.
	arrays, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, arrays, 1)
	assert.Equal(t, types.ArrayStatusOptimal, arrays[0].Status)
}

func TestMdadmCreateArrayArgs(t *testing.T) {
	ctx := context.Background()
	c, runner := newMdadm(t, "Personalities :\nunused devices: <none>\n")

	runner.SetCommand(host.Result{}, nil, host.MdadmBin,
		"--create", "/dev/md0", "--level=1", "--raid-devices=2", "--run",
		"--spare-devices=1", "/dev/sda1", "/dev/sdb1", "/dev/sdc1")

	err := c.CreateArray(ctx, "md0", types.RaidLevel1, []string{"sda1", "sdb1"}, []string{"sdc1"}, 0)
	require.NoError(t, err)

	calls := runner.CallsFor(host.MdadmBin)
	require.Len(t, calls, 1)
	assert.Equal(t, []string{
		"--create", "/dev/md0", "--level=1", "--raid-devices=2", "--run",
		"--spare-devices=1", "/dev/sda1", "/dev/sdb1", "/dev/sdc1",
	}, calls[0].Args)
}

func TestMdadmCreateArrayChunkFlag(t *testing.T) {
	ctx := context.Background()
	c, runner := newMdadm(t, "Personalities :\nunused devices: <none>\n")

	runner.SetCommand(host.Result{}, nil, host.MdadmBin,
		"--create", "/dev/md1", "--level=5", "--raid-devices=3", "--run",
		"--chunk=512", "/dev/sda1", "/dev/sdb1", "/dev/sdc1")

	err := c.CreateArray(ctx, "md1", types.RaidLevel5, []string{"sda1", "sdb1", "sdc1"}, nil, 512)
	require.NoError(t, err)
}

func TestMdadmNonZeroExitMapsToControllerFailed(t *testing.T) {
	ctx := context.Background()
	c, runner := newMdadm(t, mdadmHealthyFixture)

	runner.SetCommand(host.Result{ExitCode: 1, Stderr: "mdadm: set device faulty failed for /dev/sda1: Device or resource busy"}, nil,
		host.MdadmBin, "--manage", "/dev/md0", "--fail", "/dev/sda1")

	err := c.FailDevice(ctx, "md0", "sda1")
	require.Error(t, err)
	assert.Equal(t, errdefs.KindControllerFailed, errdefs.KindOf(err))
	assert.Contains(t, err.Error(), "Device or resource busy")
}

func TestMdadmDeleteNeedsSettledArray(t *testing.T) {
	ctx := context.Background()
	c, _ := newMdadm(t, mdadmRecoveringFixture)

	err := c.DeleteArray(ctx, "md0")
	assert.Equal(t, errdefs.KindPreconditionFailed, errdefs.KindOf(err))
}

func TestMdadmDeleteStopsAndZeroes(t *testing.T) {
	ctx := context.Background()
	c, runner := newMdadm(t, mdadmHealthyFixture)

	runner.SetCommand(host.Result{}, nil, host.MdadmBin, "--stop", "/dev/md0")
	runner.SetCommand(host.Result{}, nil, host.MdadmBin, "--zero-superblock", "/dev/sda1")
	runner.SetCommand(host.Result{}, nil, host.MdadmBin, "--zero-superblock", "/dev/sdb1")

	require.NoError(t, c.DeleteArray(ctx, "md0"))

	var seen []string
	for _, call := range runner.CallsFor(host.MdadmBin) {
		if len(call.Args) > 0 && (call.Args[0] == "--stop" || call.Args[0] == "--zero-superblock") {
			seen = append(seen, call.Args[0]+" "+call.Args[len(call.Args)-1])
		}
	}
	assert.Equal(t, []string{
		"--stop /dev/md0",
		"--zero-superblock /dev/sda1",
		"--zero-superblock /dev/sdb1",
	}, seen)
}

func TestMdadmListFreeDevices(t *testing.T) {
	ctx := context.Background()
	c, runner := newMdadm(t, mdadmHealthyFixture)

	runner.SetGlob(host.SysBlockGlob, []string{
		"/sys/block/sda", "/sys/block/sdb", "/sys/block/sdd",
		"/sys/block/md0", "/sys/block/loop0", "/sys/block/zram0",
	})
	runner.SetFile("/sys/block/sdd/size", []byte("234441648\n"))

	free, err := c.ListFreeDevices(ctx)
	require.NoError(t, err)

	// sda and sdb carry array members, md0/loop0/zram0 are filtered.
	require.Len(t, free, 1)
	assert.Equal(t, "sdd", free[0].Name)
	assert.Equal(t, int64(234441648)*512, free[0].SizeBytes)
}

func TestMdadmSetSyncLimits(t *testing.T) {
	ctx := context.Background()
	c, runner := newMdadm(t, mdadmHealthyFixture)

	require.NoError(t, c.SetSyncLimits(ctx, "md0", 5000, 100000))

	writes := runner.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, host.SpeedLimitMin, writes[0].Path)
	assert.Equal(t, "5000", string(writes[0].Data))
	assert.Equal(t, host.SpeedLimitMax, writes[1].Path)
	assert.Equal(t, "100000", string(writes[1].Data))

	// The override shows up on subsequent reads; the kernel won't echo it.
	a, err := c.Get(ctx, "md0")
	require.NoError(t, err)
	assert.Equal(t, 5000, a.MinSyncKB)
	assert.Equal(t, 100000, a.MaxSyncKB)
}

func TestMdadmStartScrubWritesSyncAction(t *testing.T) {
	ctx := context.Background()
	c, runner := newMdadm(t, mdadmHealthyFixture)

	require.NoError(t, c.StartScrub(ctx, "md0", types.ScrubCheck))

	writes := runner.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "/sys/block/md0/md/sync_action", writes[0].Path)
	assert.Equal(t, "check", string(writes[0].Data))
}

func TestMdadmScrubRefusedWhileRecovering(t *testing.T) {
	ctx := context.Background()
	c, _ := newMdadm(t, mdadmRecoveringFixture)

	err := c.StartScrub(ctx, "md0", types.ScrubRepair)
	assert.Equal(t, errdefs.KindPreconditionFailed, errdefs.KindOf(err))
}

func TestMdadmSetWriteMostlySysfs(t *testing.T) {
	ctx := context.Background()
	c, runner := newMdadm(t, mdadmHealthyFixture)

	require.NoError(t, c.SetWriteMostly(ctx, "md0", "sdb1", true))

	writes := runner.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "/sys/block/md0/md/dev-sdb1/state", writes[0].Path)
	assert.Equal(t, "writemostly", string(writes[0].Data))

	require.NoError(t, c.SetWriteMostly(ctx, "md0", "sdb1", false))
	writes = runner.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, "-writemostly", string(writes[1].Data))
}

func TestMdadmRecoveringArrayModel(t *testing.T) {
	ctx := context.Background()
	c, _ := newMdadm(t, mdadmRecoveringFixture)

	a, err := c.Get(ctx, "md0")
	require.NoError(t, err)

	assert.Equal(t, types.ArrayStatusRebuilding, a.Status)
	assert.Equal(t, types.SyncRecover, a.SyncAction)
	require.NotNil(t, a.SyncProgress)
	assert.InDelta(t, 0.125, *a.SyncProgress, 1e-9)
	assert.Equal(t, types.DeviceFaulty, a.Device("sda1").State)
}
