package raid

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/types"
)

func newSim(t *testing.T, opts ...SimOption) *SimController {
	t.Helper()
	s, err := NewSimController(nil, opts...)
	require.NoError(t, err)
	return s
}

func simPool() map[string]int64 {
	gb := int64(1024 * 1024 * 1024)
	return map[string]int64{
		"sda1": 100 * gb, "sdb1": 100 * gb, "sdc1": 100 * gb,
		"sdd1": 100 * gb, "sde1": 50 * gb,
	}
}

// Degrade-and-rebuild walkthrough on a RAID1 pair.
func TestSimDegradeAndRebuildRaid1(t *testing.T) {
	ctx := context.Background()
	s := newSim(t, WithFreeDevices(simPool()))

	require.NoError(t, s.CreateArray(ctx, "md0", types.RaidLevel1, []string{"sda1", "sdb1"}, nil, 0))

	a, err := s.Get(ctx, "md0")
	require.NoError(t, err)
	assert.Equal(t, types.ArrayStatusRebuilding, a.Status)
	assert.Equal(t, types.SyncResync, a.SyncAction)
	require.NotNil(t, a.SyncProgress)
	assert.Zero(t, *a.SyncProgress)

	require.NoError(t, s.FinalizeRebuild("md0"))
	a, err = s.Get(ctx, "md0")
	require.NoError(t, err)
	assert.Equal(t, types.ArrayStatusOptimal, a.Status)
	assert.Nil(t, a.SyncProgress)

	require.NoError(t, s.FailDevice(ctx, "md0", "sda1"))
	a, err = s.Get(ctx, "md0")
	require.NoError(t, err)
	assert.Equal(t, types.ArrayStatusDegraded, a.Status)
	assert.Equal(t, types.DeviceFaulty, a.Device("sda1").State)

	require.NoError(t, s.AddSpare(ctx, "md0", "sdc1"))
	a, err = s.Get(ctx, "md0")
	require.NoError(t, err)
	assert.Equal(t, types.ArrayStatusRebuilding, a.Status)
	assert.Equal(t, types.SyncRecover, a.SyncAction)
	assert.Equal(t, types.DeviceRebuilding, a.Device("sdc1").State)

	require.NoError(t, s.FinalizeRebuild("md0"))
	a, err = s.Get(ctx, "md0")
	require.NoError(t, err)
	assert.Equal(t, types.ArrayStatusOptimal, a.Status)
	assert.Equal(t, types.DeviceActive, a.Device("sdc1").State)
	assert.Nil(t, a.Device("sda1"), "replaced member must leave the array")
}

// A spare promoted onto a degraded pair must survive render→parse with its
// rebuilding state, the recover action, and the still-listed failed member
// all intact.
func TestSimSpareRecoveryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSim(t, WithFreeDevices(simPool()))

	require.NoError(t, s.CreateArray(ctx, "md0", types.RaidLevel1, []string{"sda1", "sdb1"}, nil, 0))
	require.NoError(t, s.FinalizeRebuild("md0"))
	require.NoError(t, s.FailDevice(ctx, "md0", "sda1"))
	require.NoError(t, s.AddSpare(ctx, "md0", "sdc1"))

	arrays, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, arrays, 1)

	rendered := RenderMdstat(arrays)
	parsed, err := ParseMdstat([]byte(rendered))
	require.NoError(t, err, "rendered:\n%s", rendered)
	require.Len(t, parsed, 1)

	got, want := parsed[0], arrays[0]
	require.NotNil(t, want.SyncProgress)
	require.NotNil(t, got.SyncProgress, "rendered:\n%s", rendered)
	assert.InDelta(t, *want.SyncProgress, *got.SyncProgress, 0.001)
	got.SyncProgress, want.SyncProgress = nil, nil
	assert.Equal(t, want, got, "rendered:\n%s", rendered)
}

// The progress formula is deterministic and pinned:
// progress += min(maxSyncKB*dt, remainingKB) / sizeKB.
func TestSimProgressFormula(t *testing.T) {
	ctx := context.Background()
	s := newSim(t, WithFreeDevices(simPool()))

	require.NoError(t, s.CreateArray(ctx, "md0", types.RaidLevel1, []string{"sda1", "sdb1"}, nil, 0))
	// 100 GiB member: sizeKB = 104857600. Limit to 10 GiB/s so four
	// one-second steps finish the resync.
	require.NoError(t, s.SetSyncLimits(ctx, "md0", 1000, 26214400))

	for i, want := range []float64{0.25, 0.5, 0.75} {
		s.Advance(time.Second)
		a, err := s.Get(ctx, "md0")
		require.NoError(t, err)
		require.NotNil(t, a.SyncProgress, "step %d", i)
		assert.InDelta(t, want, *a.SyncProgress, 1e-9, "step %d", i)
	}

	s.Advance(time.Second)
	a, err := s.Get(ctx, "md0")
	require.NoError(t, err)
	assert.Equal(t, types.ArrayStatusOptimal, a.Status)
	assert.Equal(t, types.SyncIdle, a.SyncAction)
	assert.Nil(t, a.SyncProgress)
}

func TestSimCreatePreconditions(t *testing.T) {
	ctx := context.Background()
	s := newSim(t, WithFreeDevices(simPool()))

	err := s.CreateArray(ctx, "md0", types.RaidLevel5, []string{"sda1", "sdb1"}, nil, 0)
	assert.Equal(t, errdefs.KindInvalidArg, errdefs.KindOf(err), "too few devices")

	require.NoError(t, s.CreateArray(ctx, "md0", types.RaidLevel1, []string{"sda1", "sdb1"}, nil, 0))

	err = s.CreateArray(ctx, "md0", types.RaidLevel1, []string{"sdc1", "sdd1"}, nil, 0)
	assert.Equal(t, errdefs.KindPreconditionFailed, errdefs.KindOf(err), "duplicate name")

	err = s.CreateArray(ctx, "md1", types.RaidLevel1, []string{"sda1", "sdc1"}, nil, 0)
	assert.Equal(t, errdefs.KindPreconditionFailed, errdefs.KindOf(err), "device already enrolled")
}

func TestSimDeletePreconditions(t *testing.T) {
	ctx := context.Background()
	s := newSim(t, WithFreeDevices(simPool()))

	require.NoError(t, s.CreateArray(ctx, "md0", types.RaidLevel1, []string{"sda1", "sdb1"}, nil, 0))

	// Rebuilding arrays cannot be deleted.
	err := s.DeleteArray(ctx, "md0")
	assert.Equal(t, errdefs.KindPreconditionFailed, errdefs.KindOf(err))

	require.NoError(t, s.FinalizeRebuild("md0"))
	require.NoError(t, s.DeleteArray(ctx, "md0"))

	free, err := s.ListFreeDevices(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(free))
	for _, f := range free {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "sda1")
	assert.Contains(t, names, "sdb1")
}

func TestSimAddSpareRejectsSmallDevice(t *testing.T) {
	ctx := context.Background()
	s := newSim(t, WithFreeDevices(simPool()))

	require.NoError(t, s.CreateArray(ctx, "md0", types.RaidLevel1, []string{"sda1", "sdb1"}, nil, 0))
	require.NoError(t, s.FinalizeRebuild("md0"))

	// sde1 is 50 GiB against a 100 GiB member size.
	err := s.AddSpare(ctx, "md0", "sde1")
	assert.Equal(t, errdefs.KindPreconditionFailed, errdefs.KindOf(err))
}

func TestSimWriteMostlyRaid1Only(t *testing.T) {
	ctx := context.Background()
	s := newSim(t, WithFreeDevices(simPool()))

	require.NoError(t, s.CreateArray(ctx, "md0", types.RaidLevel5, []string{"sda1", "sdb1", "sdc1"}, nil, 64))
	require.NoError(t, s.FinalizeRebuild("md0"))

	err := s.SetWriteMostly(ctx, "md0", "sda1", true)
	assert.Equal(t, errdefs.KindUnsupportedOp, errdefs.KindOf(err))

	require.NoError(t, s.CreateArray(ctx, "md1", types.RaidLevel1, []string{"sdd1", "sde1"}, nil, 0))
	require.NoError(t, s.FinalizeRebuild("md1"))
	require.NoError(t, s.SetWriteMostly(ctx, "md1", "sde1", true))

	a, err := s.Get(ctx, "md1")
	require.NoError(t, err)
	assert.Equal(t, types.DeviceWriteMostly, a.Device("sde1").State)
	assert.Equal(t, types.ArrayStatusOptimal, a.Status)

	require.NoError(t, s.SetWriteMostly(ctx, "md1", "sde1", false))
	a, err = s.Get(ctx, "md1")
	require.NoError(t, err)
	assert.Equal(t, types.DeviceActive, a.Device("sde1").State)
}

func TestSimScrubNeedsOptimal(t *testing.T) {
	ctx := context.Background()
	s := newSim(t, WithFreeDevices(simPool()))

	require.NoError(t, s.CreateArray(ctx, "md0", types.RaidLevel1, []string{"sda1", "sdb1"}, nil, 0))

	err := s.StartScrub(ctx, "md0", types.ScrubCheck)
	assert.Equal(t, errdefs.KindPreconditionFailed, errdefs.KindOf(err), "rebuilding array")

	require.NoError(t, s.FinalizeRebuild("md0"))
	require.NoError(t, s.FailDevice(ctx, "md0", "sda1"))
	err = s.StartScrub(ctx, "md0", types.ScrubCheck)
	assert.Equal(t, errdefs.KindPreconditionFailed, errdefs.KindOf(err), "degraded array")
}

func TestSimScrubRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	s := newSim(t, WithFreeDevices(simPool()))

	require.NoError(t, s.CreateArray(ctx, "md0", types.RaidLevel1, []string{"sda1", "sdb1"}, nil, 0))
	require.NoError(t, s.FinalizeRebuild("md0"))

	require.NoError(t, s.StartScrub(ctx, "md0", types.ScrubRepair))
	a, err := s.Get(ctx, "md0")
	require.NoError(t, err)
	assert.Equal(t, types.SyncRepair, a.SyncAction)
	// Scrub does not demote the array; it stays optimal while checking.
	assert.Equal(t, types.ArrayStatusOptimal, a.Status)

	require.NoError(t, s.FinalizeRebuild("md0"))
	a, err = s.Get(ctx, "md0")
	require.NoError(t, err)
	assert.Equal(t, types.SyncIdle, a.SyncAction)
}

func TestSimRemoveDevicePreconditions(t *testing.T) {
	ctx := context.Background()
	s := newSim(t, WithFreeDevices(simPool()))

	require.NoError(t, s.CreateArray(ctx, "md0", types.RaidLevel1, []string{"sda1", "sdb1"}, []string{"sdc1"}, 0))
	require.NoError(t, s.FinalizeRebuild("md0"))

	err := s.RemoveDevice(ctx, "md0", "sda1")
	assert.Equal(t, errdefs.KindPreconditionFailed, errdefs.KindOf(err), "active member")

	require.NoError(t, s.RemoveDevice(ctx, "md0", "sdc1"))

	require.NoError(t, s.FailDevice(ctx, "md0", "sda1"))
	require.NoError(t, s.RemoveDevice(ctx, "md0", "sda1"))

	a, err := s.Get(ctx, "md0")
	require.NoError(t, err)
	assert.Nil(t, a.Device("sda1"))
	assert.Nil(t, a.Device("sdc1"))
}

func TestSimSyncLimitValidation(t *testing.T) {
	ctx := context.Background()
	s := newSim(t, WithFreeDevices(simPool()))
	require.NoError(t, s.CreateArray(ctx, "md0", types.RaidLevel1, []string{"sda1", "sdb1"}, nil, 0))

	for _, bad := range [][2]int{{0, 100}, {-1, 100}, {200, 100}} {
		err := s.SetSyncLimits(ctx, "md0", bad[0], bad[1])
		assert.Equal(t, errdefs.KindInvalidArg, errdefs.KindOf(err), "limits %v", bad)
	}
}

func TestSimSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "raidsim.db")

	snap, err := OpenSimStore(path)
	require.NoError(t, err)

	s := newSim(t, WithFreeDevices(simPool()), WithSnapshots(snap))
	require.NoError(t, s.CreateArray(ctx, "md0", types.RaidLevel1, []string{"sda1", "sdb1"}, nil, 0))
	require.NoError(t, s.FinalizeRebuild("md0"))
	require.NoError(t, snap.Close())

	snap2, err := OpenSimStore(path)
	require.NoError(t, err)
	defer snap2.Close()

	restored := newSim(t, WithSnapshots(snap2))
	a, err := restored.Get(ctx, "md0")
	require.NoError(t, err)
	assert.Equal(t, types.ArrayStatusOptimal, a.Status)
	require.Len(t, a.Devices, 2)

	free, err := restored.ListFreeDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, free, 3, "free pool restored from snapshot, not reseeded")
}

func TestSimBitmapEnableTriggersResync(t *testing.T) {
	ctx := context.Background()
	s := newSim(t, WithFreeDevices(simPool()))

	require.NoError(t, s.CreateArray(ctx, "md0", types.RaidLevel1, []string{"sda1", "sdb1"}, nil, 0))
	require.NoError(t, s.FinalizeRebuild("md0"))

	require.NoError(t, s.SetBitmap(ctx, "md0", types.BitmapInternal))
	a, err := s.Get(ctx, "md0")
	require.NoError(t, err)
	assert.Equal(t, types.BitmapInternal, a.Bitmap)
	assert.Equal(t, types.SyncResync, a.SyncAction)
	assert.Equal(t, types.ArrayStatusRebuilding, a.Status)

	err = s.SetBitmap(ctx, "md0", types.BitmapMode("external"))
	assert.Equal(t, errdefs.KindInvalidArg, errdefs.KindOf(err))
}
