package raid

import (
	"context"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/metrics"
	"github.com/baluhost/baluhost/pkg/types"
)

// FreeDevice is a block device not enrolled in any array.
type FreeDevice struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"sizeBytes"`
}

// Controller is the capability set both backends implement. Every mutation
// is atomic: on error the model is unchanged (simulator) or reconciled by
// re-parse (mdadm).
type Controller interface {
	// List returns the current array model. The mdadm backend re-parses
	// the kernel state on every call; the simulator returns its model.
	List(ctx context.Context) ([]types.RaidArray, error)

	// Get returns one array by name.
	Get(ctx context.Context, name string) (*types.RaidArray, error)

	// ListFreeDevices returns devices not in any array.
	ListFreeDevices(ctx context.Context) ([]FreeDevice, error)

	// CreateArray builds a new array. The array starts rebuilding with
	// SyncAction resync and progress zero.
	CreateArray(ctx context.Context, name string, level types.RaidLevel, devices, spares []string, chunkKB int) error

	// DeleteArray stops an array in status optimal or degraded and returns
	// its members to the free pool.
	DeleteArray(ctx context.Context, name string) error

	// FailDevice marks an active member faulty.
	FailDevice(ctx context.Context, name, device string) error

	// RemoveDevice removes a faulty or spare member from the array.
	RemoveDevice(ctx context.Context, name, device string) error

	// AddSpare enrolls a free device as a spare. On a degraded array the
	// spare is promoted immediately and a recover begins.
	AddSpare(ctx context.Context, name, device string) error

	// SetWriteMostly toggles the write-mostly flag. RAID1 only.
	SetWriteMostly(ctx context.Context, name, device string, on bool) error

	// SetBitmap switches the write-intent bitmap between none and internal.
	SetBitmap(ctx context.Context, name string, mode types.BitmapMode) error

	// SetSyncLimits sets the per-controller sync speed window in KB/s.
	SetSyncLimits(ctx context.Context, name string, minKB, maxKB int) error

	// StartScrub begins a check or repair pass on an optimal array.
	StartScrub(ctx context.Context, name string, action types.ScrubAction) error
}

// validateCreate holds the precondition checks shared by both backends.
func validateCreate(name string, level types.RaidLevel, devices []string, existing []types.RaidArray) error {
	const op = "raid.CreateArray"

	if name == "" {
		return errdefs.Errorf(errdefs.KindInvalidArg, "%s: array name required", op)
	}
	if min := MinDevicesForLevel(level); min == 0 {
		return errdefs.Errorf(errdefs.KindInvalidArg, "%s: unsupported level %q", op, level)
	} else if len(devices) < min {
		return errdefs.Errorf(errdefs.KindInvalidArg, "%s: level %s needs at least %d devices, got %d",
			op, level, min, len(devices))
	}

	used := make(map[string]string)
	for _, a := range existing {
		if a.Name == name {
			return errdefs.Errorf(errdefs.KindPreconditionFailed, "%s: array %s already exists", op, name)
		}
		for _, d := range a.Devices {
			used[d.Name] = a.Name
		}
	}

	seen := make(map[string]bool)
	for _, d := range devices {
		if seen[d] {
			return errdefs.Errorf(errdefs.KindInvalidArg, "%s: device %s listed twice", op, d)
		}
		seen[d] = true
		if owner, ok := used[d]; ok {
			return errdefs.Errorf(errdefs.KindPreconditionFailed, "%s: device %s already in array %s", op, d, owner)
		}
	}
	return nil
}

func validateSyncLimits(minKB, maxKB int) error {
	if minKB <= 0 || maxKB < minKB {
		return errdefs.Errorf(errdefs.KindInvalidArg,
			"raid.SetSyncLimits: need 0 < min <= max, got min=%d max=%d", minKB, maxKB)
	}
	return nil
}

func validateScrub(a *types.RaidArray, action types.ScrubAction) error {
	const op = "raid.StartScrub"

	if action != types.ScrubCheck && action != types.ScrubRepair {
		return errdefs.Errorf(errdefs.KindInvalidArg, "%s: unknown action %q", op, action)
	}
	if a.Status != types.ArrayStatusOptimal {
		return errdefs.Errorf(errdefs.KindPreconditionFailed,
			"%s: array %s is %s, scrub needs optimal", op, a.Name, a.Status)
	}
	return nil
}

// publishStatusMetrics refreshes the array status gauges after any model
// change.
func publishStatusMetrics(arrays []types.RaidArray) {
	counts := map[types.ArrayStatus]int{}
	for _, a := range arrays {
		counts[a.Status]++
	}
	for _, status := range []types.ArrayStatus{
		types.ArrayStatusOptimal, types.ArrayStatusDegraded,
		types.ArrayStatusRebuilding, types.ArrayStatusInactive, types.ArrayStatusFailed,
	} {
		metrics.ArraysTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
	for _, a := range arrays {
		if a.SyncAction != types.SyncIdle && a.SyncProgress != nil {
			metrics.ArraySyncProgress.WithLabelValues(a.Name, string(a.SyncAction)).Set(*a.SyncProgress)
		} else {
			metrics.ArraySyncProgress.DeleteLabelValues(a.Name, string(types.SyncResync))
			metrics.ArraySyncProgress.DeleteLabelValues(a.Name, string(types.SyncRecover))
			metrics.ArraySyncProgress.DeleteLabelValues(a.Name, string(types.SyncCheck))
			metrics.ArraySyncProgress.DeleteLabelValues(a.Name, string(types.SyncRepair))
		}
	}
}
