package raid

import (
	"github.com/baluhost/baluhost/pkg/types"
)

// MinDevicesForLevel returns the smallest member count mdadm accepts for a
// level.
func MinDevicesForLevel(level types.RaidLevel) int {
	switch level {
	case types.RaidLevel0:
		return 2
	case types.RaidLevel1:
		return 2
	case types.RaidLevel5:
		return 3
	case types.RaidLevel6:
		return 4
	case types.RaidLevel10:
		return 4
	}
	return 0
}

// redundancyLost reports whether the failed/missing members exceed what the
// level can absorb. RAID10 is judged per mirror pair: adjacent slots form a
// pair, and a pair with zero live members loses data.
func redundancyLost(level types.RaidLevel, devices []types.RaidDevice) bool {
	failed := 0
	live := 0
	for _, d := range devices {
		if d.Role == types.RoleSpare || d.State == types.DeviceSpare || d.Role == types.RoleJournal {
			continue
		}
		switch d.State {
		case types.DeviceFaulty, types.DeviceMissing:
			failed++
		case types.DeviceActive, types.DeviceWriteMostly, types.DeviceRebuilding:
			live++
		}
	}

	switch level {
	case types.RaidLevel0:
		return failed > 0
	case types.RaidLevel1:
		return live < 1
	case types.RaidLevel5:
		return failed >= 2
	case types.RaidLevel6:
		return failed >= 3
	case types.RaidLevel10:
		return mirrorPairLost(devices)
	}
	return failed > 0
}

// mirrorPairLost checks RAID10 pair survival: slots (0,1), (2,3), ... are
// mirrors of each other.
func mirrorPairLost(devices []types.RaidDevice) bool {
	maxSlot := -1
	for _, d := range devices {
		if d.Role == types.RoleSpare || d.State == types.DeviceSpare {
			continue
		}
		if d.Slot > maxSlot {
			maxSlot = d.Slot
		}
	}

	pairs := (maxSlot + 2) / 2
	liveInPair := make([]int, pairs)
	for _, d := range devices {
		if d.Role == types.RoleSpare || d.State == types.DeviceSpare || d.Role == types.RoleJournal {
			continue
		}
		switch d.State {
		case types.DeviceActive, types.DeviceWriteMostly, types.DeviceRebuilding:
			liveInPair[d.Slot/2]++
		}
	}
	for _, live := range liveInPair {
		if live == 0 {
			return true
		}
	}
	return false
}

// DeriveStatus computes the array health from its members, level, and sync
// action. Failed is terminal until manual intervention; a resync or recover
// in flight reports rebuilding as long as redundancy holds.
func DeriveStatus(level types.RaidLevel, devices []types.RaidDevice, action types.SyncAction) types.ArrayStatus {
	if redundancyLost(level, devices) {
		return types.ArrayStatusFailed
	}

	if action == types.SyncResync || action == types.SyncRecover {
		return types.ArrayStatusRebuilding
	}

	for _, d := range devices {
		if d.Role == types.RoleSpare || d.State == types.DeviceSpare {
			continue
		}
		switch d.State {
		case types.DeviceFaulty, types.DeviceMissing:
			return types.ArrayStatusDegraded
		}
	}
	return types.ArrayStatusOptimal
}
