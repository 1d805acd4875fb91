package raid

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/events"
	"github.com/baluhost/baluhost/pkg/log"
	"github.com/baluhost/baluhost/pkg/types"
)

// simTick is the cadence of the simulator's progress worker.
const simTick = time.Second

// SimController is the in-memory RAID backend for dev mode and tests. It
// honours the same preconditions and state machine as the mdadm backend and
// advances rebuilds deterministically: each elapsed second moves progress
// by min(maxSyncKB, remainingKB) / sizeKB.
type SimController struct {
	mu     sync.RWMutex
	arrays map[string]*types.RaidArray
	free   map[string]int64 // free device -> size in bytes
	member map[string]int64 // array -> per-member size in bytes

	snap   *SimStore
	broker *events.Broker
	logger zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// SimOption configures a SimController.
type SimOption func(*SimController)

// WithSnapshots persists the model to snap after every mutation and loads
// it back at construction.
func WithSnapshots(snap *SimStore) SimOption {
	return func(s *SimController) { s.snap = snap }
}

// WithFreeDevices seeds the free device pool.
func WithFreeDevices(devices map[string]int64) SimOption {
	return func(s *SimController) {
		for name, size := range devices {
			s.free[name] = size
		}
	}
}

// defaultSimPool is the free pool a fresh dev-mode simulator starts with.
func defaultSimPool() map[string]int64 {
	pool := make(map[string]int64)
	for _, name := range []string{"sda1", "sdb1", "sdc1", "sdd1", "sde1", "sdf1"} {
		pool[name] = 500 * 1024 * 1024 * 1024
	}
	return pool
}

// NewSimController builds a simulator. Without WithFreeDevices it starts
// with six 500 GiB devices; a snapshot, when present, wins over both.
func NewSimController(broker *events.Broker, opts ...SimOption) (*SimController, error) {
	s := &SimController{
		arrays: make(map[string]*types.RaidArray),
		free:   make(map[string]int64),
		member: make(map[string]int64),
		broker: broker,
		logger: log.WithComponent("raid-sim"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.free) == 0 {
		s.free = defaultSimPool()
	}

	if s.snap != nil {
		state, ok, err := s.snap.Load()
		if err != nil {
			return nil, err
		}
		if ok {
			s.arrays = make(map[string]*types.RaidArray, len(state.Arrays))
			for i := range state.Arrays {
				a := state.Arrays[i]
				s.arrays[a.Name] = &a
			}
			s.free = state.Free
			s.member = state.MemberSize
			s.logger.Info().Int("arrays", len(s.arrays)).Msg("restored simulator snapshot")
		}
	}
	return s, nil
}

// Start launches the progress worker. Safe to skip in tests that drive
// Advance directly.
func (s *SimController) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(simTick)
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case now := <-ticker.C:
				s.Advance(now.Sub(last))
				last = now
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop halts the progress worker and waits for it.
func (s *SimController) Stop() {
	s.mu.Lock()
	stopCh, doneCh := s.stopCh, s.doneCh
	s.stopCh, s.doneCh = nil, nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

// List returns a deep copy of the model, sorted by name.
func (s *SimController) List(ctx context.Context) ([]types.RaidArray, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(), nil
}

func (s *SimController) snapshotLocked() []types.RaidArray {
	out := make([]types.RaidArray, 0, len(s.arrays))
	for _, a := range s.arrays {
		out = append(out, copyArray(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func copyArray(a *types.RaidArray) types.RaidArray {
	cp := *a
	cp.Devices = append([]types.RaidDevice(nil), a.Devices...)
	if a.SyncProgress != nil {
		p := *a.SyncProgress
		cp.SyncProgress = &p
	}
	return cp
}

// Get returns one array by name.
func (s *SimController) Get(ctx context.Context, name string) (*types.RaidArray, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.arrays[name]
	if !ok {
		return nil, errdefs.Errorf(errdefs.KindNotFound, "raid.Get: no array %s", name)
	}
	cp := copyArray(a)
	return &cp, nil
}

// ListFreeDevices returns the free pool sorted by name.
func (s *SimController) ListFreeDevices(ctx context.Context) ([]FreeDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]FreeDevice, 0, len(s.free))
	for name, size := range s.free {
		out = append(out, FreeDevice{Name: name, SizeBytes: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateArray builds an array from free devices. The new array starts a
// resync from zero.
func (s *SimController) CreateArray(ctx context.Context, name string, level types.RaidLevel, devices, spares []string, chunkKB int) error {
	const op = "raid.CreateArray"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateCreate(name, level, devices, s.snapshotLocked()); err != nil {
		return err
	}

	memberSize := int64(0)
	for _, d := range append(append([]string{}, devices...), spares...) {
		size, ok := s.free[d]
		if !ok {
			return errdefs.Errorf(errdefs.KindPreconditionFailed, "%s: device %s not free", op, d)
		}
		if memberSize == 0 || size < memberSize {
			memberSize = size
		}
	}

	a := &types.RaidArray{
		Name:       name,
		Level:      level,
		ChunkKB:    chunkKB,
		Bitmap:     types.BitmapNone,
		SyncAction: types.SyncResync,
		MinSyncKB:  DefaultMinSyncKB,
		MaxSyncKB:  DefaultMaxSyncKB,
	}
	a.SizeBytes = arraySize(level, len(devices), memberSize)
	progress := 0.0
	a.SyncProgress = &progress

	for slot, d := range devices {
		a.Devices = append(a.Devices, types.RaidDevice{
			Name: d, ArrayName: name, Role: types.RoleActive, State: types.DeviceActive, Slot: slot,
		})
		delete(s.free, d)
	}
	for i, d := range spares {
		a.Devices = append(a.Devices, types.RaidDevice{
			Name: d, ArrayName: name, Role: types.RoleSpare, State: types.DeviceSpare, Slot: len(devices) + i,
		})
		delete(s.free, d)
	}
	a.Status = DeriveStatus(level, a.Devices, a.SyncAction)

	s.arrays[name] = a
	s.member[name] = memberSize
	s.persistLocked()

	s.logger.Info().Str("array", name).Str("level", string(level)).Int("devices", len(devices)).Msg("array created")
	s.publish(events.TopicRaidState, events.EventArrayCreated, map[string]string{"array": name, "level": string(level)})
	s.publish(events.TopicRaidSync, events.EventSyncStarted, map[string]string{"array": name, "action": string(types.SyncResync)})
	publishStatusMetrics(s.snapshotLocked())
	return nil
}

// arraySize computes usable capacity from the level and smallest member.
func arraySize(level types.RaidLevel, members int, memberSize int64) int64 {
	switch level {
	case types.RaidLevel0:
		return int64(members) * memberSize
	case types.RaidLevel1:
		return memberSize
	case types.RaidLevel5:
		return int64(members-1) * memberSize
	case types.RaidLevel6:
		return int64(members-2) * memberSize
	case types.RaidLevel10:
		return int64(members/2) * memberSize
	}
	return 0
}

// DeleteArray dissolves an array and frees its members.
func (s *SimController) DeleteArray(ctx context.Context, name string) error {
	const op = "raid.DeleteArray"

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.arrays[name]
	if !ok {
		return errdefs.Errorf(errdefs.KindNotFound, "%s: no array %s", op, name)
	}
	if a.Status != types.ArrayStatusOptimal && a.Status != types.ArrayStatusDegraded {
		return errdefs.Errorf(errdefs.KindPreconditionFailed,
			"%s: array %s is %s, delete needs optimal or degraded", op, name, a.Status)
	}

	size := s.member[name]
	for _, d := range a.Devices {
		if d.State != types.DeviceMissing {
			s.free[d.Name] = size
		}
	}
	delete(s.arrays, name)
	delete(s.member, name)
	s.persistLocked()

	s.logger.Info().Str("array", name).Msg("array deleted")
	s.publish(events.TopicRaidState, events.EventArrayDeleted, map[string]string{"array": name})
	publishStatusMetrics(s.snapshotLocked())
	return nil
}

// FailDevice marks an active member faulty and recomputes array health.
func (s *SimController) FailDevice(ctx context.Context, name, device string) error {
	const op = "raid.FailDevice"

	s.mu.Lock()
	defer s.mu.Unlock()

	a, dev, err := s.memberLocked(op, name, device)
	if err != nil {
		return err
	}
	if dev.State != types.DeviceActive && dev.State != types.DeviceWriteMostly {
		return errdefs.Errorf(errdefs.KindPreconditionFailed,
			"%s: device %s is %s, fail needs active", op, device, dev.State)
	}

	dev.State = types.DeviceFaulty
	// A rebuild that depended on this member is moot either way; recompute
	// from scratch.
	a.Status = DeriveStatus(a.Level, a.Devices, a.SyncAction)
	s.persistLocked()

	s.logger.Warn().Str("array", name).Str("device", device).Str("status", string(a.Status)).Msg("device failed")
	s.publish(events.TopicRaidState, events.EventDeviceFailed, map[string]string{"array": name, "device": device})
	switch a.Status {
	case types.ArrayStatusDegraded:
		s.publish(events.TopicRaidState, events.EventArrayDegraded, map[string]string{"array": name})
	case types.ArrayStatusFailed:
		s.publish(events.TopicRaidState, events.EventArrayFailed, map[string]string{"array": name})
	}
	publishStatusMetrics(s.snapshotLocked())
	return nil
}

// RemoveDevice takes a faulty or spare member out of the array and returns
// it to the free pool.
func (s *SimController) RemoveDevice(ctx context.Context, name, device string) error {
	const op = "raid.RemoveDevice"

	s.mu.Lock()
	defer s.mu.Unlock()

	a, dev, err := s.memberLocked(op, name, device)
	if err != nil {
		return err
	}
	if dev.State != types.DeviceFaulty && dev.State != types.DeviceSpare {
		return errdefs.Errorf(errdefs.KindPreconditionFailed,
			"%s: device %s is %s, remove needs faulty or spare", op, device, dev.State)
	}

	s.dropDeviceLocked(a, device, true)
	a.Status = DeriveStatus(a.Level, a.Devices, a.SyncAction)
	s.persistLocked()

	s.logger.Info().Str("array", name).Str("device", device).Msg("device removed")
	s.publish(events.TopicRaidState, events.EventDeviceRemoved, map[string]string{"array": name, "device": device})
	publishStatusMetrics(s.snapshotLocked())
	return nil
}

// AddSpare enrolls a free device. On a degraded array the spare is promoted
// at once and recovery starts from zero.
func (s *SimController) AddSpare(ctx context.Context, name, device string) error {
	const op = "raid.AddSpare"

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.arrays[name]
	if !ok {
		return errdefs.Errorf(errdefs.KindNotFound, "%s: no array %s", op, name)
	}
	size, ok := s.free[device]
	if !ok {
		return errdefs.Errorf(errdefs.KindPreconditionFailed, "%s: device %s not free", op, device)
	}
	if size < s.member[name] {
		return errdefs.Errorf(errdefs.KindPreconditionFailed,
			"%s: device %s (%d bytes) smaller than member size %d", op, device, size, s.member[name])
	}

	delete(s.free, device)
	slot := 0
	for _, d := range a.Devices {
		if d.Slot >= slot {
			slot = d.Slot + 1
		}
	}
	dev := types.RaidDevice{
		Name: device, ArrayName: name, Role: types.RoleSpare, State: types.DeviceSpare, Slot: slot,
	}

	if a.Status == types.ArrayStatusDegraded {
		dev.Role = types.RoleActive
		dev.State = types.DeviceRebuilding
		a.SyncAction = types.SyncRecover
		progress := 0.0
		a.SyncProgress = &progress
	}
	a.Devices = append(a.Devices, dev)
	a.Status = DeriveStatus(a.Level, a.Devices, a.SyncAction)
	s.persistLocked()

	s.logger.Info().Str("array", name).Str("device", device).Str("state", string(dev.State)).Msg("spare added")
	s.publish(events.TopicRaidState, events.EventSpareAdded, map[string]string{"array": name, "device": device})
	if a.SyncAction == types.SyncRecover {
		s.publish(events.TopicRaidSync, events.EventSyncStarted, map[string]string{"array": name, "action": string(types.SyncRecover)})
	}
	publishStatusMetrics(s.snapshotLocked())
	return nil
}

// SetWriteMostly toggles the write-mostly flag on a RAID1 member.
func (s *SimController) SetWriteMostly(ctx context.Context, name, device string, on bool) error {
	const op = "raid.SetWriteMostly"

	s.mu.Lock()
	defer s.mu.Unlock()

	a, dev, err := s.memberLocked(op, name, device)
	if err != nil {
		return err
	}
	if a.Level != types.RaidLevel1 {
		return errdefs.Errorf(errdefs.KindUnsupportedOp, "%s: write-mostly is RAID1 only, array %s is %s", op, name, a.Level)
	}

	if on {
		if dev.State != types.DeviceActive {
			return errdefs.Errorf(errdefs.KindPreconditionFailed,
				"%s: device %s is %s, write-mostly needs active", op, device, dev.State)
		}
		dev.Role, dev.State = types.RoleWriteMostly, types.DeviceWriteMostly
	} else {
		if dev.State != types.DeviceWriteMostly {
			return errdefs.Errorf(errdefs.KindPreconditionFailed,
				"%s: device %s is not write-mostly", op, device)
		}
		dev.Role, dev.State = types.RoleActive, types.DeviceActive
	}
	s.persistLocked()
	return nil
}

// SetBitmap switches the write-intent bitmap. Enabling one forces a resync.
func (s *SimController) SetBitmap(ctx context.Context, name string, mode types.BitmapMode) error {
	const op = "raid.SetBitmap"

	if mode != types.BitmapNone && mode != types.BitmapInternal {
		return errdefs.Errorf(errdefs.KindInvalidArg, "%s: unknown bitmap mode %q", op, mode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.arrays[name]
	if !ok {
		return errdefs.Errorf(errdefs.KindNotFound, "%s: no array %s", op, name)
	}
	if a.Bitmap == mode {
		return nil
	}

	a.Bitmap = mode
	if mode == types.BitmapInternal && a.SyncAction == types.SyncIdle {
		a.SyncAction = types.SyncResync
		progress := 0.0
		a.SyncProgress = &progress
		a.Status = DeriveStatus(a.Level, a.Devices, a.SyncAction)
		s.publish(events.TopicRaidSync, events.EventSyncStarted, map[string]string{"array": name, "action": string(types.SyncResync)})
	}
	s.persistLocked()
	return nil
}

// SetSyncLimits updates the speed window used by the progress worker.
func (s *SimController) SetSyncLimits(ctx context.Context, name string, minKB, maxKB int) error {
	if err := validateSyncLimits(minKB, maxKB); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.arrays[name]
	if !ok {
		return errdefs.Errorf(errdefs.KindNotFound, "raid.SetSyncLimits: no array %s", name)
	}
	a.MinSyncKB, a.MaxSyncKB = minKB, maxKB
	s.persistLocked()
	return nil
}

// StartScrub begins a consistency pass on an optimal array.
func (s *SimController) StartScrub(ctx context.Context, name string, action types.ScrubAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.arrays[name]
	if !ok {
		return errdefs.Errorf(errdefs.KindNotFound, "raid.StartScrub: no array %s", name)
	}
	if err := validateScrub(a, action); err != nil {
		return err
	}

	a.SyncAction = types.SyncAction(action)
	progress := 0.0
	a.SyncProgress = &progress
	s.persistLocked()

	s.logger.Info().Str("array", name).Str("action", string(action)).Msg("scrub started")
	s.publish(events.TopicRaidSync, events.EventSyncStarted, map[string]string{"array": name, "action": string(action)})
	return nil
}

// FinalizeRebuild completes the in-flight sync immediately. Simulator-only
// hook for tests and dev tooling.
func (s *SimController) FinalizeRebuild(name string) error {
	const op = "raid.FinalizeRebuild"

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.arrays[name]
	if !ok {
		return errdefs.Errorf(errdefs.KindNotFound, "%s: no array %s", op, name)
	}
	if a.SyncAction == types.SyncIdle {
		return errdefs.Errorf(errdefs.KindPreconditionFailed, "%s: array %s has no sync in flight", op, name)
	}

	s.finishSyncLocked(a)
	s.persistLocked()
	publishStatusMetrics(s.snapshotLocked())
	return nil
}

// Advance moves every in-flight sync forward by the elapsed wall time.
// Deterministic: progress += min(maxSyncKB*dt, remainingKB) / sizeKB.
func (s *SimController) Advance(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, a := range s.arrays {
		if a.SyncAction == types.SyncIdle || a.SyncProgress == nil {
			continue
		}
		sizeKB := float64(a.SizeBytes) / 1024
		if sizeKB <= 0 {
			s.finishSyncLocked(a)
			changed = true
			continue
		}

		stepKB := float64(a.MaxSyncKB) * dt.Seconds()
		remainKB := (1 - *a.SyncProgress) * sizeKB
		if stepKB > remainKB {
			stepKB = remainKB
		}
		p := *a.SyncProgress + stepKB/sizeKB
		*a.SyncProgress = p
		s.publish(events.TopicRaidSync, events.EventSyncProgress, map[string]string{
			"array":    a.Name,
			"action":   string(a.SyncAction),
			"progress": strconv.FormatFloat(p, 'f', 4, 64),
		})

		if p >= 1 {
			s.finishSyncLocked(a)
		}
		changed = true
	}
	if changed {
		s.persistLocked()
		publishStatusMetrics(s.snapshotLocked())
	}
}

// finishSyncLocked completes the current sync action: rebuilding members
// become active, and a finished recovery drops the faulty members the
// spare replaced.
func (s *SimController) finishSyncLocked(a *types.RaidArray) {
	action := a.SyncAction

	if action == types.SyncRecover {
		var faulty []string
		for _, d := range a.Devices {
			if d.State == types.DeviceFaulty {
				faulty = append(faulty, d.Name)
			}
		}
		for _, name := range faulty {
			s.dropDeviceLocked(a, name, true)
		}
	}
	for i := range a.Devices {
		if a.Devices[i].State == types.DeviceRebuilding {
			a.Devices[i].State = types.DeviceActive
			a.Devices[i].Role = types.RoleActive
		}
	}

	a.SyncAction = types.SyncIdle
	a.SyncProgress = nil
	a.Status = DeriveStatus(a.Level, a.Devices, a.SyncAction)

	s.logger.Info().Str("array", a.Name).Str("action", string(action)).Str("status", string(a.Status)).Msg("sync finished")
	s.publish(events.TopicRaidSync, events.EventSyncFinished, map[string]string{"array": a.Name, "action": string(action)})
	if a.Status == types.ArrayStatusOptimal {
		s.publish(events.TopicRaidState, events.EventArrayOptimal, map[string]string{"array": a.Name})
	}
}

// dropDeviceLocked removes one member record, optionally returning the
// device to the free pool.
func (s *SimController) dropDeviceLocked(a *types.RaidArray, device string, toPool bool) {
	for i := range a.Devices {
		if a.Devices[i].Name == device {
			a.Devices = append(a.Devices[:i], a.Devices[i+1:]...)
			if toPool {
				s.free[device] = s.member[a.Name]
			}
			return
		}
	}
}

func (s *SimController) memberLocked(op, name, device string) (*types.RaidArray, *types.RaidDevice, error) {
	a, ok := s.arrays[name]
	if !ok {
		return nil, nil, errdefs.Errorf(errdefs.KindNotFound, "%s: no array %s", op, name)
	}
	dev := a.Device(device)
	if dev == nil {
		return nil, nil, errdefs.Errorf(errdefs.KindNotFound, "%s: device %s not in array %s", op, device, name)
	}
	return a, dev, nil
}

func (s *SimController) persistLocked() {
	if s.snap == nil {
		return
	}
	state := SimState{
		Free:       make(map[string]int64, len(s.free)),
		MemberSize: make(map[string]int64, len(s.member)),
	}
	for _, a := range s.arrays {
		state.Arrays = append(state.Arrays, copyArray(a))
	}
	sort.Slice(state.Arrays, func(i, j int) bool { return state.Arrays[i].Name < state.Arrays[j].Name })
	for k, v := range s.free {
		state.Free[k] = v
	}
	for k, v := range s.member {
		state.MemberSize[k] = v
	}

	if err := s.snap.Save(state); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist simulator snapshot")
	}
}

func (s *SimController) publish(topic events.Topic, evType events.EventType, data map[string]string) {
	if s.broker != nil {
		s.broker.Publish(topic, evType, data)
	}
}
