package raid

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/events"
	"github.com/baluhost/baluhost/pkg/host"
	"github.com/baluhost/baluhost/pkg/log"
	"github.com/baluhost/baluhost/pkg/metrics"
	"github.com/baluhost/baluhost/pkg/types"
)

// MdadmController is the production backend: every read re-parses the
// kernel state, every mutation shells out to mdadm through the host
// adapter. mdadm invocations serialise on one mutex; concurrent superblock
// writes corrupt arrays.
type MdadmController struct {
	runner host.Runner
	broker *events.Broker
	logger zerolog.Logger

	// cmdMu serialises every mdadm spawn and sysfs mutation.
	cmdMu sync.Mutex

	// limitsMu guards the per-array sync limit overrides, which the kernel
	// does not report back per array.
	limitsMu sync.Mutex
	limits   map[string][2]int
}

// NewMdadmController builds the production backend on the given runner.
func NewMdadmController(runner host.Runner, broker *events.Broker) *MdadmController {
	return &MdadmController{
		runner: runner,
		broker: broker,
		logger: log.WithComponent("raid"),
		limits: make(map[string][2]int),
	}
}

// List re-parses /proc/mdstat and merges per-array detail.
func (c *MdadmController) List(ctx context.Context) ([]types.RaidArray, error) {
	const op = "raid.List"

	data, err := c.runner.ReadFile(host.ProcMdstat)
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindIO, op)
	}
	arrays, err := ParseMdstat(data)
	if err != nil {
		return nil, err
	}

	for i := range arrays {
		res, err := host.SpawnMdadm(ctx, c.runner, "--detail", "--export", "/dev/"+arrays[i].Name)
		if err != nil || res.ExitCode != 0 {
			// Detail is an enrichment; mdstat alone is authoritative for
			// membership and progress.
			continue
		}
		detail, err := ParseDetailExport([]byte(res.Stdout))
		if err != nil {
			continue
		}
		mergeDetail(&arrays[i], detail)
	}

	c.limitsMu.Lock()
	for i := range arrays {
		if lim, ok := c.limits[arrays[i].Name]; ok {
			arrays[i].MinSyncKB, arrays[i].MaxSyncKB = lim[0], lim[1]
		}
	}
	c.limitsMu.Unlock()

	publishStatusMetrics(arrays)
	return arrays, nil
}

// mergeDetail applies --detail --export enrichments onto the mdstat model.
func mergeDetail(a *types.RaidArray, d DetailExport) {
	for i := range a.Devices {
		role, ok := d.DeviceRole["/dev/"+a.Devices[i].Name]
		if !ok {
			role, ok = d.DeviceRole[a.Devices[i].Name]
		}
		if !ok {
			continue
		}
		switch role {
		case "journal":
			a.Devices[i].Role = types.RoleJournal
		case "spare":
			if a.Devices[i].State == types.DeviceActive {
				a.Devices[i].Role = types.RoleSpare
				a.Devices[i].State = types.DeviceSpare
			}
		}
	}
}

// Get returns one array by name.
func (c *MdadmController) Get(ctx context.Context, name string) (*types.RaidArray, error) {
	arrays, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range arrays {
		if arrays[i].Name == name {
			return &arrays[i], nil
		}
	}
	return nil, errdefs.Errorf(errdefs.KindNotFound, "raid.Get: no array %s", name)
}

// ListFreeDevices enumerates /sys/block and filters out array members,
// partitions, and pseudo devices.
func (c *MdadmController) ListFreeDevices(ctx context.Context) ([]FreeDevice, error) {
	const op = "raid.ListFreeDevices"

	arrays, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	used := make(map[string]bool)
	for _, a := range arrays {
		for _, d := range a.Devices {
			used[d.Name] = true
			// Partitions occupy their parent disk too.
			used[strings.TrimRight(d.Name, "0123456789")] = true
		}
	}

	entries, err := c.runner.Glob(host.SysBlockGlob)
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindIO, op)
	}

	var out []FreeDevice
	for _, entry := range entries {
		name := path.Base(entry)
		if !physicalDevice(name) || used[name] || strings.HasPrefix(name, "md") {
			continue
		}

		size := int64(0)
		if data, err := c.runner.ReadFile(entry + "/size"); err == nil {
			if sectors, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil {
				size = sectors * 512
			}
		}
		out = append(out, FreeDevice{Name: name, SizeBytes: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// physicalDevice filters the /sys/block namespace down to real disks.
func physicalDevice(name string) bool {
	for _, prefix := range []string{"loop", "ram", "zram", "dm-", "sr", "fd"} {
		if strings.HasPrefix(name, prefix) {
			return false
		}
	}
	return true
}

// mdadm runs one mdadm invocation under the global command mutex and maps
// a non-zero exit to KindControllerFailed carrying stderr.
func (c *MdadmController) mdadm(ctx context.Context, op string, args ...string) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	res, err := host.SpawnMdadm(ctx, c.runner, args...)
	if err != nil {
		metrics.MdadmInvocations.WithLabelValues(op, "error").Inc()
		return errdefs.Wrap(err, errdefs.KindControllerFailed, op)
	}
	if res.ExitCode != 0 {
		metrics.MdadmInvocations.WithLabelValues(op, "nonzero").Inc()
		c.logger.Error().Str("op", op).Int("exit", res.ExitCode).Str("stderr", res.Stderr).Msg("mdadm failed")
		return errdefs.Errorf(errdefs.KindControllerFailed, "%s: mdadm exited %d: %s",
			op, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	metrics.MdadmInvocations.WithLabelValues(op, "ok").Inc()
	return nil
}

// CreateArray validates against current kernel state, then runs
// mdadm --create.
func (c *MdadmController) CreateArray(ctx context.Context, name string, level types.RaidLevel, devices, spares []string, chunkKB int) error {
	const op = "raid.CreateArray"

	existing, err := c.List(ctx)
	if err != nil {
		return err
	}
	if err := validateCreate(name, level, devices, existing); err != nil {
		return err
	}

	args := []string{
		"--create", "/dev/" + name,
		"--level=" + strings.TrimPrefix(string(level), "raid"),
		"--raid-devices=" + strconv.Itoa(len(devices)),
		"--run",
	}
	if chunkKB > 0 {
		args = append(args, "--chunk="+strconv.Itoa(chunkKB))
	}
	if len(spares) > 0 {
		args = append(args, "--spare-devices="+strconv.Itoa(len(spares)))
	}
	for _, d := range devices {
		args = append(args, "/dev/"+d)
	}
	for _, d := range spares {
		args = append(args, "/dev/"+d)
	}

	if err := c.mdadm(ctx, op, args...); err != nil {
		return err
	}

	c.logger.Info().Str("array", name).Str("level", string(level)).Msg("array created")
	c.publish(events.TopicRaidState, events.EventArrayCreated, map[string]string{"array": name, "level": string(level)})
	return c.reconcile(ctx)
}

// DeleteArray stops the array and clears member superblocks.
func (c *MdadmController) DeleteArray(ctx context.Context, name string) error {
	const op = "raid.DeleteArray"

	a, err := c.Get(ctx, name)
	if err != nil {
		return err
	}
	if a.Status != types.ArrayStatusOptimal && a.Status != types.ArrayStatusDegraded {
		return errdefs.Errorf(errdefs.KindPreconditionFailed,
			"%s: array %s is %s, delete needs optimal or degraded", op, name, a.Status)
	}

	if err := c.mdadm(ctx, op, "--stop", "/dev/"+name); err != nil {
		return err
	}
	for _, d := range a.Devices {
		if d.State == types.DeviceMissing {
			continue
		}
		// Superblock wipe failures leave the device reusable after manual
		// intervention; the stop already succeeded.
		if err := c.mdadm(ctx, op, "--zero-superblock", "/dev/"+d.Name); err != nil {
			c.logger.Warn().Err(err).Str("device", d.Name).Msg("failed to zero superblock")
		}
	}

	c.logger.Info().Str("array", name).Msg("array deleted")
	c.publish(events.TopicRaidState, events.EventArrayDeleted, map[string]string{"array": name})
	return c.reconcile(ctx)
}

// FailDevice marks a member faulty via mdadm --manage --fail.
func (c *MdadmController) FailDevice(ctx context.Context, name, device string) error {
	const op = "raid.FailDevice"

	a, err := c.Get(ctx, name)
	if err != nil {
		return err
	}
	dev := a.Device(device)
	if dev == nil {
		return errdefs.Errorf(errdefs.KindNotFound, "%s: device %s not in array %s", op, device, name)
	}
	if dev.State != types.DeviceActive && dev.State != types.DeviceWriteMostly {
		return errdefs.Errorf(errdefs.KindPreconditionFailed,
			"%s: device %s is %s, fail needs active", op, device, dev.State)
	}

	if err := c.mdadm(ctx, op, "--manage", "/dev/"+name, "--fail", "/dev/"+device); err != nil {
		return err
	}
	c.publish(events.TopicRaidState, events.EventDeviceFailed, map[string]string{"array": name, "device": device})
	return c.reconcile(ctx)
}

// RemoveDevice detaches a faulty or spare member.
func (c *MdadmController) RemoveDevice(ctx context.Context, name, device string) error {
	const op = "raid.RemoveDevice"

	a, err := c.Get(ctx, name)
	if err != nil {
		return err
	}
	dev := a.Device(device)
	if dev == nil {
		return errdefs.Errorf(errdefs.KindNotFound, "%s: device %s not in array %s", op, device, name)
	}
	if dev.State != types.DeviceFaulty && dev.State != types.DeviceSpare {
		return errdefs.Errorf(errdefs.KindPreconditionFailed,
			"%s: device %s is %s, remove needs faulty or spare", op, device, dev.State)
	}

	if err := c.mdadm(ctx, op, "--manage", "/dev/"+name, "--remove", "/dev/"+device); err != nil {
		return err
	}
	c.publish(events.TopicRaidState, events.EventDeviceRemoved, map[string]string{"array": name, "device": device})
	return c.reconcile(ctx)
}

// AddSpare adds a free device; the kernel promotes it on degraded arrays.
func (c *MdadmController) AddSpare(ctx context.Context, name, device string) error {
	const op = "raid.AddSpare"

	free, err := c.ListFreeDevices(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, f := range free {
		if f.Name == device {
			found = true
			break
		}
	}
	if !found {
		return errdefs.Errorf(errdefs.KindPreconditionFailed, "%s: device %s not free", op, device)
	}

	if err := c.mdadm(ctx, op, "--manage", "/dev/"+name, "--add", "/dev/"+device); err != nil {
		return err
	}
	c.publish(events.TopicRaidState, events.EventSpareAdded, map[string]string{"array": name, "device": device})
	return c.reconcile(ctx)
}

// SetWriteMostly toggles the flag through the md sysfs state file, the
// only interface that flips it on a live member.
func (c *MdadmController) SetWriteMostly(ctx context.Context, name, device string, on bool) error {
	const op = "raid.SetWriteMostly"

	a, err := c.Get(ctx, name)
	if err != nil {
		return err
	}
	if a.Level != types.RaidLevel1 {
		return errdefs.Errorf(errdefs.KindUnsupportedOp, "%s: write-mostly is RAID1 only, array %s is %s", op, name, a.Level)
	}
	if a.Device(device) == nil {
		return errdefs.Errorf(errdefs.KindNotFound, "%s: device %s not in array %s", op, device, name)
	}

	state := "writemostly"
	if !on {
		state = "-writemostly"
	}
	statePath := fmt.Sprintf("/sys/block/%s/md/dev-%s/state", name, device)

	c.cmdMu.Lock()
	err = c.runner.WriteFile(statePath, []byte(state))
	c.cmdMu.Unlock()
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindControllerFailed, op)
	}
	return c.reconcile(ctx)
}

// SetBitmap grows the bitmap on or off.
func (c *MdadmController) SetBitmap(ctx context.Context, name string, mode types.BitmapMode) error {
	const op = "raid.SetBitmap"

	if mode != types.BitmapNone && mode != types.BitmapInternal {
		return errdefs.Errorf(errdefs.KindInvalidArg, "%s: unknown bitmap mode %q", op, mode)
	}
	if _, err := c.Get(ctx, name); err != nil {
		return err
	}

	if err := c.mdadm(ctx, op, "--grow", "/dev/"+name, "--bitmap="+string(mode)); err != nil {
		return err
	}
	return c.reconcile(ctx)
}

// SetSyncLimits writes the kernel-wide speed limits and records the window
// for this array's reads.
func (c *MdadmController) SetSyncLimits(ctx context.Context, name string, minKB, maxKB int) error {
	const op = "raid.SetSyncLimits"

	if err := validateSyncLimits(minKB, maxKB); err != nil {
		return err
	}
	if _, err := c.Get(ctx, name); err != nil {
		return err
	}

	c.cmdMu.Lock()
	err := c.runner.WriteFile(host.SpeedLimitMin, []byte(strconv.Itoa(minKB)))
	if err == nil {
		err = c.runner.WriteFile(host.SpeedLimitMax, []byte(strconv.Itoa(maxKB)))
	}
	c.cmdMu.Unlock()
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindControllerFailed, op)
	}

	c.limitsMu.Lock()
	c.limits[name] = [2]int{minKB, maxKB}
	c.limitsMu.Unlock()
	return nil
}

// StartScrub writes check or repair into the array's sync_action.
func (c *MdadmController) StartScrub(ctx context.Context, name string, action types.ScrubAction) error {
	const op = "raid.StartScrub"

	a, err := c.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := validateScrub(a, action); err != nil {
		return err
	}

	actionPath := fmt.Sprintf("/sys/block/%s/md/sync_action", name)
	c.cmdMu.Lock()
	err = c.runner.WriteFile(actionPath, []byte(action))
	c.cmdMu.Unlock()
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindControllerFailed, op)
	}

	c.logger.Info().Str("array", name).Str("action", string(action)).Msg("scrub started")
	c.publish(events.TopicRaidSync, events.EventSyncStarted, map[string]string{"array": name, "action": string(action)})
	return nil
}

// reconcile re-parses after a mutation so the next read reflects reality
// even when mdadm partially applied a change.
func (c *MdadmController) reconcile(ctx context.Context) error {
	_, err := c.List(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("post-mutation reconcile failed")
	}
	return nil
}

func (c *MdadmController) publish(topic events.Topic, evType events.EventType, data map[string]string) {
	if c.broker != nil {
		c.broker.Publish(topic, evType, data)
	}
}
