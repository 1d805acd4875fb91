package sampler

import (
	"context"
	"time"

	"github.com/baluhost/baluhost/pkg/events"
	"github.com/baluhost/baluhost/pkg/host"
	"github.com/baluhost/baluhost/pkg/types"
)

// DiskSink receives one tick's worth of disk samples.
type DiskSink func(ctx context.Context, samples []types.DiskSample)

type diskBaseline struct {
	counters host.DiskCounters
	at       time.Time
}

// DiskSampler turns cumulative diskstats counters into per-second rates,
// one sample per device per tick.
type DiskSampler struct {
	runner host.Runner
	ring   *Ring[types.DiskSample]
	sink   DiskSink
	loop   *loop

	prev map[string]diskBaseline
}

// NewDiskSampler builds a disk sampler. sink may be nil.
func NewDiskSampler(runner host.Runner, broker *events.Broker, interval time.Duration, historySize int, sink DiskSink) *DiskSampler {
	return &DiskSampler{
		runner: runner,
		ring:   NewRing[types.DiskSample](historySize),
		sink:   sink,
		loop:   newLoop("disk", interval, broker),
		prev:   make(map[string]diskBaseline),
	}
}

// Run ticks until ctx is cancelled.
func (d *DiskSampler) Run(ctx context.Context) {
	d.loop.run(ctx, func(ctx context.Context) error {
		return d.tick(ctx, time.Now())
	})
}

// Current returns the latest sample per device.
func (d *DiskSampler) Current() []types.DiskSample {
	latest := make(map[string]types.DiskSample)
	for _, s := range d.ring.Snapshot() {
		latest[s.DeviceName] = s
	}
	out := make([]types.DiskSample, 0, len(latest))
	for _, s := range latest {
		out = append(out, s)
	}
	return out
}

// History returns the ring contents for one device within the range.
func (d *DiskSampler) History(device string, r types.Range) []types.DiskSample {
	return d.ring.Filter(func(s types.DiskSample) bool {
		return s.DeviceName == device && r.Contains(time.UnixMilli(s.TMillis))
	})
}

// Oldest returns the timestamp of the oldest ring entry, zero when empty.
func (d *DiskSampler) Oldest() time.Time {
	snap := d.ring.Snapshot()
	if len(snap) == 0 {
		return time.Time{}
	}
	return time.UnixMilli(snap[0].TMillis)
}

// tick reads every device's counters and emits rate samples where a valid
// baseline exists. Per-device read failures skip the device; only a failed
// enumeration fails the tick.
func (d *DiskSampler) tick(ctx context.Context, now time.Time) error {
	devices, err := blockDevices(d.runner)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(devices))
	var out []types.DiskSample
	for _, dev := range devices {
		seen[dev] = true

		cur, err := d.runner.ReadCounters(dev)
		if err != nil {
			d.loop.logger.Debug().Err(err).Str("device", dev).Msg("counter read failed")
			delete(d.prev, dev)
			continue
		}

		prev, ok := d.prev[dev]
		d.prev[dev] = diskBaseline{counters: cur, at: now}
		if !ok {
			// New device or reappearance: baseline only.
			continue
		}
		dt := now.Sub(prev.at).Seconds()
		if dt <= 0 || diskCounterWrapped(prev.counters, cur) {
			continue
		}

		out = append(out, types.DiskSample{
			DeviceName:       dev,
			TMillis:          now.UnixMilli(),
			ReadBytesPerSec:  perSecond(cur.ReadBytes()-prev.counters.ReadBytes(), dt),
			WriteBytesPerSec: perSecond(cur.WrittenBytes()-prev.counters.WrittenBytes(), dt),
			ReadOpsPerSec:    perSecond(cur.ReadOps-prev.counters.ReadOps, dt),
			WriteOpsPerSec:   perSecond(cur.WriteOps-prev.counters.WriteOps, dt),
		})
	}

	// Forget baselines of devices that vanished so a reappearance starts
	// fresh instead of producing a wild delta.
	for dev := range d.prev {
		if !seen[dev] {
			delete(d.prev, dev)
		}
	}

	for _, s := range out {
		d.ring.Append(s)
	}
	if len(out) > 0 && d.sink != nil {
		d.sink(ctx, out)
	}
	return nil
}

// diskCounterWrapped reports whether any cumulative counter moved
// backwards, which means wrap or device reset.
func diskCounterWrapped(prev, cur host.DiskCounters) bool {
	return cur.SectorsRead < prev.SectorsRead ||
		cur.SectorsWritten < prev.SectorsWritten ||
		cur.ReadOps < prev.ReadOps ||
		cur.WriteOps < prev.WriteOps
}

func perSecond(delta int64, dt float64) int64 {
	if delta < 0 {
		return 0
	}
	return int64(float64(delta) / dt)
}
