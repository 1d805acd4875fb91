package sampler

import (
	"bufio"
	"bytes"
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/events"
	"github.com/baluhost/baluhost/pkg/host"
	"github.com/baluhost/baluhost/pkg/types"
)

// MemorySink receives one memory sample per tick.
type MemorySink func(ctx context.Context, sample types.MemorySample)

// MemorySampler snapshots /proc/meminfo. No deltas involved; every tick
// emits.
type MemorySampler struct {
	runner host.Runner
	ring   *Ring[types.MemorySample]
	sink   MemorySink
	loop   *loop
}

// NewMemorySampler builds a memory sampler. sink may be nil.
func NewMemorySampler(runner host.Runner, broker *events.Broker, interval time.Duration, historySize int, sink MemorySink) *MemorySampler {
	return &MemorySampler{
		runner: runner,
		ring:   NewRing[types.MemorySample](historySize),
		sink:   sink,
		loop:   newLoop("memory", interval, broker),
	}
}

// Run ticks until ctx is cancelled.
func (m *MemorySampler) Run(ctx context.Context) {
	m.loop.run(ctx, func(ctx context.Context) error {
		return m.tick(ctx, time.Now())
	})
}

// Current returns the latest sample.
func (m *MemorySampler) Current() (types.MemorySample, bool) {
	return m.ring.Last()
}

// History returns ring samples within the range.
func (m *MemorySampler) History(r types.Range) []types.MemorySample {
	return m.ring.Filter(func(s types.MemorySample) bool {
		return r.Contains(time.UnixMilli(s.TMillis))
	})
}

// Oldest returns the timestamp of the oldest ring entry, zero when empty.
func (m *MemorySampler) Oldest() time.Time {
	snap := m.ring.Snapshot()
	if len(snap) == 0 {
		return time.Time{}
	}
	return time.UnixMilli(snap[0].TMillis)
}

func (m *MemorySampler) tick(ctx context.Context, now time.Time) error {
	data, err := m.runner.ReadFile(host.ProcMeminfo)
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindIO, "sampler.memory")
	}
	sample, err := parseMeminfo(data)
	if err != nil {
		return err
	}
	sample.TMillis = now.UnixMilli()

	m.ring.Append(sample)
	if m.sink != nil {
		m.sink(ctx, sample)
	}
	return nil
}

// parseMeminfo reads the kB fields the model needs. Used is derived as
// total minus available, matching what free(1) reports.
func parseMeminfo(data []byte) (types.MemorySample, error) {
	const op = "sampler.parseMeminfo"

	kb := make(map[string]int64)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		name, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		kb[name] = v
	}
	if err := sc.Err(); err != nil {
		return types.MemorySample{}, errdefs.Wrap(err, errdefs.KindIO, op)
	}
	if kb["MemTotal"] == 0 {
		return types.MemorySample{}, errdefs.Errorf(errdefs.KindParse, "%s: MemTotal missing", op)
	}

	total := kb["MemTotal"] * 1024
	avail := kb["MemAvailable"] * 1024
	swapTotal := kb["SwapTotal"] * 1024
	return types.MemorySample{
		TotalBytes:     total,
		UsedBytes:      total - avail,
		AvailableBytes: avail,
		CachedBytes:    kb["Cached"] * 1024,
		SwapTotalBytes: swapTotal,
		SwapUsedBytes:  swapTotal - kb["SwapFree"]*1024,
	}, nil
}
