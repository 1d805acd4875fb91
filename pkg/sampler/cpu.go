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

const (
	sysCPUFreqGlob = "/sys/devices/system/cpu/cpu[0-9]*/cpufreq/scaling_cur_freq"
	sysThermalGlob = "/sys/class/thermal/thermal_zone[0-9]*/temp"
)

// CPUSink receives one CPU sample per tick.
type CPUSink func(ctx context.Context, sample types.CPUSample)

type cpuTimes struct {
	busy  int64
	total int64
}

// CPUSampler derives per-thread busy percentages from /proc/stat deltas.
// Total utilisation is the mean across threads. Frequency and temperature
// are best-effort sysfs reads, zero when unavailable.
type CPUSampler struct {
	runner host.Runner
	ring   *Ring[types.CPUSample]
	sink   CPUSink
	loop   *loop

	prev []cpuTimes
}

// NewCPUSampler builds a CPU sampler. sink may be nil.
func NewCPUSampler(runner host.Runner, broker *events.Broker, interval time.Duration, historySize int, sink CPUSink) *CPUSampler {
	return &CPUSampler{
		runner: runner,
		ring:   NewRing[types.CPUSample](historySize),
		sink:   sink,
		loop:   newLoop("cpu", interval, broker),
	}
}

// Run ticks until ctx is cancelled.
func (c *CPUSampler) Run(ctx context.Context) {
	c.loop.run(ctx, func(ctx context.Context) error {
		return c.tick(ctx, time.Now())
	})
}

// Current returns the latest sample.
func (c *CPUSampler) Current() (types.CPUSample, bool) {
	return c.ring.Last()
}

// History returns ring samples within the range.
func (c *CPUSampler) History(r types.Range) []types.CPUSample {
	return c.ring.Filter(func(s types.CPUSample) bool {
		return r.Contains(time.UnixMilli(s.TMillis))
	})
}

// Oldest returns the timestamp of the oldest ring entry, zero when empty.
func (c *CPUSampler) Oldest() time.Time {
	snap := c.ring.Snapshot()
	if len(snap) == 0 {
		return time.Time{}
	}
	return time.UnixMilli(snap[0].TMillis)
}

func (c *CPUSampler) tick(ctx context.Context, now time.Time) error {
	data, err := c.runner.ReadFile(host.ProcStat)
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindIO, "sampler.cpu")
	}
	cur, err := parseProcStat(data)
	if err != nil {
		return err
	}

	prev := c.prev
	c.prev = cur
	if prev == nil || len(prev) != len(cur) {
		// First tick, or the thread count changed (hotplug): baseline only.
		return nil
	}

	perThread := make([]float64, len(cur))
	sum := 0.0
	for i := range cur {
		dTotal := cur[i].total - prev[i].total
		dBusy := cur[i].busy - prev[i].busy
		if dTotal > 0 && dBusy >= 0 {
			perThread[i] = 100 * float64(dBusy) / float64(dTotal)
		}
		sum += perThread[i]
	}

	sample := types.CPUSample{
		TMillis:      now.UnixMilli(),
		TotalPct:     sum / float64(len(cur)),
		PerThreadPct: perThread,
		FreqMHz:      c.readFreqMHz(),
		TempC:        c.readTempC(),
	}
	c.ring.Append(sample)
	if c.sink != nil {
		c.sink(ctx, sample)
	}
	return nil
}

// parseProcStat extracts the per-thread cumulative times from the cpuN
// lines. Idle and iowait count as idle; everything else is busy.
func parseProcStat(data []byte) ([]cpuTimes, error) {
	const op = "sampler.parseProcStat"

	var out []cpuTimes
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 8 || !strings.HasPrefix(fields[0], "cpu") || fields[0] == "cpu" {
			continue
		}

		var total, idle int64
		for i, f := range fields[1:] {
			v, err := strconv.ParseInt(f, 10, 64)
			if err != nil {
				return nil, errdefs.Errorf(errdefs.KindParse, "%s: bad field %q in %q", op, f, fields[0])
			}
			total += v
			// idle is field 4, iowait field 5 (1-indexed after the label)
			if i == 3 || i == 4 {
				idle += v
			}
		}
		out = append(out, cpuTimes{busy: total - idle, total: total})
	}
	if err := sc.Err(); err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindIO, op)
	}
	if len(out) == 0 {
		return nil, errdefs.Errorf(errdefs.KindParse, "%s: no cpu lines", op)
	}
	return out, nil
}

// readFreqMHz averages the per-core scaling frequency, 0 when the sysfs
// tree is absent (VMs, some ARM boards).
func (c *CPUSampler) readFreqMHz() int {
	paths, err := c.runner.Glob(sysCPUFreqGlob)
	if err != nil || len(paths) == 0 {
		return 0
	}
	var sumKHz, n int64
	for _, p := range paths {
		data, err := c.runner.ReadFile(p)
		if err != nil {
			continue
		}
		if v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil {
			sumKHz += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return int(sumKHz / n / 1000)
}

// readTempC returns the first readable thermal zone in degrees, 0 when
// none exists.
func (c *CPUSampler) readTempC() float64 {
	paths, err := c.runner.Glob(sysThermalGlob)
	if err != nil {
		return 0
	}
	for _, p := range paths {
		data, err := c.runner.ReadFile(p)
		if err != nil {
			continue
		}
		if v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil {
			return float64(v) / 1000
		}
	}
	return 0
}
