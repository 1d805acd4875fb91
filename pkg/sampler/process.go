package sampler

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/events"
	"github.com/baluhost/baluhost/pkg/host"
	"github.com/baluhost/baluhost/pkg/types"
)

// Kernel USER_HZ; fixed at 100 on every supported platform.
const clockTicksPerSec = 100

// Page size for RSS conversion.
const pageBytes = 4096

// ProcessSink receives one tick's top-N process table.
type ProcessSink func(ctx context.Context, samples []types.ProcessSample)

type procBaseline struct {
	cpuTicks int64
	at       time.Time
}

// ProcessSampler scans /proc/[pid]/stat and retains the top-N processes
// by CPU share over the tick.
type ProcessSampler struct {
	runner host.Runner
	ring   *Ring[types.ProcessSample]
	sink   ProcessSink
	loop   *loop
	topN   int

	prev map[int]procBaseline
}

// NewProcessSampler builds a process sampler. sink may be nil.
func NewProcessSampler(runner host.Runner, broker *events.Broker, interval time.Duration, historySize, topN int, sink ProcessSink) *ProcessSampler {
	return &ProcessSampler{
		runner: runner,
		ring:   NewRing[types.ProcessSample](historySize),
		sink:   sink,
		loop:   newLoop("process", interval, broker),
		topN:   topN,
		prev:   make(map[int]procBaseline),
	}
}

// Run ticks until ctx is cancelled.
func (p *ProcessSampler) Run(ctx context.Context) {
	p.loop.run(ctx, func(ctx context.Context) error {
		return p.tick(ctx, time.Now())
	})
}

// Current returns the most recent tick's table.
func (p *ProcessSampler) Current() []types.ProcessSample {
	snap := p.ring.Snapshot()
	if len(snap) == 0 {
		return nil
	}
	last := snap[len(snap)-1].TMillis
	var out []types.ProcessSample
	for _, s := range snap {
		if s.TMillis == last {
			out = append(out, s)
		}
	}
	return out
}

func (p *ProcessSampler) tick(ctx context.Context, now time.Time) error {
	paths, err := p.runner.Glob(host.ProcPIDStat)
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindIO, "sampler.process")
	}

	seen := make(map[int]bool)
	var out []types.ProcessSample
	for _, statPath := range paths {
		data, err := p.runner.ReadFile(statPath)
		if err != nil {
			// Processes exit between glob and read all the time.
			continue
		}
		pid, comm, ticks, rssPages, err := parsePIDStat(string(data))
		if err != nil {
			continue
		}
		seen[pid] = true

		prev, ok := p.prev[pid]
		p.prev[pid] = procBaseline{cpuTicks: ticks, at: now}
		if !ok {
			continue
		}
		dt := now.Sub(prev.at).Seconds()
		if dt <= 0 || ticks < prev.cpuTicks {
			continue
		}

		out = append(out, types.ProcessSample{
			TMillis:     now.UnixMilli(),
			PID:         pid,
			Command:     comm,
			CPUPct:      100 * float64(ticks-prev.cpuTicks) / clockTicksPerSec / dt,
			MemoryBytes: rssPages * pageBytes,
		})
	}

	for pid := range p.prev {
		if !seen[pid] {
			delete(p.prev, pid)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CPUPct > out[j].CPUPct })
	if len(out) > p.topN {
		out = out[:p.topN]
	}

	for _, s := range out {
		p.ring.Append(s)
	}
	if len(out) > 0 && p.sink != nil {
		p.sink(ctx, out)
	}
	return nil
}

// parsePIDStat parses one /proc/[pid]/stat line. The command is wrapped in
// parentheses and may itself contain spaces and parentheses, so fields are
// split after the last ')'.
func parsePIDStat(line string) (pid int, comm string, cpuTicks, rssPages int64, err error) {
	const op = "sampler.parsePIDStat"

	open := strings.IndexByte(line, '(')
	closing := strings.LastIndexByte(line, ')')
	if open < 0 || closing < open {
		return 0, "", 0, 0, errdefs.Errorf(errdefs.KindParse, "%s: no command field", op)
	}

	pid, err = strconv.Atoi(strings.TrimSpace(line[:open]))
	if err != nil {
		return 0, "", 0, 0, errdefs.Errorf(errdefs.KindParse, "%s: bad pid", op)
	}
	comm = line[open+1 : closing]

	// After ')' the fields are 1-indexed from 3: state=3 ... utime=14,
	// stime=15 ... rss=24.
	rest := strings.Fields(line[closing+1:])
	if len(rest) < 22 {
		return 0, "", 0, 0, errdefs.Errorf(errdefs.KindParse, "%s: truncated stat line", op)
	}
	utime, err1 := strconv.ParseInt(rest[11], 10, 64)
	stime, err2 := strconv.ParseInt(rest[12], 10, 64)
	rss, err3 := strconv.ParseInt(rest[21], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, "", 0, 0, errdefs.Errorf(errdefs.KindParse, "%s: bad counters for pid %d", op, pid)
	}
	return pid, comm, utime + stime, rss, nil
}
