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

// NetworkSink receives one tick's worth of network samples.
type NetworkSink func(ctx context.Context, samples []types.NetworkSample)

type netCounters struct {
	rxBytes   int64
	rxPackets int64
	txBytes   int64
	txPackets int64
}

type netBaseline struct {
	counters netCounters
	at       time.Time
}

// NetworkSampler turns /proc/net/dev cumulative counters into per-second
// rates per interface. The loopback interface is excluded.
type NetworkSampler struct {
	runner host.Runner
	ring   *Ring[types.NetworkSample]
	sink   NetworkSink
	loop   *loop

	prev map[string]netBaseline
}

// NewNetworkSampler builds a network sampler. sink may be nil.
func NewNetworkSampler(runner host.Runner, broker *events.Broker, interval time.Duration, historySize int, sink NetworkSink) *NetworkSampler {
	return &NetworkSampler{
		runner: runner,
		ring:   NewRing[types.NetworkSample](historySize),
		sink:   sink,
		loop:   newLoop("network", interval, broker),
		prev:   make(map[string]netBaseline),
	}
}

// Run ticks until ctx is cancelled.
func (n *NetworkSampler) Run(ctx context.Context) {
	n.loop.run(ctx, func(ctx context.Context) error {
		return n.tick(ctx, time.Now())
	})
}

// Current returns the latest sample per interface.
func (n *NetworkSampler) Current() []types.NetworkSample {
	latest := make(map[string]types.NetworkSample)
	for _, s := range n.ring.Snapshot() {
		latest[s.Interface] = s
	}
	out := make([]types.NetworkSample, 0, len(latest))
	for _, s := range latest {
		out = append(out, s)
	}
	return out
}

// History returns ring samples within the range.
func (n *NetworkSampler) History(r types.Range) []types.NetworkSample {
	return n.ring.Filter(func(s types.NetworkSample) bool {
		return r.Contains(time.UnixMilli(s.TMillis))
	})
}

// Oldest returns the timestamp of the oldest ring entry, zero when empty.
func (n *NetworkSampler) Oldest() time.Time {
	snap := n.ring.Snapshot()
	if len(snap) == 0 {
		return time.Time{}
	}
	return time.UnixMilli(snap[0].TMillis)
}

func (n *NetworkSampler) tick(ctx context.Context, now time.Time) error {
	data, err := n.runner.ReadFile(host.ProcNetDev)
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindIO, "sampler.network")
	}
	cur, err := parseNetDev(data)
	if err != nil {
		return err
	}

	var out []types.NetworkSample
	for iface, counters := range cur {
		prev, ok := n.prev[iface]
		n.prev[iface] = netBaseline{counters: counters, at: now}
		if !ok {
			continue
		}
		dt := now.Sub(prev.at).Seconds()
		if dt <= 0 || netCounterWrapped(prev.counters, counters) {
			continue
		}

		out = append(out, types.NetworkSample{
			TMillis:         now.UnixMilli(),
			Interface:       iface,
			RxBytesPerSec:   perSecond(counters.rxBytes-prev.counters.rxBytes, dt),
			TxBytesPerSec:   perSecond(counters.txBytes-prev.counters.txBytes, dt),
			RxPacketsPerSec: perSecond(counters.rxPackets-prev.counters.rxPackets, dt),
			TxPacketsPerSec: perSecond(counters.txPackets-prev.counters.txPackets, dt),
		})
	}

	for iface := range n.prev {
		if _, ok := cur[iface]; !ok {
			delete(n.prev, iface)
		}
	}

	for _, s := range out {
		n.ring.Append(s)
	}
	if len(out) > 0 && n.sink != nil {
		n.sink(ctx, out)
	}
	return nil
}

func netCounterWrapped(prev, cur netCounters) bool {
	return cur.rxBytes < prev.rxBytes || cur.txBytes < prev.txBytes ||
		cur.rxPackets < prev.rxPackets || cur.txPackets < prev.txPackets
}

// parseNetDev parses /proc/net/dev. Layout per line after the two header
// lines: iface: rx_bytes rx_packets errs drop fifo frame compressed
// multicast tx_bytes tx_packets ...
func parseNetDev(data []byte) (map[string]netCounters, error) {
	const op = "sampler.parseNetDev"

	out := make(map[string]netCounters)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		name, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		iface := strings.TrimSpace(name)
		if iface == "lo" {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 10 {
			continue
		}

		vals := make([]int64, 4)
		for i, idx := range []int{0, 1, 8, 9} {
			v, err := strconv.ParseInt(fields[idx], 10, 64)
			if err != nil {
				return nil, errdefs.Errorf(errdefs.KindParse, "%s: bad counter %q for %s", op, fields[idx], iface)
			}
			vals[i] = v
		}
		out[iface] = netCounters{
			rxBytes:   vals[0],
			rxPackets: vals[1],
			txBytes:   vals[2],
			txPackets: vals[3],
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindIO, op)
	}
	return out, nil
}
