package sampler

import (
	"context"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/baluhost/baluhost/pkg/events"
	"github.com/baluhost/baluhost/pkg/host"
	"github.com/baluhost/baluhost/pkg/log"
	"github.com/baluhost/baluhost/pkg/metrics"
)

// DefaultFailureThreshold is how many consecutive whole-tick failures a
// sampler tolerates before it reports itself degraded on the bus.
const DefaultFailureThreshold = 5

// loop is the shared tick driver. Per-tick errors are logged and counted;
// the sampler keeps running. Crossing the failure threshold publishes a
// degraded event once, and the first subsequent success publishes the
// recovery.
type loop struct {
	name      string
	interval  time.Duration
	threshold int
	broker    *events.Broker
	logger    zerolog.Logger

	consecutive int
	degraded    bool
}

func newLoop(name string, interval time.Duration, broker *events.Broker) *loop {
	return &loop{
		name:      name,
		interval:  interval,
		threshold: DefaultFailureThreshold,
		broker:    broker,
		logger:    log.WithComponent("sampler").With().Str("sampler", name).Logger(),
	}
}

// run ticks until the context is cancelled.
func (l *loop) run(ctx context.Context, tick func(context.Context) error) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.once(ctx, tick)
		}
	}
}

// once executes a single tick and tracks the failure streak.
func (l *loop) once(ctx context.Context, tick func(context.Context) error) {
	timer := metrics.NewTimer()
	err := tick(ctx)
	timer.ObserveDurationVec(metrics.SamplerTickDuration, l.name)
	metrics.SamplerTicks.WithLabelValues(l.name).Inc()

	if err != nil {
		metrics.SamplerErrors.WithLabelValues(l.name).Inc()
		l.consecutive++
		l.logger.Warn().Err(err).Int("consecutive", l.consecutive).Msg("sampler tick failed")
		if l.consecutive >= l.threshold && !l.degraded {
			l.degraded = true
			l.publish(events.EventSamplerDegraded)
		}
		return
	}

	if l.degraded {
		l.degraded = false
		l.publish(events.EventSamplerRecovered)
	}
	l.consecutive = 0
}

func (l *loop) publish(evType events.EventType) {
	if l.broker != nil {
		l.broker.Publish(events.TopicSamplerHealth, evType, map[string]string{"sampler": l.name})
	}
}

// mdPartitionRe matches partitions of md devices (md0p1), which shadow
// their parent array's counters.
var mdPartitionRe = regexp.MustCompile(`^md\d+p\d+$`)

// sampleableDevice filters the /sys/block namespace down to devices worth
// sampling: physical disks and whole md arrays, no pseudo devices.
func sampleableDevice(name string) bool {
	for _, prefix := range []string{"loop", "ram", "zram", "dm-", "sr", "fd"} {
		if strings.HasPrefix(name, prefix) {
			return false
		}
	}
	return !mdPartitionRe.MatchString(name)
}

// blockDevices enumerates sampleable device names, sorted.
func blockDevices(runner host.Runner) ([]string, error) {
	entries, err := runner.Glob(host.SysBlockGlob)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if name := path.Base(entry); sampleableDevice(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}
