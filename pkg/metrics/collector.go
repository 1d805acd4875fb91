package metrics

import (
	"context"
	"time"

	"github.com/baluhost/baluhost/pkg/types"
)

const collectInterval = 15 * time.Second

// MountpointSource yields the current mountpoint set with usage filled in.
// Defined as a func to keep this package free of component imports.
type MountpointSource func(ctx context.Context) ([]*types.Mountpoint, error)

// Collector periodically refreshes the mountpoint capacity and usage
// gauges. Counters and the RAID gauges are updated in-place by their
// owning components; only usage needs polling.
type Collector struct {
	source MountpointSource
	stopCh chan struct{}
	done   chan struct{}
}

// NewCollector creates a collector over the given mountpoint source.
func NewCollector(source MountpointSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start begins collecting until Stop is called or ctx is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(collectInterval)
	go func() {
		defer close(c.done)
		defer ticker.Stop()

		// Collect immediately on start
		c.collect(ctx)

		for {
			select {
			case <-ticker.C:
				c.collect(ctx)
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector and waits for the in-flight pass.
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.done
}

func (c *Collector) collect(ctx context.Context) {
	mounts, err := c.source(ctx)
	if err != nil {
		return
	}

	MountpointCapacityBytes.Reset()
	MountpointUsedBytes.Reset()
	for _, m := range mounts {
		MountpointCapacityBytes.WithLabelValues(m.ID, string(m.Kind)).Set(float64(m.CapacityBytes))
		MountpointUsedBytes.WithLabelValues(m.ID, string(m.Kind)).Set(float64(m.UsedBytes))
	}
}
