package sampler

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/baluhost/baluhost/pkg/events"
	"github.com/baluhost/baluhost/pkg/host"
	"github.com/baluhost/baluhost/pkg/types"
)

// SMART attribute IDs with dedicated model fields.
const (
	attrReallocatedSectors = 5
	attrPendingSectors     = 197
)

// SmartSink receives one SMART record per scanned device.
type SmartSink func(ctx context.Context, record types.SmartRecord)

// SmartSampler polls smartctl per device. Output that cannot be parsed
// degrades to a record with unknown health instead of an error; a health
// transition to failed raises one bus event per transition.
type SmartSampler struct {
	runner host.Runner
	broker *events.Broker
	sink   SmartSink
	loop   *loop

	mu         sync.Mutex
	lastHealth map[string]types.SmartHealth
	latest     map[string]types.SmartRecord
}

// NewSmartSampler builds a SMART sampler. sink may be nil.
func NewSmartSampler(runner host.Runner, broker *events.Broker, interval time.Duration, sink SmartSink) *SmartSampler {
	return &SmartSampler{
		runner:     runner,
		broker:     broker,
		sink:       sink,
		loop:       newLoop("smart", interval, broker),
		lastHealth: make(map[string]types.SmartHealth),
		latest:     make(map[string]types.SmartRecord),
	}
}

// Run ticks until ctx is cancelled. The scheduler's smart-scan job may
// also call Scan directly between ticks.
func (s *SmartSampler) Run(ctx context.Context) {
	s.loop.run(ctx, func(ctx context.Context) error {
		_, err := s.Scan(ctx)
		return err
	})
}

// Current returns the latest record for one device.
func (s *SmartSampler) Current(device string) (types.SmartRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.latest[device]
	return rec, ok
}

// Latest returns the most recent record per device, sorted by name.
func (s *SmartSampler) Latest() []types.SmartRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.SmartRecord, 0, len(s.latest))
	for _, rec := range s.latest {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceName < out[j].DeviceName })
	return out
}

// Scan queries every sampleable device once and returns the records.
func (s *SmartSampler) Scan(ctx context.Context) ([]types.SmartRecord, error) {
	devices, err := blockDevices(s.runner)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]types.SmartRecord, 0, len(devices))
	for _, dev := range devices {
		rec := s.scanDevice(ctx, dev, now)
		s.observe(rec)
		out = append(out, rec)
		if s.sink != nil {
			s.sink(ctx, rec)
		}
	}
	return out, nil
}

// scanDevice runs smartctl for one device. Every failure path returns an
// unknown-health record; SMART being unreadable is a data point, not an
// error.
func (s *SmartSampler) scanDevice(ctx context.Context, device string, now time.Time) types.SmartRecord {
	rec := types.SmartRecord{
		DeviceName: device,
		TMillis:    now.UnixMilli(),
		Health:     types.SmartUnknown,
		Attributes: map[int]int64{},
	}

	res, err := host.SpawnSmartctl(ctx, s.runner, "-H", "-A", "-j", "/dev/"+device)
	if err != nil || res.Stdout == "" {
		s.loop.logger.Debug().Err(err).Str("device", device).Msg("smartctl unavailable")
		return rec
	}

	// smartctl sets exit bits even on successful reads of failing drives;
	// the JSON body is the authority.
	var out smartctlOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		s.loop.logger.Debug().Err(err).Str("device", device).Msg("smartctl output unparseable")
		return rec
	}

	if out.SmartStatus == nil {
		return rec
	}
	if out.SmartStatus.Passed {
		rec.Health = types.SmartPassed
	} else {
		rec.Health = types.SmartFailed
	}
	rec.TempC = out.Temperature.Current
	rec.PowerOnHours = out.PowerOnTime.Hours

	for _, attr := range out.AtaSmartAttributes.Table {
		rec.Attributes[attr.ID] = attr.Raw.Value
		switch attr.ID {
		case attrReallocatedSectors:
			rec.ReallocatedSectors = attr.Raw.Value
		case attrPendingSectors:
			rec.PendingSectors = attr.Raw.Value
		}
	}

	// NVMe drives report through the health log instead of ATA attributes.
	if nvme := out.NVMeHealthLog; nvme != nil {
		if rec.TempC == 0 {
			rec.TempC = nvme.Temperature
		}
		if rec.PowerOnHours == 0 {
			rec.PowerOnHours = nvme.PowerOnHours
		}
		rec.ReallocatedSectors = nvme.MediaErrors
	}
	return rec
}

// observe records the latest state and publishes failing/recovered
// transitions exactly once each.
func (s *SmartSampler) observe(rec types.SmartRecord) {
	s.mu.Lock()
	last := s.lastHealth[rec.DeviceName]
	s.lastHealth[rec.DeviceName] = rec.Health
	s.latest[rec.DeviceName] = rec
	s.mu.Unlock()

	if s.broker == nil {
		return
	}
	switch {
	case rec.Health == types.SmartFailed && last != types.SmartFailed:
		s.broker.Publish(events.TopicDiskSmart, events.EventSmartFailing, map[string]string{"device": rec.DeviceName})
	case rec.Health == types.SmartPassed && last == types.SmartFailed:
		s.broker.Publish(events.TopicDiskSmart, events.EventSmartRecovered, map[string]string{"device": rec.DeviceName})
	}
}

// smartctlOutput is the subset of `smartctl -H -A -j` this sampler reads.
type smartctlOutput struct {
	SmartStatus *struct {
		Passed bool `json:"passed"`
	} `json:"smart_status"`
	Temperature struct {
		Current int `json:"current"`
	} `json:"temperature"`
	PowerOnTime struct {
		Hours int64 `json:"hours"`
	} `json:"power_on_time"`
	AtaSmartAttributes struct {
		Table []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
			Raw  struct {
				Value int64 `json:"value"`
			} `json:"raw"`
		} `json:"table"`
	} `json:"ata_smart_attributes"`
	NVMeHealthLog *struct {
		Temperature  int   `json:"temperature"`
		PowerOnHours int64 `json:"power_on_hours"`
		MediaErrors  int64 `json:"media_errors"`
	} `json:"nvme_smart_health_information_log"`
}
