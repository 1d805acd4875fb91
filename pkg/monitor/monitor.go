package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/baluhost/baluhost/pkg/config"
	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/events"
	"github.com/baluhost/baluhost/pkg/host"
	"github.com/baluhost/baluhost/pkg/log"
	"github.com/baluhost/baluhost/pkg/sampler"
	"github.com/baluhost/baluhost/pkg/store"
	"github.com/baluhost/baluhost/pkg/types"
)

// smartInterval is the background SMART poll cadence. The smart-scan
// scheduler job can trigger scans between ticks.
const smartInterval = time.Hour

// retentionEvery throttles retention passes so a 1 s sampler does not
// issue a DELETE per tick.
const retentionEvery = time.Minute

// Monitor owns all samplers and is the single writer of every sample
// table.
type Monitor struct {
	store  store.Store
	logger zerolog.Logger

	disk    *sampler.DiskSampler
	cpu     *sampler.CPUSampler
	memory  *sampler.MemorySampler
	network *sampler.NetworkSampler
	process *sampler.ProcessSampler
	smart   *sampler.SmartSampler

	retention map[string]time.Duration

	mu            sync.Mutex
	nextRetention map[string]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the samplers to their persistence sinks. Nothing runs until
// Start.
func New(cfg *config.Config, st store.Store, runner host.Runner, broker *events.Broker) *Monitor {
	m := &Monitor{
		store:         st,
		logger:        log.WithComponent("monitor"),
		retention:     cfg.Retention.ByTable(),
		nextRetention: make(map[string]time.Time),
	}

	hist := cfg.Sampler.HistorySize
	m.disk = sampler.NewDiskSampler(runner, broker, cfg.DiskInterval(), hist, m.persistDisk)
	m.cpu = sampler.NewCPUSampler(runner, broker, cfg.CPUInterval(), hist, m.persistCPU)
	m.memory = sampler.NewMemorySampler(runner, broker, cfg.CPUInterval(), hist, m.persistMemory)
	m.network = sampler.NewNetworkSampler(runner, broker, cfg.CPUInterval(), hist, m.persistNetwork)
	m.process = sampler.NewProcessSampler(runner, broker, cfg.CPUInterval(), hist, cfg.Sampler.ProcessTopN, m.persistProcess)
	m.smart = sampler.NewSmartSampler(runner, broker, smartInterval, m.persistSmart)
	return m
}

// Start launches one goroutine per sampler.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	for _, run := range []func(context.Context){
		m.disk.Run, m.cpu.Run, m.memory.Run, m.network.Run, m.process.Run, m.smart.Run,
	} {
		m.wg.Add(1)
		go func(run func(context.Context)) {
			defer m.wg.Done()
			run(ctx)
		}(run)
	}
	m.logger.Info().Msg("monitoring started")
}

// Stop cancels the samplers and waits for in-flight ticks to finish, which
// drains any pending sink write.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.logger.Info().Msg("monitoring stopped")
}

// ScanSmart runs an immediate SMART pass; the smart-scan job calls this.
func (m *Monitor) ScanSmart(ctx context.Context) ([]types.SmartRecord, error) {
	return m.smart.Scan(ctx)
}

// CurrentCPU returns the latest CPU sample.
func (m *Monitor) CurrentCPU() (types.CPUSample, error) {
	sample, ok := m.cpu.Current()
	if !ok {
		return types.CPUSample{}, errdefs.Errorf(errdefs.KindNotAvailable, "monitor.CurrentCPU: no sample yet")
	}
	return sample, nil
}

// CurrentMemory returns the latest memory sample.
func (m *Monitor) CurrentMemory() (types.MemorySample, error) {
	sample, ok := m.memory.Current()
	if !ok {
		return types.MemorySample{}, errdefs.Errorf(errdefs.KindNotAvailable, "monitor.CurrentMemory: no sample yet")
	}
	return sample, nil
}

// CurrentNetwork returns the latest sample per interface.
func (m *Monitor) CurrentNetwork() []types.NetworkSample {
	return m.network.Current()
}

// CurrentDisks returns the latest sample per device.
func (m *Monitor) CurrentDisks() []types.DiskSample {
	return m.disk.Current()
}

// CurrentProcesses returns the most recent top-N process table.
func (m *Monitor) CurrentProcesses() []types.ProcessSample {
	return m.process.Current()
}

// CurrentSmart returns the latest SMART record for a device, falling back
// to the store across restarts.
func (m *Monitor) CurrentSmart(ctx context.Context, device string) (*types.SmartRecord, error) {
	if rec, ok := m.smart.Current(device); ok {
		return &rec, nil
	}
	return m.store.LatestSmart(ctx, device)
}

// CurrentSmartAll returns the latest in-memory SMART record per device.
// Devices never scanned this process are absent.
func (m *Monitor) CurrentSmartAll() []types.SmartRecord {
	return m.smart.Latest()
}

// HistoryCPU serves from the ring when it covers the range, else from the
// store.
func (m *Monitor) HistoryCPU(ctx context.Context, r types.Range) ([]types.CPUSample, error) {
	if ringCovers(m.cpu.Oldest(), r) {
		return m.cpu.History(r), nil
	}
	return m.store.CPUSamples(ctx, r)
}

// HistoryDiskIO serves one device's I/O history.
func (m *Monitor) HistoryDiskIO(ctx context.Context, device string, r types.Range) ([]types.DiskSample, error) {
	if ringCovers(m.disk.Oldest(), r) {
		return m.disk.History(device, r), nil
	}
	return m.store.DiskSamples(ctx, device, r)
}

// HistoryMemory serves memory history.
func (m *Monitor) HistoryMemory(ctx context.Context, r types.Range) ([]types.MemorySample, error) {
	if ringCovers(m.memory.Oldest(), r) {
		return m.memory.History(r), nil
	}
	return m.store.MemorySamples(ctx, r)
}

// HistoryNetwork serves network history; empty iface means all interfaces.
func (m *Monitor) HistoryNetwork(ctx context.Context, iface string, r types.Range) ([]types.NetworkSample, error) {
	if ringCovers(m.network.Oldest(), r) {
		samples := m.network.History(r)
		if iface == "" {
			return samples, nil
		}
		var out []types.NetworkSample
		for _, s := range samples {
			if s.Interface == iface {
				out = append(out, s)
			}
		}
		return out, nil
	}
	return m.store.NetworkSamples(ctx, iface, r)
}

// HistorySmart serves SMART history from the store; the sampler keeps no
// ring for it.
func (m *Monitor) HistorySmart(ctx context.Context, device string, r types.Range) ([]types.SmartRecord, error) {
	return m.store.SmartHistory(ctx, device, r)
}

// ringCovers reports whether the ring reaches back far enough to answer
// the range from memory alone.
func ringCovers(oldest time.Time, r types.Range) bool {
	return !oldest.IsZero() && !oldest.After(r.From)
}

func (m *Monitor) persistDisk(ctx context.Context, samples []types.DiskSample) {
	if err := m.store.InsertDiskSamples(ctx, samples); err != nil {
		m.logger.Error().Err(err).Msg("failed to persist disk samples")
		return
	}
	m.applyRetention(ctx, "disk_io_samples")
}

func (m *Monitor) persistCPU(ctx context.Context, sample types.CPUSample) {
	if err := m.store.InsertCPUSample(ctx, sample); err != nil {
		m.logger.Error().Err(err).Msg("failed to persist cpu sample")
		return
	}
	m.applyRetention(ctx, "cpu_samples")
}

func (m *Monitor) persistMemory(ctx context.Context, sample types.MemorySample) {
	if err := m.store.InsertMemorySample(ctx, sample); err != nil {
		m.logger.Error().Err(err).Msg("failed to persist memory sample")
		return
	}
	m.applyRetention(ctx, "memory_samples")
}

func (m *Monitor) persistNetwork(ctx context.Context, samples []types.NetworkSample) {
	if err := m.store.InsertNetworkSamples(ctx, samples); err != nil {
		m.logger.Error().Err(err).Msg("failed to persist network samples")
		return
	}
	m.applyRetention(ctx, "network_samples")
}

func (m *Monitor) persistProcess(ctx context.Context, samples []types.ProcessSample) {
	if err := m.store.InsertProcessSamples(ctx, samples); err != nil {
		m.logger.Error().Err(err).Msg("failed to persist process samples")
		return
	}
	m.applyRetention(ctx, "process_samples")
}

func (m *Monitor) persistSmart(ctx context.Context, record types.SmartRecord) {
	if err := m.store.InsertSmartRecord(ctx, record); err != nil {
		m.logger.Error().Err(err).Msg("failed to persist smart record")
		return
	}
	m.applyRetention(ctx, "smart_records")
}

// applyRetention deletes rows past the table's window, at most once per
// retentionEvery, in the same goroutine that writes the table.
func (m *Monitor) applyRetention(ctx context.Context, table string) {
	window, ok := m.retention[table]
	if !ok {
		return
	}

	now := time.Now()
	m.mu.Lock()
	if next, ok := m.nextRetention[table]; ok && now.Before(next) {
		m.mu.Unlock()
		return
	}
	m.nextRetention[table] = now.Add(retentionEvery)
	m.mu.Unlock()

	n, err := m.store.DeleteSamplesBefore(ctx, table, now.Add(-window).UnixMilli())
	if err != nil {
		m.logger.Error().Err(err).Str("table", table).Msg("retention pass failed")
		return
	}
	if n > 0 {
		m.logger.Debug().Str("table", table).Int64("rows", n).Msg("retention applied")
	}
}
