package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baluhost/baluhost/pkg/config"
	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/host"
	"github.com/baluhost/baluhost/pkg/store"
	"github.com/baluhost/baluhost/pkg/types"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Mode = config.ModeDev
	return cfg
}

func newMonitorForTest(t *testing.T, cfg *config.Config, runner host.Runner) (*Monitor, store.Store) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))

	return New(cfg, st, runner, nil), st
}

func TestCurrentBeforeFirstSample(t *testing.T) {
	m, _ := newMonitorForTest(t, testConfig(), host.NewFakeRunner())

	_, err := m.CurrentCPU()
	assert.Equal(t, errdefs.KindNotAvailable, errdefs.KindOf(err))
	_, err = m.CurrentMemory()
	assert.Equal(t, errdefs.KindNotAvailable, errdefs.KindOf(err))
	assert.Empty(t, m.CurrentDisks())
	assert.Empty(t, m.CurrentNetwork())
}

func TestHistoryFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	m, _ := newMonitorForTest(t, testConfig(), host.NewFakeRunner())

	sample := types.CPUSample{
		TMillis:      time.Now().Add(-time.Minute).UnixMilli(),
		TotalPct:     42.5,
		PerThreadPct: []float64{40, 45},
	}
	m.persistCPU(ctx, sample)

	// Ring is empty (the sink does not feed it), so the range is served
	// from persistence.
	r := types.Range{From: time.Now().Add(-time.Hour), To: time.Now()}
	got, err := m.HistoryCPU(ctx, r)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 42.5, got[0].TotalPct, 1e-9)
	assert.Equal(t, []float64{40, 45}, got[0].PerThreadPct)
}

func TestRetentionRunsAfterWrite(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Retention.MemorySeconds = 60
	m, st := newMonitorForTest(t, cfg, host.NewFakeRunner())

	old := types.MemorySample{TMillis: time.Now().Add(-time.Hour).UnixMilli(), TotalBytes: 1}
	require.NoError(t, st.InsertMemorySample(ctx, old))

	recent := types.MemorySample{TMillis: time.Now().UnixMilli(), TotalBytes: 2}
	m.persistMemory(ctx, recent)

	r := types.Range{From: time.Now().Add(-2 * time.Hour), To: time.Now()}
	got, err := st.MemorySamples(ctx, r)
	require.NoError(t, err)
	require.Len(t, got, 1, "the hour-old row is past the 60 s window")
	assert.Equal(t, int64(2), got[0].TotalBytes)
}

func TestRetentionThrottled(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Retention.MemorySeconds = 60
	m, st := newMonitorForTest(t, cfg, host.NewFakeRunner())

	// First write arms the throttle.
	m.persistMemory(ctx, types.MemorySample{TMillis: time.Now().UnixMilli()})

	// An old row inserted afterwards survives the next throttled write.
	old := types.MemorySample{TMillis: time.Now().Add(-time.Hour).UnixMilli(), TotalBytes: 1}
	require.NoError(t, st.InsertMemorySample(ctx, old))
	m.persistMemory(ctx, types.MemorySample{TMillis: time.Now().UnixMilli()})

	r := types.Range{From: time.Now().Add(-2 * time.Hour), To: time.Now()}
	got, err := st.MemorySamples(ctx, r)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestSmartScanPersistsAndSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	runner := host.NewFakeRunner()
	runner.SetGlob(host.SysBlockGlob, []string{"/sys/block/sda"})
	runner.SetCommand(host.Result{Stdout: `{
		"smart_status": {"passed": true},
		"temperature": {"current": 34},
		"power_on_time": {"hours": 100},
		"ata_smart_attributes": {"table": [{"id": 5, "raw": {"value": 0}}]}
	}`}, nil, host.SmartctlBin, "-H", "-A", "-j", "/dev/sda")

	m, st := newMonitorForTest(t, testConfig(), runner)

	records, err := m.ScanSmart(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec, err := m.CurrentSmart(ctx, "sda")
	require.NoError(t, err)
	assert.Equal(t, types.SmartPassed, rec.Health)
	assert.Equal(t, 34, rec.TempC)

	// A fresh monitor on the same store has no in-memory record and must
	// fall back to persistence.
	fresh := New(testConfig(), st, runner, nil)
	rec, err = fresh.CurrentSmart(ctx, "sda")
	require.NoError(t, err)
	assert.Equal(t, types.SmartPassed, rec.Health)
	assert.Equal(t, int64(100), rec.PowerOnHours)
}

func TestCurrentSmartUnknownDevice(t *testing.T) {
	ctx := context.Background()
	m, _ := newMonitorForTest(t, testConfig(), host.NewFakeRunner())

	_, err := m.CurrentSmart(ctx, "sdz")
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
}

func TestRingCovers(t *testing.T) {
	now := time.Now()
	r := types.Range{From: now.Add(-time.Minute), To: now}

	assert.False(t, ringCovers(time.Time{}, r), "empty ring covers nothing")
	assert.True(t, ringCovers(now.Add(-2*time.Minute), r))
	assert.False(t, ringCovers(now.Add(-30*time.Second), r))
}
