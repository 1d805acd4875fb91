package store

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/metrics"
	"github.com/baluhost/baluhost/pkg/types"
)

// sampleTables is the set of table names retention may target. Anything
// else is an invalid argument, not a SQL string to interpolate.
var sampleTables = map[string]bool{
	"cpu_samples":     true,
	"memory_samples":  true,
	"network_samples": true,
	"disk_io_samples": true,
	"process_samples": true,
	"smart_records":   true,
}

// InsertDiskSamples appends one tick's disk samples in a single transaction.
func (s *SQLiteStore) InsertDiskSamples(ctx context.Context, samples []types.DiskSample) error {
	if len(samples) == 0 {
		return nil
	}
	const op = "store.InsertDiskSamples"

	err := s.withTx(ctx, op, func(tx *sqlx.Tx) error {
		for _, d := range samples {
			if _, err := tx.ExecContext(ctx, `INSERT INTO disk_io_samples
				(t_millis, device_name, read_bytes_per_sec, write_bytes_per_sec, read_ops_per_sec, write_ops_per_sec)
				VALUES (?, ?, ?, ?, ?, ?)`,
				d.TMillis, d.DeviceName, d.ReadBytesPerSec, d.WriteBytesPerSec,
				d.ReadOpsPerSec, d.WriteOpsPerSec); err != nil {
				return mapSQLErr(op, err)
			}
		}
		return nil
	})
	if err == nil {
		metrics.SamplesPersisted.WithLabelValues("disk_io_samples").Add(float64(len(samples)))
	}
	return err
}

// InsertCPUSample appends one CPU observation. The per-thread vector is
// stored as JSON.
func (s *SQLiteStore) InsertCPUSample(ctx context.Context, sample types.CPUSample) error {
	const op = "store.InsertCPUSample"

	threads, err := json.Marshal(sample.PerThreadPct)
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindBug, op)
	}
	st, err := s.stmt(ctx, `INSERT INTO cpu_samples (t_millis, total_pct, per_thread_pct, freq_mhz, temp_c)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	if _, err := st.ExecContext(ctx, sample.TMillis, sample.TotalPct, string(threads), sample.FreqMHz, sample.TempC); err != nil {
		return mapSQLErr(op, err)
	}
	metrics.SamplesPersisted.WithLabelValues("cpu_samples").Inc()
	return nil
}

// InsertMemorySample appends one memory observation.
func (s *SQLiteStore) InsertMemorySample(ctx context.Context, sample types.MemorySample) error {
	st, err := s.stmt(ctx, `INSERT INTO memory_samples
		(t_millis, total_bytes, used_bytes, available_bytes, cached_bytes, swap_total_bytes, swap_used_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	if _, err := st.ExecContext(ctx, sample.TMillis, sample.TotalBytes, sample.UsedBytes,
		sample.AvailableBytes, sample.CachedBytes, sample.SwapTotalBytes, sample.SwapUsedBytes); err != nil {
		return mapSQLErr("store.InsertMemorySample", err)
	}
	metrics.SamplesPersisted.WithLabelValues("memory_samples").Inc()
	return nil
}

// InsertNetworkSamples appends one tick's per-interface samples.
func (s *SQLiteStore) InsertNetworkSamples(ctx context.Context, samples []types.NetworkSample) error {
	if len(samples) == 0 {
		return nil
	}
	const op = "store.InsertNetworkSamples"

	err := s.withTx(ctx, op, func(tx *sqlx.Tx) error {
		for _, n := range samples {
			if _, err := tx.ExecContext(ctx, `INSERT INTO network_samples
				(t_millis, interface, rx_bytes_per_sec, tx_bytes_per_sec, rx_packets_per_sec, tx_packets_per_sec)
				VALUES (?, ?, ?, ?, ?, ?)`,
				n.TMillis, n.Interface, n.RxBytesPerSec, n.TxBytesPerSec,
				n.RxPacketsPerSec, n.TxPacketsPerSec); err != nil {
				return mapSQLErr(op, err)
			}
		}
		return nil
	})
	if err == nil {
		metrics.SamplesPersisted.WithLabelValues("network_samples").Add(float64(len(samples)))
	}
	return err
}

// InsertProcessSamples appends one tick's top-N process rows.
func (s *SQLiteStore) InsertProcessSamples(ctx context.Context, samples []types.ProcessSample) error {
	if len(samples) == 0 {
		return nil
	}
	const op = "store.InsertProcessSamples"

	err := s.withTx(ctx, op, func(tx *sqlx.Tx) error {
		for _, p := range samples {
			if _, err := tx.ExecContext(ctx, `INSERT INTO process_samples
				(t_millis, pid, command, cpu_pct, memory_bytes)
				VALUES (?, ?, ?, ?, ?)`,
				p.TMillis, p.PID, p.Command, p.CPUPct, p.MemoryBytes); err != nil {
				return mapSQLErr(op, err)
			}
		}
		return nil
	})
	if err == nil {
		metrics.SamplesPersisted.WithLabelValues("process_samples").Add(float64(len(samples)))
	}
	return err
}

// InsertSmartRecord appends one SMART observation. Attributes are stored as
// JSON keyed by attribute ID.
func (s *SQLiteStore) InsertSmartRecord(ctx context.Context, record types.SmartRecord) error {
	const op = "store.InsertSmartRecord"

	attrs, err := json.Marshal(record.Attributes)
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindBug, op)
	}
	st, err := s.stmt(ctx, `INSERT INTO smart_records
		(t_millis, device_name, health, temp_c, power_on_hours, reallocated_sectors, pending_sectors, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	if _, err := st.ExecContext(ctx, record.TMillis, record.DeviceName, record.Health, record.TempC,
		record.PowerOnHours, record.ReallocatedSectors, record.PendingSectors, string(attrs)); err != nil {
		return mapSQLErr(op, err)
	}
	metrics.SamplesPersisted.WithLabelValues("smart_records").Inc()
	return nil
}

// DiskSamples returns one device's samples inside the range, oldest first.
func (s *SQLiteStore) DiskSamples(ctx context.Context, device string, r types.Range) ([]types.DiskSample, error) {
	var out []types.DiskSample
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM disk_io_samples
		WHERE device_name = ? AND t_millis BETWEEN ? AND ? ORDER BY t_millis`,
		device, r.From.UnixMilli(), r.To.UnixMilli())
	if err != nil {
		return nil, mapSQLErr("store.DiskSamples", err)
	}
	return out, nil
}

type cpuRow struct {
	TMillis      int64   `db:"t_millis"`
	TotalPct     float64 `db:"total_pct"`
	PerThreadPct string  `db:"per_thread_pct"`
	FreqMHz      int     `db:"freq_mhz"`
	TempC        float64 `db:"temp_c"`
}

// CPUSamples returns CPU samples inside the range, oldest first.
func (s *SQLiteStore) CPUSamples(ctx context.Context, r types.Range) ([]types.CPUSample, error) {
	const op = "store.CPUSamples"

	var rows []cpuRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM cpu_samples
		WHERE t_millis BETWEEN ? AND ? ORDER BY t_millis`,
		r.From.UnixMilli(), r.To.UnixMilli())
	if err != nil {
		return nil, mapSQLErr(op, err)
	}

	out := make([]types.CPUSample, 0, len(rows))
	for _, row := range rows {
		sample := types.CPUSample{
			TMillis:  row.TMillis,
			TotalPct: row.TotalPct,
			FreqMHz:  row.FreqMHz,
			TempC:    row.TempC,
		}
		if err := json.Unmarshal([]byte(row.PerThreadPct), &sample.PerThreadPct); err != nil {
			return nil, errdefs.Wrap(err, errdefs.KindCorrupted, op)
		}
		out = append(out, sample)
	}
	return out, nil
}

// MemorySamples returns memory samples inside the range, oldest first.
func (s *SQLiteStore) MemorySamples(ctx context.Context, r types.Range) ([]types.MemorySample, error) {
	var out []types.MemorySample
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM memory_samples
		WHERE t_millis BETWEEN ? AND ? ORDER BY t_millis`,
		r.From.UnixMilli(), r.To.UnixMilli())
	if err != nil {
		return nil, mapSQLErr("store.MemorySamples", err)
	}
	return out, nil
}

// NetworkSamples returns one interface's samples inside the range, oldest
// first. Empty iface returns all interfaces.
func (s *SQLiteStore) NetworkSamples(ctx context.Context, iface string, r types.Range) ([]types.NetworkSample, error) {
	var out []types.NetworkSample
	var err error
	if iface == "" {
		err = s.db.SelectContext(ctx, &out, `SELECT * FROM network_samples
			WHERE t_millis BETWEEN ? AND ? ORDER BY t_millis, interface`,
			r.From.UnixMilli(), r.To.UnixMilli())
	} else {
		err = s.db.SelectContext(ctx, &out, `SELECT * FROM network_samples
			WHERE interface = ? AND t_millis BETWEEN ? AND ? ORDER BY t_millis`,
			iface, r.From.UnixMilli(), r.To.UnixMilli())
	}
	if err != nil {
		return nil, mapSQLErr("store.NetworkSamples", err)
	}
	return out, nil
}

// ProcessSamples returns process table rows inside the range.
func (s *SQLiteStore) ProcessSamples(ctx context.Context, r types.Range) ([]types.ProcessSample, error) {
	var out []types.ProcessSample
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM process_samples
		WHERE t_millis BETWEEN ? AND ? ORDER BY t_millis, cpu_pct DESC`,
		r.From.UnixMilli(), r.To.UnixMilli())
	if err != nil {
		return nil, mapSQLErr("store.ProcessSamples", err)
	}
	return out, nil
}

type smartRow struct {
	TMillis            int64  `db:"t_millis"`
	DeviceName         string `db:"device_name"`
	Health             string `db:"health"`
	TempC              int    `db:"temp_c"`
	PowerOnHours       int64  `db:"power_on_hours"`
	ReallocatedSectors int64  `db:"reallocated_sectors"`
	PendingSectors     int64  `db:"pending_sectors"`
	Attributes         string `db:"attributes"`
}

func (r smartRow) record() (types.SmartRecord, error) {
	rec := types.SmartRecord{
		DeviceName:         r.DeviceName,
		TMillis:            r.TMillis,
		Health:             types.SmartHealth(r.Health),
		TempC:              r.TempC,
		PowerOnHours:       r.PowerOnHours,
		ReallocatedSectors: r.ReallocatedSectors,
		PendingSectors:     r.PendingSectors,
	}
	if err := json.Unmarshal([]byte(r.Attributes), &rec.Attributes); err != nil {
		return rec, errdefs.Wrap(err, errdefs.KindCorrupted, "store.smartRow")
	}
	return rec, nil
}

// LatestSmart returns the most recent SMART record for a device.
func (s *SQLiteStore) LatestSmart(ctx context.Context, device string) (*types.SmartRecord, error) {
	var row smartRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM smart_records
		WHERE device_name = ? ORDER BY t_millis DESC LIMIT 1`, device)
	if err != nil {
		return nil, mapSQLErr("store.LatestSmart", err)
	}
	rec, err := row.record()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SmartHistory returns a device's SMART records inside the range, oldest
// first.
func (s *SQLiteStore) SmartHistory(ctx context.Context, device string, r types.Range) ([]types.SmartRecord, error) {
	var rows []smartRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM smart_records
		WHERE device_name = ? AND t_millis BETWEEN ? AND ? ORDER BY t_millis`,
		device, r.From.UnixMilli(), r.To.UnixMilli())
	if err != nil {
		return nil, mapSQLErr("store.SmartHistory", err)
	}
	out := make([]types.SmartRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// DeleteSamplesBefore removes rows older than cutoffMillis from one sample
// table. The table name is validated against the known set, never
// interpolated from input.
func (s *SQLiteStore) DeleteSamplesBefore(ctx context.Context, table string, cutoffMillis int64) (int64, error) {
	const op = "store.DeleteSamplesBefore"

	if !sampleTables[table] {
		return 0, errdefs.Errorf(errdefs.KindInvalidArg, "%s: unknown sample table %q", op, table)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE t_millis < ?`, cutoffMillis)
	if err != nil {
		return 0, mapSQLErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapSQLErr(op, err)
	}
	if n > 0 {
		metrics.RetentionDeleted.WithLabelValues(table).Add(float64(n))
	}
	return n, nil
}

// GetMonitoringConfig reads one monitoring key.
func (s *SQLiteStore) GetMonitoringConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM monitoring_config WHERE key = ?`, key)
	if err != nil {
		return "", mapSQLErr("store.GetMonitoringConfig", err)
	}
	return value, nil
}

// SetMonitoringConfig writes one monitoring key.
func (s *SQLiteStore) SetMonitoringConfig(ctx context.Context, key, value string) error {
	st, err := s.stmt(ctx, `INSERT INTO monitoring_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return err
	}
	_, err = st.ExecContext(ctx, key, value)
	return mapSQLErr("store.SetMonitoringConfig", err)
}
