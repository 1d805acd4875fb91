package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/baluhost/baluhost/pkg/types"
)

// UpsertScheduledJob registers or updates a job registry row. The run-state
// columns are preserved on conflict so re-registration at boot does not
// erase history.
func (s *SQLiteStore) UpsertScheduledJob(ctx context.Context, job *types.ScheduledJob) error {
	st, err := s.stmt(ctx, `INSERT INTO scheduled_jobs (name, trigger_spec, enabled)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET trigger_spec = excluded.trigger_spec`)
	if err != nil {
		return err
	}
	_, err = st.ExecContext(ctx, job.Name, job.TriggerSpec, job.Enabled)
	return mapSQLErr("store.UpsertScheduledJob", err)
}

// GetScheduledJob fetches one registry row by name.
func (s *SQLiteStore) GetScheduledJob(ctx context.Context, name string) (*types.ScheduledJob, error) {
	var j types.ScheduledJob
	err := s.db.GetContext(ctx, &j, `SELECT * FROM scheduled_jobs WHERE name = ?`, name)
	if err != nil {
		return nil, mapSQLErr("store.GetScheduledJob", err)
	}
	return &j, nil
}

// ListScheduledJobs returns all registry rows ordered by name.
func (s *SQLiteStore) ListScheduledJobs(ctx context.Context) ([]*types.ScheduledJob, error) {
	var jobs []*types.ScheduledJob
	err := s.db.SelectContext(ctx, &jobs, `SELECT * FROM scheduled_jobs ORDER BY name`)
	if err != nil {
		return nil, mapSQLErr("store.ListScheduledJobs", err)
	}
	return jobs, nil
}

// SetJobEnabled flips the enabled flag.
func (s *SQLiteStore) SetJobEnabled(ctx context.Context, name string, enabled bool) error {
	const op = "store.SetJobEnabled"

	st, err := s.stmt(ctx, `UPDATE scheduled_jobs SET enabled = ? WHERE name = ?`)
	if err != nil {
		return err
	}
	res, err := st.ExecContext(ctx, enabled, name)
	if err != nil {
		return mapSQLErr(op, err)
	}
	return requireRows(op, res)
}

// UpdateJobRunState records the outcome of the latest run on the registry
// row.
func (s *SQLiteStore) UpdateJobRunState(ctx context.Context, name string, lastRunAt time.Time, status types.ExecutionStatus, lastErr string, consecutiveFailures int) error {
	const op = "store.UpdateJobRunState"

	st, err := s.stmt(ctx, `UPDATE scheduled_jobs
		SET last_run_at = ?, last_status = ?, last_err = ?, consecutive_failures = ?
		WHERE name = ?`)
	if err != nil {
		return err
	}
	res, err := st.ExecContext(ctx, lastRunAt, status, lastErr, consecutiveFailures, name)
	if err != nil {
		return mapSQLErr(op, err)
	}
	return requireRows(op, res)
}

// InsertExecution appends a history row, normally in status running.
func (s *SQLiteStore) InsertExecution(ctx context.Context, exec *types.JobExecution) error {
	st, err := s.stmt(ctx, `INSERT INTO job_executions
		(id, job_name, started_at, finished_at, status, duration_ms, error, triggered_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	_, err = st.ExecContext(ctx, exec.ID, exec.JobName, exec.StartedAt, exec.FinishedAt,
		exec.Status, exec.DurationMs, exec.Error, exec.TriggeredBy)
	return mapSQLErr("store.InsertExecution", err)
}

// FinishExecution closes a history row with its final status.
func (s *SQLiteStore) FinishExecution(ctx context.Context, id string, finishedAt time.Time, status types.ExecutionStatus, durationMs int64, errMsg string) error {
	const op = "store.FinishExecution"

	st, err := s.stmt(ctx, `UPDATE job_executions
		SET finished_at = ?, status = ?, duration_ms = ?, error = ?
		WHERE id = ?`)
	if err != nil {
		return err
	}
	res, err := st.ExecContext(ctx, finishedAt, status, durationMs, errMsg, id)
	if err != nil {
		return mapSQLErr(op, err)
	}
	return requireRows(op, res)
}

// ListExecutions returns a job's most recent executions, newest first.
func (s *SQLiteStore) ListExecutions(ctx context.Context, jobName string, limit int) ([]*types.JobExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []*types.JobExecution
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM job_executions WHERE job_name = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		jobName, limit)
	if err != nil {
		return nil, mapSQLErr("store.ListExecutions", err)
	}
	return out, nil
}

// PruneExecutions drops all but the newest keep rows for a job, bounding
// the append-only history.
func (s *SQLiteStore) PruneExecutions(ctx context.Context, jobName string, keep int) (int64, error) {
	const op = "store.PruneExecutions"

	var deleted int64
	err := s.withTx(ctx, op, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM job_executions
			WHERE job_name = ? AND id NOT IN (
				SELECT id FROM job_executions WHERE job_name = ?
				ORDER BY started_at DESC, id DESC LIMIT ?
			)`, jobName, jobName, keep)
		if err != nil {
			return mapSQLErr(op, err)
		}
		deleted, err = res.RowsAffected()
		return mapSQLErr(op, err)
	})
	return deleted, err
}
