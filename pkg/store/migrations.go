package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/baluhost/baluhost/pkg/errdefs"
)

// Migration is one sequential schema step. The SQL text is hashed; a change
// to an already-applied migration is a refusal to boot, never a re-run.
type Migration struct {
	Seq  int
	Name string
	SQL  string
}

// MigrationState reports one row of schema_migrations for status output.
type MigrationState struct {
	Seq       int       `db:"seq"`
	Name      string    `db:"name"`
	Checksum  string    `db:"checksum"`
	AppliedAt time.Time `db:"applied_at"`
}

func checksum(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}

// migrations is the canonical ordered schema history. Append only; never
// edit an entry that has shipped.
var migrations = []Migration{
	{
		Seq:  1,
		Name: "users_and_auth",
		SQL: `
CREATE TABLE users (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	username           TEXT    NOT NULL COLLATE NOCASE UNIQUE,
	email              TEXT    NOT NULL DEFAULT '',
	password_hash      TEXT    NOT NULL,
	role               TEXT    NOT NULL DEFAULT 'user',
	created_at         TIMESTAMP NOT NULL,
	failed_login_count INTEGER NOT NULL DEFAULT 0,
	locked_until       TIMESTAMP
);

CREATE TABLE refresh_tokens (
	jti               TEXT PRIMARY KEY,
	user_id           INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	device_id         TEXT    NOT NULL DEFAULT '',
	hash              BLOB    NOT NULL,
	issued_at         TIMESTAMP NOT NULL,
	expires_at        TIMESTAMP NOT NULL,
	revoked_at        TIMESTAMP,
	revocation_reason TEXT    NOT NULL DEFAULT '',
	ip                TEXT    NOT NULL DEFAULT '',
	user_agent        TEXT    NOT NULL DEFAULT '',
	last_used_at      TIMESTAMP
);
CREATE INDEX idx_refresh_tokens_user_expiry ON refresh_tokens(user_id, expires_at);
`,
	},
	{
		Seq:  2,
		Name: "files_and_quotas",
		SQL: `
CREATE TABLE mountpoints (
	id             TEXT PRIMARY KEY,
	label          TEXT NOT NULL,
	root_path      TEXT NOT NULL,
	kind           TEXT NOT NULL,
	capacity_bytes INTEGER NOT NULL DEFAULT 0,
	used_bytes     INTEGER NOT NULL DEFAULT 0,
	readonly       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE file_metadata (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	mountpoint_id TEXT    NOT NULL REFERENCES mountpoints(id) ON DELETE CASCADE,
	path          TEXT    NOT NULL,
	owner_id      INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	size_bytes    INTEGER NOT NULL DEFAULT 0,
	is_directory  INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL,
	modified_at   TIMESTAMP NOT NULL,
	UNIQUE(mountpoint_id, path)
);
CREATE INDEX idx_file_metadata_owner ON file_metadata(owner_id);

CREATE TABLE quotas (
	user_id     INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	limit_bytes INTEGER NOT NULL,
	used_bytes  INTEGER NOT NULL DEFAULT 0
);
`,
	},
	{
		Seq:  3,
		Name: "scheduler",
		SQL: `
CREATE TABLE scheduled_jobs (
	name                 TEXT PRIMARY KEY,
	trigger_spec         TEXT NOT NULL,
	enabled              INTEGER NOT NULL DEFAULT 1,
	last_run_at          TIMESTAMP,
	last_status          TEXT NOT NULL DEFAULT '',
	last_err             TEXT NOT NULL DEFAULT '',
	consecutive_failures INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE job_executions (
	id           TEXT PRIMARY KEY,
	job_name     TEXT NOT NULL REFERENCES scheduled_jobs(name) ON DELETE CASCADE,
	started_at   TIMESTAMP NOT NULL,
	finished_at  TIMESTAMP,
	status       TEXT NOT NULL,
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	triggered_by TEXT NOT NULL
);
CREATE INDEX idx_job_executions_job_started ON job_executions(job_name, started_at);
`,
	},
	{
		Seq:  4,
		Name: "monitoring_samples",
		SQL: `
CREATE TABLE cpu_samples (
	t_millis       INTEGER PRIMARY KEY,
	total_pct      REAL    NOT NULL,
	per_thread_pct TEXT    NOT NULL DEFAULT '[]',
	freq_mhz       INTEGER NOT NULL DEFAULT 0,
	temp_c         REAL    NOT NULL DEFAULT 0
);

CREATE TABLE memory_samples (
	t_millis         INTEGER PRIMARY KEY,
	total_bytes      INTEGER NOT NULL,
	used_bytes       INTEGER NOT NULL,
	available_bytes  INTEGER NOT NULL,
	cached_bytes     INTEGER NOT NULL,
	swap_total_bytes INTEGER NOT NULL,
	swap_used_bytes  INTEGER NOT NULL
);

CREATE TABLE network_samples (
	t_millis           INTEGER NOT NULL,
	interface          TEXT    NOT NULL,
	rx_bytes_per_sec   INTEGER NOT NULL,
	tx_bytes_per_sec   INTEGER NOT NULL,
	rx_packets_per_sec INTEGER NOT NULL,
	tx_packets_per_sec INTEGER NOT NULL,
	PRIMARY KEY(interface, t_millis)
);

CREATE TABLE disk_io_samples (
	t_millis           INTEGER NOT NULL,
	device_name        TEXT    NOT NULL,
	read_bytes_per_sec  INTEGER NOT NULL,
	write_bytes_per_sec INTEGER NOT NULL,
	read_ops_per_sec    INTEGER NOT NULL,
	write_ops_per_sec   INTEGER NOT NULL,
	PRIMARY KEY(device_name, t_millis)
);

CREATE TABLE process_samples (
	t_millis     INTEGER NOT NULL,
	pid          INTEGER NOT NULL,
	command      TEXT    NOT NULL,
	cpu_pct      REAL    NOT NULL,
	memory_bytes INTEGER NOT NULL,
	PRIMARY KEY(t_millis, pid)
);

CREATE TABLE smart_records (
	t_millis            INTEGER NOT NULL,
	device_name         TEXT    NOT NULL,
	health              TEXT    NOT NULL,
	temp_c              INTEGER NOT NULL DEFAULT 0,
	power_on_hours      INTEGER NOT NULL DEFAULT 0,
	reallocated_sectors INTEGER NOT NULL DEFAULT 0,
	pending_sectors     INTEGER NOT NULL DEFAULT 0,
	attributes          TEXT    NOT NULL DEFAULT '{}',
	PRIMARY KEY(device_name, t_millis)
);

CREATE TABLE monitoring_config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`,
	},
}

// Migrations returns a copy of the schema history for status tooling.
func Migrations() []Migration {
	return append([]Migration(nil), migrations...)
}

// Migrate applies missing migrations in order, each in its own transaction,
// and refuses to proceed when an applied migration's checksum no longer
// matches the compiled-in SQL.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	const op = "store.Migrate"

	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		seq        INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		checksum   TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return mapSQLErr(op, err)
	}

	applied := make(map[int]MigrationState)
	var rows []MigrationState
	if err := s.db.SelectContext(ctx, &rows, `SELECT seq, name, checksum, applied_at FROM schema_migrations ORDER BY seq`); err != nil {
		return mapSQLErr(op, err)
	}
	for _, r := range rows {
		applied[r.Seq] = r
	}

	for _, m := range migrations {
		sum := checksum(m.SQL)
		if prev, ok := applied[m.Seq]; ok {
			if prev.Checksum != sum {
				return errdefs.Errorf(errdefs.KindCorrupted,
					"migration %d (%s) checksum mismatch: applied %s, compiled %s",
					m.Seq, m.Name, prev.Checksum, sum)
			}
			continue
		}

		err := s.withTx(ctx, op, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return mapSQLErr(op, err)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (seq, name, checksum, applied_at) VALUES (?, ?, ?, ?)`,
				m.Seq, m.Name, sum, time.Now().UTC())
			return mapSQLErr(op, err)
		})
		if err != nil {
			return err
		}
		s.logger.Info().Int("seq", m.Seq).Str("name", m.Name).Msg("applied migration")
	}
	return nil
}

// MigrationStatus returns the applied migration rows in order.
func (s *SQLiteStore) MigrationStatus(ctx context.Context) ([]MigrationState, error) {
	var rows []MigrationState
	err := s.db.SelectContext(ctx, &rows, `SELECT seq, name, checksum, applied_at FROM schema_migrations ORDER BY seq`)
	if err != nil {
		return nil, mapSQLErr("store.MigrationStatus", err)
	}
	return rows, nil
}
