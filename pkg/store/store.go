package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/log"
	"github.com/baluhost/baluhost/pkg/types"
)

// Store defines the persistence gateway for all durable state.
// Implemented by the SQLite-backed store below.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *types.User) error
	GetUser(ctx context.Context, id int64) (*types.User, error)
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)
	ListUsers(ctx context.Context) ([]*types.User, error)
	UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error
	UpdateUserLoginState(ctx context.Context, id int64, failedCount int, lockedUntil *time.Time) error
	DeleteUser(ctx context.Context, id int64) error

	// Refresh tokens
	CreateRefreshToken(ctx context.Context, token *types.RefreshToken) error
	GetRefreshToken(ctx context.Context, jti string) (*types.RefreshToken, error)
	ListUserTokens(ctx context.Context, userID int64) ([]*types.RefreshToken, error)
	TouchRefreshToken(ctx context.Context, jti string, usedAt time.Time) error
	RevokeRefreshToken(ctx context.Context, jti, reason string, at time.Time) error
	RevokeUserTokens(ctx context.Context, userID int64, reason string, at time.Time) (int64, error)
	RevokeDeviceTokens(ctx context.Context, userID int64, deviceID, reason string, at time.Time) (int64, error)
	DeleteExpiredTokens(ctx context.Context, cutoff time.Time) (int64, error)

	// Mountpoints
	UpsertMountpoint(ctx context.Context, m *types.Mountpoint) error
	GetMountpoint(ctx context.Context, id string) (*types.Mountpoint, error)
	ListMountpoints(ctx context.Context) ([]*types.Mountpoint, error)
	DeleteMountpoint(ctx context.Context, id string) error

	// File metadata and quotas
	GetQuota(ctx context.Context, userID int64) (*types.Quota, error)
	UpsertQuota(ctx context.Context, q *types.Quota) error
	GetFileMetadata(ctx context.Context, mountpointID, path string) (*types.FileMetadata, error)
	ListDirMetadata(ctx context.Context, mountpointID, dir string) ([]*types.FileMetadata, error)
	UpsertFileWithQuota(ctx context.Context, meta *types.FileMetadata, delta int64) error
	DeleteFileWithQuota(ctx context.Context, mountpointID, path string, ownerID, freed int64) error
	MoveFileMetadata(ctx context.Context, mountpointID, oldPath, newPath string) error

	// Scheduled jobs and executions
	UpsertScheduledJob(ctx context.Context, job *types.ScheduledJob) error
	GetScheduledJob(ctx context.Context, name string) (*types.ScheduledJob, error)
	ListScheduledJobs(ctx context.Context) ([]*types.ScheduledJob, error)
	SetJobEnabled(ctx context.Context, name string, enabled bool) error
	UpdateJobRunState(ctx context.Context, name string, lastRunAt time.Time, status types.ExecutionStatus, lastErr string, consecutiveFailures int) error
	InsertExecution(ctx context.Context, exec *types.JobExecution) error
	FinishExecution(ctx context.Context, id string, finishedAt time.Time, status types.ExecutionStatus, durationMs int64, errMsg string) error
	ListExecutions(ctx context.Context, jobName string, limit int) ([]*types.JobExecution, error)
	PruneExecutions(ctx context.Context, jobName string, keep int) (int64, error)

	// Monitoring samples
	InsertDiskSamples(ctx context.Context, samples []types.DiskSample) error
	InsertCPUSample(ctx context.Context, sample types.CPUSample) error
	InsertMemorySample(ctx context.Context, sample types.MemorySample) error
	InsertNetworkSamples(ctx context.Context, samples []types.NetworkSample) error
	InsertProcessSamples(ctx context.Context, samples []types.ProcessSample) error
	InsertSmartRecord(ctx context.Context, record types.SmartRecord) error
	DiskSamples(ctx context.Context, device string, r types.Range) ([]types.DiskSample, error)
	CPUSamples(ctx context.Context, r types.Range) ([]types.CPUSample, error)
	MemorySamples(ctx context.Context, r types.Range) ([]types.MemorySample, error)
	NetworkSamples(ctx context.Context, iface string, r types.Range) ([]types.NetworkSample, error)
	ProcessSamples(ctx context.Context, r types.Range) ([]types.ProcessSample, error)
	LatestSmart(ctx context.Context, device string) (*types.SmartRecord, error)
	SmartHistory(ctx context.Context, device string, r types.Range) ([]types.SmartRecord, error)
	DeleteSamplesBefore(ctx context.Context, table string, cutoffMillis int64) (int64, error)

	// Monitoring config
	GetMonitoringConfig(ctx context.Context, key string) (string, error)
	SetMonitoringConfig(ctx context.Context, key, value string) error

	// Utility
	Migrate(ctx context.Context) error
	MigrationStatus(ctx context.Context) ([]MigrationState, error)
	Backup(ctx context.Context, destPath string) error
	Close() error
}

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db     *sqlx.DB
	logger zerolog.Logger

	// Writers are prepared once and reused; readers stay ad hoc.
	stmtMu sync.Mutex
	stmts  map[string]*sqlx.Stmt
}

// Open opens (creating if needed) the database at path with WAL, foreign
// keys, and a busy timeout. Call Migrate before first use.
func Open(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_synchronous=NORMAL&_loc=UTC", path)

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errdefs.Wrap(err, errdefs.KindIO, "store.Open")
	}

	return &SQLiteStore{
		db:     db,
		logger: log.WithComponent("store"),
		stmts:  make(map[string]*sqlx.Stmt),
	}, nil
}

// Close releases prepared statements and the connection pool.
func (s *SQLiteStore) Close() error {
	s.stmtMu.Lock()
	for _, st := range s.stmts {
		st.Close()
	}
	s.stmts = make(map[string]*sqlx.Stmt)
	s.stmtMu.Unlock()
	return s.db.Close()
}

// stmt returns the cached prepared statement for query, preparing it on
// first use. Hot write paths go through here.
func (s *SQLiteStore) stmt(ctx context.Context, query string) (*sqlx.Stmt, error) {
	s.stmtMu.Lock()
	st, ok := s.stmts[query]
	s.stmtMu.Unlock()
	if ok {
		return st, nil
	}

	st, err := s.db.PreparexContext(ctx, query)
	if err != nil {
		return nil, mapSQLErr("store.prepare", err)
	}

	s.stmtMu.Lock()
	if prev, ok := s.stmts[query]; ok {
		s.stmtMu.Unlock()
		st.Close()
		return prev, nil
	}
	s.stmts[query] = st
	s.stmtMu.Unlock()
	return st, nil
}

// Backup writes a consistent copy of the database to destPath using
// VACUUM INTO. An existing file at destPath is replaced.
func (s *SQLiteStore) Backup(ctx context.Context, destPath string) error {
	const op = "store.Backup"

	if destPath == "" {
		return errdefs.Errorf(errdefs.KindInvalidArg, "%s: empty destination", op)
	}
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return errdefs.Wrap(err, errdefs.KindIO, op)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, destPath); err != nil {
		return mapSQLErr(op, err)
	}
	s.logger.Info().Str("dest", destPath).Msg("database backup written")
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapSQLErr(op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapSQLErr(op, err)
	}
	return nil
}

// mapSQLErr converts driver errors into the shared taxonomy.
func mapSQLErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errdefs.Wrap(err, errdefs.KindNotFound, op)
	}
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return errdefs.Wrap(err, errdefs.KindUniqueViolation, op)
		}
	}
	return errdefs.Wrap(err, errdefs.KindIO, op)
}
