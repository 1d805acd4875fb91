package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestUser(t *testing.T, s *SQLiteStore, name string) *types.User {
	t.Helper()

	u := &types.User{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "$2a$10$fixture",
		Role:         types.RoleUser,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))

	status, err := s.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Len(t, status, len(migrations))
	for i, m := range migrations {
		assert.Equal(t, m.Seq, status[i].Seq)
		assert.Equal(t, m.Name, status[i].Name)
		assert.Equal(t, checksum(m.SQL), status[i].Checksum)
	}
}

func TestMigrateRefusesChecksumMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Tamper with an applied migration's recorded checksum, as if the
	// compiled-in SQL had been edited after shipping.
	_, err := s.db.ExecContext(ctx, `UPDATE schema_migrations SET checksum = 'tampered' WHERE seq = 1`)
	require.NoError(t, err)

	err = s.Migrate(ctx)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindCorrupted, errdefs.KindOf(err))
}

func TestUserUniqueCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newTestUser(t, s, "Alice")

	dup := &types.User{Username: "alice", PasswordHash: "x", Role: types.RoleUser, CreatedAt: time.Now().UTC()}
	err := s.CreateUser(ctx, dup)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindUniqueViolation, errdefs.KindOf(err))

	got, err := s.GetUserByUsername(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Username)
}

func TestDeleteUserCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := newTestUser(t, s, "bob")
	require.NoError(t, s.CreateRefreshToken(ctx, &types.RefreshToken{
		JTI:       "jti-1",
		UserID:    u.ID,
		Hash:      []byte{1, 2, 3},
		IssuedAt:  time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}))
	require.NoError(t, s.UpsertQuota(ctx, &types.Quota{UserID: u.ID, LimitBytes: 100}))

	require.NoError(t, s.DeleteUser(ctx, u.ID))

	_, err := s.GetRefreshToken(ctx, "jti-1")
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
	_, err = s.GetQuota(ctx, u.ID)
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
}

func TestRevokeUserTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "carol")

	now := time.Now().UTC()
	for _, jti := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateRefreshToken(ctx, &types.RefreshToken{
			JTI: jti, UserID: u.ID, Hash: []byte(jti),
			IssuedAt: now, ExpiresAt: now.Add(time.Hour),
		}))
	}

	n, err := s.RevokeUserTokens(ctx, u.ID, "password-changed", now)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	// Second pass finds nothing live.
	n, err = s.RevokeUserTokens(ctx, u.ID, "password-changed", now)
	require.NoError(t, err)
	assert.Zero(t, n)

	tok, err := s.GetRefreshToken(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, tok.RevokedAt)
	assert.Equal(t, "password-changed", tok.RevocationReason)
}

func TestDeleteExpiredTokensIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "dave")

	now := time.Now().UTC()
	require.NoError(t, s.CreateRefreshToken(ctx, &types.RefreshToken{
		JTI: "old", UserID: u.ID, Hash: []byte("old"),
		IssuedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}))
	require.NoError(t, s.CreateRefreshToken(ctx, &types.RefreshToken{
		JTI: "live", UserID: u.ID, Hash: []byte("live"),
		IssuedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	n, err := s.DeleteExpiredTokens(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.DeleteExpiredTokens(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.GetRefreshToken(ctx, "live")
	assert.NoError(t, err)
}

func TestUpsertFileWithQuotaTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "erin")

	require.NoError(t, s.UpsertMountpoint(ctx, &types.Mountpoint{
		ID: "mp1", Label: "storage", RootPath: "/srv/storage", Kind: types.MountVirtual,
	}))
	require.NoError(t, s.UpsertQuota(ctx, &types.Quota{UserID: u.ID, LimitBytes: 1000}))

	now := time.Now().UTC()
	meta := &types.FileMetadata{
		MountpointID: "mp1", Path: "docs/report.txt", OwnerID: u.ID,
		SizeBytes: 40, CreatedAt: now, ModifiedAt: now,
	}
	require.NoError(t, s.UpsertFileWithQuota(ctx, meta, 40))

	q, err := s.GetQuota(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 40, q.UsedBytes)

	// Overwrite with a smaller file releases the difference.
	meta.SizeBytes = 10
	require.NoError(t, s.UpsertFileWithQuota(ctx, meta, -30))
	q, err = s.GetQuota(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 10, q.UsedBytes)

	require.NoError(t, s.DeleteFileWithQuota(ctx, "mp1", "docs/report.txt", u.ID, 10))
	q, err = s.GetQuota(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, q.UsedBytes)
}

// The limit is checked inside the transaction itself, so a charge that
// slipped past the admission pre-check rolls back whole: no metadata row,
// no quota movement.
func TestUpsertFileWithQuotaRejectsOverCharge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "frank")

	require.NoError(t, s.UpsertMountpoint(ctx, &types.Mountpoint{
		ID: "mp1", Label: "storage", RootPath: "/srv/storage", Kind: types.MountVirtual,
	}))
	require.NoError(t, s.UpsertQuota(ctx, &types.Quota{UserID: u.ID, LimitBytes: 100, UsedBytes: 90}))

	now := time.Now().UTC()
	err := s.UpsertFileWithQuota(ctx, &types.FileMetadata{
		MountpointID: "mp1", Path: "big.bin", OwnerID: u.ID,
		SizeBytes: 15, CreatedAt: now, ModifiedAt: now,
	}, 15)
	assert.Equal(t, errdefs.KindQuotaExceeded, errdefs.KindOf(err))

	_, err = s.GetFileMetadata(ctx, "mp1", "big.bin")
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
	q, err := s.GetQuota(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 90, q.UsedBytes)

	// A shrinking overwrite is never blocked, even over the limit.
	require.NoError(t, s.UpsertFileWithQuota(ctx, &types.FileMetadata{
		MountpointID: "mp1", Path: "old.bin", OwnerID: u.ID,
		SizeBytes: 50, CreatedAt: now, ModifiedAt: now,
	}, -40))
	q, err = s.GetQuota(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 50, q.UsedBytes)
}

func TestMoveFileMetadataSubtree(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "frank")

	require.NoError(t, s.UpsertMountpoint(ctx, &types.Mountpoint{
		ID: "mp1", Label: "storage", RootPath: "/srv/storage", Kind: types.MountVirtual,
	}))

	now := time.Now().UTC()
	for _, p := range []struct {
		path string
		dir  bool
	}{
		{"photos", true},
		{"photos/2024", true},
		{"photos/2024/a.jpg", false},
	} {
		require.NoError(t, s.UpsertFileWithQuota(ctx, &types.FileMetadata{
			MountpointID: "mp1", Path: p.path, OwnerID: u.ID,
			IsDirectory: p.dir, CreatedAt: now, ModifiedAt: now,
		}, 0))
	}

	require.NoError(t, s.MoveFileMetadata(ctx, "mp1", "photos", "pictures"))

	_, err := s.GetFileMetadata(ctx, "mp1", "photos/2024/a.jpg")
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))

	moved, err := s.GetFileMetadata(ctx, "mp1", "pictures/2024/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, u.ID, moved.OwnerID)
}

func TestListDirMetadataDirectChildrenOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "grace")

	require.NoError(t, s.UpsertMountpoint(ctx, &types.Mountpoint{
		ID: "mp1", Label: "storage", RootPath: "/srv/storage", Kind: types.MountVirtual,
	}))

	now := time.Now().UTC()
	for _, p := range []string{"a.txt", "dir", "dir/b.txt", "dir/sub", "dir/sub/c.txt"} {
		require.NoError(t, s.UpsertFileWithQuota(ctx, &types.FileMetadata{
			MountpointID: "mp1", Path: p, OwnerID: u.ID,
			IsDirectory: p == "dir" || p == "dir/sub", CreatedAt: now, ModifiedAt: now,
		}, 0))
	}

	root, err := s.ListDirMetadata(ctx, "mp1", "")
	require.NoError(t, err)
	require.Len(t, root, 2)

	children, err := s.ListDirMetadata(ctx, "mp1", "dir")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "dir/sub", children[0].Path) // directories sort first
	assert.Equal(t, "dir/b.txt", children[1].Path)
}

func TestJobExecutionHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertScheduledJob(ctx, &types.ScheduledJob{
		Name: "smart-scan", TriggerSpec: "interval:1h", Enabled: true,
	}))

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		started := base.Add(time.Duration(i) * time.Minute)
		exec := &types.JobExecution{
			ID: "exec-" + string(rune('a'+i)), JobName: "smart-scan",
			StartedAt: started, Status: types.ExecutionRunning, TriggeredBy: types.TriggeredBySchedule,
		}
		require.NoError(t, s.InsertExecution(ctx, exec))
		require.NoError(t, s.FinishExecution(ctx, exec.ID, started.Add(time.Second), types.ExecutionSuccess, 1000, ""))
	}

	recent, err := s.ListExecutions(ctx, "smart-scan", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "exec-e", recent[0].ID) // newest first

	deleted, err := s.PruneExecutions(ctx, "smart-scan", 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)
}

func TestSampleRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := int64(0); i < 10; i++ {
		require.NoError(t, s.InsertDiskSamples(ctx, []types.DiskSample{{
			DeviceName: "sda", TMillis: 1000 * i, ReadBytesPerSec: i,
		}}))
	}

	n, err := s.DeleteSamplesBefore(ctx, "disk_io_samples", 5000)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	rows, err := s.DiskSamples(ctx, "sda", types.Range{
		From: time.UnixMilli(0), To: time.UnixMilli(10000),
	})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.EqualValues(t, 5000, rows[0].TMillis)

	_, err = s.DeleteSamplesBefore(ctx, "users", 0)
	assert.Equal(t, errdefs.KindInvalidArg, errdefs.KindOf(err))
}

func TestCPUSampleRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := types.CPUSample{
		TMillis: 42000, TotalPct: 37.5,
		PerThreadPct: []float64{25, 50}, FreqMHz: 2400, TempC: 55,
	}
	require.NoError(t, s.InsertCPUSample(ctx, in))

	out, err := s.CPUSamples(ctx, types.Range{From: time.UnixMilli(0), To: time.UnixMilli(100000)})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, in, out[0])
}

func TestSmartRecordAttributes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := types.SmartRecord{
		DeviceName: "sdb", TMillis: 1000, Health: types.SmartPassed,
		TempC: 34, PowerOnHours: 8760, ReallocatedSectors: 0, PendingSectors: 0,
		Attributes: map[int]int64{5: 0, 194: 34, 197: 0},
	}
	require.NoError(t, s.InsertSmartRecord(ctx, rec))

	got, err := s.LatestSmart(ctx, "sdb")
	require.NoError(t, err)
	assert.Equal(t, rec, *got)

	_, err = s.LatestSmart(ctx, "nope")
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
}

func TestBackupProducesOpenableCopy(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user := newTestUser(t, s, "alice")

	dest := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, s.Backup(ctx, dest))

	copyStore, err := Open(dest)
	require.NoError(t, err)
	defer copyStore.Close()

	got, err := copyStore.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	// A re-run replaces the previous backup file.
	require.NoError(t, s.Backup(ctx, dest))
}
