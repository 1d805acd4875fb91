package store

import (
	"context"
	"database/sql"
	"errors"
	"path"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/types"
)

// UpsertMountpoint inserts or replaces a mountpoint row by ID.
func (s *SQLiteStore) UpsertMountpoint(ctx context.Context, m *types.Mountpoint) error {
	st, err := s.stmt(ctx, `INSERT INTO mountpoints (id, label, root_path, kind, capacity_bytes, used_bytes, readonly)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label, root_path = excluded.root_path, kind = excluded.kind,
			capacity_bytes = excluded.capacity_bytes, used_bytes = excluded.used_bytes,
			readonly = excluded.readonly`)
	if err != nil {
		return err
	}
	_, err = st.ExecContext(ctx, m.ID, m.Label, m.RootPath, m.Kind, m.CapacityBytes, m.UsedBytes, m.Readonly)
	return mapSQLErr("store.UpsertMountpoint", err)
}

// GetMountpoint fetches one mountpoint by ID.
func (s *SQLiteStore) GetMountpoint(ctx context.Context, id string) (*types.Mountpoint, error) {
	var m types.Mountpoint
	err := s.db.GetContext(ctx, &m, `SELECT * FROM mountpoints WHERE id = ?`, id)
	if err != nil {
		return nil, mapSQLErr("store.GetMountpoint", err)
	}
	return &m, nil
}

// ListMountpoints returns all mountpoints ordered by label.
func (s *SQLiteStore) ListMountpoints(ctx context.Context) ([]*types.Mountpoint, error) {
	var out []*types.Mountpoint
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM mountpoints ORDER BY label`)
	if err != nil {
		return nil, mapSQLErr("store.ListMountpoints", err)
	}
	return out, nil
}

// DeleteMountpoint removes a mountpoint; its file metadata cascades.
func (s *SQLiteStore) DeleteMountpoint(ctx context.Context, id string) error {
	const op = "store.DeleteMountpoint"

	res, err := s.db.ExecContext(ctx, `DELETE FROM mountpoints WHERE id = ?`, id)
	if err != nil {
		return mapSQLErr(op, err)
	}
	return requireRows(op, res)
}

// GetQuota fetches one user's quota row.
func (s *SQLiteStore) GetQuota(ctx context.Context, userID int64) (*types.Quota, error) {
	var q types.Quota
	err := s.db.GetContext(ctx, &q, `SELECT * FROM quotas WHERE user_id = ?`, userID)
	if err != nil {
		return nil, mapSQLErr("store.GetQuota", err)
	}
	return &q, nil
}

// UpsertQuota inserts or replaces a quota row.
func (s *SQLiteStore) UpsertQuota(ctx context.Context, q *types.Quota) error {
	st, err := s.stmt(ctx, `INSERT INTO quotas (user_id, limit_bytes, used_bytes) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET limit_bytes = excluded.limit_bytes, used_bytes = excluded.used_bytes`)
	if err != nil {
		return err
	}
	_, err = st.ExecContext(ctx, q.UserID, q.LimitBytes, q.UsedBytes)
	return mapSQLErr("store.UpsertQuota", err)
}

// GetFileMetadata fetches one entry by its natural key.
func (s *SQLiteStore) GetFileMetadata(ctx context.Context, mountpointID, filePath string) (*types.FileMetadata, error) {
	var m types.FileMetadata
	err := s.db.GetContext(ctx, &m,
		`SELECT * FROM file_metadata WHERE mountpoint_id = ? AND path = ?`, mountpointID, filePath)
	if err != nil {
		return nil, mapSQLErr("store.GetFileMetadata", err)
	}
	return &m, nil
}

// ListDirMetadata returns the direct children of dir within a mountpoint.
// dir "" or "." lists the root.
func (s *SQLiteStore) ListDirMetadata(ctx context.Context, mountpointID, dir string) ([]*types.FileMetadata, error) {
	if dir == "." {
		dir = ""
	}
	prefix := dir
	if prefix != "" {
		prefix += "/"
	}

	var out []*types.FileMetadata
	// Direct children only: path starts with the prefix and has no further
	// separator past it.
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM file_metadata
		 WHERE mountpoint_id = ? AND path LIKE ? ESCAPE '\' AND path NOT LIKE ? ESCAPE '\'
		 ORDER BY is_directory DESC, path`,
		mountpointID, likeEscape(prefix)+"%", likeEscape(prefix)+"%/%")
	if err != nil {
		return nil, mapSQLErr("store.ListDirMetadata", err)
	}
	return out, nil
}

func likeEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// UpsertFileWithQuota writes a metadata row and moves the owner's quota by
// delta in the same transaction. A negative delta (overwrite shrinking a
// file) releases quota. A growing delta re-checks the limit inside the
// transaction: two concurrent writes that each passed admission cannot
// both charge past it.
func (s *SQLiteStore) UpsertFileWithQuota(ctx context.Context, meta *types.FileMetadata, delta int64) error {
	const op = "store.UpsertFileWithQuota"

	return s.withTx(ctx, op, func(tx *sqlx.Tx) error {
		if delta > 0 {
			var q types.Quota
			err := tx.GetContext(ctx, &q, `SELECT * FROM quotas WHERE user_id = ?`, meta.OwnerID)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				// No quota row means nothing to enforce.
			case err != nil:
				return mapSQLErr(op, err)
			case q.UsedBytes+delta > q.LimitBytes:
				return errdefs.Errorf(errdefs.KindQuotaExceeded, "%s: %d + %d exceeds limit %d",
					op, q.UsedBytes, delta, q.LimitBytes)
			}
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO file_metadata
			(mountpoint_id, path, owner_id, size_bytes, is_directory, created_at, modified_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(mountpoint_id, path) DO UPDATE SET
				size_bytes = excluded.size_bytes, modified_at = excluded.modified_at`,
			meta.MountpointID, meta.Path, meta.OwnerID, meta.SizeBytes, meta.IsDirectory,
			meta.CreatedAt, meta.ModifiedAt)
		if err != nil {
			return mapSQLErr(op, err)
		}
		if id, err := res.LastInsertId(); err == nil && meta.ID == 0 {
			meta.ID = id
		}

		if delta != 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE quotas SET used_bytes = used_bytes + ? WHERE user_id = ?`,
				delta, meta.OwnerID); err != nil {
				return mapSQLErr(op, err)
			}
		}
		return nil
	})
}

// DeleteFileWithQuota removes a metadata row (and, for a directory, its
// subtree) and releases freed bytes from the owner's quota in the same
// transaction.
func (s *SQLiteStore) DeleteFileWithQuota(ctx context.Context, mountpointID, filePath string, ownerID, freed int64) error {
	const op = "store.DeleteFileWithQuota"

	return s.withTx(ctx, op, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM file_metadata WHERE mountpoint_id = ? AND (path = ? OR path LIKE ? ESCAPE '\')`,
			mountpointID, filePath, likeEscape(filePath)+"/%")
		if err != nil {
			return mapSQLErr(op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return mapSQLErr(op, err)
		}
		if n == 0 {
			return errdefs.Errorf(errdefs.KindNotFound, "%s: %s not tracked", op, filePath)
		}

		if freed != 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE quotas SET used_bytes = MAX(used_bytes - ?, 0) WHERE user_id = ?`,
				freed, ownerID); err != nil {
				return mapSQLErr(op, err)
			}
		}
		return nil
	})
}

// MoveFileMetadata renames an entry (and its subtree, for directories)
// within one mountpoint in a single transaction. Quota is unaffected;
// ownership moves with the rows.
func (s *SQLiteStore) MoveFileMetadata(ctx context.Context, mountpointID, oldPath, newPath string) error {
	const op = "store.MoveFileMetadata"

	return s.withTx(ctx, op, func(tx *sqlx.Tx) error {
		var exists int
		err := tx.GetContext(ctx, &exists,
			`SELECT COUNT(*) FROM file_metadata WHERE mountpoint_id = ? AND path = ?`,
			mountpointID, oldPath)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return mapSQLErr(op, err)
		}
		if exists == 0 {
			return errdefs.Errorf(errdefs.KindNotFound, "%s: %s not tracked", op, oldPath)
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE file_metadata SET path = ?, modified_at = ? WHERE mountpoint_id = ? AND path = ?`,
			newPath, now, mountpointID, oldPath); err != nil {
			return mapSQLErr(op, err)
		}

		// Re-root the subtree under the new name.
		var children []*types.FileMetadata
		if err := tx.SelectContext(ctx, &children,
			`SELECT * FROM file_metadata WHERE mountpoint_id = ? AND path LIKE ? ESCAPE '\'`,
			mountpointID, likeEscape(oldPath)+"/%"); err != nil {
			return mapSQLErr(op, err)
		}
		for _, c := range children {
			moved := path.Join(newPath, c.Path[len(oldPath)+1:])
			if _, err := tx.ExecContext(ctx,
				`UPDATE file_metadata SET path = ? WHERE id = ?`, moved, c.ID); err != nil {
				return mapSQLErr(op, err)
			}
		}
		return nil
	})
}
