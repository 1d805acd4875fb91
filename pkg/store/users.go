package store

import (
	"context"
	"time"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/types"
)

// CreateUser inserts a new account and fills in its assigned ID. Username
// uniqueness is case-insensitive (enforced by the schema collation).
func (s *SQLiteStore) CreateUser(ctx context.Context, user *types.User) error {
	const op = "store.CreateUser"

	st, err := s.stmt(ctx, `INSERT INTO users (username, email, password_hash, role, created_at, failed_login_count)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	res, err := st.ExecContext(ctx, user.Username, user.Email, user.PasswordHash, user.Role, user.CreatedAt, user.FailedLoginCount)
	if err != nil {
		return mapSQLErr(op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return mapSQLErr(op, err)
	}
	user.ID = id
	return nil
}

// GetUser fetches one account by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*types.User, error) {
	var u types.User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = ?`, id)
	if err != nil {
		return nil, mapSQLErr("store.GetUser", err)
	}
	return &u, nil
}

// GetUserByUsername fetches one account by name, case-insensitively.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	var u types.User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE username = ? COLLATE NOCASE`, username)
	if err != nil {
		return nil, mapSQLErr("store.GetUserByUsername", err)
	}
	return &u, nil
}

// ListUsers returns all accounts ordered by ID.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*types.User, error) {
	var users []*types.User
	err := s.db.SelectContext(ctx, &users, `SELECT * FROM users ORDER BY id`)
	if err != nil {
		return nil, mapSQLErr("store.ListUsers", err)
	}
	return users, nil
}

// UpdateUserPassword replaces the stored hash.
func (s *SQLiteStore) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	const op = "store.UpdateUserPassword"

	st, err := s.stmt(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	res, err := st.ExecContext(ctx, passwordHash, id)
	if err != nil {
		return mapSQLErr(op, err)
	}
	return requireRows(op, res)
}

// UpdateUserLoginState records failed-login counting and lockout.
func (s *SQLiteStore) UpdateUserLoginState(ctx context.Context, id int64, failedCount int, lockedUntil *time.Time) error {
	const op = "store.UpdateUserLoginState"

	st, err := s.stmt(ctx, `UPDATE users SET failed_login_count = ?, locked_until = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	res, err := st.ExecContext(ctx, failedCount, lockedUntil, id)
	if err != nil {
		return mapSQLErr(op, err)
	}
	return requireRows(op, res)
}

// DeleteUser removes an account. Tokens, metadata, and the quota row go
// with it via foreign-key cascade.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id int64) error {
	const op = "store.DeleteUser"

	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return mapSQLErr(op, err)
	}
	return requireRows(op, res)
}

// requireRows converts a zero-row mutation into KindNotFound.
func requireRows(op string, res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapSQLErr(op, err)
	}
	if n == 0 {
		return errdefs.Errorf(errdefs.KindNotFound, "%s: no matching row", op)
	}
	return nil
}
