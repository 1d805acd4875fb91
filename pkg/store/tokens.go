package store

import (
	"context"
	"time"

	"github.com/baluhost/baluhost/pkg/types"
)

// CreateRefreshToken persists one issued token's revocation record. The
// caller passes the SHA-256 hash only; plaintext never reaches this layer.
func (s *SQLiteStore) CreateRefreshToken(ctx context.Context, token *types.RefreshToken) error {
	st, err := s.stmt(ctx, `INSERT INTO refresh_tokens
		(jti, user_id, device_id, hash, issued_at, expires_at, ip, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	_, err = st.ExecContext(ctx, token.JTI, token.UserID, token.DeviceID, token.Hash,
		token.IssuedAt, token.ExpiresAt, token.IP, token.UserAgent)
	return mapSQLErr("store.CreateRefreshToken", err)
}

// GetRefreshToken fetches one record by JTI.
func (s *SQLiteStore) GetRefreshToken(ctx context.Context, jti string) (*types.RefreshToken, error) {
	var t types.RefreshToken
	err := s.db.GetContext(ctx, &t, `SELECT * FROM refresh_tokens WHERE jti = ?`, jti)
	if err != nil {
		return nil, mapSQLErr("store.GetRefreshToken", err)
	}
	return &t, nil
}

// ListUserTokens returns a user's records, newest first.
func (s *SQLiteStore) ListUserTokens(ctx context.Context, userID int64) ([]*types.RefreshToken, error) {
	var tokens []*types.RefreshToken
	err := s.db.SelectContext(ctx, &tokens,
		`SELECT * FROM refresh_tokens WHERE user_id = ? ORDER BY issued_at DESC`, userID)
	if err != nil {
		return nil, mapSQLErr("store.ListUserTokens", err)
	}
	return tokens, nil
}

// TouchRefreshToken records a successful verification.
func (s *SQLiteStore) TouchRefreshToken(ctx context.Context, jti string, usedAt time.Time) error {
	const op = "store.TouchRefreshToken"

	st, err := s.stmt(ctx, `UPDATE refresh_tokens SET last_used_at = ? WHERE jti = ?`)
	if err != nil {
		return err
	}
	res, err := st.ExecContext(ctx, usedAt, jti)
	if err != nil {
		return mapSQLErr(op, err)
	}
	return requireRows(op, res)
}

// RevokeRefreshToken marks one token revoked. Already-revoked tokens keep
// their original revocation.
func (s *SQLiteStore) RevokeRefreshToken(ctx context.Context, jti, reason string, at time.Time) error {
	const op = "store.RevokeRefreshToken"

	st, err := s.stmt(ctx, `UPDATE refresh_tokens SET revoked_at = ?, revocation_reason = ?
		WHERE jti = ? AND revoked_at IS NULL`)
	if err != nil {
		return err
	}
	res, err := st.ExecContext(ctx, at, reason, jti)
	if err != nil {
		return mapSQLErr(op, err)
	}
	return requireRows(op, res)
}

// RevokeUserTokens revokes every live token of one user. Returns the number
// of tokens newly revoked; zero is not an error (nothing was live).
func (s *SQLiteStore) RevokeUserTokens(ctx context.Context, userID int64, reason string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked_at = ?, revocation_reason = ?
		WHERE user_id = ? AND revoked_at IS NULL`, at, reason, userID)
	if err != nil {
		return 0, mapSQLErr("store.RevokeUserTokens", err)
	}
	return res.RowsAffected()
}

// RevokeDeviceTokens revokes every live token of one user's device.
func (s *SQLiteStore) RevokeDeviceTokens(ctx context.Context, userID int64, deviceID, reason string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked_at = ?, revocation_reason = ?
		WHERE user_id = ? AND device_id = ? AND revoked_at IS NULL`, at, reason, userID, deviceID)
	if err != nil {
		return 0, mapSQLErr("store.RevokeDeviceTokens", err)
	}
	return res.RowsAffected()
}

// DeleteExpiredTokens garbage-collects rows past their expiry plus grace.
// Idempotent: a second pass with the same cutoff deletes nothing.
func (s *SQLiteStore) DeleteExpiredTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < ?`, cutoff)
	if err != nil {
		return 0, mapSQLErr("store.DeleteExpiredTokens", err)
	}
	return res.RowsAffected()
}
