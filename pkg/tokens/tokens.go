package tokens

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/events"
	"github.com/baluhost/baluhost/pkg/log"
	"github.com/baluhost/baluhost/pkg/metrics"
	"github.com/baluhost/baluhost/pkg/store"
	"github.com/baluhost/baluhost/pkg/types"
)

// tokenBytes is the entropy of one token before base64url encoding.
const tokenBytes = 32

// cleanupGrace keeps expired rows around for a while so audit queries can
// still see recently expired sessions.
const cleanupGrace = 24 * time.Hour

// Service issues, verifies, and revokes refresh tokens.
type Service struct {
	store  store.Store
	broker *events.Broker
	ttl    time.Duration
	logger zerolog.Logger
}

// New builds a token service. ttl is the refresh-token lifetime.
func New(st store.Store, broker *events.Broker, ttl time.Duration) *Service {
	return &Service{
		store:  st,
		broker: broker,
		ttl:    ttl,
		logger: log.WithComponent("tokens"),
	}
}

// Issue mints a fresh token for a user/device pair. The returned token is
// the only plaintext copy; the store keeps its SHA-256.
func (s *Service) Issue(ctx context.Context, userID int64, deviceID, ip, userAgent string) (token, jti string, err error) {
	const op = "tokens.Issue"

	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", errdefs.Wrap(err, errdefs.KindBug, op)
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	jti = uuid.NewString()

	sum := sha256.Sum256([]byte(token))
	now := time.Now()
	record := &types.RefreshToken{
		JTI:       jti,
		UserID:    userID,
		DeviceID:  deviceID,
		Hash:      sum[:],
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
		IP:        ip,
		UserAgent: userAgent,
	}
	if err := s.store.CreateRefreshToken(ctx, record); err != nil {
		return "", "", err
	}

	metrics.TokensIssued.Inc()
	s.publish(events.EventTokenIssued, jti, userID)
	s.logger.Debug().Str("jti", jti).Int64("user", userID).Str("device", deviceID).Msg("token issued")
	return token, jti, nil
}

// Verify checks a presented token against its stored record and touches
// the last-used timestamp on success.
func (s *Service) Verify(ctx context.Context, jti, token string) (*types.RefreshToken, error) {
	const op = "tokens.Verify"

	record, err := s.store.GetRefreshToken(ctx, jti)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if record.ExpiresAt.Before(now) {
		return nil, errdefs.Errorf(errdefs.KindTokenExpired, "%s: token %s expired %s", op, jti, record.ExpiresAt.Format(time.RFC3339))
	}
	if record.RevokedAt != nil {
		return nil, errdefs.Errorf(errdefs.KindTokenRevoked, "%s: token %s revoked (%s)", op, jti, record.RevocationReason)
	}

	sum := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(sum[:], record.Hash) != 1 {
		return nil, errdefs.Errorf(errdefs.KindUnauthenticated, "%s: token mismatch for %s", op, jti)
	}

	if err := s.store.TouchRefreshToken(ctx, jti, now); err != nil {
		s.logger.Warn().Err(err).Str("jti", jti).Msg("failed to touch token")
	}
	return record, nil
}

// Revoke tombstones one live token.
func (s *Service) Revoke(ctx context.Context, jti, reason string) error {
	if err := s.store.RevokeRefreshToken(ctx, jti, reason, time.Now()); err != nil {
		return err
	}
	metrics.TokensRevoked.Inc()
	s.publish(events.EventTokenRevoked, jti, 0)
	return nil
}

// RevokeAllForUser tombstones every live token the user holds and returns
// how many were hit.
func (s *Service) RevokeAllForUser(ctx context.Context, userID int64, reason string) (int64, error) {
	n, err := s.store.RevokeUserTokens(ctx, userID, reason, time.Now())
	if err != nil {
		return 0, err
	}
	metrics.TokensRevoked.Add(float64(n))
	if n > 0 {
		s.publish(events.EventTokenRevoked, "", userID)
	}
	s.logger.Info().Int64("user", userID).Int64("revoked", n).Str("reason", reason).Msg("user tokens revoked")
	return n, nil
}

// RevokeDevice tombstones the user's tokens on one device.
func (s *Service) RevokeDevice(ctx context.Context, userID int64, deviceID, reason string) (int64, error) {
	n, err := s.store.RevokeDeviceTokens(ctx, userID, deviceID, reason, time.Now())
	if err != nil {
		return 0, err
	}
	metrics.TokensRevoked.Add(float64(n))
	if n > 0 {
		s.publish(events.EventTokenRevoked, "", userID)
	}
	return n, nil
}

// Cleanup deletes rows whose expiry is past the grace window. The
// token-cleanup scheduler job calls this; re-running it is harmless.
func (s *Service) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.store.DeleteExpiredTokens(ctx, now.Add(-cleanupGrace))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Msg("expired tokens purged")
	}
	return n, nil
}

func (s *Service) publish(evType events.EventType, jti string, userID int64) {
	if s.broker == nil {
		return
	}
	data := map[string]string{}
	if jti != "" {
		data["jti"] = jti
	}
	if userID != 0 {
		data["user"] = strconv.FormatInt(userID, 10)
	}
	s.broker.Publish(events.TopicAuthToken, evType, data)
}
