package files

import (
	"context"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/metrics"
	"github.com/baluhost/baluhost/pkg/types"
)

// Quota returns the user's allowance, materialising the default row on
// first use.
func (s *Service) Quota(ctx context.Context, userID int64) (*types.Quota, error) {
	q, err := s.store.GetQuota(ctx, userID)
	if err == nil {
		return q, nil
	}
	if !errdefs.IsKind(err, errdefs.KindNotFound) {
		return nil, err
	}

	q = &types.Quota{UserID: userID, LimitBytes: s.cfg.PerUserQuotaBytes}
	if err := s.store.UpsertQuota(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// SetQuota changes a user's limit. The used counter is untouched; a limit
// below current usage just blocks further writes.
func (s *Service) SetQuota(ctx context.Context, userID, limitBytes int64) error {
	const op = "files.SetQuota"

	if limitBytes <= 0 {
		return errdefs.Errorf(errdefs.KindInvalidArg, "%s: limit must be positive, got %d", op, limitBytes)
	}
	q, err := s.Quota(ctx, userID)
	if err != nil {
		return err
	}
	q.LimitBytes = limitBytes
	return s.store.UpsertQuota(ctx, q)
}

// admit rejects a write of delta additional bytes that would push the
// user past their limit. Shrinking writes always pass.
func (s *Service) admit(ctx context.Context, userID, delta int64) error {
	const op = "files.admit"

	if delta <= 0 {
		return nil
	}
	q, err := s.Quota(ctx, userID)
	if err != nil {
		return err
	}
	if q.UsedBytes+delta > q.LimitBytes {
		metrics.QuotaRejections.Inc()
		return errdefs.Errorf(errdefs.KindQuotaExceeded, "%s: %d + %d exceeds limit %d",
			op, q.UsedBytes, delta, q.LimitBytes)
	}
	return nil
}
