package tokens

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/store"
	"github.com/baluhost/baluhost/pkg/types"
)

func newServiceForTest(t *testing.T, ttl time.Duration) (*Service, store.Store, int64) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "tokens.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))

	user := &types.User{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "x",
		Role:         types.RoleUser,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, st.CreateUser(ctx, user))

	return New(st, nil, ttl), st, user.ID
}

func TestIssueVerifyRevokeRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _, userID := newServiceForTest(t, time.Hour)

	token, jti, err := svc.Issue(ctx, userID, "laptop", "10.0.0.2", "curl/8")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.NotEmpty(t, jti)

	rec, err := svc.Verify(ctx, jti, token)
	require.NoError(t, err)
	assert.Equal(t, userID, rec.UserID)
	assert.Equal(t, "laptop", rec.DeviceID)

	// Verification touched the record.
	rec, err = svc.Verify(ctx, jti, token)
	require.NoError(t, err)
	require.NotNil(t, rec.LastUsedAt)

	require.NoError(t, svc.Revoke(ctx, jti, "logout"))
	_, err = svc.Verify(ctx, jti, token)
	assert.Equal(t, errdefs.KindTokenRevoked, errdefs.KindOf(err))
}

func TestVerifyUnknownJTI(t *testing.T) {
	svc, _, _ := newServiceForTest(t, time.Hour)
	_, err := svc.Verify(context.Background(), "no-such-jti", "whatever")
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
}

func TestVerifyWrongTokenBytes(t *testing.T) {
	ctx := context.Background()
	svc, _, userID := newServiceForTest(t, time.Hour)

	_, jti, err := svc.Issue(ctx, userID, "laptop", "", "")
	require.NoError(t, err)

	// A second token's bytes do not verify under the first token's JTI.
	other, _, err := svc.Issue(ctx, userID, "phone", "", "")
	require.NoError(t, err)

	_, err = svc.Verify(ctx, jti, other)
	assert.Equal(t, errdefs.KindUnauthenticated, errdefs.KindOf(err))
}

func TestVerifyExpired(t *testing.T) {
	ctx := context.Background()
	svc, _, userID := newServiceForTest(t, -time.Minute)

	token, jti, err := svc.Issue(ctx, userID, "laptop", "", "")
	require.NoError(t, err)

	_, err = svc.Verify(ctx, jti, token)
	assert.Equal(t, errdefs.KindTokenExpired, errdefs.KindOf(err))
}

func TestRevokeAllForUserKillsEverySession(t *testing.T) {
	ctx := context.Background()
	svc, _, userID := newServiceForTest(t, time.Hour)

	type session struct{ token, jti string }
	var sessions []session
	for _, device := range []string{"laptop", "phone", "tablet"} {
		token, jti, err := svc.Issue(ctx, userID, device, "", "")
		require.NoError(t, err)
		sessions = append(sessions, session{token, jti})
	}

	n, err := svc.RevokeAllForUser(ctx, userID, "password change")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, s := range sessions {
		_, err := svc.Verify(ctx, s.jti, s.token)
		assert.Equal(t, errdefs.KindTokenRevoked, errdefs.KindOf(err))
	}

	// A fresh login works immediately after the sweep.
	token, jti, err := svc.Issue(ctx, userID, "laptop", "", "")
	require.NoError(t, err)
	_, err = svc.Verify(ctx, jti, token)
	assert.NoError(t, err)
}

func TestRevokeDeviceLeavesOtherDevicesAlone(t *testing.T) {
	ctx := context.Background()
	svc, _, userID := newServiceForTest(t, time.Hour)

	lapTok, lapJTI, err := svc.Issue(ctx, userID, "laptop", "", "")
	require.NoError(t, err)
	phoneTok, phoneJTI, err := svc.Issue(ctx, userID, "phone", "", "")
	require.NoError(t, err)

	n, err := svc.RevokeDevice(ctx, userID, "phone", "device lost")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = svc.Verify(ctx, phoneJTI, phoneTok)
	assert.Equal(t, errdefs.KindTokenRevoked, errdefs.KindOf(err))
	_, err = svc.Verify(ctx, lapJTI, lapTok)
	assert.NoError(t, err)
}

func TestCleanupHonoursGrace(t *testing.T) {
	ctx := context.Background()
	svc, st, userID := newServiceForTest(t, time.Hour)

	// Expired long past the grace window.
	stale := &types.RefreshToken{
		JTI:       "stale",
		UserID:    userID,
		Hash:      []byte{1},
		IssuedAt:  time.Now().Add(-72 * time.Hour),
		ExpiresAt: time.Now().Add(-48 * time.Hour),
	}
	require.NoError(t, st.CreateRefreshToken(ctx, stale))

	// Expired, but still inside the grace window.
	recent := &types.RefreshToken{
		JTI:       "recent",
		UserID:    userID,
		Hash:      []byte{2},
		IssuedAt:  time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, st.CreateRefreshToken(ctx, recent))

	n, err := svc.Cleanup(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = st.GetRefreshToken(ctx, "stale")
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
	_, err = st.GetRefreshToken(ctx, "recent")
	assert.NoError(t, err)

	// A second pass finds nothing left to delete.
	n, err = svc.Cleanup(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}
