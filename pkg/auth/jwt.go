package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/types"
)

// Claims is the access-token payload: subject is the user ID, plus the
// role for coarse authorisation without a store round trip.
type Claims struct {
	Role types.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// UserID decodes the subject.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, errdefs.Wrap(err, errdefs.KindUnauthenticated, "auth.UserID")
	}
	return id, nil
}

// AccessTokens mints and verifies HS256 access tokens.
type AccessTokens struct {
	secret []byte
	ttl    time.Duration
}

// NewAccessTokens builds a signer around a shared secret.
func NewAccessTokens(secret string, ttl time.Duration) (*AccessTokens, error) {
	if secret == "" {
		return nil, errdefs.Errorf(errdefs.KindInvalidArg, "auth.NewAccessTokens: empty signing secret")
	}
	return &AccessTokens{secret: []byte(secret), ttl: ttl}, nil
}

// Issue signs a token for the user, valid for the configured TTL.
func (a *AccessTokens) Issue(user *types.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errdefs.Wrap(err, errdefs.KindBug, "auth.AccessTokens.Issue")
	}
	return signed, nil
}

// Verify parses and validates a token with zero leeway.
func (a *AccessTokens) Verify(tokenString string) (*Claims, error) {
	const op = "auth.AccessTokens.Verify"

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errdefs.Errorf(errdefs.KindUnauthenticated, "%s: unexpected signing method %s", op, t.Method.Alg())
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errdefs.Wrap(err, errdefs.KindTokenExpired, op)
		}
		return nil, errdefs.Wrap(err, errdefs.KindUnauthenticated, op)
	}
	return claims, nil
}
