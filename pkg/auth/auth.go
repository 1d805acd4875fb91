package auth

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/baluhost/baluhost/pkg/config"
	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/log"
	"github.com/baluhost/baluhost/pkg/store"
	"github.com/baluhost/baluhost/pkg/tokens"
	"github.com/baluhost/baluhost/pkg/types"
)

const (
	lockoutThreshold = 5
	lockoutWindow    = 15 * time.Minute
)

// Session is everything a successful login hands the collaborator.
type Session struct {
	User         *types.User
	AccessToken  string
	RefreshToken string
	JTI          string
}

// Service binds accounts, password policy, and the two token kinds.
type Service struct {
	store       store.Store
	tokens      *tokens.Service
	access      *AccessTokens
	minPassword int
	logger      zerolog.Logger
}

// New wires the auth service from config.
func New(cfg *config.Config, st store.Store, tok *tokens.Service) (*Service, error) {
	access, err := NewAccessTokens(cfg.AccessTokenSecret, cfg.TokenTTL())
	if err != nil {
		return nil, err
	}
	return &Service{
		store:       st,
		tokens:      tok,
		access:      access,
		minPassword: cfg.PasswordMinLength,
		logger:      log.WithComponent("auth"),
	}, nil
}

// CreateUser registers an account. Usernames are unique case-insensitively;
// the password policy applies.
func (s *Service) CreateUser(ctx context.Context, username, email, password string, role types.UserRole) (*types.User, error) {
	const op = "auth.CreateUser"

	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errdefs.Errorf(errdefs.KindInvalidArg, "%s: empty username", op)
	}
	if err := s.checkPassword(op, password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindBug, op)
	}

	user := &types.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info().Str("username", username).Str("role", string(role)).Msg("user created")
	return user, nil
}

// Login verifies credentials and opens a session. Unknown usernames and
// wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password, deviceID, ip, userAgent string) (*Session, error) {
	const op = "auth.Login"

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errdefs.IsKind(err, errdefs.KindNotFound) {
			return nil, errdefs.Errorf(errdefs.KindUnauthenticated, "%s: bad credentials", op)
		}
		return nil, err
	}

	now := time.Now()
	if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
		return nil, errdefs.Errorf(errdefs.KindForbidden, "%s: account locked until %s",
			op, user.LockedUntil.Format(time.RFC3339))
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		failed := user.FailedLoginCount + 1
		var lockedUntil *time.Time
		if failed >= lockoutThreshold {
			until := now.Add(lockoutWindow)
			lockedUntil = &until
			failed = 0
			s.logger.Warn().Str("username", user.Username).Msg("account locked after repeated failures")
		}
		if uerr := s.store.UpdateUserLoginState(ctx, user.ID, failed, lockedUntil); uerr != nil {
			s.logger.Error().Err(uerr).Int64("user", user.ID).Msg("failed to record login failure")
		}
		return nil, errdefs.Errorf(errdefs.KindUnauthenticated, "%s: bad credentials", op)
	}

	if user.FailedLoginCount > 0 || user.LockedUntil != nil {
		if uerr := s.store.UpdateUserLoginState(ctx, user.ID, 0, nil); uerr != nil {
			s.logger.Error().Err(uerr).Int64("user", user.ID).Msg("failed to reset login state")
		}
	}

	accessToken, err := s.access.Issue(user)
	if err != nil {
		return nil, err
	}
	refreshToken, jti, err := s.tokens.Issue(ctx, user.ID, deviceID, ip, userAgent)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("username", user.Username).Str("device", deviceID).Msg("login")
	return &Session{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		JTI:          jti,
	}, nil
}

// VerifyAccess validates an access token.
func (s *Service) VerifyAccess(tokenString string) (*Claims, error) {
	return s.access.Verify(tokenString)
}

// ChangePassword swaps the hash after verifying the current password, then
// revokes every live session so stolen refresh tokens die with the old
// password.
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	const op = "auth.ChangePassword"

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return errdefs.Errorf(errdefs.KindUnauthenticated, "%s: current password mismatch", op)
	}
	if err := s.checkPassword(op, next); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindBug, op)
	}
	if err := s.store.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return err
	}

	if _, err := s.tokens.RevokeAllForUser(ctx, userID, "password change"); err != nil {
		return err
	}
	s.logger.Info().Int64("user", userID).Msg("password changed, sessions revoked")
	return nil
}

func (s *Service) checkPassword(op, password string) error {
	if len(password) < s.minPassword {
		return errdefs.Errorf(errdefs.KindInvalidArg, "%s: password shorter than %d characters", op, s.minPassword)
	}
	return nil
}
