package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"daleel.org/internal/obs"
)

// Rejection reasons recorded in logs and metrics. They are never returned to callers.
const (
	reasonEmptyCredentials = "empty_credentials"
	reasonUnknownUser      = "unknown_user"
	reasonInactiveUser     = "inactive_user"
	reasonBadPassword      = "bad_password"
	reasonWrongType        = "wrong_type"
	reasonUserUnavailable  = "user_unavailable"
)

// timingPassword is hashed once so unknown usernames cost as much as real ones.
const timingPassword = "daleel-timing-equaliser"

// Service implements login, refresh, password changes and token-to-user resolution.
type Service struct {
	users      UserStore
	tokens     *TokenManager
	hasher     *Hasher
	logger     *zap.Logger
	now        func() time.Time
	timingHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service. All collaborators are required.
func NewService(users UserStore, tokens *TokenManager, hasher *Hasher, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, errors.New("auth: user store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token manager is required")
	}
	if hasher == nil {
		return nil, errors.New("auth: password hasher is required")
	}
	svc := &Service{
		users:  users,
		tokens: tokens,
		hasher: hasher,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	hash, err := hasher.Hash(timingPassword)
	if err != nil {
		return nil, err
	}
	svc.timingHash = hash
	return svc, nil
}

// Login authenticates username and password and issues a fresh token pair.
// Unknown, inactive and wrong-password users all yield ErrUnauthorized.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if username == "" || password == "" {
		return nil, s.rejectLogin(reasonEmptyCredentials, username)
	}
	user, err := s.users.GetByUsername(ctx, username, false)
	if errors.Is(err, ErrNotFound) {
		s.hasher.Verify(password, s.timingHash)
		return nil, s.rejectLogin(reasonUnknownUser, username)
	}
	if err != nil {
		return nil, fmt.Errorf("auth: load user: %w", err)
	}
	if !user.IsActive {
		s.hasher.Verify(password, s.timingHash)
		return nil, s.rejectLogin(reasonInactiveUser, username)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, s.rejectLogin(reasonBadPassword, username)
	}

	now := s.now().UTC()
	if err := s.users.RecordLogin(ctx, user.ID, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Deactivated or deleted after it was read.
			return nil, s.rejectLogin(reasonInactiveUser, username)
		}
		return nil, fmt.Errorf("auth: record login: %w", err)
	}
	user.LastLogin = &now
	pair, err := s.tokens.IssuePair(user.ID, user.Username, user.Role)
	if err != nil {
		return nil, err
	}
	obs.ObserveLogin("success")
	s.logger.Info("login succeeded",
		zap.String("user_id", user.ID),
		zap.String("role", string(user.Role)),
	)
	return &LoginResult{Tokens: pair, User: user.Summary()}, nil
}

// Refresh exchanges a valid refresh token for a brand-new pair. The user is
// re-read so deactivation and deletion take effect immediately.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.Decode(refreshToken)
	if err != nil {
		s.rejectToken("refresh", err, "")
		return nil, ErrUnauthorized
	}
	if claims.TokenType != TokenRefresh {
		s.rejectToken("refresh", errWrongType, claims.UserID)
		return nil, ErrUnauthorized
	}
	user, err := s.liveUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			s.rejectToken("refresh", err, claims.UserID)
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	pair, err := s.tokens.IssuePair(user.ID, user.Username, user.Role)
	if err != nil {
		return nil, err
	}
	s.logger.Info("tokens refreshed", zap.String("user_id", user.ID))
	return &pair, nil
}

// ChangePassword replaces the password after verifying the current one.
// Existing tokens stay valid until they expire.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.users.GetByID(ctx, userID, false)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(current, user.PasswordHash) {
		return fmt.Errorf("%w: incorrect current password", ErrBadRequest)
	}
	if err := s.setPassword(ctx, user, next); err != nil {
		return err
	}
	s.logger.Info("password changed", zap.String("user_id", user.ID))
	return nil
}

// ResetPassword sets a new password without checking the old one. Callers
// must restrict it to global administrators.
func (s *Service) ResetPassword(ctx context.Context, userID, next string) error {
	user, err := s.users.GetByID(ctx, userID, false)
	if err != nil {
		return err
	}
	if err := s.setPassword(ctx, user, next); err != nil {
		return err
	}
	s.logger.Info("password reset", zap.String("user_id", user.ID))
	return nil
}

// CurrentUser resolves an access token to its live, active user. Every
// "no user" outcome is reported as an error matching ErrInvalidToken; any
// other error is a store failure.
func (s *Service) CurrentUser(ctx context.Context, token string) (*User, error) {
	claims, err := s.tokens.Decode(token)
	if err != nil {
		s.rejectToken("access", err, "")
		return nil, err
	}
	if claims.TokenType != TokenAccess {
		s.rejectToken("access", errWrongType, claims.UserID)
		return nil, errWrongType
	}
	user, err := s.liveUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			s.rejectToken("access", err, claims.UserID)
		}
		return nil, err
	}
	return user, nil
}

var (
	errWrongType       = fmt.Errorf("%w: wrong token type", ErrInvalidToken)
	errUserUnavailable = fmt.Errorf("%w: user unavailable", ErrInvalidToken)
)

func (s *Service) liveUser(ctx context.Context, id string) (*User, error) {
	user, err := s.users.GetByID(ctx, id, false)
	if errors.Is(err, ErrNotFound) {
		return nil, errUserUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("auth: load user: %w", err)
	}
	if !user.IsActive {
		return nil, errUserUnavailable
	}
	return user, nil
}

func (s *Service) setPassword(ctx context.Context, user *User, next string) error {
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.UpdatedAt = s.now().UTC()
	return s.users.Update(ctx, user)
}

func (s *Service) rejectLogin(reason, username string) error {
	obs.ObserveLogin(reason)
	s.logger.Info("login rejected",
		zap.String("reason", reason),
		zap.String("username", username),
	)
	return ErrUnauthorized
}

func (s *Service) rejectToken(purpose string, err error, userID string) {
	reason := rejectionReason(err)
	obs.ObserveTokenRejection(reason)
	s.logger.Debug("token rejected",
		zap.String("purpose", purpose),
		zap.String("reason", reason),
		zap.String("user_id", userID),
	)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenSignature):
		return "signature"
	case errors.Is(err, errWrongType):
		return reasonWrongType
	case errors.Is(err, errUserUnavailable):
		return reasonUserUnavailable
	default:
		return "malformed"
	}
}
