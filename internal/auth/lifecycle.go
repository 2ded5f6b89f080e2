package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultAccessTTL  = 60 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenManager issues access and refresh tokens with fixed lifetimes.
type TokenManager struct {
	codec      *Codec
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenManagerOption configures TokenManager behavior.
type TokenManagerOption func(*TokenManager) error

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenManagerOption {
	return func(m *TokenManager) error {
		if ttl > 0 {
			m.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenManagerOption {
	return func(m *TokenManager) error {
		if ttl > 0 {
			m.refreshTTL = ttl
		}
		return nil
	}
}

// WithTokenClock overrides the issuing clock (useful for tests).
func WithTokenClock(fn func() time.Time) TokenManagerOption {
	return func(m *TokenManager) error {
		if fn != nil {
			m.now = fn
		}
		return nil
	}
}

// NewTokenManager constructs a TokenManager around codec.
func NewTokenManager(codec *Codec, opts ...TokenManagerOption) (*TokenManager, error) {
	if codec == nil {
		return nil, errors.New("auth: token codec is required")
	}
	m := &TokenManager{
		codec:      codec,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *TokenManager) AccessTTL() time.Duration { return m.accessTTL }

// IssueAccessToken signs an access token for the user.
func (m *TokenManager) IssueAccessToken(userID, username string, role Role) (string, time.Time, error) {
	return m.issue(userID, username, role, TokenAccess, m.accessTTL, m.issuedAt())
}

// IssueRefreshToken signs a refresh token for the user.
func (m *TokenManager) IssueRefreshToken(userID, username string, role Role) (string, time.Time, error) {
	return m.issue(userID, username, role, TokenRefresh, m.refreshTTL, m.issuedAt())
}

// IssuePair signs an access and a refresh token sharing the same issue time.
func (m *TokenManager) IssuePair(userID, username string, role Role) (TokenPair, error) {
	now := m.issuedAt()
	access, accessExp, err := m.issue(userID, username, role, TokenAccess, m.accessTTL, now)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := m.issue(userID, username, role, TokenRefresh, m.refreshTTL, now)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Decode verifies token through the codec.
func (m *TokenManager) Decode(token string) (*Claims, error) {
	return m.codec.Decode(token)
}

// IsExpired reports whether the claims have reached their expiry.
func (m *TokenManager) IsExpired(claims *Claims) bool {
	if claims == nil || claims.ExpiresAt == nil {
		return true
	}
	return !m.now().Before(claims.ExpiresAt.Time)
}

// issuedAt is truncated to whole seconds so returned expiries match what a
// decoded token carries.
func (m *TokenManager) issuedAt() time.Time {
	return m.now().UTC().Truncate(time.Second)
}

func (m *TokenManager) issue(userID, username string, role Role, typ TokenType, ttl time.Duration, now time.Time) (string, time.Time, error) {
	exp := now.Add(ttl).Truncate(time.Second)
	token, err := m.codec.Encode(Claims{
		UserID:    userID,
		Username:  username,
		Role:      role,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}
