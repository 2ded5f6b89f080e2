package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType separates short-lived access tokens from refresh tokens.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims represents JWT claims used across the service.
type Claims struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// CodecConfig is supplied at process start. Secret has no default.
type CodecConfig struct {
	Secret    []byte
	Algorithm string
	Issuer    string
	// Now overrides the clock used for expiry checks.
	Now func() time.Time
}

// Codec signs and verifies HMAC JWTs with a pinned algorithm.
type Codec struct {
	secret []byte
	method jwt.SigningMethod
	issuer string
	now    func() time.Time
}

// NewCodec validates cfg and returns a Codec.
func NewCodec(cfg CodecConfig) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	alg := strings.ToUpper(strings.TrimSpace(cfg.Algorithm))
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("auth: unsupported signing algorithm %q", cfg.Algorithm)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	return &Codec{
		secret: secret,
		method: method,
		issuer: strings.TrimSpace(cfg.Issuer),
		now:    now,
	}, nil
}

// Algorithm returns the pinned JWS algorithm name.
func (c *Codec) Algorithm() string { return c.method.Alg() }

// Encode signs claims. UserID, Role, TokenType and both timestamps are required.
// Subject, ID and Issuer are filled in when empty.
func (c *Codec) Encode(claims Claims) (string, error) {
	if strings.TrimSpace(claims.UserID) == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if claims.Role == "" {
		return "", fmt.Errorf("%w: role is required", ErrInvalidInput)
	}
	if claims.TokenType != TokenAccess && claims.TokenType != TokenRefresh {
		return "", fmt.Errorf("%w: unknown token type %q", ErrInvalidInput, claims.TokenType)
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil || !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return "", fmt.Errorf("%w: expiry must follow issued-at", ErrInvalidInput)
	}
	if claims.Subject == "" {
		claims.Subject = claims.UserID
	}
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
	if claims.Issuer == "" {
		claims.Issuer = c.issuer
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature before trusting any claim, then checks expiry
// and required fields. Failures wrap ErrTokenMalformed, ErrTokenSignature or
// ErrTokenExpired, all of which match ErrInvalidToken.
func (c *Codec) Decode(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != c.method.Alg() {
			return nil, ErrTokenSignature
		}
		return c.secret, nil
	}, opts...)
	if err != nil {
		return nil, classifyJWTError(err)
	}
	if !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if strings.TrimSpace(claims.UserID) == "" || claims.Role == "" || claims.IssuedAt == nil {
		return nil, ErrTokenMalformed
	}
	if claims.TokenType != TokenAccess && claims.TokenType != TokenRefresh {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenMalformed
	}
}
