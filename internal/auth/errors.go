package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrBadRequest   = errors.New("auth: bad request")
	ErrInvalidInput = fmt.Errorf("%w: invalid input", ErrBadRequest)
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")

	// ErrInvalidToken is the single outcome callers see for any token that
	// cannot be trusted. The wrapped variants below only matter for logs and tests.
	ErrInvalidToken   = errors.New("auth: invalid token")
	ErrTokenMalformed = fmt.Errorf("%w: malformed", ErrInvalidToken)
	ErrTokenSignature = fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	ErrTokenExpired   = fmt.Errorf("%w: expired", ErrInvalidToken)

	ErrMissingCredentials = fmt.Errorf("%w: missing credentials", ErrUnauthorized)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	ErrInactiveUser       = fmt.Errorf("%w: inactive user", ErrBadRequest)
)

// PermissionError reports a valid identity that lacks a required role or permission.
type PermissionError struct {
	Role         Role
	RequiredRole Role
	Missing      []Permission
}

func (e *PermissionError) Error() string {
	if e.RequiredRole != "" {
		return fmt.Sprintf("auth: forbidden: role %s required", e.RequiredRole)
	}
	return "auth: forbidden: missing permissions " + strings.Join(e.MissingTags(), ", ")
}

// Is lets errors.Is(err, ErrForbidden) match.
func (e *PermissionError) Is(target error) bool {
	return target == ErrForbidden
}

// MissingTags returns the missing permissions as sorted strings.
func (e *PermissionError) MissingTags() []string {
	out := make([]string, 0, len(e.Missing))
	for _, p := range e.Missing {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}
