package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Authenticator resolves a bearer token to its live user.
type Authenticator interface {
	CurrentUser(ctx context.Context, token string) (*User, error)
}

// Requirement describes what a principal must hold to pass the guard.
type Requirement struct {
	role        Role
	permissions []Permission
}

// Authenticated admits any active user.
func Authenticated() Requirement { return Requirement{} }

// RequirePermissions admits users whose role grants every listed permission.
func RequirePermissions(perms ...Permission) Requirement {
	return Requirement{permissions: perms}
}

// RequireRole admits only users holding exactly role.
func RequireRole(role Role) Requirement {
	return Requirement{role: role}
}

func (r Requirement) check(user *User) error {
	if r.role != "" && user.Role != r.role {
		return &PermissionError{Role: user.Role, RequiredRole: r.role}
	}
	if missing := MissingPermissions(user.Role, r.permissions...); len(missing) > 0 {
		return &PermissionError{Role: user.Role, Missing: missing}
	}
	return nil
}

// Guard applies the authentication and authorization checks in front of a
// protected operation. It holds no per-request state.
type Guard struct {
	authn  Authenticator
	logger *zap.Logger
}

// NewGuard constructs a Guard.
func NewGuard(authn Authenticator, logger *zap.Logger) (*Guard, error) {
	if authn == nil {
		return nil, errors.New("auth: authenticator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{authn: authn, logger: logger}, nil
}

// Authorize resolves token and checks req. Errors match, in order of the
// checks: ErrMissingCredentials, ErrInvalidCredentials, ErrInactiveUser and
// ErrForbidden (as *PermissionError). Anything else is an internal failure.
func (g *Guard) Authorize(ctx context.Context, token string, req Requirement) (*User, error) {
	if token == "" {
		return nil, ErrMissingCredentials
	}
	user, err := g.authn.CurrentUser(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("auth: resolve principal: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}
	if err := req.check(user); err != nil {
		g.logger.Info("access denied",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
		return nil, err
	}
	return user, nil
}
