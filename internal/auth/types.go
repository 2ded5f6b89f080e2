package auth

import (
	"context"
	"time"
)

// User is an account able to authenticate against the service.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
	LastLogin    *time.Time
}

// Deleted reports whether the user has been soft-deleted.
func (u *User) Deleted() bool { return u.DeletedAt != nil }

// Summary returns the redacted view handed to clients.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
		IsActive: u.IsActive,
	}
}

// Clone returns a deep copy safe to hand across goroutines.
func (u *User) Clone() *User {
	out := *u
	if u.DeletedAt != nil {
		t := *u.DeletedAt
		out.DeletedAt = &t
	}
	if u.LastLogin != nil {
		t := *u.LastLogin
		out.LastLogin = &t
	}
	return &out
}

// UserSummary never carries the password hash.
type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"is_active"`
}

// LoginResult is returned by a successful Service.Login.
type LoginResult struct {
	Tokens TokenPair
	User   UserSummary
}

// UserStore is the persistence contract the auth core depends on.
// Soft-deleted users are reported as ErrNotFound unless includeDeleted is set.
type UserStore interface {
	GetByID(ctx context.Context, id string, includeDeleted bool) (*User, error)
	GetByUsername(ctx context.Context, username string, includeDeleted bool) (*User, error)
	// Update persists mutable fields and bumps UpdatedAt.
	Update(ctx context.Context, u *User) error
	// RecordLogin sets LastLogin only, and only while the user is active and
	// not deleted. Any other state yields ErrNotFound.
	RecordLogin(ctx context.Context, id string, at time.Time) error
}

// UserDirectory extends UserStore with the operations account administration needs.
type UserDirectory interface {
	UserStore
	Create(ctx context.Context, u *User) error
	List(ctx context.Context, includeDeleted bool) ([]*User, error)
}
