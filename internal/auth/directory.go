package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"daleel.org/internal/ids"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 64
)

// NewUser is the input to Directory.CreateUser. Password is plaintext.
type NewUser struct {
	Username string
	Email    string
	Password string
	Role     Role
	Inactive bool
}

// Directory administers accounts: creation, listing, activation and soft deletion.
type Directory struct {
	store  UserDirectory
	hasher *Hasher
	now    func() time.Time
}

// NewDirectory constructs a Directory.
func NewDirectory(store UserDirectory, hasher *Hasher) (*Directory, error) {
	if store == nil {
		return nil, errors.New("auth: user directory store is required")
	}
	if hasher == nil {
		return nil, errors.New("auth: password hasher is required")
	}
	return &Directory{store: store, hasher: hasher, now: time.Now}, nil
}

// CreateUser validates input, hashes the password and stores a new user.
// Usernames are unique across deleted users too.
func (d *Directory) CreateUser(ctx context.Context, in NewUser) (*User, error) {
	username, err := normalizeUsername(in.Username)
	if err != nil {
		return nil, err
	}
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email != "" && !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	role := in.Role
	if role == "" {
		role = RoleUser
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if _, err := d.store.GetByUsername(ctx, username, true); err == nil {
		return nil, fmt.Errorf("%w: username %q is taken", ErrConflict, username)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	hash, err := d.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := d.now().UTC()
	user := &User{
		ID:           ids.New(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     !in.Inactive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := d.store.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// EnsureUser creates in unless the username already exists. The boolean
// reports whether a user was created.
func (d *Directory) EnsureUser(ctx context.Context, in NewUser) (*User, bool, error) {
	username, err := normalizeUsername(in.Username)
	if err != nil {
		return nil, false, err
	}
	existing, err := d.store.GetByUsername(ctx, username, true)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	user, err := d.CreateUser(ctx, in)
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

func (d *Directory) ListUsers(ctx context.Context, includeDeleted bool) ([]*User, error) {
	return d.store.List(ctx, includeDeleted)
}

func (d *Directory) GetUser(ctx context.Context, id string, includeDeleted bool) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return d.store.GetByID(ctx, id, includeDeleted)
}

// SetActive activates or deactivates a user. Deactivation takes effect on the
// next token validation or refresh.
func (d *Directory) SetActive(ctx context.Context, id string, active bool) (*User, error) {
	user, err := d.GetUser(ctx, id, false)
	if err != nil {
		return nil, err
	}
	user.IsActive = active
	if err := d.store.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteUser soft-deletes a user.
func (d *Directory) DeleteUser(ctx context.Context, id string) error {
	user, err := d.GetUser(ctx, id, false)
	if err != nil {
		return err
	}
	now := d.now().UTC()
	user.DeletedAt = &now
	return d.store.Update(ctx, user)
}

// RestoreUser clears the soft-delete marker.
func (d *Directory) RestoreUser(ctx context.Context, id string) (*User, error) {
	user, err := d.GetUser(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if !user.Deleted() {
		return nil, fmt.Errorf("%w: user is not deleted", ErrInvalidInput)
	}
	user.DeletedAt = nil
	if err := d.store.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func normalizeUsername(raw string) (string, error) {
	username := strings.TrimSpace(raw)
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return "", fmt.Errorf("%w: username must be %d-%d characters", ErrInvalidInput, minUsernameLen, maxUsernameLen)
	}
	for _, r := range username {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.' {
			continue
		}
		return "", fmt.Errorf("%w: username contains %q", ErrInvalidInput, r)
	}
	return username, nil
}
