package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"daleel.org/internal/auth"
)

var _ auth.UserDirectory = (*Users)(nil)

// Users implements auth.UserDirectory with in-process concurrency safety.
// Callers always receive copies; mutations only land through Update.
type Users struct {
	mu         sync.RWMutex
	byID       map[string]*auth.User
	byUsername map[string]string
	now        func() time.Time
}

// NewUsers creates an empty store.
func NewUsers() *Users {
	return &Users{
		byID:       make(map[string]*auth.User),
		byUsername: make(map[string]string),
		now:        time.Now,
	}
}

// WithClock overrides the clock used to bump UpdatedAt.
func (s *Users) WithClock(fn func() time.Time) *Users {
	if fn != nil {
		s.now = fn
	}
	return s
}

func (s *Users) Create(ctx context.Context, u *auth.User) error {
	if u == nil || u.ID == "" || u.Username == "" {
		return fmt.Errorf("%w: id and username are required", auth.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[u.ID]; ok {
		return fmt.Errorf("%w: user %s", auth.ErrConflict, u.ID)
	}
	if _, ok := s.byUsername[u.Username]; ok {
		return fmt.Errorf("%w: username %q", auth.ErrConflict, u.Username)
	}
	stored := u.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	s.byID[stored.ID] = stored
	s.byUsername[stored.Username] = stored.ID
	return nil
}

func (s *Users) GetByID(ctx context.Context, id string, includeDeleted bool) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok || (u.Deleted() && !includeDeleted) {
		return nil, auth.ErrNotFound
	}
	return u.Clone(), nil
}

func (s *Users) GetByUsername(ctx context.Context, username string, includeDeleted bool) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[username]
	if !ok {
		return nil, auth.ErrNotFound
	}
	u := s.byID[id]
	if u.Deleted() && !includeDeleted {
		return nil, auth.ErrNotFound
	}
	return u.Clone(), nil
}

// Update replaces the stored record and bumps UpdatedAt on both the stored
// copy and u. Username and CreatedAt are immutable.
func (s *Users) Update(ctx context.Context, u *auth.User) error {
	if u == nil {
		return fmt.Errorf("%w: user is required", auth.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[u.ID]
	if !ok {
		return auth.ErrNotFound
	}
	u.UpdatedAt = s.now().UTC()
	u.Username = current.Username
	u.CreatedAt = current.CreatedAt
	s.byID[u.ID] = u.Clone()
	return nil
}

func (s *Users) RecordLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok || u.Deleted() || !u.IsActive {
		return auth.ErrNotFound
	}
	at = at.UTC()
	u.LastLogin = &at
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Users) List(ctx context.Context, includeDeleted bool) ([]*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*auth.User, 0, len(s.byID))
	for _, u := range s.byID {
		if u.Deleted() && !includeDeleted {
			continue
		}
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
