package auth_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"daleel.org/internal/auth"
	"daleel.org/internal/store/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	svc    *auth.Service
	users  *memory.Users
	hasher *auth.Hasher
	tokens *auth.TokenManager
	clock  *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	codec, err := auth.NewCodec(auth.CodecConfig{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		Issuer: "daleel",
		Now:    clock.Now,
	})
	require.NoError(t, err)
	tokens, err := auth.NewTokenManager(codec, auth.WithTokenClock(clock.Now))
	require.NoError(t, err)
	hasher, err := auth.NewHasher(auth.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	users := memory.NewUsers().WithClock(clock.Now)
	svc, err := auth.NewService(users, tokens, hasher,
		auth.WithClock(clock.Now),
		auth.WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	return &fixture{svc: svc, users: users, hasher: hasher, tokens: tokens, clock: clock}
}

func (f *fixture) addUser(t *testing.T, id, username, password string, role auth.Role, active bool) *auth.User {
	t.Helper()
	hash, err := f.hasher.Hash(password)
	require.NoError(t, err)
	u := &auth.User{
		ID:           id,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Role:         role,
		IsActive:     active,
	}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}

func (f *fixture) setActive(t *testing.T, id string, active bool) {
	t.Helper()
	u, err := f.users.GetByID(context.Background(), id, true)
	require.NoError(t, err)
	u.IsActive = active
	require.NoError(t, f.users.Update(context.Background(), u))
}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "demo", "demo_password123", auth.RoleDomainAdmin, true)

	res, err := f.svc.Login(context.Background(), "demo", "demo_password123")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Tokens.AccessToken)
	assert.NotEmpty(t, res.Tokens.RefreshToken)
	assert.Equal(t, auth.UserSummary{
		ID:       "u1",
		Username: "demo",
		Email:    "demo@example.com",
		Role:     auth.RoleDomainAdmin,
		IsActive: true,
	}, res.User)

	stored, err := f.users.GetByID(context.Background(), "u1", false)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLogin)
	assert.Equal(t, f.clock.Now(), *stored.LastLogin)

	user, err := f.svc.CurrentUser(context.Background(), res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "demo", "demo_password123", auth.RoleUser, true)
	f.addUser(t, "u2", "sleepy", "demo_password123", auth.RoleUser, false)

	cases := []struct {
		name, username, password string
	}{
		{"wrong password", "demo", "wrong"},
		{"unknown user", "ghost", "demo_password123"},
		{"inactive user", "sleepy", "demo_password123"},
		{"case sensitive username", "Demo", "demo_password123"},
		{"empty password", "demo", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := f.svc.Login(context.Background(), tc.username, tc.password)
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, auth.ErrUnauthorized))
			assert.Equal(t, auth.ErrUnauthorized.Error(), err.Error())
		})
	}
}

func TestLoginIgnoresDeletedUsers(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "u1", "demo", "demo_password123", auth.RoleUser, true)
	deleted := f.clock.Now()
	u.DeletedAt = &deleted
	require.NoError(t, f.users.Update(context.Background(), u))

	_, err := f.svc.Login(context.Background(), "demo", "demo_password123")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestLoginRejectsPasswordSharingBcryptPrefix(t *testing.T) {
	f := newFixture(t)
	stored := strings.Repeat("a", 72)
	f.addUser(t, "u1", "demo", stored, auth.RoleUser, true)

	_, err := f.svc.Login(context.Background(), "demo", stored+"-not-my-password")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = f.svc.Login(context.Background(), "demo", stored)
	assert.NoError(t, err)
}

// racingStore applies change right after the login lookup returns, the way an
// administrator acting between read and write would.
type racingStore struct {
	*memory.Users
	change func(ctx context.Context, u *auth.User)
}

func (s racingStore) GetByUsername(ctx context.Context, username string, includeDeleted bool) (*auth.User, error) {
	u, err := s.Users.GetByUsername(ctx, username, includeDeleted)
	if err == nil {
		s.change(ctx, u.Clone())
	}
	return u, err
}

func TestLoginDoesNotUndoConcurrentAdminChanges(t *testing.T) {
	cases := []struct {
		name   string
		change func(u *auth.User, now time.Time)
		check  func(t *testing.T, stored *auth.User)
	}{
		{
			name:   "deactivation",
			change: func(u *auth.User, _ time.Time) { u.IsActive = false },
			check:  func(t *testing.T, stored *auth.User) { assert.False(t, stored.IsActive) },
		},
		{
			name:   "soft delete",
			change: func(u *auth.User, now time.Time) { u.DeletedAt = &now },
			check:  func(t *testing.T, stored *auth.User) { assert.True(t, stored.Deleted()) },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.addUser(t, "u1", "demo", "demo_password123", auth.RoleUser, true)
			store := racingStore{Users: f.users, change: func(ctx context.Context, u *auth.User) {
				tc.change(u, f.clock.Now())
				require.NoError(t, f.users.Update(ctx, u))
			}}
			svc, err := auth.NewService(store, f.tokens, f.hasher, auth.WithClock(f.clock.Now))
			require.NoError(t, err)

			res, err := svc.Login(context.Background(), "demo", "demo_password123")
			assert.Nil(t, res)
			assert.ErrorIs(t, err, auth.ErrUnauthorized)

			stored, err := f.users.GetByID(context.Background(), "u1", true)
			require.NoError(t, err)
			tc.check(t, stored)
			assert.Nil(t, stored.LastLogin)
		})
	}
}

func TestLoginKeepsConcurrentPasswordChange(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "demo", "demo_password123", auth.RoleUser, true)
	var newHash string
	store := racingStore{Users: f.users, change: func(ctx context.Context, u *auth.User) {
		hash, err := f.hasher.Hash("rotated_password456")
		require.NoError(t, err)
		newHash = hash
		u.PasswordHash = hash
		require.NoError(t, f.users.Update(ctx, u))
	}}
	svc, err := auth.NewService(store, f.tokens, f.hasher, auth.WithClock(f.clock.Now))
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), "demo", "demo_password123")
	require.NoError(t, err)

	stored, err := f.users.GetByID(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.Equal(t, newHash, stored.PasswordHash)
	require.NotNil(t, stored.LastLogin)
}

func TestRefreshRotatesTokens(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "demo", "demo_password123", auth.RoleUser, true)
	res, err := f.svc.Login(context.Background(), "demo", "demo_password123")
	require.NoError(t, err)

	pair, err := f.svc.Refresh(context.Background(), res.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, res.Tokens.AccessToken, pair.AccessToken)
	assert.NotEqual(t, res.Tokens.RefreshToken, pair.RefreshToken)

	// No revocation registry: the old refresh token still works until it expires.
	_, err = f.svc.Refresh(context.Background(), res.Tokens.RefreshToken)
	assert.NoError(t, err)
}

func TestTokenTypeSeparation(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "demo", "demo_password123", auth.RoleUser, true)
	res, err := f.svc.Login(context.Background(), "demo", "demo_password123")
	require.NoError(t, err)

	_, err = f.svc.Refresh(context.Background(), res.Tokens.AccessToken)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = f.svc.CurrentUser(context.Background(), res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestRefreshAfterDeactivation(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "demo", "demo_password123", auth.RoleUser, true)
	refresh, _, err := f.tokens.IssueRefreshToken("u1", "demo", auth.RoleUser)
	require.NoError(t, err)

	f.setActive(t, "u1", false)

	_, err = f.svc.Refresh(context.Background(), refresh)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestRefreshAfterDeletion(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "u1", "demo", "demo_password123", auth.RoleUser, true)
	refresh, _, err := f.tokens.IssueRefreshToken("u1", "demo", auth.RoleUser)
	require.NoError(t, err)

	deleted := f.clock.Now()
	u.DeletedAt = &deleted
	require.NoError(t, f.users.Update(context.Background(), u))

	_, err = f.svc.Refresh(context.Background(), refresh)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestRefreshUsesLiveRole(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "u1", "demo", "demo_password123", auth.RoleUser, true)
	res, err := f.svc.Login(context.Background(), "demo", "demo_password123")
	require.NoError(t, err)

	u.Role = auth.RoleDomainAdmin
	require.NoError(t, f.users.Update(context.Background(), u))

	pair, err := f.svc.Refresh(context.Background(), res.Tokens.RefreshToken)
	require.NoError(t, err)
	claims, err := f.tokens.Decode(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleDomainAdmin, claims.Role)

	// The old access token still names the old role, but resolution reads the store.
	user, err := f.svc.CurrentUser(context.Background(), res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleDomainAdmin, user.Role)
}

func TestRefreshRejectsExpiredToken(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "demo", "demo_password123", auth.RoleUser, true)
	res, err := f.svc.Login(context.Background(), "demo", "demo_password123")
	require.NoError(t, err)

	f.clock.Advance(auth.DefaultRefreshTTL)
	_, err = f.svc.Refresh(context.Background(), res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestCurrentUserNoneOutcomes(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "demo", "demo_password123", auth.RoleUser, true)
	access, _, err := f.tokens.IssueAccessToken("u1", "demo", auth.RoleUser)
	require.NoError(t, err)
	ghost, _, err := f.tokens.IssueAccessToken("u404", "ghost", auth.RoleUser)
	require.NoError(t, err)

	_, err = f.svc.CurrentUser(context.Background(), "garbage")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = f.svc.CurrentUser(context.Background(), ghost)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	f.setActive(t, "u1", false)
	_, err = f.svc.CurrentUser(context.Background(), access)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	f.setActive(t, "u1", true)
	_, err = f.svc.CurrentUser(context.Background(), access)
	require.NoError(t, err)

	f.clock.Advance(auth.DefaultAccessTTL)
	_, err = f.svc.CurrentUser(context.Background(), access)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

type failingStore struct{ auth.UserStore }

func (failingStore) GetByID(context.Context, string, bool) (*auth.User, error) {
	return nil, errors.New("connection reset")
}

func TestCurrentUserSurfacesStoreFailures(t *testing.T) {
	f := newFixture(t)
	svc, err := auth.NewService(failingStore{}, f.tokens, f.hasher)
	require.NoError(t, err)
	access, _, err := f.tokens.IssueAccessToken("u1", "demo", auth.RoleUser)
	require.NoError(t, err)

	_, err = svc.CurrentUser(context.Background(), access)
	require.Error(t, err)
	assert.False(t, errors.Is(err, auth.ErrInvalidToken))
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "demo", "demo_password123", auth.RoleUser, true)
	res, err := f.svc.Login(context.Background(), "demo", "demo_password123")
	require.NoError(t, err)

	err = f.svc.ChangePassword(context.Background(), "u404", "demo_password123", "next")
	assert.ErrorIs(t, err, auth.ErrNotFound)

	err = f.svc.ChangePassword(context.Background(), "u1", "wrong", "next_password")
	assert.ErrorIs(t, err, auth.ErrBadRequest)

	err = f.svc.ChangePassword(context.Background(), "u1", "demo_password123", "")
	assert.ErrorIs(t, err, auth.ErrBadRequest)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.svc.ChangePassword(context.Background(), "u1", "demo_password123", "next_password"))

	stored, err := f.users.GetByID(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), stored.UpdatedAt)

	_, err = f.svc.Login(context.Background(), "demo", "demo_password123")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
	_, err = f.svc.Login(context.Background(), "demo", "next_password")
	assert.NoError(t, err)

	// Tokens issued before the change stay valid until expiry.
	_, err = f.svc.CurrentUser(context.Background(), res.Tokens.AccessToken)
	assert.NoError(t, err)
}

func TestResetPassword(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "demo", "demo_password123", auth.RoleUser, true)

	assert.ErrorIs(t, f.svc.ResetPassword(context.Background(), "u404", "x"), auth.ErrNotFound)
	require.NoError(t, f.svc.ResetPassword(context.Background(), "u1", "reset_password"))

	_, err := f.svc.Login(context.Background(), "demo", "reset_password")
	assert.NoError(t, err)
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	f := newFixture(t)
	_, err := auth.NewService(nil, f.tokens, f.hasher)
	assert.Error(t, err)
	_, err = auth.NewService(f.users, nil, f.hasher)
	assert.Error(t, err)
	_, err = auth.NewService(f.users, f.tokens, nil)
	assert.Error(t, err)
}
