package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"daleel.org/internal/auth"
)

type stubAuthenticator struct {
	user *auth.User
	err  error
}

func (s stubAuthenticator) CurrentUser(context.Context, string) (*auth.User, error) {
	return s.user, s.err
}

func protectedRecorder(t *testing.T, authn auth.Authenticator, req auth.Requirement, header string) *httptest.ResponseRecorder {
	t.Helper()
	guard, err := auth.NewGuard(authn, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	a := &API{guard: guard, logger: zaptest.NewLogger(t)}
	h := a.protect(req, func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			t.Fatalf("principal missing from context")
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": user.ID})
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if header != "" {
		r.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	return rr
}

func TestProtectStatusCodes(t *testing.T) {
	active := &auth.User{ID: "u1", Role: auth.RoleUser, IsActive: true}
	asleep := &auth.User{ID: "u2", Role: auth.RoleUser, IsActive: false}

	cases := []struct {
		name       string
		authn      stubAuthenticator
		req        auth.Requirement
		header     string
		wantStatus int
		wantError  string
		wantChalg  bool
	}{
		{"no header", stubAuthenticator{user: active}, auth.Authenticated(), "", http.StatusUnauthorized, "missing credentials", true},
		{"wrong scheme", stubAuthenticator{user: active}, auth.Authenticated(), "Basic abc", http.StatusUnauthorized, "missing credentials", true},
		{"invalid token", stubAuthenticator{err: auth.ErrTokenExpired}, auth.Authenticated(), "Bearer t", http.StatusUnauthorized, "invalid credentials", true},
		{"inactive", stubAuthenticator{user: asleep}, auth.Authenticated(), "Bearer t", http.StatusBadRequest, "inactive user", false},
		{"missing permission", stubAuthenticator{user: active}, auth.RequirePermissions(auth.PermCreateUser), "Bearer t", http.StatusForbidden, "insufficient permissions", false},
		{"wrong role", stubAuthenticator{user: active}, auth.RequireRole(auth.RoleGlobalAdmin), "Bearer t", http.StatusForbidden, "insufficient permissions", false},
		{"store failure", stubAuthenticator{err: errors.New("db down")}, auth.Authenticated(), "Bearer t", http.StatusInternalServerError, "internal error", false},
		{"allowed", stubAuthenticator{user: active}, auth.RequirePermissions(auth.PermQueryAssets), "bearer t", http.StatusOK, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := protectedRecorder(t, tc.authn, tc.req, tc.header)
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rr.Code, rr.Body.String())
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if tc.wantError != "" && body["error"] != tc.wantError {
				t.Fatalf("expected error %q, got %v", tc.wantError, body["error"])
			}
			if got := rr.Header().Get("WWW-Authenticate") != ""; got != tc.wantChalg {
				t.Fatalf("WWW-Authenticate present=%v, want %v", got, tc.wantChalg)
			}
		})
	}
}

func TestProtectReportsRequiredRole(t *testing.T) {
	user := &auth.User{ID: "u1", Role: auth.RoleDomainAdmin, IsActive: true}
	rr := protectedRecorder(t, stubAuthenticator{user: user}, auth.RequireRole(auth.RoleGlobalAdmin), "Bearer t")
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["required_role"] != "global_admin" {
		t.Fatalf("unexpected body: %v", body)
	}
	if _, ok := body["missing_permissions"]; ok {
		t.Fatalf("role failures do not list permissions: %v", body)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		"Bearer":           "",
		"Bearer ":          "",
		"Bearer abc":       "abc",
		"bearer abc":       "abc",
		"BEARER  abc ":     "abc",
		"Basic dXNlcg==":   "",
		"Token abc":        "",
		"  Bearer xyz.123": "xyz.123",
	}
	for header, want := range cases {
		if got := extractBearerToken(header); got != want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
