package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"daleel.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// protect runs the guard before h and stores the principal in the request context.
func (a *API) protect(req auth.Requirement, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.guard.Authorize(r.Context(), extractBearerToken(r.Header.Get(authHeader)), req)
		if err != nil {
			a.writeAuthError(w, r, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), user)
		h(w, r.WithContext(ctx))
	})
}

// writeAuthError maps guard outcomes to status codes. Causes of 401s are never exposed.
func (a *API) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *auth.PermissionError
	switch {
	case errors.Is(err, auth.ErrMissingCredentials):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, "missing credentials")
	case errors.Is(err, auth.ErrInvalidCredentials):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrInactiveUser):
		writeError(w, r, http.StatusBadRequest, "inactive user")
	case errors.As(err, &perr):
		extra := map[string]any{}
		if perr.RequiredRole != "" {
			extra["required_role"] = perr.RequiredRole
		}
		if len(perr.Missing) > 0 {
			extra["missing_permissions"] = perr.MissingTags()
		}
		writeErrorWith(w, r, http.StatusForbidden, "insufficient permissions", extra)
	default:
		a.logger.Error("authorization failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// extractBearerToken returns the token from an "Authorization: Bearer" header,
// or "" when the header is absent or uses another scheme.
func extractBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}
