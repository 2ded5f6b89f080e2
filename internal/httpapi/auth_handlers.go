package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"daleel.org/internal/audit"
	"daleel.org/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type tokenResponse struct {
	AccessToken      string            `json:"access_token"`
	RefreshToken     string            `json:"refresh_token"`
	TokenType        string            `json:"token_type"`
	ExpiresIn        int64             `json:"expires_in"`
	AccessExpiresAt  time.Time         `json:"access_expires_at"`
	RefreshExpiresAt time.Time         `json:"refresh_expires_at"`
	User             *auth.UserSummary `json:"user,omitempty"`
}

type userView struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email,omitempty"`
	Role        auth.Role  `json:"role"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLogin   *time.Time `json:"last_login"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	Permissions []string   `json:"permissions,omitempty"`
}

func newUserView(u *auth.User) userView {
	return userView{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		LastLogin: u.LastLogin,
		DeletedAt: u.DeletedAt,
	}
}

func newTokenResponse(pair auth.TokenPair, now time.Time) tokenResponse {
	return tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "bearer",
		ExpiresIn:        int64(pair.AccessExpiresAt.Sub(now).Seconds()),
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.auth.Login(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if errors.Is(err, auth.ErrUnauthorized) {
		a.audit(r, audit.EventLoginFailed, map[string]any{"username": req.Username})
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, "incorrect username or password")
		return
	}
	if err != nil {
		a.logger.Error("login failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	a.audit(r, audit.EventLogin, map[string]any{"user_id": res.User.ID, "role": string(res.User.Role)})
	resp := newTokenResponse(res.Tokens, time.Now())
	resp.User = &res.User
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if errors.Is(err, auth.ErrUnauthorized) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	if err != nil {
		a.logger.Error("refresh failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	a.audit(r, audit.EventRefresh, nil)
	writeJSON(w, http.StatusOK, newTokenResponse(*pair, time.Now()))
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.PrincipalFromContext(r.Context())
	view := newUserView(user)
	for _, p := range auth.PermissionsFor(user.Role) {
		view.Permissions = append(view.Permissions, string(p))
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.audit(r, audit.EventLogout, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "logged out; discard the access and refresh tokens",
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, _ := auth.PrincipalFromContext(r.Context())

	err := a.auth.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrBadRequest):
		writeError(w, r, http.StatusBadRequest, "current password is incorrect or new password is invalid")
		return
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	default:
		a.logger.Error("change password failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	a.audit(r, audit.EventPasswordChange, nil)
	writeJSON(w, http.StatusOK, map[string]any{"message": "password updated"})
}

// audit records an event; failures are logged and never fail the request.
func (a *API) audit(r *http.Request, event string, fields map[string]any) {
	if err := audit.LogEvent(r.Context(), a.logger, event, fields); err != nil {
		a.logger.Warn("audit log failed", zap.String("event", event), zap.Error(err))
	}
}
