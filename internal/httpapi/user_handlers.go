package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"daleel.org/internal/audit"
	"daleel.org/internal/auth"
)

type createUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Inactive bool   `json:"inactive"`
}

type userStatusRequest struct {
	IsActive *bool `json:"is_active"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var role auth.Role
	if req.Role != "" {
		parsed, err := auth.ParseRole(req.Role)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role = parsed
	}

	user, err := a.directory.CreateUser(r.Context(), auth.NewUser{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     role,
		Inactive: req.Inactive,
	})
	if err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	a.audit(r, audit.EventUserCreated, map[string]any{"user_id": user.ID, "role": string(user.Role)})
	w.Header().Set("Location", "/v1/admin/users/"+user.ID)
	writeJSON(w, http.StatusCreated, newUserView(user))
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	includeDeleted, err := parseBool(r.URL.Query().Get("include_deleted"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if includeDeleted && !a.callerHas(r, auth.PermViewDeleted) {
		a.writeAuthError(w, r, &auth.PermissionError{Missing: []auth.Permission{auth.PermViewDeleted}})
		return
	}
	users, err := a.directory.ListUsers(r.Context(), includeDeleted)
	if err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, newUserView(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	includeDeleted, err := parseBool(r.URL.Query().Get("include_deleted"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if includeDeleted && !a.callerHas(r, auth.PermViewDeleted) {
		a.writeAuthError(w, r, &auth.PermissionError{Missing: []auth.Permission{auth.PermViewDeleted}})
		return
	}
	user, err := a.directory.GetUser(r.Context(), r.PathValue("id"), includeDeleted)
	if err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(user))
}

func (a *API) handleSetUserStatus(w http.ResponseWriter, r *http.Request) {
	var req userStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.IsActive == nil {
		writeError(w, r, http.StatusBadRequest, "is_active is required")
		return
	}
	id := r.PathValue("id")
	if !*req.IsActive && a.isCaller(r, id) {
		writeError(w, r, http.StatusBadRequest, "cannot deactivate your own account")
		return
	}

	user, err := a.directory.SetActive(r.Context(), id, *req.IsActive)
	if err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	a.audit(r, audit.EventUserStatus, map[string]any{"user_id": user.ID, "is_active": user.IsActive})
	writeJSON(w, http.StatusOK, newUserView(user))
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if a.isCaller(r, id) {
		writeError(w, r, http.StatusBadRequest, "cannot delete your own account")
		return
	}
	if err := a.directory.DeleteUser(r.Context(), id); err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	a.audit(r, audit.EventUserDeleted, map[string]any{"user_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRestoreUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.directory.RestoreUser(r.Context(), r.PathValue("id"))
	if err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	a.audit(r, audit.EventUserRestored, map[string]any{"user_id": user.ID})
	writeJSON(w, http.StatusOK, newUserView(user))
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	if err := a.auth.ResetPassword(r.Context(), id, req.NewPassword); err != nil {
		a.handleDirectoryError(w, r, err)
		return
	}
	a.audit(r, audit.EventPasswordReset, map[string]any{"user_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"message": "password reset"})
}

func (a *API) callerHas(r *http.Request, perm auth.Permission) bool {
	user, ok := auth.PrincipalFromContext(r.Context())
	return ok && auth.HasPermission(user.Role, perm)
}

func (a *API) isCaller(r *http.Request, id string) bool {
	user, ok := auth.PrincipalFromContext(r.Context())
	return ok && user.ID == id
}

func (a *API) handleDirectoryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrBadRequest):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "username already exists")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	default:
		a.logger.Error("user administration failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
