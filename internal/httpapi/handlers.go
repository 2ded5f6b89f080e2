package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"daleel.org/internal/auth"
	"daleel.org/internal/obs"
	"daleel.org/internal/query"
)

const serviceName = "daleel-api"

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Auth      *auth.Service
	Guard     *auth.Guard
	Directory *auth.Directory
	Query     *query.Service
	Ready     ReadyProbe
	Logger    *zap.Logger
	Version   string

	// Login rate limit per client IP.
	RateBurst     int
	RatePerSecond float64
	// TrustedProxies lists addresses or CIDRs whose X-Forwarded-For is honoured.
	TrustedProxies []string
	// CORSOrigins are allowed exactly; empty allows localhost only.
	CORSOrigins []string
}

// API is the HTTP layer.
type API struct {
	mux       *http.ServeMux
	auth      *auth.Service
	guard     *auth.Guard
	directory *auth.Directory
	query     *query.Service
	ready     ReadyProbe
	logger    *zap.Logger
	version   string
	started   time.Time
	origins   []string
}

func New(d Deps) (*API, error) {
	if d.Auth == nil || d.Guard == nil || d.Directory == nil || d.Query == nil {
		return nil, errors.New("httpapi: auth, guard, directory and query are required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.RateBurst <= 0 {
		d.RateBurst = 5
	}
	if d.RatePerSecond <= 0 {
		d.RatePerSecond = 1
	}
	proxies, err := ParseTrustedProxies(d.TrustedProxies)
	if err != nil {
		return nil, err
	}
	a := &API{
		mux:       http.NewServeMux(),
		auth:      d.Auth,
		guard:     d.Guard,
		directory: d.Directory,
		query:     d.Query,
		ready:     d.Ready,
		logger:    d.Logger,
		version:   d.Version,
		started:   time.Now().UTC(),
		origins:   d.CORSOrigins,
	}

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	// auth
	a.mux.Handle("POST /v1/auth/login", RateLimit(http.HandlerFunc(a.handleLogin), d.RateBurst, d.RatePerSecond, proxies...))
	a.mux.HandleFunc("POST /v1/auth/refresh", a.handleRefresh)
	a.mux.Handle("GET /v1/auth/me", a.protect(auth.Authenticated(), a.handleMe))
	a.mux.Handle("POST /v1/auth/logout", a.protect(auth.Authenticated(), a.handleLogout))
	a.mux.Handle("POST /v1/auth/change-password", a.protect(auth.Authenticated(), a.handleChangePassword))

	// user administration
	a.mux.Handle("GET /v1/admin/users", a.protect(auth.RequireRole(auth.RoleGlobalAdmin), a.handleListUsers))
	a.mux.Handle("POST /v1/admin/users", a.protect(auth.RequirePermissions(auth.PermCreateUser), a.handleCreateUser))
	a.mux.Handle("GET /v1/admin/users/{id}", a.protect(auth.RequirePermissions(auth.PermReadUser), a.handleGetUser))
	a.mux.Handle("PATCH /v1/admin/users/{id}/status", a.protect(auth.RequirePermissions(auth.PermUpdateUser), a.handleSetUserStatus))
	a.mux.Handle("DELETE /v1/admin/users/{id}", a.protect(auth.RequirePermissions(auth.PermDeleteUser), a.handleDeleteUser))
	a.mux.Handle("POST /v1/admin/users/{id}/restore", a.protect(auth.RequirePermissions(auth.PermRestoreUser), a.handleRestoreUser))
	a.mux.Handle("POST /v1/admin/users/{id}/reset-password", a.protect(auth.RequireRole(auth.RoleGlobalAdmin), a.handleResetPassword))

	// semantic query
	a.mux.Handle("POST /v1/domains/{domainID}/assets/index", a.protect(auth.RequirePermissions(auth.PermCreateAsset), a.handleIndexAsset))
	a.mux.Handle("POST /v1/domains/{domainID}/query", a.protect(auth.RequirePermissions(auth.PermQueryAssets), a.handleQuery))

	return a, nil
}

// Handler returns the fully wrapped handler for the HTTP server.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = Logging(a.logger)(h)
	h = CORS(a.origins...)(h)
	h = SecurityHeaders(h)
	return RequestID(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		a.logger.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       serviceName,
		"version":    a.version,
		"time":       time.Now().UTC().Format(time.RFC3339),
		"started_at": a.started.Format(time.RFC3339),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorWith(w, r, code, msg, nil)
}

func writeErrorWith(w http.ResponseWriter, r *http.Request, code int, msg string, extra map[string]any) {
	payload := map[string]any{
		"error": msg,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parseBool(raw string) (bool, error) {
	if strings.TrimSpace(raw) == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New("include_deleted must be a boolean")
	}
	return v, nil
}
