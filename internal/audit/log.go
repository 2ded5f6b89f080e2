package audit

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"daleel.org/internal/auth"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Event names written by the API layer.
const (
	EventLogin          = "auth.login"
	EventLoginFailed    = "auth.login_failed"
	EventRefresh        = "auth.refresh"
	EventLogout         = "auth.logout"
	EventPasswordChange = "auth.password_changed"
	EventPasswordReset  = "auth.password_reset"
	EventUserCreated    = "user.created"
	EventUserStatus     = "user.status_changed"
	EventUserDeleted    = "user.deleted"
	EventUserRestored   = "user.restored"
	EventAssetIndexed   = "asset.indexed"
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request and principal context.
// Field values must never include secrets; callers pass ids and outcomes only.
func LogEvent(ctx context.Context, logger *zap.Logger, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	if logger == nil {
		return nil
	}
	zf := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		zf = append(zf, zap.String("request_id", rid))
	}
	if user, ok := auth.PrincipalFromContext(ctx); ok {
		zf = append(zf,
			zap.String("actor_id", user.ID),
			zap.String("actor_role", string(user.Role)),
		)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		zf = append(zf, zap.Any(k, fields[k]))
	}
	logger.Info("audit", zf...)
	return nil
}
