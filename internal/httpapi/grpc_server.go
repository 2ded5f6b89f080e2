package httpapi

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"daleel.org/internal/auth"
)

const (
	IntrospectionService = "daleel.auth.v1.Introspection"
	MethodIntrospect     = "/" + IntrospectionService + "/Introspect"
	MethodWhoAmI         = "/" + IntrospectionService + "/WhoAmI"

	grpcAuthorizationKey = "authorization"
	grpcBearerPrefix     = "bearer "
)

// IntrospectionServer is the server API for daleel.auth.v1.Introspection.
type IntrospectionServer interface {
	Introspect(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	WhoAmI(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var introspectionServiceDesc = grpc.ServiceDesc{
	ServiceName: IntrospectionService,
	HandlerType: (*IntrospectionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Introspect", Handler: introspectHandler},
		{MethodName: "WhoAmI", Handler: whoAmIHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "daleel/auth/v1/introspection.proto",
}

func introspectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IntrospectionServer).Introspect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodIntrospect}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IntrospectionServer).Introspect(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func whoAmIHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IntrospectionServer).WhoAmI(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodWhoAmI}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IntrospectionServer).WhoAmI(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCServer lets other services validate Daleel access tokens.
type GRPCServer struct {
	authn  auth.Authenticator
	tokens *auth.TokenManager
	logger *zap.Logger
}

// NewGRPCServer creates the introspection service.
func NewGRPCServer(authn auth.Authenticator, tokens *auth.TokenManager, logger *zap.Logger) *GRPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCServer{authn: authn, tokens: tokens, logger: logger}
}

// Introspect reports whether an access token is currently usable. Rejected
// tokens yield {active:false} with no further detail.
func (s *GRPCServer) Introspect(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	token := strings.TrimSpace(in.GetValue())
	inactive, _ := structpb.NewStruct(map[string]any{"active": false})
	if token == "" {
		return inactive, nil
	}
	claims, err := s.tokens.Decode(token)
	if err != nil || claims.TokenType != auth.TokenAccess {
		return inactive, nil
	}
	user, err := s.authn.CurrentUser(ctx, token)
	if errors.Is(err, auth.ErrInvalidToken) {
		return inactive, nil
	}
	if err != nil {
		s.logger.Error("introspection failed", zap.Error(err))
		return nil, status.Error(codes.Internal, "introspection failed")
	}
	if !user.IsActive {
		return inactive, nil
	}

	fields := principalFields(user)
	fields["active"] = true
	fields["token_type"] = string(claims.TokenType)
	if claims.ExpiresAt != nil {
		fields["exp"] = float64(claims.ExpiresAt.Unix())
	}
	if claims.IssuedAt != nil {
		fields["iat"] = float64(claims.IssuedAt.Unix())
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode introspection")
	}
	return out, nil
}

// WhoAmI returns the caller resolved by the auth interceptor.
func (s *GRPCServer) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	user, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing credentials")
	}
	out, err := structpb.NewStruct(principalFields(user))
	if err != nil {
		return nil, status.Error(codes.Internal, "encode principal")
	}
	return out, nil
}

func principalFields(user *auth.User) map[string]any {
	perms := auth.PermissionsFor(user.Role)
	tags := make([]any, 0, len(perms))
	for _, p := range perms {
		tags = append(tags, string(p))
	}
	return map[string]any{
		"sub":         user.ID,
		"username":    user.Username,
		"role":        string(user.Role),
		"permissions": tags,
	}
}

// AuthInterceptor runs the guard for every method outside the allow list.
type AuthInterceptor struct {
	guard  *auth.Guard
	logger *zap.Logger
	allow  map[string]struct{}
}

func NewAuthInterceptor(guard *auth.Guard, logger *zap.Logger, allowMethods ...string) *AuthInterceptor {
	allow := make(map[string]struct{}, len(allowMethods))
	for _, method := range allowMethods {
		if method = strings.TrimSpace(method); method != "" {
			allow[method] = struct{}{}
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthInterceptor{guard: guard, logger: logger, allow: allow}
}

func (ai *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ai.allow[info.FullMethod]; ok {
			return handler(ctx, req)
		}
		user, err := ai.guard.Authorize(ctx, tokenFromMetadata(ctx), auth.Authenticated())
		if err != nil {
			ai.logger.Warn("gRPC authorization failed", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, grpcAuthError(err)
		}
		return handler(auth.ContextWithPrincipal(ctx, user), req)
	}
}

func grpcAuthError(err error) error {
	switch {
	case errors.Is(err, auth.ErrMissingCredentials):
		return status.Error(codes.Unauthenticated, "missing credentials")
	case errors.Is(err, auth.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, "invalid credentials")
	case errors.Is(err, auth.ErrInactiveUser):
		return status.Error(codes.FailedPrecondition, "inactive user")
	case errors.Is(err, auth.ErrForbidden):
		return status.Error(codes.PermissionDenied, "insufficient permissions")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// tokenFromMetadata returns the bearer token or "" when absent or malformed.
func tokenFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(grpcAuthorizationKey)
	if len(values) == 0 {
		return ""
	}
	value := strings.TrimSpace(values[0])
	if len(value) < len(grpcBearerPrefix) || !strings.HasPrefix(strings.ToLower(value), grpcBearerPrefix) {
		return ""
	}
	return strings.TrimSpace(value[len(grpcBearerPrefix):])
}

// GRPCDeps wires the gRPC surface.
type GRPCDeps struct {
	Auth   *auth.Service
	Guard  *auth.Guard
	Tokens *auth.TokenManager
	Logger *zap.Logger
}

// NewGRPC builds a server with introspection, health and reflection registered.
func NewGRPC(d GRPCDeps) (*grpc.Server, *health.Server, error) {
	if d.Auth == nil || d.Guard == nil || d.Tokens == nil {
		return nil, nil, errors.New("httpapi: grpc needs auth, guard and tokens")
	}
	interceptor := NewAuthInterceptor(d.Guard, d.Logger,
		MethodIntrospect,
		healthpb.Health_Check_FullMethodName,
	)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptor.Unary()))
	srv.RegisterService(&introspectionServiceDesc, NewGRPCServer(d.Auth, d.Tokens, d.Logger))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(IntrospectionService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	reflection.Register(srv)
	return srv, hs, nil
}
