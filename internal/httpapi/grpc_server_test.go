package httpapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"daleel.org/internal/auth"
	"daleel.org/internal/store/memory"
)

const bufSize = 1024 * 1024

type grpcFixture struct {
	conn   *grpc.ClientConn
	tokens *auth.TokenManager
	store  *memory.Users
	user   *auth.User
}

func startBufGRPC(t *testing.T) *grpcFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	codec, err := auth.NewCodec(auth.CodecConfig{Secret: []byte("grpc-secret-grpc-secret-grpc-secret")})
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	tokens, err := auth.NewTokenManager(codec)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	hasher, err := auth.NewHasher(auth.WithBcryptCost(bcrypt.MinCost))
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	store := memory.NewUsers()
	svc, err := auth.NewService(store, tokens, hasher, auth.WithLogger(logger))
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	guard, err := auth.NewGuard(svc, logger)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	dir, err := auth.NewDirectory(store, hasher)
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	user, err := dir.CreateUser(context.Background(), auth.NewUser{
		Username: "reader",
		Password: "reader-password",
		Role:     auth.RoleDomainAdmin,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	server, _, err := NewGRPC(GRPCDeps{Auth: svc, Guard: guard, Tokens: tokens, Logger: logger})
	if err != nil {
		t.Fatalf("new grpc: %v", err)
	}
	listener := bufconn.Listen(bufSize)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		server.GracefulStop()
		_ = listener.Close()
	})
	return &grpcFixture{conn: conn, tokens: tokens, store: store, user: user}
}

func (f *grpcFixture) introspect(t *testing.T, token string) *structpb.Struct {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out := new(structpb.Struct)
	if err := f.conn.Invoke(ctx, MethodIntrospect, wrapperspb.String(token), out); err != nil {
		t.Fatalf("Introspect error: %v", err)
	}
	return out
}

func TestGRPCIntrospect(t *testing.T) {
	f := startBufGRPC(t)

	access, _, err := f.tokens.IssueAccessToken(f.user.ID, f.user.Username, f.user.Role)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got := f.introspect(t, access).AsMap()
	if got["active"] != true || got["sub"] != f.user.ID || got["role"] != "domain_admin" {
		t.Fatalf("unexpected introspection: %v", got)
	}
	if perms, _ := got["permissions"].([]any); len(perms) != 12 {
		t.Fatalf("expected 12 permissions, got %v", got["permissions"])
	}
	if got["exp"] == nil || got["iat"] == nil {
		t.Fatalf("expected exp and iat: %v", got)
	}

	refresh, _, err := f.tokens.IssueRefreshToken(f.user.ID, f.user.Username, f.user.Role)
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	for name, token := range map[string]string{"empty": "", "garbage": "abc.def.ghi", "refresh": refresh} {
		got := f.introspect(t, token).AsMap()
		if got["active"] != false || len(got) != 1 {
			t.Fatalf("%s: expected bare inactive response, got %v", name, got)
		}
	}

	// Deactivation is visible immediately.
	u, err := f.store.GetByID(context.Background(), f.user.ID, false)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	u.IsActive = false
	if err := f.store.Update(context.Background(), u); err != nil {
		t.Fatalf("update user: %v", err)
	}
	if got := f.introspect(t, access).AsMap(); got["active"] != false {
		t.Fatalf("expected inactive after deactivation, got %v", got)
	}
}

func TestGRPCWhoAmIRequiresToken(t *testing.T) {
	f := startBufGRPC(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := f.conn.Invoke(ctx, MethodWhoAmI, &emptypb.Empty{}, new(structpb.Struct))
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}

	badCtx := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer nope")
	err = f.conn.Invoke(badCtx, MethodWhoAmI, &emptypb.Empty{}, new(structpb.Struct))
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated for bad token, got %v", err)
	}

	access, _, err := f.tokens.IssueAccessToken(f.user.ID, f.user.Username, f.user.Role)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	authCtx := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+access)
	out := new(structpb.Struct)
	if err := f.conn.Invoke(authCtx, MethodWhoAmI, &emptypb.Empty{}, out); err != nil {
		t.Fatalf("WhoAmI error: %v", err)
	}
	if got := out.AsMap(); got["username"] != "reader" {
		t.Fatalf("unexpected principal: %v", got)
	}
}

func TestGRPCHealthIsPublic(t *testing.T) {
	f := startBufGRPC(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(f.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: IntrospectionService})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status: %v", resp.GetStatus())
	}
}

func TestGRPCAuthErrorCodes(t *testing.T) {
	cases := map[error]codes.Code{
		auth.ErrMissingCredentials:                  codes.Unauthenticated,
		auth.ErrInvalidCredentials:                  codes.Unauthenticated,
		auth.ErrInactiveUser:                        codes.FailedPrecondition,
		&auth.PermissionError{RequiredRole: "x"}:    codes.PermissionDenied,
		errors.New("auth: resolve principal: boom"): codes.Internal,
	}
	for err, want := range cases {
		if got := status.Code(grpcAuthError(err)); got != want {
			t.Errorf("grpcAuthError(%v) = %v, want %v", err, got, want)
		}
	}
}
