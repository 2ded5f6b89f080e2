package authclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"daleel.org/internal/auth"
)

const (
	methodIntrospect = "/daleel.auth.v1.Introspection/Introspect"
	methodWhoAmI     = "/daleel.auth.v1.Introspection/WhoAmI"
)

// Introspection is the decoded result of an Introspect call.
type Introspection struct {
	Active      bool      `json:"active"`
	UserID      string    `json:"sub,omitempty"`
	Username    string    `json:"username,omitempty"`
	Role        auth.Role `json:"role,omitempty"`
	TokenType   string    `json:"token_type,omitempty"`
	ExpiresAt   time.Time `json:"exp,omitempty"`
	IssuedAt    time.Time `json:"iat,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
}

// Client wraps the gRPC introspection service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a new client with sensible defaults (insecure transport).
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Introspect asks the auth service whether token is a usable access token.
func (c *Client) Introspect(ctx context.Context, token string) (*Introspection, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodIntrospect, wrapperspb.String(token), out); err != nil {
		return nil, mapStatusError(err)
	}
	return fromStruct(out), nil
}

// WhoAmI resolves the principal behind token through the guarded RPC.
func (c *Client) WhoAmI(ctx context.Context, token string) (*Introspection, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodWhoAmI, &emptypb.Empty{}, out); err != nil {
		return nil, mapStatusError(err)
	}
	res := fromStruct(out)
	res.Active = true
	return res, nil
}

// Authenticator adapts the client to auth.Authenticator so an auth.Guard can
// run in a service that does not hold the signing secret.
type Authenticator struct {
	client *Client
}

func NewAuthenticator(client *Client) *Authenticator { return &Authenticator{client: client} }

func (a *Authenticator) CurrentUser(ctx context.Context, token string) (*auth.User, error) {
	res, err := a.client.Introspect(ctx, token)
	if err != nil {
		return nil, err
	}
	if !res.Active || res.UserID == "" {
		return nil, fmt.Errorf("%w: rejected by introspection", auth.ErrInvalidToken)
	}
	return &auth.User{
		ID:       res.UserID,
		Username: res.Username,
		Role:     res.Role,
		IsActive: true,
	}, nil
}

// Helpers -----------------------------------------------------------------

func fromStruct(s *structpb.Struct) *Introspection {
	m := s.AsMap()
	res := &Introspection{}
	res.Active, _ = m["active"].(bool)
	res.UserID, _ = m["sub"].(string)
	res.Username, _ = m["username"].(string)
	res.TokenType, _ = m["token_type"].(string)
	if role, ok := m["role"].(string); ok {
		res.Role = auth.Role(role)
	}
	if exp, ok := m["exp"].(float64); ok {
		res.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	}
	if iat, ok := m["iat"].(float64); ok {
		res.IssuedAt = time.Unix(int64(iat), 0).UTC()
	}
	if perms, ok := m["permissions"].([]any); ok {
		for _, p := range perms {
			if tag, ok := p.(string); ok {
				res.Permissions = append(res.Permissions, tag)
			}
		}
	}
	return res
}

func mapStatusError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %s", auth.ErrInvalidCredentials, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", auth.ErrInactiveUser, st.Message())
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %s", auth.ErrForbidden, st.Message())
	default:
		return errors.Join(errors.New("authclient: rpc failed"), err)
	}
}
