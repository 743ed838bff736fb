package auth

import (
	"context"

	"mediagate/pkg/protocol"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type contextKey string

const sessionContextKey contextKey = "session"

// Session is the server-side view of an authorized caller
type Session struct {
	Token      string
	Subject    string
	Datacenter int32
}

// SessionValidator resolves a session token presented by a caller
type SessionValidator interface {
	ValidateSession(token string) (*Session, error)
}

// SessionInterceptor enforces session tokens on datacenter RPCs
type SessionInterceptor struct {
	validator SessionValidator
	public    map[string]bool
}

// NewSessionInterceptor creates a new session interceptor. Methods listed
// in publicMethods are served without a session.
func NewSessionInterceptor(validator SessionValidator, publicMethods ...string) *SessionInterceptor {
	public := make(map[string]bool, len(publicMethods))
	for _, m := range publicMethods {
		public[m] = true
	}
	return &SessionInterceptor{
		validator: validator,
		public:    public,
	}
}

// UnaryServerInterceptor returns a gRPC unary server interceptor for session checks
func (si *SessionInterceptor) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if si.public[info.FullMethod] {
			return handler(ctx, req)
		}

		token := tokenFromIncoming(ctx)
		if token == "" {
			return nil, status.Error(codes.Unauthenticated, protocol.ReasonAuthKeyInvalid)
		}

		sess, err := si.validator.ValidateSession(token)
		if err != nil {
			return nil, status.Errorf(codes.Unauthenticated, "%s: %v", protocol.ReasonAuthKeyInvalid, err)
		}

		return handler(context.WithValue(ctx, sessionContextKey, sess), req)
	}
}

// SessionFromContext returns the session attached by the server interceptor
func SessionFromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(sessionContextKey).(*Session)
	return sess, ok
}

// UnaryClientInterceptor attaches the current session token to outgoing
// calls. token is read on every call so a connection can be dialed before
// its session exists.
func UnaryClientInterceptor(token func() string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if t := token(); t != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, protocol.SessionTokenKey, t)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func tokenFromIncoming(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(protocol.SessionTokenKey)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
