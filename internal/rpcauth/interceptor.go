// Package rpcauth applies the authenticate/authorize split to gRPC calls.
package rpcauth

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"bazaar.org/internal/audit"
	"bazaar.org/internal/auth"
	"bazaar.org/internal/obs"
)

const healthPrefix = "/grpc.health.v1.Health/"

// Authenticator resolves a bearer token to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Principal, error)
}

// Check is a gate applied to an authenticated principal.
type Check func(auth.Principal) error

type interceptor struct {
	authn  Authenticator
	policy map[string]Check
	exempt []string
	audit  *audit.Logger
}

// Option configures the interceptors.
type Option func(*interceptor)

// WithMethodCheck gates fullMethod (e.g. "/pkg.Service/Method") with check.
// Methods without a check only require authentication.
func WithMethodCheck(fullMethod string, check Check) Option {
	return func(i *interceptor) { i.policy[fullMethod] = check }
}

// WithExemptPrefixes replaces the list of method prefixes that skip
// authentication. The health service is exempt by default.
func WithExemptPrefixes(prefixes ...string) Option {
	return func(i *interceptor) { i.exempt = append([]string(nil), prefixes...) }
}

// WithAudit records denied calls.
func WithAudit(l *audit.Logger) Option {
	return func(i *interceptor) { i.audit = l }
}

func newInterceptor(authn Authenticator, opts []Option) *interceptor {
	i := &interceptor{
		authn:  authn,
		policy: make(map[string]Check),
		exempt: []string{healthPrefix},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// UnaryServerInterceptor authenticates the "authorization" metadata of every
// non-exempt unary call and applies the configured per-method check.
func UnaryServerInterceptor(authn Authenticator, opts ...Option) grpc.UnaryServerInterceptor {
	i := newInterceptor(authn, opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := i.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of UnaryServerInterceptor.
func StreamServerInterceptor(authn Authenticator, opts ...Option) grpc.StreamServerInterceptor {
	i := newInterceptor(authn, opts)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := i.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }

func (i *interceptor) authorize(ctx context.Context, method string) (context.Context, error) {
	for _, prefix := range i.exempt {
		if strings.HasPrefix(method, prefix) {
			return ctx, nil
		}
	}

	token := bearerFromMetadata(ctx)
	if token == "" {
		obs.AuthDecision("grpc", "missing_token")
		return ctx, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	principal, err := i.authn.Authenticate(ctx, token)
	if err != nil {
		obs.AuthDecision("grpc", "unauthenticated")
		return ctx, status.Error(codes.Unauthenticated, "invalid or expired credentials")
	}

	meta := clientMeta(ctx)
	if check, ok := i.policy[method]; ok && check != nil {
		if err := check(principal); err != nil {
			obs.AuthDecision("grpc", "forbidden")
			i.recordDenied(ctx, principal, method, meta, err)
			return ctx, status.Error(codes.PermissionDenied, "insufficient privileges")
		}
	}
	obs.AuthDecision("grpc", "authenticated")

	ctx = auth.ContextWithPrincipal(ctx, principal)
	ctx = auth.ContextWithToken(ctx, token)
	ctx = auth.ContextWithClientMeta(ctx, meta)
	return ctx, nil
}

func (i *interceptor) recordDenied(ctx context.Context, p auth.Principal, method string, meta auth.ClientMeta, cause error) {
	if i.audit == nil {
		return
	}
	_, _ = i.audit.Record(ctx, audit.Entry{
		ActorID:      p.IdentityID,
		Action:       "access.denied",
		Resource:     "grpc",
		ResourceID:   method,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		ErrorMessage: cause.Error(),
	})
}

func bearerFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			if token := strings.TrimSpace(v[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}

func clientMeta(ctx context.Context) auth.ClientMeta {
	var meta auth.ClientMeta
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("x-forwarded-for"); len(v) > 0 {
			first, _, _ := strings.Cut(v[0], ",")
			meta.IPAddress = strings.TrimSpace(first)
		}
		if v := md.Get("user-agent"); len(v) > 0 {
			meta.UserAgent = strings.TrimSpace(v[0])
		}
	}
	if meta.IPAddress == "" {
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
				meta.IPAddress = host
			}
		}
	}
	return meta
}
