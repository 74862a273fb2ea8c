package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

var (
	errMissingAuthorizationHeader = errors.New("missing authorization header")
	errInvalidAuthorizationHeader = errors.New("invalid authorization header")
	errNilValidator               = errors.New("token validator is nil")
)

// TokenValidator validates a bearer token and returns the namespace ID the
// token grants access to.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

// AuthOption configures optional auth middleware parameters.
type AuthOption func(*authConfig)

type authConfig struct {
	onFailure   func()
	rateLimiter *RateLimiter
}

// WithOnAuthFailure registers a callback invoked on every authentication
// failure.
func WithOnAuthFailure(fn func()) AuthOption {
	return func(c *authConfig) { c.onFailure = fn }
}

// WithRateLimiter throttles repeated authentication failures per client IP.
func WithRateLimiter(rl *RateLimiter) AuthOption {
	return func(c *authConfig) { c.rateLimiter = rl }
}

func newAuthConfig(opts []AuthOption) authConfig {
	cfg := authConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// fail records a failed attempt and reports whether the client may keep
// trying.
func (c authConfig) fail(ip string) bool {
	if c.onFailure != nil {
		c.onFailure()
	}
	if c.rateLimiter == nil || ip == "" {
		return true
	}
	return c.rateLimiter.RecordFailure(ip)
}

// HTTPBearerAuthMiddleware enforces bearer-token auth for HTTP handlers and
// stores the namespace and API key IDs on the request context.
func HTTPBearerAuthMiddleware(validator TokenValidator, opts ...AuthOption) func(http.Handler) http.Handler {
	cfg := newAuthConfig(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			namespaceID, err := authorize(r.Context(), []string{header}, validator)
			if err != nil {
				if !cfg.fail(ClientIP(r.RemoteAddr)) {
					http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
					return
				}
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), namespaceID, []string{header})))
		})
	}
}

// UnaryBearerAuthInterceptor enforces bearer-token auth for unary gRPC requests.
func UnaryBearerAuthInterceptor(validator TokenValidator, opts ...AuthOption) grpc.UnaryServerInterceptor {
	cfg := newAuthConfig(opts)
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		authCtx, err := authorizeGRPC(ctx, validator, cfg)
		if err != nil {
			return nil, err
		}
		return handler(authCtx, req)
	}
}

// StreamBearerAuthInterceptor enforces bearer-token auth for streaming gRPC requests.
func StreamBearerAuthInterceptor(validator TokenValidator, opts ...AuthOption) grpc.StreamServerInterceptor {
	cfg := newAuthConfig(opts)
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		authCtx, err := authorizeGRPC(ss.Context(), validator, cfg)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: authCtx})
	}
}

type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

type contextKey string

const (
	namespaceIDKey contextKey = "namespace_id"
	apiKeyIDKey    contextKey = "api_key_id"
)

// NamespaceIDFromContext retrieves the authenticated namespace ID.
func NamespaceIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(namespaceIDKey).(string)
	return id, ok
}

// NewContextWithNamespaceID returns a new context carrying namespaceID.
func NewContextWithNamespaceID(ctx context.Context, namespaceID string) context.Context {
	return context.WithValue(ctx, namespaceIDKey, namespaceID)
}

// APIKeyIDFromContext retrieves the API key ID from the context.
func APIKeyIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(apiKeyIDKey).(string)
	return id, ok
}

// NewContextWithAPIKeyID returns a new context with the given API key ID.
func NewContextWithAPIKeyID(ctx context.Context, keyID string) context.Context {
	return context.WithValue(ctx, apiKeyIDKey, keyID)
}

// Actor returns the API key ID stored on ctx, or "" when the request was not
// authenticated with an API key.
func Actor(ctx context.Context) string {
	id, _ := APIKeyIDFromContext(ctx)
	return id
}

func authorizeGRPC(ctx context.Context, validator TokenValidator, cfg authConfig) (context.Context, error) {
	var headers []string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		headers = md.Get("authorization")
	}

	namespaceID, err := authorize(ctx, headers, validator)
	if err != nil {
		if !cfg.fail(extractGRPCPeerIP(ctx)) {
			return nil, status.Error(codes.ResourceExhausted, "too many failed auth attempts")
		}
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}
	return withIdentity(ctx, namespaceID, headers), nil
}

// authorize validates the first well-formed bearer header that the
// validator accepts.
func authorize(ctx context.Context, headers []string, validator TokenValidator) (string, error) {
	if validator == nil {
		return "", errNilValidator
	}

	present := false
	for _, header := range headers {
		if strings.TrimSpace(header) == "" {
			continue
		}
		present = true

		token, err := parseBearerToken(header)
		if err != nil {
			continue
		}
		namespaceID, err := validator.ValidateToken(ctx, token)
		if err != nil {
			continue
		}
		if strings.TrimSpace(namespaceID) == "" {
			return "", errInvalidAuthorizationHeader
		}
		return namespaceID, nil
	}

	if !present {
		return "", errMissingAuthorizationHeader
	}
	return "", errInvalidAuthorizationHeader
}

func withIdentity(ctx context.Context, namespaceID string, headers []string) context.Context {
	ctx = NewContextWithNamespaceID(ctx, namespaceID)
	for _, header := range headers {
		if keyID := apiKeyIDFromBearer(header); keyID != "" {
			return NewContextWithAPIKeyID(ctx, keyID)
		}
	}
	return ctx
}

func parseBearerToken(authorizationHeader string) (string, error) {
	parts := strings.Fields(authorizationHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errInvalidAuthorizationHeader
	}
	return parts[1], nil
}

func apiKeyIDFromBearer(header string) string {
	token, err := parseBearerToken(header)
	if err != nil {
		return ""
	}
	keyID, _, ok := SplitAPIKey(token)
	if !ok {
		return ""
	}
	return keyID
}

func extractGRPCPeerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	return ClientIP(p.Addr.String())
}
