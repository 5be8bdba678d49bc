// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/vistoriahq/vistoria/pkg/contextkeys"
//	ctx = context.WithValue(ctx, contextkeys.ActorKey, actor)
//	actor := ctx.Value(contextkeys.ActorKey).(*auth.Actor)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ActorKey contains *auth.Actor
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: guard, rbac decision engine, audit trail
	// Type: *auth.Actor
	ActorKey Key = "actor"

	// RequestMetaKey contains auth.RequestMeta (client IP, user agent, method, path)
	// Set by: middleware.AuthMiddleware
	// Used by: audit trail
	// Type: auth.RequestMeta
	RequestMetaKey Key = "request_meta"

	// RequestIDKey contains request ID string (UUID)
	// Set by: HTTP middleware, observability layer
	// Used by: Logger, audit trail, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// Helper functions for type-safe context operations

// WithActor adds the resolved actor to the context
func WithActor(ctx context.Context, actor interface{}) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// WithRequestMeta adds request metadata to the context
func WithRequestMeta(ctx context.Context, meta interface{}) context.Context {
	return context.WithValue(ctx, RequestMetaKey, meta)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context, or "" when unset
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}
