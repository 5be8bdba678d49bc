package auth

import (
	"context"
	"net/http"

	"github.com/vistoriahq/vistoria/pkg/contextkeys"
)

// RequestMeta carries the transport facts the audit trail records.
type RequestMeta struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}

// MetaFromRequest extracts audit-relevant metadata from an HTTP request.
func MetaFromRequest(r *http.Request) RequestMeta {
	return RequestMeta{
		Method:    r.Method,
		Path:      r.URL.Path,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// clientIP prefers proxy headers over the raw remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// ActorFromContext retrieves the resolved actor, or nil when the request is
// unauthenticated.
func ActorFromContext(ctx context.Context) *Actor {
	if actor, ok := ctx.Value(contextkeys.ActorKey).(*Actor); ok {
		return actor
	}
	return nil
}

// MetaFromContext retrieves request metadata stored by the auth middleware.
func MetaFromContext(ctx context.Context) RequestMeta {
	if meta, ok := ctx.Value(contextkeys.RequestMetaKey).(RequestMeta); ok {
		return meta
	}
	return RequestMeta{}
}
