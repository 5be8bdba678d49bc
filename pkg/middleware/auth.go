// Package middleware provides the HTTP layers that run before the guard and
// decision engine: actor resolution, scope gating and rate limiting.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/vistoriahq/vistoria/pkg/auth"
	"github.com/vistoriahq/vistoria/pkg/contextkeys"
	"github.com/vistoriahq/vistoria/pkg/httputil"
	"github.com/vistoriahq/vistoria/pkg/observability"
	"github.com/vistoriahq/vistoria/pkg/rbac"
)

// ActorSource resolves a bearer token to an account.
type ActorSource interface {
	ActorByToken(ctx context.Context, token string) (*auth.Actor, error)
}

// AuthMiddleware resolves the acting identity for each request.
type AuthMiddleware struct {
	actors ActorSource
	logger *observability.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(actors ActorSource, logger *observability.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		actors: actors,
		logger: logger,
	}
}

// Handler wraps an HTTP handler with actor resolution. On success the actor,
// request metadata and a request id are placed in the context; everything
// downstream (guard, decision engine, audit) reads them from there.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		actor, err := m.actors.ActorByToken(r.Context(), parts[1])
		if err != nil {
			m.logger.WithError(err).Debug("token resolution failed")
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}
		if actor == nil || !actor.IsActive || actor.ApprovalState != auth.ApprovalApproved {
			httputil.WriteUnauthorized(w, "account is not active")
			return
		}

		ctx := contextkeys.WithActor(r.Context(), actor)
		ctx = contextkeys.WithRequestMeta(ctx, auth.MetaFromRequest(r))
		if contextkeys.GetRequestID(ctx) == "" {
			ctx = contextkeys.WithRequestID(ctx, uuid.NewString())
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope gates a route on one scope from the actor's role. The dynamic
// per-resource checks still happen in the decision engine; this only rejects
// requests that could never pass.
func RequireScope(scope auth.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := auth.ActorFromContext(r.Context())
			if actor == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if !rbac.ScopesFor(actor.Role).Has(scope) {
				httputil.WriteForbidden(w, "insufficient_scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
