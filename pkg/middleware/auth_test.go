package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/vistoriahq/vistoria/pkg/auth"
	"github.com/vistoriahq/vistoria/pkg/contextkeys"
	"github.com/vistoriahq/vistoria/pkg/observability"
)

type mockActorSource struct {
	actors map[string]*auth.Actor
}

func (m *mockActorSource) ActorByToken(ctx context.Context, token string) (*auth.Actor, error) {
	actor, ok := m.actors[token]
	if !ok {
		return nil, errors.New("token not found")
	}
	return actor, nil
}

func newAuthMiddleware(actors map[string]*auth.Actor) *AuthMiddleware {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewAuthMiddleware(&mockActorSource{actors: actors}, logger)
}

func activeActor(role auth.Role) *auth.Actor {
	return &auth.Actor{
		ID:             uuid.New(),
		Email:          "inspetora@vistoria.app",
		Role:           role,
		OrganizationID: 3,
		IsActive:       true,
		ApprovalState:  auth.ApprovalApproved,
	}
}

func TestAuthMiddleware(t *testing.T) {
	inspector := activeActor(auth.RoleInspector)
	pending := activeActor(auth.RoleViewer)
	pending.ApprovalState = auth.ApprovalPending
	inactive := activeActor(auth.RoleViewer)
	inactive.IsActive = false

	m := newAuthMiddleware(map[string]*auth.Actor{
		"good-token":     inspector,
		"pending-token":  pending,
		"inactive-token": inactive,
	})

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"malformed header", "good-token", http.StatusUnauthorized},
		{"wrong scheme", "Basic good-token", http.StatusUnauthorized},
		{"unknown token", "Bearer bogus", http.StatusUnauthorized},
		{"pending approval", "Bearer pending-token", http.StatusUnauthorized},
		{"deactivated account", "Bearer inactive-token", http.StatusUnauthorized},
		{"valid token", "Bearer good-token", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotActor *auth.Actor
			handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotActor = auth.ActorFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/inspections", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus == http.StatusOK {
				if gotActor == nil || gotActor.ID != inspector.ID {
					t.Error("Expected the resolved actor in the request context")
				}
			}
		})
	}
}

func TestAuthMiddleware_SetsRequestMetadata(t *testing.T) {
	actor := activeActor(auth.RoleInspector)
	m := newAuthMiddleware(map[string]*auth.Actor{"good-token": actor})

	var meta auth.RequestMeta
	var requestID string
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta = auth.MetaFromContext(r.Context())
		requestID = contextkeys.GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPut, "/api/v1/inspections/9", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	req.Header.Set("User-Agent", "vistoria-app/2.1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if meta.IPAddress != "203.0.113.7" {
		t.Errorf("Expected forwarded IP, got %q", meta.IPAddress)
	}
	if meta.UserAgent != "vistoria-app/2.1" || meta.Method != http.MethodPut {
		t.Errorf("Unexpected metadata %+v", meta)
	}
	if requestID == "" {
		t.Error("Expected a generated request id")
	}
}

func TestRequireScope(t *testing.T) {
	tests := []struct {
		name       string
		actor      *auth.Actor
		scope      auth.Scope
		wantStatus int
	}{
		{"no actor", nil, auth.ScopeSystemAdmin, http.StatusUnauthorized},
		{"viewer lacks system scope", activeActor(auth.RoleViewer), auth.ScopeSystemAdmin, http.StatusForbidden},
		{"system admin passes", activeActor(auth.RoleSystemAdmin), auth.ScopeSystemAdmin, http.StatusOK},
		{"inspector reads inspections", activeActor(auth.RoleInspector), auth.ScopeInspectionsRead, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireScope(tt.scope)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/integrity-check", nil)
			if tt.actor != nil {
				req = req.WithContext(contextkeys.WithActor(req.Context(), tt.actor))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}
