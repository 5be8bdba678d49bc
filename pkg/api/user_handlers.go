package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vistoriahq/vistoria/pkg/auth"
	"github.com/vistoriahq/vistoria/pkg/httputil"
	"github.com/vistoriahq/vistoria/pkg/observability"
	"github.com/vistoriahq/vistoria/pkg/rbac"
)

// UserStore is the account persistence the handlers need.
type UserStore interface {
	ActorByID(ctx context.Context, id string) (*auth.Actor, error)
	UpdateActor(ctx context.Context, actor *auth.Actor) error
}

// UserHandlers serves the account endpoints. The router mounts these behind
// the guard, so protected-identity mutations never reach them.
type UserHandlers struct {
	store  UserStore
	engine *rbac.Engine
	logger *observability.Logger
}

// NewUserHandlers creates the account handler set.
func NewUserHandlers(store UserStore, engine *rbac.Engine, logger *observability.Logger) *UserHandlers {
	return &UserHandlers{
		store:  store,
		engine: engine,
		logger: logger,
	}
}

// RegisterRoutes registers user routes
func (h *UserHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/users/{id}", h.GetUser).Methods("GET")
	router.HandleFunc("/users/{id}", h.UpdateUser).Methods("PUT")
}

// updateUserRequest is the mutable subset of an account.
type updateUserRequest struct {
	Email         *string `json:"email,omitempty"`
	Role          *string `json:"role,omitempty"`
	IsActive      *bool   `json:"is_active,omitempty"`
	ApprovalState *string `json:"approval_state,omitempty"`
}

// GetUser returns an account the caller may read.
func (h *UserHandlers) GetUser(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	if actor == nil {
		httputil.WriteUnauthorized(w, "missing actor")
		return
	}

	target, err := h.store.ActorByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteNotFound(w)
		return
	}

	resource := auth.ResourceRef{
		Type:           "user",
		ID:             target.ID.String(),
		OrganizationID: target.OrganizationID,
	}
	decision, err := h.engine.Authorize(r.Context(), actor, resource, auth.ScopeUsersRead, auth.OpRead)
	if err != nil {
		h.internalError(w, err)
		return
	}
	if !decision.Allow {
		h.deny(w, decision)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, target)
}

// UpdateUser applies the mutable account fields after authorization. The
// before and after snapshots travel with the audit event.
func (h *UserHandlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	if actor == nil {
		httputil.WriteUnauthorized(w, "missing actor")
		return
	}

	var req updateUserRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	target, err := h.store.ActorByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteNotFound(w)
		return
	}

	oldValue, _ := json.Marshal(target)

	if req.Email != nil {
		target.Email = *req.Email
	}
	if req.Role != nil {
		role := auth.ParseRole(*req.Role)
		if !role.Valid() {
			httputil.WriteBadRequest(w, "unknown role")
			return
		}
		target.Role = role
	}
	if req.IsActive != nil {
		target.IsActive = *req.IsActive
	}
	if req.ApprovalState != nil {
		state := auth.ApprovalState(*req.ApprovalState)
		switch state {
		case auth.ApprovalApproved, auth.ApprovalRejected:
		default:
			httputil.WriteBadRequest(w, "invalid approval state")
			return
		}
		// approved and rejected are terminal: only pending accounts move.
		if target.ApprovalState != auth.ApprovalPending && state != target.ApprovalState {
			httputil.WriteBadRequest(w, "approval state is final")
			return
		}
		target.ApprovalState = state
	}

	newValue, _ := json.Marshal(target)

	resource := auth.ResourceRef{
		Type:           "user",
		ID:             target.ID.String(),
		OrganizationID: target.OrganizationID,
	}
	decision, err := h.engine.AuthorizeChange(r.Context(), actor, resource, auth.ScopeUsersWrite, auth.OpUpdate, oldValue, newValue)
	if err != nil {
		h.internalError(w, err)
		return
	}
	if !decision.Allow {
		h.deny(w, decision)
		return
	}

	if err := h.store.UpdateActor(r.Context(), target); err != nil {
		h.internalError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, target)
}

func (h *UserHandlers) deny(w http.ResponseWriter, decision rbac.Decision) {
	httputil.WriteForbidden(w, string(decision.Reason))
}

func (h *UserHandlers) internalError(w http.ResponseWriter, err error) {
	h.logger.WithError(err).Error("user handler failed")
	httputil.WriteInternalError(w)
}
