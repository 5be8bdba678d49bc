// Package guard enforces the protected-identity rules ahead of the normal
// authorization pipeline. It never allows anything by itself: a request
// either gets a 403 here or passes through unchanged.
package guard

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/vistoriahq/vistoria/pkg/audit"
	"github.com/vistoriahq/vistoria/pkg/auth"
	"github.com/vistoriahq/vistoria/pkg/httputil"
	"github.com/vistoriahq/vistoria/pkg/observability"
)

// Error codes returned with 403 responses. Stable: clients match on these.
const (
	CodeProtectedIdentity   = "SISTEMA_PROTEGIDO"
	CodePrivilegeEscalation = "PRIVILEGIO_RESTRITO"
)

// maxBodyPeek bounds how much of a request body is inspected.
const maxBodyPeek = 1 << 20

// blockedResponse is the fixed shape of a guard denial. Deliberately vague
// about which rule matched beyond the code.
type blockedResponse struct {
	Error          string `json:"error"`
	Message        string `json:"message"`
	Code           string `json:"code"`
	ProtectedUser  bool   `json:"protected_user"`
	SystemSecurity bool   `json:"system_security"`
}

// mutationBody is the subset of a request body the guard inspects.
type mutationBody struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Guard wraps mutating requests with the protected-identity checks.
type Guard struct {
	protected auth.ProtectedIdentity
	auditor   audit.Recorder
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// New creates a guard. Metrics may be nil in tests.
func New(protected auth.ProtectedIdentity, auditor audit.Recorder, logger *observability.Logger, metrics *observability.Metrics) *Guard {
	return &Guard{
		protected: protected,
		auditor:   auditor,
		logger:    logger,
		metrics:   metrics,
	}
}

// Handler wraps an HTTP handler with the protection rules. Non-mutating
// verbs pass straight through. Two independent rules apply to mutations:
//
//   - A mutation whose target is the protected identity (matched by path id
//     or by email in the body) is blocked, regardless of the caller's role,
//     unless the caller is the protected identity itself.
//   - A body that assigns the system admin role to any target is blocked
//     unless the caller is the protected identity.
//
// Both rules write the blocked audit event before responding.
func (g *Guard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !mutatingMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		actor := auth.ActorFromContext(r.Context())
		body := g.peekBody(r)

		targetID := pathTargetID(r)
		targetsProtected := g.protected.MatchesID(targetID) ||
			(body != nil && g.protected.MatchesEmail(body.Email))

		if targetsProtected && !g.protected.IsSelf(actor) {
			g.block(w, r, actor, g.protected.ID.String(), CodeProtectedIdentity,
				audit.ActionProtectedBlock,
				"este usuário é protegido pelo sistema e não pode ser modificado")
			return
		}

		if body != nil && auth.ParseRole(body.Role) == auth.RoleSystemAdmin && !g.protected.IsSelf(actor) {
			target := targetID
			if target == "" {
				target = body.Email
			}
			g.block(w, r, actor, target, CodePrivilegeEscalation,
				audit.ActionPrivilegeEscalationBlock,
				"apenas o administrador do sistema pode conceder privilégios administrativos")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// peekBody reads and restores the request body, returning the inspected
// fields. Unparseable or empty bodies yield nil: the guard only acts on what
// it can positively identify.
func (g *Guard) peekBody(r *http.Request) *mutationBody {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyPeek))
	r.Body.Close()
	if err != nil {
		r.Body = http.NoBody
		return nil
	}
	r.Body = io.NopCloser(bytes.NewReader(data))

	if len(data) == 0 {
		return nil
	}

	var body mutationBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil
	}
	return &body
}

func (g *Guard) block(w http.ResponseWriter, r *http.Request, actor *auth.Actor, targetID, code string, actionType audit.ActionType, message string) {
	actorID := uuid.Nil
	if actor != nil {
		actorID = actor.ID
	}

	meta := auth.MetaFromRequest(r)
	event := audit.NewEvent(actorID, targetID, actionType, true, &meta)

	// The audit write is attempted before the response leaves the process.
	if err := g.auditor.Record(r.Context(), event); err != nil {
		g.logger.WithError(err).Error("failed to record blocked attempt")
	}

	if g.metrics != nil {
		g.metrics.GuardBlocksTotal.WithLabelValues(code).Inc()
	}
	g.logger.WithFields(map[string]interface{}{
		"actor_id":  actorID.String(),
		"target_id": targetID,
		"code":      code,
		"path":      r.URL.Path,
	}).Warn("blocked mutation")

	httputil.WriteJSON(w, http.StatusForbidden, blockedResponse{ //nolint:errcheck
		Error:          "forbidden",
		Message:        message,
		Code:           code,
		ProtectedUser:  true,
		SystemSecurity: true,
	})
}

func mutatingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// pathTargetID pulls the mutation target from route variables. Routes name
// the subject {id} or {user_id}.
func pathTargetID(r *http.Request) string {
	vars := mux.Vars(r)
	if id := vars["id"]; id != "" {
		return id
	}
	return vars["user_id"]
}
