package rbac

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vistoriahq/vistoria/pkg/audit"
	"github.com/vistoriahq/vistoria/pkg/auth"
	"github.com/vistoriahq/vistoria/pkg/observability"
	"github.com/vistoriahq/vistoria/pkg/orgs"
)

// Reason is the machine-readable explanation attached to a decision.
type Reason string

const (
	ReasonSystemScope       Reason = "system_scope"
	ReasonScopeInTenant     Reason = "scope_in_tenant"
	ReasonOwnership         Reason = "ownership"
	ReasonInsufficientScope Reason = "insufficient_scope"
	ReasonOutOfTenant       Reason = "out_of_tenant"
	ReasonProtectedResource Reason = "protected_resource"
	ReasonInternalError     Reason = "internal_error"
)

// Decision is the ephemeral outcome of one authorization check. It is never
// persisted; the audit trail records the attempt, not the decision object.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason Reason `json:"reason"`
}

// OrgResolver computes the set of organizations an actor may reach.
type OrgResolver interface {
	ReachableOrganizations(ctx context.Context, actor *auth.Actor) (orgs.OrgSet, error)
}

// Engine produces allow/deny verdicts for sensitive requests.
type Engine struct {
	protected auth.ProtectedIdentity
	orgs      OrgResolver
	auditor   audit.Recorder
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewEngine creates a decision engine. All collaborators are required except
// metrics, which may be nil in tests.
func NewEngine(protected auth.ProtectedIdentity, orgResolver OrgResolver, auditor audit.Recorder, logger *observability.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		protected: protected,
		orgs:      orgResolver,
		auditor:   auditor,
		logger:    logger,
		metrics:   metrics,
	}
}

// Authorize decides whether actor may perform op on resource. Checks run in
// order and short-circuit:
//
//  1. Mutations targeting the protected identity are denied outright, unless
//     the actor is the protected identity itself.
//  2. The universal scope allows everything.
//  3. The required scope plus a reachable organization allows.
//  4. Ownership or assignment of the resource allows.
//  5. Everything else is denied.
//
// A resolver failure denies with a non-nil error; the caller maps that to an
// internal error response, never to a 403.
//
// Every deny and every allowed mutation produces an audit event. Allowed
// reads are not logged.
func (e *Engine) Authorize(ctx context.Context, actor *auth.Actor, resource auth.ResourceRef, requiredScope auth.Scope, op auth.Operation) (Decision, error) {
	return e.AuthorizeChange(ctx, actor, resource, requiredScope, op, nil, nil)
}

// AuthorizeChange is Authorize with before/after snapshots attached to the
// audit event of an allowed mutation.
func (e *Engine) AuthorizeChange(ctx context.Context, actor *auth.Actor, resource auth.ResourceRef, requiredScope auth.Scope, op auth.Operation, oldValue, newValue json.RawMessage) (Decision, error) {
	start := time.Now()

	decision, err := e.decide(ctx, actor, resource, requiredScope, op)
	e.observe(decision, start)
	e.recordOutcome(ctx, actor, resource, op, decision, oldValue, newValue)
	return decision, err
}

func (e *Engine) decide(ctx context.Context, actor *auth.Actor, resource auth.ResourceRef, requiredScope auth.Scope, op auth.Operation) (Decision, error) {
	if op.Mutating() && e.protected.MatchesID(resource.ID) && !e.protected.IsSelf(actor) {
		return Decision{Allow: false, Reason: ReasonProtectedResource}, nil
	}

	scopes := ScopesFor(actor.Role)
	if scopes.HasAll() {
		return Decision{Allow: true, Reason: ReasonSystemScope}, nil
	}

	hasScope := scopes.Has(requiredScope)
	if hasScope {
		reachable, err := e.orgs.ReachableOrganizations(ctx, actor)
		if err != nil {
			// Fail closed: a decision is never computed from partial data.
			e.logger.WithError(err).
				WithField("actor_id", actor.ID.String()).
				Error("organization reachability lookup failed")
			return Decision{Allow: false, Reason: ReasonInternalError}, err
		}
		if reachable.Contains(resource.OrganizationID) {
			return Decision{Allow: true, Reason: ReasonScopeInTenant}, nil
		}
	}

	if (resource.CreatedBy != nil && *resource.CreatedBy == actor.ID) ||
		(resource.AssignedTo != nil && *resource.AssignedTo == actor.ID) {
		return Decision{Allow: true, Reason: ReasonOwnership}, nil
	}

	if !hasScope {
		return Decision{Allow: false, Reason: ReasonInsufficientScope}, nil
	}
	return Decision{Allow: false, Reason: ReasonOutOfTenant}, nil
}

// recordOutcome writes the audit trail for the decision. Denies are written
// before returning; allowed mutations are queued so the response path does
// not wait on the database.
func (e *Engine) recordOutcome(ctx context.Context, actor *auth.Actor, resource auth.ResourceRef, op auth.Operation, decision Decision, oldValue, newValue json.RawMessage) {
	meta := auth.MetaFromContext(ctx)

	switch {
	case !decision.Allow:
		actionType := audit.ActionAccessDenied
		if decision.Reason == ReasonProtectedResource {
			actionType = audit.ActionProtectedBlock
		}
		event := audit.NewEvent(actor.ID, auditTarget(resource), actionType, true, &meta)
		if err := e.auditor.Record(ctx, event); err != nil {
			// The deny stands regardless.
			e.logger.WithError(err).Error("failed to record denied access")
		}

	case op.Mutating():
		event := audit.NewEvent(actor.ID, auditTarget(resource), actionFor(resource.Type, op), false, &meta)
		event.OldValue = oldValue
		event.NewValue = newValue
		e.auditor.RecordAsync(event)
	}
}

func (e *Engine) observe(decision Decision, start time.Time) {
	if e.metrics == nil {
		return
	}
	outcome := "deny"
	if decision.Allow {
		outcome = "allow"
	}
	e.metrics.DecisionsTotal.WithLabelValues(outcome, string(decision.Reason)).Inc()
	e.metrics.DecisionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func auditTarget(resource auth.ResourceRef) string {
	if resource.ID != "" {
		return resource.ID
	}
	return resource.Type
}

// actionFor maps a resource type and operation to an audit action.
func actionFor(resourceType string, op auth.Operation) audit.ActionType {
	switch resourceType {
	case "user":
		switch op {
		case auth.OpCreate:
			return audit.ActionUserCreate
		case auth.OpDelete:
			return audit.ActionUserDelete
		default:
			return audit.ActionUserUpdate
		}
	case "organization":
		if op == auth.OpCreate {
			return audit.ActionOrgCreate
		}
		return audit.ActionOrgUpdate
	case "checklist_template":
		return audit.ActionChecklistWrite
	case "inspection", "action_item":
		return audit.ActionInspectionWrite
	default:
		return audit.ActionType(resourceType + "." + string(op))
	}
}
