// Package api exposes the engine over HTTP: the system-admin management
// endpoints and the guarded user surface.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/vistoriahq/vistoria/pkg/audit"
	"github.com/vistoriahq/vistoria/pkg/auth"
	"github.com/vistoriahq/vistoria/pkg/httputil"
	"github.com/vistoriahq/vistoria/pkg/integrity"
	"github.com/vistoriahq/vistoria/pkg/observability"
)

// auditSearcher is the read side of the audit trail.
type auditSearcher interface {
	Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.Event, error)
	GetStats(ctx context.Context, startTime, endTime *time.Time) (*audit.Stats, error)
}

// AdminHandlers serves the system-admin management endpoints. Every route
// here sits behind RequireScope(system:admin).
type AdminHandlers struct {
	checker *integrity.Checker
	auditor auditSearcher
	health  *observability.HealthChecker
	logger  *observability.Logger
}

// NewAdminHandlers creates the management handler set.
func NewAdminHandlers(checker *integrity.Checker, auditor auditSearcher, health *observability.HealthChecker, logger *observability.Logger) *AdminHandlers {
	return &AdminHandlers{
		checker: checker,
		auditor: auditor,
		health:  health,
		logger:  logger,
	}
}

// RegisterRoutes registers the management routes
func (h *AdminHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/integrity-check", h.IntegrityCheck).Methods("GET")
	router.HandleFunc("/auto-fix", h.AutoFix).Methods("POST")
	router.HandleFunc("/audit-logs", h.AuditLogs).Methods("GET")
	router.HandleFunc("/audit-logs/stats", h.AuditStats).Methods("GET")
	router.HandleFunc("/system-health", h.SystemHealth).Methods("GET")
}

// IntegrityCheck reports the protected identity's current state.
func (h *AdminHandlers) IntegrityCheck(w http.ResponseWriter, r *http.Request) {
	report, err := h.checker.CheckIntegrity(r.Context())
	if err != nil {
		h.internalError(w, err, "integrity check failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// AutoFix restores the protected identity and reports what was done.
func (h *AdminHandlers) AutoFix(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	triggeredBy := uuid.Nil
	if actor != nil {
		triggeredBy = actor.ID
	}

	result, err := h.checker.AutoFix(r.Context(), triggeredBy)
	if err != nil {
		h.internalError(w, err, "auto-fix failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// AuditLogs searches the audit trail.
func (h *AdminHandlers) AuditLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.auditor.Search(r.Context(), filter)
	if err != nil {
		h.internalError(w, err, "audit search failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// AuditStats summarizes audit activity.
func (h *AdminHandlers) AuditStats(w http.ResponseWriter, r *http.Request) {
	startTime, endTime, err := timeRangeFromQuery(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	stats, err := h.auditor.GetStats(r.Context(), startTime, endTime)
	if err != nil {
		h.internalError(w, err, "audit stats failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// SystemHealth reports dependency health, including degraded states that the
// public liveness probe hides.
func (h *AdminHandlers) SystemHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.health.Check(ctx)
	code := http.StatusOK
	if status.Status == observability.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, status)
}

func (h *AdminHandlers) internalError(w http.ResponseWriter, err error, message string) {
	h.logger.WithError(err).Error(message)
	httputil.WriteInternalError(w)
}

func auditFilterFromQuery(r *http.Request) (audit.SearchFilter, error) {
	filter := audit.SearchFilter{
		TargetID:  r.URL.Query().Get("target_id"),
		SortOrder: r.URL.Query().Get("sort"),
		Limit:     100,
	}

	startTime, endTime, err := timeRangeFromQuery(r)
	if err != nil {
		return filter, err
	}
	filter.StartTime = startTime
	filter.EndTime = endTime

	if raw := r.URL.Query().Get("actor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid actor_id: %w", err)
		}
		filter.ActorID = &id
	}

	blocked, err := httputil.ParseQueryBool(r, "blocked")
	if err != nil {
		return filter, err
	}
	filter.Blocked = blocked

	for _, at := range r.URL.Query()["action_type"] {
		filter.ActionTypes = append(filter.ActionTypes, audit.ActionType(at))
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 1000 {
			return filter, fmt.Errorf("invalid limit %q", raw)
		}
		filter.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("invalid offset %q", raw)
		}
		filter.Offset = offset
	}

	return filter, nil
}

func timeRangeFromQuery(r *http.Request) (*time.Time, *time.Time, error) {
	var startTime, endTime *time.Time
	if raw := r.URL.Query().Get("start_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid start_time: %w", err)
		}
		startTime = &t
	}
	if raw := r.URL.Query().Get("end_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid end_time: %w", err)
		}
		endTime = &t
	}
	return startTime, endTime, nil
}
