package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vistoriahq/vistoria/pkg/audit"
	"github.com/vistoriahq/vistoria/pkg/auth"
	"github.com/vistoriahq/vistoria/pkg/contextkeys"
	"github.com/vistoriahq/vistoria/pkg/integrity"
	"github.com/vistoriahq/vistoria/pkg/observability"
	"github.com/vistoriahq/vistoria/pkg/orgs"
)

var protectedID = uuid.MustParse("a0e1c5d2-0000-4000-8000-000000000001")

type fakeAuditSearcher struct {
	events     []*audit.Event
	lastFilter audit.SearchFilter
}

func (f *fakeAuditSearcher) Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.Event, error) {
	f.lastFilter = filter
	return f.events, nil
}

func (f *fakeAuditSearcher) GetStats(ctx context.Context, startTime, endTime *time.Time) (*audit.Stats, error) {
	return &audit.Stats{TotalEvents: int64(len(f.events))}, nil
}

func testAdminLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func newAdminRouter(t *testing.T, searcher *fakeAuditSearcher) (*mux.Router, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	protected := auth.ProtectedIdentity{ID: protectedID, Email: "sistema@vistoria.app", OrganizationID: 1}
	checker := integrity.NewChecker(db, protected, "conta de sistema",
		orgs.NewPostgresService(db), audit.NoopWriter{}, testAdminLogger(), nil)
	health := observability.NewHealthChecker(db, nil)

	handlers := NewAdminHandlers(checker, searcher, health, testAdminLogger())
	router := mux.NewRouter()
	handlers.RegisterRoutes(router.PathPrefix("/admin").Subrouter())
	return router, mock
}

func adminRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	admin := &auth.Actor{ID: uuid.New(), Role: auth.RoleSystemAdmin, OrganizationID: 1}
	return req.WithContext(contextkeys.WithActor(req.Context(), admin))
}

func TestAdminHandlers_IntegrityCheck(t *testing.T) {
	router, mock := newAdminRouter(t, &fakeAuditSearcher{})

	mock.ExpectQuery(`SELECT email, role, organization_id`).
		WillReturnRows(sqlmock.NewRows([]string{
			"email", "role", "organization_id", "is_active", "approval_state",
			"can_manage_users", "can_create_organizations",
		}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, adminRequest(http.MethodGet, "/admin/integrity-check"))

	require.Equal(t, http.StatusOK, rec.Code)
	var report integrity.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, integrity.StatusMissing, report.Status)
}

func TestAdminHandlers_AutoFix(t *testing.T) {
	router, mock := newAdminRouter(t, &fakeAuditSearcher{})

	mock.ExpectQuery(`SELECT email, role, organization_id`).
		WillReturnRows(sqlmock.NewRows([]string{
			"email", "role", "organization_id", "is_active", "approval_state",
			"can_manage_users", "can_create_organizations",
		}))
	mock.ExpectExec(`INSERT INTO actors`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO organization_members`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO protected_identities`).WillReturnResult(sqlmock.NewResult(0, 1))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, adminRequest(http.MethodPost, "/admin/auto-fix"))

	require.Equal(t, http.StatusOK, rec.Code)
	var result integrity.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, integrity.ActionCreated, result.Action)
}

func TestAdminHandlers_AuditLogs(t *testing.T) {
	searcher := &fakeAuditSearcher{events: []*audit.Event{
		{ID: 1, ActorID: uuid.New(), TargetID: "user-1", ActionType: audit.ActionAccessDenied, Blocked: true},
	}}
	router, _ := newAdminRouter(t, searcher)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, adminRequest(http.MethodGet, "/admin/audit-logs?blocked=true&target_id=user-1&limit=50"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", searcher.lastFilter.TargetID)
	require.NotNil(t, searcher.lastFilter.Blocked)
	assert.True(t, *searcher.lastFilter.Blocked)
	assert.Equal(t, 50, searcher.lastFilter.Limit)
}

func TestAdminHandlers_AuditLogsBadQuery(t *testing.T) {
	router, _ := newAdminRouter(t, &fakeAuditSearcher{})

	tests := []string{
		"/admin/audit-logs?actor_id=not-a-uuid",
		"/admin/audit-logs?blocked=maybe",
		"/admin/audit-logs?limit=0",
		"/admin/audit-logs?start_time=yesterday",
	}
	for _, path := range tests {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, adminRequest(http.MethodGet, path))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestAdminHandlers_SystemHealth(t *testing.T) {
	router, _ := newAdminRouter(t, &fakeAuditSearcher{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, adminRequest(http.MethodGet, "/admin/system-health"))

	// sqlmock pings succeed by default; the endpoint reports healthy.
	require.Equal(t, http.StatusOK, rec.Code)
	var status observability.HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, observability.StatusHealthy, status.Status)
}
