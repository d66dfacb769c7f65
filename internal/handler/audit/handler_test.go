package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/coach-realtime/config"
	"github.com/jwalitptl/coach-realtime/internal/middleware"
	"github.com/jwalitptl/coach-realtime/internal/model"
	"github.com/jwalitptl/coach-realtime/internal/repository/memory"
	"github.com/jwalitptl/coach-realtime/internal/service/audit"
	"github.com/jwalitptl/coach-realtime/internal/service/identity"
	"github.com/jwalitptl/coach-realtime/pkg/logger"
	"github.com/jwalitptl/coach-realtime/pkg/metrics"
)

type oneUser identity.Identity

func (u oneUser) Resolve(_ context.Context, cred identity.Credential) (identity.Identity, error) {
	if cred.Token == "admin" {
		return identity.Identity(u), nil
	}
	return identity.Identity{}, &identity.AuthError{Reason: identity.ReasonInvalidToken}
}

type fixture struct {
	router   *gin.Engine
	store    *memory.AuditRepository
	pipeline *audit.Pipeline
	admin    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	middleware.UseJSONFieldNames()

	f := &fixture{store: memory.NewAuditRepository(), admin: uuid.New()}
	f.pipeline = audit.NewPipeline(f.store, config.AuditConfig{Enabled: true, FlushInterval: time.Hour}, logger.Nop(), metrics.NewNop())

	auth := middleware.NewAuthMiddleware(oneUser{UserID: f.admin, Role: model.RoleAdmin}, f.pipeline)
	f.router = gin.New()
	f.router.Use(middleware.RequestID(), middleware.ErrorHandler(logger.Nop()))
	api := f.router.Group("/api/v1", auth.Authenticate(), auth.RequireRole(model.RoleAdmin))
	NewHandler(audit.NewService(f.store), f.pipeline).RegisterRoutes(api)
	return f
}

func (f *fixture) seed(t *testing.T, events ...model.AuditEvent) {
	t.Helper()
	require.NoError(t, f.store.AppendBatch(context.Background(), events))
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer admin")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func TestListEvents(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	f.seed(t,
		model.AuditEvent{ID: uuid.New(), Type: model.AuditDataRead, Risk: model.RiskLow, Outcome: model.OutcomeSuccess, Timestamp: base},
		model.AuditEvent{ID: uuid.New(), Type: model.AuditAccessDenied, Risk: model.RiskHigh, Outcome: model.OutcomeFailure, Timestamp: base.Add(time.Hour)},
		model.AuditEvent{ID: uuid.New(), Type: model.AuditDataDelete, Risk: model.RiskCritical, Outcome: model.OutcomeSuccess, Timestamp: base.Add(2 * time.Hour)},
	)

	w := f.get("/api/v1/audit/events?minRisk=HIGH")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	var list listResponse
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, int64(2), list.Total)
	assert.Len(t, list.Events, 2)
	assert.Equal(t, 1, list.Page)
	assert.Equal(t, 50, list.PageSize)

	require.NoError(t, f.pipeline.Flush(context.Background()))
	events := f.store.Events()
	last := events[len(events)-1]
	assert.Equal(t, model.AuditDataRead, last.Type)
	require.NotNil(t, last.UserID)
	assert.Equal(t, f.admin, *last.UserID)
	assert.Equal(t, "audit_events", last.Resource)
}

func TestListEvents_BadQuery(t *testing.T) {
	f := newFixture(t)

	for _, q := range []string{
		"minRisk=SEVERE",
		"userId=not-a-uuid",
		"pageSize=10000",
		"from=yesterday",
	} {
		w := f.get("/api/v1/audit/events?" + q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}

	w := f.get("/api/v1/audit/events?from=2026-05-02T00:00:00Z&to=2026-05-01T00:00:00Z")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "time range")
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	actor := uuid.New()
	now := time.Now().UTC()
	f.seed(t,
		model.AuditEvent{ID: uuid.New(), Type: model.AuditRoomJoined, Risk: model.RiskLow, Outcome: model.OutcomeSuccess, Timestamp: now, Actor: model.Actor{UserID: &actor}},
		model.AuditEvent{ID: uuid.New(), Type: model.AuditRoomJoinDenied, Risk: model.RiskMedium, Outcome: model.OutcomeFailure, Timestamp: now, Actor: model.Actor{UserID: &actor}},
	)

	w := f.get("/api/v1/audit/report")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	var summary model.AuditSummary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, int64(2), summary.Total)
	assert.Equal(t, int64(1), summary.ByType[model.AuditRoomJoinDenied])
	assert.Equal(t, int64(1), summary.UniqueActors)
}

func TestAuditAPI_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/events", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
