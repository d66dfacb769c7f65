package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/coach-realtime/internal/model"
)

func TestUserRepository_FindByID(t *testing.T) {
	ctx := context.Background()
	u := &model.User{ID: uuid.New(), Role: model.RoleAgent, IsActive: true}
	repo := NewUserRepository(u)

	got, err := repo.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAgent, got.Role)

	missing, err := repo.FindByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestNotificationRepository_MarkRead(t *testing.T) {
	ctx := context.Background()
	repo := NewNotificationRepository()
	n := &model.Notification{ID: uuid.New(), UserID: uuid.New(), CreatedAt: time.Now()}
	require.NoError(t, repo.Create(ctx, n))
	assert.Error(t, repo.Create(ctx, n))

	readAt := time.Now()
	require.NoError(t, repo.MarkRead(ctx, n.ID, readAt))
	got, err := repo.FindByID(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, got.IsRead)
	assert.WithinDuration(t, readAt, *got.ReadAt, time.Millisecond)

	// second mark keeps the original timestamp
	require.NoError(t, repo.MarkRead(ctx, n.ID, readAt.Add(time.Hour)))
	got, _ = repo.FindByID(ctx, n.ID)
	assert.WithinDuration(t, readAt, *got.ReadAt, time.Millisecond)

	assert.Error(t, repo.MarkRead(ctx, uuid.New(), readAt))
}

func TestNotificationRepository_ListForUser(t *testing.T) {
	ctx := context.Background()
	repo := NewNotificationRepository()
	owner := uuid.New()
	base := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, &model.Notification{
			ID: uuid.New(), UserID: owner, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.Create(ctx, &model.Notification{ID: uuid.New(), UserID: uuid.New(), CreatedAt: base}))

	all, err := repo.ListForUser(ctx, owner, false, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].CreatedAt.After(all[1].CreatedAt))

	require.NoError(t, repo.MarkRead(ctx, all[0].ID, time.Now()))
	unread, err := repo.ListForUser(ctx, owner, true, 1)
	require.NoError(t, err)
	assert.Len(t, unread, 1)
	assert.NotEqual(t, all[0].ID, unread[0].ID)
}

func TestAuditRepository_QueryAndSummarize(t *testing.T) {
	ctx := context.Background()
	repo := NewAuditRepository()
	actor := uuid.New()
	now := time.Now()

	events := []model.AuditEvent{
		{ID: uuid.New(), Timestamp: now.Add(-3 * time.Hour), Type: model.AuditDataRead, Risk: model.RiskLow, Outcome: model.OutcomeSuccess, Actor: model.ActorFor(actor)},
		{ID: uuid.New(), Timestamp: now.Add(-2 * time.Hour), Type: model.AuditAccessDenied, Risk: model.RiskHigh, Outcome: model.OutcomeFailure, Actor: model.ActorFor(actor)},
		{ID: uuid.New(), Timestamp: now.Add(-1 * time.Hour), Type: model.AuditDataDelete, Risk: model.RiskCritical, Outcome: model.OutcomeSuccess},
	}
	require.NoError(t, repo.AppendBatch(ctx, events))
	assert.Equal(t, 1, repo.Batches())

	got, total, err := repo.Query(ctx, model.AuditFilter{MinRisk: model.RiskHigh})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Equal(t, model.AuditDataDelete, got[0].Type, "newest first")

	got, total, err = repo.Query(ctx, model.AuditFilter{UserID: &actor, Pagination: model.Pagination{Page: 2, PageSize: 1}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, got, 1)
	assert.Equal(t, model.AuditDataRead, got[0].Type)

	summary, err := repo.Summarize(ctx, model.AuditFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, summary.Total)
	assert.EqualValues(t, 1, summary.UniqueActors)
	assert.EqualValues(t, 2, summary.ByOutcome[model.OutcomeSuccess])
	assert.Equal(t, events[0].Timestamp, *summary.First)
	assert.Equal(t, events[2].Timestamp, *summary.Last)

	deleted, err := repo.DeleteBefore(ctx, now.Add(-90*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)
	assert.Len(t, repo.Events(), 1)
}
