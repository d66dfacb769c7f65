package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/coach-realtime/config"
	"github.com/jwalitptl/coach-realtime/internal/model"
	"github.com/jwalitptl/coach-realtime/internal/realtime"
	"github.com/jwalitptl/coach-realtime/internal/repository/memory"
	"github.com/jwalitptl/coach-realtime/internal/service/audit"
	"github.com/jwalitptl/coach-realtime/pkg/logger"
	"github.com/jwalitptl/coach-realtime/pkg/metrics"
)

type broadcast struct {
	Room    realtime.Room
	Event   string
	Payload interface{}
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []broadcast
}

func (b *recordingBroadcaster) Broadcast(room realtime.Room, event string, payload interface{}) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, broadcast{room, event, payload})
	return 0
}

func (b *recordingBroadcaster) To(room realtime.Room) []broadcast {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []broadcast
	for _, s := range b.sent {
		if s.Room == room {
			out = append(out, s)
		}
	}
	return out
}

type failingNotifications struct {
	*memory.NotificationRepository
}

func (failingNotifications) Create(context.Context, *model.Notification) error {
	return errors.New("insert failed")
}

type fixture struct {
	svc        *Service
	repo       *memory.NotificationRepository
	users      *memory.UserRepository
	bus        *recordingBroadcaster
	auditStore *memory.AuditRepository
	pipeline   *audit.Pipeline

	leader, agent, loner *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:       memory.NewNotificationRepository(),
		bus:        &recordingBroadcaster{},
		auditStore: memory.NewAuditRepository(),
		leader:     &model.User{ID: uuid.New(), Role: model.RoleTeamLeader, IsActive: true},
		loner:      &model.User{ID: uuid.New(), Role: model.RoleAgent, IsActive: true},
	}
	f.agent = &model.User{ID: uuid.New(), Role: model.RoleAgent, IsActive: true, TeamLeaderID: &f.leader.ID}
	f.users = memory.NewUserRepository(f.leader, f.agent, f.loner)
	f.pipeline = audit.NewPipeline(f.auditStore, config.AuditConfig{Enabled: true, FlushInterval: time.Hour}, logger.Nop(), metrics.NewNop())
	f.svc = NewService(f.repo, f.users, f.bus, f.pipeline, logger.Nop(), metrics.NewNop())
	return f
}

func (f *fixture) auditTypes(t *testing.T) []model.AuditEventType {
	t.Helper()
	require.NoError(t, f.pipeline.Flush(context.Background()))
	var types []model.AuditEventType
	for _, e := range f.auditStore.Events() {
		types = append(types, e.Type)
	}
	return types
}

func TestNotify_PersistsThenPushes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := model.EntityRef{EntityID: uuid.New(), EntityType: model.EntityQuickNote}

	n, err := f.svc.Notify(ctx, f.agent.ID, model.NotificationQuickNote, "title", "body", ref)
	require.NoError(t, err)

	stored, err := f.repo.FindByID(ctx, n.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.False(t, stored.IsRead)
	assert.Nil(t, stored.ReadAt)
	assert.Equal(t, ref, stored.Data)

	pushed := f.bus.To(realtime.UserRoom(f.agent.ID))
	require.Len(t, pushed, 1)
	assert.Equal(t, realtime.EventNewNotification, pushed[0].Event)
	assert.Equal(t, n, pushed[0].Payload)

	assert.Equal(t, []model.AuditEventType{model.AuditNotificationCreated}, f.auditTypes(t))
}

func TestNotify_PersistFailurePushesNothing(t *testing.T) {
	f := newFixture(t)
	svc := NewService(failingNotifications{f.repo}, f.users, f.bus, f.pipeline, logger.Nop(), metrics.NewNop())

	_, err := svc.NotifyActionItemCreated(context.Background(), &model.ActionItem{ID: uuid.New(), Title: "x", AgentID: f.agent.ID, AssignedBy: f.leader.ID})
	assert.ErrorContains(t, err, "insert failed")
	assert.Empty(t, f.bus.sent)
}

func TestNotifyActionItemCreated_ReachesAgentAndTeam(t *testing.T) {
	f := newFixture(t)
	due := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	item := &model.ActionItem{ID: uuid.New(), Title: "Call back", AgentID: f.agent.ID, AssignedBy: f.leader.ID, DueDate: &due}

	n, err := f.svc.NotifyActionItemCreated(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, f.agent.ID, n.UserID)
	assert.Equal(t, model.NotificationActionItemAssigned, n.Type)
	assert.Contains(t, n.Message, "Call back")
	assert.Contains(t, n.Message, "May 1, 2026")

	for _, room := range []realtime.Room{realtime.AgentRoom(f.agent.ID), realtime.TeamRoom(f.leader.ID)} {
		got := f.bus.To(room)
		require.Len(t, got, 1, room.String())
		assert.Equal(t, realtime.EventActionItemCreated, got[0].Event)
		assert.Equal(t, item, got[0].Payload)
	}
}

func TestTypedHelpers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agentID := f.agent.ID

	tests := []struct {
		name      string
		call      func() (*model.Notification, error)
		recipient uuid.UUID
		typ       model.NotificationType
		event     string
	}{
		{"quick note", func() (*model.Notification, error) {
			return f.svc.NotifyQuickNoteCreated(ctx, &model.QuickNote{ID: uuid.New(), AgentID: agentID, AuthorID: f.leader.ID})
		}, agentID, model.NotificationQuickNote, realtime.EventQuickNoteCreated},
		{"action item completed", func() (*model.Notification, error) {
			return f.svc.NotifyActionItemCompleted(ctx, &model.ActionItem{ID: uuid.New(), Title: "t", AgentID: agentID, AssignedBy: f.leader.ID})
		}, f.leader.ID, model.NotificationActionItemCompleted, realtime.EventActionItemUpdated},
		{"session scheduled", func() (*model.Notification, error) {
			return f.svc.NotifySessionScheduled(ctx, &model.CoachingSession{ID: uuid.New(), AgentID: agentID, CoachID: f.leader.ID, ScheduledAt: time.Now()})
		}, agentID, model.NotificationSessionScheduled, realtime.EventSessionScheduled},
		{"session completed", func() (*model.Notification, error) {
			return f.svc.NotifySessionCompleted(ctx, &model.CoachingSession{ID: uuid.New(), AgentID: agentID, CoachID: f.leader.ID})
		}, agentID, model.NotificationSessionCompleted, realtime.EventSessionCompleted},
		{"plan created", func() (*model.Notification, error) {
			return f.svc.NotifyActionPlanCreated(ctx, &model.ActionPlan{ID: uuid.New(), Title: "p", AgentID: agentID, CreatedBy: f.leader.ID})
		}, agentID, model.NotificationActionPlanCreated, realtime.EventActionPlanCreated},
		{"plan updated", func() (*model.Notification, error) {
			return f.svc.NotifyActionPlanUpdated(ctx, &model.ActionPlan{ID: uuid.New(), Title: "p", AgentID: agentID, CreatedBy: f.leader.ID})
		}, agentID, model.NotificationActionPlanUpdated, realtime.EventActionPlanUpdated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.bus = &recordingBroadcaster{}
			f.svc.broadcaster = f.bus

			n, err := tt.call()
			require.NoError(t, err)
			assert.Equal(t, tt.recipient, n.UserID)
			assert.Equal(t, tt.typ, n.Type)
			assert.NotEmpty(t, n.Title)
			assert.NotEmpty(t, n.Message)

			require.Len(t, f.bus.To(realtime.UserRoom(tt.recipient)), 1)
			assert.Equal(t, tt.event, f.bus.To(realtime.AgentRoom(agentID))[0].Event)
			assert.Equal(t, tt.event, f.bus.To(realtime.TeamRoom(f.leader.ID))[0].Event)
		})
	}
}

func TestNotify_AgentWithoutTeamOnlyReachesAgentRoom(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.NotifyActionPlanCreated(context.Background(), &model.ActionPlan{ID: uuid.New(), Title: "solo", AgentID: f.loner.ID})
	require.NoError(t, err)

	assert.Len(t, f.bus.To(realtime.AgentRoom(f.loner.ID)), 1)
	assert.Len(t, f.bus.sent, 2, "user room and agent room only")
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fixed := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return fixed }

	n, err := f.svc.Notify(ctx, f.agent.ID, model.NotificationQuickNote, "t", "m", model.EntityRef{})
	require.NoError(t, err)

	_, err = f.svc.MarkRead(ctx, f.leader.ID, n.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	stored, _ := f.repo.FindByID(ctx, n.ID)
	assert.False(t, stored.IsRead, "non-owner leaves the record unchanged")

	_, err = f.svc.MarkRead(ctx, f.agent.ID, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	read, err := f.svc.MarkRead(ctx, f.agent.ID, n.ID)
	require.NoError(t, err)
	assert.True(t, read.IsRead)
	require.NotNil(t, read.ReadAt)
	assert.Equal(t, fixed, *read.ReadAt)

	stored, _ = f.repo.FindByID(ctx, n.ID)
	assert.True(t, stored.IsRead)
	require.NotNil(t, stored.ReadAt)

	f.svc.now = func() time.Time { return fixed.Add(time.Hour) }
	again, err := f.svc.MarkRead(ctx, f.agent.ID, n.ID)
	require.NoError(t, err)
	assert.Equal(t, fixed, *again.ReadAt)

	assert.Equal(t, []model.AuditEventType{
		model.AuditNotificationCreated,
		model.AuditAccessDenied,
		model.AuditNotificationRead,
	}, f.auditTypes(t))
}
