package realtime_test

import (
	"context"
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
	"github.com/jwalitptl/coach-realtime/internal/service/authz"
	"github.com/jwalitptl/coach-realtime/internal/service/identity"
	"github.com/jwalitptl/coach-realtime/internal/service/notification"
	"github.com/jwalitptl/coach-realtime/pkg/auth"
	"github.com/jwalitptl/coach-realtime/pkg/logger"
	"github.com/jwalitptl/coach-realtime/pkg/metrics"
)

type frame struct {
	Event   string
	Payload interface{}
}

type recorder struct {
	id     string
	mu     sync.Mutex
	frames []frame
}

func newRecorder() *recorder { return &recorder{id: uuid.NewString()} }

func (r *recorder) ID() string { return r.id }

func (r *recorder) Send(event string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame{event, payload})
	return nil
}

func (r *recorder) Events(name string) []frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []frame
	for _, f := range r.frames {
		if f.Event == name {
			out = append(out, f)
		}
	}
	return out
}

type world struct {
	gw         *realtime.Gateway
	registry   *realtime.Registry
	notes      *notification.Service
	users      *memory.UserRepository
	auditStore *memory.AuditRepository
	pipeline   *audit.Pipeline
	jwt        *auth.JWTService

	admin, leader, agent, other *model.User
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		registry:   realtime.NewRegistry(),
		auditStore: memory.NewAuditRepository(),
		jwt:        auth.NewJWTService("test-secret", "coach", time.Hour),
		admin:      &model.User{ID: uuid.New(), Role: model.RoleAdmin, IsActive: true},
		leader:     &model.User{ID: uuid.New(), Role: model.RoleTeamLeader, IsActive: true},
		other:      &model.User{ID: uuid.New(), Role: model.RoleAgent, IsActive: true},
	}
	w.agent = &model.User{ID: uuid.New(), Role: model.RoleAgent, IsActive: true, TeamLeaderID: &w.leader.ID}
	w.users = memory.NewUserRepository(w.admin, w.leader, w.agent, w.other)
	w.pipeline = audit.NewPipeline(w.auditStore, config.AuditConfig{Enabled: true, FlushInterval: time.Hour}, logger.Nop(), metrics.NewNop())

	w.gw = realtime.NewGateway(realtime.Deps{
		Registry:      w.registry,
		Authenticator: identity.NewResolver(w.jwt, w.users),
		Authorizer:    authz.NewEngine(w.users),
		Auditor:       w.pipeline,
		Logger:        logger.Nop(),
		Metrics:       metrics.NewNop(),
	})
	w.notes = notification.NewService(memory.NewNotificationRepository(), w.users, w.gw, w.pipeline, logger.Nop(), metrics.NewNop())
	w.gw.SetNotifications(w.notes)
	return w
}

func (w *world) connect(t *testing.T, u *model.User) (*realtime.Session, *recorder) {
	t.Helper()
	ctx := context.Background()
	token, err := w.jwt.GenerateToken(u.ID, string(u.Role), "")
	require.NoError(t, err)

	id, err := w.gw.Authenticate(ctx, identity.Credential{Token: token}, model.Actor{IPAddress: "10.0.0.1"})
	require.NoError(t, err)

	client := newRecorder()
	sess, err := w.gw.Attach(ctx, id, client, model.Actor{IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	return sess, client
}

func (w *world) auditTypes(t *testing.T) []model.AuditEventType {
	t.Helper()
	require.NoError(t, w.pipeline.Flush(context.Background()))
	var out []model.AuditEventType
	for _, e := range w.auditStore.Events() {
		out = append(out, e.Type)
	}
	return out
}

func raw(s string) []byte { return []byte(s) }

func TestAttach_JoinsOnlyOwnUserRoom(t *testing.T) {
	w := newWorld(t)
	sess, _ := w.connect(t, w.agent)

	assert.Equal(t, []realtime.Room{realtime.UserRoom(w.agent.ID)}, w.registry.Rooms(sess.ID()))
	assert.Equal(t, model.RoleAgent, sess.Identity().Role)
	assert.Equal(t, 1, w.gw.Connections())
}

func TestAgentCannotJoinAdminRoleRoom(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	sess, client := w.connect(t, w.agent)

	require.NoError(t, w.gw.HandleRaw(ctx, sess, raw(`{"event":"join-role-room","data":{"role":"ADMIN"}}`)))

	errs := client.Events(realtime.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, realtime.ErrorPayload{Event: realtime.EventJoinRoleRoom, Message: "unauthorized"}, errs[0].Payload)
	assert.Empty(t, client.Events(realtime.EventRoomJoined))
	assert.Equal(t, []realtime.Room{realtime.UserRoom(w.agent.ID)}, w.registry.Rooms(sess.ID()))
	assert.Equal(t, 0, w.gw.Broadcast(realtime.RoleRoom(model.RoleAdmin), "x", nil))

	assert.Contains(t, w.auditTypes(t), model.AuditRoomJoinDenied)
}

func TestLeaderReceivesAgentAndTeamBroadcasts(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	sess, client := w.connect(t, w.leader)

	require.NoError(t, w.gw.HandleRaw(ctx, sess, raw(`{"event":"join-agent-room","data":{"agentId":"`+w.agent.ID.String()+`"}}`)))
	require.NoError(t, w.gw.HandleRaw(ctx, sess, raw(`{"event":"join-team-room","data":{"teamLeaderId":"`+w.leader.ID.String()+`"}}`)))
	require.Len(t, client.Events(realtime.EventRoomJoined), 2)

	item := &model.ActionItem{ID: uuid.New(), Title: "Follow up", AgentID: w.agent.ID, AssignedBy: w.leader.ID}
	_, err := w.notes.NotifyActionItemCreated(ctx, item)
	require.NoError(t, err)

	got := client.Events(realtime.EventActionItemCreated)
	assert.Len(t, got, 2, "once through agent room and once through team room")
	for _, f := range got {
		assert.Equal(t, item, f.Payload)
	}
	assert.Empty(t, client.Events(realtime.EventNewNotification), "the notification goes to the agent")
}

func TestJoinOtherLeadersAgentDenied(t *testing.T) {
	w := newWorld(t)
	sess, client := w.connect(t, w.leader)

	require.NoError(t, w.gw.HandleRaw(context.Background(), sess, raw(`{"event":"join-agent-room","data":{"agentId":"`+w.other.ID.String()+`"}}`)))
	require.Len(t, client.Events(realtime.EventError), 1)
	assert.Len(t, w.registry.Rooms(sess.ID()), 1)
}

func TestJoinSeesDemotion(t *testing.T) {
	w := newWorld(t)
	sess, client := w.connect(t, w.admin)

	demoted := *w.admin
	demoted.Role = model.RoleAgent
	w.users.Put(&demoted)

	require.NoError(t, w.gw.HandleRaw(context.Background(), sess, raw(`{"event":"join-role-room","data":{"role":"ADMIN"}}`)))
	assert.Len(t, client.Events(realtime.EventError), 1)
	assert.Empty(t, client.Events(realtime.EventRoomJoined))
}

func TestHandle_BadInput(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	sess, client := w.connect(t, w.agent)

	frames := []string{
		`not json`,
		`{"data":{}}`,
		`{"event":"join-agent-room"}`,
		`{"event":"join-agent-room","data":{"agentId":"nope"}}`,
		`{"event":"join-role-room","data":{"role":"ROOT"}}`,
		`{"event":"teleport","data":{}}`,
	}
	for _, f := range frames {
		require.NoError(t, w.gw.HandleRaw(ctx, sess, raw(f)), f)
	}
	assert.Len(t, client.Events(realtime.EventError), len(frames))
	assert.Len(t, w.registry.Rooms(sess.ID()), 1)
}

func TestMarkRead_OwnerAndStranger(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	agentSess, agentClient := w.connect(t, w.agent)
	otherSess, otherClient := w.connect(t, w.other)

	n, err := w.notes.Notify(ctx, w.agent.ID, model.NotificationQuickNote, "t", "m", model.EntityRef{})
	require.NoError(t, err)
	require.Len(t, agentClient.Events(realtime.EventNewNotification), 1)

	markFrame := raw(`{"event":"mark-notification-read","data":{"notificationId":"` + n.ID.String() + `"}}`)

	require.NoError(t, w.gw.HandleRaw(ctx, otherSess, markFrame))
	errs := otherClient.Events(realtime.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "unauthorized", errs[0].Payload.(realtime.ErrorPayload).Message)
	assert.Empty(t, agentClient.Events(realtime.EventNotificationMarkedRead))

	require.NoError(t, w.gw.HandleRaw(ctx, agentSess, markFrame))
	marked := agentClient.Events(realtime.EventNotificationMarkedRead)
	require.Len(t, marked, 1)
	payload := marked[0].Payload.(realtime.MarkedReadPayload)
	assert.Equal(t, n.ID, payload.NotificationID)
	assert.NotNil(t, payload.ReadAt)

	require.NoError(t, w.gw.HandleRaw(ctx, agentSess, raw(`{"event":"mark-notification-read","data":{"notificationId":"`+uuid.NewString()+`"}}`)))
	errs = agentClient.Events(realtime.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "notification not found", errs[0].Payload.(realtime.ErrorPayload).Message)
}

func TestDetach(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	sess, client := w.connect(t, w.leader)
	require.NoError(t, w.gw.HandleRaw(ctx, sess, raw(`{"event":"join-team-room","data":{"teamLeaderId":"`+w.leader.ID.String()+`"}}`)))

	w.gw.Detach(ctx, sess)
	w.gw.Detach(ctx, sess)

	assert.True(t, sess.Closed())
	assert.Equal(t, 0, w.gw.Connections())
	assert.Equal(t, 0, w.gw.Broadcast(realtime.TeamRoom(w.leader.ID), realtime.EventSessionScheduled, nil))
	assert.ErrorIs(t, w.gw.HandleRaw(ctx, sess, raw(`{"event":"join-user-room","data":{"userId":"`+w.leader.ID.String()+`"}}`)), realtime.ErrSessionClosed)
	assert.Empty(t, client.Events(realtime.EventSessionScheduled))

	types := w.auditTypes(t)
	assert.Equal(t, model.AuditRealtimeConnect, types[0])
	assert.Equal(t, model.AuditRealtimeDisconnect, types[len(types)-1])
	disconnects := 0
	for _, typ := range types {
		if typ == model.AuditRealtimeDisconnect {
			disconnects++
		}
	}
	assert.Equal(t, 1, disconnects)
}

func TestAuthenticate_FailureIsAudited(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	_, err := w.gw.Authenticate(ctx, identity.Credential{Token: "garbage"}, model.Actor{IPAddress: "10.0.0.9"})
	require.Error(t, err)
	assert.Equal(t, identity.ReasonInvalidToken, identity.ReasonOf(err))

	_, err = w.gw.Authenticate(ctx, identity.Credential{}, model.Actor{})
	assert.Equal(t, identity.ReasonMissingCredential, identity.ReasonOf(err))

	require.NoError(t, w.pipeline.Flush(ctx))
	events := w.auditStore.Events()
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, model.AuditRealtimeAuthFailure, e.Type)
		assert.Equal(t, model.OutcomeFailure, e.Outcome)
	}
	assert.Equal(t, "invalid_token", events[0].Details["reason"])
}

func TestRateLimited(t *testing.T) {
	w := newWorld(t)
	sess, client := w.connect(t, w.agent)

	w.gw.RateLimited(context.Background(), sess)
	require.Len(t, client.Events(realtime.EventError), 1)
	assert.Contains(t, w.auditTypes(t), model.AuditRateLimitExceeded)
}
