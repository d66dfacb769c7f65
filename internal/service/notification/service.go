package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/coach-realtime/internal/model"
	"github.com/jwalitptl/coach-realtime/internal/realtime"
	"github.com/jwalitptl/coach-realtime/internal/repository"
	"github.com/jwalitptl/coach-realtime/internal/service/audit"
	apperrors "github.com/jwalitptl/coach-realtime/pkg/errors"
	"github.com/jwalitptl/coach-realtime/pkg/logger"
	"github.com/jwalitptl/coach-realtime/pkg/metrics"
)

var (
	ErrNotFound  = apperrors.NotFound("notification", nil)
	ErrForbidden = apperrors.Forbidden(nil)
)

// Broadcaster fans an event out to a room. Zero receivers is normal.
type Broadcaster interface {
	Broadcast(room realtime.Room, event string, payload interface{}) int
}

type Service struct {
	repo        repository.NotificationRepository
	users       repository.UserRepository
	broadcaster Broadcaster
	auditor     audit.Recorder
	log         *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewService(
	repo repository.NotificationRepository,
	users repository.UserRepository,
	broadcaster Broadcaster,
	auditor audit.Recorder,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		repo:        repo,
		users:       users,
		broadcaster: broadcaster,
		auditor:     auditor,
		log:         log.WithComponent("notification"),
		metrics:     m,
		now:         time.Now,
	}
}

// Notify stores a notification and then pushes it to the recipient's user
// room. If the store fails nothing is pushed and the error is returned.
func (s *Service) Notify(ctx context.Context, recipient uuid.UUID, typ model.NotificationType, title, message string, related model.EntityRef) (*model.Notification, error) {
	n := &model.Notification{
		ID:        uuid.New(),
		UserID:    recipient,
		Type:      typ,
		Title:     title,
		Message:   message,
		Data:      related,
		CreatedAt: s.now().UTC(),
	}

	if err := s.repo.Create(ctx, n); err != nil {
		s.metrics.NotificationsFailed.Inc()
		s.log.Error(err, "failed to persist notification",
			"recipient", recipient.String(),
			"type", string(typ),
		)
		return nil, fmt.Errorf("failed to persist notification: %w", err)
	}
	s.metrics.NotificationsCreated.WithLabelValues(string(typ)).Inc()

	s.auditor.Log(ctx, model.AuditNotificationCreated, model.ActorFor(recipient),
		map[string]interface{}{"type": string(typ), "entity_type": related.EntityType},
		audit.WithResource(model.EntityNotification, n.ID.String()),
		audit.WithAction("create"),
	)

	delivered := s.broadcaster.Broadcast(realtime.UserRoom(recipient), realtime.EventNewNotification, n)
	s.log.Debug("notification pushed", "notification_id", n.ID.String(), "delivered", delivered)

	return n, nil
}

// broadcastToTeam sends a live entity update to the agent's room and to the
// room of the agent's current team leader. The leader is read fresh since
// teams change.
func (s *Service) broadcastToTeam(ctx context.Context, agentID uuid.UUID, event string, payload interface{}) {
	s.broadcaster.Broadcast(realtime.AgentRoom(agentID), event, payload)

	agent, err := s.users.FindByID(ctx, agentID)
	if err != nil {
		s.log.Error(err, "failed to look up agent for team broadcast", "agent_id", agentID.String())
		return
	}
	if agent == nil || agent.TeamLeaderID == nil {
		return
	}
	s.broadcaster.Broadcast(realtime.TeamRoom(*agent.TeamLeaderID), event, payload)
}

func (s *Service) NotifyQuickNoteCreated(ctx context.Context, note *model.QuickNote) (*model.Notification, error) {
	n, err := s.Notify(ctx, note.AgentID, model.NotificationQuickNote,
		"New quick note",
		"You have received a new quick note",
		model.EntityRef{EntityID: note.ID, EntityType: model.EntityQuickNote},
	)
	if err != nil {
		return nil, err
	}
	s.broadcastToTeam(ctx, note.AgentID, realtime.EventQuickNoteCreated, note)
	return n, nil
}

func (s *Service) NotifyActionItemCreated(ctx context.Context, item *model.ActionItem) (*model.Notification, error) {
	msg := fmt.Sprintf("You have been assigned a new action item: %s", item.Title)
	if item.DueDate != nil {
		msg += fmt.Sprintf(" (due %s)", item.DueDate.Format("Jan 2, 2006"))
	}
	n, err := s.Notify(ctx, item.AgentID, model.NotificationActionItemAssigned,
		"New action item", msg,
		model.EntityRef{EntityID: item.ID, EntityType: model.EntityActionItem},
	)
	if err != nil {
		return nil, err
	}
	s.broadcastToTeam(ctx, item.AgentID, realtime.EventActionItemCreated, item)
	return n, nil
}

// NotifyActionItemCompleted tells whoever assigned the item.
func (s *Service) NotifyActionItemCompleted(ctx context.Context, item *model.ActionItem) (*model.Notification, error) {
	n, err := s.Notify(ctx, item.AssignedBy, model.NotificationActionItemCompleted,
		"Action item completed",
		fmt.Sprintf("Action item completed: %s", item.Title),
		model.EntityRef{EntityID: item.ID, EntityType: model.EntityActionItem},
	)
	if err != nil {
		return nil, err
	}
	s.broadcastToTeam(ctx, item.AgentID, realtime.EventActionItemUpdated, item)
	return n, nil
}

func (s *Service) NotifySessionScheduled(ctx context.Context, session *model.CoachingSession) (*model.Notification, error) {
	n, err := s.Notify(ctx, session.AgentID, model.NotificationSessionScheduled,
		"Coaching session scheduled",
		fmt.Sprintf("A coaching session has been scheduled for %s", session.ScheduledAt.UTC().Format("Jan 2, 2006 15:04 MST")),
		model.EntityRef{EntityID: session.ID, EntityType: model.EntityCoachingSession},
	)
	if err != nil {
		return nil, err
	}
	s.broadcastToTeam(ctx, session.AgentID, realtime.EventSessionScheduled, session)
	return n, nil
}

func (s *Service) NotifySessionCompleted(ctx context.Context, session *model.CoachingSession) (*model.Notification, error) {
	n, err := s.Notify(ctx, session.AgentID, model.NotificationSessionCompleted,
		"Coaching session completed",
		"Your coaching session has been completed",
		model.EntityRef{EntityID: session.ID, EntityType: model.EntityCoachingSession},
	)
	if err != nil {
		return nil, err
	}
	s.broadcastToTeam(ctx, session.AgentID, realtime.EventSessionCompleted, session)
	return n, nil
}

func (s *Service) NotifyActionPlanCreated(ctx context.Context, plan *model.ActionPlan) (*model.Notification, error) {
	n, err := s.Notify(ctx, plan.AgentID, model.NotificationActionPlanCreated,
		"New action plan",
		fmt.Sprintf("A new action plan has been created for you: %s", plan.Title),
		model.EntityRef{EntityID: plan.ID, EntityType: model.EntityActionPlan},
	)
	if err != nil {
		return nil, err
	}
	s.broadcastToTeam(ctx, plan.AgentID, realtime.EventActionPlanCreated, plan)
	return n, nil
}

func (s *Service) NotifyActionPlanUpdated(ctx context.Context, plan *model.ActionPlan) (*model.Notification, error) {
	n, err := s.Notify(ctx, plan.AgentID, model.NotificationActionPlanUpdated,
		"Action plan updated",
		fmt.Sprintf("Your action plan has been updated: %s", plan.Title),
		model.EntityRef{EntityID: plan.ID, EntityType: model.EntityActionPlan},
	)
	if err != nil {
		return nil, err
	}
	s.broadcastToTeam(ctx, plan.AgentID, realtime.EventActionPlanUpdated, plan)
	return n, nil
}

// MarkRead marks the caller's own notification read. The recipient is checked
// against the stored record, not against anything the client sent.
func (s *Service) MarkRead(ctx context.Context, callerID, notificationID uuid.UUID) (*model.Notification, error) {
	n, err := s.repo.FindByID(ctx, notificationID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if n == nil {
		return nil, ErrNotFound
	}

	if n.UserID != callerID {
		s.auditor.Log(ctx, model.AuditAccessDenied, model.ActorFor(callerID),
			map[string]interface{}{"reason": "not recipient"},
			audit.WithResource(model.EntityNotification, notificationID.String()),
			audit.WithAction("mark-read"),
			audit.WithOutcome(model.OutcomeFailure),
		)
		return nil, ErrForbidden
	}

	if n.IsRead {
		return n, nil
	}

	readAt := s.now().UTC()
	if err := s.repo.MarkRead(ctx, n.ID, readAt); err != nil {
		return nil, apperrors.Internal(err)
	}
	n.IsRead = true
	n.ReadAt = &readAt

	s.auditor.Log(ctx, model.AuditNotificationRead, model.ActorFor(callerID), nil,
		audit.WithResource(model.EntityNotification, n.ID.String()),
		audit.WithAction("mark-read"),
	)
	return n, nil
}

// ListForUser returns the caller's notifications, newest first.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]*model.Notification, error) {
	return s.repo.ListForUser(ctx, userID, unreadOnly, limit)
}
