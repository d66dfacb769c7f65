package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/coach-realtime/internal/model"
	"github.com/jwalitptl/coach-realtime/internal/service/audit"
	"github.com/jwalitptl/coach-realtime/pkg/logger"
	"github.com/jwalitptl/coach-realtime/pkg/messaging"
	"github.com/jwalitptl/coach-realtime/pkg/validator"
)

var ErrUnknownType = errors.New("unknown event type")

// Notifier is implemented by notification.Service.
type Notifier interface {
	NotifyQuickNoteCreated(ctx context.Context, note *model.QuickNote) (*model.Notification, error)
	NotifyActionItemCreated(ctx context.Context, item *model.ActionItem) (*model.Notification, error)
	NotifyActionItemCompleted(ctx context.Context, item *model.ActionItem) (*model.Notification, error)
	NotifySessionScheduled(ctx context.Context, session *model.CoachingSession) (*model.Notification, error)
	NotifySessionCompleted(ctx context.Context, session *model.CoachingSession) (*model.Notification, error)
	NotifyActionPlanCreated(ctx context.Context, plan *model.ActionPlan) (*model.Notification, error)
	NotifyActionPlanUpdated(ctx context.Context, plan *model.ActionPlan) (*model.Notification, error)
}

// Dispatcher turns domain events from the broker into notifications. The
// domain write has already happened when an event arrives, so a failure
// here is logged and the event skipped.
type Dispatcher struct {
	notes    Notifier
	auditor  audit.Recorder
	log      *logger.Logger
	validate validator.Validator
}

func NewDispatcher(notes Notifier, auditor audit.Recorder, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		notes:    notes,
		auditor:  auditor,
		log:      log.WithComponent("event_dispatcher"),
		validate: validator.New(),
	}
}

// Run consumes channel until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, broker messaging.Broker, channel string) error {
	d.log.Info("event dispatcher started", "channel", channel)
	err := messaging.Consume(ctx, broker, channel, d.Handle, func(err error) {
		d.log.Warn("domain event skipped", "error", err.Error())
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle dispatches one envelope.
func (d *Dispatcher) Handle(ctx context.Context, msg messaging.Message) error {
	switch msg.Type {
	case QuickNoteCreated:
		var note model.QuickNote
		if err := d.decode(msg, &note); err != nil {
			return err
		}
		d.record(ctx, model.AuditQuickNoteCreated, note.AuthorID, model.EntityQuickNote, note.ID)
		_, err := d.notes.NotifyQuickNoteCreated(ctx, &note)
		return err

	case ActionItemCreated, ActionItemCompleted:
		var item model.ActionItem
		if err := d.decode(msg, &item); err != nil {
			return err
		}
		if msg.Type == ActionItemCreated {
			d.record(ctx, model.AuditActionItemCreated, item.AssignedBy, model.EntityActionItem, item.ID)
			_, err := d.notes.NotifyActionItemCreated(ctx, &item)
			return err
		}
		d.record(ctx, model.AuditActionItemCompleted, item.AgentID, model.EntityActionItem, item.ID)
		_, err := d.notes.NotifyActionItemCompleted(ctx, &item)
		return err

	case SessionScheduled, SessionCompleted:
		var session model.CoachingSession
		if err := d.decode(msg, &session); err != nil {
			return err
		}
		if msg.Type == SessionScheduled {
			d.record(ctx, model.AuditSessionCreated, session.CoachID, model.EntityCoachingSession, session.ID)
			_, err := d.notes.NotifySessionScheduled(ctx, &session)
			return err
		}
		d.record(ctx, model.AuditSessionCompleted, session.CoachID, model.EntityCoachingSession, session.ID)
		_, err := d.notes.NotifySessionCompleted(ctx, &session)
		return err

	case ActionPlanCreated, ActionPlanUpdated:
		var plan model.ActionPlan
		if err := d.decode(msg, &plan); err != nil {
			return err
		}
		if msg.Type == ActionPlanCreated {
			d.record(ctx, model.AuditActionPlanCreated, plan.CreatedBy, model.EntityActionPlan, plan.ID)
			_, err := d.notes.NotifyActionPlanCreated(ctx, &plan)
			return err
		}
		d.record(ctx, model.AuditActionPlanUpdated, plan.CreatedBy, model.EntityActionPlan, plan.ID)
		_, err := d.notes.NotifyActionPlanUpdated(ctx, &plan)
		return err

	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
}

func (d *Dispatcher) decode(msg messaging.Message, dst interface{}) error {
	if err := json.Unmarshal(msg.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.Type, err)
	}
	if err := d.validate.Validate(dst); err != nil {
		return fmt.Errorf("invalid %s payload: %w", msg.Type, err)
	}
	return nil
}

func (d *Dispatcher) record(ctx context.Context, t model.AuditEventType, actor uuid.UUID, resource string, id uuid.UUID) {
	d.auditor.Log(ctx, t, model.ActorFor(actor), nil, audit.WithResource(resource, id.String()))
}
