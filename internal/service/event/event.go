package event

import (
	"context"
	"fmt"

	"github.com/jwalitptl/coach-realtime/pkg/messaging"
)

// Domain event types published by the coaching application.
const (
	QuickNoteCreated    = "quick_note.created"
	ActionItemCreated   = "action_item.created"
	ActionItemCompleted = "action_item.completed"
	SessionScheduled    = "session.scheduled"
	SessionCompleted    = "session.completed"
	ActionPlanCreated   = "action_plan.created"
	ActionPlanUpdated   = "action_plan.updated"
)

// Publisher emits domain events onto a broker channel.
type Publisher struct {
	broker  messaging.Broker
	channel string
}

func NewPublisher(broker messaging.Broker, channel string) *Publisher {
	return &Publisher{broker: broker, channel: channel}
}

func (p *Publisher) Emit(ctx context.Context, eventType string, payload interface{}) error {
	msg, err := messaging.NewMessage(eventType, payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := p.broker.Publish(ctx, p.channel, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}
	return nil
}
