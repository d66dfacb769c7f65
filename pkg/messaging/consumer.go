package messaging

import (
	"context"
	"encoding/json"
	"fmt"
)

// HandlerFunc processes one decoded message. Returned errors are reported, never fatal.
type HandlerFunc func(ctx context.Context, msg Message) error

// Consume subscribes to channel and feeds every message to handler until ctx is done.
// Malformed envelopes and handler failures go to onError and the loop continues.
func Consume(ctx context.Context, broker Broker, channel string, handler HandlerFunc, onError func(error)) error {
	msgs, err := broker.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	if onError == nil {
		onError = func(error) {}
	}

	for raw := range msgs {
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			onError(fmt.Errorf("decode message on %s: %w", channel, err))
			continue
		}
		if err := handler(ctx, msg); err != nil {
			onError(fmt.Errorf("handle %s: %w", msg.Type, err))
		}
	}
	return ctx.Err()
}
