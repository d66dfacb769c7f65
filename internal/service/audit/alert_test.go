package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/coach-realtime/internal/email"
	"github.com/jwalitptl/coach-realtime/internal/model"
	"github.com/jwalitptl/coach-realtime/pkg/logger"
	"github.com/jwalitptl/coach-realtime/pkg/messaging"
	"github.com/jwalitptl/coach-realtime/pkg/messaging/redis"
	"github.com/jwalitptl/coach-realtime/pkg/metrics"
)

func sampleAlert() Alert {
	user := uuid.New()
	return Alert{
		EventID:   uuid.New(),
		Type:      model.AuditAccessDenied,
		Risk:      model.RiskHigh,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Actor:     model.Actor{UserID: &user, IPAddress: "10.1.1.1"},
		Outcome:   model.OutcomeFailure,
		Resource:  "room",
		Details:   map[string]interface{}{"room": "role:ADMIN"},
	}
}

func TestBrokerSink_PublishesEnvelope(t *testing.T) {
	s := miniredis.RunT(t)
	broker, err := redis.NewRedisBroker(redis.Config{URL: "redis://" + s.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { broker.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := broker.Subscribe(ctx, "audit-alerts")
	require.NoError(t, err)

	alert := sampleAlert()
	require.NoError(t, NewBrokerSink(broker, "audit-alerts").Send(ctx, alert))

	select {
	case raw := <-msgs:
		var env messaging.Message
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Equal(t, AlertMessageType, env.Type)

		var got Alert
		require.NoError(t, json.Unmarshal(env.Payload, &got))
		assert.Equal(t, alert.EventID, got.EventID)
		assert.Equal(t, model.RiskHigh, got.Risk)
		assert.Equal(t, "role:ADMIN", got.Details["room"])
	case <-time.After(2 * time.Second):
		t.Fatal("alert not published")
	}
}

type mail struct {
	To      []string
	Subject string
	Body    string
}

type fakeMailer struct {
	sent []mail
	err  error
}

func (f *fakeMailer) Send(_ context.Context, to []string, subject, body string) error {
	f.sent = append(f.sent, mail{to, subject, body})
	return f.err
}

var _ email.Service = (*fakeMailer)(nil)

func TestEmailSink(t *testing.T) {
	mailer := &fakeMailer{}
	sink := NewEmailSink(mailer, []string{"a@example.com", "b@example.com"})

	require.NoError(t, sink.Send(context.Background(), sampleAlert()))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, mailer.sent[0].To)
	assert.Equal(t, "[HIGH] audit alert: ACCESS_DENIED", mailer.sent[0].Subject)
	assert.Contains(t, mailer.sent[0].Body, "Event:     ACCESS_DENIED")

	mailer.err = errors.New("connection refused")
	assert.ErrorContains(t, sink.Send(context.Background(), sampleAlert()), "connection refused")
}

func TestAlertBody(t *testing.T) {
	body := sampleAlert().Body()
	assert.Contains(t, body, "Event:     ACCESS_DENIED")
	assert.Contains(t, body, "IP:        10.1.1.1")
	assert.Contains(t, body, "room: role:ADMIN")
	assert.Contains(t, body, "2026-03-01T12:00:00Z")
}

func TestMultiSink(t *testing.T) {
	ok := &recordingSink{}
	broken := &recordingSink{err: errors.New("boom")}
	multi := MultiSink{broken, ok, NewLogSink(logger.Nop())}

	err := multi.Send(context.Background(), sampleAlert())
	assert.ErrorContains(t, err, "boom")
	assert.Len(t, ok.Alerts(), 1, "a failing sink does not stop the others")
	assert.NoError(t, MultiSink{ok}.Send(context.Background(), sampleAlert()))
}

func TestDispatcher_Suppression(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 50*time.Millisecond, logger.Nop(), metrics.NewNop())
	ctx := context.Background()
	alert := sampleAlert()

	sent, err := d.Dispatch(ctx, alert)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = d.Dispatch(ctx, alert)
	require.NoError(t, err)
	assert.False(t, sent)

	other := sampleAlert()
	sent, _ = d.Dispatch(ctx, other)
	assert.True(t, sent, "different actor is not suppressed")

	time.Sleep(80 * time.Millisecond)
	sent, _ = d.Dispatch(ctx, alert)
	assert.True(t, sent, "window elapsed")
	assert.Len(t, sink.Alerts(), 3)
}

func TestDispatcher_SinkError(t *testing.T) {
	d := NewDispatcher(&recordingSink{err: errors.New("down")}, time.Minute, logger.Nop(), metrics.NewNop())
	sent, err := d.Dispatch(context.Background(), sampleAlert())
	assert.False(t, sent)
	assert.Error(t, err)
}
