package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/coach-realtime/internal/email"
	"github.com/jwalitptl/coach-realtime/internal/model"
	"github.com/jwalitptl/coach-realtime/pkg/logger"
	"github.com/jwalitptl/coach-realtime/pkg/messaging"
	"github.com/jwalitptl/coach-realtime/pkg/metrics"
)

const AlertMessageType = "audit.alert"

// Alert is the out-of-band notice sent for HIGH and CRITICAL events.
type Alert struct {
	EventID    uuid.UUID              `json:"eventId"`
	Type       model.AuditEventType   `json:"eventType"`
	Risk       model.RiskLevel        `json:"riskLevel"`
	Timestamp  time.Time              `json:"timestamp"`
	Actor      model.Actor            `json:"actor"`
	Outcome    model.AuditOutcome     `json:"outcome"`
	Resource   string                 `json:"resource,omitempty"`
	ResourceID string                 `json:"resourceId,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

func alertFromEvent(e *model.AuditEvent) Alert {
	return Alert{
		EventID:    e.ID,
		Type:       e.Type,
		Risk:       e.Risk,
		Timestamp:  e.Timestamp,
		Actor:      e.Actor,
		Outcome:    e.Outcome,
		Resource:   e.Resource,
		ResourceID: e.ResourceID,
		Details:    e.Details,
	}
}

func (a Alert) Subject() string {
	return fmt.Sprintf("[%s] audit alert: %s", a.Risk, a.Type)
}

func (a Alert) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event:     %s\n", a.Type)
	fmt.Fprintf(&b, "Risk:      %s\n", a.Risk)
	fmt.Fprintf(&b, "Outcome:   %s\n", a.Outcome)
	fmt.Fprintf(&b, "Time:      %s\n", a.Timestamp.UTC().Format(time.RFC3339))
	if a.Actor.UserID != nil {
		fmt.Fprintf(&b, "User:      %s\n", a.Actor.UserID)
	}
	if a.Actor.IPAddress != "" {
		fmt.Fprintf(&b, "IP:        %s\n", a.Actor.IPAddress)
	}
	if a.Resource != "" {
		fmt.Fprintf(&b, "Resource:  %s %s\n", a.Resource, a.ResourceID)
	}
	if len(a.Details) > 0 {
		keys := make([]string, 0, len(a.Details))
		for k := range a.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Details:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, a.Details[k])
		}
	}
	return b.String()
}

type AlertSink interface {
	Send(ctx context.Context, alert Alert) error
}

// BrokerSink publishes alerts on a pub/sub channel for on-call tooling.
type BrokerSink struct {
	broker  messaging.Broker
	channel string
}

func NewBrokerSink(broker messaging.Broker, channel string) *BrokerSink {
	return &BrokerSink{broker: broker, channel: channel}
}

func (s *BrokerSink) Send(ctx context.Context, alert Alert) error {
	msg, err := messaging.NewMessage(AlertMessageType, alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	if err := s.broker.Publish(ctx, s.channel, msg); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// EmailSink mails alerts to the security recipients.
type EmailSink struct {
	mail       email.Service
	recipients []string
}

func NewEmailSink(mail email.Service, recipients []string) *EmailSink {
	return &EmailSink{mail: mail, recipients: recipients}
}

func (s *EmailSink) Send(ctx context.Context, alert Alert) error {
	if err := s.mail.Send(ctx, s.recipients, alert.Subject(), alert.Body()); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}

// LogSink writes alerts to the application log. It is the fallback when no
// other sink is configured.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Send(_ context.Context, alert Alert) error {
	s.log.Warn("audit alert",
		"event_id", alert.EventID.String(),
		"event_type", string(alert.Type),
		"risk", string(alert.Risk),
		"resource", alert.Resource,
	)
	return nil
}

// MultiSink sends to every sink and joins their errors.
type MultiSink []AlertSink

func (m MultiSink) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher drops repeats of the same event type for the same actor within
// the suppression window.
type Dispatcher struct {
	sink    AlertSink
	seen    *cache.Cache
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(sink AlertSink, window time.Duration, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	if window <= 0 {
		window = time.Minute
	}
	return &Dispatcher{
		sink:    sink,
		seen:    cache.New(window, 2*window),
		log:     log,
		metrics: m,
	}
}

func suppressionKey(a Alert) string {
	actor := "system"
	if a.Actor.UserID != nil {
		actor = a.Actor.UserID.String()
	} else if a.Actor.IPAddress != "" {
		actor = a.Actor.IPAddress
	}
	return string(a.Type) + "|" + actor
}

// Dispatch sends the alert unless an identical one was sent recently. It
// reports whether the alert went to the sink.
func (d *Dispatcher) Dispatch(ctx context.Context, alert Alert) (bool, error) {
	key := suppressionKey(alert)
	if err := d.seen.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
		d.metrics.AuditAlerts.WithLabelValues("suppressed").Inc()
		return false, nil
	}

	if err := d.sink.Send(ctx, alert); err != nil {
		d.seen.Delete(key)
		d.metrics.AuditAlerts.WithLabelValues("failed").Inc()
		d.log.Error(err, "failed to send audit alert", "event_type", string(alert.Type))
		return false, err
	}
	d.metrics.AuditAlerts.WithLabelValues("sent").Inc()
	return true, nil
}
