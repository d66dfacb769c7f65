package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/coach-realtime/config"
	"github.com/jwalitptl/coach-realtime/internal/model"
	"github.com/jwalitptl/coach-realtime/internal/repository"
	"github.com/jwalitptl/coach-realtime/pkg/logger"
	"github.com/jwalitptl/coach-realtime/pkg/metrics"
)

const alertTimeout = 10 * time.Second

// Recorder is what request paths depend on to write audit events.
type Recorder interface {
	Log(ctx context.Context, eventType model.AuditEventType, actor model.Actor, details map[string]interface{}, opts ...Option)
}

type Option func(*model.AuditEvent)

// WithRisk overrides the default risk of the event type.
func WithRisk(risk model.RiskLevel) Option {
	return func(e *model.AuditEvent) {
		if risk.Valid() {
			e.Risk = risk
		}
	}
}

func WithOutcome(outcome model.AuditOutcome) Option {
	return func(e *model.AuditEvent) { e.Outcome = outcome }
}

func WithResource(resource, id string) Option {
	return func(e *model.AuditEvent) {
		e.Resource = resource
		e.ResourceID = id
	}
}

func WithAction(action string) Option {
	return func(e *model.AuditEvent) { e.Action = action }
}

func WithMetadata(metadata map[string]interface{}) Option {
	return func(e *model.AuditEvent) { e.Metadata = Sanitize(metadata) }
}

// Ticker drives the periodic flush.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type timeTicker struct{ *time.Ticker }

func (t timeTicker) Chan() <-chan time.Time { return t.C }

type PipelineOption func(*Pipeline)

// WithTicker replaces the wall-clock ticker.
func WithTicker(newTicker func(time.Duration) Ticker) PipelineOption {
	return func(p *Pipeline) { p.newTicker = newTicker }
}

func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// WithAlerts enables HIGH/CRITICAL alerts and flush failure escalation.
func WithAlerts(d *Dispatcher) PipelineOption {
	return func(p *Pipeline) { p.alerts = d }
}

// Pipeline buffers audit events in memory and writes them to the store in
// batches. CRITICAL events are written before Log returns.
type Pipeline struct {
	store   repository.AuditRepository
	cfg     config.AuditConfig
	log     *logger.Logger
	metrics *metrics.Metrics
	alerts  *Dispatcher

	now       func() time.Time
	newTicker func(time.Duration) Ticker

	mu     sync.Mutex
	buf    []model.AuditEvent
	closed bool

	// flushMu serializes flushes; failures is guarded by it.
	flushMu  sync.Mutex
	failures int

	kick      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	started   bool
	alertWG   sync.WaitGroup
}

func NewPipeline(store repository.AuditRepository, cfg config.AuditConfig, log *logger.Logger, m *metrics.Metrics, opts ...PipelineOption) *Pipeline {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	p := &Pipeline{
		store:   store,
		cfg:     cfg,
		log:     log.WithComponent("audit"),
		metrics: m,
		now:     time.Now,
		newTicker: func(d time.Duration) Ticker {
			return timeTicker{time.NewTicker(d)}
		},
		kick: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ Recorder = (*Pipeline)(nil)

// Log records an event. It never fails from the caller's point of view;
// storage and alert errors are logged and counted.
func (p *Pipeline) Log(ctx context.Context, eventType model.AuditEventType, actor model.Actor, details map[string]interface{}, opts ...Option) {
	if !p.cfg.Enabled {
		return
	}

	event := model.AuditEvent{
		ID:        uuid.New(),
		Timestamp: p.now().UTC(),
		Type:      eventType,
		Risk:      RiskFor(eventType),
		Actor:     actor,
		Outcome:   model.OutcomeSuccess,
		Details:   Sanitize(details),
	}
	for _, opt := range opts {
		opt(&event)
	}
	p.metrics.AuditEvents.WithLabelValues(string(event.Risk)).Inc()

	p.mu.Lock()
	p.buf = append(p.buf, event)
	dropped := p.enforceLimit()
	size := len(p.buf)
	closed := p.closed
	p.mu.Unlock()

	p.metrics.AuditBuffered.Set(float64(size))
	p.reportDropped(dropped)

	switch {
	case event.Risk == model.RiskCritical || closed:
		if err := p.Flush(ctx); err != nil {
			p.log.Error(err, "synchronous audit flush failed", "event_type", string(event.Type))
		}
	case p.cfg.BufferSize > 0 && size >= p.cfg.BufferSize:
		select {
		case p.kick <- struct{}{}:
		default:
		}
	}

	if p.cfg.RealtimeAlerts && p.alerts != nil && event.Risk.AtLeast(model.RiskHigh) {
		p.sendAlert(alertFromEvent(&event))
	}
}

// sendAlert dispatches in the background while the pipeline is open. Once
// Close has begun waiting on alertWG, alerts are dispatched inline instead.
func (p *Pipeline) sendAlert(alert Alert) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.dispatchAlert(alert)
		return
	}
	// Add happens under mu so it cannot race Close's Wait.
	p.alertWG.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.alertWG.Done()
		p.dispatchAlert(alert)
	}()
}

func (p *Pipeline) dispatchAlert(alert Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
	defer cancel()
	_, _ = p.alerts.Dispatch(ctx, alert)
}

// enforceLimit drops the oldest LOW events, then the oldest MEDIUM events,
// until the buffer fits MaxBuffered. HIGH and CRITICAL events are never
// dropped. Caller holds p.mu.
func (p *Pipeline) enforceLimit() map[model.RiskLevel]int {
	limit := p.cfg.MaxBuffered
	if limit <= 0 || len(p.buf) <= limit {
		return nil
	}

	dropped := make(map[model.RiskLevel]int)
	for _, level := range []model.RiskLevel{model.RiskLow, model.RiskMedium} {
		excess := len(p.buf) - limit
		if excess <= 0 {
			break
		}
		kept := p.buf[:0]
		for _, e := range p.buf {
			if excess > 0 && e.Risk == level {
				excess--
				dropped[level]++
				continue
			}
			kept = append(kept, e)
		}
		p.buf = kept
	}
	return dropped
}

func (p *Pipeline) reportDropped(dropped map[model.RiskLevel]int) {
	for level, n := range dropped {
		p.metrics.AuditDropped.WithLabelValues(string(level)).Add(float64(n))
		p.log.Warn("audit buffer full, dropped events", "risk", string(level), "count", n)
	}
}

// Flush writes everything buffered so far as one batch. On failure the batch
// goes back to the head of the buffer in its original order.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	batch := p.buf
	p.buf = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	err := p.store.AppendBatch(ctx, batch)
	p.metrics.AuditFlushDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		p.failures = 0
		p.mu.Lock()
		size := len(p.buf)
		p.mu.Unlock()
		p.metrics.AuditBuffered.Set(float64(size))
		return nil
	}

	p.mu.Lock()
	p.buf = append(batch, p.buf...)
	dropped := p.enforceLimit()
	size := len(p.buf)
	p.mu.Unlock()

	p.failures++
	p.metrics.AuditFlushFailures.Inc()
	p.metrics.AuditBuffered.Set(float64(size))
	p.reportDropped(dropped)
	p.log.Error(err, "audit flush failed, batch re-queued",
		"batch", len(batch),
		"buffered", size,
		"consecutive_failures", p.failures,
	)

	if n := p.cfg.FailureEscalation; n > 0 && p.failures%n == 0 && p.alerts != nil {
		p.sendAlert(Alert{
			EventID:   uuid.New(),
			Type:      model.AuditFlushFailure,
			Risk:      model.RiskCritical,
			Timestamp: p.now().UTC(),
			Outcome:   model.OutcomeFailure,
			Resource:  "audit_events",
			Details: map[string]interface{}{
				"consecutive_failures": p.failures,
				"buffered":             size,
				"error":                err.Error(),
			},
		})
	}

	return fmt.Errorf("failed to flush %d audit events: %w", len(batch), err)
}

// Start runs the periodic flush until Close is called or ctx is done.
func (p *Pipeline) Start(ctx context.Context) {
	if !p.cfg.Enabled {
		return
	}
	p.startOnce.Do(func() {
		p.mu.Lock()
		p.started = true
		p.mu.Unlock()
		go p.run(ctx)
	})
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)

	ticker := p.newTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		case <-p.kick:
		}
		// errors are logged and the batch stays buffered
		_ = p.Flush(ctx)
	}
}

// Close stops the flush loop, waits for pending alerts and writes whatever
// is still buffered. Events logged after Close are flushed synchronously.
func (p *Pipeline) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		started := p.started
		p.mu.Unlock()

		close(p.stop)
		if started {
			select {
			case <-p.done:
			case <-ctx.Done():
			}
		}

		alertsDone := make(chan struct{})
		go func() {
			p.alertWG.Wait()
			close(alertsDone)
		}()
		select {
		case <-alertsDone:
		case <-ctx.Done():
		}

		err = p.Flush(ctx)
	})
	return err
}

// Buffered returns the number of events waiting to be flushed.
func (p *Pipeline) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}
