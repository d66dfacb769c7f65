package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/coach-realtime/internal/model"
	"github.com/jwalitptl/coach-realtime/internal/repository"
)

// AuditRepository keeps flushed events in insertion order.
type AuditRepository struct {
	mu      sync.RWMutex
	events  []model.AuditEvent
	batches int
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

var _ repository.AuditRepository = (*AuditRepository)(nil)

func (r *AuditRepository) AppendBatch(_ context.Context, events []model.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	r.batches++
	return nil
}

func (r *AuditRepository) Query(_ context.Context, filter model.AuditFilter) ([]model.AuditEvent, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []model.AuditEvent
	for i := len(r.events) - 1; i >= 0; i-- {
		if Matches(filter, &r.events[i]) {
			matched = append(matched, r.events[i])
		}
	}

	total := int64(len(matched))
	limit, offset := filter.LimitOffset()
	if offset >= len(matched) {
		return []model.AuditEvent{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r *AuditRepository) Summarize(_ context.Context, filter model.AuditFilter) (*model.AuditSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summary := model.NewAuditSummary()
	actors := make(map[uuid.UUID]struct{})
	for i := range r.events {
		e := &r.events[i]
		if !Matches(filter, e) {
			continue
		}
		summary.Total++
		summary.ByType[e.Type]++
		summary.ByRisk[e.Risk]++
		summary.ByOutcome[e.Outcome]++
		if e.UserID != nil {
			actors[*e.UserID] = struct{}{}
		}
		ts := e.Timestamp
		if summary.First == nil || ts.Before(*summary.First) {
			summary.First = &ts
		}
		if summary.Last == nil || ts.After(*summary.Last) {
			summary.Last = &ts
		}
	}
	summary.UniqueActors = int64(len(actors))
	return summary, nil
}

func (r *AuditRepository) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0]
	var deleted int64
	for _, e := range r.events {
		if e.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return deleted, nil
}

// Events returns a copy of everything flushed so far, oldest first.
func (r *AuditRepository) Events() []model.AuditEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.AuditEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Batches reports how many non-empty AppendBatch calls succeeded.
func (r *AuditRepository) Batches() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.batches
}

// Matches applies filter to a single event.
func Matches(filter model.AuditFilter, e *model.AuditEvent) bool {
	if filter.From != nil && e.Timestamp.Before(*filter.From) {
		return false
	}
	if filter.To != nil && e.Timestamp.After(*filter.To) {
		return false
	}
	if filter.UserID != nil && (e.UserID == nil || *e.UserID != *filter.UserID) {
		return false
	}
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.MinRisk != "" && !e.Risk.AtLeast(filter.MinRisk) {
		return false
	}
	if filter.Outcome != "" && e.Outcome != filter.Outcome {
		return false
	}
	if filter.Resource != "" && e.Resource != filter.Resource {
		return false
	}
	if filter.ResourceID != "" && e.ResourceID != filter.ResourceID {
		return false
	}
	return true
}
