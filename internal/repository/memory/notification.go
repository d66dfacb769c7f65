package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/coach-realtime/internal/model"
	"github.com/jwalitptl/coach-realtime/internal/repository"
)

type NotificationRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]model.Notification
}

func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{items: make(map[uuid.UUID]model.Notification)}
}

var _ repository.NotificationRepository = (*NotificationRepository)(nil)

func (r *NotificationRepository) Create(_ context.Context, n *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[n.ID]; exists {
		return fmt.Errorf("notification %s already exists", n.ID)
	}
	r.items[n.ID] = *n
	return nil
}

func (r *NotificationRepository) FindByID(_ context.Context, id uuid.UUID) (*model.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (r *NotificationRepository) MarkRead(_ context.Context, id uuid.UUID, readAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok {
		return fmt.Errorf("notification %s not found", id)
	}
	if n.IsRead {
		return nil
	}
	n.IsRead = true
	n.ReadAt = &readAt
	r.items[id] = n
	return nil
}

func (r *NotificationRepository) ListForUser(_ context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]*model.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Notification
	for _, n := range r.items {
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		n := n
		out = append(out, &n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
