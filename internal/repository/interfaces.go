package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/coach-realtime/internal/model"
)

// All repository interfaces in one file. Finders return (nil, nil) when the
// record does not exist.
type (
	// UserRepository is a read-only view of the identity store
	UserRepository interface {
		FindByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	}

	NotificationRepository interface {
		Create(ctx context.Context, n *model.Notification) error
		FindByID(ctx context.Context, id uuid.UUID) (*model.Notification, error)
		MarkRead(ctx context.Context, id uuid.UUID, readAt time.Time) error
		ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]*model.Notification, error)
	}

	// AuditRepository is append-only; DeleteBefore exists for retention only
	AuditRepository interface {
		AppendBatch(ctx context.Context, events []model.AuditEvent) error
		Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditEvent, int64, error)
		Summarize(ctx context.Context, filter model.AuditFilter) (*model.AuditSummary, error)
		DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}
)
