package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/coach-realtime/internal/model"
	"github.com/jwalitptl/coach-realtime/internal/repository"
)

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

type notificationRow struct {
	ID         uuid.UUID     `db:"id"`
	UserID     uuid.UUID     `db:"user_id"`
	Type       string        `db:"type"`
	Title      string        `db:"title"`
	Message    string        `db:"message"`
	EntityID   uuid.NullUUID `db:"entity_id"`
	EntityType string        `db:"entity_type"`
	IsRead     bool          `db:"is_read"`
	ReadAt     sql.NullTime  `db:"read_at"`
	CreatedAt  time.Time     `db:"created_at"`
}

func (row notificationRow) toModel() *model.Notification {
	n := &model.Notification{
		ID:        row.ID,
		UserID:    row.UserID,
		Type:      model.NotificationType(row.Type),
		Title:     row.Title,
		Message:   row.Message,
		Data:      model.EntityRef{EntityType: row.EntityType},
		IsRead:    row.IsRead,
		CreatedAt: row.CreatedAt,
	}
	if row.EntityID.Valid {
		n.Data.EntityID = row.EntityID.UUID
	}
	if row.ReadAt.Valid {
		t := row.ReadAt.Time
		n.ReadAt = &t
	}
	return n
}

const notificationColumns = `id, user_id, type, title, message, entity_id, entity_type, is_read, read_at, created_at`

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	entityID := uuid.NullUUID{UUID: n.Data.EntityID, Valid: n.Data.EntityID != uuid.Nil}
	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		n.UserID,
		n.Type,
		n.Title,
		n.Message,
		entityID,
		n.Data.EntityType,
		n.IsRead,
		n.ReadAt,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	var row notificationRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return row.toModel(), nil
}

// MarkRead only touches unread rows so the first read timestamp is kept.
func (r *notificationRepository) MarkRead(ctx context.Context, id uuid.UUID, readAt time.Time) error {
	query := `
		UPDATE notifications
		SET is_read = TRUE, read_at = $2
		WHERE id = $1 AND is_read = FALSE
	`

	if _, err := r.db.ExecContext(ctx, query, id, readAt); err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}

func (r *notificationRepository) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]*model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND is_read = FALSE`
	}
	query += ` ORDER BY created_at DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	var rows []notificationRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	out := make([]*model.Notification, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}
