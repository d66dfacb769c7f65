package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationQuickNote           NotificationType = "QUICK_NOTE"
	NotificationActionItemAssigned  NotificationType = "ACTION_ITEM_ASSIGNED"
	NotificationActionItemCompleted NotificationType = "ACTION_ITEM_COMPLETED"
	NotificationSessionScheduled    NotificationType = "SESSION_SCHEDULED"
	NotificationSessionCompleted    NotificationType = "SESSION_COMPLETED"
	NotificationActionPlanCreated   NotificationType = "ACTION_PLAN_CREATED"
	NotificationActionPlanUpdated   NotificationType = "ACTION_PLAN_UPDATED"
)

// Notification is the durable record pushed to a user's room.
// It is created unread and only ever transitions to read.
type Notification struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	UserID    uuid.UUID        `json:"userId" db:"user_id"`
	Type      NotificationType `json:"type" db:"type"`
	Title     string           `json:"title" db:"title"`
	Message   string           `json:"message" db:"message"`
	Data      EntityRef        `json:"data" db:"-"`
	IsRead    bool             `json:"isRead" db:"is_read"`
	ReadAt    *time.Time       `json:"readAt,omitempty" db:"read_at"`
	CreatedAt time.Time        `json:"createdAt" db:"created_at"`
}
