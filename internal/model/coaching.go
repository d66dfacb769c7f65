package model

import (
	"time"

	"github.com/google/uuid"
)

// Entities owned by the coaching CRUD service. The gateway only reads the fields
// it needs to route notifications.

type QuickNote struct {
	ID       uuid.UUID `json:"id" validate:"required"`
	AgentID  uuid.UUID `json:"agentId" validate:"required"`
	AuthorID uuid.UUID `json:"authorId" validate:"required"`
	Content  string    `json:"content"`
}

type ActionItem struct {
	ID         uuid.UUID  `json:"id" validate:"required"`
	Title      string     `json:"title" validate:"required"`
	AgentID    uuid.UUID  `json:"agentId" validate:"required"`
	AssignedBy uuid.UUID  `json:"assignedBy" validate:"required"`
	DueDate    *time.Time `json:"dueDate,omitempty"`
}

type CoachingSession struct {
	ID          uuid.UUID `json:"id" validate:"required"`
	AgentID     uuid.UUID `json:"agentId" validate:"required"`
	CoachID     uuid.UUID `json:"coachId" validate:"required"`
	ScheduledAt time.Time `json:"scheduledAt" validate:"required"`
}

type ActionPlan struct {
	ID        uuid.UUID `json:"id" validate:"required"`
	Title     string    `json:"title" validate:"required"`
	AgentID   uuid.UUID `json:"agentId" validate:"required"`
	CreatedBy uuid.UUID `json:"createdBy" validate:"required"`
}

const (
	EntityQuickNote       = "quick_note"
	EntityActionItem      = "action_item"
	EntityCoachingSession = "coaching_session"
	EntityActionPlan      = "action_plan"
	EntityNotification    = "notification"
)
