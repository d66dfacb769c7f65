package model

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleManager    Role = "MANAGER"
	RoleTeamLeader Role = "TEAM_LEADER"
	RoleAgent      Role = "AGENT"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleTeamLeader, RoleAgent:
		return true
	}
	return false
}

// User is the read-only projection of the identity store used by the gateway.
type User struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	Name         string     `json:"name" db:"name"`
	Role         Role       `json:"role" db:"role"`
	IsActive     bool       `json:"isActive" db:"is_active"`
	TeamLeaderID *uuid.UUID `json:"teamLeaderId,omitempty" db:"team_leader_id"`
	ManagedBy    *uuid.UUID `json:"managedBy,omitempty" db:"managed_by"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
}

// ReportsTo reports whether id is the user's team leader or manager.
func (u *User) ReportsTo(id uuid.UUID) bool {
	if u.TeamLeaderID != nil && *u.TeamLeaderID == id {
		return true
	}
	return u.ManagedBy != nil && *u.ManagedBy == id
}
