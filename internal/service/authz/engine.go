package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/coach-realtime/internal/model"
	"github.com/jwalitptl/coach-realtime/internal/realtime"
	"github.com/jwalitptl/coach-realtime/internal/service/identity"
)

var ErrDenied = errors.New("unauthorized")

// Denial carries the internal reason for a refused join. Callers must only
// show ErrDenied's message to clients.
type Denial struct {
	Room   realtime.Room
	Reason string
	Err    error
}

func (d *Denial) Error() string {
	if d.Err != nil {
		return fmt.Sprintf("join %s denied: %s: %v", d.Room, d.Reason, d.Err)
	}
	return fmt.Sprintf("join %s denied: %s", d.Room, d.Reason)
}

func (d *Denial) Is(target error) bool { return target == ErrDenied }

func (d *Denial) Unwrap() error { return d.Err }

// UserLookup reads the current persisted state of a user. It returns nil, nil
// when the user does not exist.
type UserLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// Engine decides room joins. It keeps no state between calls: the caller and
// any target user are read on every decision.
type Engine struct {
	users UserLookup
}

func NewEngine(users UserLookup) *Engine {
	return &Engine{users: users}
}

// Authorize returns nil when caller may join room, or an error matching
// ErrDenied.
func (e *Engine) Authorize(ctx context.Context, caller identity.Identity, room realtime.Room) error {
	deny := func(reason string, err error) error {
		return &Denial{Room: room, Reason: reason, Err: err}
	}

	if !room.Valid() {
		return deny("invalid room", nil)
	}

	me, err := e.users.FindByID(ctx, caller.UserID)
	if err != nil {
		return deny("caller lookup failed", err)
	}
	if me == nil || !me.IsActive {
		return deny("caller not active", nil)
	}

	switch room.Kind {
	case realtime.RoomUser:
		if room.ID != me.ID.String() {
			return deny("not own user room", nil)
		}
		return nil

	case realtime.RoomRole:
		if model.Role(room.ID) != me.Role {
			return deny("role mismatch", nil)
		}
		return nil

	case realtime.RoomTeam:
		leaderID, _ := room.UUID()
		if leaderID != me.ID && me.Role != model.RoleManager && me.Role != model.RoleAdmin {
			return deny("not team leader or supervisor", nil)
		}
		leader, err := e.users.FindByID(ctx, leaderID)
		if err != nil {
			return deny("team lookup failed", err)
		}
		if leader == nil || (leader.Role != model.RoleTeamLeader && leader.Role != model.RoleManager) {
			return deny("target is not a team leader", nil)
		}
		return nil

	case realtime.RoomAgent:
		agentID, _ := room.UUID()
		agent, err := e.users.FindByID(ctx, agentID)
		if err != nil {
			return deny("agent lookup failed", err)
		}
		if agent == nil || agent.Role != model.RoleAgent {
			return deny("target is not an agent", nil)
		}
		if agentID == me.ID || agent.ReportsTo(me.ID) || me.Role == model.RoleAdmin {
			return nil
		}
		return deny("agent outside hierarchy", nil)
	}

	return deny("unknown room kind", nil)
}
