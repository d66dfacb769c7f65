package realtime

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/coach-realtime/internal/model"
)

type RoomKind int

const (
	RoomUser RoomKind = iota + 1
	RoomRole
	RoomTeam
	RoomAgent
)

func (k RoomKind) String() string {
	switch k {
	case RoomUser:
		return "user"
	case RoomRole:
		return "role"
	case RoomTeam:
		return "team"
	case RoomAgent:
		return "agent"
	}
	return fmt.Sprintf("RoomKind(%d)", int(k))
}

// Room is a broadcast group. The zero value is not a valid room; use the
// constructors below.
type Room struct {
	Kind RoomKind
	ID   string
}

func UserRoom(id uuid.UUID) Room       { return Room{Kind: RoomUser, ID: id.String()} }
func RoleRoom(role model.Role) Room    { return Room{Kind: RoomRole, ID: string(role)} }
func TeamRoom(leaderID uuid.UUID) Room { return Room{Kind: RoomTeam, ID: leaderID.String()} }
func AgentRoom(agentID uuid.UUID) Room { return Room{Kind: RoomAgent, ID: agentID.String()} }

// String renders the room as "kind:id". It is meant for logs and metrics
// labels, never for parsing.
func (r Room) String() string {
	return r.Kind.String() + ":" + r.ID
}

func (r Room) Valid() bool {
	if r.ID == "" {
		return false
	}
	switch r.Kind {
	case RoomUser, RoomTeam, RoomAgent:
		_, err := uuid.Parse(r.ID)
		return err == nil
	case RoomRole:
		return model.Role(r.ID).Valid()
	}
	return false
}

// UUID returns the id of a user, team or agent room.
func (r Room) UUID() (uuid.UUID, error) {
	if r.Kind == RoomRole {
		return uuid.Nil, fmt.Errorf("room %s has no user id", r)
	}
	return uuid.Parse(r.ID)
}
