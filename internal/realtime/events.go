package realtime

// Server to client events.
const (
	EventNewNotification        = "new-notification"
	EventQuickNoteCreated       = "quick-note-created"
	EventActionItemCreated      = "action-item-created"
	EventActionItemUpdated      = "action-item-updated"
	EventSessionScheduled       = "session-scheduled"
	EventSessionCompleted       = "session-completed"
	EventActionPlanCreated      = "action-plan-created"
	EventActionPlanUpdated      = "action-plan-updated"
	EventNotificationMarkedRead = "notification-marked-read"
	EventRoomJoined             = "room-joined"
	EventError                  = "error"
)

// Client to server events.
const (
	EventJoinUserRoom         = "join-user-room"
	EventJoinRoleRoom         = "join-role-room"
	EventJoinTeamRoom         = "join-team-room"
	EventJoinAgentRoom        = "join-agent-room"
	EventMarkNotificationRead = "mark-notification-read"
)

// ErrorPayload is sent with EventError. Message never says why an
// authorization check failed.
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

// RoomJoinedPayload acknowledges a successful join.
type RoomJoinedPayload struct {
	Room string `json:"room"`
}
