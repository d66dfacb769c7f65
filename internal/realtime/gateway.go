package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/coach-realtime/internal/model"
	"github.com/jwalitptl/coach-realtime/internal/service/audit"
	"github.com/jwalitptl/coach-realtime/internal/service/identity"
	apperrors "github.com/jwalitptl/coach-realtime/pkg/errors"
	"github.com/jwalitptl/coach-realtime/pkg/logger"
	"github.com/jwalitptl/coach-realtime/pkg/metrics"
	"github.com/jwalitptl/coach-realtime/pkg/validator"
)

var ErrSessionClosed = errors.New("session closed")

const msgUnauthorized = "unauthorized"

type Authenticator interface {
	Resolve(ctx context.Context, cred identity.Credential) (identity.Identity, error)
}

// Authorizer decides room joins. Implementations must re-read the caller on
// every call.
type Authorizer interface {
	Authorize(ctx context.Context, caller identity.Identity, room Room) error
}

// NotificationMarker marks a notification read after checking the stored
// recipient against callerID.
type NotificationMarker interface {
	MarkRead(ctx context.Context, callerID, notificationID uuid.UUID) (*model.Notification, error)
}

// Inbound is a client frame: {"event": "...", "data": {...}}.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinUserRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
}

type joinRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=ADMIN MANAGER TEAM_LEADER AGENT"`
}

type joinTeamRequest struct {
	TeamLeaderID string `json:"teamLeaderId" validate:"required,uuid"`
}

type joinAgentRequest struct {
	AgentID string `json:"agentId" validate:"required,uuid"`
}

type markReadRequest struct {
	NotificationID string `json:"notificationId" validate:"required,uuid"`
}

// MarkedReadPayload is sent to the owner's user room after a mark-read.
type MarkedReadPayload struct {
	NotificationID uuid.UUID  `json:"notificationId"`
	ReadAt         *time.Time `json:"readAt"`
}

// Session is one authenticated connection. It is created by Attach and ends
// with Detach; there is no way back to the authenticated state.
type Session struct {
	identity  identity.Identity
	client    Client
	actor     model.Actor
	startedAt time.Time
	closed    atomic.Bool
}

func (s *Session) ID() string { return s.client.ID() }

func (s *Session) Identity() identity.Identity { return s.identity }

func (s *Session) Closed() bool { return s.closed.Load() }

type Deps struct {
	Registry      *Registry
	Authenticator Authenticator
	Authorizer    Authorizer
	Notifications NotificationMarker
	Auditor       audit.Recorder
	Logger        *logger.Logger
	Metrics       *metrics.Metrics
}

type Gateway struct {
	registry *Registry
	authn    Authenticator
	authz    Authorizer
	auditor  audit.Recorder
	log      *logger.Logger
	metrics  *metrics.Metrics
	validate validator.Validator

	notesMu sync.RWMutex
	notes   NotificationMarker
}

func NewGateway(d Deps) *Gateway {
	return &Gateway{
		registry: d.Registry,
		authn:    d.Authenticator,
		authz:    d.Authorizer,
		notes:    d.Notifications,
		auditor:  d.Auditor,
		log:      d.Logger.WithComponent("gateway"),
		metrics:  d.Metrics,
		validate: validator.New(),
	}
}

// SetNotifications wires the notification service, which itself broadcasts
// through the gateway and so is built after it.
func (g *Gateway) SetNotifications(n NotificationMarker) {
	g.notesMu.Lock()
	g.notes = n
	g.notesMu.Unlock()
}

func (g *Gateway) notifications() NotificationMarker {
	g.notesMu.RLock()
	defer g.notesMu.RUnlock()
	return g.notes
}

// Authenticate resolves the handshake credential. Any failure is final for
// the connection attempt.
func (g *Gateway) Authenticate(ctx context.Context, cred identity.Credential, actor model.Actor) (identity.Identity, error) {
	id, err := g.authn.Resolve(ctx, cred)
	if err != nil {
		reason := identity.ReasonOf(err)
		g.metrics.AuthFailures.WithLabelValues(string(reason)).Inc()
		g.auditor.Log(ctx, model.AuditRealtimeAuthFailure, actor,
			map[string]interface{}{"reason": string(reason)},
			audit.WithOutcome(model.OutcomeFailure),
			audit.WithAction("connect"),
		)
		g.log.Warn("realtime authentication failed", "reason", string(reason), "ip", actor.IPAddress)
		return identity.Identity{}, err
	}
	return id, nil
}

// Attach registers an authenticated client and joins it to its own user
// room, and nothing else.
func (g *Gateway) Attach(ctx context.Context, id identity.Identity, client Client, actor model.Actor) (*Session, error) {
	if err := g.registry.Add(client); err != nil {
		return nil, err
	}
	if err := g.registry.Join(client.ID(), UserRoom(id.UserID)); err != nil {
		g.registry.Remove(client.ID())
		return nil, err
	}

	actor.UserID = &id.UserID
	if actor.SessionID == "" {
		actor.SessionID = id.SessionID
	}
	s := &Session{identity: id, client: client, actor: actor, startedAt: time.Now()}

	g.metrics.ConnectionsActive.Inc()
	g.auditor.Log(ctx, model.AuditRealtimeConnect, actor,
		map[string]interface{}{"connection_id": client.ID(), "role": string(id.Role)},
	)
	g.log.Debug("connection attached", "connection_id", client.ID(), "user_id", id.UserID.String())
	return s, nil
}

// Detach removes the session from every room. It is safe to call more than
// once.
func (g *Gateway) Detach(ctx context.Context, s *Session) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	rooms := g.registry.Remove(s.ID())

	g.metrics.ConnectionsActive.Dec()
	g.auditor.Log(ctx, model.AuditRealtimeDisconnect, s.actor, map[string]interface{}{
		"connection_id": s.ID(),
		"rooms":         len(rooms),
		"duration_ms":   time.Since(s.startedAt).Milliseconds(),
	})
	g.log.Debug("connection detached", "connection_id", s.ID(), "rooms", len(rooms))
}

// Handle processes one client frame. Denials and bad input are reported to
// the client as error events and do not end the session. The only error
// returned is ErrSessionClosed.
func (g *Gateway) Handle(ctx context.Context, s *Session, in Inbound) error {
	if s.Closed() {
		return ErrSessionClosed
	}

	switch in.Event {
	case EventJoinUserRoom:
		var req joinUserRequest
		if !g.decode(s, in, &req) {
			return nil
		}
		return g.join(ctx, s, in.Event, UserRoom(uuid.MustParse(req.UserID)))

	case EventJoinRoleRoom:
		var req joinRoleRequest
		if !g.decode(s, in, &req) {
			return nil
		}
		return g.join(ctx, s, in.Event, RoleRoom(model.Role(req.Role)))

	case EventJoinTeamRoom:
		var req joinTeamRequest
		if !g.decode(s, in, &req) {
			return nil
		}
		return g.join(ctx, s, in.Event, TeamRoom(uuid.MustParse(req.TeamLeaderID)))

	case EventJoinAgentRoom:
		var req joinAgentRequest
		if !g.decode(s, in, &req) {
			return nil
		}
		return g.join(ctx, s, in.Event, AgentRoom(uuid.MustParse(req.AgentID)))

	case EventMarkNotificationRead:
		var req markReadRequest
		if !g.decode(s, in, &req) {
			return nil
		}
		return g.markRead(ctx, s, uuid.MustParse(req.NotificationID))

	default:
		g.metrics.InboundRejected.WithLabelValues("unknown_event").Inc()
		g.sendError(s, in.Event, "unknown event")
		return nil
	}
}

// HandleRaw decodes a text frame and handles it.
func (g *Gateway) HandleRaw(ctx context.Context, s *Session, frame []byte) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	var in Inbound
	if err := json.Unmarshal(frame, &in); err != nil || in.Event == "" {
		g.metrics.InboundRejected.WithLabelValues("malformed").Inc()
		g.sendError(s, "", "invalid message")
		return nil
	}
	return g.Handle(ctx, s, in)
}

// RateLimited reports a dropped frame to the client and records it.
func (g *Gateway) RateLimited(ctx context.Context, s *Session) {
	g.metrics.InboundRejected.WithLabelValues("rate_limited").Inc()
	g.auditor.Log(ctx, model.AuditRateLimitExceeded, s.actor,
		map[string]interface{}{"connection_id": s.ID()},
		audit.WithOutcome(model.OutcomeFailure),
	)
	g.sendError(s, "", "rate limit exceeded")
}

func (g *Gateway) decode(s *Session, in Inbound, dst interface{}) bool {
	if len(in.Data) == 0 || json.Unmarshal(in.Data, dst) != nil {
		g.metrics.InboundRejected.WithLabelValues("malformed").Inc()
		g.sendError(s, in.Event, "invalid payload")
		return false
	}
	if err := g.validate.Validate(dst); err != nil {
		g.metrics.InboundRejected.WithLabelValues("invalid").Inc()
		g.sendError(s, in.Event, "invalid payload")
		return false
	}
	return true
}

// join authorizes first, with no registry lock held, and only then mutates
// the registry.
func (g *Gateway) join(ctx context.Context, s *Session, event string, room Room) error {
	kind := room.Kind.String()
	if err := g.authz.Authorize(ctx, s.identity, room); err != nil {
		g.metrics.RoomJoins.WithLabelValues(kind, "denied").Inc()
		g.auditor.Log(ctx, model.AuditRoomJoinDenied, s.actor,
			map[string]interface{}{"room": room.String(), "reason": err.Error()},
			audit.WithOutcome(model.OutcomeFailure),
			audit.WithResource("room", room.String()),
		)
		g.sendError(s, event, msgUnauthorized)
		return nil
	}

	if err := g.registry.Join(s.ID(), room); err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			return ErrSessionClosed
		}
		return err
	}

	g.metrics.RoomJoins.WithLabelValues(kind, "allowed").Inc()
	g.auditor.Log(ctx, model.AuditRoomJoined, s.actor, nil, audit.WithResource("room", room.String()))
	_ = s.client.Send(EventRoomJoined, RoomJoinedPayload{Room: room.String()})
	return nil
}

func (g *Gateway) markRead(ctx context.Context, s *Session, notificationID uuid.UUID) error {
	notes := g.notifications()
	if notes == nil {
		g.sendError(s, EventMarkNotificationRead, "unavailable")
		return nil
	}

	n, err := notes.MarkRead(ctx, s.identity.UserID, notificationID)
	if err != nil {
		switch apperrors.CodeOf(err) {
		case apperrors.ErrForbidden:
			g.sendError(s, EventMarkNotificationRead, msgUnauthorized)
		case apperrors.ErrNotFound:
			g.sendError(s, EventMarkNotificationRead, "notification not found")
		default:
			g.log.Error(err, "failed to mark notification read", "notification_id", notificationID.String())
			g.sendError(s, EventMarkNotificationRead, "internal error")
		}
		return nil
	}

	if s.Closed() {
		return ErrSessionClosed
	}
	g.Broadcast(UserRoom(s.identity.UserID), EventNotificationMarkedRead, MarkedReadPayload{
		NotificationID: n.ID,
		ReadAt:         n.ReadAt,
	})
	return nil
}

func (g *Gateway) sendError(s *Session, event, message string) {
	_ = s.client.Send(EventError, ErrorPayload{Event: event, Message: message})
}

// Broadcast fans out to every connection in room and returns the number of
// connections reached.
func (g *Gateway) Broadcast(room Room, event string, payload interface{}) int {
	delivered := g.registry.Broadcast(room, event, payload)
	g.metrics.Broadcasts.WithLabelValues(event).Inc()
	g.metrics.Deliveries.Add(float64(delivered))
	return delivered
}

// Connections returns the number of attached sessions.
func (g *Gateway) Connections() int {
	return g.registry.Len()
}

// Close closes every live client that can be closed. Their read loops then
// detach them.
func (g *Gateway) Close() error {
	var errs []error
	for _, c := range g.registry.Clients() {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
