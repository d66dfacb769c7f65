package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/coach-realtime/config"
	"github.com/jwalitptl/coach-realtime/internal/model"
	"github.com/jwalitptl/coach-realtime/internal/service/identity"
	"github.com/jwalitptl/coach-realtime/pkg/logger"
)

var ErrSlowConsumer = errors.New("send buffer full")

const requestIDKey = "request_id"

// Outbound is a server frame: {"event": "...", "data": {...}}.
type Outbound struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

type wsClient struct {
	id           string
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	once         sync.Once
	writeTimeout time.Duration
}

func newWSClient(conn *websocket.Conn, buffer int, writeTimeout time.Duration) *wsClient {
	return &wsClient{
		id:           uuid.NewString(),
		conn:         conn,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

func (c *wsClient) ID() string { return c.id }

// Send queues a frame. A client whose buffer is full is closed rather than
// allowed to hold up a broadcast.
func (c *wsClient) Send(event string, payload interface{}) error {
	frame, err := json.Marshal(Outbound{Event: event, Data: payload})
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		c.Close()
		return ErrSlowConsumer
	}
}

// Close stops the write pump, which sends a close frame and closes the
// socket. The read pump then fails and the session is detached.
func (c *wsClient) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *wsClient) writePump(pingEvery time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Handler serves GET /ws.
type Handler struct {
	gateway  *Gateway
	cfg      config.RealtimeConfig
	upgrader websocket.Upgrader
	log      *logger.Logger
}

func NewHandler(gw *Gateway, cfg config.RealtimeConfig, log *logger.Logger) *Handler {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = 1
	}

	h := &Handler{gateway: gw, cfg: cfg, log: log.WithComponent("ws")}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin allows requests without an Origin header (non-browser
// clients), a "*" entry, or an exact case-insensitive match.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (h *Handler) limiter() *rate.Limiter {
	if h.cfg.MessageRate <= 0 {
		return rate.NewLimiter(rate.Inf, h.cfg.MessageBurst)
	}
	return rate.NewLimiter(rate.Limit(h.cfg.MessageRate), h.cfg.MessageBurst)
}

// Serve authenticates the handshake before upgrading. A refused handshake
// gets a plain HTTP error and no socket.
func (h *Handler) Serve(c *gin.Context) {
	r := c.Request
	if !h.checkOrigin(r) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	actor := model.Actor{
		IPAddress: c.ClientIP(),
		UserAgent: r.UserAgent(),
		RequestID: c.GetString(requestIDKey),
	}
	if actor.RequestID == "" {
		actor.RequestID = r.Header.Get("X-Request-ID")
	}

	ctx := context.WithoutCancel(r.Context())
	id, err := h.gateway.Authenticate(ctx, identity.CredentialFromRequest(r), actor)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msgUnauthorized})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, r, nil)
	if err != nil {
		// the upgrader has already written the response
		h.log.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	client := newWSClient(conn, h.cfg.SendBuffer, h.cfg.WriteTimeout)
	sess, err := h.gateway.Attach(ctx, id, client, actor)
	if err != nil {
		h.log.Error(err, "failed to attach connection")
		conn.Close()
		return
	}

	go client.writePump(h.cfg.PongTimeout * 9 / 10)
	h.readPump(ctx, sess, client)

	h.gateway.Detach(ctx, sess)
	client.Close()
}

func (h *Handler) readPump(ctx context.Context, sess *Session, client *wsClient) {
	conn := client.conn
	conn.SetReadLimit(h.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	limiter := h.limiter()
	for {
		op, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read ended", "connection_id", client.ID(), "error", err.Error())
			}
			return
		}
		if op != websocket.TextMessage {
			continue
		}
		conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))

		if !limiter.Allow() {
			h.gateway.RateLimited(ctx, sess)
			continue
		}
		if err := h.gateway.HandleRaw(ctx, sess, frame); err != nil {
			return
		}
	}
}
