package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"ember-chat/internal/identity"
	"ember-chat/internal/models"
	"ember-chat/internal/moderation"
	"ember-chat/internal/observability"
	"ember-chat/internal/ratelimit"
	"ember-chat/internal/repositories"
	"ember-chat/internal/store"
)

// HandlerConfig tunes per-connection behavior of the websocket endpoints.
type HandlerConfig struct {
	MaxContentLength int
	InitialMessages  int
	QueueSize        int
	IdleTimeout      time.Duration
	WriteTimeout     time.Duration
}

// Handler upgrades websocket connections and runs a Session per connection.
type Handler struct {
	hub      *Hub
	store    *store.Store
	limiter  *ratelimit.Limiter
	mod      *moderation.State
	rooms    repositories.RoomRepository
	resolver *identity.Resolver
	cfg      HandlerConfig
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, messageStore *store.Store, limiter *ratelimit.Limiter, mod *moderation.State, rooms repositories.RoomRepository, resolver *identity.Resolver, cfg HandlerConfig) *Handler {
	if cfg.InitialMessages <= 0 {
		cfg.InitialMessages = 50
	}
	return &Handler{
		hub:      hub,
		store:    messageStore,
		limiter:  limiter,
		mod:      mod,
		rooms:    rooms,
		resolver: resolver,
		cfg:      cfg,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleGlobal serves the global feed endpoint.
func (h *Handler) HandleGlobal(c *gin.Context) {
	h.handle(c, "")
}

// HandleRoom serves a room-scoped endpoint; the connection also joins the
// global feed.
func (h *Handler) HandleRoom(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room name"})
		return
	}
	h.handle(c, name)
}

func (h *Handler) handle(c *gin.Context, roomName string) {
	ctx, span := otel.Tracer("ember-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	id, err := h.resolver.Resolve(ctx, c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	kind := "global"
	roomChannel := ""
	if roomName != "" {
		kind = "room"
		room, err := h.rooms.GetRoom(ctx, roomName)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrRoomNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": "room not found"})
			return
		}
		if err := h.mod.PrimeRoom(ctx, room); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "room unavailable"})
			return
		}
		banned, err := h.mod.IsBanned(ctx, id.Key, roomName)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "room unavailable"})
			return
		}
		if banned {
			c.JSON(http.StatusForbidden, gin.H{"error": "banned from room"})
			return
		}
		roomChannel = models.RoomChannel(roomName)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	pingInterval := h.cfg.IdleTimeout * 9 / 10
	client := NewClient(conn, id, kind, h.cfg.QueueSize, h.cfg.WriteTimeout, pingInterval)
	client.RequestID = observability.RequestIDFromRequest(c.Request)
	client.TraceID = span.SpanContext().TraceID().String()

	go client.writePump()

	h.hub.Subscribe(client, models.GlobalChannel)
	if roomChannel != "" {
		h.hub.SubscribeRoom(client, roomChannel)
	}

	observability.IncWSActive(kind)
	observability.IncWSEvent(kind, "ws_connect")
	h.publishLifecycle(client, "ws_connect", "")

	session := NewSession(client, h.hub, h.store, h.limiter, h.mod, SessionConfig{
		MaxContentLength: h.cfg.MaxContentLength,
		InitialMessages:  h.cfg.InitialMessages,
		IdleTimeout:      h.cfg.IdleTimeout,
	})
	session.SendInitialState()

	// The request context dies when this handler returns, long before the
	// connection does. Commands issued over the socket need a context scoped
	// to the connection itself.
	connCtx, cancelConn := context.WithCancel(context.WithoutCancel(ctx))

	go func() {
		defer cancelConn()
		closeReason := session.ReadLoop(connCtx)
		h.hub.Drop(client)
		observability.DecWSActive(kind)
		observability.IncWSEvent(kind, "ws_disconnect")
		h.publishLifecycle(client, "ws_disconnect", closeReason)
	}()
}

func (h *Handler) publishLifecycle(client *Client, event, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        client.Kind,
			"event":       event,
			"conn_id":     client.ID,
			"duration_ms": time.Since(client.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"handle":    client.Identity.Handle,
			"anonymous": client.Identity.Anonymous(),
		},
	}

	headers := observability.BuildHeaders(client.RequestID, client.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events."+client.Kind, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
}
