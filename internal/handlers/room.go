package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ember-chat/internal/middleware"
	"ember-chat/internal/models"
	"ember-chat/internal/moderation"
	"ember-chat/internal/repositories"
	"ember-chat/internal/store"
	"ember-chat/internal/telemetry"
)

// RoomHandler manages the room registry endpoints.
type RoomHandler struct {
	rooms repositories.RoomRepository
	store *store.Store
	mod   *moderation.State
	audit *telemetry.AuditEmitter
}

// NewRoomHandler builds a RoomHandler.
func NewRoomHandler(rooms repositories.RoomRepository, messageStore *store.Store, mod *moderation.State, audit *telemetry.AuditEmitter) *RoomHandler {
	return &RoomHandler{rooms: rooms, store: messageStore, mod: mod, audit: audit}
}

// CreateRoom handles POST /rooms. Room ownership requires a bound account.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok || id.Anonymous() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account required to own a room"})
		return
	}

	var req struct {
		Name string `json:"name" binding:"required,min=1,max=64"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), req.Name, id.AccountID)
	if err != nil {
		if errors.Is(err, repositories.ErrRoomExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "room name already taken"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create room"})
		return
	}

	if h.audit != nil {
		h.audit.EmitAction(c.Request.Context(), telemetry.AuditPayload{
			Actor:   id.Key,
			Action:  "create_room",
			Channel: models.RoomChannel(room.Name),
		})
	}
	c.JSON(http.StatusCreated, room)
}

// ListRooms handles GET /rooms, including the live message count of each.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListRooms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
		return
	}

	type roomResponse struct {
		models.Room
		LiveMessages int `json:"live_messages"`
	}

	resp := make([]roomResponse, 0, len(rooms))
	for _, room := range rooms {
		resp = append(resp, roomResponse{
			Room:         room,
			LiveMessages: h.store.Count(models.RoomChannel(room.Name)),
		})
	}
	c.JSON(http.StatusOK, gin.H{"rooms": resp})
}

// ListBans handles GET /rooms/:name/bans. The response exposes identity keys,
// so it is limited to actors privileged on the room.
func (h *RoomHandler) ListBans(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok || id.Anonymous() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account required"})
		return
	}

	name := c.Param("name")
	allowed, err := h.mod.CanModerate(c.Request.Context(), id, models.RoomChannel(name), time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not check privilege"})
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed"})
		return
	}

	bans, err := h.rooms.ListBans(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load bans"})
		return
	}

	type banResponse struct {
		IdentityKey string    `json:"identity_key"`
		BannedBy    string    `json:"banned_by"`
		CreatedAt   time.Time `json:"created_at"`
	}
	resp := make([]banResponse, 0, len(bans))
	for _, ban := range bans {
		resp = append(resp, banResponse{
			IdentityKey: ban.IdentityKey,
			BannedBy:    ban.BannedBy,
			CreatedAt:   ban.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"bans": resp})
}

// RemoveBan handles DELETE /rooms/:name/bans/:key, lifting a room ban.
func (h *RoomHandler) RemoveBan(c *gin.Context) {
	id, ok := middleware.IdentityFromContext(c)
	if !ok || id.Anonymous() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account required"})
		return
	}

	err := h.mod.Unban(c.Request.Context(), id, c.Param("name"), c.Param("key"))
	if err != nil {
		if errors.Is(err, moderation.ErrForbidden) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not allowed"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not lift ban"})
		return
	}
	c.Status(http.StatusNoContent)
}
