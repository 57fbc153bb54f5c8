package http

import (
	"context"
	"net/http"
	"strings"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/core/services"
	"peerlink/internal/infrastructure/middleware"
	"peerlink/pkg/errors"
	"peerlink/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AdminHandler serves the relay's management API: room inspection,
// join-token issuing and readiness checks.
type AdminHandler struct {
	rooms  ports.RoomRepository
	tokens services.TokenService // nil when auth is disabled
	ready  func(ctx context.Context) error
}

func NewAdminHandler(rooms ports.RoomRepository, tokens services.TokenService, ready func(ctx context.Context) error) *AdminHandler {
	return &AdminHandler{
		rooms:  rooms,
		tokens: tokens,
		ready:  ready,
	}
}

func (h *AdminHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)

	api := router.Group("/api/v1")
	{
		api.POST("/tokens", h.IssueToken)

		rooms := api.Group("/rooms")
		if h.tokens != nil {
			rooms.Use(middleware.AuthMiddleware(h.tokens))
		}
		rooms.GET("", h.ListRooms)
		rooms.GET("/:id", h.GetRoom)
	}
}

func (h *AdminHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *AdminHandler) Ready(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

type IssueTokenRequest struct {
	PeerID string `json:"peer_id" binding:"omitempty,max=100"`
	RoomID string `json:"room_id" binding:"required,max=100"`
}

// IssueToken mints a join token for a peer. When no peer ID is given a
// fresh one is generated, which is the normal path for new sessions.
func (h *AdminHandler) IssueToken(c *gin.Context) {
	if h.tokens == nil {
		c.Error(errors.NewServiceUnavailableError("auth is disabled"))
		return
	}

	var req IssueTokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.RoomID = strings.TrimSpace(req.RoomID)
	if err := validation.ValidateRoomID(req.RoomID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	if req.PeerID == "" {
		req.PeerID = uuid.New().String()
	} else if err := validation.ValidatePeerID(req.PeerID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	token, err := h.tokens.IssueJoinToken(domain.PeerID(req.PeerID), req.RoomID)
	if err != nil {
		c.Error(errors.NewInternalError("failed to issue token"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"peer_id": req.PeerID,
		"room_id": req.RoomID,
		"token":   token,
	})
}

func (h *AdminHandler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListRooms(c.Request.Context())
	if err != nil {
		c.Error(errors.NewInternalError("failed to list rooms"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rooms": rooms,
		"count": len(rooms),
	})
}

func (h *AdminHandler) GetRoom(c *gin.Context) {
	roomID := c.Param("id")
	if err := validation.ValidateRoomID(roomID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	members, err := h.rooms.Members(c.Request.Context(), roomID)
	if err != nil {
		if err == domain.ErrRoomNotFound {
			c.Error(errors.NewNotFoundError("room"))
			return
		}
		c.Error(errors.NewInternalError("failed to read room"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room": gin.H{
			"id":           roomID,
			"member_count": len(members),
			"members":      members,
		},
	})
}
