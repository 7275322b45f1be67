package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/hub"
	"github.com/weiawesome/wes-io-chat/internal/room"
	"github.com/weiawesome/wes-io-chat/internal/service"
	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/middleware"
	"github.com/weiawesome/wes-io-chat/pkg/response"
)

type HTTPHandler struct {
	chatService service.ChatService
	auth        *middleware.AuthMiddleware
	hub         *hub.Hub
	rooms       *room.Manager
}

func NewHTTPHandler(chatService service.ChatService, auth *middleware.AuthMiddleware, h *hub.Hub, rooms *room.Manager) *HTTPHandler {
	return &HTTPHandler{
		chatService: chatService,
		auth:        auth,
		hub:         h,
		rooms:       rooms,
	}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	api.Use(h.auth.RequireAuth())
	{
		api.GET("/chat", h.GetChat)
		api.GET("/chats", h.ListChats)
		api.GET("/conversations/:id/presence", h.GetPresence)
	}

	r.GET("/health", h.HealthCheck)
}

// GetChat returns a conversation with its history, creating it on first
// access.
func (h *HTTPHandler) GetChat(c *gin.Context) {
	var triple domain.ParticipantTriple
	if err := c.ShouldBindQuery(&triple); err != nil {
		response.BadRequest(c, "invalid query parameters")
		return
	}

	view, err := h.chatService.GetConversation(c.Request.Context(), middleware.GetUserID(c), triple)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, view)
}

func (h *HTTPHandler) ListChats(c *gin.Context) {
	contentItemID := strings.TrimSpace(c.Query("content_item_id"))
	if contentItemID == "" {
		response.BadRequest(c, "content_item_id is required")
		return
	}

	chats, err := h.chatService.ListConversations(c.Request.Context(), middleware.GetUserID(c), contentItemID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, chats)
}

func (h *HTTPHandler) GetPresence(c *gin.Context) {
	conversationID := c.Param("id")

	online, err := h.chatService.GetPresence(c.Request.Context(), middleware.GetUserID(c), conversationID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"conversation_id": conversationID,
		"online":          online,
	})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	response.Success(c, gin.H{
		"status":      "ok",
		"connections": h.hub.Count(),
		"sessions":    h.rooms.SessionCount(),
		"rooms":       h.rooms.RoomCount(),
	})
}

func (h *HTTPHandler) fail(c *gin.Context, err error) {
	status, e := classify(err)
	if status >= http.StatusInternalServerError {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg("request failed")
		c.Error(err)
	}
	response.Error(c, status, e.Code, e.Message)
}
