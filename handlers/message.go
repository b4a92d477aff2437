package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"nicmeup/middleware"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// otherParticipant resolves the chat partner for the caller in session :id.
func (h *Handler) otherParticipant(c *gin.Context) (string, bool) {
	ctx, cancel := requestContext(c)
	defer cancel()

	v, err := h.Rendezvous.View(ctx, c.Param("id"), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return "", false
	}
	if v.OtherID == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "Session has no recipient yet"})
		return "", false
	}
	return v.OtherID, true
}

func (h *Handler) GetMessages(c *gin.Context) {
	otherID, ok := h.otherParticipant(c)
	if !ok {
		return
	}
	limit := defaultMessageLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = min(n, maxMessageLimit)
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	msgs, err := h.Chat.Messages(ctx, middleware.UserID(c), otherID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	otherID, ok := h.otherParticipant(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	msg, err := h.Chat.Send(ctx, middleware.UserID(c), otherID, req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkAsRead zeroes the caller's unread count for the session chat.
func (h *Handler) MarkAsRead(c *gin.Context) {
	otherID, ok := h.otherParticipant(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	if err := h.Chat.MarkRead(ctx, middleware.UserID(c), otherID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
