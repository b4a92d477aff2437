package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nicmeup/middleware"
	"nicmeup/quest"
)

// QuestSocket checks the caller owns the quest before upgrading.
func (h *Handler) QuestSocket(c *gin.Context) {
	userID := middleware.UserID(c)
	sessionID := c.Param("id")

	ctx, cancel := requestContext(c)
	sess, err := h.Quests.Get(ctx, sessionID, userID)
	cancel()
	if err != nil {
		h.fail(c, err)
		return
	}
	if sess.RequesterID != userID {
		h.fail(c, quest.ErrNotRequester)
		return
	}
	h.Sockets.ServeQuest(c.Writer, c.Request, userID, sessionID)
}

// SessionSocket upgrades a participant of a matched session.
func (h *Handler) SessionSocket(c *gin.Context) {
	userID := middleware.UserID(c)
	sessionID := c.Param("id")

	ctx, cancel := requestContext(c)
	v, err := h.Rendezvous.View(ctx, sessionID, userID)
	cancel()
	if err != nil {
		h.fail(c, err)
		return
	}
	if v.OtherID == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "Session has no recipient yet"})
		return
	}
	h.Sockets.ServeSession(c.Writer, c.Request, userID, sessionID, v.OtherID)
}
