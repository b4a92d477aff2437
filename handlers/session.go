package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nicmeup/middleware"
)

// GetSession shows a session to a participant, or an open quest to anyone
// who might accept it.
func (h *Handler) GetSession(c *gin.Context) {
	userID := middleware.UserID(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	sess, err := h.Quests.Get(ctx, c.Param("id"), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	role, _ := sess.RoleOf(userID)
	c.JSON(http.StatusOK, gin.H{
		"session": sess,
		"role":    role,
		"phase":   sess.PhaseFor(userID),
	})
}

// ClaimSession accepts a pending quest. Only the first claim wins.
func (h *Handler) ClaimSession(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	sess, err := h.Quests.Claim(ctx, c.Param("id"), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) Heartbeat(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Rendezvous.Heartbeat(ctx, c.Param("id"), middleware.UserID(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) CompleteSession(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Rendezvous.Complete(ctx, c.Param("id"), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) CancelSession(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Rendezvous.Cancel(ctx, c.Param("id"), middleware.UserID(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session canceled"})
}

// AcknowledgeSession clears the caller's link to a session that has ended.
func (h *Handler) AcknowledgeSession(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Rendezvous.Acknowledge(ctx, c.Param("id"), middleware.UserID(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
