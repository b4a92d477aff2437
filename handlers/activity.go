package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"nicmeup/middleware"
)

func queryLimit(c *gin.Context) (int, bool) {
	s := c.Query("limit")
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return 0, false
	}
	return n, true
}

// GetActivities is the global meetup feed, newest first.
func (h *Handler) GetActivities(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	acts, err := h.Activity.Recent(ctx, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activities": acts})
}

func (h *Handler) GetMyActivities(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	acts, err := h.Activity.ForUser(ctx, middleware.UserID(c), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activities": acts})
}
