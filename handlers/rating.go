package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nicmeup/middleware"
)

type RatingRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	UserID    string `json:"userId" binding:"required"`
	Stars     int    `json:"stars" binding:"required"`
}

// SubmitRating rates the other participant of a completed session.
func (h *Handler) SubmitRating(c *gin.Context) {
	var req RatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	r, err := h.Ratings.Submit(ctx, middleware.UserID(c), req.SessionID, req.UserID, req.Stars)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) GetRating(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	r, err := h.Ratings.Get(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
