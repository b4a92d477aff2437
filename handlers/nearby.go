package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nicmeup/geo"
	"nicmeup/middleware"
)

type QuestRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	// Name overrides the display name shown to nearby users.
	Name string `json:"name"`
}

// CreateQuest broadcasts a NicQuest from the caller's position to everyone nearby.
func (h *Handler) CreateQuest(c *gin.Context) {
	var req QuestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	loc := geo.Point{Latitude: req.Latitude, Longitude: req.Longitude}
	res, err := h.Quests.Broadcast(ctx, middleware.UserID(c), loc, req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !res.Matched {
		c.JSON(http.StatusOK, gin.H{
			"sessionId": res.SessionID,
			"matched":   false,
			"message":   "No one nearby right now",
		})
		return
	}
	c.JSON(http.StatusCreated, res)
}

// CancelQuest withdraws the caller's quest before anyone accepts it.
func (h *Handler) CancelQuest(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Quests.Cancel(ctx, c.Param("id"), middleware.UserID(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Quest canceled"})
}
