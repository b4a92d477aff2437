package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"nicmeup/middleware"
	"nicmeup/store"
)

func (h *Handler) GetVapidPublicKey(c *gin.Context) {
	if h.VAPIDPublicKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "VAPID public key not configured",
			"message": "Contact administrator",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": h.VAPIDPublicKey})
}

// SubscribePush registers a browser push subscription as the caller's device
// token. It replaces any Expo token the account had.
func (h *Handler) SubscribePush(c *gin.Context) {
	var req struct {
		Endpoint string `json:"endpoint" binding:"required"`
		Keys     struct {
			P256dh string `json:"p256dh" binding:"required"`
			Auth   string `json:"auth" binding:"required"`
		} `json:"keys" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sub := webpush.Subscription{
		Endpoint: req.Endpoint,
		Keys:     webpush.Keys{P256dh: req.Keys.P256dh, Auth: req.Keys.Auth},
	}
	token, err := json.Marshal(sub)
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	if err := h.Users.Update(ctx, middleware.UserID(c), store.Fields{store.PushTokenField: string(token)}); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Subscribed"})
}
