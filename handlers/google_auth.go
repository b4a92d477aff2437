package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"
)

const oauthStateCookie = "oauth_state"

type GoogleCredentialRequest struct {
	Credential string `json:"credential" binding:"required"`
}

// GoogleAuthWithCredential signs in with a credential from Google Identity Services.
func (h *Handler) GoogleAuthWithCredential(c *gin.Context) {
	var req GoogleCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Auth.GoogleCredential(ctx, req.Credential)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GoogleAuthURL(c *gin.Context) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		h.fail(c, err)
		return
	}
	state := hex.EncodeToString(b)
	url, err := h.Auth.AuthURL(state)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.SetCookie(oauthStateCookie, state, 600, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handler) GoogleCallback(c *gin.Context) {
	state, err := c.Cookie(oauthStateCookie)
	if err != nil || state == "" || state != c.Query("state") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid OAuth state"})
		return
	}
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing authorization code"})
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Auth.GoogleCallback(ctx, code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, res)
}
