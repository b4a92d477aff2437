package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"nicmeup/store"
)

const cleanupTokenHeader = "X-Cleanup-Token"

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   h.Clock.Now().Unix(),
	})
}

// GetTerms returns the current terms of service. Before any terms are
// published it returns an empty version.
func (h *Handler) GetTerms(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	t, err := h.AppConfig.Terms(ctx)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"version": "", "text": ""})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// RunCleanup sweeps stale sessions on demand.
func (h *Handler) RunCleanup(c *gin.Context) {
	if h.CleanupToken == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Endpoint not found"})
		return
	}
	got := c.GetHeader(cleanupTokenHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.CleanupToken)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid cleanup token"})
		return
	}

	res, err := h.Reaper.Sweep(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info().
		Int("scanned", res.Scanned).
		Int("deleted", res.Deleted).
		Int("timedOut", res.TimedOut).
		Msg("manual cleanup")
	c.JSON(http.StatusOK, res)
}
