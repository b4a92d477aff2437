// Package handlers is the gin HTTP surface of the NicMeUp API.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"nicmeup/activity"
	"nicmeup/auth"
	"nicmeup/chat"
	"nicmeup/cleanup"
	"nicmeup/clock"
	"nicmeup/config"
	"nicmeup/logging"
	"nicmeup/middleware"
	"nicmeup/photos"
	"nicmeup/quest"
	"nicmeup/rating"
	"nicmeup/rendezvous"
	"nicmeup/store"
	"nicmeup/websocket"
)

const requestTimeout = 10 * time.Second

// Deps is everything the handlers call into.
type Deps struct {
	Auth       *auth.Service
	Quests     *quest.Service
	Rendezvous *rendezvous.Service
	Chat       *chat.Service
	Ratings    *rating.Service
	Activity   *activity.Log
	Photos     *photos.Service
	Users      *store.Users
	AppConfig  *store.AppConfig
	Reaper     *cleanup.Reaper
	Sockets    *websocket.Manager
	Clock      clock.Clock
	Protocol   config.Protocol

	VAPIDPublicKey string
	// CleanupToken guards POST /internal/cleanup. Empty disables the endpoint.
	CleanupToken string
}

type Handler struct {
	Deps
	log zerolog.Logger
}

func New(d Deps, log zerolog.Logger) *Handler {
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	return &Handler{Deps: d, log: logging.Component(log, "http")}
}

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

// fail writes the JSON error for err. Unknown errors are logged and reported as 500.
func (h *Handler) fail(c *gin.Context, err error) {
	status, msg := classify(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("path", c.FullPath()).
			Str(logging.USER, middleware.UserID(c)).
			Msg("request failed")
	}
	c.JSON(status, gin.H{"error": msg})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Not found"

	case errors.Is(err, store.ErrAlreadyClaimed):
		return http.StatusConflict, "This NicQuest was already accepted"
	case errors.Is(err, store.ErrSessionInactive):
		return http.StatusConflict, "Session is no longer active"
	case errors.Is(err, rendezvous.ErrNotMatched):
		return http.StatusConflict, "Session has no recipient yet"
	case errors.Is(err, rendezvous.ErrStillActive):
		return http.StatusConflict, "Session is still active"
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict, "Email already in use"
	case errors.Is(err, rating.ErrNotCompleted):
		return http.StatusConflict, "Only completed sessions can be rated"
	case errors.Is(err, rating.ErrAlreadyRated):
		return http.StatusConflict, "You already rated this session"

	case errors.Is(err, quest.ErrNotRequester),
		errors.Is(err, quest.ErrNotParticipant),
		errors.Is(err, rendezvous.ErrNotParticipant):
		return http.StatusForbidden, "Not allowed for this session"
	case errors.Is(err, quest.ErrOwnQuest):
		return http.StatusForbidden, "You cannot accept your own NicQuest"
	case errors.Is(err, rating.ErrSelfRating):
		return http.StatusForbidden, "You cannot rate yourself"
	case errors.Is(err, rating.ErrNotPartner):
		return http.StatusForbidden, "You can only rate the other person in your session"

	case errors.Is(err, quest.ErrInvalidLocation), errors.Is(err, rendezvous.ErrInvalidPoint):
		return http.StatusBadRequest, "Invalid coordinates"
	case errors.Is(err, rating.ErrInvalidStars):
		return http.StatusBadRequest, "Stars must be between 1 and 5"
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest, "Message is empty"
	case errors.Is(err, chat.ErrMessageTooLong):
		return http.StatusBadRequest, "Message is too long"

	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidCredential):
		return http.StatusUnauthorized, "Invalid credentials"

	case errors.Is(err, auth.ErrGoogleNotEnabled), errors.Is(err, photos.ErrNotConfigured):
		return http.StatusServiceUnavailable, "Feature not configured"
	case errors.Is(err, chat.ErrThreadUnavailable):
		return http.StatusServiceUnavailable, "Chat is not available yet, try again"
	}
	return http.StatusInternalServerError, "Internal server error"
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
