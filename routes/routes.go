package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"nicmeup/handlers"
	"nicmeup/metrics"
	"nicmeup/middleware"
)

type Options struct {
	AllowOrigins []string
	// RequestsPerMinute caps each client IP on the public auth endpoints.
	RequestsPerMinute int
}

func SetupRouter(h *handlers.Handler, tokens middleware.TokenParser, m *metrics.Metrics, log zerolog.Logger, opts Options) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log))

	origins := opts.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:8080", "http://localhost:8081", "http://localhost:19006", "http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	perMinute := opts.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	limited := router.Group("/api", middleware.RateLimit(middleware.NewIPRateLimiter(perMinute, time.Minute)))
	limited.POST("/signup", h.Signup)
	limited.POST("/login", h.Login)
	limited.POST("/google-auth", h.GoogleAuthWithCredential)

	// Public routes
	public := router.Group("/api")
	public.GET("/google/auth-url", h.GoogleAuthURL)
	public.GET("/google/callback", h.GoogleCallback)
	public.GET("/terms", h.GetTerms)
	public.GET("/vapid-public-key", h.GetVapidPublicKey)
	public.GET("/activities", h.GetActivities)

	protected := router.Group("/api")
	protected.Use(middleware.JWTAuth(tokens))

	// Profile
	protected.GET("/me", h.GetMyProfile)
	protected.PUT("/me", h.UpdateMyProfile)
	protected.PUT("/me/location", h.UpdateLocation)
	protected.PUT("/me/push-token", h.UpdatePushToken)
	protected.PUT("/me/assist-points", h.UpdateAssistPoints)
	protected.POST("/me/onboarding", h.CompleteOnboarding)
	protected.GET("/me/activities", h.GetMyActivities)
	protected.POST("/upload-photo", h.UploadPhoto)
	protected.POST("/subscribe", h.SubscribePush)

	// Quests and sessions
	protected.POST("/quests", h.CreateQuest)
	protected.DELETE("/quests/:id", h.CancelQuest)
	protected.GET("/sessions/:id", h.GetSession)
	protected.POST("/sessions/:id/claim", h.ClaimSession)
	protected.POST("/sessions/:id/heartbeat", h.Heartbeat)
	protected.POST("/sessions/:id/complete", h.CompleteSession)
	protected.POST("/sessions/:id/cancel", h.CancelSession)
	protected.POST("/sessions/:id/ack", h.AcknowledgeSession)

	// Chat
	protected.GET("/sessions/:id/messages", h.GetMessages)
	protected.POST("/sessions/:id/messages", h.SendMessage)
	protected.POST("/sessions/:id/read", h.MarkAsRead)

	// Ratings
	protected.POST("/ratings", h.SubmitRating)
	protected.GET("/ratings/:id", h.GetRating)

	// Websockets authenticate with ?token=
	ws := router.Group("/ws", middleware.JWTAuth(tokens))
	ws.GET("/quests/:id", h.QuestSocket)
	ws.GET("/sessions/:id", h.SessionSocket)

	router.POST("/internal/cleanup", h.RunCleanup)

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") || strings.HasPrefix(c.Request.URL.Path, "/ws") {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Endpoint not found",
				"path":  c.Request.URL.Path,
			})
			return
		}
		c.Status(http.StatusNotFound)
	})

	return router
}
