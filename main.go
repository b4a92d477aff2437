package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"nicmeup/activity"
	"nicmeup/auth"
	"nicmeup/chat"
	"nicmeup/cleanup"
	"nicmeup/clock"
	"nicmeup/config"
	"nicmeup/database"
	"nicmeup/handlers"
	"nicmeup/logging"
	"nicmeup/metrics"
	"nicmeup/photos"
	"nicmeup/presence"
	"nicmeup/push"
	"nicmeup/quest"
	"nicmeup/rating"
	"nicmeup/rendezvous"
	"nicmeup/routes"
	"nicmeup/store"
	"nicmeup/websocket"
)

const tokenTTL = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", true)
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.LogLevel, !cfg.Release())
	log.Info().Msg("starting NicMeUp backend")

	if cfg.Release() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	docs, mongoClient := openStore(ctx, cfg, log)
	defer func() {
		if err := database.DisconnectMongo(mongoClient, log); err != nil {
			log.Error().Err(err).Msg("disconnect mongo")
		}
	}()
	chatPresence := openPresence(ctx, cfg, log)

	sysClock := clock.System{}
	m := metrics.New()

	users := store.NewUsers(docs)
	sessions := store.NewSessions(docs)

	router := &push.Router{Expo: push.NewExpo(cfg.ExpoPushURL)}
	if cfg.VAPIDPublicKey != "" && cfg.VAPIDPrivateKey != "" {
		router.WebPush = &push.WebPush{
			PublicKey:  cfg.VAPIDPublicKey,
			PrivateKey: cfg.VAPIDPrivateKey,
			Subscriber: cfg.VAPIDSubscriber,
		}
	} else {
		log.Warn().Msg("VAPID keys not set, web push disabled")
	}
	notifier := push.NewNotifier(router, users, m, log)
	defer notifier.Wait()

	var uploader photos.Uploader
	if cfg.CloudinaryURL != "" {
		cld, err := photos.NewCloudinary(cfg.CloudinaryURL)
		if err != nil {
			log.Fatal().Err(err).Msg("cloudinary")
		}
		uploader = cld
	} else {
		log.Warn().Msg("CLOUDINARY_URL not set, photo upload disabled")
	}

	issuer := auth.NewIssuer(cfg.JWTSecret, tokenTTL)
	chatSvc := chat.NewService(store.NewChats(docs), users, chatPresence, notifier, sysClock, cfg.Protocol, log)
	activityLog := activity.NewLog(store.NewActivities(docs), sysClock, log)
	quests := quest.NewService(sessions, users, notifier, m, sysClock, cfg.Protocol, log)
	rv := rendezvous.NewService(sessions, users, chatSvc, activityLog, notifier, m, sysClock, cfg.Protocol, log)
	reaper := cleanup.NewReaper(sessions, users, notifier, m, sysClock, cfg.Protocol.InactivityLimit, log)

	appConfig := store.NewAppConfig(docs)
	if cfg.TermsVersion != "" {
		if err := appConfig.SetTerms(ctx, cfg.TermsVersion, cfg.TermsText); err != nil {
			log.Error().Err(err).Msg("publish terms")
		}
	}

	sockets := websocket.NewManager(quests, rv, chatSvc, log)
	go sockets.Start(ctx)
	go reaper.Run(ctx, cfg.Protocol.CleanupInterval)

	h := handlers.New(handlers.Deps{
		Auth:           auth.NewService(users, issuer, cfg, sysClock, log),
		Quests:         quests,
		Rendezvous:     rv,
		Chat:           chatSvc,
		Ratings:        rating.NewService(store.NewRatings(docs), sessions, sysClock, log),
		Activity:       activityLog,
		Photos:         photos.NewService(uploader, users, sysClock),
		Users:          users,
		AppConfig:      appConfig,
		Reaper:         reaper,
		Sockets:        sockets,
		Clock:          sysClock,
		Protocol:       cfg.Protocol,
		VAPIDPublicKey: cfg.VAPIDPublicKey,
		CleanupToken:   cfg.CleanupToken,
	}, log)

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     routes.SetupRouter(h, issuer, m, log, routes.Options{AllowOrigins: cfg.AllowOrigins}),
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: websocket streams outlive any fixed deadline
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server stopped")
}

// openStore picks mongo when MONGODB_URI is set and the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Documents, *mongo.Client) {
	if cfg.MongoURI == "" {
		log.Warn().Msg("MONGODB_URI not set, using in-memory store")
		return store.NewMemory(), nil
	}
	client, db, err := database.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("mongo")
	}
	docs := store.NewMongo(db, logging.Component(log, "store"))
	if err := docs.EnsureIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("create indexes")
	}
	return docs, client
}

func openPresence(ctx context.Context, cfg *config.Config, log zerolog.Logger) presence.Presence {
	if cfg.RedisAddr == "" {
		return presence.NewMemory(clock.System{}, presence.DefaultTTL)
	}
	client, err := database.ConnectRedis(ctx, cfg.RedisAddr, log)
	if err != nil {
		log.Fatal().Err(err).Msg("redis")
	}
	return presence.NewRedis(client, presence.DefaultTTL)
}
