package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"ember-chat/internal/config"
	"ember-chat/internal/db"
	"ember-chat/internal/handlers"
	"ember-chat/internal/identity"
	"ember-chat/internal/middleware"
	"ember-chat/internal/models"
	"ember-chat/internal/moderation"
	"ember-chat/internal/observability"
	"ember-chat/internal/rabbitmq"
	"ember-chat/internal/ratelimit"
	"ember-chat/internal/repositories"
	"ember-chat/internal/store"
	"ember-chat/internal/telemetry"
	"ember-chat/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, "ember-chat", cfg.OTLPAddr)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer shutdownTracing(ctx)

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(publisher))

	eventPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		log.Printf("event publisher disabled: %v", err)
	} else {
		observability.SetPublisher(eventPublisher)
		defer eventPublisher.Close()
	}

	audit := telemetry.NewAuditEmitter(publisher, "audit_log.moderation", "ember-chat", cfg.Environment)

	roomRepo := repositories.NewRoomRepo(database)
	entitlementRepo := repositories.NewEntitlementRepo(database)

	messageStore := store.New(cfg.MessageTTL, cfg.ChannelCap)
	hub := ws.NewHub()
	limiter := ratelimit.New(ratelimit.Options{
		Window:        cfg.RateWindow,
		Threshold:     cfg.RateThreshold,
		EscalateAfter: cfg.RateEscalateAfter,
		BlockBase:     cfg.BlockBase,
		BlockCap:      cfg.BlockCap,
		Retention:     cfg.CounterRetention(),
	})
	mod := moderation.New(roomRepo, messageStore, audit, cfg.SuperOperators)
	resolver := identity.NewResolver(cfg.TokenSecret, entitlementRepo)

	reaper := store.NewReaper(messageStore, cfg.ReaperInterval, func(msg models.Message) {
		hub.Publish(msg.Channel, models.NewMessageDeletedEvent(msg.Channel, msg.ID))
	})
	reaper.AddPruneHook(mod.PruneExpiredMutes)
	reaper.AddPruneHook(limiter.Sweep)
	go reaper.Run(ctx)

	wsHandler := ws.NewHandler(hub, messageStore, limiter, mod, roomRepo, resolver, ws.HandlerConfig{
		MaxContentLength: cfg.MaxContentLength,
		QueueSize:        cfg.ClientQueueSize,
		IdleTimeout:      cfg.IdleTimeout,
		WriteTimeout:     cfg.WriteTimeout,
	})
	roomHandler := handlers.NewRoomHandler(roomRepo, messageStore, mod, audit)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("ember-chat"))
	router.Use(observability.HTTPMetricsMiddleware())

	identityMiddleware := middleware.Identity(resolver)

	router.POST("/rooms", identityMiddleware, roomHandler.CreateRoom)
	router.GET("/rooms", roomHandler.ListRooms)
	router.GET("/rooms/:name/bans", identityMiddleware, roomHandler.ListBans)
	router.DELETE("/rooms/:name/bans/:key", identityMiddleware, roomHandler.RemoveBan)

	router.GET("/ws", wsHandler.HandleGlobal)
	router.GET("/ws/rooms/:name", wsHandler.HandleRoom)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
