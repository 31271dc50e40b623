package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"care-messaging/internal/cache"
	"care-messaging/internal/compose"
	"care-messaging/internal/config"
	"care-messaging/internal/conversation"
	"care-messaging/internal/db"
	"care-messaging/internal/handlers"
	"care-messaging/internal/identity"
	"care-messaging/internal/middleware"
	"care-messaging/internal/observability"
	"care-messaging/internal/rabbitmq"
	"care-messaging/internal/store"
	"care-messaging/internal/telemetry"
	"care-messaging/internal/ws"
)

func main() {
	cfg := config.Load()

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(context.Background(), "care-messaging", cfg.OTLPEndpoint)
		if err != nil {
			log.Fatalf("failed to init tracing: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Printf("tracer shutdown: %v", err)
			}
		}()
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))
	auditEmitter := telemetry.NewAuditEmitter(auditPublisher, cfg.AuditRoutingKey, "care-messaging", cfg.Environment)

	if eventPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange); err == nil {
		observability.SetPublisher(eventPublisher)
		defer eventPublisher.Close()
	} else {
		log.Printf("event publisher disabled: %v", err)
	}

	broker := store.NewBroker()
	messageStore := store.NewSQLStore(database, broker)

	session := conversation.NewSession(messageStore)
	if err := session.Start(context.Background()); err != nil {
		log.Fatalf("failed to load message baseline: %v", err)
	}
	defer session.Close()

	listCache := cache.New()
	pipeline := compose.NewPipeline(messageStore, identity.ContextProvider{}, listCache, nil)
	messagingHandler := handlers.NewMessagingHandler(messageStore, session, pipeline, listCache, cfg.ListCacheTTL, auditEmitter)

	hub := ws.NewHub()
	unsubscribeHub := messageStore.Subscribe(hub.HandleEvent)
	defer unsubscribeHub()

	wsHandler := ws.NewMessagingWebSocketHandler(hub, func(token string) (identity.User, error) {
		return middleware.ParseToken(token, cfg.JWTSecret)
	})

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("care-messaging"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret)

	router.GET("/conversations", authMiddleware, messagingHandler.ListConversations)
	router.GET("/conversations/:conversation_id/messages", authMiddleware, messagingHandler.GetThread)
	router.POST("/conversations/:conversation_id/messages", authMiddleware, messagingHandler.PostMessage)
	router.POST("/conversations/:conversation_id/read", authMiddleware, messagingHandler.MarkRead)

	router.GET("/ws/conversations/:conversation_id", wsHandler.HandleThread)
	router.GET("/ws/inbox", wsHandler.HandleInbox)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
