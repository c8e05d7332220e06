package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"barlink-service/internal/coordinator"
	"barlink-service/internal/handlers"
	"barlink-service/internal/hub"
	"barlink-service/internal/middleware"
	"barlink-service/internal/observability"
	"barlink-service/internal/rabbitmq"
	"barlink-service/internal/tablestore"
	"barlink-service/internal/telemetry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment")
	}

	store, closeStore, err := openStore()
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer closeStore()

	amqpPublisher := rabbitmq.NewPublisher(os.Getenv("AMQP_URL"), getEnv("AMQP_EXCHANGE", "barlink.events"))
	defer amqpPublisher.Close()

	if sink, err := observability.NewAMQPSink(os.Getenv("AMQP_URL"), getEnv("AMQP_EXCHANGE", "barlink.events")); err != nil {
		log.Printf("connection event publishing disabled: %v", err)
	} else {
		observability.SetConnEventSink(sink)
		defer sink.Close()
	}

	emitter := telemetry.NewAuditEmitter(
		amqpPublisher,
		getEnv("AUDIT_ROUTING_KEY", "audit.barlink"),
		"barlink-service",
		getEnv("ENVIRONMENT", "development"),
	)

	var bridge *hub.RedisBridge
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		bridge = hub.NewRedisBridge(addr)
	}
	eventHub := hub.NewHub(bridge)
	if bridge != nil {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go bridge.Run(ctx, eventHub)
	}

	tokens := hub.NewTokenIssuer(getEnv("HUB_JWT_SECRET", "dev-secret"), time.Hour)
	wsHandler := hub.NewWebSocketHandler(eventHub, tokens)

	coord := coordinator.New(coordinator.Config{
		Store:     store,
		Publisher: eventHub,
		Audit:     emitter,
		BarPrefix: getEnv("BAR_QR_PREFIX", "bar"),
	})

	seatHandler := handlers.NewSeatHandler(coord, emitter)
	chatHandler := handlers.NewChatHandler(coord, emitter)
	giftHandler := handlers.NewGiftHandler(coord, emitter)
	emergencyHandler := handlers.NewEmergencyHandler(coord, emitter)
	sessionHandler := handlers.NewSessionHandler(coord)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(observability.HTTPMetricsMiddleware())

	identity := middleware.Identity()

	router.POST("/seats/claim", identity, seatHandler.ClaimSeat)
	router.POST("/seats/release", identity, seatHandler.ReleaseSeat)
	router.POST("/seats/switch", identity, seatHandler.SwitchSeat)
	router.POST("/seats/scan", identity, seatHandler.ScanSeat)
	router.GET("/bars/:bar_id/seats", identity, seatHandler.ListSeats)
	router.POST("/bars/:bar_id/seats", identity, seatHandler.CreateSeat)
	router.PUT("/bars/:bar_id/seats/:seat_id/position", identity, seatHandler.MoveSeat)
	router.DELETE("/bars/:bar_id/seats/:seat_id", identity, seatHandler.DeleteSeat)

	router.POST("/chats/messages", identity, chatHandler.SendMessage)
	router.POST("/chats/read", identity, chatHandler.MarkRead)
	router.GET("/chats/:peer/messages", identity, chatHandler.GetThread)
	router.GET("/chats", identity, chatHandler.ListInbox)

	router.POST("/gifts", identity, giftHandler.CreateGift)
	router.POST("/gifts/:row_key/status", identity, giftHandler.SetStatus)
	router.GET("/gifts/sent", identity, giftHandler.ListSent)
	router.GET("/gifts/received", identity, giftHandler.ListReceived)

	router.POST("/emergency", identity, emergencyHandler.Alert)
	router.GET("/session/groups", identity, sessionHandler.Groups)
	router.GET("/session/reconcile", identity, sessionHandler.Reconcile)

	router.POST("/negotiate", identity, wsHandler.Negotiate)
	router.GET("/ws", wsHandler.Serve)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	handlers.RegisterDebugRoutes(router, emitter, os.Getenv("DEBUG_ENDPOINTS") == "true")

	port := getEnv("PORT", "8083")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func openStore() (tablestore.Store, func(), error) {
	switch backend := getEnv("STORE_BACKEND", "memory"); backend {
	case "postgres":
		sqlStore, err := tablestore.ConnectSQL(getEnv("DB_DSN", "postgres://localhost/barlink?sslmode=disable"))
		if err != nil {
			return nil, nil, err
		}
		return sqlStore, func() { sqlStore.Close() }, nil
	case "pebble":
		pebbleStore, err := tablestore.OpenPebble(getEnv("PEBBLE_PATH", "./barlink-data"))
		if err != nil {
			return nil, nil, err
		}
		return pebbleStore, func() { pebbleStore.Close() }, nil
	case "memory":
		log.Println("using in-memory store, data will not survive restarts")
		return tablestore.NewMemoryStore(), func() {}, nil
	default:
		log.Fatalf("unknown STORE_BACKEND %q", backend)
		return nil, nil, nil
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
