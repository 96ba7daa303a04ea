package main

import (
	"github.com/redis/go-redis/v9"

	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/eventsub"
	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/handlers"
	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/hub"
	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/listener"
	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/meter"
	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/metrics"
	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/store"
	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/stream"
	"github.com/savagegamesllc-ui/chat-factions-sub001/internal/ws"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/clients/helix"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/config"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/database"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/logging"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/middleware"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/monitoring"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/server"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("chat-factions")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Chat Factions (Overlay Event Core)")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("chat-factions", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("chat-factions", version.Version, version.GitCommit)

	// Create custom metrics
	serviceMetrics := &metrics.Metrics{
		StreamConnections: metricsCollector.NewGauge("stream_connections_active", "Active overlay stream connections", []string{"transport"}),
		EventsPublished:   metricsCollector.NewCounter("overlay_events_published_total", "Overlay events published to the hub", []string{"event_type"}),
		WebhooksReceived:  metricsCollector.NewCounter("eventsub_webhooks_received_total", "EventSub webhook requests", []string{"result"}),
		DeliveryLag:       metricsCollector.NewHistogram("event_delivery_lag_seconds", "Publish-to-write latency", []string{"transport"}, nil),
		ReconcileRuns:     metricsCollector.NewCounter("eventsub_reconcile_runs_total", "Subscription reconciliation runs", []string{"result"}),
		DroppedFrames:     metricsCollector.NewCounter("stream_frames_dropped_total", "Frames dropped on slow connections", []string{"transport"}),
	}

	// Required configuration
	databaseURL := config.RequireEnv("DATABASE_URL")
	twitchClientID := config.RequireEnv("TWITCH_CLIENT_ID")
	twitchClientSecret := config.RequireEnv("TWITCH_CLIENT_SECRET")
	webhookSecret := config.RequireEnv("EVENTSUB_WEBHOOK_SECRET")
	publicBaseURL := config.RequireEnv("PUBLIC_BASE_URL")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")

	// Connect to Postgres
	dbConfig := database.DefaultConfig()
	dbConfig.URL = databaseURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	streamers := store.NewStreamerStore(db, logger)

	// Replay protection is optional; without Redis, duplicate webhook
	// deliveries are passed through.
	var replay handlers.ReplayCache = handlers.NoopReplayCache{}
	var redisClient *redis.Client
	if redisAddr := config.GetEnv("REDIS_ADDR", ""); redisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: config.GetEnv("REDIS_PASSWORD", ""),
		})
		replay = handlers.NewRedisReplayCache(redisClient, logger)
		healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
	}

	// Event hub and the components around it
	eventHub := hub.NewHub(logger, serviceMetrics)
	listeners := listener.NewManager(eventHub, logger)
	engine := meter.NewEngine(eventHub, streamers, logger)

	// Provider client and reconciler
	helixClient := helix.NewClient(helix.Config{
		APIBaseURL:   config.GetEnv("TWITCH_API_URL", "https://api.twitch.tv/helix"),
		AuthURL:      config.GetEnv("TWITCH_AUTH_URL", "https://id.twitch.tv/oauth2/token"),
		ClientID:     twitchClientID,
		ClientSecret: twitchClientSecret,
		Logger:       logger,
	})
	reconciler, err := eventsub.NewReconciler(helixClient, publicBaseURL, webhookSecret, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize reconciler")
	}

	serviceHandlers := handlers.NewHandlers(handlers.Config{
		Processor:     engine,
		Listeners:     listeners,
		Reconciler:    reconciler,
		Streamers:     streamers,
		Replay:        replay,
		WebhookSecret: webhookSecret,
		Logger:        logger,
		Metrics:       serviceMetrics,
	})

	// Both transports share one cached resolver so reconnect storms on
	// either never reach the database directly.
	cachedResolver := stream.NewCachedResolver(streamers)
	streamServer := stream.NewServer(eventHub, cachedResolver, logger, serviceMetrics)
	wsServer := ws.NewServer(eventHub, cachedResolver, logger, serviceMetrics)

	// Add health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"TWITCH_CLIENT_ID": twitchClientID,
		"PUBLIC_BASE_URL":  publicBaseURL,
	}))

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "chat-factions", healthChecker, metricsCollector)
	router.Use(metricsCollector.Middleware())

	// Provider-facing webhook
	router.POST("/webhooks/twitch", serviceHandlers.HandleTwitchWebhook)

	// Overlay-facing stream endpoints
	router.GET("/stream", streamServer.HandleSSE)
	router.GET("/ws", wsServer.HandleWS)

	// Admin routes with service auth
	admin := router.Group("/admin")
	admin.Use(middleware.ServiceAuthMiddleware(serviceToken))
	admin.POST("/listeners/:tenant/start", serviceHandlers.HandleListenerStart)
	admin.POST("/listeners/:tenant/stop", serviceHandlers.HandleListenerStop)
	admin.GET("/listeners/:tenant", serviceHandlers.HandleListenerStatus)
	admin.POST("/streamers/:tenant/reconcile", serviceHandlers.HandleReconcile)
	admin.GET("/subscriptions", serviceHandlers.HandleListSubscriptions)
	admin.DELETE("/subscriptions/:id", serviceHandlers.HandleDeleteSubscription)

	router.NoRoute(serviceHandlers.HandleNotFound)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("chat-factions", "18040")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
