package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"consult-queue/config"
	"consult-queue/internal/events"
	"consult-queue/internal/handlers"
	"consult-queue/internal/logging"
	"consult-queue/internal/media"
	"consult-queue/internal/realtime"
	"consult-queue/internal/services"
	"consult-queue/internal/store"
	_ "consult-queue/migrations"
	"consult-queue/monitoring"
	"consult-queue/security"
	"consult-queue/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Start wires the coordinators into a PocketBase app and runs its CLI.
func Start() error {
	app := pocketbase.New()

	cfg := config.LoadConfig()
	logging.Initialize(cfg.LoggingLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := utils.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	st := store.New(redisClient)
	monitor := monitoring.NewMonitor(st)

	mesh := realtime.NewPubNubMesh(realtime.PubNubConfig{
		PublishKey:   cfg.PubNubPublishKey,
		SubscribeKey: cfg.PubNubSubscribeKey,
		SecretKey:    cfg.PubNubSecretKey,
		UserID:       cfg.PubNubUserID,
	})

	resolver := realtime.NewResolver(cfg.TopicPrefix, cfg.LegacyTopicSunset,
		realtime.SourceFunc{Label: "queue_alias", Fn: st.LookupQueueAlias},
		realtime.SourceFunc{Label: "session", Fn: st.LookupSessionCreator},
		realtime.CreatorRecordSource{App: app},
	)
	resolver.OnLegacy(monitor.TrackLegacyTopic)

	guard := realtime.NewGuard()
	guard.OnAttempt(monitor.TrackTeardown)
	watcher := realtime.NewWatcher(resolver, guard, mesh, st)

	issuer, err := newIssuer(cfg)
	if err != nil {
		return err
	}

	// Initialize services
	bus := events.NewBus(64)
	notifier := services.NewNotifier(mesh, resolver)
	queueService := services.NewQueueService(st, notifier, bus, monitor)
	consentService := services.NewConsentService(st, queueService, notifier, bus, monitor, services.ConsentConfig{
		HoldGrace:     cfg.HoldGrace,
		SweepInterval: cfg.HoldSweepInterval,
		PromptTimeout: cfg.ReadyPromptTimeout,
	})
	sessionService := services.NewSessionService(st, queueService, consentService, issuer,
		media.NewHTTPConnector(), notifier, monitor, services.SessionConfig{
			CreatorHomePath: cfg.CreatorHomePath,
			FanQueuePath:    cfg.FanQueuePath,
		})
	sessionService.SetArchiver(services.RecordArchiver{App: app})
	settlementService := services.NewSettlementService(st, cfg.SkipValue, monitor)

	watcher.SetHandler(consentService)

	// Initialize handlers
	queueHandler := handlers.NewQueueHandler(queueService, consentService)
	sessionHandler := handlers.NewSessionHandler(sessionService, settlementService)
	channelHandler := handlers.NewChannelHandler(resolver, watcher)
	senderLimiter := security.NewSenderLimiter(cfg.SMSRatePerMinute)
	smsHandler := handlers.NewSMSHandler(consentService, senderLimiter, cfg.SMSWebhookToken)
	adminHandler := handlers.NewAdminHandler(queueService)
	apiLimiter := security.NewRateLimiter(redisClient, cfg.APIRatePerMinute)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.Environment == "development",
	})
	registerAdminCommands(app, queueService)

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		startBackground(ctx, cfg, monitor, mesh, watcher, consentService, senderLimiter)

		api := e.Router.Group("/api/v1")
		api.BindFunc(security.AntiBotMiddleware(), apiLimiter.Middleware())

		// Queue endpoints
		api.POST("/queue/{creatorId}/join", queueHandler.Join)
		api.POST("/queue/{creatorId}/leave", queueHandler.Leave)
		api.GET("/queue/{creatorId}/position", queueHandler.Position)
		api.POST("/queue/{creatorId}/ready", queueHandler.Ready)
		api.POST("/queue/{creatorId}/sms", queueHandler.OptInSMS)

		// Channel endpoints
		api.GET("/channels/resolve", channelHandler.Resolve)
		api.POST("/creators/{creatorId}/watch", channelHandler.Watch)
		api.DELETE("/creators/{creatorId}/watch", channelHandler.Unwatch)

		// Session endpoints
		api.POST("/sessions", sessionHandler.Start)
		api.POST("/sessions/{id}/connect", sessionHandler.Connect)
		api.POST("/sessions/{id}/credentials", sessionHandler.Credentials)
		api.POST("/sessions/{id}/end", sessionHandler.End)
		api.POST("/sessions/{id}/settlement", sessionHandler.Settle)

		// Admin endpoints
		api.GET("/admin/queues/{creatorId}", adminHandler.ListQueue)
		api.POST("/admin/queues/{creatorId}/clear", adminHandler.ClearQueue)
		api.POST("/admin/remove-from-queue", adminHandler.RemoveFromQueue)

		// SMS provider webhook, throttled per sender instead of per IP
		e.Router.POST("/api/v1/sms/inbound", smsHandler.Inbound)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(e.Request.Context(), redisClient); err != nil {
				return e.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
		})

		if cfg.EnableMetrics {
			e.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
		}

		slog.Info("server routes registered")
		return e.Next()
	})

	setupRecordHooks(app, watcher)

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		watcher.Shutdown(context.Background())
		mesh.Close()
		return e.Next()
	})

	return app.Start()
}

func newIssuer(cfg *config.Config) (media.Issuer, error) {
	switch cfg.MediaMode {
	case "http":
		return media.NewHTTPIssuer(media.IssuerConfig{
			BaseURL: cfg.MediaIssuerURL,
			APIKey:  cfg.MediaIssuerKey,
			HMACKey: cfg.MediaHMACKey,
			TTL:     cfg.MediaTokenTTL,
		}), nil
	case "jwt":
		return media.NewJWTIssuer(cfg.MediaAPIKey, cfg.MediaAPISecret, cfg.MediaSFUURL, cfg.MediaTokenTTL), nil
	default:
		return nil, fmt.Errorf("unknown MEDIA_MODE %q", cfg.MediaMode)
	}
}

// startBackground runs the long-lived loops. Nothing here mutates queues on
// boot: watches are restored and holds expire only through the sweep.
func startBackground(
	ctx context.Context,
	cfg *config.Config,
	monitor *monitoring.Monitor,
	mesh *realtime.PubNubMesh,
	watcher *realtime.Watcher,
	consent *services.ConsentService,
	senders *security.SenderLimiter,
) {
	go mesh.Listen(ctx, func(in realtime.Inbound) {
		watcher.Dispatch(ctx, in)
	})
	go func() {
		if err := watcher.Restore(ctx); err != nil {
			slog.Error("restore watched creators", "error", err)
		}
	}()
	go consent.Run(ctx)
	go senders.Run(ctx)
	if cfg.EnableMetrics {
		go monitor.Run(ctx)
	}
}

// setupRecordHooks keeps realtime watches in step with the creators collection.
func setupRecordHooks(app *pocketbase.PocketBase, watcher *realtime.Watcher) {
	app.OnRecordAfterDeleteSuccess("creators").BindFunc(func(e *core.RecordEvent) error {
		if err := watcher.Unwatch(context.Background(), e.Record.Id); err != nil {
			slog.Error("failed to unwatch deleted creator",
				"creator_id", e.Record.Id,
				"error", err,
				"hook", "OnRecordAfterDeleteSuccess",
			)
		}
		return e.Next()
	})
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("shutdown signal received, cleaning up")
	cancel()
}
