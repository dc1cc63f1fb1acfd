package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"wa_automation/internal/entities"
	"wa_automation/internal/infrastructure"
	httpapi "wa_automation/internal/interfaces/http"
	"wa_automation/internal/logging"
	"wa_automation/internal/repository"
	"wa_automation/internal/usecases"
)

const (
	shutdownTimeout = 15 * time.Second
	inboundTimeout  = 30 * time.Second
	linkTimeout     = 10 * time.Second
)

var skipMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, WhatsApp sessions and trigger engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Do not apply pending migrations on startup")
}

func serve(ctx context.Context) error {
	logger := logging.GetLogger("server")

	if !skipMigrate {
		if err := infrastructure.RunMigrate(logging.GetLogger("migrate"), cfg.DatabaseURL, "up", nil); err != nil {
			return err
		}
	}

	pgClient, err := infrastructure.NewPostgresClient(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pgClient.Close()

	userRepo := repository.NewUserRepository(pgClient.Pool)
	connRepo := repository.NewConnectionRepository(pgClient.Pool)
	msgRepo := repository.NewMessageRepository(pgClient.Pool)
	triggerRepo := repository.NewTriggerRepository(pgClient.Pool)
	usageRepo := repository.NewUsageRepository(pgClient.Pool)

	waManager, err := infrastructure.NewWhatsAppManager(cfg.DevicesDir, logging.GetLogger("whatsapp"))
	if err != nil {
		return err
	}
	defer waManager.DisconnectAll()

	limiter := infrastructure.NewMessageRateLimiter(cfg.SendRate, cfg.SendBurst)
	defer limiter.Stop()

	messageService := usecases.NewMessageService(msgRepo, connRepo, usageRepo, waManager, limiter, logging.GetLogger("messages"))
	dispatcher := usecases.NewDispatcher(infrastructure.NewWebhookClient(cfg.DispatchTimeout), messageService, cfg.DispatchTimeout)
	engine := usecases.NewTriggerEngine(usecases.NewNormalizer(), dispatcher, triggerRepo, msgRepo, connRepo, usageRepo,
		cfg.DispatchConcurrency, logging.GetLogger("engine"))

	router, err := usecases.NewInboundRouter(engine, cfg.InboundWorkers, inboundTimeout, logging.GetLogger("inbound"))
	if err != nil {
		return err
	}
	defer func() {
		if err := router.Close(shutdownTimeout); err != nil {
			logger.Warn().Err(err).Msg("Inbound workers did not drain")
		}
	}()

	connUsecase := usecases.NewConnectionUsecase(connRepo, waManager, logging.GetLogger("connections"))
	waManager.OnInbound = func(evt entities.InboundEvent) {
		_ = router.Submit(evt)
	}
	waManager.OnLink = func(connectionID string, evt infrastructure.LinkEvent) {
		if evt.Status != entities.StatusConnected {
			limiter.Reset(connectionID)
		}
		linkCtx, cancel := context.WithTimeout(context.Background(), linkTimeout)
		defer cancel()
		connUsecase.ApplyLinkEvent(linkCtx, connectionID, evt)
	}

	authUsecase := usecases.NewAuthUsecase(userRepo, cfg.JWTSecret)
	if err := authUsecase.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		logger.Warn().Err(err).Msg("Failed to ensure admin user")
	}

	go connUsecase.ReconnectLinked(ctx)

	if cfg.RetrySchedule != "" {
		sweeper, err := usecases.NewRetrySweeper(engine, triggerRepo, cfg.RetrySchedule, cfg.RetryMaxAttempts, logging.GetLogger("retry"))
		if err != nil {
			return err
		}
		sweeper.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			sweeper.Stop(stopCtx)
		}()
		logger.Info().Str("schedule", cfg.RetrySchedule).Int("max_attempts", cfg.RetryMaxAttempts).Msg("Webhook retry sweep enabled")
	}

	if logging.ParseLevel(cfg.LogLevel) > logging.ParseLevel("debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), httpapi.RequestLogger(logging.GetLogger("http")))
	handler := httpapi.NewHandler(authUsecase, connUsecase, messageService,
		usecases.NewTriggerUsecase(triggerRepo),
		usecases.NewDashboardUsecase(connRepo, triggerRepo, usageRepo),
		engine, logging.GetLogger("http"))
	handler.Stats = func() map[string]any {
		return map[string]any{
			"whatsapp_connected": len(waManager.ConnectedIDs()),
			"inbound_running":    router.Running(),
			"send_limiter":       limiter.GetStats(),
		}
	}
	httpapi.SetupRoutes(r, handler, httpapi.NewMiddleware(cfg.JWTSecret))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
