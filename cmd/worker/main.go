package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/clinic-onboarding/internal/config"
	"github.com/jwalitptl/clinic-onboarding/internal/email"
	"github.com/jwalitptl/clinic-onboarding/internal/handler/health"
	"github.com/jwalitptl/clinic-onboarding/internal/repository/postgres"
	"github.com/jwalitptl/clinic-onboarding/internal/service/notification"
	"github.com/jwalitptl/clinic-onboarding/pkg/logger"
	"github.com/jwalitptl/clinic-onboarding/pkg/messaging/redis"
	"github.com/jwalitptl/clinic-onboarding/pkg/metrics"
	"github.com/jwalitptl/clinic-onboarding/pkg/worker"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to config.yml")
	healthAddr := flag.String("health-addr", ":8081", "address for health and metrics endpoints")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		TimeFormat: time.RFC3339,
	})
	log.Logger = appLogger.Zerolog()

	smtpCfg, err := email.LoadSMTPConfig()
	if err != nil {
		appLogger.Fatal(err, "Failed to load SMTP config")
	}
	renderer, err := email.NewRenderer()
	if err != nil {
		appLogger.Fatal(err, "Failed to parse email templates")
	}

	db, err := postgres.NewDB(cfg.Database.ToPrimary(), nil)
	if err != nil {
		appLogger.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker, err := redis.NewRedisBroker(ctx, cfg.Redis.ToBrokerConfig(), appLogger.Zerolog())
	if err != nil {
		appLogger.Fatal(err, "Failed to create Redis broker")
	}
	defer broker.Close()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry, "clinic_onboarding", "worker")

	outboxRepo := postgres.NewOutboxRepository(postgres.NewBaseRepository(db, m))

	processor := worker.NewOutboxProcessor(
		outboxRepo,
		broker,
		cfg.Outbox.ToWorkerConfig(),
		appLogger.WithFields(map[string]interface{}{"component": "outbox_processor"}),
		m,
	)
	cleanup := worker.NewOutboxCleanupWorker(
		outboxRepo,
		cfg.Outbox.Retention,
		cfg.Outbox.CleanupInterval,
		appLogger.WithFields(map[string]interface{}{"component": "outbox_cleanup"}),
	)
	consumer := notification.NewConsumer(
		broker,
		renderer,
		email.NewSMTPSender(smtpCfg),
		appLogger.WithFields(map[string]interface{}{"component": "notification_consumer"}),
		consumerName(),
	)

	srv := healthServer(*healthAddr, registry, map[string]health.Check{
		"database": db.Primary.PingContext,
		"redis":    broker.Ping,
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(err, "Health check server failed")
			cancel()
		}
	}()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanup.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil {
			appLogger.Error(err, "Notification consumer stopped")
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}
	appLogger.Info("Shutting down...")
	cancel()
	wg.Wait()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "Health server forced to shutdown")
	}
}

func healthServer(addr string, registry *prometheus.Registry, checks map[string]health.Check) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	health.NewHandler(checks).RegisterRoutes(engine)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	return &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// consumerName identifies this process within the notification sender group.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
