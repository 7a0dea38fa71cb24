package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/clinic-onboarding/internal/clock"
	"github.com/jwalitptl/clinic-onboarding/internal/config"
	"github.com/jwalitptl/clinic-onboarding/internal/handler/clinic"
	"github.com/jwalitptl/clinic-onboarding/internal/handler/health"
	"github.com/jwalitptl/clinic-onboarding/internal/handler/invitation"
	"github.com/jwalitptl/clinic-onboarding/internal/handler/staff"
	"github.com/jwalitptl/clinic-onboarding/internal/middleware"
	"github.com/jwalitptl/clinic-onboarding/internal/repository/postgres"
	"github.com/jwalitptl/clinic-onboarding/internal/router"
	"github.com/jwalitptl/clinic-onboarding/internal/service/authz"
	invitationService "github.com/jwalitptl/clinic-onboarding/internal/service/invitation"
	"github.com/jwalitptl/clinic-onboarding/internal/service/notification"
	"github.com/jwalitptl/clinic-onboarding/internal/service/onboarding"
	staffService "github.com/jwalitptl/clinic-onboarding/internal/service/staff"
	"github.com/jwalitptl/clinic-onboarding/internal/service/verification"
	"github.com/jwalitptl/clinic-onboarding/pkg/auth"
	"github.com/jwalitptl/clinic-onboarding/pkg/logger"
	"github.com/jwalitptl/clinic-onboarding/pkg/metrics"
	"github.com/jwalitptl/clinic-onboarding/pkg/security"
	"github.com/jwalitptl/clinic-onboarding/pkg/validator"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to config.yml")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		TimeFormat: time.RFC3339,
	})
	log.Logger = appLogger.Zerolog()

	// Initialize database
	db, err := postgres.NewDB(cfg.Database.ToPrimary(), cfg.Database.ToReplica())
	if err != nil {
		appLogger.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := postgres.MigrateUp(db.Primary.DB); err != nil {
			appLogger.Fatal(err, "failed to apply migrations")
		}
		appLogger.Info("database migrations applied")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry, "clinic_onboarding", "api")

	// Initialize repositories
	base := postgres.NewBaseRepository(db, m)
	clinicRepo := postgres.NewClinicRepository(base)
	invitationRepo := postgres.NewInvitationRepository(base)
	membershipRepo := postgres.NewMembershipRepository(base)
	outboxRepo := postgres.NewOutboxRepository(base)

	// Initialize services
	clk := clock.New()
	v := validator.New()
	workflow := onboarding.NewWorkflow(
		verification.NewService(clinicRepo, clk, v, m),
		invitationService.NewService(invitationRepo, clinicRepo, security.NewTokenIssuer(), clk, v, m, cfg.Invitation.TTL),
		staffService.NewService(membershipRepo, clk, m),
		notification.NewOutboxDispatcher(outboxRepo, clk, m),
		appLogger.WithFields(map[string]interface{}{"component": "workflow"}),
		onboarding.Config{AcceptURL: cfg.Invitation.AcceptURL},
	)

	tokens, err := auth.NewJWTService(cfg.JWT.ToAuthConfig())
	if err != nil {
		appLogger.Fatal(err, "failed to initialize token verifier")
	}
	authMiddleware := middleware.NewAuthMiddleware(tokens, authz.NewResolver(membershipRepo))

	r := router.NewRouter(
		authMiddleware,
		router.Handlers{
			Clinic:     clinic.NewHandler(workflow),
			Invitation: invitation.NewHandler(workflow),
			Staff:      staff.NewHandler(workflow),
			Health: health.NewHandler(map[string]health.Check{
				"database": db.Primary.PingContext,
				"replica":  db.Replica.PingContext,
			}),
		},
		router.RouterConfig{
			RateLimit: middleware.RateLimiterConfig{
				RPS:   cfg.RateLimit.RequestsPerSecond,
				Burst: cfg.RateLimit.Burst,
			},
			RateLimitOff:  !cfg.RateLimit.Enabled,
			CORSConfig:    middleware.DefaultCORSConfig(cfg.Security.AllowedOrigins),
			MetricsPrefix: "clinic_onboarding_http",
			MetricsPath:   metricsPath(cfg),
			Registry:      registry,
			Logger:        appLogger.Zerolog(),
			ReleaseMode:   cfg.Logging.Format == "json",
		},
	)

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		appLogger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal(err, "failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error(err, "server forced to shutdown")
	}
	appLogger.Info("server exited")
}

func metricsPath(cfg *config.Config) string {
	if !cfg.Monitoring.PrometheusEnabled {
		return ""
	}
	return cfg.Monitoring.MetricsPath
}
