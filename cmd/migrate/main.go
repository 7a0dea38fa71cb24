package main

import (
	"flag"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/clinic-onboarding/internal/config"
	"github.com/jwalitptl/clinic-onboarding/internal/repository/postgres"
	"github.com/jwalitptl/clinic-onboarding/pkg/logger"
)

// Usage: migrate [-config path] up | down [steps] | version
func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to config.yml")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	appLogger := logger.NewLogger(&logger.Config{
		Level:  logger.ParseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
	})

	db, err := postgres.NewDB(cfg.Database.ToPrimary(), nil)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = postgres.MigrateUp(db.Primary.DB)
	case "down":
		steps := 1
		if arg := flag.Arg(1); arg != "" {
			steps, err = strconv.Atoi(arg)
			if err != nil {
				appLogger.Fatal(err, "steps must be an integer")
			}
		}
		err = postgres.MigrateDown(db.Primary.DB, steps)
	case "version":
		version, dirty, verr := postgres.MigrationVersion(db.Primary.DB)
		if verr != nil {
			appLogger.Fatal(verr, "failed to read schema version")
		}
		appLogger.Info("schema version", "version", version, "dirty", dirty)
		return
	default:
		appLogger.Fatal(nil, "unknown command; expected up, down or version", "command", cmd)
	}
	if err != nil {
		appLogger.Fatal(err, "migration failed", "command", cmd)
	}
	appLogger.Info("migration complete", "command", cmd)
}
