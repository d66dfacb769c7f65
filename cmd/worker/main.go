package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwalitptl/coach-realtime/config"
	"github.com/jwalitptl/coach-realtime/internal/repository/postgres"
	"github.com/jwalitptl/coach-realtime/internal/worker"
	"github.com/jwalitptl/coach-realtime/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.NewLogger(nil).Fatal(err, "failed to load configuration")
	}

	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       cfg.Log.JSON,
	})

	if cfg.Database.Driver != "postgres" {
		log.Fatal(nil, "the retention worker needs the postgres driver", "driver", cfg.Database.Driver)
	}
	if cfg.Audit.RetentionDays <= 0 {
		log.Info("audit retention disabled, nothing to do")
		return
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo := postgres.NewAuditRepository(postgres.NewBaseRepository(db))
	w := worker.NewAuditCleanupWorker(repo, cfg.Audit, log)

	log.Info("retention worker started",
		"retention_days", cfg.Audit.RetentionDays,
		"interval", cfg.Audit.CleanupInterval.String(),
	)
	w.Start(ctx)
	log.Info("retention worker stopped")
}
