package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/coach-realtime/config"
	"github.com/jwalitptl/coach-realtime/internal/repository"
	"github.com/jwalitptl/coach-realtime/pkg/logger"
)

// AuditCleanupWorker deletes audit events older than the retention window.
type AuditCleanupWorker struct {
	repo            repository.AuditRepository
	retentionDays   int
	cleanupInterval time.Duration
	log             *logger.Logger
	now             func() time.Time
}

func NewAuditCleanupWorker(repo repository.AuditRepository, cfg config.AuditConfig, log *logger.Logger) *AuditCleanupWorker {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &AuditCleanupWorker{
		repo:            repo,
		retentionDays:   cfg.RetentionDays,
		cleanupInterval: interval,
		log:             log.WithComponent("audit_cleanup"),
		now:             time.Now,
	}
}

// Start runs one cleanup immediately and then every interval until ctx is
// done. Failures are logged and retried on the next tick.
func (w *AuditCleanupWorker) Start(ctx context.Context) {
	if w.retentionDays <= 0 {
		w.log.Info("audit retention disabled")
		return
	}

	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		if _, err := w.Cleanup(ctx); err != nil {
			w.log.Error(err, "audit cleanup failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *AuditCleanupWorker) Cleanup(ctx context.Context) (int64, error) {
	cutoff := w.now().AddDate(0, 0, -w.retentionDays)

	rows, err := w.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit events: %w", err)
	}

	w.log.Info("cleaned up audit events", "deleted", rows, "cutoff", cutoff.Format(time.RFC3339))
	return rows, nil
}
