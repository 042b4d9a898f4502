// Package retention prunes historical quota data past its retention window.
// Superseded usage windows are kept for reporting, not forever; violations
// are kept longer for compliance history. Current-window rows are never
// touched here — only an admin reset removes those.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"github.com/ledgerly-hq/ledgerly/internal/config"
)

// Cleaner deletes usage records and violations older than their configured
// retention on a cron schedule.
type Cleaner struct {
	pool *pgxpool.Pool
	cfg  config.QuotaConfig
	cron *cron.Cron
}

// NewCleaner creates a Cleaner; call Start to begin scheduling.
func NewCleaner(pool *pgxpool.Pool, cfg config.QuotaConfig) *Cleaner {
	return &Cleaner{
		pool: pool,
		cfg:  cfg,
		cron: cron.New(),
	}
}

// Start registers the cleanup job and starts the scheduler.
func (c *Cleaner) Start() error {
	_, err := c.cron.AddFunc(c.cfg.CleanupSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if err := c.RunOnce(ctx); err != nil {
			slog.Error("retention cleanup", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling retention cleanup %q: %w", c.cfg.CleanupSchedule, err)
	}

	c.cron.Start()
	slog.Info("retention cleaner started", "schedule", c.cfg.CleanupSchedule)
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (c *Cleaner) Stop() {
	<-c.cron.Stop().Done()
}

// RunOnce performs a single cleanup pass.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	usageCutoff := time.Now().UTC().Add(-c.cfg.UsageRetention)
	tag, err := c.pool.Exec(ctx,
		`DELETE FROM usage_records WHERE window_start < $1`, usageCutoff)
	if err != nil {
		return fmt.Errorf("pruning usage records: %w", err)
	}
	usageDeleted := tag.RowsAffected()

	violationCutoff := time.Now().UTC().Add(-c.cfg.ViolationRetention)
	tag, err = c.pool.Exec(ctx,
		`DELETE FROM violations WHERE created_at < $1`, violationCutoff)
	if err != nil {
		return fmt.Errorf("pruning violations: %w", err)
	}

	slog.Info("retention cleanup complete",
		"usage_deleted", usageDeleted,
		"violations_deleted", tag.RowsAffected(),
		"usage_cutoff", usageCutoff,
		"violation_cutoff", violationCutoff)
	return nil
}
