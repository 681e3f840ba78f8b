// Package retention runs the scheduled local purge: soft-deleted chats
// older than the configured period are permanently removed, cascading to
// their messages and artifacts. Purges go through the normal store
// delete path, so the removal propagates to the remote database like any
// other local mutation.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"

	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/state"
	"chatsync/pkg/store"
)

var storedCfg *config.RetentionConfig

// SetConfig stores the retention config so tests (or admin triggers) can
// invoke retention runs on-demand.
func SetConfig(cfg config.RetentionConfig) {
	storedCfg = &cfg
}

// RunImmediate triggers a single retention run using the stored config.
func RunImmediate() error {
	if storedCfg == nil {
		return fmt.Errorf("no config registered for retention run")
	}
	if state.PathsVar.Retention == "" {
		return fmt.Errorf("state paths not initialized")
	}
	return runOnce(context.Background(), *storedCfg, state.PathsVar.Retention)
}

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.RetentionConfig) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	retentionPath := state.PathsVar.Retention
	if err := os.MkdirAll(retentionPath, 0o700); err != nil {
		logger.Error("retention_path_create_failed", "path", retentionPath, "error", err)
		return nil, err
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", cfg.Period, "path", retentionPath)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, retentionPath, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured
// cron expression and sleeps until that time.
func runScheduler(ctx context.Context, cfg config.RetentionConfig, retentionPath, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if err := runOnce(ctx, cfg, retentionPath); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// runOnce performs a single purge pass under a lock file so overlapping
// runs (scheduler tick plus an admin trigger) cannot interleave.
func runOnce(ctx context.Context, cfg config.RetentionConfig, retentionPath string) error {
	lockPath := filepath.Join(retentionPath, "purge.lock")
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			logger.Warn("retention_run_skipped_locked", "lock", lockPath)
			return nil
		}
		return fmt.Errorf("failed to acquire retention lock: %w", err)
	}
	defer func() {
		lock.Close()
		_ = os.Remove(lockPath)
	}()

	period, err := time.ParseDuration(cfg.Period)
	if err != nil {
		return fmt.Errorf("invalid retention period %q: %w", cfg.Period, err)
	}
	cutoff := time.Now().UTC().Add(-period).UnixNano()

	chats, err := store.ListChats()
	if err != nil {
		return fmt.Errorf("failed to list chats for retention: %w", err)
	}

	purged := 0
	for _, chat := range chats {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !chat.Deleted || chat.DeletedTS == 0 || chat.DeletedTS > cutoff {
			continue
		}
		if cfg.DryRun {
			logger.Info("retention_would_purge", "chat", chat.ID, "deleted_ts", chat.DeletedTS)
			purged++
			continue
		}
		if err := store.DeleteChat(chat.ID, store.OriginLocal); err != nil {
			logger.Warn("retention_purge_failed", "chat", chat.ID, "error", err)
			continue
		}
		logger.Info("retention_purged", "chat", chat.ID)
		purged++
	}

	marker := filepath.Join(retentionPath, "last_run")
	content := fmt.Sprintf("%s purged=%d dry_run=%t\n", time.Now().UTC().Format(time.RFC3339), purged, cfg.DryRun)
	if err := os.WriteFile(marker, []byte(content), 0o600); err != nil {
		logger.Warn("retention_marker_write_failed", "path", marker, "error", err)
	}
	logger.Info("retention_run_complete", "purged", purged, "dry_run", cfg.DryRun)
	return nil
}
