package retention

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chatsync/pkg/config"
	"chatsync/pkg/models"
	"chatsync/pkg/state"
	"chatsync/pkg/store"
)

func setupRetention(t *testing.T, cfg config.RetentionConfig) string {
	t.Helper()
	store.ResetSubscribers()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	dir := t.TempDir()
	prev := state.PathsVar
	state.PathsVar = state.Paths{Retention: dir}
	SetConfig(cfg)
	t.Cleanup(func() {
		state.PathsVar = prev
		store.ResetSubscribers()
		_ = store.Close()
	})
	return dir
}

func TestRunImmediatePurgesExpired(t *testing.T) {
	dir := setupRetention(t, config.RetentionConfig{Enabled: true, Period: "1h"})

	old := time.Now().UTC().Add(-2 * time.Hour).UnixNano()
	recent := time.Now().UTC().Add(-time.Minute).UnixNano()

	chats := []models.Chat{
		{ID: "expired", UpdatedTS: 1, Deleted: true, DeletedTS: old},
		{ID: "fresh-tombstone", UpdatedTS: 1, Deleted: true, DeletedTS: recent},
		{ID: "live", UpdatedTS: 1},
	}
	for _, c := range chats {
		if err := store.SaveChat(c, store.OriginLocal); err != nil {
			t.Fatalf("save %s: %v", c.ID, err)
		}
	}
	if err := store.SaveMessage(models.Message{ID: "m1", ChatID: "expired"}, store.OriginLocal); err != nil {
		t.Fatalf("save message: %v", err)
	}

	if err := RunImmediate(); err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, err := store.GetChat("expired"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expired chat should be purged, got %v", err)
	}
	if store.HasMessage("m1") {
		t.Fatalf("purge must cascade to messages")
	}
	if _, err := store.GetChat("fresh-tombstone"); err != nil {
		t.Fatalf("recent tombstone must survive: %v", err)
	}
	if _, err := store.GetChat("live"); err != nil {
		t.Fatalf("live chat must survive: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "last_run")); err != nil {
		t.Fatalf("expected last_run marker: %v", err)
	}
}

func TestRunImmediateDryRun(t *testing.T) {
	setupRetention(t, config.RetentionConfig{Enabled: true, Period: "1h", DryRun: true})

	old := time.Now().UTC().Add(-2 * time.Hour).UnixNano()
	if err := store.SaveChat(models.Chat{ID: "expired", UpdatedTS: 1, Deleted: true, DeletedTS: old}, store.OriginLocal); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := RunImmediate(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := store.GetChat("expired"); err != nil {
		t.Fatalf("dry run must not purge: %v", err)
	}
}

func TestRunSkipsWhenLocked(t *testing.T) {
	dir := setupRetention(t, config.RetentionConfig{Enabled: true, Period: "1h"})

	lock := filepath.Join(dir, "purge.lock")
	if err := os.WriteFile(lock, nil, 0o600); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	old := time.Now().UTC().Add(-2 * time.Hour).UnixNano()
	if err := store.SaveChat(models.Chat{ID: "expired", UpdatedTS: 1, Deleted: true, DeletedTS: old}, store.OriginLocal); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := RunImmediate(); err != nil {
		t.Fatalf("locked run must be a no-op, got %v", err)
	}
	if _, err := store.GetChat("expired"); err != nil {
		t.Fatalf("locked run must not purge: %v", err)
	}
}

func TestStartRejectsInvalidCron(t *testing.T) {
	dir := t.TempDir()
	prev := state.PathsVar
	state.PathsVar = state.Paths{Retention: dir}
	defer func() { state.PathsVar = prev }()

	cfg := config.RetentionConfig{Enabled: true, Cron: "every tuesday", Period: "1h"}
	if _, err := Start(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for invalid cron")
	}
}
