// Package app wires the daemon's components and owns their lifecycle:
// store, remote client + feed, sync manager, session coordinator,
// connection monitor, retention runner and the control API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"chatsync/pkg/api"
	"chatsync/pkg/banner"
	"chatsync/pkg/collab"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/monitor"
	"chatsync/pkg/remote"
	"chatsync/pkg/state"
	"chatsync/pkg/store"
	"chatsync/pkg/syncmgr"

	"chatsync/internal/retention"
)

// App encapsulates the daemon components and lifecycle.
type App struct {
	cfg       *config.Config
	version   string
	commit    string
	buildDate string
	sources   string

	client *remote.Client
	feed   *remote.Feed
	sync   *syncmgr.Manager
	coord  *collab.Coordinator
	mon    *monitor.Monitor
	srv    *http.Server

	retentionCancel context.CancelFunc
}

// New validates the config and initializes everything that does not need
// a running context: state dirs, the store, the remote client, the sync
// manager and the session coordinator. Call Run to start the rest.
func New(cfg *config.Config, sources, version, commit, buildDate string) (*App, error) {
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	logger.InitWithLevel(cfg.Logging.Level)

	if err := state.EnsureStateDirs(cfg.Server.DBPath); err != nil {
		return nil, fmt.Errorf("failed to prepare state dirs: %w", err)
	}
	if err := store.Open(state.PathsVar.Store); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", state.PathsVar.Store, err)
	}

	// a marker left behind means the previous process died inside a
	// session; the session itself is gone
	if sess, err := store.GetSessionMarker(); err == nil {
		logger.Warn("stale_session_marker_cleared", "room", sess.RoomID, "role", sess.Role)
		_ = store.ClearSessionMarker()
	}

	a := &App{cfg: cfg, sources: sources, version: version, commit: commit, buildDate: buildDate}

	if cfg.Remote.DSN != "" {
		client, err := remote.Connect(cfg.Remote.DSN, cfg.Remote.UserID, cfg.Remote.Migrate)
		if err != nil {
			return nil, fmt.Errorf("failed to connect remote database: %w", err)
		}
		a.client = client
	}

	var uploader syncmgr.Uploader
	var mirror collab.SessionMirror
	if a.client != nil {
		uploader = a.client
		mirror = a.client
	}
	mgr, err := syncmgr.New(uploader, cfg.Sync, state.PathsVar.WAL)
	if err != nil {
		return nil, err
	}
	a.sync = mgr
	a.coord = collab.NewCoordinator(cfg.Collab, mirror)
	a.mon = monitor.New(cfg.Monitor, a.coord)
	return a, nil
}

// Run starts the background loops and the control API, then blocks until
// ctx is canceled or the HTTP server fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.sync.Start(); err != nil {
		return err
	}

	if a.client != nil && a.cfg.Remote.FeedURL != "" {
		a.feed = remote.NewFeed(
			a.cfg.Remote.FeedURL,
			a.cfg.Remote.AuthToken,
			a.cfg.Remote.UserID,
			[]string{"chats", "messages", "artifacts"},
			a.sync.HandleRealtimeChange,
			a.sync.SetConnectivity,
		)
		a.feed.Run(ctx)
	}

	a.mon.Start(ctx)

	cancel, err := retention.Start(ctx, a.cfg.Retention)
	if err != nil {
		return err
	}
	a.retentionCancel = cancel
	retention.SetConfig(a.cfg.Retention)

	a.printBanner()
	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close tears components down in reverse dependency order. Queue items
// not yet delivered stay journaled for the next start.
func (a *App) Close() {
	if a.srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.srv.Shutdown(shutdownCtx)
		cancel()
	}
	if a.retentionCancel != nil {
		a.retentionCancel()
	}
	a.mon.Stop()
	if err := a.coord.Leave(); err != nil && !errors.Is(err, collab.ErrNoSession) {
		logger.Warn("session_teardown_failed", "error", err)
	}
	if a.feed != nil {
		a.feed.Close()
	}
	a.sync.Stop()
	if a.client != nil {
		_ = a.client.Close()
	}
	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	logger.Info("shutdown_complete")
}

func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "none" && a.commit != "" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" && a.buildDate != "" {
		verStr += " @ " + a.buildDate
	}
	banner.Print(a.cfg, a.sources, verStr)
}

// startHTTP starts the control API server in a goroutine and returns a
// channel carrying any fatal server error.
func (a *App) startHTTP() <-chan error {
	handler := api.NewServer(a.sync, a.coord).Handler()
	a.srv = &http.Server{Addr: a.cfg.Addr(), Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		cert := a.cfg.Server.TLS.CertFile
		key := a.cfg.Server.TLS.KeyFile
		if cert != "" && key != "" {
			errCh <- a.srv.ListenAndServeTLS(cert, key)
		} else {
			errCh <- a.srv.ListenAndServe()
		}
	}()
	return errCh
}
