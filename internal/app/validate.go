package app

import (
	"fmt"
	"os"
	"strings"

	"chatsync/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(cfg *config.Config) error {
	if cfg.Server.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, CHATSYNC_DB_PATH env, or server.db_path in config")
	}

	cert := cfg.Server.TLS.CertFile
	key := cfg.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	if cfg.Remote.FeedURL != "" {
		if !strings.HasPrefix(cfg.Remote.FeedURL, "ws://") && !strings.HasPrefix(cfg.Remote.FeedURL, "wss://") {
			return fmt.Errorf("remote.feed_url must be a ws:// or wss:// URL")
		}
		if cfg.Remote.DSN == "" {
			return fmt.Errorf("remote.feed_url configured but remote.dsn missing")
		}
	}

	if cfg.Collab.SignalAddr != "" {
		if !strings.HasPrefix(cfg.Collab.SignalAddr, "ws://") && !strings.HasPrefix(cfg.Collab.SignalAddr, "wss://") {
			return fmt.Errorf("collab.signal_addr must be a ws:// or wss:// URL")
		}
	}
	return nil
}
