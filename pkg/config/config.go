package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Addr returns the host:port string for the control API listener.
func (c *Config) Addr() string {
	host := c.Server.Address
	port := c.Server.Port
	if host == "" && port == 0 {
		return ""
	}
	if port == 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ResolveConfigPath returns the config path to use. An explicit --config
// flag wins; otherwise CHATSYNC_CONFIG is honored, then the default.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet {
		return flagVal
	}
	if v := os.Getenv("CHATSYNC_CONFIG"); v != "" {
		return v
	}
	return flagVal
}

// ValidateConfig applies canonical defaults in place and rejects values
// the runtime cannot work with. Callers must invoke it before handing the
// config to components; the queue WAL in particular relies on defaults
// applied here.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if cfg.Server.DBPath == "" {
		cfg.Server.DBPath = "./.chatsync"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8777
	}

	if cfg.Sync.Queue.Capacity <= 0 {
		cfg.Sync.Queue.Capacity = 1024
	}
	if cfg.Sync.Queue.WAL.MaxFileSize <= 0 {
		cfg.Sync.Queue.WAL.MaxFileSize = 16 * 1024 * 1024
	}
	if cfg.Sync.FlushStagger <= 0 {
		cfg.Sync.FlushStagger = Duration(150 * time.Millisecond)
	}

	if cfg.Collab.SnapshotRequestDelay <= 0 {
		cfg.Collab.SnapshotRequestDelay = Duration(500 * time.Millisecond)
	}
	if cfg.Collab.ReconnectDelay <= 0 {
		cfg.Collab.ReconnectDelay = Duration(2 * time.Second)
	}
	if cfg.Collab.ImmediateReconnectDelay <= 0 {
		cfg.Collab.ImmediateReconnectDelay = Duration(250 * time.Millisecond)
	}
	if cfg.Collab.OutboundCapacity <= 0 {
		cfg.Collab.OutboundCapacity = 512
	}
	if cfg.Collab.FlushStagger <= 0 {
		cfg.Collab.FlushStagger = Duration(25 * time.Millisecond)
	}

	if cfg.Monitor.Interval <= 0 {
		cfg.Monitor.Interval = Duration(5 * time.Second)
	}
	if cfg.Monitor.EchoTimeout <= 0 {
		cfg.Monitor.EchoTimeout = Duration(10 * time.Second)
	}

	if cfg.Retention.Cron == "" {
		cfg.Retention.Cron = "0 2 * * *"
	}
	if cfg.Retention.Period == "" {
		cfg.Retention.Period = "720h"
	}
	if cfg.Retention.Enabled {
		if _, err := time.ParseDuration(cfg.Retention.Period); err != nil {
			return fmt.Errorf("invalid retention period %q: %w", cfg.Retention.Period, err)
		}
	}

	if cfg.Remote.DSN != "" && cfg.Remote.UserID == "" {
		return fmt.Errorf("remote.dsn configured but remote.user_id missing")
	}
	return nil
}
