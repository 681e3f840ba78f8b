package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Remote    RemoteConfig    `yaml:"remote"`
	Collab    CollabConfig    `yaml:"collab"`
	Sync      SyncConfig      `yaml:"sync"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds the local control API listener and store location.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	DBPath  string    `yaml:"db_path"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration for the control API.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RemoteConfig describes the remote database and its realtime feed. An
// empty DSN means the daemon runs offline-only: nothing is uploaded and
// no feed subscription is opened.
type RemoteConfig struct {
	DSN     string `yaml:"dsn"`
	FeedURL string `yaml:"feed_url"`
	UserID  string `yaml:"user_id"`
	// AuthToken is sent on feed subscription; empty disables auth.
	AuthToken string `yaml:"auth_token"`
	// Migrate runs schema auto-migration on connect.
	Migrate bool `yaml:"migrate"`
}

// CollabConfig holds peer collaboration settings. SignalAddr is the
// rendezvous relay used to exchange session frames between peers.
type CollabConfig struct {
	SignalAddr string `yaml:"signal_addr"`
	// SnapshotRequestDelay bounds how long a collaborator waits after a
	// peer connects before asking the leader for its snapshot.
	SnapshotRequestDelay Duration `yaml:"snapshot_request_delay"`
	// ReconnectDelay is the normal reconnection backoff; the immediate
	// tier is used when the transport dropped under active peers.
	ReconnectDelay          Duration `yaml:"reconnect_delay"`
	ImmediateReconnectDelay Duration `yaml:"immediate_reconnect_delay"`
	// OutboundCapacity bounds the per-session outbound frame queue.
	OutboundCapacity int `yaml:"outbound_capacity"`
	// FlushStagger spaces the release of appends held while the room was
	// peerless once a peer arrives.
	FlushStagger Duration `yaml:"flush_stagger"`
}

// SyncConfig holds outbound queueing and flush configuration.
type SyncConfig struct {
	Queue QueueConfig `yaml:"queue"`
	// FlushStagger spaces queue flush attempts after a fresh (re)connect
	// so a recovering transport is not overwhelmed.
	FlushStagger Duration `yaml:"flush_stagger"`
}

// QueueConfig holds the in-memory queue bounds and WAL durability.
type QueueConfig struct {
	Capacity int       `yaml:"capacity"`
	WAL      WALConfig `yaml:"wal"`
}

// WALConfig represents write-ahead log tunables for the durable queue.
type WALConfig struct {
	Enabled        bool      `yaml:"enabled"`
	MaxFileSize    SizeBytes `yaml:"max_file_size"`
	EnableCompress bool      `yaml:"enable_compress"`
}

// MonitorConfig drives the connection health-check loop.
type MonitorConfig struct {
	Interval Duration `yaml:"interval"`
	// EchoTimeout bounds how long a sent item may go without its echo
	// before the transport is treated as silently broken.
	EchoTimeout Duration `yaml:"echo_timeout"`
}

// RetentionConfig holds configuration for the automatic purge runner.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	// Period is how long soft-deleted chats are kept before purge.
	Period string `yaml:"period"`
	DryRun bool   `yaml:"dry_run"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
