package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestLoadFullConfig(t *testing.T) {
	content := `
server:
  address: "0.0.0.0"
  port: 9000
  db_path: "/tmp/chatsync-test"
logging:
  level: debug
remote:
  dsn: "postgres://app:pw@localhost:5432/app"
  feed_url: "wss://feed.example.com/v1/changes"
  user_id: "u-1"
collab:
  signal_addr: "wss://relay.example.com"
  snapshot_request_delay: 250ms
sync:
  queue:
    capacity: 2048
    wal:
      enabled: true
      max_file_size: 8MB
  flush_stagger: 100ms
monitor:
  interval: 3s
  echo_timeout: 12s
retention:
  enabled: true
  cron: "0 3 * * *"
  period: "168h"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Server.Address != "0.0.0.0" {
		t.Fatalf("server block: %+v", cfg.Server)
	}
	if cfg.Remote.FeedURL != "wss://feed.example.com/v1/changes" {
		t.Fatalf("remote block: %+v", cfg.Remote)
	}
	if cfg.Sync.Queue.Capacity != 2048 {
		t.Fatalf("queue capacity: %d", cfg.Sync.Queue.Capacity)
	}
	if cfg.Sync.Queue.WAL.MaxFileSize.Int64() != 8*1000*1000 {
		t.Fatalf("wal max size: %d", cfg.Sync.Queue.WAL.MaxFileSize.Int64())
	}
	if cfg.Sync.FlushStagger.Duration() != 100*time.Millisecond {
		t.Fatalf("flush stagger: %v", cfg.Sync.FlushStagger.Duration())
	}
	if cfg.Monitor.EchoTimeout.Duration() != 12*time.Second {
		t.Fatalf("echo timeout: %v", cfg.Monitor.EchoTimeout.Duration())
	}
	if !cfg.Retention.Enabled || cfg.Retention.Period != "168h" {
		t.Fatalf("retention block: %+v", cfg.Retention)
	}
}

func TestValidateConfigAppliesDefaults(t *testing.T) {
	cfg := &Config{}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Server.Port != 8777 || cfg.Server.Address != "127.0.0.1" {
		t.Fatalf("server defaults: %+v", cfg.Server)
	}
	if cfg.Sync.Queue.Capacity != 1024 {
		t.Fatalf("queue capacity default: %d", cfg.Sync.Queue.Capacity)
	}
	if cfg.Collab.OutboundCapacity != 512 {
		t.Fatalf("outbound capacity default: %d", cfg.Collab.OutboundCapacity)
	}
	if cfg.Collab.FlushStagger.Duration() != 25*time.Millisecond {
		t.Fatalf("collab flush stagger default: %v", cfg.Collab.FlushStagger.Duration())
	}
	if cfg.Monitor.Interval.Duration() != 5*time.Second {
		t.Fatalf("monitor interval default: %v", cfg.Monitor.Interval.Duration())
	}
	if cfg.Retention.Cron == "" || cfg.Retention.Period == "" {
		t.Fatalf("retention defaults: %+v", cfg.Retention)
	}
}

func TestValidateConfigRejectsBadValues(t *testing.T) {
	cfg := &Config{}
	cfg.Retention.Enabled = true
	cfg.Retention.Period = "one month"
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error for unparseable retention period")
	}

	cfg = &Config{}
	cfg.Remote.DSN = "postgres://localhost/app"
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error for dsn without user id")
	}
}

func TestDurationYAMLForms(t *testing.T) {
	var d Duration
	for raw, want := range map[string]time.Duration{
		"150ms": 150 * time.Millisecond,
		"2s":    2 * time.Second,
		"1.5":   1500 * time.Millisecond,
		"30":    30 * time.Second,
	} {
		if err := yaml.Unmarshal([]byte(raw), &d); err != nil {
			t.Fatalf("unmarshal %q: %v", raw, err)
		}
		if d.Duration() != want {
			t.Fatalf("%q: got %v want %v", raw, d.Duration(), want)
		}
	}
	if err := yaml.Unmarshal([]byte(`"soon"`), &d); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestSizeBytesYAMLForms(t *testing.T) {
	var s SizeBytes
	if err := yaml.Unmarshal([]byte("4096"), &s); err != nil {
		t.Fatalf("unmarshal int: %v", err)
	}
	if s.Int64() != 4096 {
		t.Fatalf("got %d want 4096", s.Int64())
	}
	if err := yaml.Unmarshal([]byte(`"16MiB"`), &s); err != nil {
		t.Fatalf("unmarshal human size: %v", err)
	}
	if s.Int64() != 16*1024*1024 {
		t.Fatalf("got %d want %d", s.Int64(), 16*1024*1024)
	}
	if err := yaml.Unmarshal([]byte(`"lots"`), &s); err == nil {
		t.Fatalf("expected error for invalid size")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CHATSYNC_REMOTE_DSN", "postgres://env/app")
	t.Setenv("CHATSYNC_REMOTE_AUTH_TOKEN", "env-token")
	t.Setenv("CHATSYNC_ADDR", "0.0.0.0:9100")

	cfg := &Config{}
	cfg.Remote.AuthToken = "file-token"
	if !ApplyEnvOverrides(cfg) {
		t.Fatalf("expected env to be used")
	}
	if cfg.Remote.DSN != "postgres://env/app" {
		t.Fatalf("dsn not filled from env: %q", cfg.Remote.DSN)
	}
	// the auth token always prefers the environment
	if cfg.Remote.AuthToken != "env-token" {
		t.Fatalf("auth token: %q", cfg.Remote.AuthToken)
	}
	if cfg.Server.Address != "0.0.0.0" || cfg.Server.Port != 9100 {
		t.Fatalf("addr not split: %+v", cfg.Server)
	}

	// file values win for everything else
	cfg2 := &Config{}
	cfg2.Remote.DSN = "postgres://file/app"
	ApplyEnvOverrides(cfg2)
	if cfg2.Remote.DSN != "postgres://file/app" {
		t.Fatalf("env must not override file dsn: %q", cfg2.Remote.DSN)
	}
}

func TestAddr(t *testing.T) {
	cfg := &Config{}
	if cfg.Addr() != "" {
		t.Fatalf("empty config should yield empty addr, got %q", cfg.Addr())
	}
	cfg.Server.Address = "127.0.0.1"
	cfg.Server.Port = 8777
	if cfg.Addr() != "127.0.0.1:8777" {
		t.Fatalf("got %q", cfg.Addr())
	}
}
