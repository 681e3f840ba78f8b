package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"strings"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// ParseConfigFlags parses command-line flags and returns them as a Flags struct.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", "127.0.0.1:8777", "control API listen address")
	dbPtr := flag.String("db", "./.chatsync", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: setFlags}
}

// ParseConfigFile resolves the config path and loads the YAML file. It
// returns the parsed config, a boolean indicating whether the file was
// present, and an error for fatal parsing problems.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := Load(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ApplyEnvOverrides merges CHATSYNC_* environment variables into cfg.
// Env values only fill fields the file left empty, except the remote
// auth token which always prefers the environment.
func ApplyEnvOverrides(cfg *Config) bool {
	used := false

	if v := os.Getenv("CHATSYNC_ADDR"); v != "" && cfg.Server.Address == "" {
		used = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("CHATSYNC_DB_PATH"); v != "" && cfg.Server.DBPath == "" {
		used = true
		cfg.Server.DBPath = v
	}
	if v := os.Getenv("CHATSYNC_REMOTE_DSN"); v != "" && cfg.Remote.DSN == "" {
		used = true
		cfg.Remote.DSN = v
	}
	if v := os.Getenv("CHATSYNC_REMOTE_FEED_URL"); v != "" && cfg.Remote.FeedURL == "" {
		used = true
		cfg.Remote.FeedURL = v
	}
	if v := os.Getenv("CHATSYNC_REMOTE_USER_ID"); v != "" && cfg.Remote.UserID == "" {
		used = true
		cfg.Remote.UserID = v
	}
	if v := os.Getenv("CHATSYNC_REMOTE_AUTH_TOKEN"); v != "" {
		used = true
		cfg.Remote.AuthToken = v
	}
	if v := os.Getenv("CHATSYNC_SIGNAL_ADDR"); v != "" && cfg.Collab.SignalAddr == "" {
		used = true
		cfg.Collab.SignalAddr = v
	}
	if v := os.Getenv("CHATSYNC_LOG_LEVEL"); v != "" && cfg.Logging.Level == "" {
		used = true
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(v))
	}
	return used
}
