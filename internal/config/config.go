package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Build-time variables injected via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Config holds everything the lifecycle and dispatch commands need. Values
// come from defaults, then an optional TOML config file, then environment
// variables, in that order of precedence.
type Config struct {
	// APIURL is the base URL of the control-plane API.
	APIURL string `toml:"api_url"`

	// APIVersion is the value sent in the X-Fleet-API-Version header.
	APIVersion string `toml:"api_version"`

	// AuthToken is the bearer token passed through to the control plane.
	// Usually supplied via flag or FLEET_AUTH_TOKEN rather than the file.
	AuthToken string `toml:"auth_token"`

	// DataDir is where result logs and instance JSON files are written.
	DataDir string `toml:"data_dir"`

	// Debug enables debug-level logging.
	Debug bool `toml:"debug"`

	// RetryDelay is the fixed pause between HTTP retries.
	RetryDelay time.Duration `toml:"-"`

	// PollInterval is the pause between instance-state poll cycles.
	PollInterval time.Duration `toml:"-"`

	// LaunchTimeout bounds how long a launch waits for instances to start.
	LaunchTimeout time.Duration `toml:"-"`

	// TerminateWorkers is the worker-pool size for batch termination.
	// Kept small so concurrent deletes do not flood the control plane.
	TerminateWorkers int `toml:"terminate_workers"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		APIURL:           "https://cloud.nimbusedge.io/api/sc",
		APIVersion:       "1",
		DataDir:          "data",
		RetryDelay:       10 * time.Second,
		PollInterval:     5 * time.Second,
		LaunchTimeout:    600 * time.Second,
		TerminateWorkers: 2,
	}
}

// Load reads configuration from the optional config file and environment
// variables, applying defaults for anything not explicitly set.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if path := configFilePath(); path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("FLEET_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := strings.TrimSpace(os.Getenv("FLEET_AUTH_TOKEN")); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("FLEET_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if os.Getenv("FLEET_DEBUG") == "true" {
		cfg.Debug = true
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	return cfg, nil
}

func configFilePath() string {
	if v := os.Getenv("FLEET_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "fleetctl", "config.toml")
}

// NewLogger creates a structured logger writing to stderr, so stdout stays
// free for the JSON/CSV output the commands print.
func NewLogger(cfg *Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
