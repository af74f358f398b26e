// Package config loads mora's runtime configuration from the environment,
// with optional overrides from a local .env file during development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/joho/godotenv"
)

// Config holds every tunable the server needs at startup. Keys is the
// package-level instance every other package reads from, filled in by
// Init.
type Config struct {
	// Port is the TCP port the HTTP API listens on.
	Port int

	// WALPath is the directory holding one <queue_id>.wal file per queue.
	WALPath string

	// ChannelTimeout is how long a channel may go unread before the
	// sweeper reclaims it.
	ChannelTimeout time.Duration

	// QueuePoolCapacity caps the number of queues the pool will hold; 0
	// means unbounded.
	QueuePoolCapacity int

	LogLevel string

	// SweepInterval is how often the channel-expiry sweeper ticks.
	SweepInterval time.Duration

	// MaintenanceInterval is how often the background scheduler runs
	// compaction sweeps and stats logging.
	MaintenanceInterval time.Duration
}

// Keys is the active configuration, populated by Init.
var Keys = Default()

// Default returns the configuration mora starts with when no environment
// overrides are present, matching the original implementation's defaults
// (port 2626, one-hour channel timeout, unbounded pool).
func Default() Config {
	return Config{
		Port:                2626,
		WALPath:             "/tmp/wals",
		ChannelTimeout:      3600 * time.Second,
		QueuePoolCapacity:   0,
		LogLevel:            "info",
		SweepInterval:       time.Millisecond,
		MaintenanceInterval: time.Minute,
	}
}

// ListenAddress returns the address net/http.Server should bind, derived
// from Port.
func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Init loads a .env file if present (a missing file is not an error,
// matching godotenv's own convention for optional local overrides), then
// fills Keys from MORA_* environment variables, falling back to defaults
// for anything unset.
func Init(envFile string) error {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("config: loading %s: %w", envFile, err)
	}

	cfg := Default()

	if v := os.Getenv("MORA_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MORA_PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("MORA_WAL_PATH"); v != "" {
		cfg.WALPath = v
	}
	if v := os.Getenv("MORA_CHANNEL_TIMEOUT_IN_MSEC"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: MORA_CHANNEL_TIMEOUT_IN_MSEC: %w", err)
		}
		cfg.ChannelTimeout = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("MORA_QUEUE_POOL_CAPACITY"); v != "" {
		capacity, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MORA_QUEUE_POOL_CAPACITY: %w", err)
		}
		cfg.QueuePoolCapacity = capacity
	}
	if v := os.Getenv("MORA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MORA_SWEEP_INTERVAL_MS"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: MORA_SWEEP_INTERVAL_MS: %w", err)
		}
		cfg.SweepInterval = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("MORA_MAINTENANCE_INTERVAL_S"); v != "" {
		s, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: MORA_MAINTENANCE_INTERVAL_S: %w", err)
		}
		cfg.MaintenanceInterval = time.Duration(s) * time.Second
	}

	Keys = cfg
	cclog.Infof("config: listening on port %d, wal path %s", cfg.Port, cfg.WALPath)
	return nil
}
