// Package config loads daemon configuration from the environment, with
// optional .env support for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the daemon.
type AppConfig struct {
	// StoreBackend is "sqlite" or "memory".
	StoreBackend string
	// DBPath is the sqlite database file.
	DBPath string

	LogLevel string
	Service  string

	// MetricsAddr is the listen address for the Prometheus endpoint;
	// empty disables it.
	MetricsAddr string

	// Cron specs, one per scan kind. Empty disables that scan.
	CronNotStarted  string
	CronEmptyRoom   string
	CronLongRunning string
	CronRoomOpen    string

	// Scan thresholds.
	NotStartedGrace  time.Duration
	EmptyRoomAfter   time.Duration
	LongRunningAfter time.Duration
	RoomOpenLead     time.Duration

	// ScanDeadline bounds a single scan run.
	ScanDeadline time.Duration
	// ScanParallelism bounds per-lesson concurrency inside a pass.
	ScanParallelism int
}

// Load reads configuration from environment variables and .env (if
// present). Existing env variables are never overridden by the file.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{
		StoreBackend:    envOr("STORE_BACKEND", "sqlite"),
		DBPath:          envOr("DB_PATH", "lessond.db"),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		Service:         envOr("LOG_SERVICE", "lessond"),
		MetricsAddr:     envOr("METRICS_ADDR", ":9108"),
		CronNotStarted:  envOr("CRON_NOT_STARTED", "*/5 * * * *"),
		CronEmptyRoom:   envOr("CRON_EMPTY_ROOM", "*/5 * * * *"),
		CronLongRunning: envOr("CRON_LONG_RUNNING", "*/8 * * * *"),
		CronRoomOpen:    envOr("CRON_ROOM_OPEN", "*/2 * * * *"),
	}

	var err error
	if cfg.NotStartedGrace, err = durationOr("NOT_STARTED_GRACE", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.EmptyRoomAfter, err = durationOr("EMPTY_ROOM_AFTER", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.LongRunningAfter, err = durationOr("LONG_RUNNING_AFTER", 80*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RoomOpenLead, err = durationOr("ROOM_OPEN_LEAD", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ScanDeadline, err = durationOr("SCAN_DEADLINE", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ScanParallelism, err = intOr("SCAN_PARALLELISM", 4); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationOr(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func intOr(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
