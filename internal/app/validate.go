package app

import (
	"fmt"

	"github.com/adhocore/gronx"

	"presencedb/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(cfg *config.Config) error {
	if cfg.Server.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, PRESENCEDB_DB_PATH env, or server.db_path in config")
	}
	if cfg.Queue.Capacity < 0 {
		return fmt.Errorf("queue.capacity must be non-negative, got %d", cfg.Queue.Capacity)
	}
	if cfg.Janitor.Enabled && cfg.Janitor.Cron != "" && !gronx.IsValid(cfg.Janitor.Cron) {
		return fmt.Errorf("invalid janitor cron expression: %s", cfg.Janitor.Cron)
	}
	if cfg.Security.RateLimit.RPS < 0 {
		return fmt.Errorf("security.rate_limit.rps must be non-negative")
	}
	return nil
}
