package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/adhocore/gronx"
)

// set defaults, fail fast on critical errors
func ValidateConfig(eff EffectiveConfigResult) error {
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("effective config is nil")
	}
	if strings.TrimSpace(cfg.Store.DSN) == "" {
		return fmt.Errorf("store dsn is empty: set --db flag, LINEDESK_STORE_DSN env, or store.dsn in config")
	}
	if i := strings.Index(cfg.Store.DSN, "://"); i > 0 {
		switch scheme := strings.ToLower(cfg.Store.DSN[:i]); scheme {
		case "memory", "file", "pebble", "redis", "rediss", "postgres", "postgresql":
		default:
			return fmt.Errorf("unsupported store dsn scheme %q", scheme)
		}
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if cfg.Server.MaxBodySize.Int64() < 1024 {
		return fmt.Errorf("server.max_body_size too small: %s", cfg.Server.MaxBodySize)
	}
	if _, err := url.ParseRequestURI(cfg.Line.APIBaseURL); err != nil {
		return fmt.Errorf("invalid line.api_base_url: %w", err)
	}
	if cfg.Logs.Capacity > 100000 {
		return fmt.Errorf("logs.capacity too large: %d", cfg.Logs.Capacity)
	}

	// Retention validation: if retention is enabled, validate cron syntax.
	ret := cfg.Retention
	if ret.Enabled {
		if !gronx.New().IsValid(ret.Cron) {
			return fmt.Errorf("invalid retention.cron: not a valid cron expression")
		}
		if ret.Period.Duration() <= 0 {
			return fmt.Errorf("retention.period must be positive")
		}
	}

	if cfg.Sensor.DiskLowPct > cfg.Sensor.DiskHighPct || cfg.Sensor.DiskHighPct > 100 {
		return fmt.Errorf("sensor disk thresholds invalid: low %d%% high %d%%", cfg.Sensor.DiskLowPct, cfg.Sensor.DiskHighPct)
	}

	if len(cfg.Kafka.Brokers) > 0 && strings.TrimSpace(cfg.Kafka.Topic) == "" {
		return fmt.Errorf("kafka.topic is required when kafka.brokers is set")
	}
	return nil
}
