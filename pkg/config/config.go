package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults and limits.
const (
	defaultPort           = 8080
	defaultMaxBodySize    = 5 * 1024 * 1024 // 5 MiB
	defaultRateRPS        = 50
	defaultRateBurst      = 100
	defaultStoreDSN       = "./.database"
	defaultLineAPIBase    = "https://api.line.me"
	defaultReplyTimeout   = 10 * time.Second
	defaultLineReqTimeout = 20 * time.Second
	defaultPushRetries    = 2
	defaultIngestTimeout  = 15 * time.Second
	defaultLogCapacity    = 100
	defaultHeartbeat      = 30 * time.Second
	defaultSubBuffer      = 64
	// Retention defaults
	defaultRetentionCron   = "0 3 * * *" // daily at 03:00
	defaultRetentionPeriod = 90 * 24 * time.Hour
	defaultRetentionBatch  = 500
	defaultKafkaTopic      = "linedesk.events"
	// Sensor defaults
	defaultSensorPoll     = 30 * time.Second
	defaultDiskHighPct    = 90
	defaultDiskLowPct     = 80
	defaultMemHighPct     = 90
	defaultSensorRecovery = 5 * time.Minute

	// DefaultAutoReplyText thanks the customer and promises a human follow-up.
	DefaultAutoReplyText = "ขอบคุณที่ติดต่อเข้ามา ทีมงานจะตอบกลับโดยเร็วที่สุด"
)

// Addr returns the HTTP server address as host:port.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	port := c.Server.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset knob in place.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.MaxBodySize <= 0 {
		c.Server.MaxBodySize = SizeBytes(defaultMaxBodySize)
	}
	if len(c.Server.CORS.AllowedOrigins) == 0 {
		c.Server.CORS.AllowedOrigins = []string{"*"}
	}
	if c.Server.RateLimit.RPS <= 0 {
		c.Server.RateLimit.RPS = defaultRateRPS
	}
	if c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = defaultRateBurst
	}

	if c.Store.DSN == "" {
		c.Store.DSN = defaultStoreDSN
	}

	if c.Line.APIBaseURL == "" {
		c.Line.APIBaseURL = defaultLineAPIBase
	}
	if c.Line.AutoReplyText == "" {
		c.Line.AutoReplyText = DefaultAutoReplyText
	}
	if c.Line.ReplyTimeout.Duration() <= 0 {
		c.Line.ReplyTimeout = Duration(defaultReplyTimeout)
	}
	if c.Line.RequestTimeout.Duration() <= 0 {
		c.Line.RequestTimeout = Duration(defaultLineReqTimeout)
	}
	if c.Line.PushMaxRetries == nil {
		n := defaultPushRetries
		c.Line.PushMaxRetries = &n
	} else if *c.Line.PushMaxRetries < 0 {
		n := 0
		c.Line.PushMaxRetries = &n
	}

	if c.Webhook.IngestTimeout.Duration() <= 0 {
		c.Webhook.IngestTimeout = Duration(defaultIngestTimeout)
	}

	if c.Logs.Capacity <= 0 {
		c.Logs.Capacity = defaultLogCapacity
	}

	if c.Events.HeartbeatInterval.Duration() <= 0 {
		c.Events.HeartbeatInterval = Duration(defaultHeartbeat)
	}
	if c.Events.SubscriberBuffer <= 0 {
		c.Events.SubscriberBuffer = defaultSubBuffer
	}

	if c.Retention.Cron == "" {
		c.Retention.Cron = defaultRetentionCron
	}
	if c.Retention.Period.Duration() <= 0 {
		c.Retention.Period = Duration(defaultRetentionPeriod)
	}
	if c.Retention.BatchSize <= 0 {
		c.Retention.BatchSize = defaultRetentionBatch
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = defaultKafkaTopic
	}

	if c.Sensor.PollInterval.Duration() <= 0 {
		c.Sensor.PollInterval = Duration(defaultSensorPoll)
	}
	if c.Sensor.DiskHighPct <= 0 {
		c.Sensor.DiskHighPct = defaultDiskHighPct
	}
	if c.Sensor.DiskLowPct <= 0 {
		c.Sensor.DiskLowPct = defaultDiskLowPct
	}
	if c.Sensor.MemHighPct <= 0 {
		c.Sensor.MemHighPct = defaultMemHighPct
	}
	if c.Sensor.RecoveryWindow.Duration() <= 0 {
		c.Sensor.RecoveryWindow = Duration(defaultSensorRecovery)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// LineConfigured reports whether both platform credentials are present.
func (c *Config) LineConfigured() bool {
	return c.Line.AccessToken != "" && c.Line.ChannelSecret != ""
}

// ResolveConfigPath returns the config file path, preferring flag, then env.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("LINEDESK_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
