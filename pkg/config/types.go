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
	Store     StoreConfig     `yaml:"store"`
	Line      LineConfig      `yaml:"line"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logs      LogsConfig      `yaml:"logs"`
	Events    EventsConfig    `yaml:"events"`
	Retention RetentionConfig `yaml:"retention"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Sensor    SensorConfig    `yaml:"sensor"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds http listener and request gate settings.
type ServerConfig struct {
	Address     string    `yaml:"address"`
	Port        int       `yaml:"port"`
	MaxBodySize SizeBytes `yaml:"max_body_size"`
	CORS        struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	// APIKeys gates operator routes when non-empty.
	APIKeys []string `yaml:"api_keys"`
}

// StoreConfig selects the key-value backend. A bare path opens pebble;
// memory://, redis:// and postgres:// select the other backends.
type StoreConfig struct {
	DSN string `yaml:"dsn"`
}

// LineConfig holds messaging platform credentials and dispatch tuning.
type LineConfig struct {
	AccessToken    string   `yaml:"access_token"`
	ChannelSecret  string   `yaml:"channel_secret"`
	APIBaseURL     string   `yaml:"api_base_url"`
	AutoReplyText  string   `yaml:"auto_reply_text"`
	ReplyTimeout   Duration `yaml:"reply_timeout"`
	RequestTimeout Duration `yaml:"request_timeout"`
	// PushMaxRetries is nil when unset; 0 disables push retries.
	PushMaxRetries *int `yaml:"push_max_retries"`
}

// PushRetries is the effective push retry budget.
func (l LineConfig) PushRetries() int {
	if l.PushMaxRetries == nil || *l.PushMaxRetries < 0 {
		return 0
	}
	return *l.PushMaxRetries
}

type WebhookConfig struct {
	IngestTimeout Duration `yaml:"ingest_timeout"`
}

// LogsConfig sizes the diagnostic log ring.
type LogsConfig struct {
	Capacity int `yaml:"capacity"`
}

type EventsConfig struct {
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	SubscriberBuffer  int      `yaml:"subscriber_buffer"`
}

// RetentionConfig holds configuration for the message purge runner.
type RetentionConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Cron      string   `yaml:"cron"`
	Period    Duration `yaml:"period"`
	BatchSize int      `yaml:"batch_size"`
	DryRun    bool     `yaml:"dry_run"`
}

// KafkaConfig enables forwarding of live events when brokers are set.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// SensorConfig tunes the disk and heap watcher. Disk checks apply to the
// embedded store directory only.
type SensorConfig struct {
	Disabled       bool     `yaml:"disabled"`
	PollInterval   Duration `yaml:"poll_interval"`
	DiskHighPct    int      `yaml:"disk_high_pct"`
	DiskLowPct     int      `yaml:"disk_low_pct"`
	MemHighPct     int      `yaml:"mem_high_pct"`
	RecoveryWindow Duration `yaml:"recovery_window"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.IBytes(uint64(s)) }

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
