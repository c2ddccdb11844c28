package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
)

// holds parsed command-line flag values and which were set
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// holds the results of applying environment overrides
type EnvResult struct {
	EnvUsed bool
}

// holds the result of LoadEffectiveConfig
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DSN    string
	Source string // comma-joined layers that contributed: "config", "env", "flags"
}

// parses command-line flags and returns them as a Flags struct
func ParseConfigFlags() Flags {
	return parseConfigFlagSet(flag.CommandLine, os.Args[1:])
}

func parseConfigFlagSet(fs *flag.FlagSet, args []string) Flags {
	addrPtr := fs.String("addr", ":8080", "HTTP listen address")
	dbPtr := fs.String("db", defaultStoreDSN, "store DSN: pebble path, memory://, redis://..., postgres://...")
	cfgPtr := fs.String("config", "./config.yaml", "Path to config file")
	_ = fs.Parse(args)

	// record which flags were set explicitly
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: setFlags}
}

// loads config from file, returns config, found bool, and error
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := LoadConfigFile(cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// envLookup is swapped in tests.
var envLookup = os.Getenv

// loads environment variables into a new Config and returns it with EnvResult; caller config is unchanged
func ParseConfigEnvs() (*Config, EnvResult) {
	env := func(name string) string { return strings.TrimSpace(envLookup("LINEDESK_" + name)) }
	envs := map[string]string{
		"ADDR":           env("ADDR"),
		"SERVER_ADDRESS": env("SERVER_ADDRESS"),
		"SERVER_PORT":    env("SERVER_PORT"),
		"MAX_BODY_SIZE":  env("MAX_BODY_SIZE"),
		"CORS_ORIGINS":   env("CORS_ORIGINS"),
		"RATE_RPS":       env("RATE_RPS"),
		"RATE_BURST":     env("RATE_BURST"),
		"API_KEYS":       env("API_KEYS"),
		"STORE_DSN":      env("STORE_DSN"),

		// platform credentials; the unprefixed names match the platform console
		"LINE_ACCESS_TOKEN":   firstNonEmpty(env("LINE_ACCESS_TOKEN"), strings.TrimSpace(envLookup("LINE_CHANNEL_ACCESS_TOKEN"))),
		"LINE_CHANNEL_SECRET": firstNonEmpty(env("LINE_CHANNEL_SECRET"), strings.TrimSpace(envLookup("LINE_CHANNEL_SECRET"))),
		"LINE_API_BASE_URL":   env("LINE_API_BASE_URL"),
		"LINE_AUTO_REPLY":     env("LINE_AUTO_REPLY"),
		"LINE_REPLY_TIMEOUT":  env("LINE_REPLY_TIMEOUT"),
		"LINE_PUSH_RETRIES":   env("LINE_PUSH_RETRIES"),

		"WEBHOOK_INGEST_TIMEOUT":    env("WEBHOOK_INGEST_TIMEOUT"),
		"LOGS_CAPACITY":             env("LOGS_CAPACITY"),
		"EVENTS_HEARTBEAT_INTERVAL": env("EVENTS_HEARTBEAT_INTERVAL"),

		// message retention
		"RETENTION_ENABLED":    env("RETENTION_ENABLED"),
		"RETENTION_CRON":       env("RETENTION_CRON"),
		"RETENTION_PERIOD":     env("RETENTION_PERIOD"),
		"RETENTION_BATCH_SIZE": env("RETENTION_BATCH_SIZE"),
		"RETENTION_DRY_RUN":    env("RETENTION_DRY_RUN"),

		"KAFKA_BROKERS": env("KAFKA_BROKERS"),
		"KAFKA_TOPIC":   env("KAFKA_TOPIC"),

		"SENSOR_DISABLED":      env("SENSOR_DISABLED"),
		"SENSOR_POLL_INTERVAL": env("SENSOR_POLL_INTERVAL"),
		"SENSOR_DISK_HIGH_PCT": env("SENSOR_DISK_HIGH_PCT"),

		"LOG_LEVEL": env("LOG_LEVEL"),
	}

	envUsed := false
	for _, v := range envs {
		if v != "" {
			envUsed = true
			break
		}
	}
	envCfg := &Config{}

	if v := envs["ADDR"]; v != "" {
		envCfg.Server.Address, envCfg.Server.Port = splitAddr(v)
	} else {
		envCfg.Server.Address = envs["SERVER_ADDRESS"]
		envCfg.Server.Port = int(parseInt64(envs["SERVER_PORT"], 0))
	}
	if v := envs["MAX_BODY_SIZE"]; v != "" {
		if sz, err := parseSize(v); err == nil {
			envCfg.Server.MaxBodySize = sz
		}
	}
	envCfg.Server.CORS.AllowedOrigins = parseList(envs["CORS_ORIGINS"])
	if v := envs["RATE_RPS"]; v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			envCfg.Server.RateLimit.RPS = f
		}
	}
	envCfg.Server.RateLimit.Burst = int(parseInt64(envs["RATE_BURST"], 0))
	envCfg.Server.APIKeys = parseList(envs["API_KEYS"])
	envCfg.Store.DSN = envs["STORE_DSN"]

	envCfg.Line.AccessToken = envs["LINE_ACCESS_TOKEN"]
	envCfg.Line.ChannelSecret = envs["LINE_CHANNEL_SECRET"]
	envCfg.Line.APIBaseURL = envs["LINE_API_BASE_URL"]
	envCfg.Line.AutoReplyText = envs["LINE_AUTO_REPLY"]
	envCfg.Line.ReplyTimeout = parseDurationOr(envs["LINE_REPLY_TIMEOUT"])
	if v := strings.TrimSpace(envs["LINE_PUSH_RETRIES"]); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			envCfg.Line.PushMaxRetries = &n
		}
	}

	envCfg.Webhook.IngestTimeout = parseDurationOr(envs["WEBHOOK_INGEST_TIMEOUT"])
	envCfg.Logs.Capacity = int(parseInt64(envs["LOGS_CAPACITY"], 0))
	envCfg.Events.HeartbeatInterval = parseDurationOr(envs["EVENTS_HEARTBEAT_INTERVAL"])

	envCfg.Retention.Enabled = parseBool(envs["RETENTION_ENABLED"], false)
	envCfg.Retention.Cron = envs["RETENTION_CRON"]
	envCfg.Retention.Period = parseDurationOr(envs["RETENTION_PERIOD"])
	envCfg.Retention.BatchSize = int(parseInt64(envs["RETENTION_BATCH_SIZE"], 0))
	envCfg.Retention.DryRun = parseBool(envs["RETENTION_DRY_RUN"], false)

	envCfg.Kafka.Brokers = parseList(envs["KAFKA_BROKERS"])
	envCfg.Kafka.Topic = envs["KAFKA_TOPIC"]

	envCfg.Sensor.Disabled = parseBool(envs["SENSOR_DISABLED"], false)
	envCfg.Sensor.PollInterval = parseDurationOr(envs["SENSOR_POLL_INTERVAL"])
	envCfg.Sensor.DiskHighPct = int(parseInt64(envs["SENSOR_DISK_HIGH_PCT"], 0))

	envCfg.Logging.Level = envs["LOG_LEVEL"]

	return envCfg, EnvResult{EnvUsed: envUsed}
}

// LoadEffectiveConfig layers file, then env, then explicit flags, and
// applies defaults to the result.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, envCfg *Config, envRes EnvResult) (EffectiveConfigResult, error) {
	if flags.Set["config"] && !fileExists {
		return EffectiveConfigResult{}, fmt.Errorf("config file %s not found", flags.Config)
	}
	out := &Config{}
	var sources []string
	if fileExists && fileCfg != nil {
		*out = *fileCfg
		sources = append(sources, "config")
	}
	if envRes.EnvUsed && envCfg != nil {
		overlay(out, envCfg)
		sources = append(sources, "env")
	}
	if flags.Set["addr"] || flags.Set["db"] {
		if flags.Set["addr"] {
			out.Server.Address, out.Server.Port = splitAddr(flags.Addr)
		}
		if flags.Set["db"] {
			out.Store.DSN = flags.DB
		}
		sources = append(sources, "flags")
	}
	out.ApplyDefaults()
	if len(sources) == 0 {
		sources = append(sources, "defaults")
	}
	return EffectiveConfigResult{
		Config: out,
		Addr:   out.Addr(),
		DSN:    out.Store.DSN,
		Source: strings.Join(sources, ","),
	}, nil
}

// overlay copies every non-zero field of src onto dst.
func overlay(dst, src *Config) {
	if src.Server.Address != "" {
		dst.Server.Address = src.Server.Address
	}
	if src.Server.Port != 0 {
		dst.Server.Port = src.Server.Port
	}
	if src.Server.MaxBodySize != 0 {
		dst.Server.MaxBodySize = src.Server.MaxBodySize
	}
	if len(src.Server.CORS.AllowedOrigins) > 0 {
		dst.Server.CORS.AllowedOrigins = src.Server.CORS.AllowedOrigins
	}
	if src.Server.RateLimit.RPS != 0 {
		dst.Server.RateLimit.RPS = src.Server.RateLimit.RPS
	}
	if src.Server.RateLimit.Burst != 0 {
		dst.Server.RateLimit.Burst = src.Server.RateLimit.Burst
	}
	if len(src.Server.APIKeys) > 0 {
		dst.Server.APIKeys = src.Server.APIKeys
	}
	if src.Store.DSN != "" {
		dst.Store.DSN = src.Store.DSN
	}
	if src.Line.AccessToken != "" {
		dst.Line.AccessToken = src.Line.AccessToken
	}
	if src.Line.ChannelSecret != "" {
		dst.Line.ChannelSecret = src.Line.ChannelSecret
	}
	if src.Line.APIBaseURL != "" {
		dst.Line.APIBaseURL = src.Line.APIBaseURL
	}
	if src.Line.AutoReplyText != "" {
		dst.Line.AutoReplyText = src.Line.AutoReplyText
	}
	if src.Line.ReplyTimeout != 0 {
		dst.Line.ReplyTimeout = src.Line.ReplyTimeout
	}
	if src.Line.PushMaxRetries != nil {
		dst.Line.PushMaxRetries = src.Line.PushMaxRetries
	}
	if src.Webhook.IngestTimeout != 0 {
		dst.Webhook.IngestTimeout = src.Webhook.IngestTimeout
	}
	if src.Logs.Capacity != 0 {
		dst.Logs.Capacity = src.Logs.Capacity
	}
	if src.Events.HeartbeatInterval != 0 {
		dst.Events.HeartbeatInterval = src.Events.HeartbeatInterval
	}
	if src.Retention.Enabled {
		dst.Retention.Enabled = true
	}
	if src.Retention.Cron != "" {
		dst.Retention.Cron = src.Retention.Cron
	}
	if src.Retention.Period != 0 {
		dst.Retention.Period = src.Retention.Period
	}
	if src.Retention.BatchSize != 0 {
		dst.Retention.BatchSize = src.Retention.BatchSize
	}
	if src.Retention.DryRun {
		dst.Retention.DryRun = true
	}
	if len(src.Kafka.Brokers) > 0 {
		dst.Kafka.Brokers = src.Kafka.Brokers
	}
	if src.Kafka.Topic != "" {
		dst.Kafka.Topic = src.Kafka.Topic
	}
	if src.Sensor.Disabled {
		dst.Sensor.Disabled = true
	}
	if src.Sensor.PollInterval != 0 {
		dst.Sensor.PollInterval = src.Sensor.PollInterval
	}
	if src.Sensor.DiskHighPct != 0 {
		dst.Sensor.DiskHighPct = src.Sensor.DiskHighPct
	}
	if src.Sensor.DiskLowPct != 0 {
		dst.Sensor.DiskLowPct = src.Sensor.DiskLowPct
	}
	if src.Sensor.MemHighPct != 0 {
		dst.Sensor.MemHighPct = src.Sensor.MemHighPct
	}
	if src.Sensor.RecoveryWindow != 0 {
		dst.Sensor.RecoveryWindow = src.Sensor.RecoveryWindow
	}
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
}

func parseList(v string) []string {
	if v == "" {
		return nil
	}
	parts := []string{}
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

func parseBool(v string, def bool) bool {
	if v == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func parseInt64(v string, def int64) int64 {
	if v == "" {
		return def
	}
	if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
		return i
	}
	return def
}

func parseDurationOr(v string) Duration {
	d, err := parseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// splitAddr accepts "host:port", ":port" or a bare host.
func splitAddr(a string) (string, int) {
	if h, p, err := net.SplitHostPort(a); err == nil {
		pi, _ := strconv.Atoi(p)
		return h, pi
	}
	return a, 0
}
