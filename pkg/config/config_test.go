package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func withEnv(t *testing.T, vals map[string]string) {
	t.Helper()
	prev := envLookup
	envLookup = func(k string) string { return vals[k] }
	t.Cleanup(func() { envLookup = prev })
}

func TestConfigs_Suite(t *testing.T) {
	t.Run("LoadAndResolve", func(t *testing.T) {
		dir := t.TempDir()
		p := filepath.Join(dir, "cfg.yaml")
		content := []byte("server:\n  address: 127.0.0.1\n  port: 9090\n  max_body_size: 2MiB\nline:\n  reply_timeout: 3s\nlogging:\n  level: debug\n")
		if err := os.WriteFile(p, content, 0o600); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}
		c, err := LoadConfigFile(p)
		if err != nil {
			t.Fatalf("LoadConfigFile failed: %v", err)
		}
		if c.Server.Port != 9090 {
			t.Fatalf("expected port 9090 got %d", c.Server.Port)
		}
		if c.Server.MaxBodySize.Int64() != 2*1024*1024 {
			t.Fatalf("expected 2MiB body size got %d", c.Server.MaxBodySize.Int64())
		}
		if c.Line.ReplyTimeout.Duration() != 3*time.Second {
			t.Fatalf("expected 3s reply timeout got %s", c.Line.ReplyTimeout.Duration())
		}

		t.Setenv("LINEDESK_CONFIG", p)
		if got := ResolveConfigPath("/nope", false); got != p {
			t.Fatalf("ResolveConfigPath expected %q got %q", p, got)
		}
		if got := ResolveConfigPath("/explicit", true); got != "/explicit" {
			t.Fatalf("flag path should win, got %q", got)
		}
	})

	t.Run("MalformedFile", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "bad.yaml")
		_ = os.WriteFile(p, []byte("server: [::"), 0o600)
		if _, err := LoadConfigFile(p); err == nil {
			t.Fatalf("expected parse error for malformed config")
		}
	})

	t.Run("MissingFileIsNotAnError", func(t *testing.T) {
		flags := Flags{Config: filepath.Join(t.TempDir(), "absent.yaml"), Set: map[string]bool{}}
		cfg, found, err := ParseConfigFile(flags)
		if err != nil || found || cfg == nil {
			t.Fatalf("expected empty config without error, got cfg=%v found=%v err=%v", cfg, found, err)
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		eff, err := LoadEffectiveConfig(Flags{Set: map[string]bool{}}, nil, false, &Config{}, EnvResult{})
		if err != nil {
			t.Fatalf("LoadEffectiveConfig: %v", err)
		}
		c := eff.Config
		if c.Logs.Capacity != 100 {
			t.Fatalf("expected log capacity 100 got %d", c.Logs.Capacity)
		}
		if c.Events.HeartbeatInterval.Duration() != 30*time.Second {
			t.Fatalf("expected 30s heartbeat got %s", c.Events.HeartbeatInterval.Duration())
		}
		if c.Line.AutoReplyText != DefaultAutoReplyText {
			t.Fatalf("unexpected auto reply default %q", c.Line.AutoReplyText)
		}
		if c.Line.PushRetries() != 2 {
			t.Fatalf("expected 2 push retries by default got %d", c.Line.PushRetries())
		}
		if eff.Source != "defaults" {
			t.Fatalf("expected defaults source got %q", eff.Source)
		}
		if err := ValidateConfig(eff); err != nil {
			t.Fatalf("defaults should validate: %v", err)
		}
	})

	t.Run("EnvOverlaysFileAndFlagsWin", func(t *testing.T) {
		withEnv(t, map[string]string{
			"LINE_CHANNEL_ACCESS_TOKEN": "tok",
			"LINEDESK_SERVER_PORT":      "7070",
			"LINEDESK_STORE_DSN":        "memory://",
			"LINEDESK_RETENTION_PERIOD": "48h",
		})
		fileCfg := &Config{}
		fileCfg.Server.Port = 9090
		fileCfg.Line.ChannelSecret = "from-file"
		envCfg, envRes := ParseConfigEnvs()
		if !envRes.EnvUsed {
			t.Fatalf("expected env to be used")
		}

		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		flags := parseConfigFlagSet(fs, []string{"--addr", "127.0.0.1:6060"})

		eff, err := LoadEffectiveConfig(flags, fileCfg, true, envCfg, envRes)
		if err != nil {
			t.Fatalf("LoadEffectiveConfig: %v", err)
		}
		if eff.Addr != "127.0.0.1:6060" {
			t.Fatalf("flag addr should win, got %s", eff.Addr)
		}
		if eff.DSN != "memory://" {
			t.Fatalf("env dsn should apply, got %s", eff.DSN)
		}
		if eff.Config.Line.AccessToken != "tok" || eff.Config.Line.ChannelSecret != "from-file" {
			t.Fatalf("credentials not layered: %+v", eff.Config.Line)
		}
		if !eff.Config.LineConfigured() {
			t.Fatalf("expected line to be configured")
		}
		if eff.Config.Retention.Period.Duration() != 48*time.Hour {
			t.Fatalf("expected 48h retention period got %s", eff.Config.Retention.Period.Duration())
		}
		if eff.Source != "config,env,flags" {
			t.Fatalf("unexpected source %q", eff.Source)
		}
	})

	t.Run("ZeroPushRetriesDisablesRetry", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "cfg.yaml")
		if err := os.WriteFile(p, []byte("line:\n  push_max_retries: 0\n"), 0o600); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}
		fileCfg, err := LoadConfigFile(p)
		if err != nil {
			t.Fatalf("LoadConfigFile failed: %v", err)
		}
		eff, err := LoadEffectiveConfig(Flags{Set: map[string]bool{}}, fileCfg, true, &Config{}, EnvResult{})
		if err != nil {
			t.Fatalf("LoadEffectiveConfig: %v", err)
		}
		if got := eff.Config.Line.PushRetries(); got != 0 {
			t.Fatalf("push_max_retries: 0 should disable retries, got %d", got)
		}

		withEnv(t, map[string]string{"LINEDESK_LINE_PUSH_RETRIES": "0"})
		envCfg, envRes := ParseConfigEnvs()
		fileCfg.Line.PushMaxRetries = nil
		eff, err = LoadEffectiveConfig(Flags{Set: map[string]bool{}}, fileCfg, true, envCfg, envRes)
		if err != nil {
			t.Fatalf("LoadEffectiveConfig: %v", err)
		}
		if got := eff.Config.Line.PushRetries(); got != 0 {
			t.Fatalf("LINE_PUSH_RETRIES=0 should disable retries, got %d", got)
		}
	})

	t.Run("ExplicitConfigMustExist", func(t *testing.T) {
		flags := Flags{Config: "/missing.yaml", Set: map[string]bool{"config": true}}
		if _, err := LoadEffectiveConfig(flags, &Config{}, false, &Config{}, EnvResult{}); err == nil {
			t.Fatalf("expected error for missing explicit config")
		}
	})
}

func TestValidateConfig(t *testing.T) {
	base := func() *Config {
		c := &Config{}
		c.ApplyDefaults()
		return c
	}
	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "ok", mutate: func(c *Config) {}},
		{name: "bad scheme", mutate: func(c *Config) { c.Store.DSN = "mongo://x" }, wantErr: true},
		{name: "redis ok", mutate: func(c *Config) { c.Store.DSN = "redis://localhost:6379/0" }},
		{name: "bad cron", mutate: func(c *Config) { c.Retention.Enabled = true; c.Retention.Cron = "not a cron" }, wantErr: true},
		{name: "cron ignored when disabled", mutate: func(c *Config) { c.Retention.Cron = "not a cron" }},
		{name: "tiny body", mutate: func(c *Config) { c.Server.MaxBodySize = 10 }, wantErr: true},
		{name: "sensor thresholds inverted", mutate: func(c *Config) { c.Sensor.DiskLowPct = 95; c.Sensor.DiskHighPct = 90 }, wantErr: true},
		{name: "kafka without topic", mutate: func(c *Config) { c.Kafka.Brokers = []string{"b:9092"}; c.Kafka.Topic = "" }, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(c)
			err := ValidateConfig(EffectiveConfigResult{Config: c})
			if (err != nil) != tc.wantErr {
				t.Fatalf("wantErr=%v got %v", tc.wantErr, err)
			}
		})
	}
}
