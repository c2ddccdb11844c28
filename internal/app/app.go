package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/valyala/fasthttp"

	"linedesk/internal/retention"
	"linedesk/pkg/api"
	"linedesk/pkg/api/auth"
	"linedesk/pkg/config"
	"linedesk/pkg/kv"
	"linedesk/pkg/line"
	"linedesk/pkg/live"
	"linedesk/pkg/logger"
	"linedesk/pkg/logsink"
	"linedesk/pkg/sensor"
	"linedesk/pkg/store"
	"linedesk/pkg/webhook"
)

// App groups server state and components.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	kv        kv.Store
	sink      *logsink.Sink
	hub       *live.Hub
	store     *store.Store
	line      *line.Client
	ingestor  *webhook.Ingestor
	kafka     *live.KafkaForwarder
	retention *retention.Manager
	handlers  *api.Handlers
	gateway   *auth.Gateway
	sensor    *sensor.Sensor

	retentionCancel context.CancelFunc
	srvFast         *fasthttp.Server
	stop            chan struct{}
	stopOnce        sync.Once
	state           string
}

// New opens the backend and builds every service. It does not start the
// HTTP server or the retention schedule; Run does that.
func New(ctx context.Context, eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	if err := config.ValidateConfig(eff); err != nil {
		return nil, err
	}
	cfg := eff.Config

	backend, err := kv.Open(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", kv.Kind(cfg.Store.DSN), err)
	}

	sink, err := logsink.Open(ctx, backend, cfg.Logs.Capacity)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		kv:        backend,
		sink:      sink,
		hub:       live.NewHub(cfg.Events.SubscriberBuffer),
		stop:      make(chan struct{}),
		state:     "initialized",
	}

	if len(cfg.Kafka.Brokers) > 0 {
		fwd, err := live.NewKafkaForwarder(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("connect kafka: %w", err)
		}
		a.kafka = fwd
		a.hub.AddForwarder(fwd)
	}

	a.store = store.New(backend, store.WithPublisher(a.hub))
	a.line = line.New(line.Options{
		BaseURL:     cfg.Line.APIBaseURL,
		AccessToken: cfg.Line.AccessToken,
		HTTPClient:  &http.Client{Timeout: cfg.Line.RequestTimeout.Duration()},
		MaxRetries:  cfg.Line.PushRetries(),
		Recorder:    sink,
	})
	a.ingestor = webhook.New(webhook.Options{
		ChannelSecret: cfg.Line.ChannelSecret,
		AutoReplyText: cfg.Line.AutoReplyText,
		IngestTimeout: cfg.Webhook.IngestTimeout.Duration(),
		ReplyTimeout:  cfg.Line.ReplyTimeout.Duration(),
	}, a.store, a.line, sink)
	a.retention = retention.NewManager(cfg.Retention, a.store)

	a.handlers = &api.Handlers{
		Store:    a.store,
		Line:     a.line,
		Sink:     sink,
		Hub:      a.hub,
		Ingestor: a.ingestor,
		Credentials: api.Credentials{
			AccessToken:   cfg.Line.AccessToken,
			ChannelSecret: cfg.Line.ChannelSecret,
		},
		Heartbeat: cfg.Events.HeartbeatInterval.Duration(),
		Stop:      a.stop,
	}
	a.gateway = auth.NewGateway(auth.SecConfig{
		AllowedOrigins: append([]string{}, cfg.Server.CORS.AllowedOrigins...),
		APIKeys:        append([]string{}, cfg.Server.APIKeys...),
		RPS:            cfg.Server.RateLimit.RPS,
		Burst:          cfg.Server.RateLimit.Burst,
	})

	if !cfg.Sensor.Disabled {
		a.sensor = sensor.NewSensor(sensor.MonitorConfig{
			Path:           kv.LocalPath(cfg.Store.DSN),
			PollInterval:   cfg.Sensor.PollInterval.Duration(),
			DiskHighPct:    cfg.Sensor.DiskHighPct,
			DiskLowPct:     cfg.Sensor.DiskLowPct,
			MemHighPct:     cfg.Sensor.MemHighPct,
			RecoveryWindow: cfg.Sensor.RecoveryWindow.Duration(),
		}, sink)
	}

	if !cfg.LineConfigured() {
		sink.Warn(ctx, "LINE credentials incomplete", map[string]bool{
			"hasAccessToken": cfg.Line.AccessToken != "",
			"hasSecret":      cfg.Line.ChannelSecret != "",
		})
	}
	return a, nil
}

// Handler returns the gateway-wrapped router. Run serves it; tests can
// drive it directly.
func (a *App) Handler() fasthttp.RequestHandler {
	return a.gateway.Wrap(a.handlers.Handler())
}

// Run starts retention and the HTTP server, and blocks until ctx is
// cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.printSummary()

	cancel, err := a.retention.Start(ctx)
	if err != nil {
		return err
	}
	a.retentionCancel = cancel
	if a.sensor != nil {
		a.sensor.Start()
	}

	a.sink.Info(ctx, "Server started", map[string]string{"addr": a.eff.Addr, "store": kv.Kind(a.eff.DSN)})
	a.state = "running"
	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// printSummary prints the startup block with build info and limits.
func (a *App) printSummary() {
	cfg := a.eff.Config
	ver := a.version
	if a.commit != "" && a.commit != "none" {
		ver += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		ver += " @ " + a.buildDate
	}
	retentionLine := "disabled"
	if cfg.Retention.Enabled {
		retentionLine = fmt.Sprintf("%q keep %s", cfg.Retention.Cron, cfg.Retention.Period.Duration())
	}
	kafkaLine := "disabled"
	if a.kafka != nil {
		kafkaLine = fmt.Sprintf("%d broker(s) topic %s", len(cfg.Kafka.Brokers), cfg.Kafka.Topic)
	}
	logger.LogConfigSummary("linedesk_startup", []string{
		"version: " + ver,
		"listen: " + a.eff.Addr,
		"config_source: " + a.eff.Source,
		"store: " + kv.Kind(a.eff.DSN),
		fmt.Sprintf("line_configured: %t", cfg.LineConfigured()),
		"max_body_size: " + humanize.IBytes(uint64(cfg.Server.MaxBodySize.Int64())),
		"log_ring: " + humanize.Comma(int64(a.sink.Capacity())) + " entries",
		"heartbeat: " + cfg.Events.HeartbeatInterval.Duration().String(),
		"retention: " + retentionLine,
		"kafka: " + kafkaLine,
	})
}

// closeStreams ends open event streams once.
func (a *App) closeStreams() {
	a.stopOnce.Do(func() { close(a.stop) })
}
