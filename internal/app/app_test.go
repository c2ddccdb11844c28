package app

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"linedesk/pkg/config"
	"linedesk/pkg/signature"
)

func testConfig(t *testing.T, mutate func(*config.Config)) config.EffectiveConfigResult {
	t.Helper()
	cfg := &config.Config{}
	cfg.Store.DSN = "memory://"
	cfg.Line.ChannelSecret = "secret"
	cfg.Line.AccessToken = "+token"
	cfg.Line.APIBaseURL = "http://127.0.0.1:1"
	cfg.Server.APIKeys = []string{"console-key"}
	if mutate != nil {
		mutate(cfg)
	}
	cfg.ApplyDefaults()
	return config.EffectiveConfigResult{Config: cfg, Addr: cfg.Addr(), DSN: cfg.Store.DSN, Source: "test"}
}

func do(h fasthttp.RequestHandler, method, path string, body []byte, headers map[string]string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(path)
	req.SetBody(body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, &net.TCPAddr{IP: net.ParseIP("10.1.1.1"), Port: 4000}, nil)
	h(ctx)
	return ctx
}

func TestNewWiresServices(t *testing.T) {
	a, err := New(context.Background(), testConfig(t, nil), "test", "none", "unknown")
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Shutdown(context.Background())) }()

	h := a.Handler()

	ctx := do(h, "GET", "/customers", nil, nil)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())

	ctx = do(h, "GET", "/customers", nil, map[string]string{"X-API-Key": "console-key"})
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"customers":[]}`, string(ctx.Response.Body()))

	body := []byte(`{"events":[{"type":"message","timestamp":1,"source":{"type":"user","userId":"U9"},"message":{"id":"m1","type":"text","text":"hi"}}]}`)
	ctx = do(h, "POST", "/webhook", body, map[string]string{signature.Header: signature.Sign("secret", body)})
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	ctx = do(h, "GET", "/messages/U9", nil, map[string]string{"Authorization": "Bearer console-key"})
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), `"message":"hi"`)

	ctx = do(h, "GET", "/health", nil, nil)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	eff := testConfig(t, func(c *config.Config) {
		c.Retention.Enabled = true
		c.Retention.Cron = "every day"
	})
	_, err := New(context.Background(), eff, "test", "none", "unknown")
	assert.Error(t, err)

	eff = testConfig(t, func(c *config.Config) { c.Store.DSN = "mongo://x" })
	_, err = New(context.Background(), eff, "test", "none", "unknown")
	assert.Error(t, err)
}

func TestShutdownEndsStreams(t *testing.T) {
	a, err := New(context.Background(), testConfig(t, nil), "test", "none", "unknown")
	require.NoError(t, err)
	require.NoError(t, a.Shutdown(context.Background()))
	select {
	case <-a.stop:
	default:
		t.Fatalf("stop channel should be closed after shutdown")
	}
	assert.Equal(t, "stopped", a.state)
}
