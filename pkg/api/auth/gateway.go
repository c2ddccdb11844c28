// Package auth is the request gateway in front of the operator API: CORS,
// preflight, optional API keys and per-client rate limiting.
package auth

import (
	"crypto/subtle"
	"net"
	"strings"

	"github.com/valyala/fasthttp"

	"linedesk/pkg/logger"
	"linedesk/pkg/router"
)

type SecConfig struct {
	AllowedOrigins []string
	APIKeys        []string
	RPS            float64
	Burst          int
}

type Gateway struct {
	cfg      SecConfig
	limiters *limiterPool
}

func NewGateway(cfg SecConfig) *Gateway {
	g := &Gateway{cfg: cfg}
	if cfg.RPS > 0 {
		g.limiters = &limiterPool{rps: cfg.RPS, burst: cfg.Burst}
	}
	return g
}

// Close stops the limiter cleanup goroutine.
func (g *Gateway) Close() {
	if g.limiters != nil {
		g.limiters.Shutdown()
	}
}

func (g *Gateway) Wrap(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		logger.LogRequestFast(ctx)

		// cors headers and handle options shortcut
		g.setCORS(ctx)
		if string(ctx.Method()) == fasthttp.MethodOptions {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}

		// the platform authenticates with its signature; probes are open
		if publicPath(ctx) {
			next(ctx)
			return
		}

		if len(g.cfg.APIKeys) > 0 && !g.validKey(extractAPIKey(ctx)) {
			router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "unauthorized")
			logger.Warn("request_unauthorized", "path", string(ctx.Path()), "remote", clientIPFast(ctx))
			return
		}

		if g.limiters != nil && !g.limiters.Allow(clientIPFast(ctx)) {
			router.WriteJSONError(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded")
			logger.Warn("rate_limited", "path", string(ctx.Path()), "remote", clientIPFast(ctx))
			return
		}

		next(ctx)
	}
}

func (g *Gateway) setCORS(ctx *fasthttp.RequestCtx) {
	origin := string(ctx.Request.Header.Peek("Origin"))
	switch {
	case wildcard(g.cfg.AllowedOrigins):
		ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
	case origin != "" && originAllowed(origin, g.cfg.AllowedOrigins):
		ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
		ctx.Response.Header.Set("Vary", "Origin")
	default:
		return
	}
	ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
	ctx.Response.Header.Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-API-Key,X-Line-Signature")
	ctx.Response.Header.Set("Access-Control-Max-Age", "600")
}

func (g *Gateway) validKey(key string) bool {
	if key == "" {
		return false
	}
	for _, k := range g.cfg.APIKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// extractAPIKey reads Authorization: Bearer, then X-API-Key, then the
// access_token query parameter (browsers cannot set headers on EventSource).
func extractAPIKey(ctx *fasthttp.RequestCtx) string {
	if auth := string(ctx.Request.Header.Peek("Authorization")); auth != "" {
		if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
			return strings.TrimSpace(auth[7:])
		}
	}
	if key := string(ctx.Request.Header.Peek("X-API-Key")); key != "" {
		return strings.TrimSpace(key)
	}
	return string(ctx.QueryArgs().Peek("access_token"))
}

func clientIPFast(ctx *fasthttp.RequestCtx) string {
	host := ctx.RemoteAddr().String()
	h, _, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	return h
}

func wildcard(allowed []string) bool {
	for _, a := range allowed {
		if a == "*" {
			return true
		}
	}
	return false
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func publicPath(ctx *fasthttp.RequestCtx) bool {
	path := strings.TrimRight(string(ctx.Path()), "/")
	method := string(ctx.Method())
	switch path {
	case "/webhook", "/webhook/line":
		return method == fasthttp.MethodPost
	case "/health", "/healthz", "/readyz":
		return method == fasthttp.MethodGet
	}
	return false
}
