package api

import (
	"runtime"
	"strconv"

	"github.com/valyala/fasthttp"

	"linedesk/pkg/logger"
	"linedesk/pkg/router"
)

const maxLogEntries = 100

func (h *Handlers) ListMessages(ctx *fasthttp.RequestCtx) {
	userID := router.Param(ctx, "userId")
	msgs, err := h.Store.ListMessages(h.context(), userID)
	if err != nil {
		logger.Error("list_messages_failed", "user_id", userID, "error", err)
		router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, "Failed to get messages")
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]any{"messages": msgs})
}

func (h *Handlers) ListCustomers(ctx *fasthttp.RequestCtx) {
	customers, err := h.Store.ListCustomers(h.context())
	if err != nil {
		logger.Error("list_customers_failed", "error", err)
		router.WriteJSON(ctx, fasthttp.StatusInternalServerError, map[string]any{
			"error":     "Failed to get customers",
			"details":   err.Error(),
			"customers": []any{},
		})
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]any{"customers": customers})
}

func (h *Handlers) Health(ctx *fasthttp.RequestCtx) {
	h.Sink.Info(h.context(), "Health check requested", nil)
	tok, sec := h.Credentials.AccessToken, h.Credentials.ChannelSecret
	router.WriteJSON(ctx, fasthttp.StatusOK, healthResponse{
		Status:         "healthy",
		Timestamp:      h.timestamp(),
		LineConfigured: tok != "" && sec != "",
		Environment: healthEnvironment{
			HasAccessToken:    tok != "",
			HasSecret:         sec != "",
			AccessTokenLength: len(tok),
			SecretLength:      len(sec),
		},
		Server: healthServer{
			Platform: runtime.GOOS,
			Version:  runtime.Version(),
		},
	})
}

// Logs returns the newest diagnostic entries first. ?limit= narrows the
// window below the default of 100.
func (h *Handlers) Logs(ctx *fasthttp.RequestCtx) {
	limit := maxLogEntries
	if raw := string(ctx.QueryArgs().Peek("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n < limit {
			limit = n
		}
	}
	logs := h.Sink.Recent(limit)
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]any{
		"logs":      logs,
		"total":     len(logs),
		"timestamp": h.timestamp(),
	})
}

// Test is a liveness echo for console setup screens.
func (h *Handlers) Test(ctx *fasthttp.RequestCtx) {
	h.Sink.Info(h.context(), "Test endpoint called", nil)
	echo := string(ctx.QueryArgs().Peek("message"))
	if echo == "" {
		echo = "No message provided"
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{
		"message":   "Server is working!",
		"timestamp": h.timestamp(),
		"echo":      echo,
	})
}

func (h *Handlers) Healthz(ctx *fasthttp.RequestCtx) {
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) Readyz(ctx *fasthttp.RequestCtx) {
	if err := h.Store.Ping(h.context()); err != nil {
		logger.Warn("readyz_store_unavailable", "error", err)
		router.WriteJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ready"})
}
