package api

import (
	"errors"

	"github.com/valyala/fasthttp"

	"linedesk/pkg/logger"
	"linedesk/pkg/router"
	"linedesk/pkg/signature"
	"linedesk/pkg/webhook"
)

// Webhook receives platform deliveries. Only unexpected failures answer 5xx
// so that the platform redelivers; integrity and format problems are 400.
func (h *Handlers) Webhook(ctx *fasthttp.RequestCtx) {
	body := append([]byte(nil), ctx.PostBody()...)
	sig := string(ctx.Request.Header.Peek(signature.Header))

	res, err := h.Ingestor.Handle(h.context(), body, sig)
	switch {
	case err == nil:
		router.WriteJSON(ctx, fasthttp.StatusOK, res)
	case errors.Is(err, webhook.ErrInvalidSignature):
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "Invalid signature")
	case errors.Is(err, webhook.ErrEmptyBody):
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "Empty body")
	case errors.Is(err, webhook.ErrMalformedBody):
		router.WriteJSON(ctx, fasthttp.StatusBadRequest, map[string]string{
			"error":   "Invalid JSON",
			"details": err.Error(),
		})
	default:
		logger.Error("webhook_failed", "error", err)
		router.WriteJSON(ctx, fasthttp.StatusInternalServerError, map[string]string{
			"error":     "Internal server error",
			"details":   err.Error(),
			"timestamp": h.timestamp(),
		})
	}
}
