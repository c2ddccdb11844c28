package api

import (
	"fmt"
	"runtime/debug"

	"github.com/valyala/fasthttp"

	"linedesk/pkg/logger"
	"linedesk/pkg/router"
)

// recoverPanics turns a handler panic into a 500 response. The stack goes
// to the process log and the panic value to the log sink.
func (h *Handlers) recoverPanics(route string, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			panicsTotal.WithLabelValues(route).Inc()
			details := fmt.Sprint(rec)
			logger.Error("handler_panic", "route", route, "path", string(ctx.Path()), "panic", details, "stack", string(debug.Stack()))
			if h.Sink != nil {
				h.Sink.Error(h.context(), "Request handler panicked", map[string]any{"route": route, "error": details})
			}
			ctx.Response.Reset()
			router.WriteJSON(ctx, fasthttp.StatusInternalServerError, map[string]string{
				"error":     "Internal server error",
				"details":   details,
				"timestamp": h.timestamp(),
			})
		}()
		next(ctx)
	}
}
