package api

import (
	"bufio"

	"github.com/valyala/fasthttp"

	"linedesk/pkg/logger"
)

// Events streams live updates as server-sent events.
func (h *Handlers) Events(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")

	sub := h.Hub.Subscribe()
	remote := ctx.RemoteAddr().String()
	logger.Info("event_stream_opened", "remote", remote)

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer sub.Close()
		err := h.Hub.Stream(w, sub, h.Heartbeat, h.Stop)
		logger.Info("event_stream_closed", "remote", remote, "error", err)
	})
}
