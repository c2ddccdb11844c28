// Package api serves the webhook and the operator console endpoints.
package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"linedesk/pkg/router"
)

// wrapHTTPHandler wraps an http.Handler to work with fasthttp.
func wrapHTTPHandler(h http.Handler) fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(h)
}

// RegisterRoutes wires all endpoints onto r.
func (h *Handlers) RegisterRoutes(r *router.Router) {
	// platform ingress
	r.POST("/webhook", h.instrument("webhook", h.Webhook))
	r.POST("/webhook/line", h.instrument("webhook", h.Webhook))

	// operator console
	r.POST("/send-message", h.instrument("send_message", h.SendMessage))
	r.GET("/messages/{userId}", h.instrument("messages", h.ListMessages))
	r.GET("/customers", h.instrument("customers", h.ListCustomers))
	r.PUT("/customer/{userId}/status", h.instrument("customer_status", h.UpdateStatus))
	r.PUT("/customer/{userId}", h.instrument("customer_update", h.UpdateCustomer))
	r.GET("/events", h.recoverPanics("events", h.Events))

	// diagnostics
	r.GET("/health", h.instrument("health", h.Health))
	r.GET("/logs", h.instrument("logs", h.Logs))
	r.GET("/test", h.instrument("test", h.Test))
	r.POST("/test-line", h.instrument("test_line", h.TestLine))
	r.GET("/healthz", h.recoverPanics("healthz", h.Healthz))
	r.GET("/readyz", h.recoverPanics("readyz", h.Readyz))
	r.GET("/metrics", wrapHTTPHandler(promhttp.Handler()))
}

// Handler returns a router with every endpoint registered.
func (h *Handlers) Handler() fasthttp.RequestHandler {
	r := router.New()
	h.RegisterRoutes(r)
	return r.Handler
}
