package app

import (
	"time"

	"github.com/valyala/fasthttp"
)

// startHTTP builds and starts the fasthttp server, returning a channel that delivers errors.
func (a *App) startHTTP() <-chan error {
	cfg := a.eff.Config

	const (
		readBufferSize       = 64 * 1024        // 64 KiB read buffer per connection
		concurrency          = 0                // unlimited concurrency (0 means unlimited in fasthttp)
		readTimeout          = 10 * time.Second // timeout for reading request
		idleTimeout          = 30 * time.Second // max keep-alive idle duration per connection
		maxKeepaliveDuration = 2 * time.Minute  // max duration for keep-alive connection
	)
	a.srvFast = &fasthttp.Server{
		Name:               "linedesk",
		Handler:            a.Handler(),
		ReadBufferSize:     readBufferSize,
		MaxRequestBodySize: int(cfg.Server.MaxBodySize.Int64()),
		Concurrency:        concurrency,
		ReduceMemoryUsage:  true,
		ReadTimeout:        readTimeout,
		// zero: /events streams stay open for the life of the client
		WriteTimeout:         0,
		IdleTimeout:          idleTimeout,
		MaxKeepaliveDuration: maxKeepaliveDuration,
	}

	errCh := make(chan error, 1)
	go func() {
		// plain TCP; TLS terminates at the proxy in front of the webhook
		errCh <- a.srvFast.ListenAndServe(a.eff.Addr)
	}()
	return errCh
}
