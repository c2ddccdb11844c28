package app

import (
	"context"

	"linedesk/pkg/logger"
)

// Shutdown stops components in dependency order: stop accepting requests,
// end event streams, stop retention, drain pending auto-replies, then close
// kafka and the backend.
func (a *App) Shutdown(ctx context.Context) error {
	a.state = "shutting_down"
	logger.Info("shutdown_requested")

	// streams must end first or fasthttp waits on them forever
	a.closeStreams()
	if a.srvFast != nil {
		if err := a.srvFast.Shutdown(); err != nil {
			logger.Error("shutdown_http_error", "error", err)
		}
	}

	if a.retentionCancel != nil {
		logger.Info("shutdown_stopping_retention")
		a.retentionCancel()
	}

	if a.sensor != nil {
		a.sensor.Stop()
	}

	var firstErr error
	if a.ingestor != nil {
		if err := a.ingestor.Close(ctx); err != nil {
			logger.Error("shutdown_pending_replies_abandoned", "error", err)
			firstErr = err
		}
	}
	if a.gateway != nil {
		a.gateway.Close()
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			logger.Error("shutdown_kafka_close_error", "error", err)
		}
	}
	if a.kv != nil {
		logger.Info("shutdown_closing_store")
		if err := a.kv.Close(); err != nil {
			logger.Error("shutdown_store_close_error", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr == nil {
		a.state = "stopped"
		logger.Info("shutdown_complete")
	}
	return firstErr
}
