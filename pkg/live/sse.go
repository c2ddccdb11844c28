package live

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"linedesk/pkg/logger"
)

const DefaultHeartbeat = 30 * time.Second

// Stream writes the connected frame, then deltas and heartbeats, until the
// client goes away or stop closes. The heartbeat ticker never outlives the
// call.
func (h *Hub) Stream(w *bufio.Writer, sub *Subscription, heartbeat time.Duration, stop <-chan struct{}) error {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	streamsOpen.Inc()
	defer streamsOpen.Dec()

	if err := writeFrame(w, Event{Type: TypeConnected, Timestamp: h.stamp()}); err != nil {
		return err
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := writeFrame(w, ev); err != nil {
				logger.Debug("live_stream_closed", "id", sub.id, "error", err)
				return err
			}
		case <-ticker.C:
			if err := writeFrame(w, Event{Type: TypeHeartbeat, Timestamp: h.stamp()}); err != nil {
				logger.Debug("live_stream_closed", "id", sub.id, "error", err)
				return err
			}
		}
	}
}

func writeFrame(w *bufio.Writer, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", raw); err != nil {
		return err
	}
	return w.Flush()
}
