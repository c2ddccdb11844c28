package live

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"linedesk/pkg/models"
)

func TestPublishReachesSubscribers(t *testing.T) {
	h := NewHub(4)
	a := h.Subscribe()
	b := h.Subscribe()
	defer a.Close()

	h.PublishMessage(models.Message{ID: "1", UserID: "U1", Message: "hello"})

	for _, sub := range []*Subscription{a, b} {
		select {
		case ev := <-sub.C:
			if ev.Type != TypeMessage || ev.UserID != "U1" || ev.Message.Message != "hello" || ev.Timestamp == "" {
				t.Fatalf("unexpected event %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("event not delivered")
		}
	}

	b.Close()
	b.Close()
	if h.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber after close, got %d", h.Subscribers())
	}
	if _, ok := <-b.C; ok {
		t.Fatalf("closed subscription channel should be closed")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(1)
	sub := h.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.PublishCustomer(models.Customer{UserID: "U1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
	if len(sub.C) != 1 {
		t.Fatalf("expected one buffered event, got %d", len(sub.C))
	}
}

type forwardRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (f *forwardRecorder) Forward(ev Event) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func TestForwardersSeeDeltas(t *testing.T) {
	h := NewHub(1)
	rec := &forwardRecorder{}
	h.AddForwarder(rec)
	h.PublishCustomer(models.Customer{UserID: "U7"})
	if len(rec.events) != 1 || rec.events[0].Customer.UserID != "U7" {
		t.Fatalf("unexpected forwarded events %+v", rec.events)
	}
}

func parseFrames(t *testing.T, raw string) []Event {
	t.Helper()
	var out []Event
	for _, chunk := range strings.Split(raw, "\n\n") {
		if chunk == "" {
			continue
		}
		if !strings.HasPrefix(chunk, "data: ") {
			t.Fatalf("bad frame %q", chunk)
		}
		var ev Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(chunk, "data: ")), &ev); err != nil {
			t.Fatalf("frame not json: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func TestStreamConnectedHeartbeatAndDeltas(t *testing.T) {
	h := NewHub(8)
	sub := h.Subscribe()
	defer sub.Close()

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	stop := make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- h.Stream(w, sub, 20*time.Millisecond, stop) }()

	h.PublishMessage(models.Message{ID: "1", UserID: "U1", Message: "hi"})
	time.Sleep(70 * time.Millisecond)
	close(stop)
	if err := <-errCh; err != nil {
		t.Fatalf("Stream: %v", err)
	}

	frames := parseFrames(t, buf.String())
	if len(frames) < 3 {
		t.Fatalf("expected connected, message and heartbeats, got %+v", frames)
	}
	if frames[0].Type != TypeConnected {
		t.Fatalf("first frame should be connected, got %s", frames[0].Type)
	}
	var sawMessage, sawHeartbeat bool
	for _, f := range frames[1:] {
		switch f.Type {
		case TypeMessage:
			sawMessage = true
		case TypeHeartbeat:
			sawHeartbeat = true
			if _, err := time.Parse(time.RFC3339Nano, f.Timestamp); err != nil {
				t.Fatalf("heartbeat timestamp: %v", err)
			}
		}
	}
	if !sawMessage || !sawHeartbeat {
		t.Fatalf("missing frames: message=%v heartbeat=%v", sawMessage, sawHeartbeat)
	}
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestStreamStopsOnDisconnect(t *testing.T) {
	h := NewHub(1)
	sub := h.Subscribe()
	defer sub.Close()

	done := make(chan error, 1)
	go func() { done <- h.Stream(bufio.NewWriter(brokenWriter{}), sub, time.Millisecond, nil) }()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected write error")
		}
	case <-time.After(time.Second):
		t.Fatalf("stream did not stop after the client went away")
	}
}
