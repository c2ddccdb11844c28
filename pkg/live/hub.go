// Package live fans store changes out to operator consoles.
package live

import (
	"sync"
	"time"

	"linedesk/pkg/logger"
	"linedesk/pkg/models"
)

// Event types carried on the stream.
const (
	TypeConnected = "connected"
	TypeHeartbeat = "heartbeat"
	TypeMessage   = "message"
	TypeCustomer  = "customer"
)

const DefaultBuffer = 64

type Event struct {
	Type      string           `json:"type"`
	Timestamp string           `json:"timestamp"`
	UserID    string           `json:"userId,omitempty"`
	Message   *models.Message  `json:"message,omitempty"`
	Customer  *models.Customer `json:"customer,omitempty"`
}

// Forwarder receives every published delta after local fan-out.
type Forwarder interface {
	Forward(Event)
}

type Hub struct {
	buffer int
	now    func() time.Time

	mu         sync.RWMutex
	subs       map[uint64]chan Event
	nextID     uint64
	forwarders []Forwarder
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		buffer: buffer,
		now:    time.Now,
		subs:   make(map[uint64]chan Event),
	}
}

// AddForwarder registers f for all later deltas.
func (h *Hub) AddForwarder(f Forwarder) {
	h.mu.Lock()
	h.forwarders = append(h.forwarders, f)
	h.mu.Unlock()
}

type Subscription struct {
	C    <-chan Event
	id   uint64
	hub  *Hub
	once sync.Once
}

func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	n := len(h.subs)
	h.mu.Unlock()
	logger.Debug("live_subscribed", "id", id, "subscribers", n)
	return &Subscription{C: ch, id: id, hub: h}
}

// Close detaches the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if ch, ok := s.hub.subs[s.id]; ok {
			delete(s.hub.subs, s.id)
			close(ch)
		}
		s.hub.mu.Unlock()
		logger.Debug("live_unsubscribed", "id", s.id)
	})
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish delivers ev to every subscriber without blocking. A subscriber
// whose buffer is full misses the event.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = h.stamp()
	}
	h.mu.RLock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			logger.Warn("live_event_dropped", "subscriber", id, "type", ev.Type)
			eventsDropped.Inc()
		}
	}
	fwd := h.forwarders
	h.mu.RUnlock()
	eventsPublished.WithLabelValues(ev.Type).Inc()

	for _, f := range fwd {
		f.Forward(ev)
	}
}

func (h *Hub) PublishMessage(m models.Message) {
	h.Publish(Event{Type: TypeMessage, UserID: m.UserID, Message: &m})
}

func (h *Hub) PublishCustomer(c models.Customer) {
	h.Publish(Event{Type: TypeCustomer, UserID: c.UserID, Customer: &c})
}

func (h *Hub) stamp() string {
	return h.now().UTC().Format(time.RFC3339Nano)
}
