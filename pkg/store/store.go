// Package store persists messages and customer cases on top of a kv.Store.
package store

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"linedesk/pkg/kv"
	"linedesk/pkg/models"
)

var (
	ErrCustomerNotFound = errors.New("customer not found")
	ErrVersionConflict  = errors.New("customer version conflict")
	ErrInvalidMessage   = errors.New("message requires userId and text")
)

const (
	messagePrefix      = "message:"
	userMessagesPrefix = "user_messages:"
	customerPrefix     = "customer:"
)

func messageKey(id string) string          { return messagePrefix + id }
func userMessagesKey(userID string) string { return userMessagesPrefix + userID }
func customerKey(userID string) string     { return customerPrefix + userID }

// Publisher receives every message write and customer change.
type Publisher interface {
	PublishMessage(models.Message)
	PublishCustomer(models.Customer)
}

type Option func(*Store)

func WithPublisher(p Publisher) Option {
	return func(s *Store) { s.pub = p }
}

// WithClock overrides the time source used for ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	kv    kv.Store
	locks *userLocks
	pub   Publisher
	now   func() time.Time

	idMu     sync.Mutex
	entropy  io.Reader
	lastTime time.Time
}

func New(backend kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:      backend,
		locks:   newUserLocks(),
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// KV exposes the backend for health checks and the log sink.
func (s *Store) KV() kv.Store { return s.kv }

func (s *Store) Ping(ctx context.Context) error { return s.kv.Ping(ctx) }

// nextID returns a ulid and its timestamp. Both are strictly ordered by call
// order even when the clock steps backwards.
func (s *Store) nextID() (string, time.Time, error) {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	t := s.now().UTC()
	if t.Before(s.lastTime) {
		t = s.lastTime
	}
	s.lastTime = t
	id, err := ulid.New(ulid.Timestamp(t), s.entropy)
	if err != nil {
		return "", time.Time{}, err
	}
	return id.String(), t, nil
}

func (s *Store) publishMessage(m models.Message) {
	if s.pub != nil {
		s.pub.PublishMessage(m)
	}
}

func (s *Store) publishCustomer(c models.Customer) {
	if s.pub != nil {
		s.pub.PublishCustomer(c)
	}
}

// userLocks serialises read-modify-write cycles per userId.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*sync.Mutex)}
}

// returns mutex for given user (creates if needed)
func (l *userLocks) get(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.locks[userID]; ok {
		return m
	}
	m := &sync.Mutex{}
	l.locks[userID] = m
	return m
}
