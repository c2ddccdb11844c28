// Package logsink keeps a bounded ring of diagnostic entries in the KV store
// so the /logs endpoint survives restarts.
package logsink

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"linedesk/pkg/kv"
	"linedesk/pkg/logger"
	"linedesk/pkg/models"
)

const (
	keyPrefix       = "log:"
	DefaultCapacity = 100
)

// Sink is a fixed-capacity ring. Entry n lives at slot n % capacity, so the
// number of persisted entries never exceeds the capacity.
type Sink struct {
	kv       kv.Store
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	nextSeq uint64
	entries []models.LogEntry // indexed by slot
}

// Open loads any persisted ring from store, keeping the newest capacity
// entries. Unreadable entries are dropped.
func Open(ctx context.Context, store kv.Store, capacity int) (*Sink, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Sink{
		kv:       store,
		capacity: capacity,
		now:      time.Now,
		entries:  make([]models.LogEntry, capacity),
	}
	rows, err := store.ScanPrefix(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("logsink: load ring: %w", err)
	}
	loaded := make([]models.LogEntry, 0, len(rows))
	for _, row := range rows {
		var e models.LogEntry
		if err := json.Unmarshal(row.Value, &e); err != nil {
			logger.Warn("log_entry_unreadable", "key", row.Key, "error", err)
			continue
		}
		loaded = append(loaded, e)
	}
	// keep the newest capacity entries, renumbered 0..n-1 so that every slot
	// below nextSeq holds an entry whatever the previous capacity was
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].Seq < loaded[j].Seq })
	if len(loaded) > capacity {
		loaded = loaded[len(loaded)-capacity:]
	}
	for i := range loaded {
		loaded[i].Seq = uint64(i)
		s.entries[i] = loaded[i]
	}
	s.nextSeq = uint64(len(loaded))
	for _, row := range rows {
		slot, ok := parseSlot(row.Key)
		if ok && slot < len(loaded) {
			continue
		}
		_ = store.Delete(ctx, row.Key)
	}
	if len(loaded) > 0 {
		if err := s.rewrite(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Sink) Info(ctx context.Context, msg string, details any) {
	s.Append(ctx, models.LevelInfo, msg, details)
}

func (s *Sink) Warn(ctx context.Context, msg string, details any) {
	s.Append(ctx, models.LevelWarning, msg, details)
}

func (s *Sink) Error(ctx context.Context, msg string, details any) {
	s.Append(ctx, models.LevelError, msg, details)
}

// Append records an entry. Persistence failures are reported to the process
// logger only; the in-memory ring is always updated.
func (s *Sink) Append(ctx context.Context, level, msg string, details any) models.LogEntry {
	e := models.LogEntry{
		Timestamp: s.now().UTC(),
		Level:     level,
		Message:   msg,
		Details:   encodeDetails(details),
	}
	mirror(e)

	s.mu.Lock()
	e.Seq = s.nextSeq
	s.nextSeq++
	slot := int(e.Seq % uint64(s.capacity))
	s.entries[slot] = e
	raw, err := json.Marshal(e)
	if err == nil {
		err = s.kv.Set(ctx, slotKey(slot), raw)
	}
	s.mu.Unlock()

	if err != nil {
		logger.Error("log_entry_persist_failed", "seq", e.Seq, "error", err)
	}
	return e
}

// Recent returns up to limit entries, newest first. limit <= 0 means all.
func (s *Sink) Recent(limit int) []models.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.lenLocked()
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.LogEntry, 0, limit)
	for i := 0; i < limit; i++ {
		seq := s.nextSeq - 1 - uint64(i)
		out = append(out, s.entries[seq%uint64(s.capacity)])
	}
	return out
}

// Len is the number of entries currently retained.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lenLocked()
}

func (s *Sink) Capacity() int { return s.capacity }

func (s *Sink) lenLocked() int {
	if s.nextSeq < uint64(s.capacity) {
		return int(s.nextSeq)
	}
	return s.capacity
}

func (s *Sink) rewrite(ctx context.Context) error {
	for slot, e := range s.entries {
		if e.Timestamp.IsZero() {
			continue
		}
		raw, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := s.kv.Set(ctx, slotKey(slot), raw); err != nil {
			return fmt.Errorf("logsink: rewrite slot %d: %w", slot, err)
		}
	}
	return nil
}

func mirror(e models.LogEntry) {
	args := []any{"message", e.Message}
	if e.Details != "" {
		args = append(args, "details", e.Details)
	}
	switch e.Level {
	case models.LevelError:
		logger.Error("sink_entry", args...)
	case models.LevelWarning:
		logger.Warn("sink_entry", args...)
	default:
		logger.Info("sink_entry", args...)
	}
}

func encodeDetails(details any) string {
	switch v := details.(type) {
	case nil:
		return ""
	case string:
		return v
	case error:
		return v.Error()
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Sprintf("%v", details)
	}
	return string(raw)
}

func slotKey(slot int) string {
	return fmt.Sprintf("%s%06d", keyPrefix, slot)
}

func parseSlot(key string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(key, keyPrefix))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
