package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"linedesk/pkg/kv"
	"linedesk/pkg/logger"
	"linedesk/pkg/models"
)

// WriteMessage assigns the id and timestamp, stores the message and appends
// its id to the owner's index.
func (s *Store) WriteMessage(ctx context.Context, m models.Message) (models.Message, error) {
	if m.UserID == "" || m.Message == "" {
		return models.Message{}, ErrInvalidMessage
	}
	lock := s.locks.get(m.UserID)
	lock.Lock()
	saved, err := s.writeMessageLocked(ctx, m)
	lock.Unlock()
	if err != nil {
		return models.Message{}, err
	}
	s.publishMessage(saved)
	return saved, nil
}

// writeMessageLocked runs with the user lock held so that id order, index
// order and projection order agree for one user. It does not publish.
func (s *Store) writeMessageLocked(ctx context.Context, m models.Message) (models.Message, error) {
	id, ts, err := s.nextID()
	if err != nil {
		return models.Message{}, fmt.Errorf("generate message id: %w", err)
	}
	m.ID = id
	m.Timestamp = ts
	if m.Type == "" {
		m.Type = models.MessageTypeText
	}
	if m.CaseStatus == "" {
		m.CaseStatus = models.CaseStatusPending
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return models.Message{}, err
	}
	if err := s.kv.Set(ctx, messageKey(m.ID), raw); err != nil {
		return models.Message{}, fmt.Errorf("write message %s: %w", m.ID, err)
	}
	if err := s.appendToIndex(ctx, m.UserID, m.ID); err != nil {
		return models.Message{}, err
	}
	logger.Debug("message_written", "id", m.ID, "user_id", m.UserID, "from_customer", m.IsFromCustomer)
	return m, nil
}

// caller holds the user lock
func (s *Store) appendToIndex(ctx context.Context, userID, id string) error {
	ids, err := s.readIndex(ctx, userID)
	if err != nil {
		return err
	}
	ids = append(ids, id)
	return s.writeIndex(ctx, userID, ids)
}

func (s *Store) readIndex(ctx context.Context, userID string) ([]string, error) {
	raw, err := s.kv.Get(ctx, userMessagesKey(userID))
	if kv.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read message index for %s: %w", userID, err)
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		// a corrupt index is rebuilt from scratch rather than blocking writes
		logger.Warn("message_index_unreadable", "user_id", userID, "error", err)
		return nil, nil
	}
	return ids, nil
}

func (s *Store) writeIndex(ctx context.Context, userID string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, userMessagesKey(userID), raw); err != nil {
		return fmt.Errorf("write message index for %s: %w", userID, err)
	}
	return nil
}

// ListMessages returns the user's conversation in timestamp order. Ids whose
// record is missing or unreadable are skipped. The result is never nil.
func (s *Store) ListMessages(ctx context.Context, userID string) ([]models.Message, error) {
	ids, err := s.readIndex(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		m, ok, err := s.getMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, m)
		}
	}
	sortMessages(out)
	return out, nil
}

func (s *Store) getMessage(ctx context.Context, id string) (models.Message, bool, error) {
	raw, err := s.kv.Get(ctx, messageKey(id))
	if kv.IsNotFound(err) {
		return models.Message{}, false, nil
	}
	if err != nil {
		return models.Message{}, false, fmt.Errorf("read message %s: %w", id, err)
	}
	var m models.Message
	if err := json.Unmarshal(raw, &m); err != nil || m.ID == "" {
		logger.Warn("message_unreadable", "id", id, "error", err)
		return models.Message{}, false, nil
	}
	return m, true, nil
}

func sortMessages(ms []models.Message) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].Timestamp.Equal(ms[j].Timestamp) {
			return ms[i].Timestamp.Before(ms[j].Timestamp)
		}
		return ms[i].ID < ms[j].ID
	})
}

// PurgeResult summarises one retention pass.
type PurgeResult struct {
	Scanned int
	Deleted int
	Users   int
}

// PurgeMessagesBefore removes messages older than cutoff and drops their ids
// from the per-user indexes. batchSize bounds how many deletions happen
// between context checks. With dryRun nothing is written.
func (s *Store) PurgeMessagesBefore(ctx context.Context, cutoff time.Time, batchSize int, dryRun bool) (PurgeResult, error) {
	var res PurgeResult
	if batchSize <= 0 {
		batchSize = 500
	}
	indexes, err := s.kv.ScanPrefix(ctx, userMessagesPrefix)
	if err != nil {
		return res, fmt.Errorf("scan message indexes: %w", err)
	}
	for _, row := range indexes {
		userID := row.Key[len(userMessagesPrefix):]
		n, scanned, err := s.purgeUser(ctx, userID, cutoff, batchSize, dryRun)
		res.Scanned += scanned
		res.Deleted += n
		if n > 0 {
			res.Users++
		}
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Store) purgeUser(ctx context.Context, userID string, cutoff time.Time, batchSize int, dryRun bool) (int, int, error) {
	lock := s.locks.get(userID)
	lock.Lock()
	defer lock.Unlock()

	ids, err := s.readIndex(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	keep := make([]string, 0, len(ids))
	deleted := 0
	for i, id := range ids {
		if i%batchSize == 0 {
			if err := ctx.Err(); err != nil {
				return deleted, i, err
			}
		}
		m, ok, err := s.getMessage(ctx, id)
		if err != nil {
			return deleted, i, err
		}
		if ok && !m.Timestamp.Before(cutoff) {
			keep = append(keep, id)
			continue
		}
		deleted++
		if dryRun {
			continue
		}
		if err := s.kv.Delete(ctx, messageKey(id)); err != nil {
			return deleted, i, fmt.Errorf("delete message %s: %w", id, err)
		}
	}
	if deleted > 0 && !dryRun {
		if err := s.writeIndex(ctx, userID, keep); err != nil {
			return deleted, len(ids), err
		}
	}
	return deleted, len(ids), nil
}
