package store

import (
	"context"
	"time"

	"linedesk/pkg/models"
)

const timeLayout = time.RFC3339Nano

// RecordInbound stores a customer's text message and projects it onto the
// customer record, creating the customer on first contact.
func (s *Store) RecordInbound(ctx context.Context, userID, text string) (models.Message, error) {
	return s.record(ctx, models.Message{
		UserID:         userID,
		UserName:       models.DefaultCustomerName,
		Message:        text,
		Type:           models.MessageTypeText,
		IsFromCustomer: true,
	}, models.Patch{"name": models.DefaultCustomerName})
}

// RecordOutbound stores an operator message that was already delivered.
func (s *Store) RecordOutbound(ctx context.Context, userID, text, adminID, adminName string) (models.Message, error) {
	if adminName == "" {
		adminName = models.DefaultAdminName
	}
	return s.record(ctx, models.Message{
		UserID:   userID,
		UserName: adminName,
		Message:  text,
		Type:     models.MessageTypeText,
		AdminID:  adminID,
	}, nil)
}

// record writes the message and its projection in one critical section for
// the user; publishing happens after the lock is released.
func (s *Store) record(ctx context.Context, m models.Message, defaults models.Patch) (models.Message, error) {
	if m.UserID == "" || m.Message == "" {
		return models.Message{}, ErrInvalidMessage
	}
	lock := s.locks.get(m.UserID)
	lock.Lock()

	m.CaseStatus = models.CaseStatusPending
	doc, found, err := s.readCustomer(ctx, m.UserID)
	if err != nil {
		lock.Unlock()
		return models.Message{}, err
	}
	if found {
		m.CaseStatus = doc.ToCustomer().CaseStatus
	}

	saved, err := s.writeMessageLocked(ctx, m)
	if err != nil {
		lock.Unlock()
		return models.Message{}, err
	}
	c, err := s.mutateCustomerLocked(ctx, m.UserID, true, defaults, models.Patch{
		models.FieldLastMessage:     saved.Message,
		models.FieldLastMessageTime: saved.Timestamp.Format(timeLayout),
	})
	lock.Unlock()

	s.publishMessage(saved)
	if err != nil {
		return saved, err
	}
	s.publishCustomer(c)
	return saved, nil
}
