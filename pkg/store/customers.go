package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"linedesk/pkg/kv"
	"linedesk/pkg/logger"
	"linedesk/pkg/models"
)

// UpsertCustomer creates the customer when absent and shallow-merges patch
// into the stored record.
func (s *Store) UpsertCustomer(ctx context.Context, userID string, patch models.Patch) (models.Customer, error) {
	return s.UpsertCustomerWithDefaults(ctx, userID, nil, patch)
}

// UpsertCustomerWithDefaults is UpsertCustomer where defaults are applied
// only when the record is being created.
func (s *Store) UpsertCustomerWithDefaults(ctx context.Context, userID string, defaults, patch models.Patch) (models.Customer, error) {
	return s.mutateCustomer(ctx, userID, true, defaults, patch)
}

// UpdateCustomer merges patch into an existing customer. When patch carries
// "version" it must equal the stored version.
func (s *Store) UpdateCustomer(ctx context.Context, userID string, patch models.Patch) (models.Customer, error) {
	return s.mutateCustomer(ctx, userID, false, nil, patch)
}

// UpdateStatus is the only path that moves a case between statuses.
func (s *Store) UpdateStatus(ctx context.Context, userID, status, adminID, adminName string) (models.Customer, error) {
	return s.UpdateCustomer(ctx, userID, models.Patch{
		models.FieldCaseStatus:      status,
		"adminId":                   adminID,
		"adminName":                 adminName,
		models.FieldStatusUpdatedAt: s.now().UTC().Format(timeLayout),
	})
}

func (s *Store) mutateCustomer(ctx context.Context, userID string, create bool, defaults, patch models.Patch) (models.Customer, error) {
	if userID == "" {
		return models.Customer{}, fmt.Errorf("customer: empty userId")
	}
	lock := s.locks.get(userID)
	lock.Lock()
	c, err := s.mutateCustomerLocked(ctx, userID, create, defaults, patch)
	lock.Unlock()
	if err != nil {
		return models.Customer{}, err
	}
	s.publishCustomer(c)
	return c, nil
}

// mutateCustomerLocked is the read-modify-write of one customer record. The
// caller holds the user lock and publishes the result.
func (s *Store) mutateCustomerLocked(ctx context.Context, userID string, create bool, defaults, patch models.Patch) (models.Customer, error) {
	doc, found, err := s.readCustomer(ctx, userID)
	if err != nil {
		return models.Customer{}, err
	}
	if !found {
		if !create {
			return models.Customer{}, ErrCustomerNotFound
		}
		doc = newCustomerDoc(userID)
		if err := doc.Merge(defaults); err != nil {
			return models.Customer{}, err
		}
	}

	current := doc.ToCustomer().Version
	if want, ok := patch[models.FieldVersion]; ok {
		if v, isNum := toInt64(want); !isNum || v != current {
			return models.Customer{}, ErrVersionConflict
		}
	}
	clean := make(models.Patch, len(patch))
	for k, v := range patch {
		if k == models.FieldUserID || k == models.FieldVersion {
			continue
		}
		clean[k] = v
	}
	if err := doc.Merge(clean); err != nil {
		return models.Customer{}, fmt.Errorf("merge customer %s: %w", userID, err)
	}
	if err := doc.Merge(models.Patch{models.FieldUserID: userID, models.FieldVersion: current + 1}); err != nil {
		return models.Customer{}, err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return models.Customer{}, err
	}
	if err := s.kv.Set(ctx, customerKey(userID), raw); err != nil {
		return models.Customer{}, fmt.Errorf("write customer %s: %w", userID, err)
	}
	c := doc.ToCustomer()
	logger.Debug("customer_written", "user_id", userID, "version", c.Version, "created", !found)
	return c, nil
}

func newCustomerDoc(userID string) models.CustomerDoc {
	doc := models.CustomerDoc{}
	_ = doc.Merge(models.Patch{
		models.FieldUserID:     userID,
		models.FieldCaseStatus: models.CaseStatusPending,
		"notes":                "",
	})
	return doc
}

// readCustomer treats a stored JSON null or a non-object value as absent.
func (s *Store) readCustomer(ctx context.Context, userID string) (models.CustomerDoc, bool, error) {
	raw, err := s.kv.Get(ctx, customerKey(userID))
	if kv.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read customer %s: %w", userID, err)
	}
	doc, ok := decodeCustomer(raw)
	return doc, ok, nil
}

func decodeCustomer(raw []byte) (models.CustomerDoc, bool) {
	var doc models.CustomerDoc
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return nil, false
	}
	return doc, true
}

func (s *Store) GetCustomer(ctx context.Context, userID string) (models.Customer, error) {
	doc, found, err := s.readCustomer(ctx, userID)
	if err != nil {
		return models.Customer{}, err
	}
	if !found {
		return models.Customer{}, ErrCustomerNotFound
	}
	return doc.ToCustomer(), nil
}

// ListCustomers returns every readable customer, most recent conversation
// first. Records without a lastMessageTime sort last. The result is never nil.
func (s *Store) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	rows, err := s.kv.ScanPrefix(ctx, customerPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan customers: %w", err)
	}
	out := make([]models.Customer, 0, len(rows))
	for _, row := range rows {
		doc, ok := decodeCustomer(row.Value)
		if !ok {
			logger.Warn("customer_unreadable", "key", row.Key)
			continue
		}
		c := doc.ToCustomer()
		if c.UserID == "" {
			c.UserID = row.Key[len(customerPrefix):]
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].LastMessageAt(), out[j].LastMessageAt()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), n == float64(int64(n))
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}
