package models

import (
	"encoding/json"
	"time"
)

// Case statuses. The field is an open string; these are the values the
// operator console knows about.
const (
	CaseStatusPending = "pending"
	CaseStatusActive  = "active"
	CaseStatusClosed  = "closed"
)

const (
	DefaultLineOAID     = "default"
	DefaultLineOAName   = "Line Official Account"
	defaultLastMessage  = "ไม่มีข้อความ"
	customerNamePrefix  = "ลูกค้า "
	customerNameIDChars = 8
)

// Customer is the denormalized case view served to operator consoles.
type Customer struct {
	UserID          string `json:"userId"`
	Name            string `json:"name"`
	DisplayName     string `json:"displayName"`
	LastMessage     string `json:"lastMessage"`
	LastMessageTime string `json:"lastMessageTime"`
	CaseStatus      string `json:"caseStatus"`
	Status          string `json:"status"`
	Notes           string `json:"notes"`
	AdminID         string `json:"adminId"`
	AdminName       string `json:"adminName"`
	Avatar          string `json:"avatar,omitempty"`
	PictureURL      string `json:"pictureUrl,omitempty"`
	UnreadCount     int    `json:"unreadCount"`
	LineOAID        string `json:"lineOAId"`
	LineOAName      string `json:"lineOAName"`
	StatusUpdatedAt string `json:"statusUpdatedAt,omitempty"`
	Version         int64  `json:"version"`
}

// CustomerDoc is the stored form of a customer: a flat JSON object so that
// operator patches can carry fields this service does not model.
type CustomerDoc map[string]json.RawMessage

// Patch is a set of top-level fields to shallow-merge into a CustomerDoc.
type Patch map[string]any

// Field names with special handling in the store.
const (
	FieldUserID          = "userId"
	FieldVersion         = "version"
	FieldLastMessage     = "lastMessage"
	FieldLastMessageTime = "lastMessageTime"
	FieldCaseStatus      = "caseStatus"
	FieldStatusUpdatedAt = "statusUpdatedAt"
)

// Merge applies p on top of d. It fails on the first value that cannot be encoded.
func (d CustomerDoc) Merge(p Patch) error {
	for k, v := range p {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		d[k] = raw
	}
	return nil
}

// ToCustomer projects a stored document into a fully populated Customer,
// tolerating missing, null and wrongly typed fields.
func (d CustomerDoc) ToCustomer() Customer {
	c := Customer{
		UserID:          d.str("userId"),
		Name:            d.str("name"),
		DisplayName:     d.str("displayName"),
		LastMessage:     d.str("lastMessage"),
		LastMessageTime: d.str("lastMessageTime"),
		CaseStatus:      d.str("caseStatus"),
		Status:          d.str("status"),
		Notes:           d.str("notes"),
		AdminID:         d.str("adminId"),
		AdminName:       d.str("adminName"),
		Avatar:          d.str("avatar"),
		PictureURL:      d.str("pictureUrl"),
		UnreadCount:     int(d.num("unreadCount")),
		LineOAID:        d.str("lineOAId"),
		LineOAName:      d.str("lineOAName"),
		StatusUpdatedAt: d.str("statusUpdatedAt"),
		Version:         d.num("version"),
	}
	if c.Name == "" {
		c.Name = c.DisplayName
	}
	if c.Name == "" {
		id := c.UserID
		if len(id) > customerNameIDChars {
			id = id[:customerNameIDChars]
		}
		c.Name = customerNamePrefix + id
	}
	if c.DisplayName == "" {
		c.DisplayName = c.Name
	}
	if c.LastMessage == "" {
		c.LastMessage = defaultLastMessage
	}
	if c.CaseStatus == "" {
		c.CaseStatus = CaseStatusPending
	}
	if c.Status == "" {
		c.Status = c.CaseStatus
	}
	if c.Avatar == "" {
		c.Avatar = c.PictureURL
	}
	if c.PictureURL == "" {
		c.PictureURL = c.Avatar
	}
	if c.LineOAID == "" {
		c.LineOAID = DefaultLineOAID
	}
	if c.LineOAName == "" {
		c.LineOAName = DefaultLineOAName
	}
	return c
}

// LastMessageAt parses lastMessageTime; zero when absent or unparseable.
func (c Customer) LastMessageAt() time.Time {
	t, err := time.Parse(time.RFC3339Nano, c.LastMessageTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (d CustomerDoc) str(k string) string {
	raw, ok := d[k]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func (d CustomerDoc) num(k string) int64 {
	raw, ok := d[k]
	if !ok {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	return int64(f)
}
