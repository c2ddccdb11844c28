package models

import "time"

// Message types. Only text is decoded from the platform today.
const (
	MessageTypeText = "text"
)

// Default display names used when the platform or the operator supplies none.
const (
	DefaultCustomerName = "ลูกค้า Line"
	DefaultAdminName    = "แอดมิน"
)

// Message is one immutable entry of a customer conversation.
type Message struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	UserName       string    `json:"userName"`
	Message        string    `json:"message"`
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	IsFromCustomer bool      `json:"isFromCustomer"`
	// AdminID is set only on operator-originated messages.
	AdminID string `json:"adminId,omitempty"`
	// CaseStatus is the case status at write time; it is never re-read.
	CaseStatus string `json:"caseStatus"`
}
