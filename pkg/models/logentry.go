package models

import "time"

// Log levels accepted by the diagnostic sink.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// LogEntry is one diagnostic record kept in the bounded log ring.
type LogEntry struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	// Details is the JSON encoding of the caller's payload, empty when none.
	Details string `json:"details,omitempty"`
}
