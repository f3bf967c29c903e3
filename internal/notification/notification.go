// File: internal/notification/notification.go
package notification

import (
	"context"
	"time"
)

// Event types
const (
	EventDrawingCompleted = "drawing.completed"
	EventScanFailed       = "scan.failed"
	EventEntriesCleaned   = "drawing.entries_cleaned"
)

// Event describes something that happened to a drawing
type Event struct {
	Type         string    `json:"type"`
	DrawingID    int64     `json:"drawId"`
	DrawingName  string    `json:"drawName,omitempty"`
	TokenAddress string    `json:"tokenAddress,omitempty"`
	FilledSlots  int       `json:"filledSlots"`
	TotalSlots   int       `json:"totalSlots"`
	Message      string    `json:"message,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Notifier delivers drawing events to an external system
type Notifier interface {
	Notify(ctx context.Context, event Event) error
	GetStats() NotifierStats
}

// NotifierStats provides delivery statistics
type NotifierStats struct {
	Sent          uint64     `json:"sent"`
	Failed        uint64     `json:"failed"`
	LastError     *string    `json:"last_error,omitempty"`
	LastErrorTime *time.Time `json:"last_error_time,omitempty"`
}
