package notification

import "time"

// Type classifies a notification for display.
type Type string

const (
	TypeSuccess  Type = "success"
	TypeWarning  Type = "warning"
	TypeInfo     Type = "info"
	TypeReminder Type = "reminder"
)

// Notification is derived on read; only its read/dismissed state is stored.
type Notification struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	HospitalID string    `json:"hospital_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Read       bool      `json:"read"`
}

// State is the persisted per-user flag set for one notification id.
type State struct {
	UserID         string    `json:"user_id"`
	NotificationID string    `json:"notification_id"`
	Read           bool      `json:"read"`
	Dismissed      bool      `json:"dismissed"`
	UpdatedAt      time.Time `json:"updated_at"`
}
