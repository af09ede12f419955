package reminder

import "time"

// Status of a delivery attempt.
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Reminder is the audit row written for every reminder delivery attempt.
type Reminder struct {
	ID         string    `json:"id"`
	HospitalID string    `json:"hospital_id"`
	Recipient  string    `json:"recipient"`
	MonthYear  string    `json:"month_year"`
	Channel    string    `json:"channel"`
	SentBy     string    `json:"sent_by"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}
