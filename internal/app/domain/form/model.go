package form

import (
	"time"

	"github.com/greenhospital/reporting/internal/app/domain/period"
)

// Status of a monthly form.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
)

// Form tracks the submission state of one hospital's monthly data. Its ID
// is derived from the hospital and month, see ID.
type Form struct {
	ID          string     `json:"id"`
	HospitalID  string     `json:"hospital_id"`
	Month       int        `json:"month"`
	Year        int        `json:"year"`
	Status      Status     `json:"status"`
	Submitted   bool       `json:"submitted"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Period returns the reporting month of the form.
func (f Form) Period() period.Month {
	return period.Month{Year: f.Year, Month: time.Month(f.Month)}
}
