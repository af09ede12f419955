package variable

import "time"

// Variable is an extra form field configured for a single hospital,
// e.g. floor area or bed count.
type Variable struct {
	HospitalID string    `json:"hospital_id"`
	Key        string    `json:"key"`
	Label      string    `json:"label"`
	Unit       string    `json:"unit,omitempty"`
	Required   bool      `json:"required"`
	Min        *float64  `json:"min,omitempty"`
	Max        *float64  `json:"max,omitempty"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
