package entry

import "time"

// Entry holds one hospital's sustainability metrics for one month.
// There is at most one entry per (HospitalID, MonthYear).
type Entry struct {
	ID          string             `json:"id"`
	HospitalID  string             `json:"hospital_id"`
	MonthYear   string             `json:"month_year"`
	Metrics     map[string]float64 `json:"metrics"`
	Notes       string             `json:"notes,omitempty"`
	Submitted   bool               `json:"submitted"`
	SubmittedAt *time.Time         `json:"submitted_at,omitempty"`
	SubmittedBy string             `json:"submitted_by,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Value returns the metric value for key.
func (e Entry) Value(key string) (float64, bool) {
	v, ok := e.Metrics[key]
	return v, ok
}

// Filter narrows entry listings. Empty fields do not filter. From and To
// are inclusive YYYY-MM bounds.
type Filter struct {
	HospitalID string
	From       string
	To         string
	Submitted  *bool
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e Entry) bool {
	if f.HospitalID != "" && e.HospitalID != f.HospitalID {
		return false
	}
	if f.From != "" && e.MonthYear < f.From {
		return false
	}
	if f.To != "" && e.MonthYear > f.To {
		return false
	}
	if f.Submitted != nil && e.Submitted != *f.Submitted {
		return false
	}
	return true
}
