package hospital

import "time"

// Hospital is a reporting site. Entries, forms and users reference it by ID.
type Hospital struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
