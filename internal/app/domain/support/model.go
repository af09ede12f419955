package support

import "time"

// Status is the lifecycle state of a support ticket.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

var order = map[Status]int{
	StatusPending:    0,
	StatusInProgress: 1,
	StatusResolved:   2,
	StatusClosed:     3,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := order[s]
	return ok
}

// Done reports whether the ticket no longer needs admin attention.
func (s Status) Done() bool {
	return s == StatusResolved || s == StatusClosed
}

// CanTransition reports whether a ticket may move from one status to
// another. Tickets only move forward; any open ticket may be closed.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == StatusClosed {
		return false
	}
	if to == StatusClosed || from == to {
		return true
	}
	return order[to] > order[from]
}

// Message is a free-text ticket raised by a user. Reminder notices sent by
// admins are stored as messages too so they surface in the user's feed.
type Message struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	HospitalID    string    `json:"hospital_id,omitempty"`
	Subject       string    `json:"subject"`
	Message       string    `json:"message"`
	Status        Status    `json:"status"`
	AdminResponse *string   `json:"admin_response,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Filter narrows message listings. Empty fields do not filter.
type Filter struct {
	UserID     string
	HospitalID string
	Status     Status
	Limit      int
}

// Matches reports whether m passes the filter (Limit is ignored).
func (f Filter) Matches(m Message) bool {
	if f.UserID != "" && m.UserID != f.UserID {
		return false
	}
	if f.HospitalID != "" && m.HospitalID != f.HospitalID {
		return false
	}
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	return true
}
