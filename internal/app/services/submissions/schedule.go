package submissions

import (
	"math"
	"time"

	"github.com/greenhospital/reporting/internal/app/domain/period"
)

// State is the submission standing of one hospital for one month.
type State string

const (
	StateSubmitted State = "submitted"
	StatePending   State = "pending"
	StateDueSoon   State = "due_soon"
	StateOverdue   State = "overdue"
)

// DefaultDueSoonDays is how close to the deadline a month counts as due soon.
const DefaultDueSoonDays = 3

// Schedule holds the monthly deadline rules.
type Schedule struct {
	DueDay      int
	DueSoonDays int
	Location    *time.Location
}

// DefaultSchedule is due on the 15th, UTC.
func DefaultSchedule() Schedule {
	return Schedule{DueDay: 15, DueSoonDays: DefaultDueSoonDays, Location: time.UTC}
}

func (s Schedule) loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// CurrentMonth is the reporting month containing now.
func (s Schedule) CurrentMonth(now time.Time) period.Month {
	return period.Of(now.In(s.loc()))
}

// Deadline is the first instant after the due day of m.
func (s Schedule) Deadline(m period.Month) time.Time {
	day := s.DueDay
	if day <= 0 {
		day = 15
	}
	return m.Deadline(day, s.loc())
}

// DueSoonFrom is when a month starts counting as due soon.
func (s Schedule) DueSoonFrom(m period.Month) time.Time {
	return s.Deadline(m).AddDate(0, 0, -s.DueSoonDays)
}

// Evaluation is the outcome of checking a month against its deadline.
type Evaluation struct {
	State         State     `json:"state"`
	Deadline      time.Time `json:"deadline"`
	DaysRemaining int       `json:"days_remaining"`
}

// Evaluate classifies month m at now. Days remaining are rounded up, so
// anything under 24h before the deadline is one day.
func (s Schedule) Evaluate(m period.Month, now time.Time, submitted bool) Evaluation {
	deadline := s.Deadline(m)
	days := int(math.Ceil(deadline.Sub(now).Hours() / 24))
	if days < 0 {
		days = 0
	}
	ev := Evaluation{Deadline: deadline, DaysRemaining: days}
	switch {
	case submitted:
		ev.State = StateSubmitted
	case !now.Before(deadline):
		ev.State = StateOverdue
	case days <= s.DueSoonDays:
		ev.State = StateDueSoon
	default:
		ev.State = StatePending
	}
	return ev
}
