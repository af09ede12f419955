// Package submissions reports whether hospitals have submitted the current
// month's data and how close they are to the deadline.
package submissions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/greenhospital/reporting/internal/app/apperr"
	"github.com/greenhospital/reporting/internal/app/domain/entry"
	"github.com/greenhospital/reporting/internal/app/domain/hospital"
	"github.com/greenhospital/reporting/internal/app/domain/period"
	"github.com/greenhospital/reporting/internal/app/storage"
	"github.com/greenhospital/reporting/internal/auth"
	"github.com/greenhospital/reporting/pkg/logger"
)

// Status is one hospital's standing for a month.
type Status struct {
	HospitalID   string     `json:"hospital_id"`
	HospitalName string     `json:"hospital_name,omitempty"`
	MonthYear    string     `json:"month_year"`
	Submitted    bool       `json:"submitted"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
	HasDraft     bool       `json:"has_draft"`
	Evaluation
}

// Service computes submission status.
type Service struct {
	hospitals storage.HospitalStore
	entries   storage.EntryStore
	schedule  Schedule
	log       *logger.Logger
	now       func() time.Time
}

// New creates a submissions service.
func New(hospitals storage.HospitalStore, entries storage.EntryStore, schedule Schedule, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("submissions")
	}
	if schedule.DueSoonDays <= 0 {
		schedule.DueSoonDays = DefaultDueSoonDays
	}
	return &Service{
		hospitals: hospitals,
		entries:   entries,
		schedule:  schedule,
		log:       log,
		now:       time.Now,
	}
}

// Schedule returns the deadline rules in use.
func (s *Service) Schedule() Schedule { return s.schedule }

// CurrentMonth is the reporting month at the service clock.
func (s *Service) CurrentMonth() period.Month {
	return s.schedule.CurrentMonth(s.now())
}

// Current returns the current month's status for the caller's hospital,
// or for every hospital when the caller is an admin. A department head
// without a hospital gets an empty list.
func (s *Service) Current(ctx context.Context, caller auth.Principal) ([]Status, error) {
	m := s.CurrentMonth()
	if caller.IsAdmin() {
		return s.ForMonth(ctx, m)
	}
	if caller.HospitalID == "" {
		return []Status{}, nil
	}
	st, err := s.ForHospital(ctx, caller.HospitalID, m)
	if err != nil {
		return nil, err
	}
	return []Status{st}, nil
}

// ForHospital returns one hospital's status for month m.
func (s *Service) ForHospital(ctx context.Context, hospitalID string, m period.Month) (Status, error) {
	h, err := s.hospitals.GetHospital(ctx, hospitalID)
	if err != nil {
		return Status{}, fmt.Errorf("load hospital: %w", err)
	}
	e, err := s.entries.GetEntry(ctx, hospitalID, m.String())
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return s.status(h, m, nil), nil
	case err != nil:
		return Status{}, fmt.Errorf("load entry: %w", err)
	}
	return s.status(h, m, &e), nil
}

// ForMonth returns the status of every hospital for month m, ordered by
// hospital name.
func (s *Service) ForMonth(ctx context.Context, m period.Month) ([]Status, error) {
	hospitals, err := s.hospitals.ListHospitals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list hospitals: %w", err)
	}
	entries, err := s.entries.ListEntries(ctx, entry.Filter{From: m.String(), To: m.String()})
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	byHospital := make(map[string]entry.Entry, len(entries))
	for _, e := range entries {
		byHospital[e.HospitalID] = e
	}

	out := make([]Status, 0, len(hospitals))
	for _, h := range hospitals {
		if e, ok := byHospital[h.ID]; ok {
			out = append(out, s.status(h, m, &e))
		} else {
			out = append(out, s.status(h, m, nil))
		}
	}
	return out, nil
}

// Outstanding lists hospitals that have not submitted month m.
func (s *Service) Outstanding(ctx context.Context, m period.Month) ([]Status, error) {
	all, err := s.ForMonth(ctx, m)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(all))
	for _, st := range all {
		if !st.Submitted {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Service) status(h hospital.Hospital, m period.Month, e *entry.Entry) Status {
	st := Status{HospitalID: h.ID, HospitalName: h.Name, MonthYear: m.String()}
	if e != nil {
		st.Submitted = e.Submitted
		st.SubmittedAt = e.SubmittedAt
		st.HasDraft = !e.Submitted
	}
	st.Evaluation = s.schedule.Evaluate(m, s.now(), st.Submitted)
	return st
}
