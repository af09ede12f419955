// Package forms serves the dynamic monthly form: its field definition,
// validation, and saving drafts and submissions to both the entries and
// forms tables.
package forms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/greenhospital/reporting/internal/app/apperr"
	"github.com/greenhospital/reporting/internal/app/domain/entry"
	"github.com/greenhospital/reporting/internal/app/domain/form"
	"github.com/greenhospital/reporting/internal/app/domain/metric"
	"github.com/greenhospital/reporting/internal/app/domain/period"
	"github.com/greenhospital/reporting/internal/app/metrics"
	"github.com/greenhospital/reporting/internal/app/storage"
	"github.com/greenhospital/reporting/internal/auth"
	"github.com/greenhospital/reporting/pkg/logger"
)

// Input is the body of a draft or submit request.
type Input struct {
	Metrics map[string]float64 `json:"metrics"`
	Notes   string             `json:"notes"`
}

// Submission is the pair of rows written for one save.
type Submission struct {
	Entry entry.Entry `json:"entry"`
	Form  form.Form   `json:"form"`
}

// Invalidator is told when a month's data changes.
type Invalidator interface {
	Invalidate(ctx context.Context, m period.Month) error
}

// Stores groups the persistence the form service uses.
type Stores struct {
	Hospitals   storage.HospitalStore
	Variables   storage.VariableStore
	Entries     storage.EntryStore
	Forms       storage.FormStore
	Submissions storage.SubmissionStore
}

// Service implements the monthly form workflow.
type Service struct {
	stores      Stores
	catalog     metric.Catalog
	invalidator Invalidator
	loc         *time.Location
	log         *logger.Logger
	now         func() time.Time
}

// New creates a form service. A nil catalog uses metric.Default.
func New(stores Stores, catalog metric.Catalog, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("forms")
	}
	if len(catalog) == 0 {
		catalog = metric.Default()
	}
	return &Service{stores: stores, catalog: catalog, loc: time.UTC, log: log, now: time.Now}
}

// UseLocation sets the reporting time zone that decides which month is
// current. Nil means UTC.
func (s *Service) UseLocation(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	s.loc = loc
}

// AttachInvalidator registers a cache to clear after every save.
func (s *Service) AttachInvalidator(inv Invalidator) {
	s.invalidator = inv
}

// Catalog returns the metric catalog in use.
func (s *Service) Catalog() metric.Catalog { return s.catalog }

// Definition returns the form fields for a hospital.
func (s *Service) Definition(ctx context.Context, caller auth.Principal, hospitalID string) (Definition, error) {
	hospitalID = strings.TrimSpace(hospitalID)
	if hospitalID == "" {
		hospitalID = caller.HospitalID
	}
	if hospitalID == "" {
		return BuildDefinition("", s.catalog, nil), nil
	}
	if !caller.CanAccessHospital(hospitalID) {
		return Definition{}, apperr.Forbidden("no access to hospital %s", hospitalID)
	}
	return s.definition(ctx, hospitalID)
}

func (s *Service) definition(ctx context.Context, hospitalID string) (Definition, error) {
	if _, err := s.stores.Hospitals.GetHospital(ctx, hospitalID); err != nil {
		return Definition{}, fmt.Errorf("load hospital: %w", err)
	}
	vars, err := s.stores.Variables.ListVariables(ctx, hospitalID)
	if err != nil {
		return Definition{}, fmt.Errorf("list variables: %w", err)
	}
	return BuildDefinition(hospitalID, s.catalog, vars), nil
}

// View is a form row together with its entry.
type View struct {
	Form  form.Form    `json:"form"`
	Entry *entry.Entry `json:"entry,omitempty"`
}

// Get loads a form by its {hospital}-{MM}-{YYYY} id. A month with no saved
// data is returned as an empty draft.
func (s *Service) Get(ctx context.Context, caller auth.Principal, formID string) (View, error) {
	hospitalID, m, err := form.ParseID(formID)
	if err != nil {
		return View{}, apperr.Invalid("%v", err)
	}
	if !caller.CanAccessHospital(hospitalID) {
		return View{}, apperr.Forbidden("no access to hospital %s", hospitalID)
	}

	f, err := s.stores.Forms.GetForm(ctx, formID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		if _, herr := s.stores.Hospitals.GetHospital(ctx, hospitalID); herr != nil {
			return View{}, fmt.Errorf("load hospital: %w", herr)
		}
		f = form.Form{ID: formID, HospitalID: hospitalID, Month: int(m.Month), Year: m.Year, Status: form.StatusDraft}
	case err != nil:
		return View{}, fmt.Errorf("load form: %w", err)
	}

	view := View{Form: f}
	e, err := s.stores.Entries.GetEntry(ctx, hospitalID, m.String())
	switch {
	case err == nil:
		view.Entry = &e
	case !errors.Is(err, apperr.ErrNotFound):
		return View{}, fmt.Errorf("load entry: %w", err)
	}
	return view, nil
}

// ListEntries returns entries visible to the caller. Department heads only
// see their own hospital.
func (s *Service) ListEntries(ctx context.Context, caller auth.Principal, filter entry.Filter) ([]entry.Entry, error) {
	if !caller.IsAdmin() {
		if caller.HospitalID == "" {
			return []entry.Entry{}, nil
		}
		if filter.HospitalID != "" && filter.HospitalID != caller.HospitalID {
			return nil, apperr.Forbidden("no access to hospital %s", filter.HospitalID)
		}
		filter.HospitalID = caller.HospitalID
	}
	for _, bound := range []string{filter.From, filter.To} {
		if bound == "" {
			continue
		}
		if _, err := period.Parse(bound); err != nil {
			return nil, apperr.Invalid("%v", err)
		}
	}
	entries, err := s.stores.Entries.ListEntries(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}

// SaveDraft stores partial values without submitting.
func (s *Service) SaveDraft(ctx context.Context, caller auth.Principal, hospitalID, monthYear string, in Input) (Submission, error) {
	return s.save(ctx, caller, hospitalID, monthYear, in, false)
}

// Submit validates the full form and marks the month submitted. A month
// that is already submitted must be reopened by an admin first.
func (s *Service) Submit(ctx context.Context, caller auth.Principal, hospitalID, monthYear string, in Input) (Submission, error) {
	return s.save(ctx, caller, hospitalID, monthYear, in, true)
}

func (s *Service) save(ctx context.Context, caller auth.Principal, hospitalID, monthYear string, in Input, submit bool) (Submission, error) {
	hospitalID = strings.TrimSpace(hospitalID)
	m, err := period.Parse(monthYear)
	if err != nil {
		return Submission{}, apperr.Invalid("%v", err)
	}
	if !caller.CanAccessHospital(hospitalID) {
		return Submission{}, apperr.Forbidden("no access to hospital %s", hospitalID)
	}
	now := s.now()
	if current := period.Of(now.In(s.loc)); current.Before(m) {
		return Submission{}, apperr.Invalid("cannot report %s before the month starts", m)
	}

	def, err := s.definition(ctx, hospitalID)
	if err != nil {
		return Submission{}, err
	}

	existing, err := s.stores.Entries.GetEntry(ctx, hospitalID, m.String())
	switch {
	case err == nil:
		if existing.Submitted {
			metrics.RecordSubmission("rejected")
			return Submission{}, apperr.Conflict("%s for %s is already submitted", hospitalID, m)
		}
	case errors.Is(err, apperr.ErrNotFound):
		existing = entry.Entry{}
	default:
		return Submission{}, fmt.Errorf("load entry: %w", err)
	}

	if err := def.Validate(in.Metrics, submit); err != nil {
		metrics.RecordSubmission("rejected")
		return Submission{}, err
	}

	e := entry.Entry{
		ID:         existing.ID,
		HospitalID: hospitalID,
		MonthYear:  m.String(),
		Metrics:    copyValues(in.Metrics),
		Notes:      strings.TrimSpace(in.Notes),
	}
	f := form.Form{
		ID:         form.ID(hospitalID, m),
		HospitalID: hospitalID,
		Month:      int(m.Month),
		Year:       m.Year,
		Status:     form.StatusDraft,
	}
	status := "draft"
	if submit {
		at := now.UTC()
		e.Submitted, e.SubmittedAt, e.SubmittedBy = true, &at, caller.UserID
		f.Status, f.Submitted, f.SubmittedAt = form.StatusSubmitted, true, &at
		status = "submitted"
	}

	savedEntry, savedForm, err := s.stores.Submissions.SaveSubmission(ctx, e, f)
	if errors.Is(err, apperr.ErrConflict) {
		metrics.RecordSubmission("rejected")
		return Submission{}, apperr.Conflict("%s for %s is already submitted", hospitalID, m)
	}
	if err != nil {
		return Submission{}, fmt.Errorf("save submission: %w", err)
	}
	metrics.RecordSubmission(status)
	s.invalidate(ctx, m)

	s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"hospital_id": hospitalID,
		"month_year":  m.String(),
		"user_id":     caller.UserID,
		"status":      status,
	}).Info("form saved")
	return Submission{Entry: savedEntry, Form: savedForm}, nil
}

// Reopen returns a submitted month to draft so it can be edited again.
func (s *Service) Reopen(ctx context.Context, caller auth.Principal, hospitalID, monthYear string) (Submission, error) {
	if !caller.IsAdmin() {
		return Submission{}, apperr.Forbidden("only admins can reopen a submission")
	}
	m, err := period.Parse(monthYear)
	if err != nil {
		return Submission{}, apperr.Invalid("%v", err)
	}
	e, err := s.stores.Entries.GetEntry(ctx, hospitalID, m.String())
	if err != nil {
		return Submission{}, fmt.Errorf("load entry: %w", err)
	}
	if !e.Submitted {
		return Submission{}, apperr.Conflict("%s for %s is not submitted", hospitalID, m)
	}
	e.Submitted, e.SubmittedAt, e.SubmittedBy = false, nil, ""
	f := form.Form{
		ID:         form.ID(hospitalID, m),
		HospitalID: hospitalID,
		Month:      int(m.Month),
		Year:       m.Year,
		Status:     form.StatusDraft,
	}
	savedEntry, savedForm, err := s.stores.Submissions.ReopenSubmission(ctx, e, f)
	if err != nil {
		return Submission{}, fmt.Errorf("reopen submission: %w", err)
	}
	metrics.RecordSubmission("reopened")
	s.invalidate(ctx, m)
	s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"hospital_id": hospitalID,
		"month_year":  m.String(),
		"user_id":     caller.UserID,
	}).Info("submission reopened")
	return Submission{Entry: savedEntry, Form: savedForm}, nil
}

// Reconcile rewrites form rows that disagree with their entry, treating the
// entry as authoritative, and creates missing form rows. An empty
// hospitalID checks every hospital. It returns the number of rows repaired.
func (s *Service) Reconcile(ctx context.Context, hospitalID string) (int, error) {
	entries, err := s.stores.Entries.ListEntries(ctx, entry.Filter{HospitalID: hospitalID})
	if err != nil {
		return 0, fmt.Errorf("list entries: %w", err)
	}
	forms, err := s.stores.Forms.ListForms(ctx, hospitalID)
	if err != nil {
		return 0, fmt.Errorf("list forms: %w", err)
	}
	byID := make(map[string]form.Form, len(forms))
	for _, f := range forms {
		byID[f.ID] = f
	}

	repaired := 0
	for _, e := range entries {
		m, err := period.Parse(e.MonthYear)
		if err != nil {
			s.log.WithField("entry_id", e.ID).WithError(err).Warn("skipping entry with bad month")
			continue
		}
		id := form.ID(e.HospitalID, m)
		f, ok := byID[id]
		if ok && f.Submitted == e.Submitted && (f.Status == form.StatusSubmitted) == e.Submitted {
			continue
		}
		f = form.Form{ID: id, HospitalID: e.HospitalID, Month: int(m.Month), Year: m.Year, Status: form.StatusDraft}
		if e.Submitted {
			f.Status, f.Submitted, f.SubmittedAt = form.StatusSubmitted, true, e.SubmittedAt
		}
		if _, err := s.stores.Forms.UpsertForm(ctx, f); err != nil {
			return repaired, fmt.Errorf("repair form %s: %w", id, err)
		}
		repaired++
		s.log.WithField("form_id", id).WithField("submitted", e.Submitted).Warn("form row repaired")
	}
	return repaired, nil
}

func (s *Service) invalidate(ctx context.Context, m period.Month) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, m); err != nil {
		s.log.WithError(err).WithField("month_year", m.String()).Warn("invalidate dashboard cache")
	}
}

func copyValues(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
