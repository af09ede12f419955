// Package supabase implements the storage interfaces on top of the
// Supabase REST API. It expects the same schema as the postgres store.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/greenhospital/reporting/internal/app/apperr"
	"github.com/greenhospital/reporting/internal/app/domain/entry"
	"github.com/greenhospital/reporting/internal/app/domain/form"
	"github.com/greenhospital/reporting/internal/app/domain/hospital"
	"github.com/greenhospital/reporting/internal/app/domain/notification"
	"github.com/greenhospital/reporting/internal/app/domain/profile"
	"github.com/greenhospital/reporting/internal/app/domain/reminder"
	"github.com/greenhospital/reporting/internal/app/domain/support"
	"github.com/greenhospital/reporting/internal/app/domain/variable"
	"github.com/greenhospital/reporting/internal/app/storage"
	sb "github.com/greenhospital/reporting/internal/supabase"
)

const (
	tableHospitals = "hospitals"
	tableVariables = "hospital_variables"
	tableProfiles  = "profiles"
	tableEntries   = "entries"
	tableForms     = "forms"
	tableSupport   = "support_messages"
	tableReminders = "reminders"
	tableStates    = "notification_states"
)

// Store implements storage.Store against PostgREST.
type Store struct {
	client *sb.Client
	now    func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using client.
func New(client *sb.Client) *Store {
	return &Store{client: client, now: time.Now}
}

// translate maps REST errors onto apperr kinds.
func translate(kind, id string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case sb.IsNotFound(err):
		return apperr.NotFound(kind, id)
	case sb.IsConflict(err):
		return apperr.Conflict("%s %s already exists", kind, id)
	}
	return fmt.Errorf("%s %s: %w", kind, id, err)
}

func first[T any](rows []T, kind, id string) (T, error) {
	var zero T
	if len(rows) == 0 {
		return zero, apperr.NotFound(kind, id)
	}
	return rows[0], nil
}

// --- HospitalStore ------------------------------------------------------------

type hospitalWrite struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Store) CreateHospital(ctx context.Context, h hospital.Hospital) (hospital.Hospital, error) {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	var rows []hospital.Hospital
	err := s.client.From(tableHospitals).Insert(ctx, hospitalWrite{
		ID: h.ID, Name: h.Name, Location: h.Location, UpdatedAt: s.now().UTC(),
	}, &rows)
	if err != nil {
		return hospital.Hospital{}, translate("hospital", h.ID, err)
	}
	return first(rows, "hospital", h.ID)
}

func (s *Store) UpdateHospital(ctx context.Context, h hospital.Hospital) (hospital.Hospital, error) {
	var rows []hospital.Hospital
	err := s.client.From(tableHospitals).Eq("id", h.ID).Update(ctx, hospitalWrite{
		Name: h.Name, Location: h.Location, UpdatedAt: s.now().UTC(),
	}, &rows)
	if err != nil {
		return hospital.Hospital{}, translate("hospital", h.ID, err)
	}
	return first(rows, "hospital", h.ID)
}

func (s *Store) GetHospital(ctx context.Context, id string) (hospital.Hospital, error) {
	var h hospital.Hospital
	if err := s.client.From(tableHospitals).Select("*").Eq("id", id).Single().Get(ctx, &h); err != nil {
		return hospital.Hospital{}, translate("hospital", id, err)
	}
	return h, nil
}

func (s *Store) ListHospitals(ctx context.Context) ([]hospital.Hospital, error) {
	rows := []hospital.Hospital{}
	err := s.client.From(tableHospitals).Select("*").Order("name", true).Order("id", true).Get(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("list hospitals: %w", err)
	}
	return rows, nil
}

func (s *Store) DeleteHospital(ctx context.Context, id string) error {
	n, err := s.client.From(tableHospitals).Eq("id", id).Delete(ctx)
	if err != nil {
		return translate("hospital", id, err)
	}
	if n == 0 {
		return apperr.NotFound("hospital", id)
	}
	return nil
}

// --- VariableStore ------------------------------------------------------------

type variableRow struct {
	HospitalID string    `json:"hospital_id"`
	Key        string    `json:"key"`
	Label      string    `json:"label"`
	Unit       string    `json:"unit"`
	Required   bool      `json:"required"`
	Min        *float64  `json:"min_value"`
	Max        *float64  `json:"max_value"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (r variableRow) model() variable.Variable {
	return variable.Variable{
		HospitalID: r.HospitalID,
		Key:        r.Key,
		Label:      r.Label,
		Unit:       r.Unit,
		Required:   r.Required,
		Min:        r.Min,
		Max:        r.Max,
		Enabled:    r.Enabled,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

type variableWrite struct {
	HospitalID string    `json:"hospital_id"`
	Key        string    `json:"key"`
	Label      string    `json:"label"`
	Unit       string    `json:"unit"`
	Required   bool      `json:"required"`
	Min        *float64  `json:"min_value"`
	Max        *float64  `json:"max_value"`
	Enabled    bool      `json:"enabled"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (s *Store) UpsertVariable(ctx context.Context, v variable.Variable) (variable.Variable, error) {
	var rows []variableRow
	err := s.client.From(tableVariables).Upsert(ctx, variableWrite{
		HospitalID: v.HospitalID,
		Key:        v.Key,
		Label:      v.Label,
		Unit:       v.Unit,
		Required:   v.Required,
		Min:        v.Min,
		Max:        v.Max,
		Enabled:    v.Enabled,
		UpdatedAt:  s.now().UTC(),
	}, "hospital_id,key", &rows)
	id := v.HospitalID + "/" + v.Key
	if err != nil {
		return variable.Variable{}, translate("variable", id, err)
	}
	row, err := first(rows, "variable", id)
	if err != nil {
		return variable.Variable{}, err
	}
	return row.model(), nil
}

func (s *Store) ListVariables(ctx context.Context, hospitalID string) ([]variable.Variable, error) {
	var rows []variableRow
	err := s.client.From(tableVariables).Select("*").Eq("hospital_id", hospitalID).Order("key", true).Get(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("list variables: %w", err)
	}
	out := make([]variable.Variable, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *Store) DeleteVariable(ctx context.Context, hospitalID, key string) error {
	n, err := s.client.From(tableVariables).Eq("hospital_id", hospitalID).Eq("key", key).Delete(ctx)
	id := hospitalID + "/" + key
	if err != nil {
		return translate("variable", id, err)
	}
	if n == 0 {
		return apperr.NotFound("variable", id)
	}
	return nil
}

// --- ProfileStore -------------------------------------------------------------

type profileWrite struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name"`
	Role       string    `json:"role"`
	HospitalID *string   `json:"hospital_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (s *Store) UpsertProfile(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	var rows []profile.Profile
	err := s.client.From(tableProfiles).Upsert(ctx, profileWrite{
		ID:         p.ID,
		Email:      p.Email,
		FullName:   p.FullName,
		Role:       string(p.Role),
		HospitalID: p.HospitalID,
		UpdatedAt:  s.now().UTC(),
	}, "id", &rows)
	if err != nil {
		return profile.Profile{}, translate("profile", p.ID, err)
	}
	return first(rows, "profile", p.ID)
}

func (s *Store) GetProfile(ctx context.Context, id string) (profile.Profile, error) {
	var p profile.Profile
	if err := s.client.From(tableProfiles).Select("*").Eq("id", id).Single().Get(ctx, &p); err != nil {
		return profile.Profile{}, translate("profile", id, err)
	}
	return p, nil
}

func (s *Store) GetProfileByEmail(ctx context.Context, email string) (profile.Profile, error) {
	var rows []profile.Profile
	err := s.client.From(tableProfiles).Select("*").ILike("email", escapeLike(email)).Limit(1).Get(ctx, &rows)
	if err != nil {
		return profile.Profile{}, translate("profile", email, err)
	}
	return first(rows, "profile", email)
}

func (s *Store) ListProfiles(ctx context.Context) ([]profile.Profile, error) {
	rows := []profile.Profile{}
	if err := s.client.From(tableProfiles).Select("*").Order("email", true).Get(ctx, &rows); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return rows, nil
}

func (s *Store) ListProfilesByHospital(ctx context.Context, hospitalID string) ([]profile.Profile, error) {
	rows := []profile.Profile{}
	err := s.client.From(tableProfiles).Select("*").Eq("hospital_id", hospitalID).Order("email", true).Get(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return rows, nil
}

// escapeLike makes s match literally under ILIKE.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// --- EntryStore ---------------------------------------------------------------

type entryWrite struct {
	ID          string             `json:"id"`
	HospitalID  string             `json:"hospital_id"`
	MonthYear   string             `json:"month_year"`
	Metrics     map[string]float64 `json:"metrics"`
	Notes       string             `json:"notes"`
	Submitted   bool               `json:"submitted"`
	SubmittedAt *time.Time         `json:"submitted_at"`
	SubmittedBy string             `json:"submitted_by"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func (s *Store) entryPayload(e entry.Entry) entryWrite {
	return entryWrite{
		ID:          e.ID,
		HospitalID:  e.HospitalID,
		MonthYear:   e.MonthYear,
		Metrics:     e.Metrics,
		Notes:       e.Notes,
		Submitted:   e.Submitted,
		SubmittedAt: e.SubmittedAt,
		SubmittedBy: e.SubmittedBy,
		UpdatedAt:   s.now().UTC(),
	}
}

// UpsertEntry keeps the existing row id for (hospital, month) so the
// merge never rewrites the primary key.
func (s *Store) UpsertEntry(ctx context.Context, e entry.Entry) (entry.Entry, error) {
	existing, err := s.GetEntry(ctx, e.HospitalID, e.MonthYear)
	switch {
	case err == nil:
		e.ID = existing.ID
	case errors.Is(err, apperr.ErrNotFound):
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
	default:
		return entry.Entry{}, err
	}
	if e.Metrics == nil {
		e.Metrics = map[string]float64{}
	}

	var rows []entry.Entry
	err = s.client.From(tableEntries).Upsert(ctx, s.entryPayload(e), "hospital_id,month_year", &rows)
	id := e.HospitalID + "/" + e.MonthYear
	if err != nil {
		return entry.Entry{}, translate("entry", id, err)
	}
	saved, err := first(rows, "entry", id)
	if err != nil {
		return entry.Entry{}, err
	}
	return normalizeEntry(saved), nil
}

func (s *Store) GetEntry(ctx context.Context, hospitalID, monthYear string) (entry.Entry, error) {
	var e entry.Entry
	err := s.client.From(tableEntries).Select("*").Eq("hospital_id", hospitalID).Eq("month_year", monthYear).Single().Get(ctx, &e)
	if err != nil {
		return entry.Entry{}, translate("entry", hospitalID+"/"+monthYear, err)
	}
	return normalizeEntry(e), nil
}

func (s *Store) ListEntries(ctx context.Context, filter entry.Filter) ([]entry.Entry, error) {
	q := s.client.From(tableEntries).Select("*")
	if filter.HospitalID != "" {
		q = q.Eq("hospital_id", filter.HospitalID)
	}
	if filter.From != "" {
		q = q.Gte("month_year", filter.From)
	}
	if filter.To != "" {
		q = q.Lte("month_year", filter.To)
	}
	if filter.Submitted != nil {
		q = q.Is("submitted", *filter.Submitted)
	}
	var rows []entry.Entry
	if err := q.Order("month_year", true).Order("hospital_id", true).Get(ctx, &rows); err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	out := make([]entry.Entry, 0, len(rows))
	for _, e := range rows {
		out = append(out, normalizeEntry(e))
	}
	return out, nil
}

func normalizeEntry(e entry.Entry) entry.Entry {
	if e.Metrics == nil {
		e.Metrics = map[string]float64{}
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	if e.SubmittedAt != nil {
		t := e.SubmittedAt.UTC()
		e.SubmittedAt = &t
	}
	return e
}

// --- FormStore ----------------------------------------------------------------

type formWrite struct {
	ID          string     `json:"id"`
	HospitalID  string     `json:"hospital_id"`
	Month       int        `json:"month"`
	Year        int        `json:"year"`
	Status      string     `json:"status"`
	Submitted   bool       `json:"submitted"`
	SubmittedAt *time.Time `json:"submitted_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (s *Store) UpsertForm(ctx context.Context, f form.Form) (form.Form, error) {
	var rows []form.Form
	err := s.client.From(tableForms).Upsert(ctx, formWrite{
		ID:          f.ID,
		HospitalID:  f.HospitalID,
		Month:       f.Month,
		Year:        f.Year,
		Status:      string(f.Status),
		Submitted:   f.Submitted,
		SubmittedAt: f.SubmittedAt,
		UpdatedAt:   s.now().UTC(),
	}, "id", &rows)
	if err != nil {
		return form.Form{}, translate("form", f.ID, err)
	}
	return first(rows, "form", f.ID)
}

func (s *Store) GetForm(ctx context.Context, id string) (form.Form, error) {
	var f form.Form
	if err := s.client.From(tableForms).Select("*").Eq("id", id).Single().Get(ctx, &f); err != nil {
		return form.Form{}, translate("form", id, err)
	}
	return f, nil
}

func (s *Store) ListForms(ctx context.Context, hospitalID string) ([]form.Form, error) {
	q := s.client.From(tableForms).Select("*")
	if hospitalID != "" {
		q = q.Eq("hospital_id", hospitalID)
	}
	rows := []form.Form{}
	if err := q.Order("year", true).Order("month", true).Order("hospital_id", true).Get(ctx, &rows); err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	return rows, nil
}

// --- SubmissionStore ----------------------------------------------------------

// SaveSubmission writes the entry, then the form row. PostgREST has no
// multi-request transactions, so a failed form write leaves the entry
// saved; forms.Service.Reconcile repairs that state.
//
// The entry write only touches a row that is still a draft: existing rows
// are patched with a submitted=false filter and new rows are inserted, so a
// submit that lands first makes this call fail with a conflict.
func (s *Store) SaveSubmission(ctx context.Context, e entry.Entry, f form.Form) (entry.Entry, form.Form, error) {
	savedEntry, err := s.saveDraftEntry(ctx, e)
	if err != nil {
		return entry.Entry{}, form.Form{}, err
	}
	savedForm, err := s.UpsertForm(ctx, f)
	if err != nil {
		return entry.Entry{}, form.Form{}, err
	}
	return savedEntry, savedForm, nil
}

// ReopenSubmission writes the entry and form back as given.
func (s *Store) ReopenSubmission(ctx context.Context, e entry.Entry, f form.Form) (entry.Entry, form.Form, error) {
	savedEntry, err := s.UpsertEntry(ctx, e)
	if err != nil {
		return entry.Entry{}, form.Form{}, err
	}
	savedForm, err := s.UpsertForm(ctx, f)
	if err != nil {
		return entry.Entry{}, form.Form{}, err
	}
	return savedEntry, savedForm, nil
}

func (s *Store) saveDraftEntry(ctx context.Context, e entry.Entry) (entry.Entry, error) {
	id := e.HospitalID + "/" + e.MonthYear
	submitted := apperr.Conflict("entry %s is already submitted", id)
	if e.Metrics == nil {
		e.Metrics = map[string]float64{}
	}

	// One retry covers a concurrent insert of the same month.
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.GetEntry(ctx, e.HospitalID, e.MonthYear)
		switch {
		case err == nil:
			if existing.Submitted {
				return entry.Entry{}, submitted
			}
			e.ID = existing.ID
			var rows []entry.Entry
			err = s.client.From(tableEntries).
				Eq("hospital_id", e.HospitalID).
				Eq("month_year", e.MonthYear).
				Is("submitted", false).
				Update(ctx, s.entryPayload(e), &rows)
			if err != nil {
				return entry.Entry{}, translate("entry", id, err)
			}
			if len(rows) == 0 {
				return entry.Entry{}, submitted
			}
			return normalizeEntry(rows[0]), nil

		case errors.Is(err, apperr.ErrNotFound):
			if e.ID == "" {
				e.ID = uuid.NewString()
			}
			var rows []entry.Entry
			err = s.client.From(tableEntries).Insert(ctx, s.entryPayload(e), &rows)
			if sb.IsConflict(err) {
				e.ID = ""
				continue
			}
			if err != nil {
				return entry.Entry{}, translate("entry", id, err)
			}
			saved, err := first(rows, "entry", id)
			if err != nil {
				return entry.Entry{}, err
			}
			return normalizeEntry(saved), nil

		default:
			return entry.Entry{}, err
		}
	}
	return entry.Entry{}, apperr.Conflict("entry %s changed concurrently", id)
}

// --- SupportStore -------------------------------------------------------------

type messageWrite struct {
	ID            string    `json:"id,omitempty"`
	UserID        string    `json:"user_id"`
	HospitalID    string    `json:"hospital_id"`
	Subject       string    `json:"subject"`
	Message       string    `json:"message"`
	Status        string    `json:"status"`
	AdminResponse *string   `json:"admin_response"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (s *Store) CreateSupportMessage(ctx context.Context, m support.Message) (support.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	var rows []support.Message
	err := s.client.From(tableSupport).Insert(ctx, messageWrite{
		ID:            m.ID,
		UserID:        m.UserID,
		HospitalID:    m.HospitalID,
		Subject:       m.Subject,
		Message:       m.Message,
		Status:        string(m.Status),
		AdminResponse: m.AdminResponse,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.CreatedAt,
	}, &rows)
	if err != nil {
		return support.Message{}, translate("support message", m.ID, err)
	}
	return first(rows, "support message", m.ID)
}

type messagePatch struct {
	Subject       string    `json:"subject"`
	Message       string    `json:"message"`
	Status        string    `json:"status"`
	AdminResponse *string   `json:"admin_response"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (s *Store) UpdateSupportMessage(ctx context.Context, m support.Message) (support.Message, error) {
	var rows []support.Message
	err := s.client.From(tableSupport).Eq("id", m.ID).Update(ctx, messagePatch{
		Subject:       m.Subject,
		Message:       m.Message,
		Status:        string(m.Status),
		AdminResponse: m.AdminResponse,
		UpdatedAt:     s.now().UTC(),
	}, &rows)
	if err != nil {
		return support.Message{}, translate("support message", m.ID, err)
	}
	return first(rows, "support message", m.ID)
}

func (s *Store) GetSupportMessage(ctx context.Context, id string) (support.Message, error) {
	var m support.Message
	if err := s.client.From(tableSupport).Select("*").Eq("id", id).Single().Get(ctx, &m); err != nil {
		return support.Message{}, translate("support message", id, err)
	}
	return m, nil
}

func (s *Store) ListSupportMessages(ctx context.Context, filter support.Filter) ([]support.Message, error) {
	q := s.client.From(tableSupport).Select("*")
	if filter.UserID != "" {
		q = q.Eq("user_id", filter.UserID)
	}
	if filter.HospitalID != "" {
		q = q.Eq("hospital_id", filter.HospitalID)
	}
	if filter.Status != "" {
		q = q.Eq("status", string(filter.Status))
	}
	rows := []support.Message{}
	if err := q.Order("created_at", false).Limit(filter.Limit).Get(ctx, &rows); err != nil {
		return nil, fmt.Errorf("list support messages: %w", err)
	}
	return rows, nil
}

// --- ReminderStore ------------------------------------------------------------

func (s *Store) CreateReminder(ctx context.Context, r reminder.Reminder) (reminder.Reminder, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.SentAt.IsZero() {
		r.SentAt = s.now().UTC()
	}
	var rows []reminder.Reminder
	if err := s.client.From(tableReminders).Insert(ctx, r, &rows); err != nil {
		return reminder.Reminder{}, translate("reminder", r.ID, err)
	}
	return first(rows, "reminder", r.ID)
}

func (s *Store) ListReminders(ctx context.Context, hospitalID string, limit int) ([]reminder.Reminder, error) {
	q := s.client.From(tableReminders).Select("*")
	if hospitalID != "" {
		q = q.Eq("hospital_id", hospitalID)
	}
	rows := []reminder.Reminder{}
	if err := q.Order("sent_at", false).Limit(limit).Get(ctx, &rows); err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	return rows, nil
}

// --- NotificationStateStore ---------------------------------------------------

func (s *Store) SaveNotificationState(ctx context.Context, st notification.State) error {
	st.UpdatedAt = s.now().UTC()
	if err := s.client.From(tableStates).Upsert(ctx, st, "user_id,notification_id", nil); err != nil {
		return translate("notification state", st.NotificationID, err)
	}
	return nil
}

func (s *Store) ListNotificationStates(ctx context.Context, userID string) ([]notification.State, error) {
	rows := []notification.State{}
	err := s.client.From(tableStates).Select("*").Eq("user_id", userID).Order("notification_id", true).Get(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("list notification states: %w", err)
	}
	return rows, nil
}
