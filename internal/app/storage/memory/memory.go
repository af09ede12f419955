package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
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
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu        sync.RWMutex
	hospitals map[string]hospital.Hospital
	variables map[string]map[string]variable.Variable // hospital -> key
	profiles  map[string]profile.Profile
	entries   map[string]entry.Entry // hospital|month
	forms     map[string]form.Form
	messages  map[string]support.Message
	reminders []reminder.Reminder
	states    map[string]map[string]notification.State // user -> notification
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		hospitals: make(map[string]hospital.Hospital),
		variables: make(map[string]map[string]variable.Variable),
		profiles:  make(map[string]profile.Profile),
		entries:   make(map[string]entry.Entry),
		forms:     make(map[string]form.Form),
		messages:  make(map[string]support.Message),
		states:    make(map[string]map[string]notification.State),
	}
}

func entryKey(hospitalID, monthYear string) string {
	return hospitalID + "|" + monthYear
}

// --- HospitalStore ------------------------------------------------------------

func (s *Store) CreateHospital(_ context.Context, h hospital.Hospital) (hospital.Hospital, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.ID == "" {
		h.ID = uuid.NewString()
	} else if _, exists := s.hospitals[h.ID]; exists {
		return hospital.Hospital{}, apperr.Conflict("hospital %s already exists", h.ID)
	}
	now := time.Now().UTC()
	h.CreatedAt = now
	h.UpdatedAt = now
	s.hospitals[h.ID] = h
	return h, nil
}

func (s *Store) UpdateHospital(_ context.Context, h hospital.Hospital) (hospital.Hospital, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.hospitals[h.ID]
	if !ok {
		return hospital.Hospital{}, apperr.NotFound("hospital", h.ID)
	}
	h.CreatedAt = existing.CreatedAt
	h.UpdatedAt = time.Now().UTC()
	s.hospitals[h.ID] = h
	return h, nil
}

func (s *Store) GetHospital(_ context.Context, id string) (hospital.Hospital, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.hospitals[id]
	if !ok {
		return hospital.Hospital{}, apperr.NotFound("hospital", id)
	}
	return h, nil
}

func (s *Store) ListHospitals(_ context.Context) ([]hospital.Hospital, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]hospital.Hospital, 0, len(s.hospitals))
	for _, h := range s.hospitals {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteHospital(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.hospitals[id]; !ok {
		return apperr.NotFound("hospital", id)
	}
	delete(s.hospitals, id)
	delete(s.variables, id)
	return nil
}

// --- VariableStore ------------------------------------------------------------

func (s *Store) UpsertVariable(_ context.Context, v variable.Variable) (variable.Variable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey, ok := s.variables[v.HospitalID]
	if !ok {
		byKey = make(map[string]variable.Variable)
		s.variables[v.HospitalID] = byKey
	}
	now := time.Now().UTC()
	if existing, ok := byKey[v.Key]; ok {
		v.CreatedAt = existing.CreatedAt
	} else {
		v.CreatedAt = now
	}
	v.UpdatedAt = now
	byKey[v.Key] = cloneVariable(v)
	return v, nil
}

func (s *Store) ListVariables(_ context.Context, hospitalID string) ([]variable.Variable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]variable.Variable, 0, len(s.variables[hospitalID]))
	for _, v := range s.variables[hospitalID] {
		out = append(out, cloneVariable(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) DeleteVariable(_ context.Context, hospitalID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.variables[hospitalID][key]; !ok {
		return apperr.NotFound("variable", hospitalID+"/"+key)
	}
	delete(s.variables[hospitalID], key)
	return nil
}

// --- ProfileStore -------------------------------------------------------------

func (s *Store) UpsertProfile(_ context.Context, p profile.Profile) (profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if existing, ok := s.profiles[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.profiles[p.ID] = cloneProfile(p)
	return p, nil
}

func (s *Store) GetProfile(_ context.Context, id string) (profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return profile.Profile{}, apperr.NotFound("profile", id)
	}
	return cloneProfile(p), nil
}

func (s *Store) GetProfileByEmail(_ context.Context, email string) (profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.profiles {
		if strings.EqualFold(p.Email, email) {
			return cloneProfile(p), nil
		}
	}
	return profile.Profile{}, apperr.NotFound("profile", email)
}

func (s *Store) ListProfiles(_ context.Context) ([]profile.Profile, error) {
	return s.listProfiles(func(profile.Profile) bool { return true }), nil
}

func (s *Store) ListProfilesByHospital(_ context.Context, hospitalID string) ([]profile.Profile, error) {
	return s.listProfiles(func(p profile.Profile) bool { return p.Hospital() == hospitalID }), nil
}

func (s *Store) listProfiles(keep func(profile.Profile) bool) []profile.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]profile.Profile, 0)
	for _, p := range s.profiles {
		if keep(p) {
			out = append(out, cloneProfile(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

// --- EntryStore ---------------------------------------------------------------

func (s *Store) UpsertEntry(_ context.Context, e entry.Entry) (entry.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertEntryLocked(e), nil
}

func (s *Store) upsertEntryLocked(e entry.Entry) entry.Entry {
	key := entryKey(e.HospitalID, e.MonthYear)
	now := time.Now().UTC()
	if existing, ok := s.entries[key]; ok {
		e.ID = existing.ID
		e.CreatedAt = existing.CreatedAt
	} else {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	e = cloneEntry(e)
	s.entries[key] = e
	return cloneEntry(e)
}

func (s *Store) GetEntry(_ context.Context, hospitalID, monthYear string) (entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[entryKey(hospitalID, monthYear)]
	if !ok {
		return entry.Entry{}, apperr.NotFound("entry", hospitalID+"/"+monthYear)
	}
	return cloneEntry(e), nil
}

func (s *Store) ListEntries(_ context.Context, filter entry.Filter) ([]entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entry.Entry, 0)
	for _, e := range s.entries {
		if filter.Matches(e) {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MonthYear != out[j].MonthYear {
			return out[i].MonthYear < out[j].MonthYear
		}
		return out[i].HospitalID < out[j].HospitalID
	})
	return out, nil
}

// --- FormStore ----------------------------------------------------------------

func (s *Store) UpsertForm(_ context.Context, f form.Form) (form.Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertFormLocked(f), nil
}

func (s *Store) upsertFormLocked(f form.Form) form.Form {
	now := time.Now().UTC()
	if existing, ok := s.forms[f.ID]; ok {
		f.CreatedAt = existing.CreatedAt
	} else {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	s.forms[f.ID] = f
	return f
}

func (s *Store) GetForm(_ context.Context, id string) (form.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.forms[id]
	if !ok {
		return form.Form{}, apperr.NotFound("form", id)
	}
	return f, nil
}

func (s *Store) ListForms(_ context.Context, hospitalID string) ([]form.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]form.Form, 0)
	for _, f := range s.forms {
		if hospitalID == "" || f.HospitalID == hospitalID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		if out[i].Month != out[j].Month {
			return out[i].Month < out[j].Month
		}
		return out[i].HospitalID < out[j].HospitalID
	})
	return out, nil
}

// --- SubmissionStore ----------------------------------------------------------

func (s *Store) SaveSubmission(_ context.Context, e entry.Entry, f form.Form) (entry.Entry, form.Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[entryKey(e.HospitalID, e.MonthYear)]; ok && existing.Submitted {
		return entry.Entry{}, form.Form{}, apperr.Conflict("entry %s/%s is already submitted", e.HospitalID, e.MonthYear)
	}
	return s.upsertEntryLocked(e), s.upsertFormLocked(f), nil
}

func (s *Store) ReopenSubmission(_ context.Context, e entry.Entry, f form.Form) (entry.Entry, form.Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertEntryLocked(e), s.upsertFormLocked(f), nil
}

// --- SupportStore -------------------------------------------------------------

func (s *Store) CreateSupportMessage(_ context.Context, m support.Message) (support.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = m.CreatedAt
	s.messages[m.ID] = cloneMessage(m)
	return m, nil
}

func (s *Store) UpdateSupportMessage(_ context.Context, m support.Message) (support.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.messages[m.ID]
	if !ok {
		return support.Message{}, apperr.NotFound("support message", m.ID)
	}
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = time.Now().UTC()
	s.messages[m.ID] = cloneMessage(m)
	return m, nil
}

func (s *Store) GetSupportMessage(_ context.Context, id string) (support.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return support.Message{}, apperr.NotFound("support message", id)
	}
	return cloneMessage(m), nil
}

func (s *Store) ListSupportMessages(_ context.Context, filter support.Filter) ([]support.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]support.Message, 0)
	for _, m := range s.messages {
		if filter.Matches(m) {
			out = append(out, cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- ReminderStore ------------------------------------------------------------

func (s *Store) CreateReminder(_ context.Context, r reminder.Reminder) (reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.SentAt.IsZero() {
		r.SentAt = time.Now().UTC()
	}
	s.reminders = append(s.reminders, r)
	return r, nil
}

func (s *Store) ListReminders(_ context.Context, hospitalID string, limit int) ([]reminder.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]reminder.Reminder, 0)
	for i := len(s.reminders) - 1; i >= 0; i-- {
		r := s.reminders[i]
		if hospitalID != "" && r.HospitalID != hospitalID {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- NotificationStateStore ---------------------------------------------------

func (s *Store) SaveNotificationState(_ context.Context, st notification.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.states[st.UserID]
	if !ok {
		byID = make(map[string]notification.State)
		s.states[st.UserID] = byID
	}
	st.UpdatedAt = time.Now().UTC()
	byID[st.NotificationID] = st
	return nil
}

func (s *Store) ListNotificationStates(_ context.Context, userID string) ([]notification.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]notification.State, 0, len(s.states[userID]))
	for _, st := range s.states[userID] {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NotificationID < out[j].NotificationID })
	return out, nil
}

// --- clone helpers ------------------------------------------------------------

func cloneEntry(e entry.Entry) entry.Entry {
	if e.Metrics != nil {
		m := make(map[string]float64, len(e.Metrics))
		for k, v := range e.Metrics {
			m[k] = v
		}
		e.Metrics = m
	}
	if e.SubmittedAt != nil {
		t := *e.SubmittedAt
		e.SubmittedAt = &t
	}
	return e
}

func cloneProfile(p profile.Profile) profile.Profile {
	if p.HospitalID != nil {
		id := *p.HospitalID
		p.HospitalID = &id
	}
	return p
}

func cloneMessage(m support.Message) support.Message {
	if m.AdminResponse != nil {
		r := *m.AdminResponse
		m.AdminResponse = &r
	}
	return m
}

func cloneVariable(v variable.Variable) variable.Variable {
	if v.Min != nil {
		min := *v.Min
		v.Min = &min
	}
	if v.Max != nil {
		max := *v.Max
		v.Max = &max
	}
	return v
}
