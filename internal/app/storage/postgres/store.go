package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

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

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// translate maps driver errors onto apperr kinds.
func translate(kind, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(kind, id)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return apperr.Conflict("%s %s already exists", kind, id)
		case "23503":
			return apperr.Invalid("%s %s references a missing row", kind, id)
		}
	}
	return fmt.Errorf("%s %s: %w", kind, id, err)
}

func requireAffected(res sql.Result, kind, id string) error {
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperr.NotFound(kind, id)
	}
	return nil
}

// --- HospitalStore ------------------------------------------------------------

func (s *Store) CreateHospital(ctx context.Context, h hospital.Hospital) (hospital.Hospital, error) {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	h.CreatedAt = now
	h.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hospitals (id, name, location, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, h.ID, h.Name, h.Location, h.CreatedAt, h.UpdatedAt)
	if err != nil {
		return hospital.Hospital{}, translate("hospital", h.ID, err)
	}
	return h, nil
}

func (s *Store) UpdateHospital(ctx context.Context, h hospital.Hospital) (hospital.Hospital, error) {
	existing, err := s.GetHospital(ctx, h.ID)
	if err != nil {
		return hospital.Hospital{}, err
	}
	h.CreatedAt = existing.CreatedAt
	h.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE hospitals
		SET name = $2, location = $3, updated_at = $4
		WHERE id = $1
	`, h.ID, h.Name, h.Location, h.UpdatedAt)
	if err != nil {
		return hospital.Hospital{}, translate("hospital", h.ID, err)
	}
	if err := requireAffected(res, "hospital", h.ID); err != nil {
		return hospital.Hospital{}, err
	}
	return h, nil
}

func (s *Store) GetHospital(ctx context.Context, id string) (hospital.Hospital, error) {
	var row hospitalRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, location, created_at, updated_at
		FROM hospitals
		WHERE id = $1
	`, id)
	if err != nil {
		return hospital.Hospital{}, translate("hospital", id, err)
	}
	return row.model(), nil
}

func (s *Store) ListHospitals(ctx context.Context) ([]hospital.Hospital, error) {
	var rows []hospitalRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, location, created_at, updated_at
		FROM hospitals
		ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list hospitals: %w", err)
	}
	out := make([]hospital.Hospital, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *Store) DeleteHospital(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM hospitals WHERE id = $1`, id)
	if err != nil {
		return translate("hospital", id, err)
	}
	return requireAffected(res, "hospital", id)
}

// --- VariableStore ------------------------------------------------------------

func (s *Store) UpsertVariable(ctx context.Context, v variable.Variable) (variable.Variable, error) {
	now := time.Now().UTC()
	var row variableRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO hospital_variables (hospital_id, key, label, unit, required, min_value, max_value, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (hospital_id, key) DO UPDATE
		SET label = EXCLUDED.label, unit = EXCLUDED.unit, required = EXCLUDED.required,
		    min_value = EXCLUDED.min_value, max_value = EXCLUDED.max_value,
		    enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at
		RETURNING hospital_id, key, label, unit, required, min_value, max_value, enabled, created_at, updated_at
	`, v.HospitalID, v.Key, v.Label, v.Unit, v.Required, toNullFloat(v.Min), toNullFloat(v.Max), v.Enabled, now)
	if err != nil {
		return variable.Variable{}, translate("variable", v.HospitalID+"/"+v.Key, err)
	}
	return row.model(), nil
}

func (s *Store) ListVariables(ctx context.Context, hospitalID string) ([]variable.Variable, error) {
	var rows []variableRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT hospital_id, key, label, unit, required, min_value, max_value, enabled, created_at, updated_at
		FROM hospital_variables
		WHERE hospital_id = $1
		ORDER BY key
	`, hospitalID)
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
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM hospital_variables WHERE hospital_id = $1 AND key = $2
	`, hospitalID, key)
	if err != nil {
		return translate("variable", hospitalID+"/"+key, err)
	}
	return requireAffected(res, "variable", hospitalID+"/"+key)
}

// --- ProfileStore -------------------------------------------------------------

const profileColumns = `id, email, full_name, role, hospital_id, created_at, updated_at`

func (s *Store) UpsertProfile(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	var row profileRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO profiles (id, email, full_name, role, hospital_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email, full_name = EXCLUDED.full_name, role = EXCLUDED.role,
		    hospital_id = EXCLUDED.hospital_id, updated_at = EXCLUDED.updated_at
		RETURNING `+profileColumns,
		p.ID, p.Email, p.FullName, string(p.Role), toNullString(p.HospitalID), now)
	if err != nil {
		return profile.Profile{}, translate("profile", p.ID, err)
	}
	return row.model(), nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (profile.Profile, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	if err != nil {
		return profile.Profile{}, translate("profile", id, err)
	}
	return row.model(), nil
}

func (s *Store) GetProfileByEmail(ctx context.Context, email string) (profile.Profile, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row, `SELECT `+profileColumns+` FROM profiles WHERE lower(email) = lower($1)`, email)
	if err != nil {
		return profile.Profile{}, translate("profile", email, err)
	}
	return row.model(), nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]profile.Profile, error) {
	return s.selectProfiles(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY email`)
}

func (s *Store) ListProfilesByHospital(ctx context.Context, hospitalID string) ([]profile.Profile, error) {
	return s.selectProfiles(ctx, `SELECT `+profileColumns+` FROM profiles WHERE hospital_id = $1 ORDER BY email`, hospitalID)
}

func (s *Store) selectProfiles(ctx context.Context, query string, args ...interface{}) ([]profile.Profile, error) {
	var rows []profileRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	out := make([]profile.Profile, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// --- EntryStore ---------------------------------------------------------------

const entryColumns = `id, hospital_id, month_year, metrics, notes, submitted, submitted_at, submitted_by, created_at, updated_at`

func (s *Store) UpsertEntry(ctx context.Context, e entry.Entry) (entry.Entry, error) {
	return upsertEntry(ctx, s.db, e, false)
}

// upsertEntry inserts or replaces the entry for its hospital and month. With
// draftOnly set, a row that is already submitted is left untouched and the
// call fails with a conflict.
func upsertEntry(ctx context.Context, q sqlx.QueryerContext, e entry.Entry, draftOnly bool) (entry.Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	metrics := e.Metrics
	if metrics == nil {
		metrics = map[string]float64{}
	}
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return entry.Entry{}, err
	}
	now := time.Now().UTC()
	guard := ""
	if draftOnly {
		guard = "WHERE entries.submitted = false"
	}

	var row entryRow
	err = sqlx.GetContext(ctx, q, &row, `
		INSERT INTO entries (id, hospital_id, month_year, metrics, notes, submitted, submitted_at, submitted_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (hospital_id, month_year) DO UPDATE
		SET metrics = EXCLUDED.metrics, notes = EXCLUDED.notes, submitted = EXCLUDED.submitted,
		    submitted_at = EXCLUDED.submitted_at, submitted_by = EXCLUDED.submitted_by,
		    updated_at = EXCLUDED.updated_at
		`+guard+`
		RETURNING `+entryColumns,
		e.ID, e.HospitalID, e.MonthYear, metricsJSON, e.Notes, e.Submitted, toNullTime(e.SubmittedAt), e.SubmittedBy, now)
	if draftOnly && errors.Is(err, sql.ErrNoRows) {
		return entry.Entry{}, apperr.Conflict("entry %s/%s is already submitted", e.HospitalID, e.MonthYear)
	}
	if err != nil {
		return entry.Entry{}, translate("entry", e.HospitalID+"/"+e.MonthYear, err)
	}
	return row.model()
}

func (s *Store) GetEntry(ctx context.Context, hospitalID, monthYear string) (entry.Entry, error) {
	var row entryRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE hospital_id = $1 AND month_year = $2
	`, hospitalID, monthYear)
	if err != nil {
		return entry.Entry{}, translate("entry", hospitalID+"/"+monthYear, err)
	}
	return row.model()
}

func (s *Store) ListEntries(ctx context.Context, filter entry.Filter) ([]entry.Entry, error) {
	var submitted sql.NullBool
	if filter.Submitted != nil {
		submitted = sql.NullBool{Bool: *filter.Submitted, Valid: true}
	}
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE ($1 = '' OR hospital_id = $1)
		  AND ($2 = '' OR month_year >= $2)
		  AND ($3 = '' OR month_year <= $3)
		  AND ($4::boolean IS NULL OR submitted = $4)
		ORDER BY month_year, hospital_id
	`, filter.HospitalID, filter.From, filter.To, submitted)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	out := make([]entry.Entry, 0, len(rows))
	for _, r := range rows {
		e, err := r.model()
		if err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", r.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// --- FormStore ----------------------------------------------------------------

const formColumns = `id, hospital_id, month, year, status, submitted, submitted_at, created_at, updated_at`

func (s *Store) UpsertForm(ctx context.Context, f form.Form) (form.Form, error) {
	return upsertForm(ctx, s.db, f)
}

func upsertForm(ctx context.Context, q sqlx.QueryerContext, f form.Form) (form.Form, error) {
	now := time.Now().UTC()
	var row formRow
	err := sqlx.GetContext(ctx, q, &row, `
		INSERT INTO forms (id, hospital_id, month, year, status, submitted, submitted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, submitted = EXCLUDED.submitted,
		    submitted_at = EXCLUDED.submitted_at, updated_at = EXCLUDED.updated_at
		RETURNING `+formColumns,
		f.ID, f.HospitalID, f.Month, f.Year, string(f.Status), f.Submitted, toNullTime(f.SubmittedAt), now)
	if err != nil {
		return form.Form{}, translate("form", f.ID, err)
	}
	return row.model(), nil
}

func (s *Store) GetForm(ctx context.Context, id string) (form.Form, error) {
	var row formRow
	err := s.db.GetContext(ctx, &row, `SELECT `+formColumns+` FROM forms WHERE id = $1`, id)
	if err != nil {
		return form.Form{}, translate("form", id, err)
	}
	return row.model(), nil
}

func (s *Store) ListForms(ctx context.Context, hospitalID string) ([]form.Form, error) {
	var rows []formRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+formColumns+`
		FROM forms
		WHERE $1 = '' OR hospital_id = $1
		ORDER BY year, month, hospital_id
	`, hospitalID)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	out := make([]form.Form, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// --- SubmissionStore ----------------------------------------------------------

// SaveSubmission upserts the entry and its form row in one transaction. The
// entry upsert only updates rows that are still drafts.
func (s *Store) SaveSubmission(ctx context.Context, e entry.Entry, f form.Form) (entry.Entry, form.Form, error) {
	return s.saveSubmission(ctx, e, f, true)
}

// ReopenSubmission writes the entry and form back as given, in one transaction.
func (s *Store) ReopenSubmission(ctx context.Context, e entry.Entry, f form.Form) (entry.Entry, form.Form, error) {
	return s.saveSubmission(ctx, e, f, false)
}

func (s *Store) saveSubmission(ctx context.Context, e entry.Entry, f form.Form, draftOnly bool) (entry.Entry, form.Form, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return entry.Entry{}, form.Form{}, fmt.Errorf("begin submission: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	savedEntry, err := upsertEntry(ctx, tx, e, draftOnly)
	if err != nil {
		return entry.Entry{}, form.Form{}, err
	}
	savedForm, err := upsertForm(ctx, tx, f)
	if err != nil {
		return entry.Entry{}, form.Form{}, err
	}
	if err := tx.Commit(); err != nil {
		return entry.Entry{}, form.Form{}, fmt.Errorf("commit submission: %w", err)
	}
	return savedEntry, savedForm, nil
}

// --- SupportStore -------------------------------------------------------------

const messageColumns = `id, user_id, hospital_id, subject, message, status, admin_response, created_at, updated_at`

func (s *Store) CreateSupportMessage(ctx context.Context, m support.Message) (support.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.UpdatedAt = m.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO support_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, m.ID, m.UserID, m.HospitalID, m.Subject, m.Message, string(m.Status), toNullString(m.AdminResponse), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return support.Message{}, translate("support message", m.ID, err)
	}
	return m, nil
}

func (s *Store) UpdateSupportMessage(ctx context.Context, m support.Message) (support.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE support_messages
		SET subject = $2, message = $3, status = $4, admin_response = $5, updated_at = $6
		WHERE id = $1
		RETURNING `+messageColumns,
		m.ID, m.Subject, m.Message, string(m.Status), toNullString(m.AdminResponse), time.Now().UTC())
	if err != nil {
		return support.Message{}, translate("support message", m.ID, err)
	}
	return row.model(), nil
}

func (s *Store) GetSupportMessage(ctx context.Context, id string) (support.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM support_messages WHERE id = $1`, id)
	if err != nil {
		return support.Message{}, translate("support message", id, err)
	}
	return row.model(), nil
}

func (s *Store) ListSupportMessages(ctx context.Context, filter support.Filter) ([]support.Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+messageColumns+`
		FROM support_messages
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2 = '' OR hospital_id = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC
		LIMIT NULLIF($4, 0)
	`, filter.UserID, filter.HospitalID, string(filter.Status), filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("list support messages: %w", err)
	}
	out := make([]support.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// --- ReminderStore ------------------------------------------------------------

func (s *Store) CreateReminder(ctx context.Context, r reminder.Reminder) (reminder.Reminder, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.SentAt.IsZero() {
		r.SentAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (id, hospital_id, recipient, month_year, channel, sent_by, status, error, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.HospitalID, r.Recipient, r.MonthYear, r.Channel, r.SentBy, string(r.Status), r.Error, r.SentAt)
	if err != nil {
		return reminder.Reminder{}, translate("reminder", r.ID, err)
	}
	return r, nil
}

func (s *Store) ListReminders(ctx context.Context, hospitalID string, limit int) ([]reminder.Reminder, error) {
	var rows []reminderRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, hospital_id, recipient, month_year, channel, sent_by, status, error, sent_at
		FROM reminders
		WHERE $1 = '' OR hospital_id = $1
		ORDER BY sent_at DESC
		LIMIT NULLIF($2, 0)
	`, hospitalID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	out := make([]reminder.Reminder, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// --- NotificationStateStore ---------------------------------------------------

func (s *Store) SaveNotificationState(ctx context.Context, st notification.State) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_states (user_id, notification_id, read, dismissed, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, notification_id) DO UPDATE
		SET read = EXCLUDED.read, dismissed = EXCLUDED.dismissed, updated_at = EXCLUDED.updated_at
	`, st.UserID, st.NotificationID, st.Read, st.Dismissed, time.Now().UTC())
	if err != nil {
		return translate("notification state", st.NotificationID, err)
	}
	return nil
}

func (s *Store) ListNotificationStates(ctx context.Context, userID string) ([]notification.State, error) {
	var rows []stateRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT user_id, notification_id, read, dismissed, updated_at
		FROM notification_states
		WHERE user_id = $1
		ORDER BY notification_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notification states: %w", err)
	}
	out := make([]notification.State, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}
