package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/greenhospital/reporting/internal/app/domain/entry"
	"github.com/greenhospital/reporting/internal/app/domain/form"
	"github.com/greenhospital/reporting/internal/app/domain/hospital"
	"github.com/greenhospital/reporting/internal/app/domain/notification"
	"github.com/greenhospital/reporting/internal/app/domain/profile"
	"github.com/greenhospital/reporting/internal/app/domain/reminder"
	"github.com/greenhospital/reporting/internal/app/domain/support"
	"github.com/greenhospital/reporting/internal/app/domain/variable"
)

type hospitalRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Location  string    `db:"location"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r hospitalRow) model() hospital.Hospital {
	return hospital.Hospital{ID: r.ID, Name: r.Name, Location: r.Location, CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC()}
}

type variableRow struct {
	HospitalID string          `db:"hospital_id"`
	Key        string          `db:"key"`
	Label      string          `db:"label"`
	Unit       string          `db:"unit"`
	Required   bool            `db:"required"`
	Min        sql.NullFloat64 `db:"min_value"`
	Max        sql.NullFloat64 `db:"max_value"`
	Enabled    bool            `db:"enabled"`
	CreatedAt  time.Time       `db:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at"`
}

func (r variableRow) model() variable.Variable {
	return variable.Variable{
		HospitalID: r.HospitalID,
		Key:        r.Key,
		Label:      r.Label,
		Unit:       r.Unit,
		Required:   r.Required,
		Min:        fromNullFloat(r.Min),
		Max:        fromNullFloat(r.Max),
		Enabled:    r.Enabled,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

type profileRow struct {
	ID         string         `db:"id"`
	Email      string         `db:"email"`
	FullName   string         `db:"full_name"`
	Role       string         `db:"role"`
	HospitalID sql.NullString `db:"hospital_id"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (r profileRow) model() profile.Profile {
	return profile.Profile{
		ID:         r.ID,
		Email:      r.Email,
		FullName:   r.FullName,
		Role:       profile.Role(r.Role),
		HospitalID: fromNullString(r.HospitalID),
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

type entryRow struct {
	ID          string       `db:"id"`
	HospitalID  string       `db:"hospital_id"`
	MonthYear   string       `db:"month_year"`
	Metrics     []byte       `db:"metrics"`
	Notes       string       `db:"notes"`
	Submitted   bool         `db:"submitted"`
	SubmittedAt sql.NullTime `db:"submitted_at"`
	SubmittedBy string       `db:"submitted_by"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

func (r entryRow) model() (entry.Entry, error) {
	e := entry.Entry{
		ID:          r.ID,
		HospitalID:  r.HospitalID,
		MonthYear:   r.MonthYear,
		Notes:       r.Notes,
		Submitted:   r.Submitted,
		SubmittedAt: fromNullTime(r.SubmittedAt),
		SubmittedBy: r.SubmittedBy,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if len(r.Metrics) > 0 {
		if err := json.Unmarshal(r.Metrics, &e.Metrics); err != nil {
			return entry.Entry{}, err
		}
	}
	if e.Metrics == nil {
		e.Metrics = map[string]float64{}
	}
	return e, nil
}

type formRow struct {
	ID          string       `db:"id"`
	HospitalID  string       `db:"hospital_id"`
	Month       int          `db:"month"`
	Year        int          `db:"year"`
	Status      string       `db:"status"`
	Submitted   bool         `db:"submitted"`
	SubmittedAt sql.NullTime `db:"submitted_at"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

func (r formRow) model() form.Form {
	return form.Form{
		ID:          r.ID,
		HospitalID:  r.HospitalID,
		Month:       r.Month,
		Year:        r.Year,
		Status:      form.Status(r.Status),
		Submitted:   r.Submitted,
		SubmittedAt: fromNullTime(r.SubmittedAt),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type messageRow struct {
	ID            string         `db:"id"`
	UserID        string         `db:"user_id"`
	HospitalID    string         `db:"hospital_id"`
	Subject       string         `db:"subject"`
	Message       string         `db:"message"`
	Status        string         `db:"status"`
	AdminResponse sql.NullString `db:"admin_response"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r messageRow) model() support.Message {
	return support.Message{
		ID:            r.ID,
		UserID:        r.UserID,
		HospitalID:    r.HospitalID,
		Subject:       r.Subject,
		Message:       r.Message,
		Status:        support.Status(r.Status),
		AdminResponse: fromNullString(r.AdminResponse),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

type reminderRow struct {
	ID         string    `db:"id"`
	HospitalID string    `db:"hospital_id"`
	Recipient  string    `db:"recipient"`
	MonthYear  string    `db:"month_year"`
	Channel    string    `db:"channel"`
	SentBy     string    `db:"sent_by"`
	Status     string    `db:"status"`
	Error      string    `db:"error"`
	SentAt     time.Time `db:"sent_at"`
}

func (r reminderRow) model() reminder.Reminder {
	return reminder.Reminder{
		ID:         r.ID,
		HospitalID: r.HospitalID,
		Recipient:  r.Recipient,
		MonthYear:  r.MonthYear,
		Channel:    r.Channel,
		SentBy:     r.SentBy,
		Status:     reminder.Status(r.Status),
		Error:      r.Error,
		SentAt:     r.SentAt.UTC(),
	}
}

type stateRow struct {
	UserID         string    `db:"user_id"`
	NotificationID string    `db:"notification_id"`
	Read           bool      `db:"read"`
	Dismissed      bool      `db:"dismissed"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r stateRow) model() notification.State {
	return notification.State{
		UserID:         r.UserID,
		NotificationID: r.NotificationID,
		Read:           r.Read,
		Dismissed:      r.Dismissed,
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func toNullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func fromNullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
