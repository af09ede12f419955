// Package storage declares the persistence interfaces the services depend
// on. Implementations live in the memory, postgres and supabase
// subpackages. Lookups of missing rows return errors matching
// apperr.ErrNotFound.
package storage

import (
	"context"

	"github.com/greenhospital/reporting/internal/app/domain/entry"
	"github.com/greenhospital/reporting/internal/app/domain/form"
	"github.com/greenhospital/reporting/internal/app/domain/hospital"
	"github.com/greenhospital/reporting/internal/app/domain/notification"
	"github.com/greenhospital/reporting/internal/app/domain/profile"
	"github.com/greenhospital/reporting/internal/app/domain/reminder"
	"github.com/greenhospital/reporting/internal/app/domain/support"
	"github.com/greenhospital/reporting/internal/app/domain/variable"
)

// HospitalStore persists hospitals.
type HospitalStore interface {
	CreateHospital(ctx context.Context, h hospital.Hospital) (hospital.Hospital, error)
	UpdateHospital(ctx context.Context, h hospital.Hospital) (hospital.Hospital, error)
	GetHospital(ctx context.Context, id string) (hospital.Hospital, error)
	ListHospitals(ctx context.Context) ([]hospital.Hospital, error)
	DeleteHospital(ctx context.Context, id string) error
}

// VariableStore persists per-hospital form variables.
type VariableStore interface {
	UpsertVariable(ctx context.Context, v variable.Variable) (variable.Variable, error)
	ListVariables(ctx context.Context, hospitalID string) ([]variable.Variable, error)
	DeleteVariable(ctx context.Context, hospitalID, key string) error
}

// ProfileStore persists user profiles.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, p profile.Profile) (profile.Profile, error)
	GetProfile(ctx context.Context, id string) (profile.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (profile.Profile, error)
	ListProfiles(ctx context.Context) ([]profile.Profile, error)
	ListProfilesByHospital(ctx context.Context, hospitalID string) ([]profile.Profile, error)
}

// EntryStore persists monthly metric entries keyed by hospital and month.
type EntryStore interface {
	UpsertEntry(ctx context.Context, e entry.Entry) (entry.Entry, error)
	GetEntry(ctx context.Context, hospitalID, monthYear string) (entry.Entry, error)
	ListEntries(ctx context.Context, filter entry.Filter) ([]entry.Entry, error)
}

// FormStore persists form tracking rows.
type FormStore interface {
	UpsertForm(ctx context.Context, f form.Form) (form.Form, error)
	GetForm(ctx context.Context, id string) (form.Form, error)
	ListForms(ctx context.Context, hospitalID string) ([]form.Form, error)
}

// SubmissionStore writes an entry and its form row together so both agree
// on the submitted flag.
type SubmissionStore interface {
	// SaveSubmission fails with apperr.ErrConflict when the stored entry is
	// already submitted. The check is made as part of the write.
	SaveSubmission(ctx context.Context, e entry.Entry, f form.Form) (entry.Entry, form.Form, error)
	// ReopenSubmission overwrites the stored entry whatever its state.
	ReopenSubmission(ctx context.Context, e entry.Entry, f form.Form) (entry.Entry, form.Form, error)
}

// SupportStore persists support messages.
type SupportStore interface {
	CreateSupportMessage(ctx context.Context, m support.Message) (support.Message, error)
	UpdateSupportMessage(ctx context.Context, m support.Message) (support.Message, error)
	GetSupportMessage(ctx context.Context, id string) (support.Message, error)
	ListSupportMessages(ctx context.Context, filter support.Filter) ([]support.Message, error)
}

// ReminderStore persists reminder audit rows.
type ReminderStore interface {
	CreateReminder(ctx context.Context, r reminder.Reminder) (reminder.Reminder, error)
	ListReminders(ctx context.Context, hospitalID string, limit int) ([]reminder.Reminder, error)
}

// NotificationStateStore persists per-user read and dismissed flags.
type NotificationStateStore interface {
	SaveNotificationState(ctx context.Context, st notification.State) error
	ListNotificationStates(ctx context.Context, userID string) ([]notification.State, error)
}

// Store is the full persistence surface. Every backend implements it.
type Store interface {
	HospitalStore
	VariableStore
	ProfileStore
	EntryStore
	FormStore
	SubmissionStore
	SupportStore
	ReminderStore
	NotificationStateStore
}
