package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenhospital/reporting/internal/app/apperr"
	"github.com/greenhospital/reporting/internal/app/domain/entry"
	"github.com/greenhospital/reporting/internal/app/domain/form"
	"github.com/greenhospital/reporting/internal/app/domain/hospital"
	"github.com/greenhospital/reporting/internal/app/domain/notification"
	"github.com/greenhospital/reporting/internal/app/domain/profile"
	"github.com/greenhospital/reporting/internal/app/domain/reminder"
	"github.com/greenhospital/reporting/internal/app/domain/support"
	"github.com/greenhospital/reporting/internal/app/domain/variable"
)

func TestHospitalLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	h, err := s.CreateHospital(ctx, hospital.Hospital{Name: "St Mary", Location: "Leeds"})
	require.NoError(t, err)
	require.NotEmpty(t, h.ID)

	_, err = s.CreateHospital(ctx, hospital.Hospital{ID: h.ID, Name: "dup"})
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	h.Location = "York"
	updated, err := s.UpdateHospital(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, h.CreatedAt, updated.CreatedAt)

	got, err := s.GetHospital(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, "York", got.Location)

	require.NoError(t, s.DeleteHospital(ctx, h.ID))
	_, err = s.GetHospital(ctx, h.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.True(t, errors.Is(s.DeleteHospital(ctx, h.ID), apperr.ErrNotFound))
}

func TestListHospitalsSortedByName(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, name := range []string{"Zeta", "Alpha", "Mid"} {
		_, err := s.CreateHospital(ctx, hospital.Hospital{Name: name})
		require.NoError(t, err)
	}
	list, err := s.ListHospitals(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Alpha", list[0].Name)
	assert.Equal(t, "Zeta", list[2].Name)
}

func TestEntryUpsertKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, err := s.UpsertEntry(ctx, entry.Entry{HospitalID: "h1", MonthYear: "2024-05", Metrics: map[string]float64{"water_m3": 10}})
	require.NoError(t, err)

	second, err := s.UpsertEntry(ctx, entry.Entry{HospitalID: "h1", MonthYear: "2024-05", Metrics: map[string]float64{"water_m3": 12}})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	got, err := s.GetEntry(ctx, "h1", "2024-05")
	require.NoError(t, err)
	assert.Equal(t, 12.0, got.Metrics["water_m3"])

	// Mutating the returned map must not leak into the store.
	got.Metrics["water_m3"] = 99
	again, _ := s.GetEntry(ctx, "h1", "2024-05")
	assert.Equal(t, 12.0, again.Metrics["water_m3"])
}

func TestListEntriesFilter(t *testing.T) {
	ctx := context.Background()
	s := New()
	yes := true
	for _, e := range []entry.Entry{
		{HospitalID: "h1", MonthYear: "2024-03", Submitted: true},
		{HospitalID: "h1", MonthYear: "2024-04"},
		{HospitalID: "h2", MonthYear: "2024-04", Submitted: true},
		{HospitalID: "h1", MonthYear: "2024-06", Submitted: true},
	} {
		_, err := s.UpsertEntry(ctx, e)
		require.NoError(t, err)
	}

	list, err := s.ListEntries(ctx, entry.Filter{From: "2024-04", To: "2024-05"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "h1", list[0].HospitalID)
	assert.Equal(t, "h2", list[1].HospitalID)

	list, err = s.ListEntries(ctx, entry.Filter{HospitalID: "h1", Submitted: &yes})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "2024-03", list[0].MonthYear)
}

func TestSaveSubmissionWritesBoth(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

	e, f, err := s.SaveSubmission(ctx,
		entry.Entry{HospitalID: "h1", MonthYear: "2024-06", Submitted: true, SubmittedAt: &now},
		form.Form{ID: "h1-06-2024", HospitalID: "h1", Month: 6, Year: 2024, Status: form.StatusSubmitted, Submitted: true, SubmittedAt: &now},
	)
	require.NoError(t, err)
	assert.True(t, e.Submitted)
	assert.True(t, f.Submitted)

	gotForm, err := s.GetForm(ctx, "h1-06-2024")
	require.NoError(t, err)
	assert.Equal(t, form.StatusSubmitted, gotForm.Status)

	forms, err := s.ListForms(ctx, "h1")
	require.NoError(t, err)
	assert.Len(t, forms, 1)
}

func TestSaveSubmissionKeepsSubmittedEntry(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	f := form.Form{ID: "h1-06-2024", HospitalID: "h1", Month: 6, Year: 2024}

	sub := f
	sub.Status, sub.Submitted, sub.SubmittedAt = form.StatusSubmitted, true, &now
	_, _, err := s.SaveSubmission(ctx, entry.Entry{HospitalID: "h1", MonthYear: "2024-06", Submitted: true, SubmittedAt: &now}, sub)
	require.NoError(t, err)

	draft := f
	draft.Status = form.StatusDraft
	_, _, err = s.SaveSubmission(ctx, entry.Entry{HospitalID: "h1", MonthYear: "2024-06"}, draft)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	e, err := s.GetEntry(ctx, "h1", "2024-06")
	require.NoError(t, err)
	assert.True(t, e.Submitted)
	got, err := s.GetForm(ctx, "h1-06-2024")
	require.NoError(t, err)
	assert.True(t, got.Submitted)

	e, _, err = s.ReopenSubmission(ctx, entry.Entry{HospitalID: "h1", MonthYear: "2024-06"}, draft)
	require.NoError(t, err)
	assert.False(t, e.Submitted)
}

func TestVariablesPerHospital(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.UpsertVariable(ctx, variable.Variable{HospitalID: "h1", Key: "beds", Label: "Beds", Enabled: true})
	require.NoError(t, err)
	_, err = s.UpsertVariable(ctx, variable.Variable{HospitalID: "h1", Key: "area_m2", Label: "Area", Enabled: true})
	require.NoError(t, err)

	list, err := s.ListVariables(ctx, "h1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "area_m2", list[0].Key)

	other, err := s.ListVariables(ctx, "h2")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, s.DeleteVariable(ctx, "h1", "beds"))
	assert.True(t, errors.Is(s.DeleteVariable(ctx, "h1", "beds"), apperr.ErrNotFound))
}

func TestProfilesByEmailAndHospital(t *testing.T) {
	ctx := context.Background()
	s := New()
	hid := "h1"
	_, err := s.UpsertProfile(ctx, profile.Profile{ID: "u1", Email: "Head@Example.org", Role: profile.RoleDepartmentHead, HospitalID: &hid})
	require.NoError(t, err)
	_, err = s.UpsertProfile(ctx, profile.Profile{ID: "u2", Email: "admin@example.org", Role: profile.RoleAdmin})
	require.NoError(t, err)

	p, err := s.GetProfileByEmail(ctx, "head@example.org")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.ID)

	byHospital, err := s.ListProfilesByHospital(ctx, "h1")
	require.NoError(t, err)
	require.Len(t, byHospital, 1)
	assert.Equal(t, "u1", byHospital[0].ID)

	all, err := s.ListProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSupportMessagesNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.CreateSupportMessage(ctx, support.Message{
			UserID:    "u1",
			Subject:   "s",
			Status:    support.StatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	list, err := s.ListSupportMessages(ctx, support.Filter{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt))

	resp := "done"
	msg := list[0]
	msg.Status = support.StatusResolved
	msg.AdminResponse = &resp
	updated, err := s.UpdateSupportMessage(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, msg.CreatedAt, updated.CreatedAt)

	_, err = s.UpdateSupportMessage(ctx, support.Message{ID: "missing"})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestRemindersNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, h := range []string{"h1", "h2", "h1"} {
		_, err := s.CreateReminder(ctx, reminder.Reminder{HospitalID: h, Status: reminder.StatusSent})
		require.NoError(t, err)
	}
	list, err := s.ListReminders(ctx, "h1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = s.ListReminders(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "h1", list[0].HospitalID)
}

func TestNotificationStates(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SaveNotificationState(ctx, notification.State{UserID: "u1", NotificationID: "n2", Read: true}))
	require.NoError(t, s.SaveNotificationState(ctx, notification.State{UserID: "u1", NotificationID: "n1", Dismissed: true}))
	require.NoError(t, s.SaveNotificationState(ctx, notification.State{UserID: "u1", NotificationID: "n2", Read: true, Dismissed: true}))

	states, err := s.ListNotificationStates(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "n1", states[0].NotificationID)
	assert.True(t, states[1].Dismissed)

	none, err := s.ListNotificationStates(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, none)
}
