package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenhospital/reporting/internal/app/apperr"
	"github.com/greenhospital/reporting/internal/app/domain/entry"
	"github.com/greenhospital/reporting/internal/app/domain/hospital"
	"github.com/greenhospital/reporting/internal/app/domain/notification"
	"github.com/greenhospital/reporting/internal/app/domain/profile"
	"github.com/greenhospital/reporting/internal/app/domain/support"
	"github.com/greenhospital/reporting/internal/app/services/submissions"
	"github.com/greenhospital/reporting/internal/app/storage/memory"
	"github.com/greenhospital/reporting/internal/auth"
	"github.com/greenhospital/reporting/pkg/logger"
)

var (
	admin = auth.Principal{UserID: "admin-1", Role: profile.RoleAdmin}
	head  = auth.Principal{UserID: "user-1", Role: profile.RoleDepartmentHead, HospitalID: "h1"}
)

func june(day, hour int) time.Time {
	return time.Date(2024, time.June, day, hour, 0, 0, 0, time.UTC)
}

func setup(t *testing.T, now time.Time) (*Service, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	for _, h := range []hospital.Hospital{{ID: "h1", Name: "Alpha"}, {ID: "h2", Name: "Beta"}} {
		_, err := store.CreateHospital(ctx, h)
		require.NoError(t, err)
	}
	hid := "h1"
	_, err := store.UpsertProfile(ctx, profile.Profile{ID: "user-1", Email: "u1@example.org", Role: profile.RoleDepartmentHead, HospitalID: &hid})
	require.NoError(t, err)

	svc := New(Stores{
		Hospitals: store,
		Profiles:  store,
		Entries:   store,
		Support:   store,
		States:    store,
	}, submissions.DefaultSchedule(), logger.NewDiscard())
	svc.now = func() time.Time { return now }
	return svc, store
}

func TestSubmissionNoticeBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		submitted bool
		wantType  notification.Type
		wantTitle string
	}{
		{"nothing early in month", june(5, 9), false, "", ""},
		{"due soon three days out", june(13, 0), false, notification.TypeWarning, "Monthly submission due soon"},
		{"due soon on due day", june(15, 18), false, notification.TypeWarning, "Monthly submission due soon"},
		{"overdue after due day", june(16, 0), false, notification.TypeWarning, "Monthly submission overdue"},
		{"submitted", june(20, 0), true, notification.TypeSuccess, "Monthly data submitted"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, store := setup(t, tc.now)
			ctx := context.Background()
			if tc.submitted {
				at := june(10, 8)
				_, err := store.UpsertEntry(ctx, entry.Entry{HospitalID: "h1", MonthYear: "2024-06", Submitted: true, SubmittedAt: &at})
				require.NoError(t, err)
			}

			items, err := svc.List(ctx, head, Query{})
			require.NoError(t, err)
			if tc.wantType == "" {
				assert.Empty(t, items)
				return
			}
			require.Len(t, items, 1)
			assert.Equal(t, tc.wantType, items[0].Type)
			assert.Equal(t, tc.wantTitle, items[0].Title)
			assert.Equal(t, "h1", items[0].HospitalID)
		})
	}
}

func TestSupportMessageClassification(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t, june(5, 9))

	response := "Fixed the meter mapping."
	msgs := []support.Message{
		{ID: "m1", UserID: "user-1", Subject: "Data reminder", Message: "Please submit June data", Status: support.StatusClosed, CreatedAt: june(4, 9)},
		{ID: "m2", UserID: "user-1", Subject: "Wrong totals", Message: "Totals look off", Status: support.StatusResolved, AdminResponse: &response, CreatedAt: june(3, 9)},
		{ID: "m3", UserID: "user-1", Subject: "Question", Message: "How do I add solar?", Status: support.StatusInProgress, AdminResponse: &response, CreatedAt: june(2, 9)},
		{ID: "m4", UserID: "user-1", Subject: "Still waiting", Message: "No answer yet", Status: support.StatusPending, CreatedAt: june(1, 9)},
		{ID: "m5", UserID: "someone-else", Subject: "Other", Message: "x", Status: support.StatusResolved, AdminResponse: &response, CreatedAt: june(1, 9)},
	}
	for _, m := range msgs {
		_, err := store.CreateSupportMessage(ctx, m)
		require.NoError(t, err)
	}

	items, err := svc.List(ctx, head, Query{Scope: ScopeUser})
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "support-m1", items[0].ID)
	assert.Equal(t, notification.TypeReminder, items[0].Type)
	assert.Equal(t, "support-m2", items[1].ID)
	assert.Equal(t, notification.TypeSuccess, items[1].Type)
	assert.Equal(t, "Wrong totals: Fixed the meter mapping.", items[1].Message)
	assert.Equal(t, "support-m3", items[2].ID)
	assert.Equal(t, notification.TypeInfo, items[2].Type)
}

func TestAdminScope(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t, june(17, 9))

	_, err := store.UpsertEntry(ctx, entry.Entry{HospitalID: "h1", MonthYear: "2024-06", Submitted: true})
	require.NoError(t, err)
	_, err = store.CreateSupportMessage(ctx, support.Message{ID: "s1", UserID: "user-1", Subject: "Login broken", Message: "Cannot log in", Status: support.StatusPending, CreatedAt: june(17, 8)})
	require.NoError(t, err)
	_, err = store.CreateSupportMessage(ctx, support.Message{ID: "s2", UserID: "user-1", Subject: "Never received the reminder email", Message: "Nothing arrived this month", Status: support.StatusPending, CreatedAt: june(17, 7)})
	require.NoError(t, err)
	_, err = store.CreateSupportMessage(ctx, support.Message{ID: "s3", UserID: "user-1", HospitalID: "h1", Subject: "Reminder: June data", Message: "Please submit", Status: support.StatusClosed, CreatedAt: june(17, 6)})
	require.NoError(t, err)

	_, err = svc.List(ctx, head, Query{Scope: ScopeAll})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	items, err := svc.List(ctx, admin, Query{Scope: ScopeAll})
	require.NoError(t, err)
	require.Len(t, items, 4)

	assert.Equal(t, "summary-2024-06", items[0].ID)
	assert.Equal(t, "1 of 2 hospitals have submitted data for June 2024.", items[0].Message)
	assert.Equal(t, "support-s1", items[1].ID)
	assert.Equal(t, "New support request", items[1].Title)
	assert.Equal(t, "support-s2", items[2].ID, "pending tickets mentioning reminders still reach admins")
	assert.Equal(t, "Never received the reminder email", items[2].Message)
	assert.Equal(t, "submission-h2-2024-06-overdue", items[3].ID)
	assert.Equal(t, "h2", items[3].HospitalID)
}

func TestOtherUsersFeedRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t, june(14, 9))

	other := auth.Principal{UserID: "user-2", Role: profile.RoleDepartmentHead, HospitalID: "h2"}
	_, err := svc.List(ctx, other, Query{UserID: "user-1"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	items, err := svc.List(ctx, admin, Query{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "submission-h1-2024-06-due_soon", items[0].ID)

	_, err = svc.List(ctx, admin, Query{UserID: "ghost"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReadAndDismissState(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t, june(14, 9))
	response := "Done"
	_, err := store.CreateSupportMessage(ctx, support.Message{ID: "m1", UserID: "user-1", Subject: "Help", Status: support.StatusResolved, AdminResponse: &response})
	require.NoError(t, err)

	items, err := svc.List(ctx, head, Query{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, n := range items {
		assert.False(t, n.Read)
	}

	require.NoError(t, svc.MarkRead(ctx, head, "support-m1"))
	items, err = svc.List(ctx, head, Query{})
	require.NoError(t, err)
	read := map[string]bool{}
	for _, n := range items {
		read[n.ID] = n.Read
	}
	assert.True(t, read["support-m1"])
	assert.False(t, read["submission-h1-2024-06-due_soon"])

	changed, err := svc.MarkAllRead(ctx, head, ScopeUser)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	require.NoError(t, svc.Dismiss(ctx, head, "support-m1"))
	items, err = svc.List(ctx, head, Query{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "submission-h1-2024-06-due_soon", items[0].ID)
	assert.True(t, items[0].Read)

	assert.ErrorIs(t, svc.MarkRead(ctx, head, " "), apperr.ErrInvalid)
}

func TestLimit(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t, june(5, 9))
	response := "ok"
	for i := 0; i < 30; i++ {
		_, err := store.CreateSupportMessage(ctx, support.Message{
			UserID:        "user-1",
			Subject:       "Question",
			Status:        support.StatusInProgress,
			AdminResponse: &response,
			CreatedAt:     june(1, 0).Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	items, err := svc.List(ctx, head, Query{})
	require.NoError(t, err)
	assert.Len(t, items, DefaultLimit)
	assert.True(t, items[0].CreatedAt.After(items[1].CreatedAt))

	items, err = svc.List(ctx, head, Query{Limit: 5})
	require.NoError(t, err)
	assert.Len(t, items, 5)

	items, err = svc.List(ctx, head, Query{Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, items, 30)
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("")
	require.NoError(t, err)
	assert.Equal(t, ScopeUser, s)
	s, err = ParseScope("ALL")
	require.NoError(t, err)
	assert.Equal(t, ScopeAll, s)
	_, err = ParseScope("team")
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}
