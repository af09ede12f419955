package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenhospital/reporting/internal/app/domain/hospital"
	"github.com/greenhospital/reporting/internal/app/domain/period"
	"github.com/greenhospital/reporting/internal/app/domain/profile"
	"github.com/greenhospital/reporting/internal/app/services/forms"
	"github.com/greenhospital/reporting/internal/app/storage/memory"
	"github.com/greenhospital/reporting/internal/auth"
	"github.com/greenhospital/reporting/pkg/logger"
)

func TestNewDefaultsToMemory(t *testing.T) {
	application, err := New(Stores{}, Options{}, logger.NewDiscard())
	require.NoError(t, err)
	assert.Empty(t, application.Services())
	assert.Len(t, application.Catalog, 9)

	ctx := context.Background()
	require.NoError(t, application.Start(ctx))
	require.NoError(t, application.Stop(ctx))
}

func TestNewRegistersScheduler(t *testing.T) {
	_, err := New(Stores{}, Options{RemindersEnabled: true, ReminderSchedule: "every day"}, logger.NewDiscard())
	assert.Error(t, err)

	application, err := New(Stores{}, Options{RemindersEnabled: true, ReminderSchedule: "0 9 10,14 * *"}, logger.NewDiscard())
	require.NoError(t, err)
	assert.Equal(t, []string{"reminder-scheduler"}, application.Services())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, application.Start(ctx))
	require.NoError(t, application.Stop(ctx))
}

func TestSubmitInvalidatesDashboard(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_, err := store.CreateHospital(ctx, hospital.Hospital{ID: "h1", Name: "North"})
	require.NoError(t, err)

	application, err := New(FromStore(store), Options{}, logger.NewDiscard())
	require.NoError(t, err)

	m := period.Of(time.Now().UTC()).Prev()
	before, err := application.Dashboard.Aggregate(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, 0, before.SubmittedCount)

	admin := auth.Principal{UserID: "a1", Role: profile.RoleAdmin}
	values := map[string]float64{}
	for _, d := range application.Catalog {
		values[d.Key] = 10
	}
	_, err = application.Forms.Submit(ctx, admin, "h1", m.String(), forms.Input{Metrics: values})
	require.NoError(t, err)

	after, err := application.Dashboard.Aggregate(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, 1, after.SubmittedCount)
}
