package forms

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenhospital/reporting/internal/app/apperr"
	"github.com/greenhospital/reporting/internal/app/domain/entry"
	"github.com/greenhospital/reporting/internal/app/domain/form"
	"github.com/greenhospital/reporting/internal/app/domain/hospital"
	"github.com/greenhospital/reporting/internal/app/domain/metric"
	"github.com/greenhospital/reporting/internal/app/domain/period"
	"github.com/greenhospital/reporting/internal/app/domain/profile"
	"github.com/greenhospital/reporting/internal/app/domain/variable"
	"github.com/greenhospital/reporting/internal/app/storage"
	"github.com/greenhospital/reporting/internal/app/storage/memory"
	"github.com/greenhospital/reporting/internal/auth"
	"github.com/greenhospital/reporting/pkg/logger"
)

var (
	admin = auth.Principal{UserID: "admin-1", Role: profile.RoleAdmin}
	head  = auth.Principal{UserID: "user-1", Role: profile.RoleDepartmentHead, HospitalID: "h1"}
)

func ptr(v float64) *float64 { return &v }

func fullValues() map[string]float64 {
	return map[string]float64{
		"electricity_kwh":   1200,
		"gas_m3":            300,
		"water_m3":          80,
		"general_waste_kg":  500,
		"clinical_waste_kg": 120,
		"co2_tonnes":        4.2,
	}
}

type recordingInvalidator struct {
	months []period.Month
	err    error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, m period.Month) error {
	r.months = append(r.months, m)
	return r.err
}

func setup(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	_, err := store.CreateHospital(ctx, hospital.Hospital{ID: "h1", Name: "Alpha"})
	require.NoError(t, err)
	_, err = store.CreateHospital(ctx, hospital.Hospital{ID: "h2", Name: "Beta"})
	require.NoError(t, err)

	svc := New(Stores{
		Hospitals:   store,
		Variables:   store,
		Entries:     store,
		Forms:       store,
		Submissions: store,
	}, nil, logger.NewDiscard())
	svc.now = func() time.Time { return time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC) }
	return svc, store
}

func TestBuildDefinition(t *testing.T) {
	vars := []variable.Variable{
		{HospitalID: "h1", Key: "beds", Label: "Beds", Required: true, Min: ptr(1), Enabled: true},
		{HospitalID: "h1", Key: "old", Label: "Old", Enabled: false},
		{HospitalID: "h1", Key: "water_m3", Label: "Shadow", Enabled: true},
	}
	def := BuildDefinition("h1", metric.Default(), vars)
	assert.Len(t, def.Fields, len(metric.Default())+1)

	beds, ok := def.Field("beds")
	require.True(t, ok)
	assert.Equal(t, SourceVariable, beds.Source)
	assert.Equal(t, metric.CategoryCustom, beds.Category)

	water, _ := def.Field("water_m3")
	assert.Equal(t, "Water", water.Label)
	_, ok = def.Field("old")
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	def := BuildDefinition("h1", metric.Catalog{
		{Key: "a", Label: "A", Required: true, Min: ptr(0), Max: ptr(100)},
		{Key: "b", Label: "B"},
	}, nil)

	assert.NoError(t, def.Validate(map[string]float64{"a": 50}, true))
	assert.NoError(t, def.Validate(map[string]float64{}, false))

	err := def.Validate(map[string]float64{"b": 1}, true)
	var verr *apperr.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "is required", verr.Fields["a"])
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	err = def.Validate(map[string]float64{"a": -1, "zzz": 1, "b": math.NaN()}, false)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "must be at least 0", verr.Fields["a"])
	assert.Equal(t, "unknown field", verr.Fields["zzz"])
	assert.Equal(t, "must be a number", verr.Fields["b"])

	err = def.Validate(map[string]float64{"a": 101}, false)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "must be at most 100", verr.Fields["a"])
}

func TestDefinitionAccess(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t)
	_, err := store.UpsertVariable(ctx, variable.Variable{HospitalID: "h1", Key: "beds", Label: "Beds", Enabled: true})
	require.NoError(t, err)

	def, err := svc.Definition(ctx, head, "")
	require.NoError(t, err)
	assert.Equal(t, "h1", def.HospitalID)
	_, ok := def.Field("beds")
	assert.True(t, ok)

	_, err = svc.Definition(ctx, head, "h2")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.Definition(ctx, admin, "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	def, err = svc.Definition(ctx, admin, "")
	require.NoError(t, err)
	assert.Len(t, def.Fields, len(metric.Default()))
}

func TestDraftThenSubmit(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t)
	inv := &recordingInvalidator{}
	svc.AttachInvalidator(inv)

	draft, err := svc.SaveDraft(ctx, head, "h1", "2024-06", Input{Metrics: map[string]float64{"electricity_kwh": 10}, Notes: " partial "})
	require.NoError(t, err)
	assert.False(t, draft.Entry.Submitted)
	assert.Equal(t, "partial", draft.Entry.Notes)
	assert.Equal(t, "h1-06-2024", draft.Form.ID)
	assert.Equal(t, form.StatusDraft, draft.Form.Status)

	_, err = svc.Submit(ctx, head, "h1", "2024-06", Input{Metrics: map[string]float64{"electricity_kwh": 10}})
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	sub, err := svc.Submit(ctx, head, "h1", "2024-06", Input{Metrics: fullValues()})
	require.NoError(t, err)
	assert.True(t, sub.Entry.Submitted)
	assert.Equal(t, "user-1", sub.Entry.SubmittedBy)
	require.NotNil(t, sub.Entry.SubmittedAt)
	assert.Equal(t, draft.Entry.ID, sub.Entry.ID)

	f, err := store.GetForm(ctx, "h1-06-2024")
	require.NoError(t, err)
	assert.True(t, f.Submitted)
	assert.Equal(t, form.StatusSubmitted, f.Status)

	e, err := store.GetEntry(ctx, "h1", "2024-06")
	require.NoError(t, err)
	assert.Equal(t, 1200.0, e.Metrics["electricity_kwh"])

	_, err = svc.Submit(ctx, head, "h1", "2024-06", Input{Metrics: fullValues()})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = svc.SaveDraft(ctx, head, "h1", "2024-06", Input{})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	assert.Len(t, inv.months, 2)
}

func TestSaveRejections(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	_, err := svc.SaveDraft(ctx, head, "h2", "2024-06", Input{})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.SaveDraft(ctx, head, "h1", "June", Input{})
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	_, err = svc.SaveDraft(ctx, head, "h1", "2024-07", Input{})
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	_, err = svc.SaveDraft(ctx, admin, "ghost", "2024-06", Input{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// staleEntries hides every stored entry, as a read taken just before a
// concurrent submit would.
type staleEntries struct {
	storage.EntryStore
}

func (staleEntries) GetEntry(_ context.Context, hospitalID, monthYear string) (entry.Entry, error) {
	return entry.Entry{}, apperr.NotFound("entry", hospitalID+"/"+monthYear)
}

func TestDraftCannotOverwriteConcurrentSubmit(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t)
	_, err := svc.Submit(ctx, head, "h1", "2024-06", Input{Metrics: fullValues()})
	require.NoError(t, err)

	svc.stores.Entries = staleEntries{store}
	_, err = svc.SaveDraft(ctx, head, "h1", "2024-06", Input{Metrics: map[string]float64{"electricity_kwh": 1}})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	e, err := store.GetEntry(ctx, "h1", "2024-06")
	require.NoError(t, err)
	assert.True(t, e.Submitted)
	assert.Equal(t, 1200.0, e.Metrics["electricity_kwh"])
	f, err := store.GetForm(ctx, "h1-06-2024")
	require.NoError(t, err)
	assert.Equal(t, form.StatusSubmitted, f.Status)
}

func TestCurrentMonthFollowsReportingZone(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)
	// 23:30 UTC on 30 June is already 1 July at UTC+9.
	svc.now = func() time.Time { return time.Date(2024, time.June, 30, 23, 30, 0, 0, time.UTC) }

	_, err := svc.SaveDraft(ctx, head, "h1", "2024-07", Input{})
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	svc.UseLocation(time.FixedZone("UTC+9", 9*60*60))
	_, err = svc.SaveDraft(ctx, head, "h1", "2024-07", Input{})
	assert.NoError(t, err)
	_, err = svc.SaveDraft(ctx, head, "h1", "2024-08", Input{})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t)
	_, err := svc.Submit(ctx, head, "h1", "2024-05", Input{Metrics: fullValues()})
	require.NoError(t, err)

	_, err = svc.Reopen(ctx, head, "h1", "2024-05")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	sub, err := svc.Reopen(ctx, admin, "h1", "2024-05")
	require.NoError(t, err)
	assert.False(t, sub.Entry.Submitted)
	assert.Nil(t, sub.Entry.SubmittedAt)
	assert.Equal(t, 1200.0, sub.Entry.Metrics["electricity_kwh"])
	assert.Equal(t, form.StatusDraft, sub.Form.Status)

	f, err := store.GetForm(ctx, "h1-05-2024")
	require.NoError(t, err)
	assert.False(t, f.Submitted)

	_, err = svc.Reopen(ctx, admin, "h1", "2024-05")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = svc.Submit(ctx, head, "h1", "2024-05", Input{Metrics: fullValues()})
	assert.NoError(t, err)
}

func TestGetForm(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	view, err := svc.Get(ctx, head, "h1-06-2024")
	require.NoError(t, err)
	assert.Equal(t, form.StatusDraft, view.Form.Status)
	assert.Nil(t, view.Entry)

	_, err = svc.SaveDraft(ctx, head, "h1", "2024-06", Input{Metrics: map[string]float64{"water_m3": 3}})
	require.NoError(t, err)
	view, err = svc.Get(ctx, head, "h1-06-2024")
	require.NoError(t, err)
	require.NotNil(t, view.Entry)
	assert.Equal(t, 3.0, view.Entry.Metrics["water_m3"])

	_, err = svc.Get(ctx, head, "h2-06-2024")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = svc.Get(ctx, head, "garbage")
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestListEntriesScoping(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t)
	for _, e := range []entry.Entry{
		{HospitalID: "h1", MonthYear: "2024-04"},
		{HospitalID: "h1", MonthYear: "2024-05"},
		{HospitalID: "h2", MonthYear: "2024-05"},
	} {
		_, err := store.UpsertEntry(ctx, e)
		require.NoError(t, err)
	}

	mine, err := svc.ListEntries(ctx, head, entry.Filter{})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	_, err = svc.ListEntries(ctx, head, entry.Filter{HospitalID: "h2"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	all, err := svc.ListEntries(ctx, admin, entry.Filter{From: "2024-05", To: "2024-05"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.ListEntries(ctx, admin, entry.Filter{From: "May"})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t)
	at := time.Date(2024, time.May, 3, 0, 0, 0, 0, time.UTC)

	// Entry submitted but form still draft.
	_, err := store.UpsertEntry(ctx, entry.Entry{HospitalID: "h1", MonthYear: "2024-05", Submitted: true, SubmittedAt: &at})
	require.NoError(t, err)
	_, err = store.UpsertForm(ctx, form.Form{ID: "h1-05-2024", HospitalID: "h1", Month: 5, Year: 2024, Status: form.StatusDraft})
	require.NoError(t, err)
	// Entry with no form row.
	_, err = store.UpsertEntry(ctx, entry.Entry{HospitalID: "h2", MonthYear: "2024-04"})
	require.NoError(t, err)
	// Consistent pair.
	_, err = svc.SaveDraft(ctx, head, "h1", "2024-06", Input{})
	require.NoError(t, err)

	n, err := svc.Reconcile(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := store.GetForm(ctx, "h1-05-2024")
	require.NoError(t, err)
	assert.True(t, f.Submitted)
	assert.Equal(t, form.StatusSubmitted, f.Status)
	assert.Equal(t, &at, f.SubmittedAt)

	_, err = store.GetForm(ctx, "h2-04-2024")
	assert.NoError(t, err)

	n, err = svc.Reconcile(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, n)
}
