package postgres

import (
	"context"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenhospital/reporting/internal/app/apperr"
	"github.com/greenhospital/reporting/internal/app/domain/entry"
	"github.com/greenhospital/reporting/internal/app/domain/form"
	"github.com/greenhospital/reporting/internal/app/domain/hospital"
	"github.com/greenhospital/reporting/internal/app/domain/period"
	"github.com/greenhospital/reporting/internal/platform/migrations"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

var entryCols = []string{"id", "hospital_id", "month_year", "metrics", "notes", "submitted", "submitted_at", "submitted_by", "created_at", "updated_at"}
var formCols = []string{"id", "hospital_id", "month", "year", "status", "submitted", "submitted_at", "created_at", "updated_at"}

func TestGetHospitalNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM hospitals")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "location", "created_at", "updated_at"}))

	_, err := store.GetHospital(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateHospitalDuplicateIsConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO hospitals")).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := store.CreateHospital(context.Background(), hospital.Hospital{ID: "h1", Name: "St Mary"})
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEntryDecodesMetrics(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM entries")).
		WithArgs("h1", "2024-05").
		WillReturnRows(sqlmock.NewRows(entryCols).
			AddRow("e1", "h1", "2024-05", []byte(`{"water_m3":12.5,"gas_m3":3}`), "", true, now, "u1", now, now))

	e, err := store.GetEntry(context.Background(), "h1", "2024-05")
	require.NoError(t, err)
	assert.Equal(t, 12.5, e.Metrics["water_m3"])
	assert.True(t, e.Submitted)
	require.NotNil(t, e.SubmittedAt)
	assert.Equal(t, now, *e.SubmittedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListEntriesPassesFilter(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	yes := true
	mock.ExpectQuery(regexp.QuoteMeta("FROM entries")).
		WithArgs("h1", "2024-01", "2024-06", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(entryCols).
			AddRow("e1", "h1", "2024-02", []byte(`{}`), "", true, nil, "", now, now).
			AddRow("e2", "h1", "2024-03", nil, "late", true, nil, "", now, now))

	list, err := store.ListEntries(context.Background(), entry.Filter{HospitalID: "h1", From: "2024-01", To: "2024-06", Submitted: &yes})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.NotNil(t, list[1].Metrics)
	assert.Equal(t, "late", list[1].Notes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSubmissionCommits(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO entries")).
		WillReturnRows(sqlmock.NewRows(entryCols).
			AddRow("e1", "h1", "2024-06", []byte(`{"water_m3":1}`), "", true, now, "u1", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO forms")).
		WillReturnRows(sqlmock.NewRows(formCols).
			AddRow("h1-06-2024", "h1", 6, 2024, "submitted", true, now, now, now))
	mock.ExpectCommit()

	e, f, err := store.SaveSubmission(context.Background(),
		entry.Entry{HospitalID: "h1", MonthYear: "2024-06", Metrics: map[string]float64{"water_m3": 1}, Submitted: true, SubmittedAt: &now},
		form.Form{ID: "h1-06-2024", HospitalID: "h1", Month: 6, Year: 2024, Status: form.StatusSubmitted, Submitted: true, SubmittedAt: &now},
	)
	require.NoError(t, err)
	assert.Equal(t, "e1", e.ID)
	assert.Equal(t, form.StatusSubmitted, f.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSubmissionRollsBackOnFormFailure(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO entries")).
		WillReturnRows(sqlmock.NewRows(entryCols).
			AddRow("e1", "h1", "2024-06", []byte(`{}`), "", false, nil, "", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO forms")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, _, err := store.SaveSubmission(context.Background(),
		entry.Entry{HospitalID: "h1", MonthYear: "2024-06"},
		form.Form{ID: "h1-06-2024", HospitalID: "h1", Month: 6, Year: 2024, Status: form.StatusDraft},
	)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSubmissionLeavesSubmittedEntry(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE entries.submitted = false")).
		WillReturnRows(sqlmock.NewRows(entryCols))
	mock.ExpectRollback()

	_, _, err := store.SaveSubmission(context.Background(),
		entry.Entry{HospitalID: "h1", MonthYear: "2024-06"},
		form.Form{ID: "h1-06-2024", HospitalID: "h1", Month: 6, Year: 2024, Status: form.StatusDraft},
	)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteVariableMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM hospital_variables")).
		WithArgs("h1", "beds").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteVariable(context.Background(), "h1", "beds")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	ctx := context.Background()
	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, migrations.Apply(ctx, db.DB))

	store := New(db)
	h, err := store.CreateHospital(ctx, hospital.Hospital{Name: "Integration General"})
	require.NoError(t, err)
	defer func() { _ = store.DeleteHospital(ctx, h.ID) }()

	now := time.Now().UTC()
	_, _, err = store.SaveSubmission(ctx,
		entry.Entry{HospitalID: h.ID, MonthYear: "2024-06", Metrics: map[string]float64{"water_m3": 4}, Submitted: true, SubmittedAt: &now},
		form.Form{ID: form.ID(h.ID, period.Month{Year: 2024, Month: time.June}), HospitalID: h.ID, Month: 6, Year: 2024, Status: form.StatusSubmitted, Submitted: true, SubmittedAt: &now},
	)
	require.NoError(t, err)

	got, err := store.GetEntry(ctx, h.ID, "2024-06")
	require.NoError(t, err)
	assert.Equal(t, 4.0, got.Metrics["water_m3"])
}
