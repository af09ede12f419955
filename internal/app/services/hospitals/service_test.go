package hospitals

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenhospital/reporting/internal/app/apperr"
	"github.com/greenhospital/reporting/internal/app/domain/hospital"
	"github.com/greenhospital/reporting/internal/app/domain/profile"
	"github.com/greenhospital/reporting/internal/app/domain/variable"
	"github.com/greenhospital/reporting/internal/app/storage/memory"
	"github.com/greenhospital/reporting/internal/auth"
	"github.com/greenhospital/reporting/pkg/logger"
)

var (
	admin = auth.Principal{UserID: "admin-1", Role: profile.RoleAdmin}
	head  = auth.Principal{UserID: "user-1", Role: profile.RoleDepartmentHead, HospitalID: "h1"}
)

func ptr(v float64) *float64 { return &v }

func newService() *Service {
	store := memory.New()
	return New(store, store, nil, logger.NewDiscard())
}

func TestHospitalLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	_, err := svc.Create(ctx, head, hospital.Hospital{Name: "X"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = svc.Create(ctx, admin, hospital.Hospital{Name: "  "})
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	h, err := svc.Create(ctx, admin, hospital.Hospital{ID: "h1", Name: " Alpha ", Location: "Leeds"})
	require.NoError(t, err)
	assert.Equal(t, "Alpha", h.Name)
	_, err = svc.Create(ctx, admin, hospital.Hospital{ID: "h2", Name: "Beta"})
	require.NoError(t, err)

	all, err := svc.List(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := svc.List(ctx, head)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "h1", mine[0].ID)

	none, err := svc.List(ctx, auth.Principal{UserID: "x", Role: profile.RoleDepartmentHead})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = svc.Get(ctx, head, "h2")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	h.Name = "Alpha General"
	updated, err := svc.Update(ctx, admin, h)
	require.NoError(t, err)
	assert.Equal(t, "Alpha General", updated.Name)

	require.NoError(t, svc.Delete(ctx, admin, "h2"))
	_, err = svc.Get(ctx, admin, "h2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, head, "h1"), apperr.ErrForbidden)
}

func TestUpsertVariables(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	_, err := svc.Create(ctx, admin, hospital.Hospital{ID: "h1", Name: "Alpha"})
	require.NoError(t, err)

	saved, err := svc.UpsertVariables(ctx, admin, "h1", []variable.Variable{
		{Key: "beds", Label: "Beds", Required: true, Min: ptr(0), Enabled: true},
		{Key: "floor_area_m2", Enabled: true},
	})
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, "floor_area_m2", saved[1].Label)

	vars, err := svc.Variables(ctx, head, "h1")
	require.NoError(t, err)
	assert.Len(t, vars, 2)

	_, err = svc.UpsertVariables(ctx, admin, "h1", []variable.Variable{
		{Key: "Bad Key"},
		{Key: "water_m3"},
		{Key: "x", Min: ptr(5), Max: ptr(1)},
		{Key: "x"},
	})
	var verr *apperr.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields["variables[0]"], "lower_snake_case")
	assert.Contains(t, verr.Fields["variables[1]"], "built-in")
	assert.Contains(t, verr.Fields["variables[2]"], "min")
	assert.Contains(t, verr.Fields["variables[3]"], "duplicate")

	_, err = svc.UpsertVariables(ctx, head, "h1", nil)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = svc.UpsertVariables(ctx, admin, "nope", nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, svc.DeleteVariable(ctx, admin, "h1", "beds"))
	vars, err = svc.Variables(ctx, admin, "h1")
	require.NoError(t, err)
	assert.Len(t, vars, 1)
	assert.Error(t, svc.DeleteVariable(ctx, admin, "h1", "beds"))
}
