package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenhospital/reporting/internal/app/apperr"
	"github.com/greenhospital/reporting/internal/app/domain/hospital"
	"github.com/greenhospital/reporting/internal/app/domain/profile"
	"github.com/greenhospital/reporting/internal/app/storage/memory"
	"github.com/greenhospital/reporting/internal/auth"
	"github.com/greenhospital/reporting/pkg/logger"
)

var admin = auth.Principal{UserID: "admin-1", Role: profile.RoleAdmin}

func setup(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	_, err := store.CreateHospital(ctx, hospital.Hospital{ID: "h1", Name: "Alpha"})
	require.NoError(t, err)
	_, err = store.UpsertProfile(ctx, profile.Profile{ID: "admin-1", Email: "admin@example.org", Role: profile.RoleAdmin})
	require.NoError(t, err)
	_, err = store.UpsertProfile(ctx, profile.Profile{ID: "user-1", Email: "u1@example.org", Role: profile.RoleDepartmentHead})
	require.NoError(t, err)
	return New(store, store, logger.NewDiscard()), store
}

func TestListRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	_, err := svc.List(ctx, auth.Principal{UserID: "user-1", Role: profile.RoleDepartmentHead}, "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	all, err := svc.List(ctx, admin, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAssignHospital(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	p, err := svc.AssignHospital(ctx, admin, "user-1", "h1")
	require.NoError(t, err)
	assert.Equal(t, "h1", p.Hospital())

	byHospital, err := svc.List(ctx, admin, "h1")
	require.NoError(t, err)
	require.Len(t, byHospital, 1)
	assert.Equal(t, "user-1", byHospital[0].ID)

	_, err = svc.AssignHospital(ctx, admin, "user-1", "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.AssignHospital(ctx, admin, "ghost", "h1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	p, err = svc.AssignHospital(ctx, admin, "user-1", "")
	require.NoError(t, err)
	assert.Nil(t, p.HospitalID)
}

func TestSetRole(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	p, err := svc.SetRole(ctx, admin, "user-1", profile.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())

	_, err = svc.SetRole(ctx, admin, "user-1", "owner")
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	_, err = svc.SetRole(ctx, admin, "admin-1", profile.RoleDepartmentHead)
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	_, err = svc.SetRole(ctx, auth.Principal{UserID: "user-2"}, "user-1", profile.RoleAdmin)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestMeFallsBackToPrincipal(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	p, err := svc.Me(ctx, auth.Principal{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "u1@example.org", p.Email)

	p, err = svc.Me(ctx, auth.Principal{UserID: "new", Email: "new@example.org", Role: profile.RoleDepartmentHead, HospitalID: "h1", Fallback: true})
	require.NoError(t, err)
	assert.Equal(t, "new@example.org", p.Email)
	assert.Equal(t, "h1", p.Hospital())
}

func TestProvision(t *testing.T) {
	ctx := context.Background()
	svc, store := setup(t)

	p, err := svc.Provision(ctx, profile.Profile{Email: " U1@Example.org "})
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.ID)

	p, err = svc.Provision(ctx, profile.Profile{Email: "new@example.org"})
	require.NoError(t, err)
	assert.Equal(t, profile.RoleDepartmentHead, p.Role)
	_, err = store.GetProfile(ctx, p.ID)
	assert.NoError(t, err)

	_, err = svc.Provision(ctx, profile.Profile{})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}
