package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/greenhospital/reporting/internal/app"
	"github.com/greenhospital/reporting/internal/app/apperr"
	"github.com/greenhospital/reporting/internal/app/domain/hospital"
	"github.com/greenhospital/reporting/internal/app/domain/period"
	"github.com/greenhospital/reporting/internal/app/domain/profile"
	"github.com/greenhospital/reporting/internal/app/storage/memory"
	"github.com/greenhospital/reporting/internal/auth"
	"github.com/greenhospital/reporting/pkg/logger"
)

const (
	adminToken = "admin-token"
	headToken  = "head-token"
)

type stubAuthenticator map[string]auth.Principal

func (s stubAuthenticator) Authenticate(_ context.Context, token string) (auth.Principal, error) {
	p, ok := s[token]
	if !ok {
		return auth.Principal{}, errors.New("unknown token")
	}
	return p, nil
}

type stubLogin struct{}

func (stubLogin) Login(_ context.Context, email, password string) (auth.Session, error) {
	if email == "head@example.org" && password == "secret-password" {
		return auth.Session{AccessToken: headToken, User: auth.Principal{UserID: "u1", Email: email}}, nil
	}
	return auth.Session{}, apperr.ErrUnauthorized
}

type fixture struct {
	handler http.Handler
	store   *memory.Store
	audit   *AuditLog
	month   period.Month
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	_, err := store.CreateHospital(ctx, hospital.Hospital{ID: "h1", Name: "North General"})
	require.NoError(t, err)
	hid := "h1"
	_, err = store.UpsertProfile(ctx, profile.Profile{ID: "u1", Email: "head@example.org", Role: profile.RoleDepartmentHead, HospitalID: &hid})
	require.NoError(t, err)

	application, err := app.New(app.FromStore(store), app.Options{}, logger.NewDiscard())
	require.NoError(t, err)

	audit := NewAuditLog(10, nil)
	h := NewHandler(application, Options{
		Authenticator: stubAuthenticator{
			adminToken: {UserID: "a1", Role: profile.RoleAdmin},
			headToken:  {UserID: "u1", Email: "head@example.org", Role: profile.RoleDepartmentHead, HospitalID: "h1"},
		},
		Login:       stubLogin{},
		CORSOrigins: []string{"*"},
		Audit:       audit,
		Log:         logger.NewDiscard(),
	})
	return &fixture{handler: h, store: store, audit: audit, month: period.Of(time.Now().UTC()).Prev()}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func fullValues() map[string]float64 {
	values := map[string]float64{}
	for _, key := range []string{
		"electricity_kwh", "gas_m3", "water_m3", "general_waste_kg", "recycled_waste_kg",
		"clinical_waste_kg", "co2_tonnes", "vehicle_km", "fuel_litres",
	} {
		values[key] = 5
	}
	return values
}

func TestPublicRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "head@example.org", "password": "secret-password"})
	require.Equal(t, http.StatusOK, rec.Code)
	var session auth.Session
	decode(t, rec, &session)
	assert.Equal(t, headToken, session.AccessToken)

	rec = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "head@example.org", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthenticationRequired(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/notifications", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/notifications", "bogus", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/notifications", headToken, nil).Code)
}

func TestRoleEnforcement(t *testing.T) {
	f := newFixture(t)

	adminOnly := []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, "/api/users", nil},
		{http.MethodPost, "/api/send-reminder", map[string]string{"hospitalId": "h1"}},
		{http.MethodGet, "/api/reminders", nil},
		{http.MethodGet, "/api/dashboard/aggregate", nil},
		{http.MethodPost, "/api/hospitals", map[string]string{"name": "New"}},
		{http.MethodDelete, "/api/hospitals/h1", nil},
		{http.MethodPut, "/api/users/u1/role", map[string]string{"role": "admin"}},
		{http.MethodPatch, "/api/support/x", map[string]string{"status": "closed"}},
		{http.MethodGet, "/api/admin/audit", nil},
	}
	for _, tc := range adminOnly {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := f.do(t, tc.method, tc.path, headToken, tc.body)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/users", adminToken, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/dashboard/aggregate", adminToken, nil).Code)
}

func TestNotificationEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/notifications?scope=all", headToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/notifications?scope=everyone", headToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/notifications?userId=a1", headToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/notifications?limit=abc", headToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/notifications?scope=all", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	decode(t, rec, &list)
	require.NotEmpty(t, list)
	id := list[0]["id"].(string)

	rec = f.do(t, http.MethodPost, "/api/notifications/"+id+"/read", adminToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/notifications/read-all?scope=all", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/notifications/"+id, adminToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/notifications?scope=all", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var after []map[string]any
	decode(t, rec, &after)
	for _, n := range after {
		assert.NotEqual(t, id, n["id"])
		assert.Equal(t, true, n["read"])
	}
}

func TestEntryWorkflow(t *testing.T) {
	f := newFixture(t)
	base := "/api/entries/h1/" + f.month.String()

	rec := f.do(t, http.MethodPut, base, headToken, map[string]any{"metrics": map[string]float64{"electricity_kwh": 10}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, base+"/submit", headToken, map[string]any{"metrics": map[string]float64{"electricity_kwh": -1}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var verr map[string]any
	decode(t, rec, &verr)
	assert.Equal(t, "validation failed", verr["error"])
	fields := verr["fields"].(map[string]any)
	assert.Contains(t, fields, "electricity_kwh")
	assert.Contains(t, fields, "water_m3")

	rec = f.do(t, http.MethodPost, base+"/submit", headToken, map[string]any{"metrics": fullValues()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, base+"/submit", headToken, map[string]any{"metrics": fullValues()})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/forms/h1-"+f.month.String()[5:]+"-"+f.month.String()[:4], headToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view map[string]any
	decode(t, rec, &view)
	assert.Equal(t, true, view["form"].(map[string]any)["submitted"])

	rec = f.do(t, http.MethodPost, base+"/reopen", adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/entries/h2/"+f.month.String(), headToken, map[string]any{"metrics": map[string]float64{}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPut, base, headToken, map[string]any{"unknown": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/entries?from=2020-13", headToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/submissions/current", headToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExportEndpoints(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/entries/h1/"+f.month.String()+"/submit", headToken, map[string]any{"metrics": fullValues()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/export/entries.csv", headToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="entries.csv"`)
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Hospital,Month,Electricity (kWh)"))
	assert.True(t, strings.HasPrefix(lines[1], "North General,"+f.month.String()))

	rec = f.do(t, http.MethodGet, "/api/export/entries.xlsx?from="+f.month.String(), adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotZero(t, rec.Body.Len())

	rec = f.do(t, http.MethodGet, "/api/export/entries.csv?hospitalId=h2", headToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHospitalAndSupportEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/hospitals", adminToken, map[string]string{"name": "East Clinic", "location": "York"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created hospital.Hospital
	decode(t, rec, &created)
	assert.NotEmpty(t, created.ID)

	rec = f.do(t, http.MethodGet, "/api/hospitals/missing", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/support", headToken, map[string]string{"subject": "Login", "message": "Cannot see March"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var msg map[string]any
	decode(t, rec, &msg)

	rec = f.do(t, http.MethodPatch, "/api/support/"+msg["id"].(string), adminToken, map[string]string{"status": "resolved", "admin_response": "Fixed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/notifications", headToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Support request resolved")

	rec = f.do(t, http.MethodGet, "/api/admin/audit", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var trail []AuditEntry
	decode(t, rec, &trail)
	require.Len(t, trail, 3)
	assert.Equal(t, http.MethodPatch, trail[0].Method)
	assert.Equal(t, http.StatusOK, trail[0].Status)
	assert.Equal(t, "a1", trail[0].UserID)
}

func TestCORSPreflightBypassesAuth(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/notifications", nil)
	req.Header.Set("Origin", "https://app.example.org")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(apperr.NotFound("hospital", "x")))
	assert.Equal(t, http.StatusBadRequest, statusFor(&apperr.ValidationError{Fields: map[string]string{"a": "b"}}))
	assert.Equal(t, http.StatusForbidden, statusFor(apperr.Forbidden("no")))
	assert.Equal(t, http.StatusConflict, statusFor(apperr.Conflict("no")))
	assert.Equal(t, http.StatusUnauthorized, statusFor(apperr.ErrUnauthorized))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
