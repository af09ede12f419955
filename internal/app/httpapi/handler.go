package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/greenhospital/reporting/internal/app"
	"github.com/greenhospital/reporting/internal/app/apperr"
	"github.com/greenhospital/reporting/internal/app/domain/entry"
	"github.com/greenhospital/reporting/internal/app/domain/hospital"
	"github.com/greenhospital/reporting/internal/app/domain/period"
	"github.com/greenhospital/reporting/internal/app/domain/profile"
	supportdomain "github.com/greenhospital/reporting/internal/app/domain/support"
	"github.com/greenhospital/reporting/internal/app/domain/variable"
	"github.com/greenhospital/reporting/internal/app/services/export"
	"github.com/greenhospital/reporting/internal/app/services/forms"
	"github.com/greenhospital/reporting/internal/app/services/notifications"
	"github.com/greenhospital/reporting/internal/app/services/reminders"
	"github.com/greenhospital/reporting/internal/app/services/support"
	"github.com/greenhospital/reporting/internal/auth"
	"github.com/greenhospital/reporting/pkg/logger"
)

const maxBodyBytes = 1 << 20

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	login auth.Provider
	audit *AuditLog
	log   *logger.Logger
}

func caller(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

// --- auth --------------------------------------------------------------------

func (h *handler) authLogin(w http.ResponseWriter, r *http.Request) {
	if h.login == nil {
		h.writeError(w, r, apperr.Invalid("login is not configured"))
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(payload.Email) == "" || payload.Password == "" {
		h.writeError(w, r, apperr.Invalid("email and password are required"))
		return
	}
	session, err := h.login.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Warn("login failed")
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"services": h.app.Services(),
	})
}

// --- notifications -----------------------------------------------------------

func (h *handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope, err := notifications.ParseScope(q.Get("scope"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.app.Notifications.List(r.Context(), caller(r), notifications.Query{
		Scope:  scope,
		UserID: strings.TrimSpace(q.Get("userId")),
		Limit:  limit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Notifications.MarkRead(r.Context(), caller(r), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	scope, err := notifications.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.app.Notifications.MarkAllRead(r.Context(), caller(r), scope)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (h *handler) dismissNotification(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Notifications.Dismiss(r.Context(), caller(r), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- reminders ---------------------------------------------------------------

func (h *handler) sendReminder(w http.ResponseWriter, r *http.Request) {
	var payload reminders.SendInput
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.app.Reminders.Send(r.Context(), caller(r), payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) reminderHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rows, err := h.app.Reminders.History(r.Context(), caller(r), r.URL.Query().Get("hospitalId"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// --- submissions -------------------------------------------------------------

func (h *handler) currentSubmissions(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Submissions.Current(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) monthSubmissions(w http.ResponseWriter, r *http.Request) {
	m, err := monthParam(r.URL.Query().Get("month"), h.app.Submissions.CurrentMonth())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.app.Submissions.ForMonth(r.Context(), m)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// --- forms and entries -------------------------------------------------------

func (h *handler) formDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := h.app.Forms.Definition(r.Context(), caller(r), r.URL.Query().Get("hospitalId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (h *handler) getForm(w http.ResponseWriter, r *http.Request) {
	view, err := h.app.Forms.Get(r.Context(), caller(r), mux.Vars(r)["formId"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) listEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := entryFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.app.Forms.ListEntries(r.Context(), caller(r), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) saveDraft(w http.ResponseWriter, r *http.Request) {
	var in forms.Input
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	res, err := h.app.Forms.SaveDraft(r.Context(), caller(r), vars["hospitalId"], vars["monthYear"], in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) submitEntry(w http.ResponseWriter, r *http.Request) {
	var in forms.Input
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	res, err := h.app.Forms.Submit(r.Context(), caller(r), vars["hospitalId"], vars["monthYear"], in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) reopenEntry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, err := h.app.Forms.Reopen(r.Context(), caller(r), vars["hospitalId"], vars["monthYear"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- dashboard and export ----------------------------------------------------

func (h *handler) dashboardAggregate(w http.ResponseWriter, r *http.Request) {
	m, err := monthParam(r.URL.Query().Get("month"), h.app.Submissions.CurrentMonth())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	agg, err := h.app.Dashboard.Aggregate(r.Context(), m)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (h *handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "csv", export.ContentTypeCSV, h.app.Export.WriteCSV)
}

func (h *handler) exportXLSX(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "xlsx", export.ContentTypeXLSX, h.app.Export.WriteXLSX)
}

type exportFunc func(ctx context.Context, w io.Writer, caller auth.Principal, filter entry.Filter) error

func (h *handler) export(w http.ResponseWriter, r *http.Request, ext, contentType string, write exportFunc) {
	filter, err := entryFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// Headers are written only once the export has rendered.
	var buf bytes.Buffer
	if err := write(r.Context(), &buf, caller(r), filter); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(filter, ext)))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// --- hospitals ---------------------------------------------------------------

type hospitalPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

func (h *handler) listHospitals(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Hospitals.List(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) createHospital(w http.ResponseWriter, r *http.Request) {
	var payload hospitalPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	created, err := h.app.Hospitals.Create(r.Context(), caller(r), hospital.Hospital{
		ID:       payload.ID,
		Name:     payload.Name,
		Location: payload.Location,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) getHospital(w http.ResponseWriter, r *http.Request) {
	got, err := h.app.Hospitals.Get(r.Context(), caller(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (h *handler) updateHospital(w http.ResponseWriter, r *http.Request) {
	var payload hospitalPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	updated, err := h.app.Hospitals.Update(r.Context(), caller(r), hospital.Hospital{
		ID:       mux.Vars(r)["id"],
		Name:     payload.Name,
		Location: payload.Location,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteHospital(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Hospitals.Delete(r.Context(), caller(r), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listVariables(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Hospitals.Variables(r.Context(), caller(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) upsertVariables(w http.ResponseWriter, r *http.Request) {
	var payload []variable.Variable
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	saved, err := h.app.Hospitals.UpsertVariables(r.Context(), caller(r), mux.Vars(r)["id"], payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *handler) deleteVariable(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.app.Hospitals.DeleteVariable(r.Context(), caller(r), vars["id"], vars["key"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- users -------------------------------------------------------------------

func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Users.List(r.Context(), caller(r), r.URL.Query().Get("hospitalId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Users.Me(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) assignHospital(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		HospitalID string `json:"hospitalId"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.app.Users.AssignHospital(r.Context(), caller(r), mux.Vars(r)["id"], payload.HospitalID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) setRole(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Role profile.Role `json:"role"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.app.Users.SetRole(r.Context(), caller(r), mux.Vars(r)["id"], payload.Role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- support -----------------------------------------------------------------

func (h *handler) listSupport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.app.Support.List(r.Context(), caller(r), supportdomain.Filter{
		UserID:     q.Get("userId"),
		HospitalID: q.Get("hospitalId"),
		Status:     supportdomain.Status(q.Get("status")),
		Limit:      limit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) createSupport(w http.ResponseWriter, r *http.Request) {
	var in support.CreateInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	msg, err := h.app.Support.Create(r.Context(), caller(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *handler) updateSupport(w http.ResponseWriter, r *http.Request) {
	var in support.UpdateInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	msg, err := h.app.Support.Update(r.Context(), caller(r), mux.Vars(r)["id"], in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// --- audit -------------------------------------------------------------------

func (h *handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.audit.List(limit))
}

// --- helpers -----------------------------------------------------------------

func entryFilter(r *http.Request) (entry.Filter, error) {
	q := r.URL.Query()
	filter := entry.Filter{
		HospitalID: strings.TrimSpace(q.Get("hospitalId")),
		From:       strings.TrimSpace(q.Get("from")),
		To:         strings.TrimSpace(q.Get("to")),
	}
	if raw := q.Get("submitted"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return entry.Filter{}, apperr.Invalid("submitted must be true or false")
		}
		filter.Submitted = &b
	}
	return filter, nil
}

func monthParam(raw string, fallback period.Month) (period.Month, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	m, err := period.Parse(strings.TrimSpace(raw))
	if err != nil {
		return period.Month{}, apperr.Invalid("%v", err)
	}
	return m, nil
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Invalid("%q is not a valid limit", raw)
	}
	return n, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Invalid("invalid JSON body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	body := map[string]interface{}{"error": err.Error()}
	if status == http.StatusInternalServerError {
		body["error"] = "internal error"
	}
	var verr *apperr.ValidationError
	if errors.As(err, &verr) {
		body["error"] = "validation failed"
		body["fields"] = verr.Fields
	}
	writeJSON(w, status, body)
}
