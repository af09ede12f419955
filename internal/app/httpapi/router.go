// Package httpapi exposes the application services over HTTP.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	app "github.com/greenhospital/reporting/internal/app"
	"github.com/greenhospital/reporting/internal/app/metrics"
	"github.com/greenhospital/reporting/internal/auth"
	"github.com/greenhospital/reporting/internal/middleware"
	"github.com/greenhospital/reporting/pkg/logger"
)

// Options configures the router. Authenticator is required.
type Options struct {
	Authenticator middleware.Authenticator
	Login         auth.Provider
	CORSOrigins   []string
	RateLimiter   *middleware.RateLimiter
	Audit         *AuditLog
	Log           *logger.Logger
}

// NewHandler returns the full HTTP surface: public health, metrics and
// login routes plus the authenticated /api tree.
func NewHandler(application *app.Application, opts Options) http.Handler {
	if opts.Log == nil {
		opts.Log = logger.NewDefault("http")
	}
	if opts.Audit == nil {
		opts.Audit = NewAuditLog(0, nil)
	}
	h := &handler{app: application, login: opts.Login, audit: opts.Audit, log: opts.Log}

	r := mux.NewRouter()
	r.Use(mux.MiddlewareFunc(middleware.Logging(opts.Log)))
	r.Use(metrics.InstrumentHandler)

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/auth/login", h.authLogin).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.NewAuthMiddleware(opts.Authenticator, opts.Log, nil).Handler)
	if opts.RateLimiter != nil {
		api.Use(opts.RateLimiter.Handler)
	}
	api.Use(opts.Audit.Middleware)

	admin := func(fn http.HandlerFunc) http.Handler { return middleware.RequireAdmin(fn) }

	api.HandleFunc("/notifications", h.listNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications/read-all", h.markAllNotificationsRead).Methods(http.MethodPost)
	api.HandleFunc("/notifications/{id}/read", h.markNotificationRead).Methods(http.MethodPost)
	api.HandleFunc("/notifications/{id}", h.dismissNotification).Methods(http.MethodDelete)

	api.Handle("/send-reminder", admin(h.sendReminder)).Methods(http.MethodPost)
	api.Handle("/reminders", admin(h.reminderHistory)).Methods(http.MethodGet)

	api.HandleFunc("/submissions/current", h.currentSubmissions).Methods(http.MethodGet)
	api.Handle("/submissions", admin(h.monthSubmissions)).Methods(http.MethodGet)

	api.HandleFunc("/forms/definition", h.formDefinition).Methods(http.MethodGet)
	api.HandleFunc("/forms/{formId}", h.getForm).Methods(http.MethodGet)
	api.HandleFunc("/entries", h.listEntries).Methods(http.MethodGet)
	api.HandleFunc("/entries/{hospitalId}/{monthYear}", h.saveDraft).Methods(http.MethodPut)
	api.HandleFunc("/entries/{hospitalId}/{monthYear}/submit", h.submitEntry).Methods(http.MethodPost)
	api.Handle("/entries/{hospitalId}/{monthYear}/reopen", admin(h.reopenEntry)).Methods(http.MethodPost)

	api.Handle("/dashboard/aggregate", admin(h.dashboardAggregate)).Methods(http.MethodGet)
	api.HandleFunc("/export/entries.csv", h.exportCSV).Methods(http.MethodGet)
	api.HandleFunc("/export/entries.xlsx", h.exportXLSX).Methods(http.MethodGet)

	api.HandleFunc("/hospitals", h.listHospitals).Methods(http.MethodGet)
	api.Handle("/hospitals", admin(h.createHospital)).Methods(http.MethodPost)
	api.HandleFunc("/hospitals/{id}", h.getHospital).Methods(http.MethodGet)
	api.Handle("/hospitals/{id}", admin(h.updateHospital)).Methods(http.MethodPut)
	api.Handle("/hospitals/{id}", admin(h.deleteHospital)).Methods(http.MethodDelete)
	api.HandleFunc("/hospitals/{id}/variables", h.listVariables).Methods(http.MethodGet)
	api.Handle("/hospitals/{id}/variables", admin(h.upsertVariables)).Methods(http.MethodPut)
	api.Handle("/hospitals/{id}/variables/{key}", admin(h.deleteVariable)).Methods(http.MethodDelete)

	api.Handle("/users", admin(h.listUsers)).Methods(http.MethodGet)
	api.HandleFunc("/users/me", h.me).Methods(http.MethodGet)
	api.Handle("/users/{id}/hospital", admin(h.assignHospital)).Methods(http.MethodPut)
	api.Handle("/users/{id}/role", admin(h.setRole)).Methods(http.MethodPut)

	api.HandleFunc("/support", h.listSupport).Methods(http.MethodGet)
	api.HandleFunc("/support", h.createSupport).Methods(http.MethodPost)
	api.Handle("/support/{id}", admin(h.updateSupport)).Methods(http.MethodPatch)

	api.Handle("/admin/audit", admin(h.auditTrail)).Methods(http.MethodGet)

	var out http.Handler = r
	out = middleware.NewCORSMiddleware(opts.CORSOrigins).Handler(out)
	out = middleware.Recover(opts.Log)(out)
	return out
}
