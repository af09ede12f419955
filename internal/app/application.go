package app

import (
	"context"
	"fmt"
	"time"

	"github.com/greenhospital/reporting/internal/app/domain/metric"
	"github.com/greenhospital/reporting/internal/app/services/dashboard"
	"github.com/greenhospital/reporting/internal/app/services/export"
	"github.com/greenhospital/reporting/internal/app/services/forms"
	"github.com/greenhospital/reporting/internal/app/services/hospitals"
	"github.com/greenhospital/reporting/internal/app/services/notifications"
	"github.com/greenhospital/reporting/internal/app/services/reminders"
	"github.com/greenhospital/reporting/internal/app/services/submissions"
	"github.com/greenhospital/reporting/internal/app/services/support"
	"github.com/greenhospital/reporting/internal/app/services/users"
	"github.com/greenhospital/reporting/internal/app/storage"
	"github.com/greenhospital/reporting/internal/app/storage/memory"
	"github.com/greenhospital/reporting/internal/app/system"
	"github.com/greenhospital/reporting/internal/cache"
	"github.com/greenhospital/reporting/internal/mail"
	"github.com/greenhospital/reporting/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Hospitals     storage.HospitalStore
	Variables     storage.VariableStore
	Profiles      storage.ProfileStore
	Entries       storage.EntryStore
	Forms         storage.FormStore
	Submissions   storage.SubmissionStore
	Support       storage.SupportStore
	Reminders     storage.ReminderStore
	Notifications storage.NotificationStateStore
}

// FromStore fills every field from a single backend.
func FromStore(s storage.Store) Stores {
	return Stores{
		Hospitals:     s,
		Variables:     s,
		Profiles:      s,
		Entries:       s,
		Forms:         s,
		Submissions:   s,
		Support:       s,
		Reminders:     s,
		Notifications: s,
	}
}

// Options tunes the services. Zero values fall back to defaults.
type Options struct {
	Catalog          metric.Catalog
	Schedule         submissions.Schedule
	Cache            cache.Cache
	DashboardTTL     time.Duration
	Mailer           mail.Mailer
	AppURL           string
	ReminderSchedule string
	RemindersEnabled bool
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Catalog       metric.Catalog
	Hospitals     *hospitals.Service
	Users         *users.Service
	Forms         *forms.Service
	Submissions   *submissions.Service
	Dashboard     *dashboard.Service
	Notifications *notifications.Service
	Support       *support.Service
	Reminders     *reminders.Service
	Export        *export.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Hospitals == nil {
		stores.Hospitals = mem
	}
	if stores.Variables == nil {
		stores.Variables = mem
	}
	if stores.Profiles == nil {
		stores.Profiles = mem
	}
	if stores.Entries == nil {
		stores.Entries = mem
	}
	if stores.Forms == nil {
		stores.Forms = mem
	}
	if stores.Submissions == nil {
		stores.Submissions = mem
	}
	if stores.Support == nil {
		stores.Support = mem
	}
	if stores.Reminders == nil {
		stores.Reminders = mem
	}
	if stores.Notifications == nil {
		stores.Notifications = mem
	}

	if len(opts.Catalog) == 0 {
		opts.Catalog = metric.Default()
	}
	if opts.Schedule.DueDay == 0 {
		opts.Schedule = submissions.DefaultSchedule()
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemory()
	}
	if opts.Mailer == nil {
		opts.Mailer = mail.NewLogMailer("", log.Component("mail"))
	}

	manager := system.NewManager()

	hospitalService := hospitals.New(stores.Hospitals, stores.Variables, opts.Catalog, log.Component("hospitals"))
	userService := users.New(stores.Profiles, stores.Hospitals, log.Component("users"))
	submissionService := submissions.New(stores.Hospitals, stores.Entries, opts.Schedule, log.Component("submissions"))
	dashboardService := dashboard.New(stores.Hospitals, stores.Entries, opts.Catalog, opts.Cache, opts.DashboardTTL, log.Component("dashboard"))

	formService := forms.New(forms.Stores{
		Hospitals:   stores.Hospitals,
		Variables:   stores.Variables,
		Entries:     stores.Entries,
		Forms:       stores.Forms,
		Submissions: stores.Submissions,
	}, opts.Catalog, log.Component("forms"))
	formService.AttachInvalidator(dashboardService)
	formService.UseLocation(opts.Schedule.Location)

	notificationService := notifications.New(notifications.Stores{
		Hospitals: stores.Hospitals,
		Profiles:  stores.Profiles,
		Entries:   stores.Entries,
		Support:   stores.Support,
		States:    stores.Notifications,
	}, opts.Schedule, log.Component("notifications"))

	supportService := support.New(stores.Support, log.Component("support"))
	reminderService := reminders.New(reminders.Stores{
		Hospitals: stores.Hospitals,
		Profiles:  stores.Profiles,
		Reminders: stores.Reminders,
	}, opts.Mailer, supportService, submissionService, opts.AppURL, log.Component("reminders"))
	exportService := export.New(formService, stores.Hospitals, stores.Variables, opts.Catalog, log.Component("export"))

	if opts.RemindersEnabled {
		scheduler, err := reminders.NewScheduler(reminderService, opts.ReminderSchedule, opts.Schedule.Location, log.Component("reminder-scheduler"))
		if err != nil {
			return nil, err
		}
		if err := manager.Register(scheduler); err != nil {
			return nil, fmt.Errorf("register %s: %w", scheduler.Name(), err)
		}
	} else {
		log.Warn("reminder scheduler disabled")
	}

	return &Application{
		manager:       manager,
		log:           log,
		Catalog:       opts.Catalog,
		Hospitals:     hospitalService,
		Users:         userService,
		Forms:         formService,
		Submissions:   submissionService,
		Dashboard:     dashboardService,
		Notifications: notificationService,
		Support:       supportService,
		Reminders:     reminderService,
		Export:        exportService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists the registered lifecycle services.
func (a *Application) Services() []string {
	return a.manager.Names()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
