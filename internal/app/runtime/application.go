// Package runtime assembles the service from configuration: storage,
// cache, mail, authentication, the application services and the HTTP
// server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	app "github.com/greenhospital/reporting/internal/app"
	"github.com/greenhospital/reporting/internal/app/apperr"
	"github.com/greenhospital/reporting/internal/app/domain/hospital"
	"github.com/greenhospital/reporting/internal/app/domain/profile"
	"github.com/greenhospital/reporting/internal/app/httpapi"
	"github.com/greenhospital/reporting/internal/app/services/submissions"
	"github.com/greenhospital/reporting/internal/app/storage"
	"github.com/greenhospital/reporting/internal/app/storage/memory"
	"github.com/greenhospital/reporting/internal/app/storage/postgres"
	sbstore "github.com/greenhospital/reporting/internal/app/storage/supabase"
	"github.com/greenhospital/reporting/internal/auth"
	"github.com/greenhospital/reporting/internal/cache"
	"github.com/greenhospital/reporting/internal/config"
	"github.com/greenhospital/reporting/internal/mail"
	"github.com/greenhospital/reporting/internal/middleware"
	"github.com/greenhospital/reporting/internal/platform/migrations"
	"github.com/greenhospital/reporting/internal/supabase"
	"github.com/greenhospital/reporting/pkg/logger"
)

const sweepInterval = 5 * time.Minute

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	app     *app.Application
	store   storage.Store
	db      *sqlx.DB
	sb      *supabase.Client
	cache   cache.Cache
	audit   *httpapi.FileAuditSink
	limiter *middleware.RateLimiter
	handler http.Handler
	server  *http.Server
	stop    chan struct{}
}

// NewApplication loads configuration from the environment and builds the
// service.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return New(ctx, cfg)
}

// New builds the service from cfg. The memory driver is seeded from the
// config file immediately since it has nothing else to start from.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	a := &Application{cfg: cfg, log: log.Component("runtime"), stop: make(chan struct{})}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	if err := a.openStore(ctx); err != nil {
		return nil, fmt.Errorf("configure store: %w", err)
	}
	if err := a.openCache(ctx); err != nil {
		return nil, fmt.Errorf("configure cache: %w", err)
	}

	application, err := app.New(app.FromStore(a.store), app.Options{
		Catalog: cfg.Metrics,
		Schedule: submissions.Schedule{
			DueDay:      cfg.Reporting.DueDay,
			DueSoonDays: submissions.DefaultDueSoonDays,
			Location:    cfg.Location(),
		},
		Cache:            a.cache,
		DashboardTTL:     cfg.Cache.DashboardTTL,
		Mailer:           buildMailer(cfg.Mail, log.Component("mail")),
		AppURL:           cfg.Reminders.AppURL,
		ReminderSchedule: cfg.Reminders.Schedule,
		RemindersEnabled: cfg.Reminders.Enabled,
	}, log.Component("app"))
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}
	a.app = application

	tokens, err := auth.NewTokenManager(cfg.TokenSecret(), cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("configure tokens: %w", err)
	}
	authenticator := auth.NewAuthenticator(tokens, a.store, log.Component("auth"))
	login, err := a.loginProvider(tokens, authenticator)
	if err != nil {
		return nil, err
	}

	if cfg.HTTP.RateLimitRPS > 0 {
		a.limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst, log.Component("ratelimit"))
	}
	sink, err := httpapi.NewFileAuditSink(cfg.HTTP.AuditLogPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	a.audit = sink
	var auditSink httpapi.AuditSink
	if sink != nil {
		auditSink = sink
	}

	a.handler = httpapi.NewHandler(application, httpapi.Options{
		Authenticator: authenticator,
		Login:         login,
		CORSOrigins:   cfg.CORSOrigins(),
		RateLimiter:   a.limiter,
		Audit:         httpapi.NewAuditLog(0, auditSink),
		Log:           log.Component("http"),
	})
	a.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Database.Driver == config.DriverMemory {
		if err := a.Seed(ctx); err != nil {
			return nil, fmt.Errorf("seed memory store: %w", err)
		}
	}
	ok = true
	return a, nil
}

func (a *Application) openStore(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case config.DriverPostgres:
		db, err := postgres.Open(ctx, a.cfg.Database.DSN)
		if err != nil {
			return err
		}
		a.db = db
		if a.cfg.Database.Migrate {
			if err := migrations.Apply(ctx, db.DB); err != nil {
				return err
			}
			a.log.Info("database migrations applied")
		}
		a.store = postgres.New(db)
	case config.DriverSupabase:
		client, err := a.supabaseClient()
		if err != nil {
			return err
		}
		a.store = sbstore.New(client)
	default:
		a.store = memory.New()
	}
	a.log.WithField("driver", a.cfg.Database.Driver).Info("store configured")
	return nil
}

func (a *Application) supabaseClient() (*supabase.Client, error) {
	if a.sb != nil {
		return a.sb, nil
	}
	client, err := supabase.New(supabase.Config{
		URL:        a.cfg.Supabase.URL,
		AnonKey:    a.cfg.Supabase.AnonKey,
		ServiceKey: a.cfg.Supabase.ServiceKey,
	})
	if err != nil {
		return nil, err
	}
	a.sb = client
	return client, nil
}

func (a *Application) openCache(ctx context.Context) error {
	if a.cfg.Cache.RedisURL == "" {
		a.cache = cache.NewMemory()
		return nil
	}
	r, err := cache.NewRedis(ctx, a.cfg.Cache.RedisURL, "reporting:")
	if err != nil {
		return err
	}
	a.cache = r
	a.log.Info("using redis cache")
	return nil
}

func buildMailer(cfg config.MailConfig, log *logger.Logger) mail.Mailer {
	switch cfg.Provider {
	case config.MailResend:
		return mail.NewResendMailer(cfg.ResendURL, cfg.ResendAPIKey, cfg.From, nil)
	case config.MailSMTP:
		return mail.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.From)
	default:
		return mail.NewLogMailer(cfg.From, log)
	}
}

// loginProvider signs users in through Supabase Auth when that driver is
// active, otherwise against the bcrypt hashes of the configured users.
func (a *Application) loginProvider(tokens *auth.TokenManager, authenticator *auth.Authenticator) (auth.Provider, error) {
	if a.cfg.Database.Driver == config.DriverSupabase {
		client, err := a.supabaseClient()
		if err != nil {
			return nil, err
		}
		return auth.NewSupabaseProvider(client, authenticator), nil
	}

	hashes := make(map[string]string, len(a.cfg.SeedUsers))
	for _, u := range a.cfg.SeedUsers {
		hash := u.PasswordHash
		if hash == "" && u.Password != "" {
			h, err := auth.HashPassword(u.Password)
			if err != nil {
				return nil, fmt.Errorf("hash password for %s: %w", u.Email, err)
			}
			hash = h
		}
		if hash == "" {
			a.log.WithField("email", u.Email).Warn("configured user has no password, login disabled")
			continue
		}
		hashes[strings.ToLower(u.Email)] = hash
	}
	return auth.NewLocalProvider(hashes, a.store, tokens), nil
}

// Seed creates or updates the hospitals and users listed in the config
// file. It is safe to run repeatedly.
func (a *Application) Seed(ctx context.Context) error {
	for _, sh := range a.cfg.SeedHospitals {
		h := hospital.Hospital{ID: sh.ID, Name: sh.Name, Location: sh.Location}
		existing, err := a.store.GetHospital(ctx, h.ID)
		switch {
		case err == nil:
			existing.Name, existing.Location = h.Name, h.Location
			_, err = a.store.UpdateHospital(ctx, existing)
		case errors.Is(err, apperr.ErrNotFound):
			_, err = a.store.CreateHospital(ctx, h)
		}
		if err != nil {
			return fmt.Errorf("seed hospital %s: %w", sh.ID, err)
		}
	}

	for _, su := range a.cfg.SeedUsers {
		id := su.ID
		if a.cfg.Database.Driver == config.DriverSupabase && su.Password != "" {
			uid, err := a.ensureAuthUser(ctx, su)
			if err != nil {
				return fmt.Errorf("seed auth user %s: %w", su.Email, err)
			}
			id = uid
		}
		p := profile.Profile{ID: id, Email: su.Email, FullName: su.FullName, Role: profile.Role(su.Role)}
		if su.HospitalID != "" {
			hid := su.HospitalID
			p.HospitalID = &hid
		}
		if _, err := a.app.Users.Provision(ctx, p); err != nil {
			return fmt.Errorf("seed user %s: %w", su.Email, err)
		}
	}

	a.log.WithFields(map[string]interface{}{
		"hospitals": len(a.cfg.SeedHospitals),
		"users":     len(a.cfg.SeedUsers),
	}).Info("seed data applied")
	return nil
}

func (a *Application) ensureAuthUser(ctx context.Context, su config.SeedUser) (string, error) {
	client, err := a.supabaseClient()
	if err != nil {
		return "", err
	}
	u, err := client.CreateUser(ctx, su.Email, su.Password, map[string]any{
		"full_name": su.FullName,
		"role":      su.Role,
	})
	if err == nil {
		return u.ID, nil
	}
	if !supabase.IsConflict(err) && !strings.Contains(strings.ToLower(err.Error()), "already") {
		return "", err
	}
	existing, lookupErr := a.store.GetProfileByEmail(ctx, su.Email)
	if lookupErr != nil {
		return "", fmt.Errorf("%v; profile lookup: %w", err, lookupErr)
	}
	return existing.ID, nil
}

// App exposes the application services.
func (a *Application) App() *app.Application { return a.app }

// Handler exposes the HTTP surface, mainly for tests.
func (a *Application) Handler() http.Handler { return a.handler }

// Run starts background services and the HTTP server and blocks until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	if a.limiter != nil {
		a.limiter.StartSweeper(sweepInterval, a.stop)
	}

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	a.log.Infof("HTTP server listening on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server, background services and connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("services: %w", err))
	}
	a.close()
	return errors.Join(errs...)
}

func (a *Application) close() {
	select {
	case <-a.stop:
	default:
		close(a.stop)
	}
	if c, ok := a.cache.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.WithError(err).Warn("error closing cache")
		}
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.log.WithError(err).Warn("error closing audit log")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
}
