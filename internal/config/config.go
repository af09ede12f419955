// Package config loads service configuration from the environment (with an
// optional .env file) and an optional YAML file holding the metric catalog
// overrides and seed data.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/greenhospital/reporting/internal/app/domain/metric"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSupabase = "supabase"
)

// Mail providers.
const (
	MailLog    = "log"
	MailResend = "resend"
	MailSMTP   = "smtp"
)

type ServerConfig struct {
	Host            string        `env:"SERVER_HOST,default=0.0.0.0"`
	Port            int           `env:"SERVER_PORT,default=8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT,default=60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=10s"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver  string `env:"DATABASE_DRIVER,default=memory"`
	DSN     string `env:"DATABASE_DSN"`
	Migrate bool   `env:"DATABASE_MIGRATE,default=true"`
}

type SupabaseConfig struct {
	URL        string `env:"SUPABASE_URL"`
	AnonKey    string `env:"SUPABASE_ANON_KEY"`
	ServiceKey string `env:"SUPABASE_SERVICE_KEY"`
	JWTSecret  string `env:"SUPABASE_JWT_SECRET"`
}

type AuthConfig struct {
	JWTSecret string        `env:"AUTH_JWT_SECRET"`
	Issuer    string        `env:"AUTH_ISSUER,default=reporting"`
	TokenTTL  time.Duration `env:"AUTH_TOKEN_TTL,default=12h"`
}

type CacheConfig struct {
	RedisURL     string        `env:"REDIS_URL"`
	DashboardTTL time.Duration `env:"DASHBOARD_CACHE_TTL,default=2m"`
}

type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL,default=info"`
	Format     string `env:"LOG_FORMAT,default=text"`
	Output     string `env:"LOG_OUTPUT,default=stdout"`
	FilePrefix string `env:"LOG_FILE_PREFIX,default=reporting"`
}

type MailConfig struct {
	Provider     string `env:"MAIL_PROVIDER,default=log"`
	From         string `env:"MAIL_FROM,default=Green Hospital Reporting <noreply@localhost>"`
	ResendAPIKey string `env:"RESEND_API_KEY"`
	ResendURL    string `env:"RESEND_URL,default=https://api.resend.com"`
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
}

// DefaultReminderSchedule runs at 09:00 on the 10th and 14th. It is applied
// in code because envdecode splits tag options on commas.
const DefaultReminderSchedule = "0 9 10,14 * *"

type ReminderConfig struct {
	Enabled  bool   `env:"REMINDERS_ENABLED,default=true"`
	Schedule string `env:"REMINDER_SCHEDULE"`
	AppURL   string `env:"APP_URL,default=http://localhost:3000"`
}

type ReportingConfig struct {
	DueDay   int    `env:"DUE_DAY,default=15"`
	Timezone string `env:"TIMEZONE,default=UTC"`
}

type HTTPConfig struct {
	CORSOrigins    string  `env:"CORS_ORIGINS,default=*"`
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS,default=20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST,default=40"`
	AuditLogPath   string  `env:"AUDIT_LOG_PATH"`
}

// SeedHospital is a hospital created by the seed command.
type SeedHospital struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Location string `yaml:"location"`
}

// SeedUser is a login created by the seed command. Local auth reads
// PasswordHash (or hashes Password at startup).
type SeedUser struct {
	ID           string `yaml:"id"`
	Email        string `yaml:"email"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
	FullName     string `yaml:"full_name"`
	Role         string `yaml:"role"`
	HospitalID   string `yaml:"hospital_id"`
}

// FileConfig is the YAML document named by CONFIG_FILE.
type FileConfig struct {
	Metrics []metric.Definition `yaml:"metrics"`
	Seed    struct {
		Hospitals []SeedHospital `yaml:"hospitals"`
		Users     []SeedUser     `yaml:"users"`
	} `yaml:"seed"`
}

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Supabase  SupabaseConfig
	Auth      AuthConfig
	Cache     CacheConfig
	Logging   LoggingConfig
	Mail      MailConfig
	Reminders ReminderConfig
	Reporting ReportingConfig
	HTTP      HTTPConfig
	File      string `env:"CONFIG_FILE"`

	Metrics       metric.Catalog
	SeedHospitals []SeedHospital
	SeedUsers     []SeedUser

	location *time.Location
}

// Load reads .env (when present), the environment, and CONFIG_FILE.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv decodes the current environment without touching .env.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.Metrics = metric.Default()

	if cfg.File != "" {
		if err := cfg.applyFile(cfg.File); err != nil {
			return nil, err
		}
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	for i, d := range fc.Metrics {
		if d.Key == "" {
			return fmt.Errorf("config file %s: metric %d has no key", path, i)
		}
		if d.Label == "" {
			fc.Metrics[i].Label = d.Key
		}
	}
	c.Metrics = c.Metrics.Override(fc.Metrics)
	c.SeedHospitals = fc.Seed.Hospitals
	c.SeedUsers = fc.Seed.Users
	return nil
}

func (c *Config) finalize() error {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Mail.Provider = strings.ToLower(strings.TrimSpace(c.Mail.Provider))
	if strings.TrimSpace(c.Reminders.Schedule) == "" {
		c.Reminders.Schedule = DefaultReminderSchedule
	}

	loc, err := time.LoadLocation(c.Reporting.Timezone)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Reporting.Timezone, err)
	}
	c.location = loc

	if c.Database.Driver == DriverMemory && c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = randomSecret()
	}
	return c.Validate()
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("DATABASE_DSN is required for the postgres driver")
		}
	case DriverSupabase:
		if c.Supabase.URL == "" || (c.Supabase.AnonKey == "" && c.Supabase.ServiceKey == "") {
			return errors.New("SUPABASE_URL and SUPABASE_ANON_KEY are required for the supabase driver")
		}
		if c.Supabase.JWTSecret == "" {
			return errors.New("SUPABASE_JWT_SECRET is required to verify access tokens")
		}
	default:
		return fmt.Errorf("unknown DATABASE_DRIVER %q", c.Database.Driver)
	}

	if c.Database.Driver != DriverSupabase && len(c.Auth.JWTSecret) < 16 {
		return errors.New("AUTH_JWT_SECRET must be at least 16 characters")
	}

	switch c.Mail.Provider {
	case MailLog:
	case MailResend:
		if c.Mail.ResendAPIKey == "" {
			return errors.New("RESEND_API_KEY is required for the resend mail provider")
		}
	case MailSMTP:
		if c.Mail.SMTPHost == "" {
			return errors.New("SMTP_HOST is required for the smtp mail provider")
		}
	default:
		return fmt.Errorf("unknown MAIL_PROVIDER %q", c.Mail.Provider)
	}

	if c.Reporting.DueDay < 1 || c.Reporting.DueDay > 28 {
		return fmt.Errorf("DUE_DAY must be between 1 and 28, got %d", c.Reporting.DueDay)
	}
	return nil
}

// Location is the reporting time zone.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// TokenSecret is the HS256 secret used to verify bearer tokens.
func (c *Config) TokenSecret() string {
	if c.Database.Driver == DriverSupabase {
		return c.Supabase.JWTSecret
	}
	return c.Auth.JWTSecret
}

// CORSOrigins splits CORS_ORIGINS on commas.
func (c *Config) CORSOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.HTTP.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "insecure-development-secret-please-set"
	}
	return hex.EncodeToString(b)
}
