// Package reminders emails department heads about outstanding monthly
// submissions, records an audit row per delivery, and drops a reminder
// notice into each recipient's notification feed.
package reminders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/greenhospital/reporting/internal/app/apperr"
	"github.com/greenhospital/reporting/internal/app/domain/form"
	"github.com/greenhospital/reporting/internal/app/domain/period"
	"github.com/greenhospital/reporting/internal/app/domain/reminder"
	"github.com/greenhospital/reporting/internal/app/domain/support"
	"github.com/greenhospital/reporting/internal/app/metrics"
	"github.com/greenhospital/reporting/internal/app/services/submissions"
	"github.com/greenhospital/reporting/internal/app/storage"
	"github.com/greenhospital/reporting/internal/auth"
	"github.com/greenhospital/reporting/internal/mail"
	"github.com/greenhospital/reporting/pkg/logger"
)

// SystemSender is recorded as sent_by for scheduled reminders.
const SystemSender = "system"

// Notifier stores an in-app notice for a user.
type Notifier interface {
	Notify(ctx context.Context, userID, hospitalID, subject, body string) (support.Message, error)
}

// Tracker reports which hospitals still owe a month.
type Tracker interface {
	CurrentMonth() period.Month
	Outstanding(ctx context.Context, m period.Month) ([]submissions.Status, error)
}

// Stores groups the persistence the service uses.
type Stores struct {
	Hospitals storage.HospitalStore
	Profiles  storage.ProfileStore
	Reminders storage.ReminderStore
}

// SendInput is the body of a reminder request.
type SendInput struct {
	HospitalID string `json:"hospitalId"`
	MonthYear  string `json:"monthYear,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Result summarises one hospital's reminder run.
type Result struct {
	HospitalID string              `json:"hospital_id"`
	MonthYear  string              `json:"month_year"`
	Sent       int                 `json:"sent"`
	Failed     int                 `json:"failed"`
	Reminders  []reminder.Reminder `json:"reminders"`
}

// Service sends reminders.
type Service struct {
	stores   Stores
	mailer   mail.Mailer
	notifier Notifier
	tracker  Tracker
	appURL   string
	log      *logger.Logger
	now      func() time.Time
}

// New creates a reminder service.
func New(stores Stores, mailer mail.Mailer, notifier Notifier, tracker Tracker, appURL string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("reminders")
	}
	return &Service{
		stores:   stores,
		mailer:   mailer,
		notifier: notifier,
		tracker:  tracker,
		appURL:   strings.TrimRight(appURL, "/"),
		log:      log,
		now:      time.Now,
	}
}

// Send reminds every user assigned to in.HospitalID. Admin only.
func (s *Service) Send(ctx context.Context, caller auth.Principal, in SendInput) (Result, error) {
	if !caller.IsAdmin() {
		return Result{}, apperr.Forbidden("admin role required")
	}
	if strings.TrimSpace(in.HospitalID) == "" {
		return Result{}, apperr.Invalid("hospitalId is required")
	}
	m := s.tracker.CurrentMonth()
	if in.MonthYear != "" {
		parsed, err := period.Parse(in.MonthYear)
		if err != nil {
			return Result{}, apperr.Invalid("%v", err)
		}
		m = parsed
	}
	return s.send(ctx, caller.UserID, strings.TrimSpace(in.HospitalID), m, strings.TrimSpace(in.Message))
}

// SendOutstanding reminds every hospital that has not submitted the
// current month. Hospitals without assigned users are skipped.
func (s *Service) SendOutstanding(ctx context.Context) ([]Result, error) {
	m := s.tracker.CurrentMonth()
	pending, err := s.tracker.Outstanding(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("list outstanding hospitals: %w", err)
	}
	results := make([]Result, 0, len(pending))
	for _, st := range pending {
		res, err := s.send(ctx, SystemSender, st.HospitalID, m, "")
		if err != nil {
			s.log.WithError(err).WithField("hospital_id", st.HospitalID).Warn("scheduled reminder skipped")
			continue
		}
		results = append(results, res)
	}
	s.log.WithField("month_year", m.String()).WithField("hospitals", len(results)).Info("scheduled reminders sent")
	return results, nil
}

// History lists recent reminder audit rows. Admin only.
func (s *Service) History(ctx context.Context, caller auth.Principal, hospitalID string, limit int) ([]reminder.Reminder, error) {
	if !caller.IsAdmin() {
		return nil, apperr.Forbidden("admin role required")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.stores.Reminders.ListReminders(ctx, hospitalID, limit)
}

func (s *Service) send(ctx context.Context, sentBy, hospitalID string, m period.Month, note string) (Result, error) {
	h, err := s.stores.Hospitals.GetHospital(ctx, hospitalID)
	if err != nil {
		return Result{}, fmt.Errorf("load hospital: %w", err)
	}
	recipients, err := s.stores.Profiles.ListProfilesByHospital(ctx, hospitalID)
	if err != nil {
		return Result{}, fmt.Errorf("list recipients: %w", err)
	}
	if len(recipients) == 0 {
		return Result{}, apperr.Invalid("hospital %s has no assigned users", hospitalID)
	}

	subject := fmt.Sprintf("Reminder: %s %d sustainability data", m.Month, m.Year)
	body := s.body(h.ID, h.Name, m, note)
	res := Result{HospitalID: hospitalID, MonthYear: m.String(), Reminders: make([]reminder.Reminder, 0, len(recipients))}

	for _, p := range recipients {
		row := reminder.Reminder{
			HospitalID: hospitalID,
			Recipient:  p.Email,
			MonthYear:  m.String(),
			Channel:    s.mailer.Channel(),
			SentBy:     sentBy,
			Status:     reminder.StatusSent,
			SentAt:     s.now().UTC(),
		}
		if err := s.mailer.Send(ctx, mail.Message{To: []string{p.Email}, Subject: subject, Text: body}); err != nil {
			row.Status = reminder.StatusFailed
			row.Error = err.Error()
			res.Failed++
			s.log.WithError(err).WithField("hospital_id", hospitalID).WithField("recipient", p.Email).Warn("reminder delivery failed")
		} else {
			res.Sent++
		}
		metrics.RecordReminder(string(row.Status))

		saved, err := s.stores.Reminders.CreateReminder(ctx, row)
		if err != nil {
			return res, fmt.Errorf("record reminder: %w", err)
		}
		res.Reminders = append(res.Reminders, saved)

		if s.notifier != nil {
			if _, err := s.notifier.Notify(ctx, p.ID, hospitalID, subject, body); err != nil {
				s.log.WithError(err).WithField("user_id", p.ID).Warn("reminder notice not stored")
			}
		}
	}

	s.log.WithFields(map[string]interface{}{
		"hospital_id": hospitalID,
		"month_year":  m.String(),
		"sent":        res.Sent,
		"failed":      res.Failed,
		"sent_by":     sentBy,
	}).Info("reminders sent")
	return res, nil
}

func (s *Service) body(hospitalID, hospitalName string, m period.Month, note string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This is a reminder that %s has not yet submitted its sustainability data for %s %d.\n",
		hospitalName, m.Month, m.Year)
	if note != "" {
		b.WriteString("\n")
		b.WriteString(note)
		b.WriteString("\n")
	}
	if s.appURL != "" {
		fmt.Fprintf(&b, "\nOpen the form: %s\n", FormLink(s.appURL, hospitalID, m))
	}
	return b.String()
}

// FormLink is the deep link for a hospital's monthly form.
func FormLink(appURL, hospitalID string, m period.Month) string {
	return strings.TrimRight(appURL, "/") + "/forms/" + form.ID(hospitalID, m)
}
