package reminders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/greenhospital/reporting/internal/app/system"
	"github.com/greenhospital/reporting/pkg/logger"
)

var _ system.Service = (*Scheduler)(nil)

// Scheduler runs SendOutstanding on a cron schedule.
type Scheduler struct {
	service  *Service
	spec     string
	location *time.Location
	timeout  time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewScheduler validates spec (standard five-field cron) and returns a
// stopped scheduler.
func NewScheduler(service *Service, spec string, loc *time.Location, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.NewDefault("reminder-scheduler")
	}
	if loc == nil {
		loc = time.UTC
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid reminder schedule %q: %w", spec, err)
	}
	return &Scheduler{
		service:  service,
		spec:     spec,
		location: loc,
		timeout:  5 * time.Minute,
		log:      log,
	}, nil
}

func (s *Scheduler) Name() string { return "reminder-scheduler" }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New(cron.WithLocation(s.location), cron.WithChain(cron.Recover(cronLogger{s.log})))
	if _, err := c.AddFunc(s.spec, s.run); err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}
	c.Start()
	s.cron = c
	s.running = true
	s.log.WithField("schedule", s.spec).Info("reminder scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("reminder scheduler stopped")
	return nil
}

// Next reports the next scheduled run after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	sched, err := cron.ParseStandard(s.spec)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(t.In(s.location))
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.service.SendOutstanding(ctx); err != nil {
		s.log.WithError(err).Error("scheduled reminders failed")
	}
}

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(kv(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(kv(keysAndValues)).Error(msg)
}

func kv(pairs []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out[fmt.Sprint(pairs[i])] = pairs[i+1]
	}
	return out
}
