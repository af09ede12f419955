// Package notifications derives a user's notification feed from submission
// state and support messages on every read. Only per-user read and
// dismissed flags are stored.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/greenhospital/reporting/internal/app/apperr"
	"github.com/greenhospital/reporting/internal/app/domain/entry"
	"github.com/greenhospital/reporting/internal/app/domain/notification"
	"github.com/greenhospital/reporting/internal/app/domain/support"
	"github.com/greenhospital/reporting/internal/app/services/submissions"
	"github.com/greenhospital/reporting/internal/app/storage"
	"github.com/greenhospital/reporting/internal/auth"
	"github.com/greenhospital/reporting/pkg/logger"
)

// Scope selects whose notifications are derived.
type Scope string

const (
	ScopeUser Scope = "user"
	ScopeAll  Scope = "all"
)

// ParseScope accepts "", "user" and "all".
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeUser:
		return ScopeUser, nil
	case ScopeAll:
		return ScopeAll, nil
	}
	return "", apperr.Invalid("unknown scope %q", s)
}

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Query selects a feed. UserID defaults to the caller.
type Query struct {
	Scope  Scope
	UserID string
	Limit  int
}

// Stores groups the persistence the service reads from.
type Stores struct {
	Hospitals storage.HospitalStore
	Profiles  storage.ProfileStore
	Entries   storage.EntryStore
	Support   storage.SupportStore
	States    storage.NotificationStateStore
}

// Service derives notification feeds.
type Service struct {
	stores   Stores
	schedule submissions.Schedule
	log      *logger.Logger
	now      func() time.Time
}

// New creates a notifications service.
func New(stores Stores, schedule submissions.Schedule, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("notifications")
	}
	if schedule.DueSoonDays <= 0 {
		schedule.DueSoonDays = submissions.DefaultDueSoonDays
	}
	return &Service{stores: stores, schedule: schedule, log: log, now: time.Now}
}

// List returns the feed selected by q, newest first. The all-hospitals
// scope and other users' feeds require an admin.
func (s *Service) List(ctx context.Context, caller auth.Principal, q Query) ([]notification.Notification, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Scope == "" {
		q.Scope = ScopeUser
	}

	var (
		items []notification.Notification
		owner = caller.UserID
		err   error
	)
	switch q.Scope {
	case ScopeAll:
		if !caller.IsAdmin() {
			return nil, apperr.Forbidden("scope=all requires an admin")
		}
		items, err = s.deriveAll(ctx)
	case ScopeUser:
		target := caller
		if q.UserID != "" && q.UserID != caller.UserID {
			if !caller.IsAdmin() {
				return nil, apperr.Forbidden("cannot read notifications of another user")
			}
			p, perr := s.stores.Profiles.GetProfile(ctx, q.UserID)
			if perr != nil {
				return nil, fmt.Errorf("load profile: %w", perr)
			}
			target = auth.FromProfile(p)
			owner = p.ID
		}
		items, err = s.deriveUser(ctx, target)
	default:
		return nil, apperr.Invalid("unknown scope %q", q.Scope)
	}
	if err != nil {
		return nil, err
	}

	items, err = s.applyState(ctx, owner, items)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	if len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items, nil
}

func (s *Service) deriveUser(ctx context.Context, p auth.Principal) ([]notification.Notification, error) {
	now := s.now()
	out := make([]notification.Notification, 0)

	if p.HospitalID != "" {
		m := s.schedule.CurrentMonth(now)
		var current *entry.Entry
		e, err := s.stores.Entries.GetEntry(ctx, p.HospitalID, m.String())
		switch {
		case err == nil:
			current = &e
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, fmt.Errorf("load entry: %w", err)
		}
		if n, ok := submissionNotice(s.schedule, now, p.HospitalID, m, current); ok {
			out = append(out, n)
		}
	}

	msgs, err := s.stores.Support.ListSupportMessages(ctx, support.Filter{UserID: p.UserID})
	if err != nil {
		return nil, fmt.Errorf("list support messages: %w", err)
	}
	for _, m := range msgs {
		if n, ok := supportNotice(m); ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Service) deriveAll(ctx context.Context) ([]notification.Notification, error) {
	now := s.now()
	m := s.schedule.CurrentMonth(now)

	hospitals, err := s.stores.Hospitals.ListHospitals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list hospitals: %w", err)
	}
	entries, err := s.stores.Entries.ListEntries(ctx, entry.Filter{From: m.String(), To: m.String()})
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	pending, err := s.stores.Support.ListSupportMessages(ctx, support.Filter{Status: support.StatusPending})
	if err != nil {
		return nil, fmt.Errorf("list support messages: %w", err)
	}
	return adminNotices(s.schedule, now, m, hospitals, entries, pending), nil
}

func (s *Service) states(ctx context.Context, userID string) (map[string]notification.State, error) {
	list, err := s.stores.States.ListNotificationStates(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list notification states: %w", err)
	}
	out := make(map[string]notification.State, len(list))
	for _, st := range list {
		out[st.NotificationID] = st
	}
	return out, nil
}

func (s *Service) applyState(ctx context.Context, userID string, items []notification.Notification) ([]notification.Notification, error) {
	states, err := s.states(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, n := range items {
		st, ok := states[n.ID]
		if ok && st.Dismissed {
			continue
		}
		n.Read = ok && st.Read
		out = append(out, n)
	}
	return out, nil
}

func (s *Service) save(ctx context.Context, userID, id string, existing map[string]notification.State, mutate func(*notification.State)) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperr.Invalid("notification id is required")
	}
	st, ok := existing[id]
	if !ok {
		st = notification.State{UserID: userID, NotificationID: id}
	}
	mutate(&st)
	st.UpdatedAt = s.now().UTC()
	if err := s.stores.States.SaveNotificationState(ctx, st); err != nil {
		return fmt.Errorf("save notification state: %w", err)
	}
	return nil
}

// MarkRead flags one notification as read for the caller.
func (s *Service) MarkRead(ctx context.Context, caller auth.Principal, id string) error {
	existing, err := s.states(ctx, caller.UserID)
	if err != nil {
		return err
	}
	return s.save(ctx, caller.UserID, id, existing, func(st *notification.State) { st.Read = true })
}

// Dismiss hides one notification from the caller's feed.
func (s *Service) Dismiss(ctx context.Context, caller auth.Principal, id string) error {
	existing, err := s.states(ctx, caller.UserID)
	if err != nil {
		return err
	}
	if err := s.save(ctx, caller.UserID, id, existing, func(st *notification.State) {
		st.Read = true
		st.Dismissed = true
	}); err != nil {
		return err
	}
	s.log.WithField("user_id", caller.UserID).WithField("notification_id", id).Debug("notification dismissed")
	return nil
}

// MarkAllRead flags every notification currently in the caller's feed for
// scope as read and returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, caller auth.Principal, scope Scope) (int, error) {
	items, err := s.List(ctx, caller, Query{Scope: scope, Limit: MaxLimit})
	if err != nil {
		return 0, err
	}
	existing, err := s.states(ctx, caller.UserID)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, n := range items {
		if n.Read {
			continue
		}
		if err := s.save(ctx, caller.UserID, n.ID, existing, func(st *notification.State) { st.Read = true }); err != nil {
			return changed, err
		}
		changed++
	}
	s.log.WithField("user_id", caller.UserID).WithField("count", changed).Info("notifications marked read")
	return changed, nil
}
