// Package support handles support tickets raised by users and answered by
// admins.
package support

import (
	"context"
	"fmt"
	"strings"

	"github.com/greenhospital/reporting/internal/app/apperr"
	domain "github.com/greenhospital/reporting/internal/app/domain/support"
	"github.com/greenhospital/reporting/internal/app/storage"
	"github.com/greenhospital/reporting/internal/auth"
	"github.com/greenhospital/reporting/pkg/logger"
)

const (
	maxSubjectLen = 200
	maxMessageLen = 5000
)

// Service manages support messages.
type Service struct {
	store storage.SupportStore
	log   *logger.Logger
}

// New creates a support service.
func New(store storage.SupportStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("support")
	}
	return &Service{store: store, log: log}
}

// CreateInput is a new ticket.
type CreateInput struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Create opens a ticket for the caller.
func (s *Service) Create(ctx context.Context, caller auth.Principal, in CreateInput) (domain.Message, error) {
	subject := strings.TrimSpace(in.Subject)
	body := strings.TrimSpace(in.Message)

	verr := &apperr.ValidationError{}
	if subject == "" {
		verr.Add("subject", "is required")
	} else if len(subject) > maxSubjectLen {
		verr.Add("subject", fmt.Sprintf("must be at most %d characters", maxSubjectLen))
	}
	if body == "" {
		verr.Add("message", "is required")
	} else if len(body) > maxMessageLen {
		verr.Add("message", fmt.Sprintf("must be at most %d characters", maxMessageLen))
	}
	if err := verr.OrNil(); err != nil {
		return domain.Message{}, err
	}

	msg, err := s.store.CreateSupportMessage(ctx, domain.Message{
		UserID:     caller.UserID,
		HospitalID: caller.HospitalID,
		Subject:    subject,
		Message:    body,
		Status:     domain.StatusPending,
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("create support message: %w", err)
	}
	s.log.WithField("message_id", msg.ID).WithField("user_id", caller.UserID).Info("support message created")
	return msg, nil
}

// Notify records a message on a user's behalf that is already closed, such
// as a submission reminder. It never shows up as a pending request.
func (s *Service) Notify(ctx context.Context, userID, hospitalID, subject, body string) (domain.Message, error) {
	msg, err := s.store.CreateSupportMessage(ctx, domain.Message{
		UserID:     userID,
		HospitalID: hospitalID,
		Subject:    subject,
		Message:    body,
		Status:     domain.StatusClosed,
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("create notice: %w", err)
	}
	return msg, nil
}

// List returns the caller's own messages, or any messages for admins.
func (s *Service) List(ctx context.Context, caller auth.Principal, filter domain.Filter) ([]domain.Message, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Invalid("unknown status %q", filter.Status)
	}
	if !caller.IsAdmin() {
		filter.UserID = caller.UserID
		filter.HospitalID = ""
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 200
	}
	return s.store.ListSupportMessages(ctx, filter)
}

// UpdateInput changes status and/or the admin response.
type UpdateInput struct {
	Status        *domain.Status `json:"status"`
	AdminResponse *string        `json:"admin_response"`
}

// Update applies an admin's status change or response.
func (s *Service) Update(ctx context.Context, caller auth.Principal, id string, in UpdateInput) (domain.Message, error) {
	if !caller.IsAdmin() {
		return domain.Message{}, apperr.Forbidden("admin role required")
	}
	if in.Status == nil && in.AdminResponse == nil {
		return domain.Message{}, apperr.Invalid("nothing to update")
	}
	msg, err := s.store.GetSupportMessage(ctx, id)
	if err != nil {
		return domain.Message{}, fmt.Errorf("load support message: %w", err)
	}
	if msg.Status == domain.StatusClosed {
		return domain.Message{}, apperr.Conflict("support message %s is closed", id)
	}
	if in.AdminResponse != nil {
		resp := strings.TrimSpace(*in.AdminResponse)
		if resp == "" {
			msg.AdminResponse = nil
		} else {
			msg.AdminResponse = &resp
		}
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return domain.Message{}, apperr.Invalid("unknown status %q", *in.Status)
		}
		if !domain.CanTransition(msg.Status, *in.Status) {
			return domain.Message{}, apperr.Conflict("cannot move support message from %s to %s", msg.Status, *in.Status)
		}
		msg.Status = *in.Status
	}

	updated, err := s.store.UpdateSupportMessage(ctx, msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("update support message: %w", err)
	}
	s.log.WithFields(map[string]interface{}{
		"message_id": id,
		"status":     string(updated.Status),
		"by":         caller.UserID,
	}).Info("support message updated")
	return updated, nil
}
