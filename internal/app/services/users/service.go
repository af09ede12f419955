// Package users administers profiles: roles and hospital assignment.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/greenhospital/reporting/internal/app/apperr"
	"github.com/greenhospital/reporting/internal/app/domain/profile"
	"github.com/greenhospital/reporting/internal/app/storage"
	"github.com/greenhospital/reporting/internal/auth"
	"github.com/greenhospital/reporting/pkg/logger"
)

// Service manages user profiles.
type Service struct {
	profiles  storage.ProfileStore
	hospitals storage.HospitalStore
	log       *logger.Logger
}

// New creates a users service.
func New(profiles storage.ProfileStore, hospitals storage.HospitalStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	return &Service{profiles: profiles, hospitals: hospitals, log: log}
}

// List returns all profiles, optionally only those of one hospital.
func (s *Service) List(ctx context.Context, caller auth.Principal, hospitalID string) ([]profile.Profile, error) {
	if !caller.IsAdmin() {
		return nil, apperr.Forbidden("admin role required")
	}
	if hospitalID != "" {
		return s.profiles.ListProfilesByHospital(ctx, hospitalID)
	}
	return s.profiles.ListProfiles(ctx)
}

// Me returns the caller's profile. When no profile row exists, the
// principal itself is reported so clients still see a role.
func (s *Service) Me(ctx context.Context, caller auth.Principal) (profile.Profile, error) {
	p, err := s.profiles.GetProfile(ctx, caller.UserID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return profile.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	out := profile.Profile{ID: caller.UserID, Email: caller.Email, FullName: caller.FullName, Role: caller.Role}
	if caller.HospitalID != "" {
		hid := caller.HospitalID
		out.HospitalID = &hid
	}
	return out, nil
}

// AssignHospital sets or clears (empty hospitalID) a user's hospital.
func (s *Service) AssignHospital(ctx context.Context, caller auth.Principal, userID, hospitalID string) (profile.Profile, error) {
	if !caller.IsAdmin() {
		return profile.Profile{}, apperr.Forbidden("admin role required")
	}
	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	hospitalID = strings.TrimSpace(hospitalID)
	if hospitalID == "" {
		p.HospitalID = nil
	} else {
		if _, err := s.hospitals.GetHospital(ctx, hospitalID); err != nil {
			return profile.Profile{}, fmt.Errorf("load hospital: %w", err)
		}
		p.HospitalID = &hospitalID
	}
	saved, err := s.profiles.UpsertProfile(ctx, p)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("save profile: %w", err)
	}
	s.log.WithFields(map[string]interface{}{
		"user_id":     userID,
		"hospital_id": hospitalID,
		"by":          caller.UserID,
	}).Info("hospital assignment changed")
	return saved, nil
}

// SetRole changes a user's role. Admins cannot demote themselves.
func (s *Service) SetRole(ctx context.Context, caller auth.Principal, userID string, role profile.Role) (profile.Profile, error) {
	if !caller.IsAdmin() {
		return profile.Profile{}, apperr.Forbidden("admin role required")
	}
	if !role.Valid() {
		return profile.Profile{}, apperr.Invalid("unknown role %q", role)
	}
	if userID == caller.UserID && role != profile.RoleAdmin {
		return profile.Profile{}, apperr.Invalid("cannot remove your own admin role")
	}
	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	p.Role = role
	saved, err := s.profiles.UpsertProfile(ctx, p)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("save profile: %w", err)
	}
	s.log.WithField("user_id", userID).WithField("role", string(role)).Info("role changed")
	return saved, nil
}

// Provision creates or updates a profile directly, for seeding.
func (s *Service) Provision(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	if p.Email == "" {
		return profile.Profile{}, apperr.Invalid("email is required")
	}
	if p.Role == "" {
		p.Role = profile.RoleDepartmentHead
	}
	if !p.Role.Valid() {
		return profile.Profile{}, apperr.Invalid("unknown role %q", p.Role)
	}
	if p.ID == "" {
		if existing, err := s.profiles.GetProfileByEmail(ctx, p.Email); err == nil {
			p.ID = existing.ID
		}
	}
	return s.profiles.UpsertProfile(ctx, p)
}
