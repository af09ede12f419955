// Package auth verifies bearer tokens and resolves them to the calling
// user. Two login providers exist: Supabase (GoTrue password grant) and a
// local provider backed by bcrypt hashes from configuration.
package auth

import (
	"context"

	"github.com/tidwall/gjson"

	"github.com/greenhospital/reporting/internal/app/domain/profile"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID     string       `json:"id"`
	Email      string       `json:"email"`
	FullName   string       `json:"full_name,omitempty"`
	Role       profile.Role `json:"role"`
	HospitalID string       `json:"hospital_id,omitempty"`
	// Fallback is set when the profile row could not be loaded and the
	// principal was derived from token metadata instead.
	Fallback bool `json:"fallback,omitempty"`
}

// IsAdmin reports whether the caller has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == profile.RoleAdmin }

// CanAccessHospital reports whether the caller may read or write data for
// hospitalID. Admins reach every hospital.
func (p Principal) CanAccessHospital(hospitalID string) bool {
	return p.IsAdmin() || (hospitalID != "" && p.HospitalID == hospitalID)
}

// FromProfile builds a principal from a stored profile.
func FromProfile(p profile.Profile) Principal {
	return Principal{
		UserID:     p.ID,
		Email:      p.Email,
		FullName:   p.FullName,
		Role:       p.Role,
		HospitalID: p.Hospital(),
	}
}

// Fallback derives a basic principal from a JSON document carrying
// user_metadata (a Supabase user or token claims). The caller can edit
// user_metadata, so only the display name is read from it: a fallback
// principal is always a department_head with no hospital.
func Fallback(userID, email string, doc []byte) Principal {
	p := Principal{UserID: userID, Email: email, Role: profile.RoleDepartmentHead, Fallback: true}
	if len(doc) == 0 || !gjson.ValidBytes(doc) {
		return p
	}
	p.FullName = gjson.GetBytes(doc, "user_metadata.full_name").String()
	if p.Email == "" {
		p.Email = gjson.GetBytes(doc, "email").String()
	}
	return p
}

type principalKey struct{}

// WithPrincipal stores p on the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
