package profile

import "time"

// Role controls which views and operations a user may reach.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleDepartmentHead Role = "department_head"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleDepartmentHead
}

// Profile is the application-side view of an authenticated user.
type Profile struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name,omitempty"`
	Role       Role      `json:"role"`
	HospitalID *string   `json:"hospital_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsAdmin reports whether the profile has the admin role.
func (p Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Hospital returns the assigned hospital id or "".
func (p Profile) Hospital() string {
	if p.HospitalID == nil {
		return ""
	}
	return *p.HospitalID
}
