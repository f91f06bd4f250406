package domain

import (
	"strings"
	"time"
)

// Role is the authoritative marketplace role stored on a Profile.
type Role string

const (
	RoleFarmer Role = "farmer"
	RoleBuyer  Role = "buyer"
	RoleAdmin  Role = "admin"
)

// ParseRole normalises user input into a Role.
func ParseRole(value string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleFarmer:
		return RoleFarmer, true
	case RoleBuyer:
		return RoleBuyer, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// SelfRegistrable reports whether an identity may pick this role at sign-up.
// Admins are provisioned out of band.
func (r Role) SelfRegistrable() bool {
	return r == RoleFarmer || r == RoleBuyer
}

// Profile is the one-per-identity record that carries role and admission state.
type Profile struct {
	IdentityID   string     `json:"identity_id"`
	Email        string     `json:"email"`
	Role         Role       `json:"role"`
	Confirmed    bool       `json:"confirmed"`
	RejectedAt   *time.Time `json:"rejected_at,omitempty"`
	ContactToken string     `json:"contact_token,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (p *Profile) IsRejected() bool {
	return p != nil && p.RejectedAt != nil
}

// Admission derives the admission state from the stored flags.
func (p *Profile) Admission() AdmissionState {
	switch {
	case p == nil:
		return AdmissionUnauthenticated
	case p.IsRejected():
		return AdmissionRejected
	case p.Confirmed:
		return AdmissionConfirmed
	default:
		return AdmissionRegistered
	}
}

// ProfilePatch lists the mutable profile fields. Nil members are left untouched.
type ProfilePatch struct {
	Confirmed    *bool
	RejectedAt   *time.Time
	ContactToken *string
}

func (p ProfilePatch) Empty() bool {
	return p.Confirmed == nil && p.RejectedAt == nil && p.ContactToken == nil
}

// AdmissionState is the admission lifecycle of one identity.
type AdmissionState string

const (
	AdmissionUnauthenticated AdmissionState = "unauthenticated"
	AdmissionRegistered      AdmissionState = "registered"
	AdmissionConfirmed       AdmissionState = "confirmed"
	AdmissionRejected        AdmissionState = "rejected"
)
