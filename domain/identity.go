package domain

import "time"

// Identity is the identity provider's view of a signed-in principal.
type Identity struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	SessionID string    `json:"session_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (i *Identity) Valid(reference time.Time) bool {
	if i == nil || i.ID == "" {
		return false
	}
	if i.ExpiresAt.IsZero() {
		return true
	}
	if reference.IsZero() {
		reference = time.Now()
	}
	return i.ExpiresAt.After(reference)
}

// Credential is the stored secret material for an identity.
type Credential struct {
	IdentityID   string    `json:"identity_id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
