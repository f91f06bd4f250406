package domain

import "time"

// Session is one signed-in period of an identity. Stores drop it at ExpiresAt;
// sign-out and a newer sign-in on the same client end it early.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Remaining is the lifetime left at reference, zero once lapsed. A zero
// reference means now.
func (s *Session) Remaining(reference time.Time) time.Duration {
	if s == nil {
		return 0
	}
	if reference.IsZero() {
		reference = time.Now()
	}
	if left := s.ExpiresAt.Sub(reference); left > 0 {
		return left
	}
	return 0
}

func (s *Session) IsExpired(reference time.Time) bool {
	return s.Remaining(reference) == 0
}
