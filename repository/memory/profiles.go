package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/repository"
)

var (
	_ repository.ProfileRepository    = (*Profiles)(nil)
	_ repository.CredentialRepository = (*Credentials)(nil)
	_ repository.SessionRepository    = (*Sessions)(nil)
)

type Profiles struct {
	mu       sync.Mutex
	profiles map[string]domain.Profile
}

func NewProfiles() *Profiles {
	return &Profiles{profiles: make(map[string]domain.Profile)}
}

func (p *Profiles) Get(ctx context.Context, identityID string) (*domain.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	profile, ok := p.profiles[identityID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	return cloneProfile(profile), nil
}

func (p *Profiles) Put(ctx context.Context, profile *domain.Profile) error {
	if profile == nil || profile.IdentityID == "" {
		return domain.ErrInvalidPayload
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if existing, ok := p.profiles[profile.IdentityID]; ok {
		profile.CreatedAt = existing.CreatedAt
	} else if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	p.profiles[profile.IdentityID] = *cloneProfile(*profile)
	return nil
}

func (p *Profiles) Patch(ctx context.Context, identityID string, patch domain.ProfilePatch) (*domain.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	profile, ok := p.profiles[identityID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	if patch.Confirmed != nil {
		profile.Confirmed = *patch.Confirmed
	}
	if patch.RejectedAt != nil {
		at := *patch.RejectedAt
		profile.RejectedAt = &at
	}
	if patch.ContactToken != nil {
		profile.ContactToken = *patch.ContactToken
	}
	profile.UpdatedAt = time.Now()
	p.profiles[identityID] = profile
	return cloneProfile(profile), nil
}

func (p *Profiles) ListPending(ctx context.Context, limit int) ([]domain.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Profile, 0)
	for _, profile := range p.profiles {
		if !profile.Confirmed && profile.RejectedAt == nil {
			out = append(out, *cloneProfile(profile))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneProfile(p domain.Profile) *domain.Profile {
	if p.RejectedAt != nil {
		at := *p.RejectedAt
		p.RejectedAt = &at
	}
	return &p
}

type Credentials struct {
	mu      sync.Mutex
	byEmail map[string]domain.Credential
}

func NewCredentials() *Credentials {
	return &Credentials{byEmail: make(map[string]domain.Credential)}
}

func (c *Credentials) Create(ctx context.Context, credential *domain.Credential) error {
	if credential == nil || credential.IdentityID == "" {
		return domain.ErrInvalidPayload
	}
	email := strings.ToLower(strings.TrimSpace(credential.Email))
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byEmail[email]; ok {
		return domain.ErrDuplicateIdentity
	}
	stored := *credential
	stored.Email = email
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	c.byEmail[email] = stored
	return nil
}

func (c *Credentials) GetByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored, ok := c.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, domain.ErrIdentityNotFound
	}
	return &stored, nil
}

func (c *Credentials) Delete(ctx context.Context, identityID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for email, stored := range c.byEmail {
		if stored.IdentityID == identityID {
			delete(c.byEmail, email)
			return nil
		}
	}
	return domain.ErrIdentityNotFound
}

// Sessions is a session store that honours expiry lazily on read.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]domain.Session)}
}

func (s *Sessions) Get(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok || session.IsExpired(time.Now()) {
		delete(s.sessions, id)
		return nil, domain.ErrSessionNotFound
	}
	return &session, nil
}

func (s *Sessions) Save(ctx context.Context, session *domain.Session) error {
	if session == nil || session.ID == "" {
		return domain.ErrInvalidPayload
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	return nil
}

func (s *Sessions) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *Sessions) DeleteForIdentity(ctx context.Context, identityID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, session := range s.sessions {
		if session.UserID != identityID {
			continue
		}
		if !session.IsExpired(now) {
			removed++
		}
		delete(s.sessions, id)
	}
	return removed, nil
}
