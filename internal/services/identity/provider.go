// Package identity is the built-in identity provider: bcrypt credentials in
// the credential store, sessions in the session store, JWT bearer tokens.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/repository"
)

type Config struct {
	SessionTTL        time.Duration
	BcryptCost        int
	MinPasswordLength int
}

// Provider holds the shared stores. Each client session talks to it through
// its own Gateway.
type Provider struct {
	credentials repository.CredentialRepository
	sessions    repository.SessionRepository
	tokens      *TokenIssuer
	logger      *zap.Logger
	cfg         Config
	// compared against on unknown emails so both failures cost the same
	dummyHash []byte
}

func NewProvider(
	credentials repository.CredentialRepository,
	sessions repository.SessionRepository,
	tokens *TokenIssuer,
	logger *zap.Logger,
	cfg Config,
) *Provider {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = 6
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cfg.BcryptCost)
	return &Provider{
		credentials: credentials,
		sessions:    sessions,
		tokens:      tokens,
		logger:      logger,
		cfg:         cfg,
		dummyHash:   dummy,
	}
}

// NewGateway returns a fresh, signed-out gateway for one client.
func (p *Provider) NewGateway() *Gateway {
	return &Gateway{provider: p, listeners: make(map[uint64]func(*domain.Identity))}
}

// Token signs the bearer token for a session.
func (p *Provider) Token(session *domain.Session) (string, error) {
	return p.tokens.Issue(session)
}

// ParseToken validates a bearer token.
func (p *Provider) ParseToken(token string) (*Claims, error) {
	return p.tokens.Parse(token)
}

// Session loads a live session or returns domain.ErrSessionNotFound.
func (p *Provider) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsExpired(time.Now()) {
		_ = p.sessions.Delete(ctx, sessionID)
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

func (p *Provider) createIdentity(ctx context.Context, email, password string) (*domain.Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, domain.ErrInvalidPayload
	}
	if len(password) < p.cfg.MinPasswordLength {
		return nil, domain.ErrWeakCredential
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cfg.BcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, domain.ErrWeakCredential
		}
		return nil, err
	}
	credential := &domain.Credential{
		IdentityID:   uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	if err := p.credentials.Create(ctx, credential); err != nil {
		return nil, err
	}
	p.logger.Info("identity created", zap.String("identity_id", credential.IdentityID))
	return &domain.Identity{ID: credential.IdentityID, Email: credential.Email}, nil
}

func (p *Provider) deleteIdentity(ctx context.Context, identityID string) error {
	if err := p.credentials.Delete(ctx, identityID); err != nil {
		return err
	}
	revoked, err := p.sessions.DeleteForIdentity(ctx, identityID)
	if err != nil {
		// the credential is gone, so the sessions can no longer be renewed
		p.logger.Warn("revoking sessions of deleted identity failed", zap.String("identity_id", identityID), zap.Error(err))
	}
	p.logger.Warn("identity deleted", zap.String("identity_id", identityID), zap.Int("sessions_revoked", revoked))
	return nil
}

func (p *Provider) authenticate(ctx context.Context, email, password string) (*domain.Session, error) {
	credential, err := p.credentials.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(password))
			return nil, domain.ErrAuthFailure
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(credential.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrAuthFailure
	}

	now := time.Now()
	session := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    credential.IdentityID,
		Email:     credential.Email,
		CreatedAt: now,
		ExpiresAt: now.Add(p.cfg.SessionTTL),
	}
	if err := p.sessions.Save(ctx, session); err != nil {
		return nil, domain.WrapError(domain.ErrCodeRemoteUnavailable, "session store unavailable", err)
	}
	return session, nil
}

func (p *Provider) endSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return p.sessions.Delete(ctx, sessionID)
}
