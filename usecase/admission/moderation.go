package admission

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/usecase"
)

func (m *Machine) moderator() (domain.SessionView, error) {
	view := m.View()
	if !view.Active() || !view.Capabilities.CanModerate {
		return view, domain.ErrForbidden
	}
	return view, nil
}

// ListPending returns profiles still awaiting an admin decision.
func (m *Machine) ListPending(ctx context.Context) ([]domain.Profile, error) {
	if _, err := m.moderator(); err != nil {
		return nil, err
	}
	return m.profiles.ListPending(ctx, m.cfg.PendingLimit)
}

// Confirm grants access to a registered identity. Confirming twice is a no-op;
// a rejected profile cannot be confirmed.
func (m *Machine) Confirm(ctx context.Context, identityID string) (*domain.Profile, error) {
	admin, err := m.moderator()
	if err != nil {
		return nil, err
	}
	profile, err := m.profiles.Get(ctx, identityID)
	if err != nil {
		return nil, err
	}
	switch profile.Admission() {
	case domain.AdmissionConfirmed:
		return profile, nil
	case domain.AdmissionRejected:
		return nil, domain.WrapError(domain.ErrCodeInvalidTransition, "a rejected account cannot be confirmed", nil)
	}

	confirmed := true
	updated, err := m.profiles.Patch(ctx, identityID, domain.ProfilePatch{Confirmed: &confirmed})
	if err != nil {
		return nil, err
	}
	m.logger.Info("profile confirmed", zap.String("identity_id", identityID), zap.String("admin_id", admin.IdentityID))
	m.notify(ctx, usecase.TopicProfileConfirmed, updated)
	return updated, nil
}

// Reject flags a registered identity as rejected. Rejecting twice is a no-op;
// a confirmed profile cannot be rejected.
func (m *Machine) Reject(ctx context.Context, identityID string) (*domain.Profile, error) {
	admin, err := m.moderator()
	if err != nil {
		return nil, err
	}
	profile, err := m.profiles.Get(ctx, identityID)
	if err != nil {
		return nil, err
	}
	switch profile.Admission() {
	case domain.AdmissionRejected:
		return profile, nil
	case domain.AdmissionConfirmed:
		return nil, domain.WrapError(domain.ErrCodeInvalidTransition, "a confirmed account cannot be rejected", nil)
	}

	now := time.Now().UTC()
	updated, err := m.profiles.Patch(ctx, identityID, domain.ProfilePatch{RejectedAt: &now})
	if err != nil {
		return nil, err
	}
	m.logger.Info("profile rejected", zap.String("identity_id", identityID), zap.String("admin_id", admin.IdentityID))
	m.notify(ctx, usecase.TopicProfileRejected, updated)
	return updated, nil
}
