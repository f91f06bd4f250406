// Package access maps a stored role and admission state to what a session may
// see and do. Everything here is pure and fails closed.
package access

import (
	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/repository"
)

// ComputeCapabilities derives the permission set for a role. An unconfirmed
// profile gets nothing, whatever its role.
func ComputeCapabilities(role domain.Role, confirmed bool) domain.Capabilities {
	if !confirmed {
		return domain.Capabilities{}
	}
	switch role {
	case domain.RoleFarmer:
		return domain.Capabilities{
			CanViewCatalog:      true,
			CanCreateProduct:    true,
			CanRequestLogistics: true,
			CanRequestLoan:      true,
			CanViewRequests:     true,
		}
	case domain.RoleBuyer:
		return domain.Capabilities{
			CanViewCatalog: true,
			CanPurchase:    true,
		}
	case domain.RoleAdmin:
		return domain.Capabilities{
			CanViewCatalog:  true,
			CanViewRequests: true,
			CanModerate:     true,
		}
	default:
		return domain.Capabilities{}
	}
}

// Derive builds the session view for an identity and its profile.
func Derive(identity *domain.Identity, profile *domain.Profile, generation uint64) domain.SessionView {
	if identity == nil || identity.ID == "" {
		return domain.SessionView{State: domain.AdmissionUnauthenticated, Generation: generation}
	}
	view := domain.SessionView{
		IdentityID: identity.ID,
		Email:      identity.Email,
		State:      domain.AdmissionUnauthenticated,
		Generation: generation,
	}
	if profile == nil || profile.IdentityID != identity.ID {
		return view
	}
	view.Role = profile.Role
	view.State = profile.Admission()
	view.Capabilities = ComputeCapabilities(profile.Role, view.State == domain.AdmissionConfirmed)
	return view
}

// Visibility returns the read filter a session gets for a collection and
// whether it may read it at all.
func Visibility(view domain.SessionView, kind domain.CollectionKind) (repository.DocumentFilter, bool) {
	if !view.Active() || !view.Capabilities.CanViewCatalog {
		return repository.DocumentFilter{}, false
	}
	filter := repository.DocumentFilter{Kind: kind}
	switch kind {
	case domain.KindProduct:
		return filter, true
	case domain.KindLogistics, domain.KindLoan:
		if !view.Capabilities.CanViewRequests {
			return repository.DocumentFilter{}, false
		}
		if view.Role != domain.RoleAdmin {
			filter.OwnerID = view.IdentityID
		}
		return filter, true
	default:
		return repository.DocumentFilter{}, false
	}
}

// VisibleKinds lists the collections a session may subscribe to, with filters.
func VisibleKinds(view domain.SessionView) map[domain.CollectionKind]repository.DocumentFilter {
	out := make(map[domain.CollectionKind]repository.DocumentFilter, len(domain.Kinds))
	for _, kind := range domain.Kinds {
		if filter, ok := Visibility(view, kind); ok {
			out[kind] = filter
		}
	}
	return out
}

// CanRemove reports whether the session may delete a document.
func CanRemove(view domain.SessionView, doc domain.Document) bool {
	if !view.Active() {
		return false
	}
	if view.Capabilities.CanModerate {
		return true
	}
	return view.Owns(doc) && view.Capabilities.CanCreate(doc.Kind)
}
