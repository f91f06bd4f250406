package domain

// Capabilities is the permission set exposed to one session.
type Capabilities struct {
	CanViewCatalog      bool `json:"can_view_catalog"`
	CanCreateProduct    bool `json:"can_create_product"`
	CanRequestLogistics bool `json:"can_request_logistics"`
	CanRequestLoan      bool `json:"can_request_loan"`
	CanViewRequests     bool `json:"can_view_requests"`
	CanModerate         bool `json:"can_moderate"`
	CanPurchase         bool `json:"can_purchase"`
}

// CanCreate reports the write capability for a collection.
func (c Capabilities) CanCreate(kind CollectionKind) bool {
	switch kind {
	case KindProduct:
		return c.CanCreateProduct
	case KindLogistics:
		return c.CanRequestLogistics
	case KindLoan:
		return c.CanRequestLoan
	default:
		return false
	}
}

// SessionView is the derived, non-persisted projection of the current session.
// The zero value grants nothing.
type SessionView struct {
	IdentityID   string         `json:"identity_id,omitempty"`
	Email        string         `json:"email,omitempty"`
	Role         Role           `json:"role,omitempty"`
	State        AdmissionState `json:"state"`
	Capabilities Capabilities   `json:"capabilities"`
	Generation   uint64         `json:"generation"`
}

func (v SessionView) Active() bool {
	return v.State == AdmissionConfirmed && v.IdentityID != ""
}

// Owns reports whether the session identity owns the document.
func (v SessionView) Owns(doc Document) bool {
	return v.Active() && doc.OwnerID != "" && doc.OwnerID == v.IdentityID
}
