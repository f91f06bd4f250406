package domain

import (
	"encoding/json"
	"time"
)

// CollectionKind names a shared catalog collection.
type CollectionKind string

const (
	KindProduct   CollectionKind = "product"
	KindLogistics CollectionKind = "logistics_request"
	KindLoan      CollectionKind = "loan_request"
)

// Kinds lists every catalog collection in a stable order.
var Kinds = []CollectionKind{KindProduct, KindLogistics, KindLoan}

func ParseKind(value string) (CollectionKind, bool) {
	switch CollectionKind(value) {
	case KindProduct, "products":
		return KindProduct, true
	case KindLogistics, "logistics":
		return KindLogistics, true
	case KindLoan, "loans":
		return KindLoan, true
	default:
		return "", false
	}
}

// HasStatus reports whether documents of this kind follow the request lifecycle.
func (k CollectionKind) HasStatus() bool {
	return k == KindLogistics || k == KindLoan
}

// Document is the envelope every catalog entity travels in, both on the
// change feed and inside local read models.
type Document struct {
	ID        string          `json:"id"`
	Kind      CollectionKind  `json:"kind"`
	OwnerID   string          `json:"owner_id"`
	Status    Status          `json:"status,omitempty"`
	Version   int64           `json:"version"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (d *Document) Touch() {
	if d == nil {
		return
	}
	d.UpdatedAt = time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = d.UpdatedAt
	}
}

// Clone returns a deep copy so read-model consumers never share payload bytes.
func (d Document) Clone() Document {
	if d.Payload != nil {
		payload := make(json.RawMessage, len(d.Payload))
		copy(payload, d.Payload)
		d.Payload = payload
	}
	return d
}

// Event represents a change applied to a document, kept as an audit trail.
type Event struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Name       string            `json:"name"`
	Version    int64             `json:"version"`
	ActorID    string            `json:"actor_id,omitempty"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ChangeType classifies change feed deliveries.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
	// ChangeSnapshot carries the full matching collection at (re)subscription time.
	ChangeSnapshot ChangeType = "snapshot"
)

// ChangeEvent is one delivery from the change feed.
type ChangeEvent struct {
	Type      ChangeType     `json:"type"`
	Kind      CollectionKind `json:"kind"`
	Document  Document       `json:"document"`
	Documents []Document     `json:"documents,omitempty"`
}
