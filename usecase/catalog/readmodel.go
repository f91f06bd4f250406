package catalog

import (
	"sort"

	"github.com/fastygo/agriconnect/domain"
)

// ReadModel is the local reconciled view of one collection subscription.
// Apply is idempotent: an event whose version is not newer than what the
// model already saw for that id (live or deleted) is ignored.
type ReadModel struct {
	docs       map[string]domain.Document
	tombstones map[string]int64
	stale      bool
	synced     bool
}

func NewReadModel() *ReadModel {
	return &ReadModel{
		docs:       make(map[string]domain.Document),
		tombstones: make(map[string]int64),
	}
}

// Seed loads documents from an offline snapshot. The model stays stale until
// the feed delivers its own snapshot.
func (m *ReadModel) Seed(docs []domain.Document) {
	for _, doc := range docs {
		if doc.ID == "" || m.buried(doc) {
			continue
		}
		m.docs[doc.ID] = doc.Clone()
	}
	m.stale = true
}

// Apply reconciles one change event and reports whether the model changed.
func (m *ReadModel) Apply(event domain.ChangeEvent) bool {
	switch event.Type {
	case domain.ChangeSnapshot:
		return m.reset(event.Documents)
	case domain.ChangeInsert, domain.ChangeUpdate:
		doc := event.Document
		if doc.ID == "" || m.buried(doc) {
			return false
		}
		if current, ok := m.docs[doc.ID]; ok && current.Version >= doc.Version {
			return false
		}
		m.docs[doc.ID] = doc.Clone()
		return true
	case domain.ChangeDelete:
		doc := event.Document
		if doc.ID == "" || m.buried(doc) {
			return false
		}
		version := doc.Version
		current, ok := m.docs[doc.ID]
		if ok {
			if current.Version > version {
				return false
			}
			version = current.Version
		}
		m.tombstones[doc.ID] = version
		delete(m.docs, doc.ID)
		return ok
	default:
		return false
	}
}

// reset replaces the content with an authoritative snapshot. Tombstones are
// kept so a late event for a deleted id stays ignored.
func (m *ReadModel) reset(docs []domain.Document) bool {
	next := make(map[string]domain.Document, len(docs))
	for _, doc := range docs {
		if doc.ID == "" || m.buried(doc) {
			continue
		}
		next[doc.ID] = doc.Clone()
	}
	changed := m.stale || !m.synced || len(next) != len(m.docs)
	if !changed {
		for id, doc := range next {
			if current, ok := m.docs[id]; !ok || current.Version != doc.Version {
				changed = true
				break
			}
		}
	}
	m.docs = next
	m.stale = false
	m.synced = true
	return changed
}

func (m *ReadModel) buried(doc domain.Document) bool {
	version, ok := m.tombstones[doc.ID]
	return ok && version >= doc.Version
}

// Items returns copies of the documents ordered by creation time.
func (m *ReadModel) Items() []domain.Document {
	items := make([]domain.Document, 0, len(m.docs))
	for _, doc := range m.docs {
		items = append(items, doc.Clone())
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items
}

func (m *ReadModel) Get(id string) (domain.Document, bool) {
	doc, ok := m.docs[id]
	if !ok {
		return domain.Document{}, false
	}
	return doc.Clone(), true
}

func (m *ReadModel) Len() int {
	return len(m.docs)
}

// Stale reports whether the content came from an offline snapshot only.
func (m *ReadModel) Stale() bool {
	return m.stale
}

// Synced reports whether at least one feed snapshot has been applied.
func (m *ReadModel) Synced() bool {
	return m.synced
}
