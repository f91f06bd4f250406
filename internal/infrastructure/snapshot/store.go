// Package snapshot keeps the last reconciled read model per identity and
// collection so a new subscription can render something while the change feed
// is still connecting or unreachable.
package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fastygo/agriconnect/domain"
)

var bucketName = []byte("read_models")

// Record is one persisted read model.
type Record struct {
	IdentityID string                `json:"identity_id"`
	Kind       domain.CollectionKind `json:"kind"`
	Documents  []domain.Document     `json:"documents"`
	SavedAt    time.Time             `json:"saved_at"`
}

type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Save replaces the stored read model for identity and kind.
func (s *Store) Save(identityID string, kind domain.CollectionKind, docs []domain.Document) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	payload, err := json.Marshal(Record{
		IdentityID: identityID,
		Kind:       kind,
		Documents:  docs,
		SavedAt:    time.Now(),
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key(identityID, kind), payload)
	})
}

// Load returns the stored read model, or ok=false when none exists.
func (s *Store) Load(identityID string, kind domain.CollectionKind) (rec Record, ok bool, err error) {
	if s == nil || s.db == nil {
		return Record{}, false, bolt.ErrDatabaseNotOpen
	}
	err = s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get(key(identityID, kind))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		ok = true
		return nil
	})
	return rec, ok, err
}

// Documents returns only the stored documents of a read model.
func (s *Store) Documents(identityID string, kind domain.CollectionKind) ([]domain.Document, bool, error) {
	rec, ok, err := s.Load(identityID, kind)
	if err != nil || !ok {
		return nil, ok, err
	}
	return rec.Documents, true, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func key(identityID string, kind domain.CollectionKind) []byte {
	return []byte(identityID + "/" + string(kind))
}
