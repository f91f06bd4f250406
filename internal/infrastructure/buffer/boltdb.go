package buffer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Store persists idempotent catalog writes while the remote store is unavailable.
// A second bucket indexes items by idempotency key so a retried request is
// buffered at most once.
type Store struct {
	db     *bolt.DB
	bucket []byte
	index  []byte
}

// Open initializes the BoltDB file and ensures both buckets exist.
func Open(path string, bucket string) (*Store, error) {
	if bucket == "" {
		bucket = "buffer"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:     db,
		bucket: []byte(bucket),
		index:  []byte(bucket + "_idempotency"),
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(s.bucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(s.index)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Enqueue stores an item using a priority-aware key. It reports false when an
// item with the same idempotency key is already buffered.
func (s *Store) Enqueue(item Item) (bool, error) {
	if s == nil || s.db == nil {
		return false, bolt.ErrDatabaseNotOpen
	}
	item.normalize()
	item.bucketKey = []byte(buildKey(item))

	payload, err := json.Marshal(item)
	if err != nil {
		return false, err
	}

	added := true
	err = s.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(s.index)
		if item.IdempotencyKey != "" {
			if existing := idx.Get([]byte(item.IdempotencyKey)); existing != nil && tx.Bucket(s.bucket).Get(existing) != nil {
				added = false
				return nil
			}
			if err := idx.Put([]byte(item.IdempotencyKey), item.bucketKey); err != nil {
				return err
			}
		}
		return tx.Bucket(s.bucket).Put(item.bucketKey, payload)
	})
	return added && err == nil, err
}

// GetBatch returns up to limit items in priority order without removing them.
func (s *Store) GetBatch(limit int) ([]Item, error) {
	if s == nil || s.db == nil {
		return nil, bolt.ErrDatabaseNotOpen
	}
	if limit <= 0 {
		limit = 50
	}

	var items []Item
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, v := c.First(); k != nil && len(items) < limit; k, v = c.Next() {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				continue
			}
			item.bucketKey = append([]byte(nil), k...)
			items = append(items, item)
		}
		return nil
	})
	return items, err
}

// Remove deletes the item and its idempotency index entry.
func (s *Store) Remove(item Item) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.remove(tx, item)
	})
}

// Requeue re-inserts an item with a fresh timestamp so it sorts behind its peers.
func (s *Store) Requeue(item Item) error {
	if s == nil || s.db == nil {
		return bolt.ErrDatabaseNotOpen
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := s.remove(tx, item); err != nil {
			return err
		}
		item.Timestamp = time.Now()
		item.bucketKey = []byte(buildKey(item))
		payload, err := json.Marshal(item)
		if err != nil {
			return err
		}
		if item.IdempotencyKey != "" {
			if err := tx.Bucket(s.index).Put([]byte(item.IdempotencyKey), item.bucketKey); err != nil {
				return err
			}
		}
		return tx.Bucket(s.bucket).Put(item.bucketKey, payload)
	})
}

// Size returns the number of buffered items.
func (s *Store) Size() (int, error) {
	if s == nil || s.db == nil {
		return 0, bolt.ErrDatabaseNotOpen
	}
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(s.bucket).Stats().KeyN
		return nil
	})
	return count, err
}

// Cleanup removes items older than the provided timestamp.
func (s *Store) Cleanup(olderThan time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, bolt.ErrDatabaseNotOpen
	}
	var expired []Item
	err := s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				continue
			}
			if item.Timestamp.Before(olderThan) {
				item.bucketKey = append([]byte(nil), k...)
				expired = append(expired, item)
			}
		}
		for _, item := range expired {
			if err := s.remove(tx, item); err != nil {
				return err
			}
		}
		return nil
	})
	return len(expired), err
}

// Close closes the Bolt database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Stats exposes Bolt statistics for monitoring endpoints.
func (s *Store) Stats() bolt.Stats {
	if s == nil || s.db == nil {
		return bolt.Stats{}
	}
	return s.db.Stats()
}

func (s *Store) remove(tx *bolt.Tx, item Item) error {
	key := item.bucketKey
	if len(key) == 0 && item.IdempotencyKey != "" {
		key = tx.Bucket(s.index).Get([]byte(item.IdempotencyKey))
	}
	if len(key) == 0 {
		return s.removeByID(tx, item.ID)
	}
	if item.IdempotencyKey != "" {
		if err := tx.Bucket(s.index).Delete([]byte(item.IdempotencyKey)); err != nil {
			return err
		}
	}
	return tx.Bucket(s.bucket).Delete(key)
}

func (s *Store) removeByID(tx *bolt.Tx, id string) error {
	if id == "" {
		return nil
	}
	c := tx.Bucket(s.bucket).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var item Item
		if err := json.Unmarshal(v, &item); err != nil {
			continue
		}
		if item.ID == id {
			if item.IdempotencyKey != "" {
				if err := tx.Bucket(s.index).Delete([]byte(item.IdempotencyKey)); err != nil {
					return err
				}
			}
			return c.Delete()
		}
	}
	return nil
}

func buildKey(item Item) string {
	return fmt.Sprintf("%d_%020d_%s", item.Priority, item.Timestamp.UnixNano(), item.ID)
}
