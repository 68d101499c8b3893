// Package audit is a supplemental operational ledger recording every
// processed failover/failback/promote request: kind, targeted node ids,
// resulting master/primary, and timestamp. Uses a bucket-per-entity,
// JSON-marshal-into-KV store.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketEntries = []byte("failover_history")

// Entry is one completed failover-engine transition.
type Entry struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	NodeIDs    []int     `json:"node_ids"`
	NewMaster  int       `json:"new_master"`
	NewPrimary int       `json:"new_primary"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store wraps a bbolt database dedicated to the audit trail.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the audit database at path, creating the
// failover_history bucket if absent.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one entry, keyed by its ID (a fresh random uuid when
// unset). Keys are random, so bbolt's byte-ordered key order is not
// insertion order.
func (s *Store) Record(e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		return b.Put([]byte(e.ID), data)
	})
}

// List returns every recorded entry, in key order.
func (s *Store) List() ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		return b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("audit: unmarshal entry %s: %w", k, err)
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}
