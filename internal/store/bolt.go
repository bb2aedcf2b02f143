// Package store persists an audit trail of completed and failed update jobs
// in BoltDB. The in-memory Registry stays the source of truth for live
// module state; this store only records history.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketHistory = []byte("history")

// UpdateRecord represents a completed (or failed) module update job.
type UpdateRecord struct {
	Timestamp time.Time     `json:"timestamp"`
	Module    string        `json:"module"`
	Image     string        `json:"image"`
	Outcome   string        `json:"outcome"` // "success" or "failed"
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Store wraps a BoltDB database.
type Store struct {
	db *bolt.DB
}

// Open creates or opens a BoltDB database at the given path and ensures
// the history bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketHistory)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying BoltDB.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordUpdate appends an update record to the history bucket.
// Key format: fixed-width UTC RFC 3339 timestamp with nanoseconds, so that
// byte order is chronological order.
func (s *Store) RecordUpdate(rec UpdateRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal update record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		key := []byte(rec.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"))
		return b.Put(key, data)
	})
}

// ListHistory returns the most recent update records, newest first, up to limit.
func (s *Store) ListHistory(limit int) ([]UpdateRecord, error) {
	var records []UpdateRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			var rec UpdateRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}
