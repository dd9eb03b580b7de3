// Package manifest keeps a local history of encrypt and decrypt operations
// in a BoltDB file, so the command line can list what was processed and
// when.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BucketHistory holds one record per finished operation
var BucketHistory = []byte("history")

// Record describes one finished operation
type Record struct {
	Op         string    `json:"op"` // "encrypt" or "decrypt"
	Input      string    `json:"input"`
	Output     string    `json:"output"`
	Bytes      int64     `json:"bytes"`
	DurationMS int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
	NonceLen   int       `json:"nonce_len,omitempty"`
	SaltLen    int       `json:"salt_len,omitempty"`
}

// Store represents the BoltDB-backed history store
type Store struct {
	db   *bolt.DB
	path string
}

// Open opens (or creates) the history store under dataDir
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "securecrypt.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(BucketHistory); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", BucketHistory, err)
		}
		return nil
	})
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Append stores a record. Keys sort by finish time, so listing returns
// records in chronological order.
func (s *Store) Append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	// fixed-width fraction so keys compare in time order
	key := rec.FinishedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00") + "|" + rec.Output
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketHistory)
		if b == nil {
			return fmt.Errorf("bucket not found: %s", BucketHistory)
		}
		return b.Put([]byte(key), data)
	})
}

// List returns all records in chronological order
func (s *Store) List() ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketHistory)
		if b == nil {
			return fmt.Errorf("bucket not found: %s", BucketHistory)
		}
		return b.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}
