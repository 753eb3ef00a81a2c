package policy

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

var attemptBucket = []byte("rate_limits")

// BoltStore is a bbolt-backed AttemptStore for deployments that want
// throttling state to survive restarts.
type BoltStore struct {
	db *bbolt.DB
}

var _ AttemptStore = (*BoltStore)(nil)

// NewBoltStore wraps an already-open bbolt database.
func NewBoltStore(db *bbolt.DB) *BoltStore {
	return &BoltStore{db: db}
}

// NewBoltStoreFromFile opens a bbolt database at the given path.
func NewBoltStoreFromFile(path string, options *bbolt.Options) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewBoltStore(db), nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Get(key string) (*Attempt, error) {
	var rec *Attempt
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(attemptBucket)
		if b == nil {
			return nil
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		rec = &Attempt{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("reading attempt record: %w", err)
	}
	return rec, nil
}

func (s *BoltStore) Put(key string, a *Attempt) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(attemptBucket)
		if err != nil {
			return err
		}
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

func (s *BoltStore) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(attemptBucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}
