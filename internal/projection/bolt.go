package projection

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/frahmantamala/service-marketplace/internal/request"
)

const bucketName = "requests"

// Persister keeps each user's rows across restarts.
type Persister interface {
	Save(userID string, rows []*request.Request) error
	Load(userID string) ([]*request.Request, error)
}

// BoltStore stores one JSON array of rows per user in a single bolt file.
type BoltStore struct {
	db *bolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open projection file: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create projection bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Save(userID string, rows []*request.Request) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(userID), data)
	})
}

// Load returns nil when nothing was saved for the user.
func (s *BoltStore) Load(userID string) ([]*request.Request, error) {
	var rows []*request.Request
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(userID))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &rows)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
