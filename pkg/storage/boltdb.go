package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	bolt "go.etcd.io/bbolt"
)

var bucketNames = []DataType{
	DataTypeMonitoring,
	DataTypeConfiguration,
	DataTypeSLA,
	DataTypeFailover,
}

// BoltStore implements Store using BoltDB. Rows are keyed "nestID/key" inside
// one bucket per DataType, so tenant isolation reduces to a prefix scan.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "guardant.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range bucketNames {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func rowKey(nestID, key string) []byte {
	return []byte(nestID + "/" + key)
}

// checkNest rejects nest ids that would break the "nestID/key" row layout.
// A '/' in the id would alias the row into another tenant's prefix scan.
func checkNest(nestID string) error {
	if nestID == "" {
		return fmt.Errorf("invalid input: nest id is required")
	}
	if strings.Contains(nestID, "/") {
		return fmt.Errorf("invalid input: nest id %q must not contain '/'", nestID)
	}
	return nil
}

// Put upserts a JSON-encoded value
func (s *BoltStore) Put(nestID string, dataType DataType, key string, value any) error {
	if err := checkNest(nestID); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", dataType, key, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dataType))
		if b == nil {
			return fmt.Errorf("unknown data type: %s", dataType)
		}
		return b.Put(rowKey(nestID, key), data)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get unmarshals the stored value into out; found=false on a miss
func (s *BoltStore) Get(nestID string, dataType DataType, key string, out any) (bool, error) {
	if err := checkNest(nestID); err != nil {
		return false, err
	}
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dataType))
		if b == nil {
			return fmt.Errorf("unknown data type: %s", dataType)
		}
		data := b.Get(rowKey(nestID, key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, out)
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return found, nil
}

// Delete removes a row; missing rows are ignored
func (s *BoltStore) Delete(nestID string, dataType DataType, key string) error {
	if err := checkNest(nestID); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dataType))
		if b == nil {
			return fmt.Errorf("unknown data type: %s", dataType)
		}
		return b.Delete(rowKey(nestID, key))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ListByType returns all values in the (nestID, dataType) namespace
func (s *BoltStore) ListByType(nestID string, dataType DataType) (map[string][]byte, error) {
	if err := checkNest(nestID); err != nil {
		return nil, err
	}
	rows := make(map[string][]byte)
	prefix := rowKey(nestID, "")
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dataType))
		if b == nil {
			return fmt.Errorf("unknown data type: %s", dataType)
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			// Copy: bolt memory is only valid inside the transaction
			val := make([]byte, len(v))
			copy(val, v)
			rows[string(k[len(prefix):])] = val
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rows, nil
}

// ListKeys returns logical keys with the given prefix in the namespace
func (s *BoltStore) ListKeys(nestID string, dataType DataType, prefix string) ([]string, error) {
	if err := checkNest(nestID); err != nil {
		return nil, err
	}
	var keys []string
	seek := rowKey(nestID, prefix)
	nsLen := len(nestID) + 1
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dataType))
		if b == nil {
			return fmt.Errorf("unknown data type: %s", dataType)
		}
		c := b.Cursor()
		for k, _ := c.Seek(seek); k != nil && bytes.HasPrefix(k, seek); k, _ = c.Next() {
			key := string(k[nsLen:])
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return keys, nil
}
