package resume

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bitrise-io/chunk-uploader/chunkuploader"
	bolt "go.etcd.io/bbolt"
)

var _ chunkuploader.ResumeStore = (*BoltStore)(nil)

var rootBucket = []byte("resume")

// BoltStore keeps every resume record in a single BoltDB file: one sub-bucket per key,
// one big-endian chunk index per entry.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open resume database %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure resume bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load(_ context.Context, key string) ([]uint32, error) {
	var indices []uint32
	err := s.db.View(func(tx *bolt.Tx) error {
		record := tx.Bucket(rootBucket).Bucket([]byte(key))
		if record == nil {
			return nil
		}
		return record.ForEach(func(k, _ []byte) error {
			if len(k) != 4 {
				return fmt.Errorf("invalid chunk entry of %d bytes in record %s", len(k), key)
			}
			indices = append(indices, binary.BigEndian.Uint32(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return indices, nil
}

func (s *BoltStore) MarkComplete(_ context.Context, key string, index uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		record, err := tx.Bucket(rootBucket).CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return err
		}
		return record.Put(indexKey(index), []byte{})
	})
}

func (s *BoltStore) Reset(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(rootBucket).DeleteBucket([]byte(key))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

// Keys returns every key with a record.
func (s *BoltStore) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).ForEach(func(k, v []byte) error {
			if v == nil {
				keys = append(keys, string(k))
			}
			return nil
		})
	})
	return keys, err
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func indexKey(index uint32) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, index)
	return k
}
