package progstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// boltEngine is the BoltDB backend.
type boltEngine struct {
	db *bolt.DB
}

func openBolt(config Config) (*boltEngine, error) {
	// Ensure directory exists.
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	}
	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if !config.ReadOnly {
		err := db.Update(func(tx *bolt.Tx) error {
			for _, name := range [][]byte{bucketPrograms, bucketNames} {
				if _, err := tx.CreateBucketIfNotExists(name); err != nil {
					return fmt.Errorf("create bucket %s: %w", name, err)
				}
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}

	return &boltEngine{db: db}, nil
}

func (e *boltEngine) view(fn func(tx kvTx) error) error {
	return e.db.View(func(tx *bolt.Tx) error {
		return fn(boltTx{tx})
	})
}

func (e *boltEngine) update(fn func(tx kvTx) error) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		return fn(boltTx{tx})
	})
}

func (e *boltEngine) close() error {
	return e.db.Close()
}

type boltTx struct {
	tx *bolt.Tx
}

func (t boltTx) get(bucket, key []byte) ([]byte, error) {
	b := t.tx.Bucket(bucket)
	if b == nil {
		return nil, nil // read-only store that was never written
	}
	v := b.Get(key)
	if v == nil {
		return nil, nil
	}
	// Bolt values are only valid for the life of the transaction.
	return append([]byte(nil), v...), nil
}

func (t boltTx) put(bucket, key, value []byte) error {
	return t.tx.Bucket(bucket).Put(key, value)
}

func (t boltTx) del(bucket, key []byte) error {
	return t.tx.Bucket(bucket).Delete(key)
}

func (t boltTx) each(bucket []byte, fn func(key, value []byte) error) error {
	b := t.tx.Bucket(bucket)
	if b == nil {
		return nil
	}
	return b.ForEach(fn)
}
