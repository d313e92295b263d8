package progstore

import (
	"errors"
	"fmt"
	"os"

	badger "github.com/dgraph-io/badger/v4"
)

// badgerEngine is the Badger backend. Buckets become key prefixes.
type badgerEngine struct {
	db *badger.DB
}

func openBadger(config Config) (*badgerEngine, error) {
	if !config.ReadOnly {
		if err := os.MkdirAll(config.Path, 0755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}

	opts := badger.DefaultOptions(config.Path).
		WithLogger(nil).
		WithSyncWrites(!config.NoSync).
		WithReadOnly(config.ReadOnly)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &badgerEngine{db: db}, nil
}

func (e *badgerEngine) view(fn func(tx kvTx) error) error {
	return e.db.View(func(txn *badger.Txn) error {
		return fn(badgerTx{txn})
	})
}

func (e *badgerEngine) update(fn func(tx kvTx) error) error {
	return e.db.Update(func(txn *badger.Txn) error {
		return fn(badgerTx{txn})
	})
}

func (e *badgerEngine) close() error {
	return e.db.Close()
}

type badgerTx struct {
	txn *badger.Txn
}

func prefixKey(bucket, key []byte) []byte {
	k := make([]byte, 0, len(bucket)+1+len(key))
	k = append(k, bucket...)
	k = append(k, '/')
	return append(k, key...)
}

func (t badgerTx) get(bucket, key []byte) ([]byte, error) {
	item, err := t.txn.Get(prefixKey(bucket, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t badgerTx) put(bucket, key, value []byte) error {
	return t.txn.Set(prefixKey(bucket, key), value)
}

func (t badgerTx) del(bucket, key []byte) error {
	return t.txn.Delete(prefixKey(bucket, key))
}

func (t badgerTx) each(bucket []byte, fn func(key, value []byte) error) error {
	prefix := prefixKey(bucket, nil)
	it := t.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil)[len(prefix):], v); err != nil {
			return err
		}
	}
	return nil
}
