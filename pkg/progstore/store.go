// Package progstore provides a persistent, content-addressed library of
// Intcode programs.
//
// Programs are stored under their ProgramID (the BLAKE3 digest of their
// canonical text) and indexed by a human-readable name. Two key-value
// backends are available: BoltDB and Badger.
package progstore

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/intcode"
)

var (
	// ErrNotFound is returned when no program matches a name or ID.
	ErrNotFound = errors.New("program not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("program store closed")

	// ErrInvalidName is returned for empty program names.
	ErrInvalidName = errors.New("invalid program name")

	// ErrUnknownBackend is returned for unsupported backend names.
	ErrUnknownBackend = errors.New("unknown store backend")
)

// Backend names.
const (
	BackendBolt   = "bolt"
	BackendBadger = "badger"
)

// Bucket names.
var (
	// bucketPrograms stores encoded records keyed by program ID.
	bucketPrograms = []byte("programs")

	// bucketNames maps program names to program IDs.
	bucketNames = []byte("names")
)

// Config holds program store configuration options.
type Config struct {
	// Path is the database file (bolt) or directory (badger).
	Path string

	// Backend selects the key-value engine: "bolt" or "badger".
	Backend string

	// Compress stores program text zstd-compressed.
	Compress bool

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// DefaultConfig returns the default store configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:     path,
		Backend:  BackendBolt,
		Compress: true,
	}
}

// Info describes a stored program.
type Info struct {
	ID      types.ProgramID
	Name    string
	Cells   int       // number of cells in the program
	Size    int       // stored payload size in bytes
	Created time.Time // first time this ID was stored
}

// Program is a stored program with its text.
type Program struct {
	Info
	Text string // canonical comma-separated text
}

// Store is the program library interface.
type Store interface {
	// Put parses text and stores it under name, replacing whatever name
	// pointed to before.
	Put(name, text string) (Info, error)

	// Get returns the program a name or base58 ID refers to.
	Get(ref string) (*Program, error)

	// List returns every named program, ordered by name.
	List() ([]Info, error)

	// Delete removes a program and every name pointing at it.
	Delete(ref string) error

	Close() error
}

// kvTx is one transaction on a bucketed key-value engine. Values returned by
// get are owned by the caller.
type kvTx interface {
	get(bucket, key []byte) ([]byte, error)
	put(bucket, key, value []byte) error
	del(bucket, key []byte) error
	each(bucket []byte, fn func(key, value []byte) error) error
}

type kvEngine interface {
	view(fn func(tx kvTx) error) error
	update(fn func(tx kvTx) error) error
	close() error
}

// KVStore implements Store on top of a key-value engine.
type KVStore struct {
	eng    kvEngine
	config Config

	mu     sync.RWMutex
	closed bool
}

// Open creates or opens a program store.
func Open(config Config) (*KVStore, error) {
	var (
		eng kvEngine
		err error
	)
	switch config.Backend {
	case BackendBolt, "":
		eng, err = openBolt(config)
	case BackendBadger:
		eng, err = openBadger(config)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, config.Backend)
	}
	if err != nil {
		return nil, err
	}
	return &KVStore{eng: eng, config: config}, nil
}

func (s *KVStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Put implements Store.
func (s *KVStore) Put(name, text string) (Info, error) {
	if err := s.checkOpen(); err != nil {
		return Info{}, err
	}
	if name == "" {
		return Info{}, ErrInvalidName
	}

	cells, err := intcode.Parse(text)
	if err != nil {
		return Info{}, err
	}
	canonical := intcode.Format(cells)
	id := types.ComputeProgramID(canonical)

	rec, err := newRecord(canonical, len(cells), s.config.Compress)
	if err != nil {
		return Info{}, err
	}

	err = s.eng.update(func(tx kvTx) error {
		old, err := tx.get(bucketNames, []byte(name))
		if err != nil {
			return err
		}
		if old != nil && !bytes.Equal(old, id.Bytes()) {
			if err := tx.put(bucketNames, []byte(name), id.Bytes()); err != nil {
				return err
			}
			if err := dropIfUnnamed(tx, old); err != nil {
				return err
			}
		}

		// Keep the original creation time when the program is already known.
		existing, err := tx.get(bucketPrograms, id.Bytes())
		if err != nil {
			return err
		}
		if existing != nil {
			prev, err := decodeRecord(existing)
			if err != nil {
				return err
			}
			rec.Created = prev.Created
		}

		data, err := rec.encode()
		if err != nil {
			return err
		}
		if err := tx.put(bucketPrograms, id.Bytes(), data); err != nil {
			return err
		}
		return tx.put(bucketNames, []byte(name), id.Bytes())
	})
	if err != nil {
		return Info{}, fmt.Errorf("put %s: %w", name, err)
	}

	return rec.info(id, name), nil
}

// dropIfUnnamed deletes the program id unless some name still points at it.
func dropIfUnnamed(tx kvTx, id []byte) error {
	referenced := false
	err := tx.each(bucketNames, func(_, v []byte) error {
		if bytes.Equal(v, id) {
			referenced = true
		}
		return nil
	})
	if err != nil || referenced {
		return err
	}
	return tx.del(bucketPrograms, id)
}

// resolve maps a name or base58 ID to a program ID and the name used.
func resolve(tx kvTx, ref string) (types.ProgramID, string, error) {
	v, err := tx.get(bucketNames, []byte(ref))
	if err != nil {
		return types.ProgramID{}, "", err
	}
	if v != nil {
		id, err := types.ProgramIDFromBytes(v)
		return id, ref, err
	}

	id, err := types.ProgramIDFromBase58(ref)
	if err != nil {
		return types.ProgramID{}, "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return id, "", nil
}

// Get implements Store.
func (s *KVStore) Get(ref string) (*Program, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var prog *Program
	err := s.eng.view(func(tx kvTx) error {
		id, name, err := resolve(tx, ref)
		if err != nil {
			return err
		}
		data, err := tx.get(bucketPrograms, id.Bytes())
		if err != nil {
			return err
		}
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return err
		}
		text, err := rec.text()
		if err != nil {
			return err
		}
		prog = &Program{Info: rec.info(id, name), Text: text}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prog, nil
}

// List implements Store.
func (s *KVStore) List() ([]Info, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var infos []Info
	err := s.eng.view(func(tx kvTx) error {
		return tx.each(bucketNames, func(k, v []byte) error {
			id, err := types.ProgramIDFromBytes(v)
			if err != nil {
				return err
			}
			data, err := tx.get(bucketPrograms, v)
			if err != nil {
				return err
			}
			if data == nil {
				return nil // dangling name
			}
			rec, err := decodeRecord(data)
			if err != nil {
				return err
			}
			infos = append(infos, rec.info(id, string(k)))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Delete implements Store.
func (s *KVStore) Delete(ref string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.eng.update(func(tx kvTx) error {
		id, _, err := resolve(tx, ref)
		if err != nil {
			return err
		}
		data, err := tx.get(bucketPrograms, id.Bytes())
		if err != nil {
			return err
		}
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}

		var names [][]byte
		err = tx.each(bucketNames, func(k, v []byte) error {
			if bytes.Equal(v, id.Bytes()) {
				names = append(names, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := tx.del(bucketNames, name); err != nil {
				return err
			}
		}
		return tx.del(bucketPrograms, id.Bytes())
	})
}

// Close implements Store.
func (s *KVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.eng.close()
}
