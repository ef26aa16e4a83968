// Package snapshotstore is a Badger-backed durable mirror of the registry's
// flat backup file, per SPEC_FULL.md §4.15. It is belt-and-suspenders
// durability: the flat file remains the spec-mandated format loaded at
// startup (internal/registry.RestoreBackup); this mirror exists so
// operators can inspect registration history across restarts without
// changing startup-restore semantics.
package snapshotstore

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/sauerworld/qmaster/internal/logging"
	"github.com/sauerworld/qmaster/internal/registry"
)

// Store wraps an embedded Badger database keyed "ip:port", valued with the
// Unix timestamp at which that server was last recorded.
type Store struct {
	db      *badger.DB
	mu      sync.RWMutex
	isReady bool
}

// Open opens (creating if absent) a Badger database at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("snapshotstore: opening badger db at %s: %w", path, err)
	}

	logging.Info("snapshotstore: opened %s", path)
	return &Store{db: db, isReady: true}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isReady {
		return nil
	}
	s.isReady = false
	return s.db.Close()
}

func snapshotKey(id registry.Identity) []byte {
	return []byte(fmt.Sprintf("%s:%d", id.IP, id.Port))
}

// Record stores at as id's timestamp, replacing any earlier value. The
// Supervisor calls it for every listed server on each flat-file backup
// tick, never in the registry mutex's critical section.
func (s *Store) Record(id registry.Identity, at time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isReady {
		return fmt.Errorf("snapshotstore: not ready")
	}

	value := []byte(strconv.FormatInt(at.Unix(), 10))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(id), value)
	})
}

// SyncAll writes every record of the given snapshot, each keyed by identity
// and valued with at. Entries already in the store that are not in the
// snapshot are left in place.
func (s *Store) SyncAll(records []registry.Record, at time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isReady {
		return fmt.Errorf("snapshotstore: not ready")
	}

	value := []byte(strconv.FormatInt(at.Unix(), 10))
	return s.db.Update(func(txn *badger.Txn) error {
		for _, rec := range records {
			if err := txn.Set(snapshotKey(rec.Identity), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// History returns the last recorded timestamp for (ip, port),
// or the zero time if never recorded.
func (s *Store) History(ip string, port uint16) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isReady {
		return time.Time{}, fmt.Errorf("snapshotstore: not ready")
	}

	var ts int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(registry.Identity{IP: ip, Port: port}))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			parsed, err := strconv.ParseInt(string(val), 10, 64)
			if err != nil {
				return err
			}
			ts = parsed
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(ts, 0), nil
}
