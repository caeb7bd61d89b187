// Package kv is the ordered, persistent key-value store backing every
// other DAFS subsystem: identity records, file metadata, chat/room state
// and peer bootstrap lists all live in one Badger LSM tree, namespaced by
// key prefix the way a single embedded database commonly separates its
// tables.
package kv

import (
	"bytes"
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/dafs-project/dafs/internal/dafserr"
)

// Namespace prefixes. Every key stored through Store is prefixed with one
// of these so a single Badger instance can back every subsystem without
// key collisions.
var (
	NamespaceIdentity = []byte{0x01}
	NamespaceSession  = []byte{0x02}
	NamespaceFile     = []byte{0x03}
	NamespaceACL      = []byte{0x04}
	NamespaceRoom     = []byte{0x05}
	NamespaceMessage  = []byte{0x06}
	NamespacePresence = []byte{0x07}
	NamespaceModel    = []byte{0x08}
	NamespacePeer     = []byte{0x09}
)

// Store wraps a Badger database with namespaced helpers. It is safe for
// concurrent use; Badger serializes writes internally.
type Store struct {
	db     *badger.DB
	logger zerolog.Logger
}

// Options configures Store's underlying Badger instance.
type Options struct {
	// Dir is the on-disk directory for both the LSM tree and value log.
	Dir string
	// InMemory runs Badger without touching disk, for tests.
	InMemory bool
}

// Open opens (creating if absent) a Badger database at opts.Dir.
func Open(opts Options, logger zerolog.Logger) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Dir)
	badgerOpts = badgerOpts.WithInMemory(opts.InMemory)
	badgerOpts = badgerOpts.WithLogger(nil) // Badger's own logger is noisy; we log at the call sites that matter.

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, dafserr.Wrap(dafserr.Storage, "kv", "Open", err)
	}

	return &Store{
		db:     db,
		logger: logger.With().Str("component", "kv_store").Logger(),
	}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return dafserr.Wrap(dafserr.Storage, "kv", "Close", err)
	}
	return nil
}

// namespacedKey joins a namespace prefix and a caller key into one Badger
// key.
func namespacedKey(ns, key []byte) []byte {
	out := make([]byte, 0, len(ns)+len(key))
	out = append(out, ns...)
	out = append(out, key...)
	return out
}

// Get reads the value stored at (ns, key). Returns dafserr.ErrNotFound if
// absent.
func (s *Store) Get(ctx context.Context, ns, key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(namespacedKey(ns, key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return dafserr.New(dafserr.NotFound, "kv", "Get")
			}
			return err
		}
		return item.Value(func(val []byte) error {
			value = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		if dafserr.KindOf(err) == dafserr.NotFound {
			return nil, err
		}
		return nil, dafserr.Wrap(dafserr.Storage, "kv", "Get", err)
	}
	return value, nil
}

// Put writes value at (ns, key), replacing any existing value.
func (s *Store) Put(ctx context.Context, ns, key, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(namespacedKey(ns, key), value)
	})
	if err != nil {
		return dafserr.Wrap(dafserr.Storage, "kv", "Put", err)
	}
	return nil
}

// Delete removes the value at (ns, key). Deleting an absent key is not an
// error.
func (s *Store) Delete(ctx context.Context, ns, key []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(namespacedKey(ns, key))
	})
	if err != nil {
		return dafserr.Wrap(dafserr.Storage, "kv", "Delete", err)
	}
	return nil
}

// Exists reports whether a value is stored at (ns, key).
func (s *Store) Exists(ctx context.Context, ns, key []byte) (bool, error) {
	_, err := s.Get(ctx, ns, key)
	if err == nil {
		return true, nil
	}
	if dafserr.KindOf(err) == dafserr.NotFound {
		return false, nil
	}
	return false, err
}

// Entry is one (key, value) pair returned by an iteration, with the
// namespace prefix stripped from Key.
type Entry struct {
	Key   []byte
	Value []byte
}

// Iterate walks every key under ns in ascending key order, stripping the
// namespace prefix before invoking fn. Iteration stops at the first error
// fn returns, or when fn returns false to request an early stop.
func (s *Store) Iterate(ctx context.Context, ns []byte, fn func(Entry) (bool, error)) error {
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = ns
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(ns); it.ValidForPrefix(ns); it.Next() {
			item := it.Item()
			key := bytes.TrimPrefix(item.KeyCopy(nil), ns)

			var value []byte
			if err := item.Value(func(val []byte) error {
				value = append([]byte(nil), val...)
				return nil
			}); err != nil {
				return err
			}

			cont, err := fn(Entry{Key: key, Value: value})
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return dafserr.Wrap(dafserr.Storage, "kv", "Iterate", err)
	}
	return nil
}

// List collects every entry under ns into a slice. Convenience wrapper
// around Iterate for namespaces expected to be small (identity registry,
// room list); large namespaces (file chunks) should use Iterate directly.
func (s *Store) List(ctx context.Context, ns []byte) ([]Entry, error) {
	var entries []Entry
	err := s.Iterate(ctx, ns, func(e Entry) (bool, error) {
		entries = append(entries, e)
		return true, nil
	})
	return entries, err
}

// WithTransaction runs fn inside a single read-write Badger transaction,
// so a caller needing more than one namespace touched atomically (e.g.
// creating a user identity and its default ACL entry together) can do so
// without an explicit two-phase commit.
func (s *Store) WithTransaction(ctx context.Context, fn func(*Txn) error) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return fn(&Txn{txn: txn})
	})
	if err != nil {
		return dafserr.Wrap(dafserr.Storage, "kv", "WithTransaction", err)
	}
	return nil
}

// Txn is a handle to an in-flight read-write transaction, scoped to the
// callback passed to Store.WithTransaction.
type Txn struct {
	txn *badger.Txn
}

func (t *Txn) Put(ns, key, value []byte) error {
	return t.txn.Set(namespacedKey(ns, key), value)
}

func (t *Txn) Get(ns, key []byte) ([]byte, error) {
	item, err := t.txn.Get(namespacedKey(ns, key))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, dafserr.New(dafserr.NotFound, "kv", "Txn.Get")
		}
		return nil, err
	}
	var value []byte
	err = item.Value(func(val []byte) error {
		value = append([]byte(nil), val...)
		return nil
	})
	return value, err
}

func (t *Txn) Delete(ns, key []byte) error {
	return t.txn.Delete(namespacedKey(ns, key))
}

// RunGC triggers Badger's value-log garbage collection. Intended to be
// called periodically (e.g. hourly) by the node's background maintenance
// loop; it is a no-op if there is nothing worth reclaiming.
func (s *Store) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if err != nil && err != badger.ErrNoRewrite {
		return fmt.Errorf("kv: value log gc: %w", err)
	}
	return nil
}
</content>
