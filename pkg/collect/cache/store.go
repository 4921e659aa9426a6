package cache

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a cache entry doesn't exist.
var ErrNotFound = errors.New("cache entry not found")

// Store wraps Badger for cache operations.
type Store struct {
	db *badger.DB
}

// OpenStore opens or creates a cache store at the given path.
func OpenStore(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable badger logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get retrieves the cached history of a run.
func (s *Store) Get(sweep, runID string) (*CachedHistory, error) {
	key := MakeKey(sweep, runID)
	var entry CachedHistory

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		return item.Value(entry.Decode)
	})

	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Put stores the history of a run.
func (s *Store) Put(sweep, runID string, entry *CachedHistory) error {
	key := MakeKey(sweep, runID)
	value, err := entry.Encode()
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete removes a cached entry.
func (s *Store) Delete(sweep, runID string) error {
	key := MakeKey(sweep, runID)

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// DeletePrefix removes all entries of a sweep, or every entry when sweep
// is empty. It returns the number of entries removed.
func (s *Store) DeletePrefix(sweep string) (int, error) {
	prefix := MakeKeyPrefix(sweep)
	removed := 0

	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := txn.Delete(it.Item().KeyCopy(nil)); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Stats summarizes the store contents.
type Stats struct {
	Entries int   // Cached run histories
	Sweeps  int   // Distinct sweeps
	Bytes   int64 // Encoded size of all entries
}

// Stats walks the store and counts entries per sweep.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	sweeps := make(map[string]struct{})

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			sweep, _ := ParseKey(item.Key())
			sweeps[sweep] = struct{}{}
			st.Entries++
			st.Bytes += item.ValueSize()
		}
		return nil
	})
	st.Sweeps = len(sweeps)
	return st, err
}
