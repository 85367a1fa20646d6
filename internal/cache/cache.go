package cache

import (
	"fmt"
	"hash/fnv"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// keyPrefix scopes all translation entries within the database so stats
// and clear operate on the whole application cache at once.
const keyPrefix = "tr_"

// Key is the composite identity of one cached translation. The book and
// model are hashed into the persisted key, so switching books never serves
// another book's sentence at the same coordinates, and switching models
// misses (rather than deletes) entries produced by the previous model.
type Key struct {
	BookID    string
	Chapter   int
	Paragraph int
	Unit      int // sentence index, or the paragraph index in book-export mode
	Model     string
}

func (k Key) String() string {
	return fmt.Sprintf("%s%s_%d_%d_%d_%s",
		keyPrefix, hashString(k.BookID), k.Chapter, k.Paragraph, k.Unit, hashString(k.Model))
}

// hashString is FNV-1a, stable across runs. Not cryptographic; a local
// single-user cache only needs collisions to be unlikely.
func hashString(s string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return strconv.FormatUint(uint64(h.Sum32()), 16)
}

// Stats summarizes the cache across all books and models.
type Stats struct {
	Count int   `json:"count"`
	Bytes int64 `json:"approximate_byte_size"`
}

// Store is a persistent translation cache backed by Badger. Safe for
// concurrent use by multiple orchestrator runs; puts are idempotent by
// full key identity.
type Store struct {
	db     *badger.DB
	logger *logrus.Logger
}

// Open opens (or creates) the cache database at path.
func Open(path string, logger *logrus.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Badger's internal logging is noise here
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	logger.Debugf("Translation cache opened at %s", path)
	return &Store{db: db, logger: logger}, nil
}

// OpenInMemory opens a throwaway cache holding nothing on disk.
func OpenInMemory(logger *logrus.Logger) (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory cache: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the cached translation for key, reporting whether one exists.
func (s *Store) Get(key Key) (string, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key.String()))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache read failed: %w", err)
	}
	return string(value), true, nil
}

// Put stores a translation. Writing the same key again is harmless; for
// identical model and input the content should be identical anyway.
func (s *Store) Put(key Key, translation string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key.String()), []byte(translation))
	})
	if err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}
	return nil
}

// Stats counts all cached entries and their approximate size.
func (s *Store) Stats() (Stats, error) {
	var stats Stats
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			stats.Count++
			stats.Bytes += int64(len(item.Key())) + item.ValueSize()
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("cache stats failed: %w", err)
	}
	return stats, nil
}

// Clear removes every cached translation and returns how many were removed.
func (s *Store) Clear() (int, error) {
	stats, err := s.Stats()
	if err != nil {
		return 0, err
	}
	if err := s.db.DropPrefix([]byte(keyPrefix)); err != nil {
		return 0, fmt.Errorf("cache clear failed: %w", err)
	}
	s.logger.Infof("Cleared %d cached translations", stats.Count)
	return stats.Count, nil
}
