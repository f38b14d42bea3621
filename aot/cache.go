package aot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
)

// Cache indexes on-disk objects for the compiler bridge: which module
// produced which object file, under which fingerprint, and how often it
// was reused. The object file itself stays authoritative; losing the
// index only costs recompiles.
// Thread-safe: LevelDB handles its own synchronization.
type Cache struct {
	db *leveldb.DB
}

// OpenCache opens or creates the index at the given path. If path is
// empty, uses in-memory storage.
func OpenCache(path string) (*Cache, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		memStorage := leveldbstorage.NewMemStorage()
		db, err = leveldb.Open(memStorage, nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open cache index at %s: %w", path, err)
	}

	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// CacheEntry is the index record for one cached object.
type CacheEntry struct {
	Module      string    `json:"module"`
	Path        string    `json:"path"`
	Fingerprint string    `json:"fingerprint"`
	Target      string    `json:"target"`
	Engine      string    `json:"engine"`
	Size        int       `json:"size"`
	StoredAt    time.Time `json:"stored_at"`
	Hits        int       `json:"hits,omitempty"`
}

var cachePrefix = []byte("obj|")

func cacheKey(module string) []byte {
	return append(append([]byte{}, cachePrefix...), module...)
}

// RecordStore indexes a freshly written object file.
func (c *Cache) RecordStore(e CacheEntry) error {
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry %s: %w", e.Module, err)
	}
	return c.db.Put(cacheKey(e.Module), data, nil)
}

// Lookup retrieves the index record for a module. Returns found=false
// when the module was never stored.
func (c *Cache) Lookup(module string) (CacheEntry, bool, error) {
	data, err := c.db.Get(cacheKey(module), nil)
	if err == leveldb.ErrNotFound {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, fmt.Errorf("lookup %s: %w", module, err)
	}
	var e CacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return CacheEntry{}, false, fmt.Errorf("decode cache entry %s: %w", module, err)
	}
	return e, true, nil
}

// RecordHit bumps the reuse counter of a module's entry.
func (c *Cache) RecordHit(module string) error {
	e, found, err := c.Lookup(module)
	if err != nil || !found {
		return err
	}
	e.Hits++
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry %s: %w", module, err)
	}
	return c.db.Put(cacheKey(module), data, nil)
}

// List returns every index record sorted by module name.
func (c *Cache) List() ([]CacheEntry, error) {
	iter := c.db.NewIterator(nil, nil)
	defer iter.Release()

	var results []CacheEntry
	for ok := iter.Seek(cachePrefix); ok; ok = iter.Next() {
		key := iter.Key()
		if len(key) < len(cachePrefix) {
			break
		}
		match := true
		for i := 0; i < len(cachePrefix); i++ {
			if key[i] != cachePrefix[i] {
				match = false
				break
			}
		}
		if !match {
			break
		}

		var e CacheEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("decode cache entry %s: %w", key[len(cachePrefix):], err)
		}
		results = append(results, e)
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}

	return results, nil
}
