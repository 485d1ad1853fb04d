package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/eternnoir/chunkscribe/pkg/scribeerr"
)

const (
	bucketTranscripts = "transcripts"
	bucketMeta        = "meta"

	schemaVersion = "1"
)

// Entry is one cached segment transcript
type Entry struct {
	Text     string    `json:"text"`
	StoredAt time.Time `json:"stored_at"`
}

// Record pairs a key with its entry for listing
type Record struct {
	Key string
	Entry
}

// KeyFor derives the cache key of a segment from its encoded bytes and
// identity. Identical inputs always map to the same key.
func KeyFor(data []byte, sourcePath string, index int) string {
	h := sha256.New()
	h.Write(data)
	h.Write([]byte{0})
	h.Write([]byte(sourcePath))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(index)))
	return hex.EncodeToString(h.Sum(nil))
}

// Cache maps segment keys to transcripts in memory and snapshots them to a
// bbolt file. An empty path keeps the cache in memory only.
type Cache struct {
	path string

	mu        sync.RWMutex
	entries   map[string]Entry
	dirty     map[string]struct{} // keys stored since the last Load or Persist
	reset     bool                // Clear was called; Persist drops the stored bucket
	resetGen  uint64              // gen of the last Clear
	gen       uint64              // bumped on every mutation
	persisted uint64              // gen at the last successful Load or Persist
}

// Open creates a cache backed by path. Nothing is read until Load.
func Open(path string) *Cache {
	return &Cache{
		path:    path,
		entries: make(map[string]Entry),
		dirty:   make(map[string]struct{}),
	}
}

// Path returns the snapshot location
func (c *Cache) Path() string {
	return c.path
}

// Load replaces the in-memory map with the snapshot contents. A missing
// snapshot is a cold start, not an error. Entries that no longer decode are
// skipped and count as misses; storing the key again overwrites them.
func (c *Cache) Load() error {
	if c.path == "" {
		return nil
	}
	if _, err := os.Stat(c.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	db, err := bolt.Open(c.path, 0o600, &bolt.Options{
		Timeout:  1 * time.Second,
		ReadOnly: true,
	})
	if err != nil {
		return scribeerr.Wrap(scribeerr.ErrIO, "failed to open cache database", err)
	}
	defer db.Close()

	loaded := make(map[string]Entry)
	err = db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketTranscripts))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var entry Entry
			if json.Unmarshal(v, &entry) != nil {
				return nil
			}
			loaded[string(k)] = entry
			return nil
		})
	})
	if err != nil {
		return scribeerr.Wrap(scribeerr.ErrIO, "failed to read cache database", err)
	}

	c.mu.Lock()
	c.entries = loaded
	c.dirty = make(map[string]struct{})
	c.reset = false
	c.persisted = c.gen
	c.mu.Unlock()

	return nil
}

// Lookup returns the transcript stored under key
func (c *Cache) Lookup(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry.Text, ok
}

// Store records text under key, replacing any previous value
func (c *Cache) Store(key, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{Text: text, StoredAt: time.Now().UTC()}
	c.dirty[key] = struct{}{}
	c.gen++
}

// Len returns the number of entries
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Entries returns all records ordered by key
func (c *Cache) Entries() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records := make([]Record, 0, len(c.entries))
	for k, v := range c.entries {
		records = append(records, Record{Key: k, Entry: v})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records
}

// Clear drops every entry. The stored snapshot is emptied on the next Persist.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
	c.dirty = make(map[string]struct{})
	c.reset = true
	c.gen++
	c.resetGen = c.gen
}

// Persist writes entries stored since the last Load or Persist into the
// snapshot in a single transaction. Keys already on disk are kept, so a run
// that started cold after a failed Load never drops earlier transcripts.
// Only Clear empties the stored bucket.
func (c *Cache) Persist() error {
	if c.path == "" {
		return nil
	}

	c.mu.RLock()
	if c.gen == c.persisted {
		c.mu.RUnlock()
		return nil
	}
	gen := c.gen
	reset := c.reset
	written := make(map[string]Entry, len(c.dirty))
	snapshot := make(map[string][]byte, len(c.dirty))
	for k := range c.dirty {
		entry := c.entries[k]
		data, err := json.Marshal(entry)
		if err != nil {
			c.mu.RUnlock()
			return fmt.Errorf("failed to marshal cache entry: %w", err)
		}
		written[k] = entry
		snapshot[k] = data
	}
	c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return scribeerr.Wrap(scribeerr.ErrIO, "failed to create cache directory", err)
	}

	db, err := bolt.Open(c.path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return scribeerr.Wrap(scribeerr.ErrIO, "failed to open cache database", err)
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		if reset && tx.Bucket([]byte(bucketTranscripts)) != nil {
			if err := tx.DeleteBucket([]byte(bucketTranscripts)); err != nil {
				return fmt.Errorf("failed to reset transcripts bucket: %w", err)
			}
		}
		bucket, err := tx.CreateBucketIfNotExists([]byte(bucketTranscripts))
		if err != nil {
			return fmt.Errorf("failed to create transcripts bucket: %w", err)
		}
		for k, v := range snapshot {
			if err := bucket.Put([]byte(k), v); err != nil {
				return fmt.Errorf("failed to store entry: %w", err)
			}
		}

		meta, err := tx.CreateBucketIfNotExists([]byte(bucketMeta))
		if err != nil {
			return fmt.Errorf("failed to create meta bucket: %w", err)
		}
		return meta.Put([]byte("version"), []byte(schemaVersion))
	})
	if err != nil {
		return scribeerr.Wrap(scribeerr.ErrIO, "failed to write cache database", err)
	}

	c.mu.Lock()
	for k, entry := range written {
		if c.entries[k] == entry {
			delete(c.dirty, k)
		}
	}
	if reset && c.resetGen <= gen {
		c.reset = false
	}
	if gen > c.persisted {
		c.persisted = gen
	}
	c.mu.Unlock()

	return nil
}

// Close flushes unsaved entries. The snapshot file is only held open during
// Load and Persist, so nothing else needs releasing.
func (c *Cache) Close() error {
	return c.Persist()
}
