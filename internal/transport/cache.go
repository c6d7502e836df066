package transport

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CacheEntry is one scripthash's cached state: the last status observed
// from the server and the history reconciled against it.
type CacheEntry struct {
	Status  string         `json:"status"`
	History []HistoryEntry `json:"history"`
}

// Cache is the on-disk JSON status cache (spec.md §4.D, §6): a single
// document mapping H to {status, history}, written atomically on every
// history reconciliation and read once at transport construction. This is
// the mechanism behind I6 (instant resume); without it a warm start would
// re-fetch every history over the wire.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries map[string]CacheEntry
}

// LoadCache reads the cache file at path. A missing or corrupt file is
// treated as an empty cache (spec.md §7: cache corruption degrades
// performance, not correctness).
func LoadCache(path string) *Cache {
	c := &Cache{path: path, entries: make(map[string]CacheEntry)}

	data, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	var entries map[string]CacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return c
	}
	c.entries = entries
	return c
}

// Get returns the cached entry for hash, if any.
func (c *Cache) Get(hash string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[hash]
	return entry, ok
}

// Set records hash's status and history and persists the cache atomically.
// Write errors are swallowed (logged by the caller): the cache is a pure
// optimization and losing an update only degrades the next cold start.
func (c *Cache) Set(hash, status string, history []HistoryEntry) error {
	c.mu.Lock()
	c.entries[hash] = CacheEntry{Status: status, History: history}
	snapshot := make(map[string]CacheEntry, len(c.entries))
	for k, v := range c.entries {
		snapshot[k] = v
	}
	c.mu.Unlock()

	return c.writeAtomic(snapshot)
}

// SetStatus records a notification-pushed status without altering history,
// persisting the cache atomically.
func (c *Cache) SetStatus(hash, status string) error {
	c.mu.Lock()
	entry := c.entries[hash]
	entry.Status = status
	c.entries[hash] = entry
	snapshot := make(map[string]CacheEntry, len(c.entries))
	for k, v := range c.entries {
		snapshot[k] = v
	}
	c.mu.Unlock()

	return c.writeAtomic(snapshot)
}

func (c *Cache) writeAtomic(entries map[string]CacheEntry) error {
	if c.path == "" {
		return nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("cache: marshal: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("cache: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".cache-*.tmp")
	if err != nil {
		return fmt.Errorf("cache: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("cache: rename: %w", err)
	}
	return nil
}
