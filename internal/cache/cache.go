// Package cache provides the bounded LRU result caches with JSON file
// persistence. The cache never inspects its payloads: they are opaque
// json.RawMessage values owned by the engine.
package cache

import (
	"container/list"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/corpusnext/papersearch/pkg/logger"
)

// Cache is one bounded LRU map from string keys to opaque JSON payloads.
// It is not safe for concurrent use; the engine serialises access under
// its own lock (Get mutates recency, so there is no read-only path).
type Cache struct {
	name    string
	path    string
	maxSize int

	entries map[string]*list.Element
	// lru orders keys with the most recently used at the front.
	lru *list.List

	logger *slog.Logger

	onEvict func()
}

type entry struct {
	key     string
	payload json.RawMessage
}

// persistedEntry is the on-disk form: a JSON array of these, ordered from
// LRU-oldest to MRU-newest.
type persistedEntry struct {
	Key    string          `json:"key"`
	Result json.RawMessage `json:"result"`
}

// New creates an empty cache that persists to path after every mutation.
func New(name, path string, maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache{
		name:    name,
		path:    path,
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		logger:  logger.WithComponent("cache").With("cache", name),
	}
}

// SetEvictionHook registers a callback invoked once per evicted entry.
func (c *Cache) SetEvictionHook(fn func()) {
	c.onEvict = fn
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Get returns the payload for key and promotes it to most recently used.
// The recency change is persisted like any other mutation.
func (c *Cache) Get(key string) (json.RawMessage, bool) {
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(el)
	c.persist()
	return el.Value.(*entry).payload, true
}

// Put inserts or updates key, evicting the least recently used entry when
// at capacity, and persists the new state.
func (c *Cache) Put(key string, payload json.RawMessage) {
	if el, ok := c.entries[key]; ok {
		el.Value.(*entry).payload = payload
		c.lru.MoveToFront(el)
		c.persist()
		return
	}

	if len(c.entries) >= c.maxSize {
		oldest := c.lru.Back()
		if oldest != nil {
			evicted := oldest.Value.(*entry)
			c.lru.Remove(oldest)
			delete(c.entries, evicted.key)
			if c.onEvict != nil {
				c.onEvict()
			}
		}
	}

	el := c.lru.PushFront(&entry{key: key, payload: payload})
	c.entries[key] = el
	c.persist()
}

// Keys returns the keys ordered from LRU-oldest to MRU-newest, the same
// order persist writes. Used by tests.
func (c *Cache) Keys() []string {
	out := make([]string, 0, len(c.entries))
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		out = append(out, el.Value.(*entry).key)
	}
	return out
}

// persist overwrites the cache file with the full contents, oldest first.
// Write failures are logged and swallowed: the in-memory cache stays
// authoritative.
func (c *Cache) persist() {
	if c.path == "" {
		return
	}
	out := make([]persistedEntry, 0, len(c.entries))
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		out = append(out, persistedEntry{Key: e.key, Result: e.payload})
	}
	data, err := json.Marshal(out)
	if err != nil {
		c.logger.Error("cache marshal failed", "error", err)
		return
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		c.logger.Error("cache write failed", "path", c.path, "error", err)
	}
}

// Flush forces a persistence write; the engine calls it on shutdown.
func (c *Cache) Flush() {
	c.persist()
}

// Load replaces the cache contents from the persistence file. Entries are
// inserted in stored order, so the first entry becomes LRU-oldest. A
// missing or corrupt file leaves the cache empty and is not an error.
func (c *Cache) Load() {
	c.entries = make(map[string]*list.Element)
	c.lru.Init()

	if c.path == "" {
		return
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("cache read failed, starting empty", "path", c.path, "error", err)
		}
		return
	}
	var stored []persistedEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		c.logger.Warn("cache file corrupt, starting empty", "path", c.path, "error", err)
		return
	}

	loaded := 0
	for _, pe := range stored {
		if pe.Key == "" || pe.Result == nil {
			continue
		}
		if _, dup := c.entries[pe.Key]; dup {
			continue
		}
		if loaded >= c.maxSize {
			break
		}
		el := c.lru.PushFront(&entry{key: pe.Key, payload: pe.Result})
		c.entries[pe.Key] = el
		loaded++
	}
	if loaded > 0 {
		c.logger.Info("cache loaded", "entries", loaded, "path", c.path)
	}
}

// SearchKey builds the canonical search/overview cache key.
func SearchKey(query string, k int) string {
	return fmt.Sprintf("%s|%d", query, k)
}

// SummaryKey builds the canonical summary cache key.
func SummaryKey(uid string) string {
	return "summary|" + uid
}
