package flow

import (
	"log/slog"
	"reflect"
	"sync"
)

// closer is the close capability a cached value may provide. The cache is
// the sole lifetime manager for values it stores: placing a
// value into the cache transfers ownership of any resources it holds.
type closer interface {
	Close() error
}

type cacheEntry struct {
	value       any
	id          int64
	updateCount int64
	child       *ValueCache
}

// ValueCache is a keyed store with stable ids, update counters,
// hierarchical child scopes, and close-on-eviction.
// It is safe for concurrent use, though the engine itself only accesses a
// given cache from one goroutine at a time per the single-threaded
// execution model; locking exists so that SubProcessStep drivers, which
// may use internal goroutines, can safely read/write it.
type ValueCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	nextID  int64
	logger  *slog.Logger
}

// NewValueCache returns an empty cache. A nil logger defaults to
// slog.Default().
func NewValueCache(logger *slog.Logger) *ValueCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ValueCache{entries: make(map[string]*cacheEntry), logger: logger}
}

// Set stores v under key. If key already existed, its id is preserved and
// update_count increments; the previous value is closed if it differs from
// v. If key is new, a fresh monotonic id (starting at 1) is assigned.
func (c *ValueCache) Set(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		if !sameValue(e.value, v) {
			c.closeValue(key, e.value)
		}
		e.value = v
		e.updateCount++
		return
	}
	c.nextID++
	c.entries[key] = &cacheEntry{value: v, id: c.nextID, updateCount: 0}
}

// Get returns the value stored under key and whether it was present.
func (c *ValueCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Del removes key, closing its value first.
func (c *ValueCache) Del(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	c.closeValue(key, e.value)
	delete(c.entries, key)
}

// GetID returns the stable id assigned to key and whether key is present.
func (c *ValueCache) GetID(key string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	return e.id, true
}

// GetUpdateCount returns the number of reassignments made to key since its
// first insertion.
func (c *ValueCache) GetUpdateCount(key string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	return e.updateCount, true
}

// GetValueByID returns the value whose entry carries the given id.
func (c *ValueCache) GetValueByID(id int64) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.id == id {
			return e.value, true
		}
	}
	return nil, false
}

// GetKey returns the key whose entry carries the given id.
func (c *ValueCache) GetKey(id int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.id == id {
			return k, true
		}
	}
	return "", false
}

// Child returns the child cache scoped under key, creating one on first
// access. Writes to a child never affect the parent's own entries; the child is closed when the parent is closed.
func (c *ValueCache) Child(key string) *ValueCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.nextID++
		e = &cacheEntry{id: c.nextID}
		c.entries[key] = e
	}
	if e.child == nil {
		e.child = NewValueCache(c.logger)
	}
	return e.child
}

// RenameKey moves the value, id metadata, and any child cache from old to
// new, keeping the id unchanged.
func (c *ValueCache) RenameKey(oldKey, newKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[oldKey]
	if !ok {
		return
	}
	delete(c.entries, oldKey)
	c.entries[newKey] = e
}

// Clear closes and removes every entry. Individual close failures are
// logged and do not abort the clear.
func (c *ValueCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		c.closeValue(k, e.value)
		if e.child != nil {
			e.child.Clear()
		}
	}
	c.entries = make(map[string]*cacheEntry)
}

// Close closes every held value and every child cache (best-effort).
func (c *ValueCache) Close() {
	c.Clear()
}

// Snapshot returns the serializable view of the cache. Values that would
// not survive a JSON round-trip (anything carrying a close capability) are
// skipped; child caches are captured recursively.
func (c *ValueCache) Snapshot() CacheSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := make(CacheSnapshot, len(c.entries))
	for k, e := range c.entries {
		if _, owns := e.value.(closer); owns {
			continue
		}
		entry := CacheSnapshotEntry{Value: e.value, ID: e.id, UpdateCount: e.updateCount}
		if e.child != nil {
			entry.Child = e.child.Snapshot()
		}
		snap[k] = entry
	}
	return snap
}

// Restore loads a snapshot into an empty cache, preserving the recorded
// ids and update counters and advancing the id counter past the largest
// restored id.
func (c *ValueCache) Restore(snap CacheSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, entry := range snap {
		e := &cacheEntry{value: entry.Value, id: entry.ID, updateCount: entry.UpdateCount}
		if entry.Child != nil {
			e.child = NewValueCache(c.logger)
			e.child.Restore(entry.Child)
		}
		c.entries[k] = e
		if entry.ID > c.nextID {
			c.nextID = entry.ID
		}
	}
}

// sameValue reports whether old and new are the same stored value, used
// to decide whether replacement must close the old one. Uncomparable
// values (maps, slices) are never considered identical.
func sameValue(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	ta := reflect.TypeOf(a)
	tb := reflect.TypeOf(b)
	if ta == nil || tb == nil || !ta.Comparable() || !tb.Comparable() {
		return false
	}
	return a == b
}

// closeValue invokes v's Close method if it implements closer, logging
// (never propagating) any error. Must be called with c.mu held.
func (c *ValueCache) closeValue(key string, v any) {
	cl, ok := v.(closer)
	if !ok {
		return
	}
	if err := cl.Close(); err != nil {
		c.logger.Warn("cache close failed", "key", key, "error", err)
	}
}
