// Package modelcache implements the Model Cache (C3): up to N loaded
// ONNX Runtime sessions keyed by (detector_id, role), evicted by minimum
// access count on overflow (a frequency-approximate LRU, not strict
// recency), with single-flight loading per key. Grounded on
// detector_inference.py's ModelCache class.
package modelcache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Role identifies which of a detector's two model artifacts a session
// was loaded for.
type Role string

const (
	RolePrimary Role = "primary"
	RoleOODD    Role = "oodd"
)

// Key uniquely identifies a cached session.
type Key struct {
	DetectorID string
	Role       Role
}

func (k Key) String() string { return fmt.Sprintf("%s/%s", k.DetectorID, k.Role) }

// Session is the loaded inference runtime handle. Implementations (ONNX
// Runtime, a test fake) must be safe for Run to be called while other
// goroutines hold the same *entry (the cache itself does not serialize
// Run — see SPEC_FULL.md ambient notes on session thread-safety, §5).
type Session interface {
	Close() error
}

// Loader constructs a Session for key from its on-disk artifact path.
type Loader func(ctx context.Context, key Key, artifactPath string) (Session, error)

type entry struct {
	session     Session
	accessCount int64
	refCount    int64
}

// Cache is the in-memory LRU-ish session cache. Zero value is not usable;
// construct with New.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[Key]*entry
	group    singleflight.Group
	disk     *Disk
	loader   Loader
}

func New(capacity int, disk *Disk, loader Loader) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[Key]*entry),
		disk:     disk,
		loader:   loader,
	}
}

// Get returns the cached session for key, loading it on miss. Concurrent
// callers for the same key share a single in-flight load
// (golang.org/x/sync/singleflight). The returned release func MUST be
// called when the caller is done; the cache will not evict an entry
// while any holder still references it.
func (c *Cache) Get(ctx context.Context, key Key, artifactPath string) (session Session, release func(), err error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.accessCount++
		e.refCount++
		sess := e.session
		c.mu.Unlock()
		return sess, c.releaseFunc(key), nil
	}
	c.mu.Unlock()

	// referenced is set only when this caller's own closure ran and took
	// a reference; callers sharing another caller's in-flight load take
	// theirs after Do returns.
	referenced := false
	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		// Re-check: another goroutine may have completed the load for a
		// different requester of the same key between our miss above and
		// acquiring the singleflight slot.
		c.mu.Lock()
		if e, ok := c.entries[key]; ok {
			e.accessCount++
			e.refCount++
			referenced = true
			c.mu.Unlock()
			return e.session, nil
		}
		c.mu.Unlock()

		path, derr := c.disk.Ensure(ctx, key, artifactPath)
		if derr != nil {
			return nil, derr
		}
		sess, lerr := c.loader(ctx, key, path)
		if lerr != nil {
			return nil, lerr
		}

		c.mu.Lock()
		c.evictIfNeeded()
		c.entries[key] = &entry{session: sess, accessCount: 1, refCount: 1}
		referenced = true
		c.mu.Unlock()
		return sess, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if !referenced {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok {
			e.accessCount++
			e.refCount++
		}
		c.mu.Unlock()
	}
	return v.(Session), c.releaseFunc(key), nil
}

func (c *Cache) releaseFunc(key Key) func() {
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if e, ok := c.entries[key]; ok && e.refCount > 0 {
			e.refCount--
		}
	}
}

// evictIfNeeded drops the entry with the minimum access count among
// entries with zero outstanding references, if the cache is at capacity.
// Must be called with c.mu held.
func (c *Cache) evictIfNeeded() {
	if len(c.entries) < c.capacity {
		return
	}
	var victim Key
	found := false
	var minCount int64
	for k, e := range c.entries {
		if e.refCount > 0 {
			continue // never evict a session a holder still references
		}
		if !found || e.accessCount < minCount {
			victim = k
			minCount = e.accessCount
			found = true
		}
	}
	if !found {
		return // every entry is in use; allow a transient over-capacity state
	}
	if e, ok := c.entries[victim]; ok {
		e.session.Close()
		delete(c.entries, victim)
	}
}

// Len reports the current number of cached entries (test/metrics use).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Contains reports whether key currently has a cached session.
func (c *Cache) Contains(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}
