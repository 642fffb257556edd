// Package dedupe tracks detection IDs so a replayed feed record is counted once.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMaxSize = 50000

// Deduper records seen detection IDs to ensure at-most-once counting.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Claim records id for owner unless it is already held. Returns true if
	// a different owner recorded id first; the same owner may claim again.
	Claim(ctx context.Context, id, owner string) bool

	// Unrecord removes an ID so it can be counted again, used when a record
	// was marked as seen but then rejected.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper implements Deduper.
// Bounded mode (maxSize > 0) keeps the most recently seen IDs in an LRU.
// Unbounded mode (maxSize <= 0) uses a plain map.
type inMemoryDeduper struct {
	maxSize int

	cache *lru.Cache[string, string]

	mu   sync.Mutex
	seen map[string]string // id to owner
	size atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.maxSize > 0 {
		// lru.New only fails for a non-positive size.
		d.cache, _ = lru.New[string, string](d.maxSize)
	} else {
		d.seen = make(map[string]string)
	}
	return d
}

// SeenAndRecord reports whether id was already recorded, recording it if not.
func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	if d.cache != nil {
		found, _ := d.cache.ContainsOrAdd(id, "")
		return found
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = ""
	d.size.Add(1)
	return false
}

// Claim records id for owner, reporting whether another owner holds it.
func (d *inMemoryDeduper) Claim(_ context.Context, id, owner string) bool {
	if d.cache != nil {
		prev, found, _ := d.cache.PeekOrAdd(id, owner)
		return found && prev != owner
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.seen[id]; ok {
		return prev != owner
	}
	d.seen[id] = owner
	d.size.Add(1)
	return false
}

// Unrecord removes an ID from the seen set.
func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	if d.cache != nil {
		d.cache.Remove(id)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		delete(d.seen, id)
		d.size.Add(-1)
	}
}

// Size returns the current number of recorded IDs.
func (d *inMemoryDeduper) Size() int64 {
	if d.cache != nil {
		return int64(d.cache.Len())
	}
	return d.size.Load()
}
