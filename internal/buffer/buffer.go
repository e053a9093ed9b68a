// Package buffer provides a bounded, ordered, time-bucketed value store for
// one writer and many concurrent readers.
//
// The authoritative structure is a copy-on-write B-tree. Every mutation runs
// inside one short critical section: the writer clones the published tree
// (lazily, O(1)), applies the change plus eviction to the clone, then swaps
// in a new view holding the tree together with its first/last entries.
// Readers load the current view without locking and therefore observe either
// the pre- or the post-mutation state, never a half-updated cache.
package buffer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
	"github.com/rs/zerolog/log"
)

// DefaultMaxSize is used when a non-positive size bound is requested.
const DefaultMaxSize = 1000

const treeDegree = 32

// Entry is one bucket→value pair.
type Entry[V any] struct {
	Bucket time.Time
	Value  *V
}

// view is the immutable snapshot readers see.
type view[V any] struct {
	tree  *btree.BTreeG[Entry[V]]
	first *Entry[V] // nil when empty
	last  *Entry[V]
}

// Option configures a Buffer.
type Option func(*options)

type options struct {
	name           string
	interval       time.Duration
	exclusiveUpper bool
	onReset        func(name string)
}

// WithName sets the label used in logs and reset callbacks.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithContinuity enables the continuity policy on Append: a bucket that is
// neither the last bucket nor exactly interval after it clears the buffer
// before being inserted.
func WithContinuity(interval time.Duration) Option {
	return func(o *options) { o.interval = interval }
}

// WithExclusiveUpper makes the before bound of Range exclusive.
// By default it is inclusive.
func WithExclusiveUpper() Option {
	return func(o *options) { o.exclusiveUpper = true }
}

// WithResetHook registers a callback invoked after each continuity reset,
// outside the critical section.
func WithResetHook(fn func(name string)) Option {
	return func(o *options) { o.onReset = fn }
}

// Buffer is a concurrency-safe ordered store of bucket→value with a size
// bound and optional continuity enforcement. Nil values are rejected.
type Buffer[V any] struct {
	opts    options
	maxSize int

	mu      sync.Mutex // serializes mutations
	current atomic.Pointer[view[V]]
	version atomic.Int64
	resets  atomic.Uint64
}

// New creates a buffer holding at most maxSize buckets.
func New[V any](maxSize int, opts ...Option) *Buffer[V] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	b := &Buffer[V]{maxSize: maxSize}
	for _, o := range opts {
		o(&b.opts)
	}
	b.current.Store(&view[V]{tree: newTree[V]()})
	return b
}

func newTree[V any]() *btree.BTreeG[Entry[V]] {
	return btree.NewG[Entry[V]](treeDegree, func(a, b Entry[V]) bool {
		return a.Bucket.Before(b.Bucket)
	})
}

// PutItem inserts or updates the value for bucket, evicts the oldest buckets
// beyond the size bound and refreshes first/last. Returns true if the bucket
// was not present before. A nil value or zero bucket is a no-op.
func (b *Buffer[V]) PutItem(bucket time.Time, value *V) bool {
	if value == nil || bucket.IsZero() {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.current.Load().tree.Clone()
	_, replaced := t.ReplaceOrInsert(Entry[V]{Bucket: bucket, Value: value})
	b.trimAndPublish(t)
	return !replaced
}

// PutItems merges a batch under one critical section, then enforces the size
// bound and refreshes first/last once. Used for historical restore: the
// continuity policy is not applied. Nil values and zero buckets are skipped.
func (b *Buffer[V]) PutItems(items map[time.Time]*V) {
	if len(items) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.current.Load().tree.Clone()
	for bucket, value := range items {
		if value == nil || bucket.IsZero() {
			continue
		}
		t.ReplaceOrInsert(Entry[V]{Bucket: bucket, Value: value})
	}
	b.trimAndPublish(t)
}

// Append is the live insert path. With continuity enabled, a bucket that is
// not equal to the last bucket and not exactly one interval after it clears
// the buffer (bumping the version) before the item is inserted.
// Returns whether the bucket was new and whether a reset happened.
func (b *Buffer[V]) Append(bucket time.Time, value *V) (isNew, reset bool) {
	if value == nil || bucket.IsZero() {
		return false, false
	}

	var lastBucket time.Time

	b.mu.Lock()
	cur := b.current.Load()
	var t *btree.BTreeG[Entry[V]]
	if b.opts.interval > 0 && cur.last != nil && !b.continues(cur.last.Bucket, bucket) {
		lastBucket = cur.last.Bucket
		t = newTree[V]()
		reset = true
		b.version.Add(1)
		b.resets.Add(1)
	} else {
		t = cur.tree.Clone()
	}
	_, replaced := t.ReplaceOrInsert(Entry[V]{Bucket: bucket, Value: value})
	b.trimAndPublish(t)
	b.mu.Unlock()

	if reset {
		log.Warn().
			Str("buffer", b.opts.name).
			Time("last_bucket", lastBucket).
			Time("bucket", bucket).
			Dur("interval", b.opts.interval).
			Msg("continuity violated, buffer reset")
		if b.opts.onReset != nil {
			b.opts.onReset(b.opts.name)
		}
	}
	return !replaced, reset
}

func (b *Buffer[V]) continues(last, bucket time.Time) bool {
	return bucket.Equal(last) || bucket.Equal(last.Add(b.opts.interval))
}

// trimAndPublish must be called with mu held.
func (b *Buffer[V]) trimAndPublish(t *btree.BTreeG[Entry[V]]) {
	for t.Len() > b.maxSize {
		t.DeleteMin()
	}
	v := &view[V]{tree: t}
	if e, ok := t.Min(); ok {
		v.first = &e
	}
	if e, ok := t.Max(); ok {
		v.last = &e
	}
	b.current.Store(v)
}

// Clear empties the buffer, resets first/last and increments the version.
func (b *Buffer[V]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current.Store(&view[V]{tree: newTree[V]()})
	b.version.Add(1)
}

// Range returns an ordered copy of the entries with after < bucket and
// bucket <= before (or < before with WithExclusiveUpper). A zero bound means
// an open end. Runs in O(log n + k).
func (b *Buffer[V]) Range(after, before time.Time) []Entry[V] {
	v := b.current.Load()
	out := make([]Entry[V], 0, 16)

	iter := func(e Entry[V]) bool {
		if !before.IsZero() {
			if b.opts.exclusiveUpper && !e.Bucket.Before(before) {
				return false
			}
			if e.Bucket.After(before) {
				return false
			}
		}
		if !after.IsZero() && !e.Bucket.After(after) {
			return true
		}
		out = append(out, e)
		return true
	}

	if after.IsZero() {
		v.tree.Ascend(iter)
	} else {
		v.tree.AscendGreaterOrEqual(Entry[V]{Bucket: after}, iter)
	}
	return out
}

// Items returns every entry in bucket order.
func (b *Buffer[V]) Items() []Entry[V] {
	return b.Range(time.Time{}, time.Time{})
}

// Get returns the value stored for bucket.
func (b *Buffer[V]) Get(bucket time.Time) (*V, bool) {
	e, ok := b.current.Load().tree.Get(Entry[V]{Bucket: bucket})
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// Before returns the newest entry strictly older than bucket.
func (b *Buffer[V]) Before(bucket time.Time) (Entry[V], bool) {
	var (
		found Entry[V]
		ok    bool
	)
	b.current.Load().tree.DescendLessOrEqual(Entry[V]{Bucket: bucket}, func(e Entry[V]) bool {
		if e.Bucket.Equal(bucket) {
			return true
		}
		found, ok = e, true
		return false
	})
	return found, ok
}

// ContainsKey reports whether bucket is present.
func (b *Buffer[V]) ContainsKey(bucket time.Time) bool {
	return b.current.Load().tree.Has(Entry[V]{Bucket: bucket})
}

// Size returns the number of buckets held.
func (b *Buffer[V]) Size() int {
	return b.current.Load().tree.Len()
}

// IsEmpty reports whether the buffer holds no buckets.
func (b *Buffer[V]) IsEmpty() bool {
	return b.Size() == 0
}

// First returns the oldest entry.
func (b *Buffer[V]) First() (Entry[V], bool) {
	if e := b.current.Load().first; e != nil {
		return *e, true
	}
	return Entry[V]{}, false
}

// Last returns the newest entry.
func (b *Buffer[V]) Last() (Entry[V], bool) {
	if e := b.current.Load().last; e != nil {
		return *e, true
	}
	return Entry[V]{}, false
}

// Version is bumped on clears, continuity resets and explicit increments,
// never on ordinary inserts.
func (b *Buffer[V]) Version() int64 {
	return b.version.Load()
}

// IncrementVersion marks the contents as replaced, e.g. after a bulk restore,
// so dependants recompute from scratch.
func (b *Buffer[V]) IncrementVersion() {
	b.version.Add(1)
}

// Resets returns how many continuity resets happened.
func (b *Buffer[V]) Resets() uint64 {
	return b.resets.Load()
}

// MaxSize returns the size bound.
func (b *Buffer[V]) MaxSize() int { return b.maxSize }

// Name returns the buffer label.
func (b *Buffer[V]) Name() string { return b.opts.name }
