// Package intern implements a small, bounded, process-local string pool.
// It is a pure optimization per spec.md's design notes, never a correctness
// requirement for callers: a nil *Pool degrades to pass-through. A non-nil
// Pool must be built with New; the zero-value Pool is not usable.
package intern

import (
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Pool deduplicates repeated pattern tokens (e.g. "cmd.exe", "powershell")
// across many compiled rules. Bounded by Capacity entries, evicted LRU.
type Pool struct {
	mu       sync.Mutex
	capacity int
	entries  map[uint64]*list.Element
	order    *list.List // front = most recently used
}

type entry struct {
	key   uint64
	value string
}

// New creates a Pool bounded at capacity entries. capacity <= 0 means
// "unbounded" is not supported; it is coerced to a small sane default.
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Pool{
		capacity: capacity,
		entries:  make(map[uint64]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns the canonical copy of s, interning it if not already present.
// A nil Pool is valid and simply returns s unchanged.
func (p *Pool) Get(s string) string {
	if p == nil {
		return s
	}
	key := xxhash.Sum64String(s)

	p.mu.Lock()
	defer p.mu.Unlock()

	if el, ok := p.entries[key]; ok {
		if el.Value.(*entry).value == s {
			p.order.MoveToFront(el)
			return el.Value.(*entry).value
		}
		// hash collision on distinct strings: fall through, don't intern.
		return s
	}

	if p.order.Len() >= p.capacity {
		back := p.order.Back()
		if back != nil {
			p.order.Remove(back)
			delete(p.entries, back.Value.(*entry).key)
		}
	}

	el := p.order.PushFront(&entry{key: key, value: s})
	p.entries[key] = el
	return s
}

// Len reports the current number of interned entries (for tests/metrics).
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}
