// Package keyed provides process-local key/value stores with per-shard
// mutual exclusion, used for identity-scoped state shared across goroutines.
package keyed

import (
	"hash/maphash"
	"sync"
)

const defaultShards = 64

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]V
}

// Map is a string-keyed map split into independently locked shards. Updates
// to the same key are serialized; different keys rarely contend.
type Map[V any] struct {
	seed   maphash.Seed
	shards []*shard[V]
}

func New[V any]() *Map[V] {
	return NewWithShards[V](defaultShards)
}

func NewWithShards[V any](n int) *Map[V] {
	if n <= 0 {
		n = 1
	}
	m := &Map[V]{seed: maphash.MakeSeed(), shards: make([]*shard[V], n)}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	return m.shards[maphash.String(m.seed, key)%uint64(len(m.shards))]
}

func (m *Map[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok
}

func (m *Map[V]) Set(key string, v V) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.items[key] = v
	s.mu.Unlock()
}

func (m *Map[V]) Delete(key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Update runs fn under the key's shard lock. fn receives the current value
// and whether it exists, and returns the new value and whether to keep it.
// fn must not block or call back into the map.
func (m *Map[V]) Update(key string, fn func(cur V, ok bool) (V, bool)) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[key]
	next, keep := fn(cur, ok)
	if keep {
		s.items[key] = next
	} else if ok {
		delete(s.items, key)
	}
}

// DeleteFunc removes every entry for which match returns true and reports
// how many were removed.
func (m *Map[V]) DeleteFunc(match func(key string, v V) bool) int {
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for k, v := range s.items {
			if match(k, v) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (m *Map[V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}
