// Package skiplist implements the concurrent ordered index backing each
// memtable: a randomized multi-level linked structure supporting
// upsert/get/scan under a single writer-exclusion mutex, with readers
// sharing a consistent sorted view.
package skiplist

import (
	"math/rand"
	"sync"
	"time"

	"github.com/lsmgo/lsmgo/entry"
)

const (
	maxLevel = 32
	p        = 0.5
)

type node struct {
	entry entry.Entry
	next  []*node
}

// SkipList is a concurrent ordered map from key to entry.Entry.
type SkipList struct {
	mu           sync.RWMutex
	head         *node
	level        int
	size         int
	accountedLen int64
	rnd          *rand.Rand
}

// New returns an empty skip list.
func New() *SkipList {
	return &SkipList{
		head:  &node{next: make([]*node, maxLevel)},
		level: 1,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *SkipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && s.rnd.Float64() < p {
		lvl++
	}
	return lvl
}

// Upsert inserts e or, if e.Key already exists, replaces it and returns
// the delta (new - old) in estimated size so callers can maintain an
// accounted total without rescanning.
func (s *SkipList) Upsert(e entry.Entry) (delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	update := make([]*node, maxLevel)
	cur := s.head
	for i := s.level - 1; i >= 0; i-- {
		for cur.next[i] != nil && cur.next[i].entry.Key < e.Key {
			cur = cur.next[i]
		}
		update[i] = cur
	}

	if next := cur.next[0]; next != nil && next.entry.Key == e.Key {
		oldSize := int64(next.entry.EstimatedSize())
		next.entry = e
		newSize := int64(e.EstimatedSize())
		delta = newSize - oldSize
		s.accountedLen += delta
		return delta
	}

	lvl := s.randomLevel()
	if lvl > s.level {
		for i := s.level; i < lvl; i++ {
			update[i] = s.head
		}
		s.level = lvl
	}

	n := &node{entry: e, next: make([]*node, lvl)}
	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
	}
	s.size++
	delta = int64(e.EstimatedSize())
	s.accountedLen += delta
	return delta
}

// Get returns the entry stored for key, if any.
func (s *SkipList) Get(key string) (entry.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur := s.head
	for i := s.level - 1; i >= 0; i-- {
		for cur.next[i] != nil && cur.next[i].entry.Key < key {
			cur = cur.next[i]
		}
	}
	n := cur.next[0]
	if n != nil && n.entry.Key == key {
		return n.entry, true
	}
	return entry.Entry{}, false
}

// Scan returns all entries in ascending key order.
func (s *SkipList) Scan() []entry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entry.Entry, 0, s.size)
	for n := s.head.next[0]; n != nil; n = n.next[0] {
		out = append(out, n.entry)
	}
	return out
}

// Size returns the number of distinct keys stored.
func (s *SkipList) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// IsEmpty reports whether the index holds no entries.
func (s *SkipList) IsEmpty() bool {
	return s.Size() == 0
}

// AccountedBytes returns the monotonically-tracked estimated byte total
// across all stored entries, adjusted for upsert deltas.
func (s *SkipList) AccountedBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountedLen
}
