// Package merge implements the k-way merge used by flush and compaction
// to combine sorted entry streams into one sorted, de-duplicated stream.
package merge

import (
	"container/heap"

	"github.com/lsmgo/lsmgo/entry"
)

// Stream yields entries in ascending key order. Streams are presented
// oldest to newest; for a duplicate key across streams the entry from
// the highest-indexed (newest) stream wins.
type Stream interface {
	// Next returns the next entry, or ok=false at end of stream.
	Next() (entry.Entry, bool, error)
}

// SliceStream adapts a pre-sorted slice of entries into a Stream.
type SliceStream struct {
	entries []entry.Entry
	pos     int
}

// NewSliceStream wraps entries, which must already be sorted ascending
// by key (entry.Less).
func NewSliceStream(entries []entry.Entry) *SliceStream {
	return &SliceStream{entries: entries}
}

func (s *SliceStream) Next() (entry.Entry, bool, error) {
	if s.pos >= len(s.entries) {
		return entry.Entry{}, false, nil
	}
	e := s.entries[s.pos]
	s.pos++
	return e, true, nil
}

// DropTombstones, when passed to Merge, requests that tombstones be
// elided from the output — correct only when the output is destined for
// the bottommost level that could hold the affected keys (§4.3/§4.10).
type Options struct {
	DropTombstones bool
}

type heapItem struct {
	e      entry.Entry
	stream int // index into the original streams slice; higher = newer
}

type itemHeap []heapItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	c := compareBytes(h[i].e.Key, h[j].e.Key)
	if c != 0 {
		return c < 0
	}
	// Ties on key are broken by stream index so the newest stream's
	// value is the one the accumulator ends up holding.
	return h[i].stream > h[j].stream
}
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func compareBytes(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Merge performs an O(N log S) k-way merge over streams (oldest first,
// newest last). For each distinct key it keeps only the entry from the
// newest contributing stream. When opts.DropTombstones is set, tombstone
// entries are elided from the output entirely.
func Merge(streams []Stream, opts Options) ([]entry.Entry, error) {
	h := &itemHeap{}
	heap.Init(h)
	for i, s := range streams {
		e, ok, err := s.Next()
		if err != nil {
			return nil, err
		}
		if ok {
			heap.Push(h, heapItem{e: e, stream: i})
		}
	}

	var out []entry.Entry
	var (
		haveCurrent bool
		currentKey  string
		best        entry.Entry
		bestStream  int
	)

	flush := func() {
		if !haveCurrent {
			return
		}
		if !(opts.DropTombstones && best.Tombstone) {
			out = append(out, best)
		}
		haveCurrent = false
	}

	for h.Len() > 0 {
		top := heap.Pop(h).(heapItem)

		if !haveCurrent || top.e.Key != currentKey {
			flush()
			currentKey = top.e.Key
			best = top.e
			bestStream = top.stream
			haveCurrent = true
		} else if top.stream > bestStream || (top.stream == bestStream && top.e.Timestamp > best.Timestamp) {
			// A newer stream, or a later occurrence within the same
			// stream carrying a larger timestamp, replaces the running
			// winner; older streams and older timestamps never do.
			best = top.e
			bestStream = top.stream
		}

		next, ok, err := streams[top.stream].Next()
		if err != nil {
			return nil, err
		}
		if ok {
			heap.Push(h, heapItem{e: next, stream: top.stream})
		}
	}
	flush()

	return out, nil
}
