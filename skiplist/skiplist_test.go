package skiplist

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/lsmgo/lsmgo/entry"
)

func TestUpsertGet(t *testing.T) {
	s := New()
	s.Upsert(entry.Entry{Key: "b", Value: []byte("2"), Timestamp: 1})
	s.Upsert(entry.Entry{Key: "a", Value: []byte("1"), Timestamp: 1})

	got, ok := s.Get("a")
	if !ok || string(got.Value) != "1" {
		t.Fatalf("expected a=1, got %+v ok=%v", got, ok)
	}
	if _, ok := s.Get("missing"); ok {
		t.Fatal("expected miss for absent key")
	}
}

func TestUpsertReplacesExistingKey(t *testing.T) {
	s := New()
	s.Upsert(entry.Entry{Key: "k", Value: []byte("old"), Timestamp: 1})
	s.Upsert(entry.Entry{Key: "k", Value: []byte("newvalue"), Timestamp: 2})

	if s.Size() != 1 {
		t.Fatalf("expected size 1 after replace, got %d", s.Size())
	}
	got, _ := s.Get("k")
	if string(got.Value) != "newvalue" || got.Timestamp != 2 {
		t.Fatalf("expected replaced entry, got %+v", got)
	}
}

func TestScanReturnsSortedOrder(t *testing.T) {
	s := New()
	keys := []string{"delta", "alpha", "charlie", "bravo"}
	for _, k := range keys {
		s.Upsert(entry.Entry{Key: k, Timestamp: 1})
	}
	scanned := s.Scan()
	got := make([]string, len(scanned))
	for i, e := range scanned {
		got[i] = e.Key
	}
	sort.Strings(keys)
	for i := range keys {
		if got[i] != keys[i] {
			t.Fatalf("scan order mismatch at %d: got %s, want %s", i, got[i], keys[i])
		}
	}
}

func TestAccountedBytesTracksDelta(t *testing.T) {
	s := New()
	d1 := s.Upsert(entry.Entry{Key: "k", Value: []byte("short"), Timestamp: 1})
	if d1 <= 0 {
		t.Fatalf("expected positive delta on insert, got %d", d1)
	}
	before := s.AccountedBytes()
	d2 := s.Upsert(entry.Entry{Key: "k", Value: []byte("a much longer value"), Timestamp: 2})
	if d2 <= 0 {
		t.Fatalf("expected positive delta on growth, got %d", d2)
	}
	if s.AccountedBytes() != before+d2 {
		t.Fatalf("accounted bytes not updated by delta: before=%d delta=%d after=%d", before, d2, s.AccountedBytes())
	}
}

func TestConcurrentUpsertsLeaveOneConsistentWinner(t *testing.T) {
	s := New()
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Upsert(entry.Entry{
				Key:       "x",
				Value:     []byte(fmt.Sprintf("u%d", i)),
				Timestamp: int64(i),
			})
		}(i)
	}
	wg.Wait()

	got, ok := s.Get("x")
	if !ok {
		t.Fatal("expected key x to be present")
	}
	if got.Timestamp < 0 || got.Timestamp >= n {
		t.Fatalf("unexpected timestamp %d", got.Timestamp)
	}
}

func TestIsEmpty(t *testing.T) {
	s := New()
	if !s.IsEmpty() {
		t.Fatal("expected empty skip list")
	}
	s.Upsert(entry.Entry{Key: "a"})
	if s.IsEmpty() {
		t.Fatal("expected non-empty skip list")
	}
}
