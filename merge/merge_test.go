package merge

import (
	"testing"

	"github.com/lsmgo/lsmgo/entry"
)

func e(key string, ts int64, tomb bool) entry.Entry {
	return entry.Entry{Key: key, Value: []byte(key + "-v"), Timestamp: ts, Tombstone: tomb}
}

func TestMergeKeepsNewestPerKey(t *testing.T) {
	oldest := NewSliceStream([]entry.Entry{e("a", 1, false), e("b", 1, false)})
	newest := NewSliceStream([]entry.Entry{e("a", 2, false), e("c", 2, false)})

	out, err := Merge([]Stream{oldest, newest}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]int64{"a": 2, "b": 1, "c": 2}
	if len(out) != len(want) {
		t.Fatalf("got %d entries, want %d", len(out), len(want))
	}
	for _, got := range out {
		if got.Timestamp != want[got.Key] {
			t.Fatalf("key %s: got ts %d, want %d", got.Key, got.Timestamp, want[got.Key])
		}
	}
}

func TestMergeOutputIsSorted(t *testing.T) {
	s1 := NewSliceStream([]entry.Entry{e("m", 1, false), e("z", 1, false)})
	s2 := NewSliceStream([]entry.Entry{e("a", 2, false), e("n", 2, false)})
	out, err := Merge([]Stream{s1, s2}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(out); i++ {
		if out[i-1].Key >= out[i].Key {
			t.Fatalf("output not strictly sorted at %d: %s >= %s", i, out[i-1].Key, out[i].Key)
		}
	}
}

func TestMergeDropsTombstonesAtBottommostLevel(t *testing.T) {
	older := NewSliceStream([]entry.Entry{e("k", 1, false)})
	newer := NewSliceStream([]entry.Entry{e("k", 2, true)})

	out, err := Merge([]Stream{older, newer}, Options{DropTombstones: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("expected tombstone dropped at bottommost level, got %v", out)
	}
}

func TestMergeRetainsTombstoneWhenNotBottommost(t *testing.T) {
	older := NewSliceStream([]entry.Entry{e("k", 1, false)})
	newer := NewSliceStream([]entry.Entry{e("k", 2, true)})

	out, err := Merge([]Stream{older, newer}, Options{DropTombstones: false})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || !out[0].Tombstone {
		t.Fatalf("expected retained tombstone, got %v", out)
	}
}

func TestMergeThreeWayTieBreaksOnStreamOrder(t *testing.T) {
	s0 := NewSliceStream([]entry.Entry{e("x", 5, false)})
	s1 := NewSliceStream([]entry.Entry{e("x", 5, false)})
	s2 := NewSliceStream([]entry.Entry{e("x", 5, false)})
	s2.entries[0].Value = []byte("from-newest")

	out, err := Merge([]Stream{s0, s1, s2}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || string(out[0].Value) != "from-newest" {
		t.Fatalf("expected newest stream to win tie, got %+v", out)
	}
}
