package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lsmgo/lsmgo/entry"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal_1.wal")

	w, err := Open(path, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	entries := []entry.Entry{
		{Key: "a", Value: []byte("1"), Timestamp: 100},
		{Key: "b", Value: nil, Timestamp: 101, Tombstone: true},
		{Key: "c", Value: []byte(""), Timestamp: 102},
	}
	for _, e := range entries {
		if err := w.Write(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i, e := range entries {
		if got[i].Key != e.Key || got[i].Tombstone != e.Tombstone || got[i].Timestamp != e.Timestamp {
			t.Fatalf("entry %d mismatch: got %+v want %+v", i, got[i], e)
		}
	}
}

func TestReadStopsAtTruncatedTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal_1.wal")

	w, err := Open(path, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(entry.Entry{Key: "good", Value: []byte("v"), Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	// Append a truncated record tail directly, simulating a crash
	// mid-write.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte{0x05, 0x00, 0x00, 0x00, 'a', 'b'}); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Key != "good" {
		t.Fatalf("expected only the well-formed record, got %+v", got)
	}
}

func TestReadMissingFileReturnsEmpty(t *testing.T) {
	got, err := Read(filepath.Join(t.TempDir(), "missing.wal"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no entries, got %d", len(got))
	}
}

func TestDeleteRemovesFileAndClosesHandle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal_1.wal")
	w, err := Open(path, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(entry.Entry{Key: "a", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if err := w.Delete(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err=%v", err)
	}
	if err := w.Write(entry.Entry{Key: "b", Timestamp: 2}); err != ErrClosed {
		t.Fatalf("expected ErrClosed after delete, got %v", err)
	}
}
