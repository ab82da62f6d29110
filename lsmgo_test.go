package lsmgo

import (
	"path/filepath"
	"testing"
)

func TestSetGetDelete(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := db.Set("a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := db.Get("a")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(v) != "1" {
		t.Fatalf("expected a=1, got %q ok=%v", v, ok)
	}

	if err := db.Delete("a"); err != nil {
		t.Fatal(err)
	}
	_, ok, err = db.Get("a")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected miss after delete")
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := db.Set("", []byte("x")); err != ErrEmptyKey {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
	if _, _, err := db.Get(""); err != ErrEmptyKey {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestFlushMakesDataSurviveBeyondMemtable(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	for i := 0; i < 50; i++ {
		if err := db.Set(keyN(i), []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.Flush(); err != nil {
		t.Fatal(err)
	}
	if !db.active.IsEmpty() {
		t.Fatal("expected active memtable empty after flush")
	}
	for i := 0; i < 50; i++ {
		if _, ok, err := db.Get(keyN(i)); err != nil || !ok {
			t.Fatalf("expected key %d to survive flush, ok=%v err=%v", i, ok, err)
		}
	}
}

func TestOperationsAfterCloseFail(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Set("a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	if err := db.Set("b", []byte("2")); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, _, err := db.Get("a"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRecoveryReplaysUnflushedWAL(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Set("a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := db.Set("b", []byte("2")); err != nil {
		t.Fatal(err)
	}
	// Simulate an unclean shutdown: close the active WAL's file handle
	// without flushing or deleting it, so its data is only durable via
	// the WAL on disk.
	if err := db.active.CloseWAL(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}} {
		v, ok, err := reopened.Get(kv[0])
		if err != nil {
			t.Fatal(err)
		}
		if !ok || string(v) != kv[1] {
			t.Fatalf("expected recovered %s=%s, got %q ok=%v", kv[0], kv[1], v, ok)
		}
	}
}

func TestCompactRunsWithoutError(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, WithL0CompactionTrigger(2))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	for batch := 0; batch < 3; batch++ {
		for i := 0; i < 10; i++ {
			if err := db.Set(keyN(batch*10+i), []byte("v")); err != nil {
				t.Fatal(err)
			}
		}
		if err := db.Flush(); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.Compact(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 30; i++ {
		if _, ok, err := db.Get(keyN(i)); err != nil || !ok {
			t.Fatalf("expected key %d to survive compaction, ok=%v err=%v", i, ok, err)
		}
	}
}

func TestFilesystemLayout(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := db.Set("a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := db.Flush(); err != nil {
		t.Fatal(err)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "levels", "L0_*.sst"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) == 0 {
		t.Fatal("expected at least one L0 sstable under <dir>/levels")
	}
}

func keyN(i int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"
	if i < 26 {
		return string(alphabet[i])
	}
	return string(alphabet[i/26]) + string(alphabet[i%26])
}
