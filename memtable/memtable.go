// Package memtable couples the write-ahead log with the concurrent
// ordered index: the in-memory write buffer of the engine.
package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lsmgo/lsmgo/entry"
	"github.com/lsmgo/lsmgo/skiplist"
	"github.com/lsmgo/lsmgo/wal"
)

// ErrReadOnly is returned by Set on a memtable that has transitioned to
// read-only.
var ErrReadOnly = errors.New("memtable: read-only")

// Memtable is WAL-backed ordered index. Writes go to the WAL first; only
// once durably appended are they applied to the index, so WAL append
// order equals the order entries become visible to readers.
type Memtable struct {
	index      *skiplist.SkipList
	wal        *wal.WAL
	readOnly   atomic.Bool
	mu         sync.Mutex // guards the read-only transition + set path
	walID      string
	log        *logrus.Entry
}

// New wraps a freshly opened WAL with a fresh ordered index.
func New(w *wal.WAL, walID string, log *logrus.Entry) *Memtable {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Memtable{
		index: skiplist.New(),
		wal:   w,
		walID: walID,
		log:   log.WithField("component", "memtable"),
	}
}

// WALID returns the identifier embedded in this memtable's WAL filename.
func (m *Memtable) WALID() string { return m.walID }

// WALPath returns the path of the backing WAL file.
func (m *Memtable) WALPath() string {
	if m.wal == nil {
		return ""
	}
	return m.wal.Path()
}

// Set durably appends e to the WAL, then applies it to the ordered
// index. Any WAL failure surfaces before the index is mutated, so a
// failed write never becomes visible to readers.
func (m *Memtable) Set(e entry.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.readOnly.Load() {
		return ErrReadOnly
	}
	if err := m.wal.Write(e); err != nil {
		return err
	}
	m.index.Upsert(e)
	return nil
}

// Get returns the entry for key, if present in this memtable.
func (m *Memtable) Get(key string) (entry.Entry, bool) {
	return m.index.Get(key)
}

// Scan returns every entry in ascending key order — used when draining
// a read-only memtable into an SSTable.
func (m *Memtable) Scan() []entry.Entry {
	return m.index.Scan()
}

// AccountedBytes returns the monotonic size estimator total.
func (m *Memtable) AccountedBytes() int64 {
	return m.index.AccountedBytes()
}

// Size returns the number of distinct keys held.
func (m *Memtable) Size() int {
	return m.index.Size()
}

// IsEmpty reports whether the memtable holds no entries.
func (m *Memtable) IsEmpty() bool {
	return m.index.IsEmpty()
}

// MakeReadOnly is idempotent and one-way: once called, Set always fails
// with ErrReadOnly.
func (m *Memtable) MakeReadOnly() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readOnly.Store(true)
}

// IsReadOnly reports whether MakeReadOnly has been called.
func (m *Memtable) IsReadOnly() bool {
	return m.readOnly.Load()
}

// Recover replays path's WAL contents into a fresh memtable's index —
// used during façade Open to reconstruct state after a crash.
func Recover(path, walID string, log *logrus.Entry, syncOnWrite bool) (*Memtable, error) {
	w, err := wal.Open(path, log, syncOnWrite)
	if err != nil {
		return nil, err
	}
	mt := New(w, walID, log)
	entries, err := wal.Read(path)
	if err != nil {
		return nil, errors.Wrapf(err, "memtable: recover %s", path)
	}
	for _, e := range entries {
		mt.index.Upsert(e)
	}
	return mt, nil
}

// DeleteWAL removes the backing WAL file. Called by the façade only
// after the memtable's contents have been durably published as an
// SSTable.
func (m *Memtable) DeleteWAL() error {
	if m.wal == nil {
		return nil
	}
	return m.wal.Delete()
}

// CloseWAL closes (without removing) the backing WAL file.
func (m *Memtable) CloseWAL() error {
	if m.wal == nil {
		return nil
	}
	return m.wal.Close()
}
