// Package wal implements the write-ahead log: an append-only,
// fsync-durable record log replayed on recovery and deleted once its
// memtable has been durably flushed to an SSTable.
package wal

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lsmgo/lsmgo/entry"
)

// ErrClosed is returned by any operation on a WAL after Delete.
var ErrClosed = errors.New("wal: closed")

// WAL is an append-only durable record log. A single mutex serializes
// writers; readers only occur during replay, before concurrent access
// begins.
type WAL struct {
	mu          sync.Mutex
	path        string
	f           *os.File
	w           *bufio.Writer
	closed      bool
	syncOnWrite bool
	log         *logrus.Entry
}

// Open creates or reopens the log at path in append mode with exclusive
// write access. Every Write flushes the user-space buffer to the OS;
// when syncOnWrite is true it also fsyncs before returning, otherwise
// durability is bounded by the OS writing back its page cache.
func Open(path string, log *logrus.Entry, syncOnWrite bool) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "wal: open %s", path)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WAL{
		path:        path,
		f:           f,
		w:           bufio.NewWriter(f),
		syncOnWrite: syncOnWrite,
		log:         log.WithField("component", "wal"),
	}, nil
}

// Path returns the file path backing this log.
func (w *WAL) Path() string { return w.path }

// Write appends entries under the WAL mutex, flushes the user-space
// buffer, and, when the log was opened with syncOnWrite, fsyncs before
// returning — the durability gate a caller must pass before the
// entries may be considered acknowledged.
func (w *WAL) Write(entries ...entry.Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	for _, e := range entries {
		if err := writeRecord(w.w, e); err != nil {
			return errors.Wrapf(err, "wal: write %s", w.path)
		}
	}
	if err := w.w.Flush(); err != nil {
		return errors.Wrapf(err, "wal: flush %s", w.path)
	}
	if w.syncOnWrite {
		if err := w.f.Sync(); err != nil {
			return errors.Wrapf(err, "wal: fsync %s", w.path)
		}
	}
	return nil
}

// record layout, little-endian:
//
//	u32 key_len | key_bytes | u32 value_len | value_bytes | u8 tombstone | i64 timestamp_ms
func writeRecord(w *bufio.Writer, e entry.Entry) error {
	var klen [4]byte
	binary.LittleEndian.PutUint32(klen[:], uint32(len(e.Key)))
	if _, err := w.Write(klen[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte(e.Key)); err != nil {
		return err
	}

	var vlen [4]byte
	binary.LittleEndian.PutUint32(vlen[:], uint32(len(e.Value)))
	if _, err := w.Write(vlen[:]); err != nil {
		return err
	}
	if _, err := w.Write(e.Value); err != nil {
		return err
	}

	tomb := byte(0)
	if e.Tombstone {
		tomb = 1
	}
	if err := w.WriteByte(tomb); err != nil {
		return err
	}

	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(e.Timestamp))
	if _, err := w.Write(ts[:]); err != nil {
		return err
	}
	return nil
}

// Read streams every record from the start of the log. On any
// record-level decoding error — a truncated length prefix or a short
// payload — it stops and returns the entries successfully read so far;
// a truncated tail is treated as expected post-crash state, not a fatal
// error.
func Read(path string) ([]entry.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "wal: open %s for read", path)
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 64*1024)
	var out []entry.Entry
	for {
		e, ok := readRecord(r)
		if !ok {
			return out, nil
		}
		out = append(out, e)
	}
}

func readRecord(r *bufio.Reader) (entry.Entry, bool) {
	var klen [4]byte
	if _, err := io.ReadFull(r, klen[:]); err != nil {
		return entry.Entry{}, false // clean EOF or truncated length prefix: stop, not fatal
	}
	kl := binary.LittleEndian.Uint32(klen[:])
	key := make([]byte, kl)
	if _, err := io.ReadFull(r, key); err != nil {
		return entry.Entry{}, false
	}

	var vlen [4]byte
	if _, err := io.ReadFull(r, vlen[:]); err != nil {
		return entry.Entry{}, false
	}
	vl := binary.LittleEndian.Uint32(vlen[:])
	val := make([]byte, vl)
	if _, err := io.ReadFull(r, val); err != nil {
		return entry.Entry{}, false
	}

	tomb, err := r.ReadByte()
	if err != nil {
		return entry.Entry{}, false
	}

	var ts [8]byte
	if _, err := io.ReadFull(r, ts[:]); err != nil {
		return entry.Entry{}, false
	}

	return entry.Entry{
		Key:       string(key),
		Value:     val,
		Tombstone: tomb == 1,
		Timestamp: int64(binary.LittleEndian.Uint64(ts[:])),
	}, true
}

// Delete closes and unlinks the log file. Subsequent operations on this
// WAL fail with ErrClosed.
func (w *WAL) Delete() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.w.Flush()
	if err := w.f.Close(); err != nil {
		return errors.Wrapf(err, "wal: close %s", w.path)
	}
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "wal: remove %s", w.path)
	}
	w.log.WithField("path", w.path).Debug("wal deleted")
	return nil
}

// Close flushes and closes the file without removing it — used when the
// process needs to stop appending without discarding the log (e.g. a
// best-effort Close on the façade where the WAL content is still valid).
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		return errors.Wrapf(err, "wal: flush on close %s", w.path)
	}
	if err := w.f.Close(); err != nil {
		return errors.Wrapf(err, "wal: close %s", w.path)
	}
	return nil
}
