// Package lsmgo is an embedded, disk-backed, ordered key-value store
// built as a log-structured merge tree: a write-ahead log feeding a
// concurrent in-memory index, flushed to immutable SSTables and kept
// compact by a leveled compaction scheduler.
package lsmgo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lsmgo/lsmgo/cache"
	"github.com/lsmgo/lsmgo/entry"
	"github.com/lsmgo/lsmgo/internal/metrics"
	"github.com/lsmgo/lsmgo/level"
	"github.com/lsmgo/lsmgo/memtable"
	"github.com/lsmgo/lsmgo/sstable"
	"github.com/lsmgo/lsmgo/wal"
)

// DB is the engine handle returned by Open.
type DB struct {
	mu     sync.Mutex
	closed bool

	dir  string
	opts Options
	log  *logrus.Entry

	active   *memtable.Memtable
	flushing *memtable.Memtable

	levels  *level.Manager
	cache   *cache.Cache
	metrics *metrics.Metrics

	flushSem *semaphore.Weighted
	bg       *errgroup.Group
}

// Open constructs or reopens the store rooted at dir, running crash
// recovery: every orphaned *.wal is replayed and flushed to an L0
// SSTable, and every *.sst under <dir>/levels is registered with the
// level manager.
func Open(dir string, options ...Option) (*DB, error) {
	opts := DefaultOptions()
	for _, o := range options {
		o(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	log := logrus.NewEntry(opts.Logger).WithField("component", "lsmgo")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "lsmgo: create %s", dir)
	}
	levelsDir := filepath.Join(dir, "levels")
	if err := os.MkdirAll(levelsDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "lsmgo: create %s", levelsDir)
	}

	m := metrics.New(opts.MetricsRegisterer)
	bc := cache.New(opts.BlockCacheBytes, m)

	lm := level.New(level.Options{
		Dir:           dir,
		MaxLevels:     opts.MaxLevels,
		L0Trigger:     opts.L0CompactionTrigger,
		LevelRatio:    opts.LevelRatio,
		DataBlockSize: opts.DataBlockSize,
		BloomFPR:      opts.BloomFPR,
		Codec:         opts.Compression,
		BlockCache:    bc,
		Log:           log,
		Metrics:       m,
	})

	db := &DB{
		dir:      dir,
		opts:     opts,
		log:      log,
		levels:   lm,
		cache:    bc,
		metrics:  m,
		flushSem: semaphore.NewWeighted(1),
		bg:       &errgroup.Group{},
	}

	// SSTables already on disk are registered first, so tables flushed
	// from recovered WALs are registered once and land newest in L0.
	if err := db.recoverSSTables(levelsDir); err != nil {
		return nil, err
	}
	if err := db.recoverWALs(); err != nil {
		return nil, err
	}

	if err := db.installFreshActiveMemtable(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *DB) recoverWALs() error {
	entries, err := os.ReadDir(db.dir)
	if err != nil {
		return errors.Wrapf(err, "lsmgo: list %s", db.dir)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "wal_") || !strings.HasSuffix(e.Name(), ".wal") {
			continue
		}
		path := filepath.Join(db.dir, e.Name())
		walID := strings.TrimSuffix(strings.TrimPrefix(e.Name(), "wal_"), ".wal")

		recovered, err := memtable.Recover(path, walID, db.log, db.opts.SyncOnWrite)
		if err != nil {
			db.log.WithError(err).WithField("path", path).Warn("skipping unreadable wal during recovery")
			continue
		}
		if !recovered.IsEmpty() {
			if err := db.flushMemtable(recovered); err != nil {
				return errors.Wrapf(err, "lsmgo: recover %s", path)
			}
		}
		if err := recovered.DeleteWAL(); err != nil {
			return errors.Wrapf(err, "lsmgo: delete recovered wal %s", path)
		}
	}
	return nil
}

func (db *DB) recoverSSTables(levelsDir string) error {
	entries, err := os.ReadDir(levelsDir)
	if err != nil {
		return errors.Wrapf(err, "lsmgo: list %s", levelsDir)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sst") {
			continue
		}
		path := filepath.Join(levelsDir, e.Name())
		tbl, err := sstable.Open(path, db.opts.Compression, db.cache)
		if err != nil {
			db.log.WithError(err).WithField("path", path).Warn("skipping corrupt sstable during recovery")
			continue
		}
		db.levels.AddTable(tbl)
	}
	return nil
}

func (db *DB) installFreshActiveMemtable() error {
	walID := uuid.New().String()
	path := filepath.Join(db.dir, fmt.Sprintf("wal_%s.wal", walID))
	w, err := wal.Open(path, db.log, db.opts.SyncOnWrite)
	if err != nil {
		return err
	}
	mt := memtable.New(w, walID, db.log)

	db.mu.Lock()
	db.active = mt
	db.mu.Unlock()
	return nil
}

// Set writes key=value with a fresh ingress timestamp, replacing any
// prior value. An empty key is rejected (ErrEmptyKey).
func (db *DB) Set(key string, value []byte) error {
	return db.write(key, value, false)
}

// Delete writes a tombstone for key, hiding any earlier value at read
// time without requiring immediate removal from disk.
func (db *DB) Delete(key string) error {
	return db.write(key, nil, true)
}

func (db *DB) write(key string, value []byte, tombstone bool) error {
	if key == "" {
		return ErrEmptyKey
	}

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrClosed
	}
	active := db.active
	db.mu.Unlock()

	e := entry.Entry{Key: key, Value: value, Tombstone: tombstone, Timestamp: time.Now().UnixMilli()}
	if err := active.Set(e); err != nil {
		return err
	}

	if active.AccountedBytes() >= int64(db.opts.MemtableThresholdBytes) {
		db.bg.Go(func() error {
			if err := db.Flush(); err != nil && err != ErrClosed {
				db.log.WithError(err).Warn("background flush failed")
			}
			return nil
		})
	}
	return nil
}

// Get returns the current value for key: active memtable, then the
// in-flight flushing memtable if any, then the level manager. A
// tombstone at any layer is reported as not-found, indistinguishable
// from a key that was never written.
func (db *DB) Get(key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil, false, ErrClosed
	}
	active, flushing := db.active, db.flushing
	db.mu.Unlock()

	if e, ok := active.Get(key); ok {
		return asResult(e)
	}
	if flushing != nil {
		if e, ok := flushing.Get(key); ok {
			return asResult(e)
		}
	}
	e, ok, err := db.levels.Get(key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return asResult(e)
}

func asResult(e entry.Entry) ([]byte, bool, error) {
	if e.Tombstone {
		return nil, false, nil
	}
	return e.Value, true, nil
}

// Flush is serialized via a semaphore so concurrent callers run
// sequentially: the active memtable (if non-empty) is marked
// read-only, swapped into the flushing slot behind a fresh active
// memtable, drained to a new L0 SSTable, registered with the level
// manager, and its WAL deleted only once the SSTable is durable.
func (db *DB) Flush() error {
	db.mu.Lock()
	closed := db.closed
	db.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return db.doFlush()
}

// doFlush is Flush's body without the closed check, so Close can run a
// final flush after marking the DB closed.
func (db *DB) doFlush() error {
	if err := db.flushSem.Acquire(context.Background(), 1); err != nil {
		return errors.Wrap(err, "lsmgo: acquire flush semaphore")
	}
	defer db.flushSem.Release(1)

	// A memtable still in the flushing slot is left over from an earlier
	// failed flush: retry it before swapping out the active memtable.
	db.mu.Lock()
	pending := db.flushing
	db.mu.Unlock()
	if pending != nil {
		if err := db.flushMemtable(pending); err != nil {
			return err
		}
		if err := pending.DeleteWAL(); err != nil {
			return errors.Wrap(err, "lsmgo: delete flushed wal")
		}
		db.mu.Lock()
		db.flushing = nil
		db.mu.Unlock()
	}

	db.mu.Lock()
	if db.active.IsEmpty() {
		db.mu.Unlock()
		return nil
	}
	toFlush := db.active
	toFlush.MakeReadOnly()
	db.flushing = toFlush
	db.mu.Unlock()

	if err := db.installFreshActiveMemtable(); err != nil {
		return err
	}

	if err := db.flushMemtable(toFlush); err != nil {
		return err
	}
	if err := toFlush.DeleteWAL(); err != nil {
		return errors.Wrap(err, "lsmgo: delete flushed wal")
	}

	db.mu.Lock()
	db.flushing = nil
	db.mu.Unlock()

	db.metrics.Flush()
	return nil
}

// flushMemtable drains mt's ordered contents into a new L0 SSTable and
// registers it with the level manager. It does not touch mt's WAL;
// callers decide when the WAL may be safely deleted.
func (db *DB) flushMemtable(mt *memtable.Memtable) error {
	entries := mt.Scan()
	if len(entries) == 0 {
		return nil
	}

	dir := filepath.Join(db.dir, "levels")
	name := fmt.Sprintf("L0_%s.sst", uuid.New().String())
	path := filepath.Join(dir, name)

	if err := sstable.Build(path, entries, sstable.BuildOptions{
		DataBlockSize: db.opts.DataBlockSize,
		BloomFPR:      db.opts.BloomFPR,
		Codec:         db.opts.Compression,
		Level:         0,
		CreatedUnix:   time.Now().Unix(),
	}); err != nil {
		return errors.Wrapf(err, "lsmgo: build %s", path)
	}

	tbl, err := sstable.Open(path, db.opts.Compression, db.cache)
	if err != nil {
		return errors.Wrapf(err, "lsmgo: open %s", path)
	}
	db.levels.AddTable(tbl)
	db.log.WithField("path", path).WithField("entries", len(entries)).Debug("flushed memtable to L0")
	return nil
}

// Compact triggers leveled compaction starting at L0; it may cascade
// through as many levels as their target sizes require.
func (db *DB) Compact() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrClosed
	}
	db.mu.Unlock()
	return db.levels.Compact()
}

// Close runs a final best-effort flush, then releases every in-memory
// resource. Close is idempotent.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	_ = db.bg.Wait() // background flushes always return nil; errors are logged, not joined

	if err := db.doFlush(); err != nil {
		db.log.WithError(err).Warn("final flush on close failed")
	}

	if err := db.active.CloseWAL(); err != nil {
		db.log.WithError(err).Warn("closing active wal failed")
	}
	return db.levels.Close()
}
