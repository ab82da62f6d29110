// Package level implements the level manager: per-level table lists,
// newest-first search routing, and a leveled compaction scheduler
// built on the merge package's heap-based k-way merge, operating
// across an arbitrary number of levels.
package level

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lsmgo/lsmgo/codec"
	"github.com/lsmgo/lsmgo/entry"
	"github.com/lsmgo/lsmgo/internal/metrics"
	"github.com/lsmgo/lsmgo/merge"
	"github.com/lsmgo/lsmgo/sstable"
)

// Options configures the level manager's compaction policy and the
// table build parameters it uses when writing merge output.
type Options struct {
	Dir             string
	MaxLevels       int
	L0Trigger       int // |L0| at or above which L0->L1 compaction triggers
	LevelRatio      int // target table count multiplier between adjacent levels
	DataBlockSize   int
	BloomFPR        float64
	Codec           codec.Kind
	BlockCache      sstable.BlockCache
	Log             *logrus.Entry
	Metrics         *metrics.Metrics
}

const (
	defaultMaxLevels  = 7
	defaultL0Trigger  = 4
	defaultLevelRatio = 10
)

// Manager owns the table lists for every level and serializes list
// mutations behind a single coarse lock: compactions read files
// outside the lock, but membership changes are linearized under it.
type Manager struct {
	mu     sync.Mutex
	levels [][]*sstable.Table // levels[0] is L0 (overlapping, insertion order)

	opts Options
	log  *logrus.Entry
}

// New creates an empty Manager. Callers register recovered tables via
// AddTable before serving traffic.
func New(opts Options) *Manager {
	if opts.MaxLevels <= 0 {
		opts.MaxLevels = defaultMaxLevels
	}
	if opts.L0Trigger <= 0 {
		opts.L0Trigger = defaultL0Trigger
	}
	if opts.LevelRatio <= 0 {
		opts.LevelRatio = defaultLevelRatio
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		levels: make([][]*sstable.Table, opts.MaxLevels),
		opts:   opts,
		log:    opts.Log.WithField("component", "level"),
	}
}

// Close releases every table's open file handle without removing any
// file — used by the façade's shutdown path, which only disposes
// in-memory state.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lvl := range m.levels {
		for _, t := range lvl {
			_ = t.Close()
		}
	}
	return nil
}

// AddTable registers tbl at its build level, appended to the end of
// that level's list (newest last). Used both for freshly flushed L0
// tables and for tables discovered during recovery.
func (m *Manager) AddTable(tbl *sstable.Table) {
	tbl.SetBloomFalsePositiveHook(m.opts.Metrics.BloomFalsePositive)

	m.mu.Lock()
	defer m.mu.Unlock()
	lvl := tbl.Level()
	if lvl < 0 || lvl >= len(m.levels) {
		lvl = 0
	}
	m.levels[lvl] = append(m.levels[lvl], tbl)
	m.opts.Metrics.SetL0Tables(len(m.levels[0]))
}

// Snapshot returns a shallow copy of every level's table list, safe to
// range over without holding the manager's lock — the copy-on-read
// discipline used for searches.
func (m *Manager) Snapshot() [][]*sstable.Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]*sstable.Table, len(m.levels))
	for i, lvl := range m.levels {
		out[i] = append([]*sstable.Table(nil), lvl...)
	}
	return out
}

// Get searches L0 newest-first, then L1..Ln in list order (non-
// overlapping, so at most one table per level can match), rejecting
// candidates via Bloom filter and key range before opening a block.
func (m *Manager) Get(key string) (entry.Entry, bool, error) {
	snapshot := m.Snapshot()

	l0 := snapshot[0]
	for i := len(l0) - 1; i >= 0; i-- {
		e, ok, err := probe(l0[i], key)
		if err != nil {
			return entry.Entry{}, false, err
		}
		if ok {
			return e, true, nil
		}
	}

	for lvl := 1; lvl < len(snapshot); lvl++ {
		for _, tbl := range snapshot[lvl] {
			if !tbl.InRange(key) {
				continue
			}
			e, ok, err := probe(tbl, key)
			if err != nil {
				return entry.Entry{}, false, err
			}
			if ok {
				return e, true, nil
			}
			break // non-overlapping: no other table at this level can match
		}
	}
	return entry.Entry{}, false, nil
}

func probe(tbl *sstable.Table, key string) (entry.Entry, bool, error) {
	if !tbl.Acquire() {
		// Retired between Snapshot and this probe: its replacement table
		// is already a member of the current levels, just not of this
		// stale snapshot.
		return entry.Entry{}, false, nil
	}
	defer tbl.Release()

	if !tbl.MaybeContains(key) {
		return entry.Entry{}, false, nil
	}
	return tbl.Get(key)
}

// Compact runs one round of compaction starting at L0: if L0 is at or
// above its trigger, run L0->L1, then cascade Li->Li+1 for as long as
// a level exceeds its target table count.
func (m *Manager) Compact() error {
	m.mu.Lock()
	trigger := len(m.levels[0]) >= m.opts.L0Trigger
	m.mu.Unlock()

	if trigger {
		if err := m.compactL0(); err != nil {
			return err
		}
	}

	for lvl := 1; lvl < m.opts.MaxLevels-1; lvl++ {
		m.mu.Lock()
		exceeds := len(m.levels[lvl]) > m.targetSize(lvl)
		m.mu.Unlock()
		if !exceeds {
			break
		}
		if err := m.compactLevel(lvl); err != nil {
			return err
		}
	}
	return nil
}

// targetSize returns T0 * R^i for level i >= 1.
func (m *Manager) targetSize(level int) int {
	target := m.opts.L0Trigger
	for i := 0; i < level; i++ {
		target *= m.opts.LevelRatio
	}
	return target
}

// compactL0 merges every current L0 table with every overlapping L1
// table into a single new L1 file, then atomically swaps level
// membership before deleting the inputs.
func (m *Manager) compactL0() error {
	m.mu.Lock()
	inputs0 := append([]*sstable.Table(nil), m.levels[0]...)
	m.mu.Unlock()
	if len(inputs0) == 0 {
		return nil
	}

	minKey, maxKey := unionRange(inputs0)

	m.mu.Lock()
	var inputs1 []*sstable.Table
	for _, t := range m.levels[1] {
		if rangesOverlap(t.MinKey(), t.MaxKey(), minKey, maxKey) {
			inputs1 = append(inputs1, t)
		}
	}
	m.mu.Unlock()

	// Oldest stream first: all L1 first (already the older data for this
	// range), then L0 in creation order, so a duplicate key resolves to
	// the newest contributing L0 table.
	streams := make([]merge.Stream, 0, len(inputs1)+len(inputs0))
	for _, t := range inputs1 {
		entries, err := t.Scan()
		if err != nil {
			return errors.Wrapf(err, "level: scan L1 input %s", t.Path())
		}
		streams = append(streams, merge.NewSliceStream(entries))
	}
	for _, t := range inputs0 {
		entries, err := t.Scan()
		if err != nil {
			return errors.Wrapf(err, "level: scan L0 input %s", t.Path())
		}
		streams = append(streams, merge.NewSliceStream(entries))
	}

	dropTombstones := m.isBottommost(1)
	merged, err := merge.Merge(streams, merge.Options{DropTombstones: dropTombstones})
	if err != nil {
		return errors.Wrap(err, "level: merge L0+L1")
	}
	if len(merged) == 0 {
		return m.retireInputs(inputs0, inputs1, 0, 1)
	}

	out, err := m.buildTable(1, merged)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.levels[0] = removeAll(m.levels[0], inputs0)
	m.levels[1] = removeAll(m.levels[1], inputs1)
	m.levels[1] = append(m.levels[1], out)
	sortByMinKey(m.levels[1])
	m.mu.Unlock()

	m.opts.Metrics.Compaction(1)
	m.opts.Metrics.SetL0Tables(len(m.levels[0]))
	m.log.WithFields(logrus.Fields{"inputs_l0": len(inputs0), "inputs_l1": len(inputs1), "output": out.Path()}).Info("compacted L0->L1")
	return m.closeAndRemove(inputs0, inputs1)
}

// compactLevel merges the table at the front of level i's list into
// every overlapping table at level i+1. Lists at i >= 1 are re-sorted
// by MinKey whenever a compaction publishes into them, so the front is
// then the table with the lowest key range; a table's age is not
// considered.
func (m *Manager) compactLevel(i int) error {
	m.mu.Lock()
	if len(m.levels[i]) == 0 {
		m.mu.Unlock()
		return nil
	}
	t := m.levels[i][0]
	m.mu.Unlock()

	m.mu.Lock()
	var overlapping []*sstable.Table
	for _, o := range m.levels[i+1] {
		if rangesOverlap(o.MinKey(), o.MaxKey(), t.MinKey(), t.MaxKey()) {
			overlapping = append(overlapping, o)
		}
	}
	m.mu.Unlock()

	streams := make([]merge.Stream, 0, len(overlapping)+1)
	for _, o := range overlapping {
		entries, err := o.Scan()
		if err != nil {
			return errors.Wrapf(err, "level: scan L%d input %s", i+1, o.Path())
		}
		streams = append(streams, merge.NewSliceStream(entries))
	}
	entries, err := t.Scan()
	if err != nil {
		return errors.Wrapf(err, "level: scan L%d input %s", i, t.Path())
	}
	streams = append(streams, merge.NewSliceStream(entries))

	dropTombstones := m.isBottommost(i + 1)
	merged, err := merge.Merge(streams, merge.Options{DropTombstones: dropTombstones})
	if err != nil {
		return errors.Wrapf(err, "level: merge L%d->L%d", i, i+1)
	}

	if len(merged) == 0 {
		return m.retireInputs([]*sstable.Table{t}, overlapping, i, i+1)
	}

	out, err := m.buildTable(i+1, merged)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.levels[i] = removeAll(m.levels[i], []*sstable.Table{t})
	m.levels[i+1] = removeAll(m.levels[i+1], overlapping)
	m.levels[i+1] = append(m.levels[i+1], out)
	sortByMinKey(m.levels[i+1])
	m.mu.Unlock()

	m.opts.Metrics.Compaction(i + 1)
	m.log.WithFields(logrus.Fields{"level": i, "inputs": len(overlapping) + 1, "output": out.Path()}).Info("compacted level")
	return m.closeAndRemove([]*sstable.Table{t}, overlapping)
}

// retireInputs handles the degenerate case where a merge (e.g. all
// inputs tombstones, dropped at the bottommost level) produces no
// surviving entries: the inputs are simply removed and closed with no
// replacement table published.
func (m *Manager) retireInputs(a, b []*sstable.Table, levelA, levelB int) error {
	m.mu.Lock()
	m.levels[levelA] = removeAll(m.levels[levelA], a)
	m.levels[levelB] = removeAll(m.levels[levelB], b)
	m.mu.Unlock()
	return m.closeAndRemove(a, b)
}

// isBottommost reports whether level is the deepest level currently
// holding any tables — the only level at which tombstone dropping is
// safe, since no deeper level can still hold an older value to unhide.
func (m *Manager) isBottommost(level int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for l := level + 1; l < len(m.levels); l++ {
		if len(m.levels[l]) > 0 {
			return false
		}
	}
	return true
}

func (m *Manager) buildTable(targetLevel int, merged []entry.Entry) (*sstable.Table, error) {
	dir := filepath.Join(m.opts.Dir, "levels")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "level: create %s", dir)
	}
	name := fmt.Sprintf("L%d_%s.sst", targetLevel, uuid.New().String())
	path := filepath.Join(dir, name)

	if err := sstable.Build(path, merged, sstable.BuildOptions{
		DataBlockSize: m.opts.DataBlockSize,
		BloomFPR:      m.opts.BloomFPR,
		Codec:         m.opts.Codec,
		Level:         targetLevel,
	}); err != nil {
		return nil, errors.Wrapf(err, "level: build %s", path)
	}
	tbl, err := sstable.Open(path, m.opts.Codec, m.opts.BlockCache)
	if err != nil {
		return nil, err
	}
	tbl.SetBloomFalsePositiveHook(m.opts.Metrics.BloomFalsePositive)
	return tbl, nil
}

func unionRange(tables []*sstable.Table) (string, string) {
	minKey, maxKey := tables[0].MinKey(), tables[0].MaxKey()
	for _, t := range tables[1:] {
		if t.MinKey() < minKey {
			minKey = t.MinKey()
		}
		if t.MaxKey() > maxKey {
			maxKey = t.MaxKey()
		}
	}
	return minKey, maxKey
}

func rangesOverlap(aMin, aMax, bMin, bMax string) bool {
	return aMin <= bMax && bMin <= aMax
}

func removeAll(list []*sstable.Table, remove []*sstable.Table) []*sstable.Table {
	drop := make(map[*sstable.Table]bool, len(remove))
	for _, t := range remove {
		drop[t] = true
	}
	out := list[:0:0]
	for _, t := range list {
		if !drop[t] {
			out = append(out, t)
		}
	}
	return out
}

func sortByMinKey(list []*sstable.Table) {
	for i := 1; i < len(list); i++ {
		j := i
		for j > 0 && list[j-1].MinKey() > list[j].MinKey() {
			list[j-1], list[j] = list[j], list[j-1]
			j--
		}
	}
}

// closeAndRemove retires every input table: its cached blocks are
// dropped so a stale block can never resurface under a reused path,
// and the table is marked for removal, deferring the actual close and
// file deletion until the last concurrent search holding it releases.
func (m *Manager) closeAndRemove(groups ...[]*sstable.Table) error {
	for _, g := range groups {
		for _, t := range g {
			path := t.Path()
			if m.opts.BlockCache != nil {
				m.opts.BlockCache.Invalidate(path)
			}
			if err := t.MarkForRemoval(); err != nil {
				return errors.Wrapf(err, "level: remove obsolete table %s", path)
			}
		}
	}
	return nil
}
