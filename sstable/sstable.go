// Package sstable implements the on-disk SSTable format: data blocks,
// meta block, index block, and fixed footer, plus the reader logic
// that serves bounded-I/O point lookups via the index and Bloom
// filter.
package sstable

import (
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/lsmgo/lsmgo/bloom"
	"github.com/lsmgo/lsmgo/codec"
	"github.com/lsmgo/lsmgo/entry"
)

// ErrCorrupt marks a structurally invalid SSTable file or block.
var ErrCorrupt = errors.New("sstable: corrupt")

// ErrEmptyInput is returned by Build when given no entries: an SSTable
// always carries at least one entry.
var ErrEmptyInput = errors.New("sstable: refusing to build from empty input")

// BuildOptions configures how a new SSTable file is produced.
type BuildOptions struct {
	DataBlockSize int // target pre-compression block size in bytes
	BloomFPR      float64
	Codec         codec.Kind
	Level         int
	CreatedUnix   int64
}

// BlockCache abstracts the optional decoded-block cache; a nil
// BlockCache disables caching.
type BlockCache interface {
	Get(path string, offset uint64) ([]entry.Entry, bool)
	Put(path string, offset uint64, entries []entry.Entry)
	Invalidate(path string)
}

// Table is the in-memory descriptor for an open SSTable file: its Bloom
// filter, index block, and meta block, plus a handle for random-access
// block reads. A table stays open for as long as any search holds a
// reference to it, even after the level manager has retired it from
// every level's membership list.
type Table struct {
	path  string
	mu    sync.Mutex
	f     *os.File
	codec codec.Codec

	meta       entry.MetaBlock
	bloom      *bloom.Filter
	dataHandle entry.BlockHandle
	index      []entry.IndexEntry

	cache BlockCache

	onBloomFalsePositive func()

	refs           int
	pendingRemoval bool
	removed        bool
}

// SetBloomFalsePositiveHook registers fn to run whenever MaybeContains
// says a key might be present but no block search confirms it — a
// Bloom filter false positive. Optional; a nil hook (the default) is a
// no-op.
func (t *Table) SetBloomFalsePositiveHook(fn func()) {
	t.onBloomFalsePositive = fn
}

// Build writes a new SSTable at path from entries (need not be
// pre-sorted; Build performs one stable sort by key ascending). Refuses
// to build from an empty entry set.
func Build(path string, entries []entry.Entry, opts BuildOptions) (err error) {
	if len(entries) == 0 {
		return ErrEmptyInput
	}
	if opts.DataBlockSize <= 0 {
		opts.DataBlockSize = 4096
	}
	if opts.BloomFPR <= 0 {
		opts.BloomFPR = 0.01
	}
	c, cerr := codec.ByKind(opts.Codec)
	if cerr != nil {
		return cerr
	}

	sorted := make([]entry.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return entry.Less(sorted[i], sorted[j])
	})

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "sstable: create %s", path)
	}
	defer func() {
		cerr := f.Close()
		if err == nil {
			err = cerr
		}
	}()

	bf := bloom.NewForEstimate(len(sorted), opts.BloomFPR)
	var (
		offset uint64
		index  []entry.IndexEntry
	)

	flushBlock := func(block []entry.Entry) error {
		if len(block) == 0 {
			return nil
		}
		raw := encodeBlock(block)
		compressed, cerr := c.Compress(raw)
		if cerr != nil {
			return errors.Wrapf(cerr, "sstable: compress block in %s", path)
		}
		n, werr := f.WriteAt(compressed, int64(offset))
		if werr != nil {
			return errors.Wrapf(werr, "sstable: write block in %s", path)
		}
		index = append(index, entry.IndexEntry{
			StartKey: block[0].Key,
			EndKey:   block[len(block)-1].Key,
			Handle:   entry.BlockHandle{Offset: offset, Length: uint64(n)},
		})
		offset += uint64(n)
		for _, e := range block {
			bf.Add([]byte(e.Key))
		}
		return nil
	}

	dataStart := offset
	var currentBlock []entry.Entry
	currentSize := 0
	prevKey := ""
	for _, e := range sorted {
		// Estimate-before: the split decision uses the pre-compression
		// encoded size estimate, never the actual compressed size.
		estimate := estimatedEntrySize(prevKey, e)
		if len(currentBlock) > 0 && currentSize+estimate > opts.DataBlockSize {
			if err := flushBlock(currentBlock); err != nil {
				return err
			}
			currentBlock = nil
			currentSize = 0
			prevKey = ""
			estimate = estimatedEntrySize(prevKey, e)
		}
		currentBlock = append(currentBlock, e)
		currentSize += estimate
		prevKey = e.Key
	}
	if err := flushBlock(currentBlock); err != nil {
		return err
	}
	dataHandle := entry.BlockHandle{Offset: dataStart, Length: offset - dataStart}

	mb := entry.MetaBlock{
		CreatedUnix: opts.CreatedUnix,
		Level:       opts.Level,
		EntryCount:  len(sorted),
		MinKey:      sorted[0].Key,
		MaxKey:      sorted[len(sorted)-1].Key,
	}
	metaBytes := encodeMeta(mb, bf)
	metaHandle := entry.BlockHandle{Offset: offset, Length: uint64(len(metaBytes))}
	if _, err := f.WriteAt(metaBytes, int64(offset)); err != nil {
		return errors.Wrapf(err, "sstable: write meta block in %s", path)
	}
	offset += metaHandle.Length

	indexBytes := encodeIndex(dataHandle, index)
	indexHandle := entry.BlockHandle{Offset: offset, Length: uint64(len(indexBytes))}
	if _, err := f.WriteAt(indexBytes, int64(offset)); err != nil {
		return errors.Wrapf(err, "sstable: write index block in %s", path)
	}
	offset += indexHandle.Length

	footer := entry.Footer{MetaHandle: metaHandle, IndexHandle: indexHandle, Magic: entry.FooterMagic}
	if _, err := f.WriteAt(footer.Encode(), int64(offset)); err != nil {
		return errors.Wrapf(err, "sstable: write footer in %s", path)
	}
	return f.Sync()
}

// Open opens an existing SSTable, validating and loading its footer,
// meta block, and index block; the file remains open for random-access
// block reads. codecKind must match the codec the table was built with
// — codec identity is chosen by build configuration and is not
// self-describing in the file, so a mismatch here surfaces as
// corruption on the first block read rather than at Open. A file
// smaller than the footer, a bad footer magic, or an undecodable meta
// or index block surfaces as ErrCorrupt carrying the file path; an OS
// failure to open, stat, or read the file surfaces as that OS error
// wrapped with the path, not as ErrCorrupt.
func Open(path string, codecKind codec.Kind, cache BlockCache) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "sstable: open %s", path)
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "sstable: stat %s", path)
	}
	if st.Size() < entry.FooterSize {
		_ = f.Close()
		return nil, errors.Wrapf(ErrCorrupt, "%s: file smaller than footer", path)
	}

	footerBuf := make([]byte, entry.FooterSize)
	if _, err := f.ReadAt(footerBuf, st.Size()-entry.FooterSize); err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "sstable: read footer %s", path)
	}
	footer, ok := entry.DecodeFooter(footerBuf)
	if !ok || footer.Magic != entry.FooterMagic {
		_ = f.Close()
		return nil, errors.Wrapf(ErrCorrupt, "%s: bad footer magic", path)
	}

	metaBuf := make([]byte, footer.MetaHandle.Length)
	if _, err := f.ReadAt(metaBuf, int64(footer.MetaHandle.Offset)); err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "sstable: read meta block %s", path)
	}
	mb, bf, err := decodeMeta(metaBuf)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "sstable: decode meta block %s", path)
	}

	indexBuf := make([]byte, footer.IndexHandle.Length)
	if _, err := f.ReadAt(indexBuf, int64(footer.IndexHandle.Offset)); err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "sstable: read index block %s", path)
	}
	dataHandle, idx, err := decodeIndex(indexBuf)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "sstable: decode index block %s", path)
	}

	c, cerr := codec.ByKind(codecKind)
	if cerr != nil {
		_ = f.Close()
		return nil, cerr
	}

	return &Table{
		path:       path,
		f:          f,
		codec:      c,
		meta:       mb,
		bloom:      bf,
		dataHandle: dataHandle,
		index:      idx,
		cache:      cache,
	}, nil
}

// Path returns the backing file path.
func (t *Table) Path() string { return t.path }

// Level returns the level this table was built for (advisory; the level
// manager is the source of truth for current membership).
func (t *Table) Level() int { return t.meta.Level }

// MinKey returns the smallest key in the table.
func (t *Table) MinKey() string { return t.meta.MinKey }

// MaxKey returns the largest key in the table.
func (t *Table) MaxKey() string { return t.meta.MaxKey }

// EntryCount returns the number of entries written to the table.
func (t *Table) EntryCount() int { return t.meta.EntryCount }

// MaybeContains checks the Bloom filter membership test. A false result
// guarantees the key is absent; a true result means the key may be
// present.
func (t *Table) MaybeContains(key string) bool {
	if t.bloom == nil {
		return true
	}
	return t.bloom.Contains([]byte(key))
}

// InRange reports whether key falls within [MinKey, MaxKey].
func (t *Table) InRange(key string) bool {
	return key >= t.meta.MinKey && key <= t.meta.MaxKey
}

// Close releases the table's open file handle unconditionally,
// ignoring any outstanding references — used at database shutdown,
// where no further search will ever run.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.f.Close()
}

// Acquire records that a search is about to use the table and reports
// whether that is still safe: it fails once the table has been marked
// for removal, meaning its backing file may already be gone. Every
// successful Acquire must be paired with a Release.
func (t *Table) Acquire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pendingRemoval {
		return false
	}
	t.refs++
	return true
}

// Release drops a reference taken by Acquire. If the table has been
// marked for removal and this was the last outstanding reference, the
// file is closed and removed from disk now.
func (t *Table) Release() {
	t.mu.Lock()
	t.refs--
	finalize := t.pendingRemoval && t.refs == 0 && !t.removed
	if finalize {
		t.removed = true
	}
	t.mu.Unlock()
	if finalize {
		t.finalize()
	}
}

// MarkForRemoval flags the table as no longer a member of any level.
// Its file is closed and removed immediately if no search currently
// holds a reference, or deferred to the last matching Release
// otherwise.
func (t *Table) MarkForRemoval() error {
	t.mu.Lock()
	t.pendingRemoval = true
	finalize := t.refs == 0 && !t.removed
	if finalize {
		t.removed = true
	}
	t.mu.Unlock()
	if finalize {
		return t.finalize()
	}
	return nil
}

func (t *Table) finalize() error {
	cerr := t.f.Close()
	if rerr := os.Remove(t.path); rerr != nil && !os.IsNotExist(rerr) && cerr == nil {
		cerr = rerr
	}
	return cerr
}

// Get performs a bounded-I/O point lookup: range check, Bloom check,
// index binary search to the block containing key (or, for a key in
// the gap between two blocks, the following block), then an in-block
// binary search.
func (t *Table) Get(key string) (entry.Entry, bool, error) {
	if !t.InRange(key) {
		return entry.Entry{}, false, nil
	}
	if !t.MaybeContains(key) {
		return entry.Entry{}, false, nil
	}

	candidates := t.candidateBlocks(key)
	for _, h := range candidates {
		entries, err := t.loadBlock(h)
		if err != nil {
			return entry.Entry{}, false, err
		}
		if e, ok := searchBlock(entries, key); ok {
			return e, true, nil
		}
	}
	if t.onBloomFalsePositive != nil {
		t.onBloomFalsePositive()
	}
	return entry.Entry{}, false, nil
}

// candidateBlocks returns the block handle whose [StartKey, EndKey]
// contains key if one exists; otherwise the first block whose
// StartKey > key — the secondary probe needed for keys that fall in
// the gap between two blocks' ranges.
func (t *Table) candidateBlocks(key string) []entry.BlockHandle {
	lo, hi := 0, len(t.index)
	for lo < hi {
		mid := (lo + hi) / 2
		if t.index[mid].Contains(key) {
			return []entry.BlockHandle{t.index[mid].Handle}
		}
		if t.index[mid].StartKey > key {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo < len(t.index) {
		return []entry.BlockHandle{t.index[lo].Handle}
	}
	return nil
}

func searchBlock(entries []entry.Entry, key string) (entry.Entry, bool) {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if entries[mid].Key < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(entries) && entries[lo].Key == key {
		return entries[lo], true
	}
	return entry.Entry{}, false
}

func (t *Table) loadBlock(h entry.BlockHandle) ([]entry.Entry, error) {
	if t.cache != nil {
		if entries, ok := t.cache.Get(t.path, h.Offset); ok {
			return entries, nil
		}
	}

	t.mu.Lock()
	raw := make([]byte, h.Length)
	_, err := t.f.ReadAt(raw, int64(h.Offset))
	t.mu.Unlock()
	if err != nil {
		return nil, errors.Wrapf(err, "sstable: read block %s@%d", t.path, h.Offset)
	}

	decompressed, err := t.codec.Decompress(raw)
	if err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "%s: block decompression failed: %v", t.path, err)
	}
	entries, ok := decodeBlock(decompressed)
	if !ok {
		return nil, errors.Wrapf(ErrCorrupt, "%s: block decoding failed", t.path)
	}

	if t.cache != nil {
		t.cache.Put(t.path, h.Offset, entries)
	}
	return entries, nil
}

// Scan returns every entry in the table in ascending key order, decoding
// data blocks sequentially — used by compaction merges.
func (t *Table) Scan() ([]entry.Entry, error) {
	var out []entry.Entry
	for _, ie := range t.index {
		entries, err := t.loadBlock(ie.Handle)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}
