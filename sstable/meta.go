package sstable

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/lsmgo/lsmgo/bloom"
	"github.com/lsmgo/lsmgo/entry"
)

// encodeMeta serializes the MetaBlock fields followed by the table's
// Bloom filter bytes. The filter is logically a property of the open
// table handle, but the on-disk footer only reserves handles for the
// meta and index sections, so the filter rides inside the meta section
// as a length-prefixed trailer.
func encodeMeta(mb entry.MetaBlock, bf *bloom.Filter) []byte {
	minKey := []byte(mb.MinKey)
	maxKey := []byte(mb.MaxKey)
	bfBytes := bf.Encode()

	buf := make([]byte, 8+4+4+2+len(minKey)+2+len(maxKey)+4+len(bfBytes))
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], uint64(mb.CreatedUnix))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(mb.Level))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(mb.EntryCount))
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(minKey)))
	off += 2
	copy(buf[off:], minKey)
	off += len(minKey)
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(maxKey)))
	off += 2
	copy(buf[off:], maxKey)
	off += len(maxKey)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(bfBytes)))
	off += 4
	copy(buf[off:], bfBytes)
	return buf
}

func decodeMeta(buf []byte) (entry.MetaBlock, *bloom.Filter, error) {
	if len(buf) < 8+4+4+2 {
		return entry.MetaBlock{}, nil, errors.Wrap(ErrCorrupt, "meta: too short")
	}
	off := 0
	created := int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	level := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	count := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4

	minLen := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if off+minLen > len(buf) {
		return entry.MetaBlock{}, nil, errors.Wrap(ErrCorrupt, "meta: min key overruns buffer")
	}
	minKey := string(buf[off : off+minLen])
	off += minLen

	if off+2 > len(buf) {
		return entry.MetaBlock{}, nil, errors.Wrap(ErrCorrupt, "meta: truncated max key length")
	}
	maxLen := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if off+maxLen > len(buf) {
		return entry.MetaBlock{}, nil, errors.Wrap(ErrCorrupt, "meta: max key overruns buffer")
	}
	maxKey := string(buf[off : off+maxLen])
	off += maxLen

	if off+4 > len(buf) {
		return entry.MetaBlock{}, nil, errors.Wrap(ErrCorrupt, "meta: truncated bloom length")
	}
	bfLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if off+bfLen > len(buf) {
		return entry.MetaBlock{}, nil, errors.Wrap(ErrCorrupt, "meta: bloom section overruns buffer")
	}
	bf, ok := bloom.Decode(buf[off : off+bfLen])
	if !ok {
		return entry.MetaBlock{}, nil, errors.Wrap(ErrCorrupt, "meta: bad bloom filter encoding")
	}

	return entry.MetaBlock{
		CreatedUnix: created,
		Level:       level,
		EntryCount:  count,
		MinKey:      minKey,
		MaxKey:      maxKey,
	}, bf, nil
}

// encodeIndex serializes the index block:
//
//	u64 data_block_handle_offset | u64 data_block_handle_length | i32 entry_count
//	entry_count × { i32 start_len, bytes, i32 end_len, bytes, u64 off, u64 len }
func encodeIndex(dataHandle entry.BlockHandle, entries []entry.IndexEntry) []byte {
	size := 8 + 8 + 4
	for _, e := range entries {
		size += 4 + len(e.StartKey) + 4 + len(e.EndKey) + 8 + 8
	}
	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], dataHandle.Offset)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], dataHandle.Length)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(entries)))
	off += 4
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(e.StartKey)))
		off += 4
		copy(buf[off:], e.StartKey)
		off += len(e.StartKey)
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(e.EndKey)))
		off += 4
		copy(buf[off:], e.EndKey)
		off += len(e.EndKey)
		binary.LittleEndian.PutUint64(buf[off:], e.Handle.Offset)
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], e.Handle.Length)
		off += 8
	}
	return buf
}

func decodeIndex(buf []byte) (entry.BlockHandle, []entry.IndexEntry, error) {
	if len(buf) < 8+8+4 {
		return entry.BlockHandle{}, nil, errors.Wrap(ErrCorrupt, "index: too short")
	}
	off := 0
	dataHandle := entry.BlockHandle{
		Offset: binary.LittleEndian.Uint64(buf[off:]),
	}
	off += 8
	dataHandle.Length = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	count := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4

	entries := make([]entry.IndexEntry, 0, count)
	for i := 0; i < count; i++ {
		if off+4 > len(buf) {
			return entry.BlockHandle{}, nil, errors.Wrap(ErrCorrupt, "index: truncated start length")
		}
		startLen := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		if off+startLen > len(buf) {
			return entry.BlockHandle{}, nil, errors.Wrap(ErrCorrupt, "index: start key overruns buffer")
		}
		startKey := string(buf[off : off+startLen])
		off += startLen

		if off+4 > len(buf) {
			return entry.BlockHandle{}, nil, errors.Wrap(ErrCorrupt, "index: truncated end length")
		}
		endLen := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		if off+endLen > len(buf) {
			return entry.BlockHandle{}, nil, errors.Wrap(ErrCorrupt, "index: end key overruns buffer")
		}
		endKey := string(buf[off : off+endLen])
		off += endLen

		if off+16 > len(buf) {
			return entry.BlockHandle{}, nil, errors.Wrap(ErrCorrupt, "index: truncated block handle")
		}
		handle := entry.BlockHandle{
			Offset: binary.LittleEndian.Uint64(buf[off:]),
			Length: binary.LittleEndian.Uint64(buf[off+8:]),
		}
		off += 16

		entries = append(entries, entry.IndexEntry{StartKey: startKey, EndKey: endKey, Handle: handle})
	}
	return dataHandle, entries, nil
}
