package sstable

import (
	"encoding/binary"

	"github.com/lsmgo/lsmgo/entry"
)

// encodeBlock serializes entries (already sorted ascending within the
// block) using prefix compression against the previous key; the prefix
// resets at the start of every block. This is the pre-compression byte
// layout that the configured codec then compresses as one opaque blob:
//
//	u16 common_prefix_len | u16 suffix_len | suffix | u32 value_len | value | u8 tombstone | i64 timestamp
func encodeBlock(entries []entry.Entry) []byte {
	var buf []byte
	prev := ""
	for _, e := range entries {
		cp := commonPrefixLen(prev, e.Key)
		suffix := e.Key[cp:]

		rec := make([]byte, 2+2+len(suffix)+4+len(e.Value)+1+8)
		off := 0
		binary.LittleEndian.PutUint16(rec[off:], uint16(cp))
		off += 2
		binary.LittleEndian.PutUint16(rec[off:], uint16(len(suffix)))
		off += 2
		copy(rec[off:], suffix)
		off += len(suffix)
		binary.LittleEndian.PutUint32(rec[off:], uint32(len(e.Value)))
		off += 4
		copy(rec[off:], e.Value)
		off += len(e.Value)
		tomb := byte(0)
		if e.Tombstone {
			tomb = 1
		}
		rec[off] = tomb
		off++
		binary.LittleEndian.PutUint64(rec[off:], uint64(e.Timestamp))

		buf = append(buf, rec...)
		prev = e.Key
	}
	return buf
}

// decodeBlock parses a block previously produced by encodeBlock.
func decodeBlock(buf []byte) ([]entry.Entry, bool) {
	var out []entry.Entry
	prev := ""
	pos := 0
	for pos < len(buf) {
		if pos+4 > len(buf) {
			return nil, false
		}
		cp := int(binary.LittleEndian.Uint16(buf[pos:]))
		pos += 2
		suffixLen := int(binary.LittleEndian.Uint16(buf[pos:]))
		pos += 2
		if cp > len(prev) || pos+suffixLen > len(buf) {
			return nil, false
		}
		suffix := string(buf[pos : pos+suffixLen])
		pos += suffixLen
		key := prev[:cp] + suffix

		if pos+4 > len(buf) {
			return nil, false
		}
		valLen := int(binary.LittleEndian.Uint32(buf[pos:]))
		pos += 4
		if pos+valLen > len(buf) {
			return nil, false
		}
		value := make([]byte, valLen)
		copy(value, buf[pos:pos+valLen])
		pos += valLen

		if pos+1+8 > len(buf) {
			return nil, false
		}
		tombstone := buf[pos] == 1
		pos++
		timestamp := int64(binary.LittleEndian.Uint64(buf[pos:]))
		pos += 8

		out = append(out, entry.Entry{
			Key:       key,
			Value:     value,
			Tombstone: tombstone,
			Timestamp: timestamp,
		})
		prev = key
	}
	return out, true
}

// estimatedEntrySize computes the pre-compression encoded size of e
// given the previous key in the current block, without building the
// encoding — used to decide block boundaries before accumulation. The
// split decision is always made on this pre-compression estimate,
// never on the actual compressed size.
func estimatedEntrySize(prevKey string, e entry.Entry) int {
	cp := commonPrefixLen(prevKey, e.Key)
	suffixLen := len(e.Key) - cp
	return 2 + 2 + suffixLen + 4 + len(e.Value) + 1 + 8
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	// A key-length field is u16, so prefix and suffix lengths must each
	// fit in 16 bits.
	if n > 0xFFFF {
		n = 0xFFFF
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
