// Package bloom implements the Bloom filter used to skip SSTables that
// cannot possibly contain a queried key. Sizing and hashing follow the
// formulas fixed by the engine's on-disk format: a seeded FNV-1a hash
// family feeding k independent probe indices into an m-bit array.
package bloom

import (
	"encoding/binary"
	"math"
)

// offsetBasis and fnvPrime are the standard FNV-1a 32-bit constants; each
// of the k hash functions XORs offsetBasis with its own seed so that the
// k probes are independent without needing k distinct hash algorithms.
const (
	offsetBasis uint32 = 2166136261
	fnvPrime    uint32 = 16777619
)

// Filter is a fixed-size Bloom filter over an m-bit array with k hash
// functions, sized for a target false-positive rate p at construction.
type Filter struct {
	m    uint32 // number of bits
	k    uint32 // number of hash functions
	p    float64
	bits []byte
}

// NewForEstimate sizes a filter for n expected insertions at target false
// positive rate p, per:
//
//	m = ceil(-n * ln(p) / (ln 2)^2)
//	k = max(1, round(m * ln 2 / n))
func NewForEstimate(n int, p float64) *Filter {
	if n < 1 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	nf := float64(n)
	m := uint32(math.Ceil(-nf * math.Log(p) / (math.Ln2 * math.Ln2)))
	if m < 8 {
		m = 8
	}
	k := uint32(math.Round(float64(m) * math.Ln2 / nf))
	if k < 1 {
		k = 1
	}
	byteLen := (m + 7) / 8
	return &Filter{
		m:    byteLen * 8,
		k:    k,
		p:    p,
		bits: make([]byte, byteLen),
	}
}

// M returns the bit-array size.
func (f *Filter) M() uint32 { return f.m }

// K returns the number of hash functions.
func (f *Filter) K() uint32 { return f.k }

// Add inserts key into the filter.
func (f *Filter) Add(key []byte) {
	for i := uint32(0); i < f.k; i++ {
		idx := seededHash(key, i) % f.m
		f.setBit(idx)
	}
}

// Contains reports whether key may be present. It never returns false for
// a key that was Added; it may return true for a key that was never
// added, with probability approximately f.p.
func (f *Filter) Contains(key []byte) bool {
	for i := uint32(0); i < f.k; i++ {
		idx := seededHash(key, i) % f.m
		if !f.getBit(idx) {
			return false
		}
	}
	return true
}

func (f *Filter) setBit(bit uint32) {
	f.bits[bit/8] |= 1 << (bit % 8)
}

func (f *Filter) getBit(bit uint32) bool {
	return f.bits[bit/8]&(1<<(bit%8)) != 0
}

// seededHash computes the seed-th member of the FNV-1a hash family: the
// offset basis is XORed with seed before the usual FNV-1a fold.
func seededHash(key []byte, seed uint32) uint32 {
	h := offsetBasis ^ seed
	for _, c := range key {
		h ^= uint32(c)
		h *= fnvPrime
	}
	return h
}

// Encode serializes {m, k, p, byte_length, bits} for embedding in an
// SSTable's meta section.
func (f *Filter) Encode() []byte {
	byteLen := uint32(len(f.bits))
	buf := make([]byte, 4+4+8+4+byteLen)
	binary.LittleEndian.PutUint32(buf[0:4], f.m)
	binary.LittleEndian.PutUint32(buf[4:8], f.k)
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(f.p))
	binary.LittleEndian.PutUint32(buf[16:20], byteLen)
	copy(buf[20:], f.bits)
	return buf
}

// Decode reconstructs a Filter from Encode's output. Decoding fails if
// the embedded byte_length does not match the encoded bit array, which
// would indicate the m/k fields and bit array have gone out of sync.
func Decode(b []byte) (*Filter, bool) {
	if len(b) < 20 {
		return nil, false
	}
	m := binary.LittleEndian.Uint32(b[0:4])
	k := binary.LittleEndian.Uint32(b[4:8])
	p := math.Float64frombits(binary.LittleEndian.Uint64(b[8:16]))
	byteLen := binary.LittleEndian.Uint32(b[16:20])
	rest := b[20:]
	if uint32(len(rest)) != byteLen {
		return nil, false
	}
	if byteLen*8 != m || m == 0 || k == 0 {
		return nil, false
	}
	bits := make([]byte, byteLen)
	copy(bits, rest)
	return &Filter{m: m, k: k, p: p, bits: bits}, true
}
