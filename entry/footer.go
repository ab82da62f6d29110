package entry

import "encoding/binary"

// EncodeHandle writes a BlockHandle as two little-endian uint64s.
func EncodeHandle(h BlockHandle) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], h.Offset)
	binary.LittleEndian.PutUint64(buf[8:16], h.Length)
	return buf
}

// DecodeHandle reads a BlockHandle from a 16-byte little-endian buffer.
func DecodeHandle(b []byte) BlockHandle {
	return BlockHandle{
		Offset: binary.LittleEndian.Uint64(b[0:8]),
		Length: binary.LittleEndian.Uint64(b[8:16]),
	}
}

// Encode serializes the fixed 40-byte footer.
func (f Footer) Encode() []byte {
	buf := make([]byte, FooterSize)
	copy(buf[0:16], EncodeHandle(f.MetaHandle))
	copy(buf[16:32], EncodeHandle(f.IndexHandle))
	binary.LittleEndian.PutUint64(buf[32:40], f.Magic)
	return buf
}

// DecodeFooter parses a 40-byte footer buffer. The caller must validate
// the returned Magic against FooterMagic.
func DecodeFooter(b []byte) (Footer, bool) {
	if len(b) != FooterSize {
		return Footer{}, false
	}
	return Footer{
		MetaHandle:  DecodeHandle(b[0:16]),
		IndexHandle: DecodeHandle(b[16:32]),
		Magic:       binary.LittleEndian.Uint64(b[32:40]),
	}, true
}
