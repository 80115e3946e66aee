package access

import "encoding/binary"

// RusagePrefix is the fixed header every profile payload carries ahead
// of its strategy-specific body: a portable stand-in for a native
// rusage struct, pinning only the one field the manager actually reads.
type RusagePrefix struct {
	CPUTimeUS uint64
}

// Encode serializes the prefix as little-endian bytes.
func (r RusagePrefix) Encode() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, r.CPUTimeUS)
	return buf
}

// u32w appends a little-endian uint32 to buf.
func u32w(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// u64w appends a little-endian uint64 to buf.
func u64w(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
