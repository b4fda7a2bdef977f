package mtproto

import "encoding/binary"

func appendInt64LE(dst []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(dst, b[:]...)
}

func appendUint32LE(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func putUint64LE(dst []byte, v uint64) { binary.LittleEndian.PutUint64(dst, v) }
func getUint64LE(src []byte) uint64    { return binary.LittleEndian.Uint64(src) }
func getInt64LE(src []byte) int64      { return int64(binary.LittleEndian.Uint64(src)) }
func getUint32LE(src []byte) uint32    { return binary.LittleEndian.Uint32(src) }
