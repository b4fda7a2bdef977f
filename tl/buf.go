// Package tl defines the boundary between the MTProto engines and the
// (externally generated) TL schema: wire-primitive encode/decode helpers,
// and the Object/Request/Registry interfaces a generated schema package
// must satisfy to plug into the sender. No business TL object is defined
// here; see github.com/nullx/mtcore/mtproto for the fixed set of MTProto
// system constructors the core decodes on its own.
package tl

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
)

// CRCVector is the constructor id every TL vector is framed with.
const CRCVector = 0x1cb5c415

// Object is anything a TL schema can produce from the wire: a deserialized
// business object carrying its own constructor id and, optionally, the
// CRC32 of the abstract supertype it belongs to (used to recognize the
// Updates supertype, 0x8af52aac).
type Object interface {
	CRC() uint32
}

// SubclassOf is implemented by Objects that belong to a known TL abstract
// class (e.g. any concrete Updates variant reports 0x8af52aac here).
type SubclassOf interface {
	SubclassOfID() uint32
}

// NotContentRelated marks a Request whose wire message must not advance
// MTProtoState's content-related sequence counter and is never itself
// acknowledged (pings, acks, and other housekeeping objects).
type NotContentRelated interface {
	NotContentRelated()
}

// Request is a caller-supplied TL method invocation: a deterministic byte
// serialization of the call, plus a reader that consumes the matching
// RpcResult body into a typed value.
type Request interface {
	Object
	Encode() ([]byte, error)
	ReadResult(buf *DecodeBuf) (any, error)
}

// Registry resolves a business object from its wire constructor id. A
// generated TL schema package implements this once and hands it to the
// sender; the core never needs to know what any business object *is*; it
// just asks the registry to produce one to complete a RequestState or to
// inspect SubclassOf() for forwarding to the updates queue.
type Registry interface {
	DecodeObject(buf *DecodeBuf) (Object, error)
}

// EncodeBuf accumulates a TL wire body. Grounded directly on the teacher's
// own encode/decode buffer pair (mtproto.go's NewEncodeBuf usage in
// SessFileStore.Save); kept here because both the core envelope (message
// container, rpc_result framing, gzip_packed) and the external schema need
// the same primitive encodings.
type EncodeBuf struct {
	buf []byte
}

func NewEncodeBuf(sizeHint int) *EncodeBuf {
	return &EncodeBuf{buf: make([]byte, 0, sizeHint)}
}

func (e *EncodeBuf) Bytes() []byte { return e.buf }

func (e *EncodeBuf) UInt(x uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], x)
	e.buf = append(e.buf, b[:]...)
}

func (e *EncodeBuf) Int(x int32) { e.UInt(uint32(x)) }

func (e *EncodeBuf) Long(x int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(x))
	e.buf = append(e.buf, b[:]...)
}

func (e *EncodeBuf) Double(x float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(x))
	e.buf = append(e.buf, b[:]...)
}

func (e *EncodeBuf) Bytes_(x []byte) { e.buf = append(e.buf, x...) }

// StringBytes writes a length-prefixed, 4-byte-padded byte string, per the
// TL "bytes"/"string" wire encoding (one-byte length, or 0xfe + 3-byte
// length for long strings, then padding to a 4-byte boundary).
func (e *EncodeBuf) StringBytes(x []byte) {
	size := len(x)
	if size < 254 {
		e.buf = append(e.buf, byte(size))
		e.buf = append(e.buf, x...)
		pad := (4 - ((size + 1) % 4)) & 3
		e.buf = append(e.buf, make([]byte, pad)...)
		return
	}
	e.buf = append(e.buf, 254, byte(size), byte(size>>8), byte(size>>16))
	e.buf = append(e.buf, x...)
	pad := (4 - size%4) & 3
	e.buf = append(e.buf, make([]byte, pad)...)
}

func (e *EncodeBuf) String(x string) { e.StringBytes([]byte(x)) }

func (e *EncodeBuf) BigInt(x *big.Int) {
	b := x.Bytes()
	if len(b) > 0 && b[0]&0x80 != 0 {
		b = append([]byte{0}, b...)
	}
	e.StringBytes(b)
}

func (e *EncodeBuf) VectorInt(xs []int32) {
	e.UInt(CRCVector)
	e.Int(int32(len(xs)))
	for _, x := range xs {
		e.Int(x)
	}
}

func (e *EncodeBuf) VectorLong(xs []int64) {
	e.UInt(CRCVector)
	e.Int(int32(len(xs)))
	for _, x := range xs {
		e.Long(x)
	}
}

// DecodeBuf is a cursor over a received TL body. Every accessor is
// sticky-error: once a decode fails, every subsequent accessor is a no-op
// returning the zero value, so callers can chain reads and check m.Err()
// once at the end (exactly the teacher's tl_decode.go pattern).
type DecodeBuf struct {
	buf  []byte
	off  int
	size int
	err  error
}

func NewDecodeBuf(b []byte) *DecodeBuf {
	return &DecodeBuf{buf: b, size: len(b)}
}

func (d *DecodeBuf) Err() error { return d.err }
func (d *DecodeBuf) Off() int   { return d.off }

// Rewind backs the cursor up by n bytes, for callers that need to peek a
// constructor id and then hand the whole object (constructor included) to
// another decoder.
func (d *DecodeBuf) Rewind(n int) {
	d.off -= n
	if d.off < 0 {
		d.off = 0
	}
}
func (d *DecodeBuf) Remaining() []byte {
	if d.off > d.size {
		return nil
	}
	return d.buf[d.off:d.size]
}

func (d *DecodeBuf) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *DecodeBuf) Long() int64 {
	if d.err != nil {
		return 0
	}
	if d.off+8 > d.size {
		d.fail(errors.New("tl: truncated long"))
		return 0
	}
	x := int64(binary.LittleEndian.Uint64(d.buf[d.off : d.off+8]))
	d.off += 8
	return x
}

func (d *DecodeBuf) Double() float64 {
	if d.err != nil {
		return 0
	}
	if d.off+8 > d.size {
		d.fail(errors.New("tl: truncated double"))
		return 0
	}
	x := math.Float64frombits(binary.LittleEndian.Uint64(d.buf[d.off : d.off+8]))
	d.off += 8
	return x
}

func (d *DecodeBuf) Int() int32 {
	return int32(d.UInt())
}

func (d *DecodeBuf) UInt() uint32 {
	if d.err != nil {
		return 0
	}
	if d.off+4 > d.size {
		d.fail(errors.New("tl: truncated int"))
		return 0
	}
	x := binary.LittleEndian.Uint32(d.buf[d.off : d.off+4])
	d.off += 4
	return x
}

func (d *DecodeBuf) Bytes(size int) []byte {
	if d.err != nil {
		return nil
	}
	if size < 0 || d.off+size > d.size {
		d.fail(errors.New("tl: truncated bytes"))
		return nil
	}
	x := make([]byte, size)
	copy(x, d.buf[d.off:d.off+size])
	d.off += size
	return x
}

func (d *DecodeBuf) StringBytes() []byte {
	if d.err != nil {
		return nil
	}
	if d.off+1 > d.size {
		d.fail(errors.New("tl: truncated string length"))
		return nil
	}
	size := int(d.buf[d.off])
	d.off++
	padding := (4 - ((size + 1) % 4)) & 3
	if size == 254 {
		if d.off+3 > d.size {
			d.fail(errors.New("tl: truncated long-string length"))
			return nil
		}
		size = int(d.buf[d.off]) | int(d.buf[d.off+1])<<8 | int(d.buf[d.off+2])<<16
		d.off += 3
		padding = (4 - size%4) & 3
	}
	if d.off+size > d.size {
		d.fail(fmt.Errorf("tl: string body overruns buffer (off=%d size=%d total=%d)", d.off, size, d.size))
		return nil
	}
	x := make([]byte, size)
	copy(x, d.buf[d.off:d.off+size])
	d.off += size
	if d.off+padding > d.size {
		d.fail(errors.New("tl: truncated string padding"))
		return nil
	}
	d.off += padding
	return x
}

func (d *DecodeBuf) String() string {
	b := d.StringBytes()
	if d.err != nil {
		return ""
	}
	return string(b)
}

func (d *DecodeBuf) BigInt() *big.Int {
	b := d.StringBytes()
	if d.err != nil {
		return nil
	}
	y := make([]byte, len(b)+1)
	copy(y[1:], b)
	return new(big.Int).SetBytes(y)
}

func (d *DecodeBuf) Bool() bool {
	// TL encodes Bool as one of two zero-argument constructors.
	switch d.UInt() {
	case 0x997275b5: // boolTrue
		return true
	case 0xbc799737: // boolFalse
		return false
	default:
		d.fail(errors.New("tl: not a bool constructor"))
		return false
	}
}

func (d *DecodeBuf) VectorInt() []int32 {
	if d.UInt() != CRCVector {
		d.fail(errors.New("tl: expected vector constructor"))
		return nil
	}
	n := d.Int()
	if d.err != nil || n < 0 {
		d.fail(errors.New("tl: bad vector size"))
		return nil
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = d.Int()
		if d.err != nil {
			return nil
		}
	}
	return out
}

func (d *DecodeBuf) VectorLong() []int64 {
	if d.UInt() != CRCVector {
		d.fail(errors.New("tl: expected vector constructor"))
		return nil
	}
	n := d.Int()
	if d.err != nil || n < 0 {
		d.fail(errors.New("tl: bad vector size"))
		return nil
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = d.Long()
		if d.err != nil {
			return nil
		}
	}
	return out
}
