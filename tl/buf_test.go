package tl

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_Scalars(t *testing.T) {
	e := NewEncodeBuf(64)
	e.UInt(0xdeadbeef)
	e.Int(-7)
	e.Long(1<<40 + 3)
	e.Double(3.5)

	d := NewDecodeBuf(e.Bytes())
	assert.EqualValues(t, 0xdeadbeef, d.UInt())
	assert.EqualValues(t, -7, d.Int())
	assert.EqualValues(t, 1<<40+3, d.Long())
	assert.InDelta(t, 3.5, d.Double(), 1e-9)
	require.NoError(t, d.Err())
}

func TestStringBytes_RoundTrip_ShortAndLong(t *testing.T) {
	short := []byte("hello")
	long := make([]byte, 1000)
	for i := range long {
		long[i] = byte(i)
	}

	e := NewEncodeBuf(1100)
	e.StringBytes(short)
	e.StringBytes(long)

	d := NewDecodeBuf(e.Bytes())
	assert.Equal(t, short, d.StringBytes())
	assert.Equal(t, long, d.StringBytes())
	require.NoError(t, d.Err())
}

func TestBigInt_RoundTrip(t *testing.T) {
	n := new(big.Int)
	n.SetString("123456789012345678901234567890", 10)

	e := NewEncodeBuf(64)
	e.BigInt(n)

	d := NewDecodeBuf(e.Bytes())
	got := d.BigInt()
	require.NoError(t, d.Err())
	assert.Equal(t, 0, n.Cmp(got))
}

func TestVectorLong_RoundTrip(t *testing.T) {
	xs := []int64{1, 2, 3, -4}
	e := NewEncodeBuf(64)
	e.VectorLong(xs)

	d := NewDecodeBuf(e.Bytes())
	assert.Equal(t, CRCVector, d.UInt())
	n := d.Int()
	require.EqualValues(t, len(xs), n)
	got := make([]int64, n)
	for i := range got {
		got[i] = d.Long()
	}
	require.NoError(t, d.Err())
	assert.Equal(t, xs, got)
}

func TestDecodeBuf_StickyError(t *testing.T) {
	d := NewDecodeBuf([]byte{1, 2, 3})
	_ = d.Long()
	require.Error(t, d.Err())

	assert.EqualValues(t, 0, d.Int())
	assert.EqualValues(t, 0, d.Long())
	assert.Nil(t, d.Bytes(1))
}

func TestBool_RoundTrip(t *testing.T) {
	e := NewEncodeBuf(8)
	e.UInt(0x997275b5)
	e.UInt(0xbc799737)

	d := NewDecodeBuf(e.Bytes())
	assert.True(t, d.Bool())
	assert.False(t, d.Bool())
	require.NoError(t, d.Err())
}
