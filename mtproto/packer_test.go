package mtproto

import (
	"context"
	"testing"
	"time"

	"github.com/nullx/mtcore/mtcrypto"
	"github.com/nullx/mtcore/tl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMethod struct {
	crc  uint32
	body []byte
}

func (f fakeMethod) CRC() uint32 { return f.crc }
func (f fakeMethod) Encode() ([]byte, error) {
	b := tl.NewEncodeBuf(4 + len(f.body))
	b.UInt(f.crc)
	b.Bytes_(f.body)
	return b.Bytes(), nil
}
func (fakeMethod) ReadResult(buf *tl.DecodeBuf) (any, error) { return nil, nil }

func newTestPacker(t *testing.T) (*Packer, *State) {
	t.Helper()
	key := NewAuthKey(mtcrypto.Default{})
	key.Set(make([]byte, 256))
	s := NewState(key, mtcrypto.Default{}, 1)
	return NewPacker(s), s
}

// scenario 1: ordered two-request batch.
func TestPacker_OrderedBatchWrapsInvokeAfter(t *testing.T) {
	p, _ := newTestPacker(t)

	a := NewRequestState(fakeMethod{crc: 0x1111})
	b := NewRequestState(fakeMethod{crc: 0x2222})
	b.After = a

	p.Enqueue(a)
	p.Enqueue(b)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	batch, payload, err := p.Get(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.NotZero(t, a.MsgID)
	assert.NotZero(t, b.MsgID)
	assert.Equal(t, a.ContainerID, b.ContainerID, "both messages share one container id")

	d := tl.NewDecodeBuf(payload)
	assert.Equal(t, crcMsgContainer, d.UInt())
	n := d.Int()
	require.EqualValues(t, 2, n)

	// first inner message: a, unwrapped.
	assert.Equal(t, a.MsgID, d.Long())
	_ = d.Int() // seq_no
	firstLen := d.Int()
	_ = d.Bytes(int(firstLen))

	// second inner message: b, wrapped in invokeAfterMsg pointing at a.
	assert.Equal(t, b.MsgID, d.Long())
	_ = d.Int() // seq_no
	_ = d.Int() // length
	assert.Equal(t, crcInvokeAfterMsg, d.UInt())
	assert.Equal(t, a.MsgID, d.Long())
	require.NoError(t, d.Err())
}

func TestPacker_SingleRequestIsNotContainerWrapped(t *testing.T) {
	p, _ := newTestPacker(t)
	a := NewRequestState(fakeMethod{crc: 0x1234})
	p.Enqueue(a)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	batch, payload, err := p.Get(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	d := tl.NewDecodeBuf(payload)
	assert.Equal(t, uint32(0x1234), d.UInt(), "a lone request's body is not container-wrapped")
	assert.Equal(t, a.MsgID, a.ContainerID)
}

func TestPacker_OversizeRequestFailsFast(t *testing.T) {
	p, _ := newTestPacker(t)
	big := NewRequestState(fakeMethod{crc: 1, body: make([]byte, maxContainerPayload+10)})
	p.Enqueue(big)

	// the oversize check runs when the packer drains its queue.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _, _, _ = p.Get(ctx) }()

	done := make(chan Result, 1)
	go func() { done <- big.Wait() }()

	select {
	case res := <-done:
		require.Error(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("oversize request was never completed")
	}
}

func TestPacker_GetBlocksUntilEnqueued(t *testing.T) {
	p, _ := newTestPacker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err := p.Get(ctx)
	require.Error(t, err)
}

func TestTopoOrderByAfter_PreservesSubmissionOrderWithoutDeps(t *testing.T) {
	a := NewRequestState(fakeMethod{crc: 1})
	b := NewRequestState(fakeMethod{crc: 2})
	c := NewRequestState(fakeMethod{crc: 3})

	order := topoOrderByAfter([]*RequestState{a, b, c})
	assert.Equal(t, []*RequestState{a, b, c}, order)
}

func TestTopoOrderByAfter_RespectsChain(t *testing.T) {
	a := NewRequestState(fakeMethod{crc: 1})
	b := NewRequestState(fakeMethod{crc: 2})
	b.After = a
	c := NewRequestState(fakeMethod{crc: 3})
	c.After = b

	// submitted out of dependency order
	order := topoOrderByAfter([]*RequestState{c, b, a})
	assert.Equal(t, []*RequestState{a, b, c}, order)
}
