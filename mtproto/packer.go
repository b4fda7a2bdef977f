package mtproto

import (
	"bytes"
	"compress/gzip"
	"context"
	"sync"

	channels "gopkg.in/eapache/channels.v1"

	"github.com/nullx/mtcore/tl"
)

// Container limits from spec.md §4.3/§6: 1,048,576 bytes gross, packed
// until adding another message would exceed 1,013,760 bytes of payload or
// 1,020 messages, whichever comes first.
const (
	containerGrossLimit = 1 << 20
	maxContainerPayload = 1013760
	maxContainerMsgs    = 1020
	gzipMinOriginal     = 512
)

// Packer is MessagePacker (spec.md §4.3): an unbounded queue of
// not-yet-sent RequestStates, drained greedily into one encrypted
// container's worth of payload. The queue itself is an
// gopkg.in/eapache/channels.v1 InfiniteChannel (the xendarboh-katzenpost
// example's dependency), which replaces the teacher's hand-rolled
// external/internal two-channel throttle (mtproto.go's extSendQueue /
// sendQueue / queueTransferRoutine) with a single unbounded FIFO — Send()
// never blocks the caller, exactly like the teacher's design, just
// without the manual pump goroutine.
type Packer struct {
	state *State

	queue *channels.InfiniteChannel

	mu       sync.Mutex
	leftover []*RequestState // items pulled from queue but deferred to the next Get()
}

func NewPacker(state *State) *Packer {
	return &Packer{state: state, queue: channels.NewInfiniteChannel()}
}

// Enqueue appends req to the packer's queue; never blocks.
func (p *Packer) Enqueue(req *RequestState) {
	p.queue.In() <- req
}

func (p *Packer) Close() { p.queue.Close() }

// Get suspends until at least one RequestState is queued, then greedily
// drains up to the container limits, applies the invoke_after /
// container-wrap / gzip rules, and returns the batch plus the single
// payload to hand to State.EncryptMessageData.
func (p *Packer) Get(ctx context.Context) ([]*RequestState, []byte, error) {
	first, err := p.pop(ctx)
	if err != nil {
		return nil, nil, err
	}
	batch := []*RequestState{first}

	for {
		next, ok := p.tryPop()
		if !ok {
			break
		}
		batch = append(batch, next)
		if len(batch) >= maxContainerMsgs {
			break
		}
	}

	batch, encoded, err := p.encodeBatch(batch)
	if err != nil {
		return nil, nil, err
	}
	if len(batch) == 0 {
		// every item in the batch failed fast (oversize); try again.
		return p.Get(ctx)
	}

	payload := p.assignAndWrap(batch, encoded)
	return batch, payload, nil
}

func (p *Packer) pop(ctx context.Context) (*RequestState, error) {
	p.mu.Lock()
	if len(p.leftover) > 0 {
		item := p.leftover[0]
		p.leftover = p.leftover[1:]
		p.mu.Unlock()
		return item, nil
	}
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case v, ok := <-p.queue.Out():
		if !ok {
			return nil, context.Canceled
		}
		return v.(*RequestState), nil
	}
}

func (p *Packer) tryPop() (*RequestState, bool) {
	p.mu.Lock()
	if len(p.leftover) > 0 {
		item := p.leftover[0]
		p.leftover = p.leftover[1:]
		p.mu.Unlock()
		return item, true
	}
	p.mu.Unlock()

	select {
	case v, ok := <-p.queue.Out():
		if !ok {
			return nil, false
		}
		return v.(*RequestState), true
	default:
		return nil, false
	}
}

// pushBackLeftover returns an item to the front of the next Get() call,
// used when a drained item would overflow the current batch's size
// budget.
func (p *Packer) pushBackLeftover(item *RequestState) {
	p.mu.Lock()
	p.leftover = append([]*RequestState{item}, p.leftover...)
	p.mu.Unlock()
}

// encodeBatch serializes every item once (spec.md §4.3 rule 1), failing
// fast and completing (not packing) any single request whose serialized
// body alone cannot possibly fit any container, then trims the batch
// down to the container's gross payload budget, deferring overflow to the
// next Get().
func (p *Packer) encodeBatch(batch []*RequestState) ([]*RequestState, [][]byte, error) {
	kept := make([]*RequestState, 0, len(batch))
	encoded := make([][]byte, 0, len(batch))
	total := 0

	for _, item := range batch {
		body, err := item.Encode()
		if err != nil {
			item.Complete(nil, err)
			continue
		}
		if len(body) > maxContainerPayload {
			item.Complete(nil, ErrOversizeRequest.Here())
			continue
		}
		// wrapped size with invoke_after and per-message container
		// framing overhead (msg_id+seq_no+length = 16 bytes); accounted
		// conservatively here, exact math happens in assignAndWrap.
		overhead := 16
		if item.After != nil {
			overhead += 12
		}
		if total+len(body)+overhead > maxContainerPayload && len(kept) > 0 {
			p.pushBackLeftover(item)
			continue
		}
		total += len(body) + overhead
		kept = append(kept, item)
		encoded = append(encoded, body)
	}
	return kept, encoded, nil
}

// assignAndWrap resolves invoke_after ordering, assigns message ids/seq
// numbers in final wire order, wraps multi-item batches in a
// MessageContainer, and gzips the result when profitable (spec.md §4.3
// rules 2-4).
func (p *Packer) assignAndWrap(batch []*RequestState, encoded [][]byte) []byte {
	order := topoOrderByAfter(batch)

	type wireItem struct {
		state *RequestState
		msgID int64
		seqNo int32
		body  []byte
	}
	items := make([]wireItem, len(order))
	bodyByState := make(map[*RequestState][]byte, len(batch))
	for i, st := range batch {
		bodyByState[st] = encoded[i]
	}

	var containerID int64
	for i, st := range order {
		msgID := p.state.NextMessageID()
		seqNo := p.state.NextSeqNo(st.ContentRelated())
		st.MsgID = msgID

		body := bodyByState[st]
		if st.After != nil && st.After.MsgID != 0 {
			body = wrapInvokeAfter(st.After.MsgID, body)
		}
		items[i] = wireItem{state: st, msgID: msgID, seqNo: seqNo, body: body}
		if i == 0 {
			containerID = msgID
		}
	}

	var payload []byte
	if len(items) == 1 {
		payload = items[0].body
		items[0].state.ContainerID = items[0].msgID
	} else {
		b := tl.NewEncodeBuf(containerGrossLimit)
		b.UInt(crcMsgContainer)
		b.Int(int32(len(items)))
		for _, it := range items {
			b.Long(it.msgID)
			b.Int(it.seqNo)
			b.Int(int32(len(it.body)))
			b.Bytes_(it.body)
			it.state.ContainerID = containerID
		}
		payload = b.Bytes()
	}

	anyContentRelated := false
	for _, st := range batch {
		if st.ContentRelated() {
			anyContentRelated = true
			break
		}
	}
	if anyContentRelated {
		if gz, ok := tryGzip(payload); ok {
			gb := tl.NewEncodeBuf(len(gz) + 8)
			gb.UInt(crcGzipPacked)
			gb.StringBytes(gz)
			payload = gb.Bytes()
		}
	}
	return payload
}

func wrapInvokeAfter(afterMsgID int64, body []byte) []byte {
	b := tl.NewEncodeBuf(len(body) + 12)
	b.UInt(crcInvokeAfterMsg)
	b.Long(afterMsgID)
	b.Bytes_(body)
	return b.Bytes()
}

// tryGzip compresses payload and reports whether the result is strictly
// smaller and the input met the minimum size to bother (spec.md §4.3 rule
// 4 / §6 constants).
func tryGzip(payload []byte) ([]byte, bool) {
	if len(payload) < gzipMinOriginal {
		return nil, false
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}
	if buf.Len() >= len(payload) {
		return nil, false
	}
	return buf.Bytes(), true
}

// topoOrderByAfter returns batch reordered so every item appears after
// its After predecessor when the predecessor is in the same batch
// (spec.md §4.3 rule 3: "the packer guarantees the predecessor is ordered
// before it"), preserving original order otherwise (stable Kahn's
// algorithm).
func topoOrderByAfter(batch []*RequestState) []*RequestState {
	inBatch := make(map[*RequestState]bool, len(batch))
	for _, st := range batch {
		inBatch[st] = true
	}

	children := make(map[*RequestState][]*RequestState)
	indegree := make(map[*RequestState]int, len(batch))
	for _, st := range batch {
		indegree[st] = 0
	}
	for _, st := range batch {
		if st.After != nil && inBatch[st.After] {
			children[st.After] = append(children[st.After], st)
			indegree[st]++
		}
	}

	ready := make([]*RequestState, 0, len(batch))
	for _, st := range batch {
		if indegree[st] == 0 {
			ready = append(ready, st)
		}
	}

	out := make([]*RequestState, 0, len(batch))
	for len(ready) > 0 {
		st := ready[0]
		ready = ready[1:]
		out = append(out, st)
		for _, child := range children[st] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}
	if len(out) != len(batch) {
		// a dependency cycle is impossible by construction (After always
		// points to a causally earlier submission), but fall back to
		// submission order defensively rather than dropping messages.
		return batch
	}
	return out
}
