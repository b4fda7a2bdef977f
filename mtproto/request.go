package mtproto

import (
	"time"

	"github.com/google/uuid"
	"github.com/nullx/mtcore/tl"
)

// Result is what a RequestState's completion slot resolves to: either a
// typed response or an error (spec.md §3).
type Result struct {
	Value any
	Err   error
}

// RequestState is spec.md §3's RequestState: the request object, an
// optional predecessor (ordered-send semantics), the assigned message id
// and container id once packed, a one-shot completion channel, and a
// serialized-body cache so MessagePacker never re-serializes a request it
// has already encoded once (spec.md §4.3 rule 1).
type RequestState struct {
	Req   tl.Request
	After *RequestState

	MsgID       int64
	ContainerID int64

	serialized []byte

	done chan Result

	// TraceID is a purely observational correlation id (no wire
	// representation, no invariant); github.com/google/uuid, as used for
	// request correlation in the opd-ai-toxcore example.
	TraceID   string
	CreatedAt time.Time

	// needAck tracks whether this content-related request is still
	// awaiting the server's msgs_ack (the teacher's packetToSend.needAck).
	needAck bool
}

func NewRequestState(req tl.Request) *RequestState {
	return &RequestState{
		Req:       req,
		done:      make(chan Result, 1),
		TraceID:   uuid.NewString(),
		CreatedAt: time.Now(),
		needAck:   true,
	}
}

// ContentRelated reports whether this request's wire message advances
// MTProtoState's seq-no counter and requires acknowledgment (spec.md
// §4.1: "anything that is not an acknowledgment, ping, or certain
// housekeeping objects").
func (r *RequestState) ContentRelated() bool {
	if _, ok := r.Req.(tl.NotContentRelated); ok {
		return false
	}
	return true
}

// Encode serializes the request exactly once, caching the result.
func (r *RequestState) Encode() ([]byte, error) {
	if r.serialized != nil {
		return r.serialized, nil
	}
	b, err := r.Req.Encode()
	if err != nil {
		return nil, err
	}
	r.serialized = b
	return b, nil
}

// Complete resolves the completion slot exactly once; subsequent calls
// are no-ops (mirrors the teacher's clearPacketData nil-resp guard).
func (r *RequestState) Complete(value any, err error) {
	select {
	case r.done <- Result{Value: value, Err: err}:
	default:
	}
}

// Wait blocks for the completion slot.
func (r *RequestState) Wait() Result {
	return <-r.done
}

// Done exposes the completion channel for callers that want to select
// over several in-flight requests (or a context's Done()).
func (r *RequestState) Done() <-chan Result {
	return r.done
}
