package mtproto

import (
	"bytes"
	"compress/gzip"
	"io"
	"time"

	"github.com/nullx/mtcore/tl"
)

// updatesWarnInterval bounds how often a full updates channel gets
// logged (spec.md §4.4.2's Updates row: "if channel is full, log at most
// once per 15 minutes").
const updatesWarnInterval = 15 * time.Minute

// dispatch implements spec.md §4.4.2's table, recursing through
// MessageContainer/GzipPacked wrappers.
func (s *Sender) dispatch(msgID int64, seqNo int32, obj tl.Object) {
	switch v := obj.(type) {
	case msgContainer:
		for _, item := range v.Items {
			s.dispatch(item.MsgID, item.SeqNo, item.Body)
		}

	case gzipPacked:
		inflated, err := gunzip(v.Packed)
		if err != nil {
			s.Log.Warn("gzip_packed inflate failed: %v", err)
			return
		}
		inner, err := decodeObject(tl.NewDecodeBuf(inflated), s.Registry)
		if err != nil {
			s.Log.Warn("gzip_packed inner decode failed: %v", err)
			return
		}
		s.dispatch(msgID, seqNo, inner)

	case rpcResult:
		s.handleRpcResult(v)

	case pong:
		s.handlePong(v)

	case badServerSalt:
		s.handleBadServerSalt(msgID, v)

	case badMsgNotification:
		s.handleBadMsgNotification(msgID, v)

	case msgDetailedInfo:
		s.addPendingAck(v.AnswerMsgID)

	case msgNewDetailedInfo:
		s.addPendingAck(v.AnswerMsgID)

	case newSessionCreated:
		s.mu.Lock()
		s.lastContainerFirst = v.FirstMsgID
		s.mu.Unlock()
		s.state.SetSalt(v.ServerSalt)

	case msgsAck:
		s.handleMsgsAck(v)

	case futureSalts:
		for _, st := range s.popStates(v.ReqMsgID) {
			st.Complete(v, nil)
		}

	case msgsStateReq:
		s.handleMsgsStateReq(v.MsgIDs)

	case msgResendReq:
		s.handleMsgsStateReq(v.MsgIDs)

	case msgsAllInfo:
		// no-op per spec.md §4.4.2

	case destroySessionOk:
		s.completeDestroySession(v.SessionID, true)

	case destroySessionNone:
		s.completeDestroySession(v.SessionID, false)

	default:
		if sub, ok := obj.(tl.SubclassOf); ok && sub.SubclassOfID() == SubclassUpdates {
			s.forwardUpdate(obj)
			return
		}
		s.Log.Warn("dispatch: unhandled object with CRC 0x%08x", obj.CRC())
	}
}

func gunzip(packed []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(packed))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// handleRpcResult looks up pending_state[req_msg_id]; absent results are
// logged (the "tolerated upload.File" fallback from spec.md §4.4.2 is a
// business-schema concern the registry itself may already satisfy via
// SubclassOf, so no special-case parsing lives here).
func (s *Sender) handleRpcResult(v rpcResult) {
	st := s.popPending(v.ReqMsgID)
	if st == nil {
		s.Log.Debug("rpc_result for unknown req_msg_id %d", v.ReqMsgID)
		return
	}

	if v.RpcErr != nil {
		ackSt := NewRequestState(msgsAck{MsgIDs: []int64{v.ReqMsgID}})
		s.packer.Enqueue(ackSt)
		st.Complete(nil, NewRpcError(v.RpcErr.ErrorCode, v.RpcErr.ErrorMessage))
		return
	}

	value, err := st.Req.ReadResult(tl.NewDecodeBuf(v.RawBody))
	if err != nil {
		st.Complete(nil, err)
		return
	}
	st.Complete(value, nil)

	if obj, ok := value.(tl.Object); ok {
		if sub, ok2 := value.(tl.SubclassOf); ok2 && sub.SubclassOfID() == SubclassUpdates {
			s.forwardUpdate(obj)
		}
	}
}

func (s *Sender) handlePong(v pong) {
	s.mu.Lock()
	outstanding := s.outstandingPing
	matches := outstanding != nil && *outstanding == v.PingID
	if matches {
		s.outstandingPing = nil
	}
	s.mu.Unlock()
	if st := s.popPending(v.MsgID); st != nil {
		st.Complete(v, nil)
	}
}

// handleBadServerSalt implements spec.md §4.4.2's BadServerSalt row.
func (s *Sender) handleBadServerSalt(_ int64, v badServerSalt) {
	s.state.SetSalt(v.NewServerSalt)
	for _, st := range s.popStates(v.BadMsgID) {
		s.requeue(st)
	}
}

// handleBadMsgNotification implements spec.md §4.4.2's BadMsgNotification
// row.
func (s *Sender) handleBadMsgNotification(msgID int64, v badMsgNotification) {
	switch v.Code {
	case BadMsgLowMsgID, BadMsgHighMsgID:
		// the notification's own (server-issued) msg_id is the correct
		// reference clock; BadMsgID is the client's rejected one.
		s.state.UpdateTimeOffset(msgID)
		for _, st := range s.popStates(v.BadMsgID) {
			s.requeue(st)
		}
	case BadMsgLowSeq:
		s.bumpSeq(64)
		for _, st := range s.popStates(v.BadMsgID) {
			s.requeue(st)
		}
	case BadMsgHighSeq:
		s.bumpSeq(-16)
		for _, st := range s.popStates(v.BadMsgID) {
			s.requeue(st)
		}
	default:
		for _, st := range s.popStates(v.BadMsgID) {
			st.Complete(nil, &BadMessageError{Code: v.Code})
		}
	}
}

// bumpSeq nudges MTProtoState's sequence counter directly; used only for
// the bad_msg_notification 32/33 recovery codes.
func (s *Sender) bumpSeq(delta int32) {
	s.state.mu.Lock()
	s.state.seq += delta
	s.state.mu.Unlock()
}

func (s *Sender) requeue(st *RequestState) {
	st.MsgID = 0
	st.ContainerID = 0
	s.packer.Enqueue(st)
}

// handleMsgsAck implements spec.md §4.4.2's MsgsAck row: only LogOut
// requests get a synthetic completion, since Telegram never sends a real
// rpc_result for LogOut.
func (s *Sender) handleMsgsAck(v msgsAck) {
	for _, id := range v.MsgIDs {
		st := s.peekPending(id)
		if st == nil {
			continue
		}
		if _, ok := st.Req.(logOutRequest); ok {
			s.popPending(id)
			st.Complete(true, nil)
		}
	}
}

// logOutRequest lets a business TL schema mark its LogOut method so
// handleMsgsAck can recognize it without depending on the schema package.
type logOutRequest interface {
	IsLogOut() bool
}

func (s *Sender) handleMsgsStateReq(msgIDs []int64) {
	info := bytesRepeat(0x01, len(msgIDs))
	st := NewRequestState(msgsStateInfo{ReqMsgID: 0, Info: info})
	s.packer.Enqueue(st)
}

func bytesRepeat(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func (s *Sender) completeDestroySession(sessionID int64, ok bool) {
	s.mu.Lock()
	var match *RequestState
	for id, st := range s.pending {
		if ds, isDs := st.Req.(destroySession); isDs && ds.SessionID == sessionID {
			match = st
			delete(s.pending, id)
			break
		}
	}
	s.mu.Unlock()
	if match != nil {
		match.Complete(ok, nil)
	}
}

func (s *Sender) addPendingAck(msgID int64) {
	s.mu.Lock()
	s.pendingAck = append(s.pendingAck, msgID)
	s.mu.Unlock()
}

func (s *Sender) popPending(msgID int64) *RequestState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.pending[msgID]
	if !ok {
		return nil
	}
	delete(s.pending, msgID)
	return st
}

func (s *Sender) peekPending(msgID int64) *RequestState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[msgID]
}

// popStates implements spec.md §4.4.3: a direct pending_state match,
// else every pending whose container_id matches, else a recent last_ack
// whose msg_id matches.
func (s *Sender) popStates(msgID int64) []*RequestState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.pending[msgID]; ok {
		delete(s.pending, msgID)
		return []*RequestState{st}
	}

	var byContainer []*RequestState
	for id, st := range s.pending {
		if st.ContainerID == msgID {
			byContainer = append(byContainer, st)
			delete(s.pending, id)
		}
	}
	if len(byContainer) > 0 {
		return byContainer
	}

	for _, st := range s.lastAcks {
		if st.MsgID == msgID {
			return []*RequestState{st}
		}
	}
	return nil
}

// forwardUpdate implements the Updates row: forward or drop-and-warn
// once per 15 minutes.
func (s *Sender) forwardUpdate(obj tl.Object) {
	select {
	case s.updates <- obj:
	default:
		s.Metrics.IncUpdatesDropped()
		s.mu.Lock()
		shouldWarn := time.Since(s.lastUpdatesWarn) > updatesWarnInterval
		if shouldWarn {
			s.lastUpdatesWarn = time.Now()
		}
		s.mu.Unlock()
		if shouldWarn {
			s.Log.Warn("updates channel full, dropping updates (next warning in 15m)")
		}
	}
}
