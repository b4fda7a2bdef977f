package mtproto

import (
	"fmt"

	"github.com/nullx/mtcore/tl"
)

// decodeObject reads one TL object from buf: a fixed MTProto system
// constructor is decoded in place; anything else is handed to registry,
// which is the external TL schema's entry point (tl.Registry). Business
// objects nested inside a system envelope (rpc_result's body, gzip_packed's
// inflated payload) recurse through the same function.
func decodeObject(buf *tl.DecodeBuf, registry tl.Registry) (tl.Object, error) {
	crc := buf.UInt()
	if buf.Err() != nil {
		return nil, buf.Err()
	}

	switch crc {
	case crcMsgContainer:
		n := buf.Int()
		if buf.Err() != nil {
			return nil, buf.Err()
		}
		items := make([]msgContainerItem, 0, n)
		for i := int32(0); i < n; i++ {
			msgID := buf.Long()
			seqNo := buf.Int()
			bodyLen := buf.Int()
			if buf.Err() != nil {
				return nil, buf.Err()
			}
			sub := buf.Bytes(int(bodyLen))
			if buf.Err() != nil {
				return nil, buf.Err()
			}
			body, err := decodeObject(tl.NewDecodeBuf(sub), registry)
			if err != nil {
				return nil, err
			}
			items = append(items, msgContainerItem{MsgID: msgID, SeqNo: seqNo, Body: body})
		}
		return msgContainer{Items: items}, nil

	case crcRpcResult:
		reqMsgID := buf.Long()
		if buf.Err() != nil {
			return nil, buf.Err()
		}
		rest := append([]byte(nil), buf.Remaining()...)
		peek := tl.NewDecodeBuf(rest)
		innerCRC := peek.UInt()
		if innerCRC == crcRpcError {
			code := peek.Int()
			msg := peek.String()
			if peek.Err() != nil {
				return nil, peek.Err()
			}
			return rpcResult{ReqMsgID: reqMsgID, RpcErr: &rpcError{ErrorCode: code, ErrorMessage: msg}}, nil
		}
		return rpcResult{ReqMsgID: reqMsgID, RawBody: rest}, nil

	case crcGzipPacked:
		packed := buf.StringBytes()
		if buf.Err() != nil {
			return nil, buf.Err()
		}
		return gzipPacked{Packed: packed}, nil

	case crcBadServerSalt:
		return badServerSalt{
			BadMsgID:      buf.Long(),
			BadMsgSeqNo:   buf.Int(),
			ErrorCode:     buf.Int(),
			NewServerSalt: buf.Long(),
		}, buf.Err()

	case crcBadMsgNotification:
		return badMsgNotification{
			BadMsgID:    buf.Long(),
			BadMsgSeqNo: buf.Int(),
			Code:        buf.Int(),
		}, buf.Err()

	case crcMsgsAck:
		return msgsAck{MsgIDs: buf.VectorLong()}, buf.Err()

	case crcPing:
		return ping{PingID: buf.Long()}, buf.Err()

	case crcPong:
		return pong{MsgID: buf.Long(), PingID: buf.Long()}, buf.Err()

	case crcNewSessionCreated:
		return newSessionCreated{
			FirstMsgID: buf.Long(),
			UniqueID:   buf.Long(),
			ServerSalt: buf.Long(),
		}, buf.Err()

	case crcMsgsStateReq:
		return msgsStateReq{MsgIDs: buf.VectorLong()}, buf.Err()

	case crcMsgResendReq:
		return msgResendReq{MsgIDs: buf.VectorLong()}, buf.Err()

	case crcMsgsStateInfo:
		return msgsStateInfo{ReqMsgID: buf.Long(), Info: buf.StringBytes()}, buf.Err()

	case crcMsgsAllInfo:
		return msgsAllInfo{MsgIDs: buf.VectorLong(), Info: buf.StringBytes()}, buf.Err()

	case crcMsgDetailedInfo:
		return msgDetailedInfo{
			MsgID:       buf.Long(),
			AnswerMsgID: buf.Long(),
			Bytes:       buf.Int(),
			Status:      buf.Int(),
		}, buf.Err()

	case crcMsgNewDetailedInfo:
		return msgNewDetailedInfo{
			AnswerMsgID: buf.Long(),
			Bytes:       buf.Int(),
			Status:      buf.Int(),
		}, buf.Err()

	case crcFutureSalts:
		reqMsgID := buf.Long()
		now := buf.Int()
		n := buf.Int()
		if buf.Err() != nil {
			return nil, buf.Err()
		}
		salts := make([]futureSalt, n)
		for i := range salts {
			salts[i] = futureSalt{ValidSince: buf.Int(), ValidUntil: buf.Int(), Salt: buf.Long()}
		}
		return futureSalts{ReqMsgID: reqMsgID, Now: now, Salts: salts}, buf.Err()

	case crcDestroySessionOk:
		return destroySessionOk{SessionID: buf.Long()}, buf.Err()

	case crcDestroySessionNone:
		return destroySessionNone{SessionID: buf.Long()}, buf.Err()

	case crcRpcError:
		return rpcError{ErrorCode: buf.Int(), ErrorMessage: buf.String()}, buf.Err()

	default:
		buf.Rewind(4)
		if registry == nil {
			return nil, TypeNotFoundError(crc)
		}
		obj, err := registry.DecodeObject(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTypeNotFound, err)
		}
		return obj, nil
	}
}
