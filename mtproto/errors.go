package mtproto

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/ansel1/merry/v2"
)

// Error taxonomy (spec.md §7), all built on github.com/ansel1/merry/v2 —
// the teacher's own error library (ErrNoSessionData, merry.Wrap throughout
// mtproto.go).

// SecurityError covers decryption-integrity failures, handshake
// verification failures, and session/auth-key-id mismatches on a single
// message. It is always recoverable: drop the offending message (or
// restart keygen), never kill the connection outright.
var ErrSecurity = merry.New("mtproto: security check failed")

func SecurityError(reason string) error {
	return ErrSecurity.Here().WithMessagef("mtproto: security check failed: %s", reason)
}

// TypeNotFoundError: an unknown constructor id was encountered deserializing
// an inner message. Never fatal; log and drop.
var ErrTypeNotFound = merry.New("mtproto: unknown constructor id")

func TypeNotFoundError(crc uint32) error {
	return ErrTypeNotFound.Here().WithMessagef("mtproto: unknown constructor id 0x%08x", crc)
}

// InvalidBufferError(404): the server rejected our auth key. Terminal: the
// sender clears the key and disconnects for good.
var ErrInvalidBuffer = merry.New("mtproto: invalid buffer")

type InvalidBufferError struct {
	Code int
}

func (e *InvalidBufferError) Error() string { return fmt.Sprintf("mtproto: invalid buffer (%d)", e.Code) }
func (e *InvalidBufferError) Is404() bool   { return e.Code == 404 }

// BadMessageError: a bad_msg_notification code outside the recoverable
// set {16,17,32,33}, surfaced to the originating request.
type BadMessageError struct {
	Code int32
}

func (e *BadMessageError) Error() string {
	return fmt.Sprintf("mtproto: bad_msg_notification code %d", e.Code)
}

// recoverable bad_msg_notification codes, per spec.md §4.4.2's dispatch
// table row for BadMsgNotification.
const (
	BadMsgLowMsgID  int32 = 16
	BadMsgHighMsgID int32 = 17
	BadMsgLowSeq    int32 = 32
	BadMsgHighSeq   int32 = 33
)

// RpcError is the typed error constructed from an rpc_error's (code,
// message), with FLOOD_WAIT_<n> (and FLOOD_PREMIUM_WAIT_<n>) recognized
// as a specific subtype carrying the wait duration — mirroring the
// teacher's own fmt.Sscanf parsing of PHONE_MIGRATE_%d/NETWORK_MIGRATE_%d
// in Auth().
type RpcError struct {
	Code    int32
	Message string
	// FloodWaitSeconds is >0 only when Message matched a FLOOD_WAIT_<n>
	// or FLOOD_PREMIUM_WAIT_<n> pattern.
	FloodWaitSeconds int
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("mtproto: rpc error %d: %s", e.Code, e.Message)
}

var floodWaitPattern = regexp.MustCompile(`^FLOOD_(?:PREMIUM_)?WAIT_(\d+)$`)

func NewRpcError(code int32, message string) *RpcError {
	e := &RpcError{Code: code, Message: message}
	if m := floodWaitPattern.FindStringSubmatch(message); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			e.FloodWaitSeconds = n
		}
	}
	return e
}

// ErrNotConnected is returned by Send when the sender is not currently
// user-connected (spec.md §4.4: "reject if not user-connected").
var ErrNotConnected = merry.New("mtproto: not connected")

// ErrOversizeRequest: a single serialized request already exceeds the
// container's gross size limit and must fail fast (spec.md §4.3, rule 1).
var ErrOversizeRequest = merry.New("mtproto: request too large to pack into any container")

// ErrDisconnected is the completion error used to cancel every pending
// RequestState on an explicit Disconnect() (spec.md §5, Cancellation).
var ErrDisconnected = merry.New("mtproto: disconnected")
