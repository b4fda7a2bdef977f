package mtproto

import (
	"encoding/binary"
	"time"

	"github.com/ansel1/merry/v2"
	"github.com/nullx/mtcore/transport"
)

// PlainSender exchanges unencrypted envelope messages (auth_key_id=0,
// message_id, length, body) over a Transport. It exists only for the
// key-negotiation handshake (spec.md §4.2): Authenticator is its sole
// caller, never the steady-state sender loop.
type PlainSender struct {
	t         transport.Transport
	lastMsgID int64
}

func NewPlainSender(t transport.Transport) *PlainSender {
	return &PlainSender{t: t}
}

// Send wraps body in the unencrypted envelope and writes it to the
// transport.
func (p *PlainSender) Send(body []byte) error {
	msgID := p.nextMsgID()
	out := make([]byte, 8+8+4+len(body))
	binary.LittleEndian.PutUint64(out[0:8], 0)
	putUint64LE(out[8:16], uint64(msgID))
	binary.LittleEndian.PutUint32(out[16:20], uint32(len(body)))
	copy(out[20:], body)
	return p.t.Send(out)
}

// Receive reads one unencrypted envelope and returns its body.
func (p *PlainSender) Receive() ([]byte, error) {
	raw, err := p.t.Recv()
	if err != nil {
		return nil, err
	}
	if len(raw) < 20 {
		return nil, merry.New("mtproto: plaintext envelope too short")
	}
	authKeyID := binary.LittleEndian.Uint64(raw[0:8])
	if authKeyID != 0 {
		return nil, merry.New("mtproto: unexpected auth_key_id in plaintext exchange")
	}
	length := binary.LittleEndian.Uint32(raw[16:20])
	if int(20+length) > len(raw) {
		return nil, merry.New("mtproto: plaintext envelope declared length overruns buffer")
	}
	return raw[20 : 20+length], nil
}

// nextMsgID applies the same monotonic message-id rule as
// State.nextMessageIDLocked (spec.md §4.1), independently, since the
// handshake runs before a session id or State exists.
func (p *PlainSender) nextMsgID() int64 {
	now := time.Now()
	seconds := now.Unix()
	sub := int64(float64(now.Nanosecond()) / 1e9 * (1 << 32))
	id := (seconds << 32) | (sub &^ 3)
	if id <= p.lastMsgID {
		id = p.lastMsgID + 4
	}
	p.lastMsgID = id
	return id
}
