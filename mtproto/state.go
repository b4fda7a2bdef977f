package mtproto

import (
	"sync"
	"time"

	"github.com/ansel1/merry/v2"
	"github.com/nullx/mtcore/mtcrypto"
)

// DecodedMessage is the framed inner message decrypt_message_data exposes
// to the caller (spec.md §4.1): the envelope fields plus the raw body
// bytes, ready for decodeObject.
type DecodedMessage struct {
	Salt      int64
	SessionID int64
	MessageID int64
	SeqNo     int32
	Body      []byte
}

// State is MTProtoState (spec.md §3/§4.1): salt, session id, the
// monotonic message-id clock, the content-related sequence counter, and
// the encrypt/decrypt envelope operations, all scoped to one logical
// connection.
type State struct {
	mu sync.Mutex

	authKey    *AuthKey
	crypto     mtcrypto.Provider
	sessionID  int64
	salt       int64
	seq        int32
	timeOffset int64
	lastMsgID  int64
}

func NewState(authKey *AuthKey, crypto mtcrypto.Provider, sessionID int64) *State {
	if crypto == nil {
		crypto = mtcrypto.Default{}
	}
	return &State{authKey: authKey, crypto: crypto, sessionID: sessionID}
}

func (s *State) SessionID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *State) Salt() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.salt
}

func (s *State) SetSalt(salt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.salt = salt
}

// Reset clears session id, salt, sequence, and last-message-id memory
// (spec.md §3's reset() invariant), used by start_reconnect before
// establishing a fresh connection (spec.md §4.4.4 step 4: "a fresh
// session id is mandatory to avoid stale msg_ids").
func (s *State) Reset(newSessionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = newSessionID
	s.salt = 0
	s.seq = 0
	s.lastMsgID = 0
}

// NextMessageID produces the next client-originated message id: high 32
// bits are floor(now+timeOffset), low 32 bits are a sub-second counter
// shifted so the low two bits are zero; if the result would not exceed
// the last one produced, it is bumped by 4 (spec.md §4.1).
func (s *State) NextMessageID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextMessageIDLocked(time.Now())
}

func (s *State) nextMessageIDLocked(now time.Time) int64 {
	seconds := now.Unix() + s.timeOffset
	nanos := now.Nanosecond()
	sub := int64(float64(nanos) / 1e9 * (1 << 32))
	id := (seconds << 32) | (sub &^ 3)
	if id <= s.lastMsgID {
		id = s.lastMsgID + 4
	}
	s.lastMsgID = id
	return id
}

// NextSeqNo assigns sequence*2+contentRelated and advances the counter by
// one when contentRelated is true (spec.md §4.1).
func (s *State) NextSeqNo(contentRelated bool) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.seq*2 + b2i32(contentRelated)
	if contentRelated {
		s.seq++
	}
	return n
}

func b2i32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// UpdateTimeOffset recomputes the client/server clock offset from a
// server-supplied correct reference message id (spec.md §4.1), and resets
// the sub-second counter so the next generated id starts clean.
func (s *State) UpdateTimeOffset(correctMsgID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nowSeconds := time.Now().Unix()
	s.timeOffset = (correctMsgID >> 32) - nowSeconds
	s.lastMsgID = 0
}

func (s *State) TimeOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeOffset
}

// SetTimeOffset installs a time offset computed elsewhere (the
// authenticator derives one directly from the handshake's server_time,
// spec.md §4.2), bypassing UpdateTimeOffset's correct-msg-id arithmetic.
func (s *State) SetTimeOffset(offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeOffset = offset
	s.lastMsgID = 0
}

const (
	minPadding   = 12
	maxPadding   = 1024
	blockSize    = 16
	envelopeHead = 8 + 8 + 8 + 4 + 4 // salt, session_id, message_id, seq_no, length
)

// EncryptMessageData builds the MTProto 2.0 authenticated-encryption
// envelope around payload: an aux hash derived msg_key, AES-IGE keys
// derived from the auth key id slice and msg_key, padded to a 16-byte
// boundary with 12-1024 random bytes, emitted as
// auth_key_id || msg_key || ciphertext (spec.md §4.1).
func (s *State) EncryptMessageData(msgID int64, seqNo int32, payload []byte) ([]byte, error) {
	authKeyBytes := s.authKey.Bytes()
	if len(authKeyBytes) == 0 {
		return nil, merry.New("mtproto: no auth key")
	}

	s.mu.Lock()
	salt, sessionID := s.salt, s.sessionID
	s.mu.Unlock()

	plain := make([]byte, 0, envelopeHead+len(payload)+maxPadding)
	eb := appendEnvelope(plain, salt, sessionID, msgID, seqNo, payload)

	padLen := padLenFor(len(eb))
	full := make([]byte, len(eb)+padLen)
	copy(full, eb)
	randTail, err := s.crypto.RandomBytes(padLen)
	if err != nil {
		return nil, err
	}
	copy(full[len(eb):], randTail)

	msgKeyLarge := s.crypto.SHA256(authKeyBytes[88:88+32], full)
	msgKey := msgKeyLarge[8:24]

	aesKey, aesIV := deriveKeys(s.crypto, authKeyBytes, msgKey, 0)
	cipherText, err := s.crypto.AESIGEEncrypt(aesKey, aesIV, full)
	if err != nil {
		return nil, err
	}

	keyID := s.authKey.ID()
	out := make([]byte, 8+16+len(cipherText))
	putUint64LE(out[0:8], keyID)
	copy(out[8:24], msgKey)
	copy(out[24:], cipherText)
	return out, nil
}

// DecryptMessageData validates and decrypts an inbound encrypted message
// body (spec.md §4.1): length/auth-key-id/msg-key/session-id checks are
// all SecurityErrors, never fatal to the connection.
func (s *State) DecryptMessageData(body []byte) (*DecodedMessage, error) {
	if len(body) <= 24 || len(body)%4 != 0 {
		return nil, SecurityError("malformed encrypted message length")
	}
	authKeyBytes := s.authKey.Bytes()
	if len(authKeyBytes) == 0 {
		return nil, merry.New("mtproto: no auth key")
	}

	keyID := getUint64LE(body[0:8])
	if keyID != s.authKey.ID() {
		return nil, SecurityError("auth key id mismatch")
	}
	msgKey := body[8:24]
	cipherText := body[24:]

	aesKey, aesIV := deriveKeys(s.crypto, authKeyBytes, msgKey, 8)
	plain, err := s.crypto.AESIGEDecrypt(aesKey, aesIV, cipherText)
	if err != nil {
		return nil, SecurityError("IGE decrypt failed: " + err.Error())
	}

	recomputed := s.crypto.SHA256(authKeyBytes[96:96+32], plain)
	if !bytesEqual(recomputed[8:24], msgKey) {
		return nil, SecurityError("msg_key mismatch")
	}

	if len(plain) < envelopeHead {
		return nil, SecurityError("decrypted envelope too short")
	}
	salt := getInt64LE(plain[0:8])
	sessionID := getInt64LE(plain[8:16])
	messageID := getInt64LE(plain[16:24])
	seqNo := int32(getUint32LE(plain[24:28]))
	length := int32(getUint32LE(plain[28:32]))
	if length < 0 || int(32+length) > len(plain) {
		return nil, SecurityError("declared body length overruns envelope")
	}

	s.mu.Lock()
	expectSession := s.sessionID
	s.mu.Unlock()
	if sessionID != expectSession {
		return nil, SecurityError("session id mismatch")
	}
	if messageID%4 != 1 && messageID%4 != 3 {
		return nil, SecurityError("server message id has wrong parity")
	}

	return &DecodedMessage{
		Salt:      salt,
		SessionID: sessionID,
		MessageID: messageID,
		SeqNo:     seqNo,
		Body:      plain[32 : 32+length],
	}, nil
}

func appendEnvelope(dst []byte, salt, sessionID, msgID int64, seqNo int32, body []byte) []byte {
	dst = appendInt64LE(dst, salt)
	dst = appendInt64LE(dst, sessionID)
	dst = appendInt64LE(dst, msgID)
	dst = appendUint32LE(dst, uint32(seqNo))
	dst = appendUint32LE(dst, uint32(len(body)))
	dst = append(dst, body...)
	return dst
}

// padLenFor returns the smallest padding length >= minPadding that brings
// n up to a 16-byte boundary; always within [minPadding, minPadding+15],
// comfortably inside the [12,1024] range spec.md §4.1 allows.
func padLenFor(n int) int {
	pad := minPadding + (blockSize-(n+minPadding)%blockSize)%blockSize
	if pad > maxPadding {
		pad = maxPadding
	}
	return pad
}

// deriveKeys implements MTProto 2.0's key/iv derivation from the auth key
// and message key, x=0 when the client is the message's sender, x=8 when
// decrypting a server-sent message.
func deriveKeys(crypto mtcrypto.Provider, authKey, msgKey []byte, x int) (aesKey, aesIV []byte) {
	a := crypto.SHA256(msgKey, authKey[x:x+36])
	b := crypto.SHA256(authKey[40+x:40+x+36], msgKey)
	aesKey = append(append([]byte(nil), a[0:8]...), b[8:28]...)
	aesIV = append(append(append([]byte(nil), b[0:8]...), a[8:28]...), b[24:32]...)
	return aesKey, aesIV
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
