package mtproto

import (
	"testing"
	"time"

	"github.com/nullx/mtcore/mtcrypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuthKey(t *testing.T) *AuthKey {
	t.Helper()
	k := NewAuthKey(mtcrypto.Default{})
	k.Set(make([]byte, 256)) // a zeroed key is fine for round-trip math
	return k
}

func TestNextMessageID_StrictlyIncreasingAndAligned(t *testing.T) {
	s := NewState(testAuthKey(t), mtcrypto.Default{}, 1)

	var prev int64
	for i := 0; i < 1000; i++ {
		id := s.NextMessageID()
		assert.Greater(t, id, prev)
		assert.Zero(t, id%4, "client message ids must be 0 mod 4")
		prev = id
	}
}

func TestNextMessageID_SameInstantStillIncreases(t *testing.T) {
	s := NewState(testAuthKey(t), mtcrypto.Default{}, 1)
	now := time.Unix(1000, 0)

	a := s.nextMessageIDLocked(now)
	b := s.nextMessageIDLocked(now)
	assert.Greater(t, b, a)
}

func TestNextSeqNo_ContentRelatedAdvances(t *testing.T) {
	s := NewState(testAuthKey(t), mtcrypto.Default{}, 1)

	assert.EqualValues(t, 1, s.NextSeqNo(true))
	assert.EqualValues(t, 2, s.NextSeqNo(false))
	assert.EqualValues(t, 3, s.NextSeqNo(true))
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := testAuthKey(t)
	s := NewState(key, mtcrypto.Default{}, 42)
	s.SetSalt(123456789)

	payload := []byte("this is a test inner message body")
	// A server-originated message id must satisfy id%4 in {1,3}
	// (DecryptMessageData's parity check); client-generated ids are
	// always %4==0, so this round-trip uses a synthetic server-shaped id
	// rather than s.NextMessageID().
	const msgID = int64(7)
	seqNo := s.NextSeqNo(true)

	encrypted, err := s.EncryptMessageData(msgID, seqNo, payload)
	require.NoError(t, err)

	decoded, err := s.DecryptMessageData(encrypted)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded.Body)
	assert.Equal(t, msgID, decoded.MessageID)
	assert.Equal(t, seqNo, decoded.SeqNo)
	assert.Equal(t, int64(42), decoded.SessionID)
}

func TestDecrypt_TamperedCiphertextFailsSecurityCheck(t *testing.T) {
	key := testAuthKey(t)
	s := NewState(key, mtcrypto.Default{}, 42)
	s.SetSalt(1)

	encrypted, err := s.EncryptMessageData(s.NextMessageID(), s.NextSeqNo(true), []byte("hello world, padded enough"))
	require.NoError(t, err)

	tampered := append([]byte(nil), encrypted...)
	tampered[len(tampered)-1] ^= 0xff

	_, err = s.DecryptMessageData(tampered)
	require.Error(t, err)
}

func TestDecrypt_SessionIDMismatch(t *testing.T) {
	key := testAuthKey(t)
	sender := NewState(key, mtcrypto.Default{}, 1)
	sender.SetSalt(1)
	receiver := NewState(key, mtcrypto.Default{}, 2)
	receiver.SetSalt(1)

	encrypted, err := sender.EncryptMessageData(sender.NextMessageID(), sender.NextSeqNo(true), []byte("payload payload payload"))
	require.NoError(t, err)

	_, err = receiver.DecryptMessageData(encrypted)
	require.Error(t, err)
}

func TestReset_ClearsSessionSaltSeq(t *testing.T) {
	s := NewState(testAuthKey(t), mtcrypto.Default{}, 1)
	s.SetSalt(99)
	s.NextSeqNo(true)
	s.NextMessageID()

	s.Reset(777)
	assert.EqualValues(t, 777, s.SessionID())
	assert.EqualValues(t, 0, s.Salt())
	assert.EqualValues(t, 0, s.NextSeqNo(false))
}
