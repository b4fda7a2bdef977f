package mtproto

import (
	"math/big"
	"testing"

	"github.com/nullx/mtcore/mtcrypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactorizePQ_KnownSemiprime(t *testing.T) {
	// a small but non-trivial semiprime, well within pq's 64-bit range.
	p := int64(1000003)
	q := int64(1000033)
	pq := big.NewInt(p * q)

	gotP, gotQ, err := factorizePQ(pq.Bytes())
	require.NoError(t, err)

	a := new(big.Int).SetBytes(gotP)
	b := new(big.Int).SetBytes(gotQ)
	if a.Cmp(b) > 0 {
		a, b = b, a
	}
	assert.Equal(t, p, a.Int64())
	assert.Equal(t, q, b.Int64())
}

func TestFactorizePQ_RejectsPrime(t *testing.T) {
	prime := big.NewInt(1000003)
	_, _, err := factorizePQ(prime.Bytes())
	assert.Error(t, err)
}

func TestFactorizePQ_ProductOrderIndependent(t *testing.T) {
	pq := big.NewInt(97 * 9967)
	p, q, err := factorizePQ(pq.Bytes())
	require.NoError(t, err)

	product := new(big.Int).Mul(new(big.Int).SetBytes(p), new(big.Int).SetBytes(q))
	assert.Equal(t, 0, product.Cmp(pq))
}

func TestDeriveInitialSalt_XorsNonces(t *testing.T) {
	newNonce := make([]byte, 32)
	serverNonce := make([]byte, 16)
	for i := range newNonce {
		newNonce[i] = byte(i)
	}
	for i := range serverNonce {
		serverNonce[i] = byte(0xff)
	}

	salt := deriveInitialSalt(newNonce, serverNonce)
	assert.NotZero(t, salt)

	// flipping a byte outside the first 8 must not change the salt.
	newNonce2 := append([]byte(nil), newNonce...)
	newNonce2[31] ^= 0xff
	assert.Equal(t, salt, deriveInitialSalt(newNonce2, serverNonce))
}

func TestSelectKey_PicksMatchingFingerprint(t *testing.T) {
	a := &Authenticator{serverKeys: []ServerPublicKey{
		{Fingerprint: 111},
		{Fingerprint: 222},
	}}

	got, err := a.selectKey([]uint64{999, 222})
	require.NoError(t, err)
	assert.EqualValues(t, 222, got.Fingerprint)
}

func TestSelectKey_NoneRecognizedFails(t *testing.T) {
	a := &Authenticator{serverKeys: []ServerPublicKey{{Fingerprint: 111}}}
	_, err := a.selectKey([]uint64{222})
	assert.Error(t, err)
}

func TestDhGenNonceHash_DifferentTagsDiffer(t *testing.T) {
	crypto := mtcrypto.Default{}
	newNonce := make([]byte, 32)
	authKey := make([]byte, 256)
	for i := range newNonce {
		newNonce[i] = byte(i)
	}
	for i := range authKey {
		authKey[i] = byte(i * 3)
	}

	ok := dhGenNonceHash(crypto, newNonce, authKey, 1)
	retry := dhGenNonceHash(crypto, newNonce, authKey, 2)
	fail := dhGenNonceHash(crypto, newNonce, authKey, 3)

	assert.Len(t, ok, 16)
	assert.NotEqual(t, ok, retry)
	assert.NotEqual(t, ok, fail)
	assert.NotEqual(t, retry, fail)
}

func TestDhGenNonceHash_TamperedAuthKeyChangesHash(t *testing.T) {
	crypto := mtcrypto.Default{}
	newNonce := make([]byte, 32)
	authKey := make([]byte, 256)

	want := dhGenNonceHash(crypto, newNonce, authKey, 1)

	tampered := append([]byte(nil), authKey...)
	tampered[0] ^= 0xff
	got := dhGenNonceHash(crypto, newNonce, tampered, 1)

	assert.NotEqual(t, want, got, "a substituted auth key must change the verification hash")
}
