// Package mtcrypto is the boundary to the crypto primitives spec.md §1
// lists as external collaborators (AES-IGE, SHA-1/256, secure random, RSA
// encryption with fixed server keys, modular exponentiation). MTProtoState
// and the authenticator call through Provider; they never touch a cipher
// directly. Default wraps stdlib crypto/{aes,sha1,sha256,rand} plus a
// hand-rolled IGE chaining mode, since IGE has no stdlib cipher.BlockMode
// implementation (the same gap purpose-built helpers like gotd/ige,
// referenced from the other_examples telegram-userbot go.mod, exist to
// fill).
package mtcrypto

import "crypto/rsa"

// Provider is everything MTProtoState and the authenticator need from the
// crypto layer.
type Provider interface {
	SHA1(parts ...[]byte) []byte
	SHA256(parts ...[]byte) []byte
	RandomBytes(n int) ([]byte, error)

	// AESIGEEncrypt/Decrypt implement MTProto's infinite-garble-extension
	// chaining mode over AES-256. plaintext/ciphertext must already be a
	// multiple of the AES block size (16 bytes); iv is 32 bytes (two
	// chained 16-byte halves, per the MTProto 2.0 spec).
	AESIGEEncrypt(key, iv, plaintext []byte) ([]byte, error)
	AESIGEDecrypt(key, iv, ciphertext []byte) ([]byte, error)

	// RSAEncrypt applies the server's fixed public key to data using
	// MTProto's own padding scheme (not PKCS1/OAEP), returning a
	// fixed-width big-endian block the size of the RSA modulus.
	RSAEncrypt(pub *rsa.PublicKey, data []byte) ([]byte, error)
}
