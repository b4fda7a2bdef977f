package mtproto

import (
	"encoding/binary"
	"sync"

	"github.com/nullx/mtcore/mtcrypto"
)

// AuthKey is the shared reference to the negotiated 2048-bit key and its
// cached derivatives (spec.md §3). It is mutated only by the sender (on
// successful key negotiation, or on a 404 invalid-buffer clear); every
// other reader — MTProtoState, the packer — only reads it, which is the
// "shared, interior-mutable reference with sole-writer discipline" design
// note from spec.md §9.
type AuthKey struct {
	mu     sync.RWMutex
	bytes  []byte
	id     uint64
	hasID  bool
	crypto mtcrypto.Provider
}

func NewAuthKey(crypto mtcrypto.Provider) *AuthKey {
	if crypto == nil {
		crypto = mtcrypto.Default{}
	}
	return &AuthKey{crypto: crypto}
}

// Set installs new key bytes, invalidating any cached id (spec.md §3
// invariant: "rewriting the bytes invalidates cached derivatives").
func (k *AuthKey) Set(b []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.bytes = append([]byte(nil), b...)
	k.hasID = false
}

// Clear drops the key entirely (used on a 404 invalid-buffer error).
func (k *AuthKey) Clear() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.bytes = nil
	k.hasID = false
}

func (k *AuthKey) Bytes() []byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.bytes
}

func (k *AuthKey) Empty() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.bytes) == 0
}

// ID is the deterministic 64-bit key id: the low 64 bits of SHA1(key
// bytes), cached until the bytes next change.
func (k *AuthKey) ID() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.hasID {
		return k.id
	}
	if len(k.bytes) == 0 {
		return 0
	}
	sum := k.crypto.SHA1(k.bytes)
	k.id = binary.LittleEndian.Uint64(sum[len(sum)-8:])
	k.hasID = true
	return k.id
}
