package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/ansel1/merry/v2"
	"golang.org/x/crypto/pbkdf2"

	"github.com/nullx/mtcore/tl"
)

const (
	pbkdf2Iterations = 100_000
	saltLen          = 16
)

// EncryptedStore wraps any Store and passphrase-encrypts the serialized
// Info blob with AES-256-GCM before handing it to the inner store, and
// decrypts on the way back out. The KDF is golang.org/x/crypto/pbkdf2,
// the teacher's own x/crypto dependency; AES-GCM is stdlib crypto/cipher.
// A fresh random salt is stored alongside the ciphertext on every Save, so
// two saves of the same session never produce the same bytes on disk.
type EncryptedStore struct {
	Inner      Store
	Passphrase string
}

func NewEncryptedStore(inner Store, passphrase string) *EncryptedStore {
	return &EncryptedStore{Inner: inner, Passphrase: passphrase}
}

func (s *EncryptedStore) deriveKey(salt []byte) []byte {
	return pbkdf2.Key([]byte(s.Passphrase), salt, pbkdf2Iterations, 32, sha256.New)
}

func (s *EncryptedStore) Save(sess *Info) error {
	b := tl.NewEncodeBuf(1024)
	b.StringBytes(sess.AuthKey)
	b.StringBytes(sess.AuthKeyHash)
	b.Long(sess.ServerSalt)
	b.String(sess.Addr)
	b.Long(sess.SessionID)
	b.Int(sess.DcID)
	plain := b.Bytes()

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return merry.Wrap(err)
	}
	block, err := aes.NewCipher(s.deriveKey(salt))
	if err != nil {
		return merry.Wrap(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return merry.Wrap(err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return merry.Wrap(err)
	}
	sealed := gcm.Seal(nil, nonce, plain, nil)

	envelope := tl.NewEncodeBuf(len(sealed) + saltLen + len(nonce) + 8)
	envelope.StringBytes(salt)
	envelope.StringBytes(nonce)
	envelope.StringBytes(sealed)

	return s.Inner.Save(&Info{AuthKey: envelope.Bytes()}) // piggy-back on Info.AuthKey as the opaque blob carrier
}

func (s *EncryptedStore) Load(sess *Info) error {
	carrier := &Info{}
	if err := s.Inner.Load(carrier); err != nil {
		return err
	}
	d := tl.NewDecodeBuf(carrier.AuthKey)
	salt := d.StringBytes()
	nonce := d.StringBytes()
	sealed := d.StringBytes()
	if d.Err() != nil {
		return merry.Wrap(d.Err())
	}

	block, err := aes.NewCipher(s.deriveKey(salt))
	if err != nil {
		return merry.Wrap(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return merry.Wrap(err)
	}
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return merry.New("session: wrong passphrase or corrupted session file")
	}

	pd := tl.NewDecodeBuf(plain)
	sess.AuthKey = pd.StringBytes()
	sess.AuthKeyHash = pd.StringBytes()
	sess.ServerSalt = pd.Long()
	sess.Addr = pd.String()
	sess.SessionID = pd.Long()
	sess.DcID = pd.Int()
	if pd.Err() != nil {
		return merry.Wrap(pd.Err())
	}
	return nil
}
