// Package session persists the negotiated auth key and connection
// identity between runs, generalizing the teacher's SessionInfo /
// SessionStore / SessFileStore / SessNoopStore (mtproto.go).
package session

import (
	"github.com/ansel1/merry/v2"
)

// ErrNoSessionData mirrors the teacher's sentinel exactly (mtproto.go's
// ErrNoSessionData), returned by Load when no prior session exists.
var ErrNoSessionData = merry.New("no session data")

// Info is the teacher's SessionInfo, with the private sessionId promoted
// to an exported field so every store here (file, Bolt, encrypted) can
// serialize it.
type Info struct {
	DcID        int32
	AuthKey     []byte
	AuthKeyHash []byte
	ServerSalt  int64
	Addr        string
	SessionID   int64
}

// Store is the teacher's SessionStore interface, unchanged.
type Store interface {
	Save(*Info) error
	Load(*Info) error
}

// NoopStore is the teacher's SessNoopStore: never persists, every Load
// reports "no data" so the caller always negotiates a fresh auth key.
type NoopStore struct{}

func (NoopStore) Save(*Info) error { return nil }
func (NoopStore) Load(*Info) error { return ErrNoSessionData.Here() }

// MemoryStore keeps the session in process memory; useful for tests and
// for the teacher's ExportNewSender-style short-lived secondary senders.
type MemoryStore struct {
	saved *Info
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Save(sess *Info) error {
	cp := *sess
	s.saved = &cp
	return nil
}

func (s *MemoryStore) Load(sess *Info) error {
	if s.saved == nil {
		return ErrNoSessionData.Here()
	}
	*sess = *s.saved
	return nil
}
