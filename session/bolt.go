package session

import (
	"encoding/binary"
	"fmt"

	"github.com/ansel1/merry/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/nullx/mtcore/tl"
)

var sessionsBucket = []byte("sessions")

// BoltStore keeps one session record per data center in a bbolt file,
// letting a multi-DC client (SwitchDc / ExportNewSender, as in the gogram
// family referenced from other_examples) cache the auth key it negotiated
// with each DC instead of renegotiating on every migration. Grounded on
// go.etcd.io/bbolt, used for session caching by both the
// xendarboh-katzenpost example and the other_examples telegram-userbot.
type BoltStore struct {
	db *bolt.DB
	// DCKey selects which record Save/Load operate on; 0 is the "not yet
	// assigned a DC" slot used before the first successful handshake.
	DCKey int32
}

func OpenBoltStore(path string, dcKey int32) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, merry.Wrap(err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, merry.Wrap(err)
	}
	return &BoltStore{db: db, DCKey: dcKey}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) key() []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], uint32(s.DCKey))
	return k[:]
}

func (s *BoltStore) Save(sess *Info) error {
	b := tl.NewEncodeBuf(1024)
	b.StringBytes(sess.AuthKey)
	b.StringBytes(sess.AuthKeyHash)
	b.Long(sess.ServerSalt)
	b.String(sess.Addr)
	b.Long(sess.SessionID)
	b.Int(sess.DcID)

	return merry.Wrap(s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(sessionsBucket)
		if bkt == nil {
			return fmt.Errorf("session: bucket %q missing", sessionsBucket)
		}
		return bkt.Put(s.key(), b.Bytes())
	}))
}

func (s *BoltStore) Load(sess *Info) error {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(sessionsBucket)
		if bkt == nil {
			return nil
		}
		if v := bkt.Get(s.key()); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return merry.Wrap(err)
	}
	if raw == nil {
		return ErrNoSessionData.Here()
	}

	d := tl.NewDecodeBuf(raw)
	sess.AuthKey = d.StringBytes()
	sess.AuthKeyHash = d.StringBytes()
	sess.ServerSalt = d.Long()
	sess.Addr = d.String()
	sess.SessionID = d.Long()
	sess.DcID = d.Int()
	if d.Err() != nil {
		return merry.Wrap(d.Err())
	}
	return nil
}
