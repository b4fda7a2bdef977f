package session

import (
	"os"

	"github.com/ansel1/merry/v2"
	"github.com/nullx/mtcore/tl"
)

// FileStore is the teacher's SessFileStore. Layout: auth key bytes, auth
// key hash, server salt (long), address (string), session id (long), DC
// id (int), each written with the TL string/long/int wire primitives.
type FileStore struct {
	FPath string
}

func (s *FileStore) Save(sess *Info) error {
	f, err := os.Create(s.FPath)
	if err != nil {
		return merry.Wrap(err)
	}
	defer f.Close()

	b := tl.NewEncodeBuf(1024)
	b.StringBytes(sess.AuthKey)
	b.StringBytes(sess.AuthKeyHash)
	b.Long(sess.ServerSalt)
	b.String(sess.Addr)
	b.Long(sess.SessionID)
	b.Int(sess.DcID)

	if _, err := f.Write(b.Bytes()); err != nil {
		return merry.Wrap(err)
	}
	return nil
}

func (s *FileStore) Load(sess *Info) error {
	f, err := os.Open(s.FPath)
	if os.IsNotExist(err) {
		return ErrNoSessionData.Here()
	}
	if err != nil {
		return merry.Wrap(err)
	}
	defer f.Close()

	buf := make([]byte, 1024*4)
	n, err := f.Read(buf)
	if err != nil {
		return merry.Wrap(err)
	}

	d := tl.NewDecodeBuf(buf[:n])
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
