package transport

import (
	"context"
	"io"
	"net"
	"strings"
	"time"

	"github.com/ansel1/merry/v2"
	"golang.org/x/net/proxy"
)

// abridgedMarker is the single byte the teacher writes immediately after
// dialing (mtproto.go's Connect: "m.conn.Write([]byte{0xef})") to select
// Telegram's abridged transport framing.
const abridgedMarker = 0xef

// ErrNotConnected is returned by Send/Recv when called before a
// successful Connect (or after Disconnect); mirrors mtproto's own
// merry-based error taxonomy (spec.md §7) rather than a bare stdlib error.
var ErrNotConnected = merry.New("transport: not connected")

// TCP is the default Transport: a raw TCP connection (optionally dialed
// through a SOCKS5 proxy, golang.org/x/net/proxy — the teacher's own
// golang.org/x/net dependency) framed with Telegram's abridged transport.
type TCP struct {
	Addr      string
	ProxyAddr string // optional SOCKS5 "host:port"; empty dials directly

	conn      net.Conn
	connected bool
}

func NewTCP(addr string) *TCP { return &TCP{Addr: addr} }

func (t *TCP) Connect(ctx context.Context, timeout time.Duration) error {
	dialer := &net.Dialer{Timeout: timeout}
	var conn net.Conn
	var err error

	if t.ProxyAddr != "" {
		var sockDialer proxy.Dialer
		sockDialer, err = proxy.SOCKS5("tcp", t.ProxyAddr, nil, dialer)
		if err != nil {
			return merry.Wrap(err).WithMessagef("transport: building SOCKS5 dialer")
		}
		if ctxDialer, ok := sockDialer.(proxy.ContextDialer); ok {
			conn, err = ctxDialer.DialContext(ctx, "tcp", t.Addr)
		} else {
			conn, err = sockDialer.Dial("tcp", t.Addr)
		}
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", t.Addr)
	}
	if err != nil {
		return merry.Wrap(err).WithMessagef("transport: dialing %s", t.Addr)
	}

	if _, err := conn.Write([]byte{abridgedMarker}); err != nil {
		conn.Close()
		return merry.Wrap(err).WithMessagef("transport: writing abridged marker")
	}

	t.conn = conn
	t.connected = true
	return nil
}

func (t *TCP) Disconnect() error {
	t.connected = false
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	if err != nil && !IsClosedConnErr(err) {
		return merry.Wrap(err).WithMessagef("transport: closing connection")
	}
	return nil
}

func (t *TCP) Connected() bool { return t.connected }

// Send frames data per Telegram's abridged transport: payload lengths
// that are a multiple of 4 and fit in one byte (<508 bytes) are
// length-prefixed with length/4; longer payloads use a 0x7f marker
// followed by a 3-byte little-endian length/4.
func (t *TCP) Send(data []byte) error {
	if t.conn == nil {
		return ErrNotConnected.Here()
	}
	if len(data)%4 != 0 {
		return merry.Errorf("transport: payload length %d is not a multiple of 4", len(data))
	}
	words := len(data) / 4
	var header []byte
	if words < 0x7f {
		header = []byte{byte(words)}
	} else {
		header = []byte{0x7f, byte(words), byte(words >> 8), byte(words >> 16)}
	}
	if _, err := t.conn.Write(header); err != nil {
		return merry.Wrap(err).WithMessagef("transport: writing frame header")
	}
	if _, err := t.conn.Write(data); err != nil {
		return merry.Wrap(err).WithMessagef("transport: writing frame body")
	}
	return nil
}

func (t *TCP) Recv() ([]byte, error) {
	if t.conn == nil {
		return nil, ErrNotConnected.Here()
	}
	var first [1]byte
	if _, err := io.ReadFull(t.conn, first[:]); err != nil {
		return nil, merry.Wrap(err).WithMessagef("transport: reading frame header")
	}
	var words int
	if first[0] < 0x7f {
		words = int(first[0])
	} else {
		var rest [3]byte
		if _, err := io.ReadFull(t.conn, rest[:]); err != nil {
			return nil, merry.Wrap(err).WithMessagef("transport: reading extended frame header")
		}
		words = int(rest[0]) | int(rest[1])<<8 | int(rest[2])<<16
	}
	body := make([]byte, words*4)
	if _, err := io.ReadFull(t.conn, body); err != nil {
		return nil, merry.Wrap(err).WithMessagef("transport: reading frame body")
	}
	return body, nil
}

// IsClosedConnErr mirrors the teacher's helper of the same purpose
// (referenced throughout mtproto.go's send/read/reconnect loops) used to
// tell a deliberate Disconnect() from an unexpected I/O failure.
func IsClosedConnErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
