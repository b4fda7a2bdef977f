package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/ansel1/merry/v2"
	"github.com/gorilla/websocket"
)

// WebSocket is an alternate Transport for environments where outbound raw
// TCP to Telegram's data centers is blocked (browsers, restrictive
// corporate networks); each frame is sent/received as a single binary
// WebSocket message, already delimited by the WebSocket framing itself so
// no abridged length header is needed. Grounded on gorilla/websocket, the
// transport dependency shared by the adred-codev-ws_poc and
// agentries-amp-relay-go examples.
type WebSocket struct {
	URL       string
	Header    http.Header
	dialer    websocket.Dialer
	conn      *websocket.Conn
	connected bool
}

func NewWebSocket(url string) *WebSocket {
	return &WebSocket{URL: url, dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second}}
}

func (w *WebSocket) Connect(ctx context.Context, timeout time.Duration) error {
	w.dialer.HandshakeTimeout = timeout
	conn, _, err := w.dialer.DialContext(ctx, w.URL, w.Header)
	if err != nil {
		return merry.Wrap(err).WithMessagef("transport: dialing websocket %s", w.URL)
	}
	w.conn = conn
	w.connected = true
	return nil
}

func (w *WebSocket) Disconnect() error {
	w.connected = false
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	if err != nil {
		return merry.Wrap(err).WithMessagef("transport: closing websocket")
	}
	return nil
}

func (w *WebSocket) Connected() bool { return w.connected }

func (w *WebSocket) Send(data []byte) error {
	if w.conn == nil {
		return ErrNotConnected.Here()
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return merry.Wrap(err).WithMessagef("transport: writing websocket message")
	}
	return nil
}

func (w *WebSocket) Recv() ([]byte, error) {
	if w.conn == nil {
		return nil, ErrNotConnected.Here()
	}
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, merry.Wrap(err).WithMessagef("transport: reading websocket message")
	}
	return data, nil
}
