// Package transport defines the Transport boundary (spec.md §6: "to the
// transport" — connect/disconnect/send/recv plus a synchronous connected
// flag) and ships two concrete implementations. Frames are opaque byte
// slices; the sender neither knows nor cares whether abridged framing,
// WebSocket framing, or an obfuscation layer produced them.
package transport

import (
	"context"
	"time"
)

// Transport is the sender's only window onto the network.
type Transport interface {
	Connect(ctx context.Context, timeout time.Duration) error
	Disconnect() error
	Send(data []byte) error
	Recv() ([]byte, error)
	Connected() bool
}
