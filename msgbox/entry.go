// Package msgbox implements spec.md §4.5's MessageBox: a per-entry
// (account, secret chats, channel) pts/qts/seq sequence tracker that
// detects gaps in inbound updates, buffers out-of-order ones for a short
// grace period, and arbitrates between normal delivery and
// difference-fetch mode.
package msgbox

import "fmt"

// Entry is the tagged-sum sequencing domain a pts/qts/seq counter belongs
// to (spec.md §9's REDESIGN FLAGS item 1: "Entry identity ... should be a
// tagged sum. The source relies on sentinel objects and integer-type
// checks; a proper sum removes the ambiguity.").
type Entry struct {
	kind      entryKind
	channelID int64
}

type entryKind uint8

const (
	entryAccount entryKind = iota
	entrySecret
	entryChannel
)

// Account is the account-wide pts/seq entry (private chats and small
// group chats).
var Account = Entry{kind: entryAccount}

// Secret is the qts entry for encrypted one-to-one chats.
var Secret = Entry{kind: entrySecret}

// Channel identifies a megagroup/broadcast/supergroup's own pts entry.
func Channel(id int64) Entry { return Entry{kind: entryChannel, channelID: id} }

// IsChannel reports whether e was built via Channel.
func (e Entry) IsChannel() bool { return e.kind == entryChannel }

// ChannelID returns the channel id; only meaningful when IsChannel is true.
func (e Entry) ChannelID() int64 { return e.channelID }

func (e Entry) String() string {
	switch e.kind {
	case entryAccount:
		return "account"
	case entrySecret:
		return "secret"
	default:
		return fmt.Sprintf("channel(%d)", e.channelID)
	}
}
