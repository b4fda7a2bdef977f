package msgbox

import "github.com/nullx/mtcore/tl"

// Container is implemented by any TL Updates-supertype object
// process_updates can unpack: updates and updatesCombined. The lone-update
// shapes carry no date/seq/updates list and do not implement it; nothing in
// this module wraps them into a Container (Sender.forwardUpdate passes
// every Updates object on unchanged).
type Container interface {
	tl.Object

	// Date reports the container's date field; ok is false for
	// updatesTooLong, the one Updates variant with none (treated as a
	// gap for Account per spec.md §4.5 step 1).
	Date() (date int32, ok bool)
	Seq() int32
	SeqStart() int32
	Updates() []tl.Object
	Users() []tl.Object
	Chats() []tl.Object
}

// PtsUpdate is implemented by update variants carrying a pts/pts_count
// pair (updateNewMessage, updateDeleteMessages, updateNewChannelMessage,
// and friends).
type PtsUpdate interface {
	tl.Object
	Pts() (pts, ptsCount int32)
}

// ChannelPtsUpdate additionally reports which channel the pts belongs to
// (reached via update.message.peer_id.channel_id, or update.channel_id
// directly, per spec.md §4.5's PtsInfo extraction rule).
type ChannelPtsUpdate interface {
	PtsUpdate
	ChannelID() int64
}

// QtsUpdate is implemented by the encrypted-chat update carrying qts
// (always routed to the Secret entry).
type QtsUpdate interface {
	tl.Object
	Qts() int32
	// IsEncryptedMessage reports whether this is specifically
	// updateNewEncryptedMessage, the one qts-carrying update whose
	// pts_count is 1 rather than 0.
	IsEncryptedMessage() bool
}

// ChannelTooLong is implemented by updateChannelTooLong: its mere
// presence in a Difference's other_updates begins a channel diff-fetch.
type ChannelTooLong interface {
	tl.Object
	ChannelID() int64
}

// ptsInfo is the extracted sequencing fact for one inbound update
// (spec.md §4.5's PtsInfo extraction).
type ptsInfo struct {
	pts      int32
	ptsCount int32
	entry    Entry
}

// extractPtsInfo implements spec.md §4.5's PtsInfo extraction rule: pts
// wins over qts; an update with neither is order-independent (nil).
func extractPtsInfo(u tl.Object) *ptsInfo {
	if cp, ok := u.(ChannelPtsUpdate); ok {
		pts, count := cp.Pts()
		return &ptsInfo{pts: pts, ptsCount: count, entry: Channel(cp.ChannelID())}
	}
	if p, ok := u.(PtsUpdate); ok {
		pts, count := p.Pts()
		return &ptsInfo{pts: pts, ptsCount: count, entry: Account}
	}
	if q, ok := u.(QtsUpdate); ok {
		count := int32(0)
		if q.IsEncryptedMessage() {
			count = 1
		}
		return &ptsInfo{pts: q.Qts(), ptsCount: count, entry: Secret}
	}
	return nil
}
