package msgbox

import (
	"time"

	"github.com/nullx/mtcore/tl"
)

// timeoutDeadline converts a server-suggested timeout (seconds, 0 meaning
// "none given") into an absolute deadline, defaulting to NoUpdatesTimeout.
func timeoutDeadline(seconds int32) time.Time {
	if seconds <= 0 {
		return time.Now().Add(NoUpdatesTimeout)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

// DifferenceRequest is the (pts, qts, date) triple needed to build an
// updates.getDifference call; the external TL schema owns the actual RPC
// object (spec.md §6: MessageBox returns parameters, not requests).
type DifferenceRequest struct {
	Pts  int32
	Qts  int32
	Date int32
}

// ChannelDifferenceRequest is the parameters needed to build an
// updates.getChannelDifference call for one channel.
type ChannelDifferenceRequest struct {
	ChannelID  int64
	AccessHash int64
	Pts        int32
	Limit      int32
}

// DifferenceState is the (pts, qts, date, seq) a Difference/DifferenceSlice
// reports as its new (or intermediate) account state.
type DifferenceState interface {
	Pts() int32
	Qts() int32
	Date() int32
	Seq() int32
}

// DifferenceEmpty is updates.differenceEmpty: no changes since last sync.
type DifferenceEmpty interface {
	tl.Object
	Date() int32
	Seq() int32
}

// DifferenceTooLong is updates.differenceTooLong: the gap is unrecoverable
// incrementally; the client must accept the new pts and move on.
type DifferenceTooLong interface {
	tl.Object
	Pts() int32
}

// Difference is updates.difference: the final batch of missed updates.
type Difference interface {
	tl.Object
	NewMessages() []tl.Object
	NewEncryptedMessages() []tl.Object
	OtherUpdates() []tl.Object
	Users() []tl.Object
	Chats() []tl.Object
	State() DifferenceState
}

// DifferenceSlice is updates.differenceSlice: one batch of a larger,
// still-ongoing difference fetch.
type DifferenceSlice interface {
	tl.Object
	NewMessages() []tl.Object
	NewEncryptedMessages() []tl.Object
	OtherUpdates() []tl.Object
	Users() []tl.Object
	Chats() []tl.Object
	IntermediateState() DifferenceState
}

// ChannelDifferenceEmpty is updates.channelDifferenceEmpty.
type ChannelDifferenceEmpty interface {
	tl.Object
	Pts() int32
}

// ChannelDifferenceTooLong is updates.channelDifferenceTooLong: carries a
// dialog snapshot whose pts the client must accept as-is.
type ChannelDifferenceTooLong interface {
	tl.Object
	DialogPts() int32
	Users() []tl.Object
	Chats() []tl.Object
	// TimeoutSeconds is the server-suggested deadline before the next
	// resync attempt, or 0 to use NoUpdatesTimeout.
	TimeoutSeconds() int32
}

// ChannelDifference is updates.channelDifference.
type ChannelDifference interface {
	tl.Object
	Final() bool
	Pts() int32
	NewMessages() []tl.Object
	OtherUpdates() []tl.Object
	Users() []tl.Object
	Chats() []tl.Object
}

// GetDifference implements spec.md §4.5's get_difference(): a request is
// returned only while Account is in getting_diff_for.
func (b *Box) GetDifference() (DifferenceRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.gettingDiff[Account] {
		return DifferenceRequest{}, false
	}
	st, ok := b.entries[Account]
	if !ok {
		b.endGetDiff(Account)
		return DifferenceRequest{}, false
	}
	req := DifferenceRequest{Pts: st.pts, Date: b.date}
	if secret, ok := b.entries[Secret]; ok {
		req.Qts = secret.pts
	}
	return req, true
}

// ApplyDifference implements spec.md §4.5's apply_difference(diff): diff
// must be one of DifferenceEmpty/Difference/DifferenceSlice/DifferenceTooLong.
func (b *Box) ApplyDifference(diff tl.Object, hashes ChatHashes) (out, users, chats []tl.Object) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch d := diff.(type) {
	case DifferenceEmpty:
		b.date = d.Date()
		b.seq = d.Seq()
		b.endGetDiff(Account)
		return nil, nil, nil

	case Difference:
		b.endGetDiff(Account)
		hashes.Extend(d.Users(), d.Chats())
		return b.applyDifferenceTypeLocked(d.State(), d.OtherUpdates(), d.NewMessages(), d.NewEncryptedMessages(), d.Users(), d.Chats())

	case DifferenceSlice:
		hashes.Extend(d.Users(), d.Chats())
		return b.applyDifferenceTypeLocked(d.IntermediateState(), d.OtherUpdates(), d.NewMessages(), d.NewEncryptedMessages(), d.Users(), d.Chats())

	case DifferenceTooLong:
		if st, ok := b.entries[Account]; ok {
			st.pts = d.Pts()
		}
		b.endGetDiff(Account)
		return nil, nil, nil

	default:
		return nil, nil, nil
	}
}

// applyDifferenceTypeLocked implements the Difference/DifferenceSlice
// shared body: install the reported state, begin a channel diff-fetch for
// every embedded UpdateChannelTooLong, and synthesize update wrappers for
// the embedded bare messages. Caller holds b.mu.
func (b *Box) applyDifferenceTypeLocked(newState DifferenceState, otherUpdates, newMessages, newEncrypted, users, chats []tl.Object) (out, outUsers, outChats []tl.Object) {
	b.setState(SessionState{Pts: newState.Pts(), Qts: newState.Qts(), Date: newState.Date(), Seq: newState.Seq()})

	for _, u := range otherUpdates {
		if ct, ok := u.(ChannelTooLong); ok {
			b.beginGetDiff(Channel(ct.ChannelID()))
		}
	}

	out = append(out, otherUpdates...)
	if b.factory != nil {
		for _, m := range newMessages {
			out = append(out, b.factory.NewMessageUpdate(m))
		}
		for _, m := range newEncrypted {
			out = append(out, b.factory.NewEncryptedMessageUpdate(m))
		}
	}
	return out, users, chats
}

// GetChannelDifference implements spec.md §4.5's get_channel_difference():
// picks any channel entry currently in getting_diff_for.
func (b *Box) GetChannelDifference(hashes ChatHashes) (ChannelDifferenceRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var entry Entry
	var found bool
	for e := range b.gettingDiff {
		if e.IsChannel() {
			entry, found = e, true
			break
		}
	}
	if !found {
		return ChannelDifferenceRequest{}, false
	}

	accessHash, ok := hashes.ChannelAccessHash(entry.ChannelID())
	if !ok {
		b.endGetDiff(entry)
		delete(b.entries, entry)
		return ChannelDifferenceRequest{}, false
	}

	st, ok := b.entries[entry]
	if !ok {
		b.endGetDiff(entry)
		return ChannelDifferenceRequest{}, false
	}

	limit := int32(UserChannelDiffLimit)
	if hashes.SelfIsBot() {
		limit = BotChannelDiffLimit
	}
	return ChannelDifferenceRequest{
		ChannelID:  entry.ChannelID(),
		AccessHash: accessHash,
		Pts:        st.pts,
		Limit:      limit,
	}, true
}

// ApplyChannelDifference implements spec.md §4.5's
// apply_channel_difference(diff) for the channel identified by channelID
// (the request's own channel, per the original: "entry =
// request.channel.channel_id").
func (b *Box) ApplyChannelDifference(channelID int64, diff tl.Object, hashes ChatHashes) (out, users, chats []tl.Object) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := Channel(channelID)
	delete(b.possibleGaps, entry)

	switch d := diff.(type) {
	case ChannelDifferenceEmpty:
		b.endGetDiff(entry)
		if st, ok := b.entries[entry]; ok {
			st.pts = d.Pts()
		}
		return nil, nil, nil

	case ChannelDifferenceTooLong:
		if st, ok := b.entries[entry]; ok {
			st.pts = d.DialogPts()
		}
		hashes.Extend(d.Users(), d.Chats())
		b.resetDeadlineLocked(entry, timeoutDeadline(d.TimeoutSeconds()))
		return nil, nil, nil

	case ChannelDifference:
		if d.Final() {
			b.endGetDiff(entry)
		}
		if st, ok := b.entries[entry]; ok {
			st.pts = d.Pts()
		}
		out = append(out, d.OtherUpdates()...)
		if b.factory != nil {
			for _, m := range d.NewMessages() {
				out = append(out, b.factory.NewMessageUpdate(m))
			}
		}
		hashes.Extend(d.Users(), d.Chats())
		b.resetDeadlineLocked(entry, timeoutDeadline(0))
		return out, d.Users(), d.Chats()

	default:
		return nil, nil, nil
	}
}
