package msgbox

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nullx/mtcore/tl"
)

// Constants (spec.md §6, bit-exact).
const (
	NoSeq                = 0
	PossibleGapTimeout   = 500 * time.Millisecond
	NoUpdatesTimeout     = 900 * time.Second
	BotChannelDiffLimit  = 100000
	UserChannelDiffLimit = 100
)

// gapError is process_updates'/apply_channel_difference's internal
// signal that the caller should stop applying and fall back to a
// difference fetch; it is never meant to reach an application's updates
// queue (spec.md §7: "GapError (internal to MessageBox): never surfaced
// to callers").
type gapError struct{}

func (gapError) Error() string { return "msgbox: gap detected" }

var errGap error = gapError{}

// IsGap reports whether err is the internal gap signal.
func IsGap(err error) bool { return errors.Is(err, errGap) }

// state is MessageBox's per-entry State: last applied pts and the
// instant a resync becomes due absent further updates.
type state struct {
	pts      int32
	deadline time.Time
}

// possibleGap buffers updates that arrived ahead of the locally known
// pts, in case the missing intermediate ones show up within the grace
// period.
type possibleGap struct {
	deadline time.Time
	updates  []tl.Object
}

// SessionState is the persisted account-wide snapshot (spec.md §6):
// account pts, secret qts, account date, account seq.
type SessionState struct {
	Pts  int32
	Qts  int32
	Date int32
	Seq  int32
}

// ChannelState is one persisted channel pts entry.
type ChannelState struct {
	ChannelID int64
	Pts       int32
}

// ChatHashes resolves the identifying information (access hash, bot-ness)
// a getChannelDifference call needs; supplied by the caller since
// MessageBox never stores channel metadata itself (spec.md §6:
// process_updates(container, chat_hashes, out_updates)).
type ChatHashes interface {
	// ChannelAccessHash reports a channel's access hash, or ok=false if
	// unknown (get_channel_difference then drops the channel's pts
	// entry and ends its diff-fetch rather than guessing).
	ChannelAccessHash(channelID int64) (accessHash int64, ok bool)
	// SelfIsBot selects the BOT_CHANNEL_DIFF_LIMIT vs
	// USER_CHANNEL_DIFF_LIMIT get_channel_difference limit.
	SelfIsBot() bool
	// Extend records a difference's embedded users/chats so their
	// access hashes are available for subsequent channel lookups.
	Extend(users, chats []tl.Object)
}

// Box is MessageBox (spec.md §3/§4.5): per-entry pts/deadline bookkeeping,
// gap buffering, and difference-fetch arbitration. Safe for concurrent
// use; every public method takes the box's own lock.
type Box struct {
	mu sync.Mutex

	entries      map[Entry]*state
	date         int32
	seq          int32
	nextDeadline Entry

	possibleGaps map[Entry]*possibleGap
	gettingDiff  map[Entry]bool

	resetDeadlinesFor map[Entry]bool

	factory UpdateFactory
}

// UpdateFactory lets the external TL schema supply the update wrappers
// MessageBox must synthesize when a difference embeds bare messages with
// no update envelope of their own (spec.md §4.5's apply_difference_type).
type UpdateFactory interface {
	NewMessageUpdate(message tl.Object) tl.Object
	NewEncryptedMessageUpdate(message tl.Object) tl.Object
}

// New returns an empty Box; Load or ApplyDifference populates it before
// normal operation begins. factory supplies the update wrappers used
// when synthesizing new-message updates out of a difference.
func New(factory UpdateFactory) *Box {
	return &Box{
		entries:           make(map[Entry]*state),
		nextDeadline:      Account,
		possibleGaps:      make(map[Entry]*possibleGap),
		gettingDiff:       make(map[Entry]bool),
		resetDeadlinesFor: make(map[Entry]bool),
		factory:           factory,
	}
}

// Load rebuilds a Box from a previously persisted session/channel state
// (spec.md §6's `load(session_state, channel_states)`).
func (b *Box) Load(session SessionState, channels []ChannelState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	deadline := time.Now().Add(NoUpdatesTimeout)
	b.entries = make(map[Entry]*state)
	if session.Pts != NoSeq {
		b.entries[Account] = &state{pts: session.Pts, deadline: deadline}
	}
	if session.Qts != NoSeq {
		b.entries[Secret] = &state{pts: session.Qts, deadline: deadline}
	}
	for _, c := range channels {
		b.entries[Channel(c.ChannelID)] = &state{pts: c.Pts, deadline: deadline}
	}

	b.date = session.Date
	b.seq = session.Seq
	b.nextDeadline = Account
}

// SessionState returns the current persistable snapshot.
func (b *Box) SessionState() (SessionState, []ChannelState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	session := SessionState{Date: b.date, Seq: b.seq}
	if st, ok := b.entries[Account]; ok {
		session.Pts = st.pts
	}
	if st, ok := b.entries[Secret]; ok {
		session.Qts = st.pts
	}

	var channels []ChannelState
	for entry, st := range b.entries {
		if entry.IsChannel() {
			channels = append(channels, ChannelState{ChannelID: entry.ChannelID(), Pts: st.pts})
		}
	}
	return session, channels
}

// IsEmpty reports whether the box has no account state yet.
func (b *Box) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[Account]
	return !ok
}

// TrySetChannelState sets a channel's pts only if it has no known state
// yet (spec.md §6: useful when getting dialogs, never clobbers a live
// entry).
func (b *Box) TrySetChannelState(id int64, pts int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry := Channel(id)
	if _, ok := b.entries[entry]; !ok {
		b.entries[entry] = &state{pts: pts, deadline: time.Now().Add(NoUpdatesTimeout)}
	}
}

// setState installs Account/Secret state directly from a difference's
// reported state, dropping the entry entirely when the reported pts is
// NoSeq.
func (b *Box) setState(session SessionState) {
	deadline := time.Now().Add(NoUpdatesTimeout)
	if session.Pts != NoSeq {
		b.entries[Account] = &state{pts: session.Pts, deadline: deadline}
	} else {
		delete(b.entries, Account)
	}
	if session.Qts != NoSeq {
		b.entries[Secret] = &state{pts: session.Qts, deadline: deadline}
	} else {
		delete(b.entries, Secret)
	}
	b.date = session.Date
	b.seq = session.Seq
}

// beginGetDiff marks entry as needing a difference fetch and clears any
// gap buffered for it.
func (b *Box) beginGetDiff(entry Entry) {
	b.gettingDiff[entry] = true
	delete(b.possibleGaps, entry)
}

// endGetDiff clears entry's diff-fetch flag and resets its deadline.
func (b *Box) endGetDiff(entry Entry) {
	delete(b.gettingDiff, entry)
	b.resetDeadlineLocked(entry, time.Now().Add(NoUpdatesTimeout))
}

// CheckDeadlines implements spec.md §4.5's check_deadlines(): returns the
// next instant a resync becomes due absent further updates, and promotes
// any expired entry into getting-difference mode as a side effect.
func (b *Box) CheckDeadlines() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if len(b.gettingDiff) > 0 {
		return now
	}

	deadline := now.Add(NoUpdatesTimeout)
	if len(b.possibleGaps) > 0 {
		for _, gap := range b.possibleGaps {
			if gap.deadline.Before(deadline) {
				deadline = gap.deadline
			}
		}
	} else if st, ok := b.entries[b.nextDeadline]; ok {
		if st.deadline.Before(deadline) {
			deadline = st.deadline
		}
	}

	if now.After(deadline) {
		for entry, gap := range b.possibleGaps {
			if now.After(gap.deadline) {
				b.gettingDiff[entry] = true
			}
		}
		for entry, st := range b.entries {
			if now.After(st.deadline) {
				b.gettingDiff[entry] = true
			}
		}
		for entry := range b.gettingDiff {
			delete(b.possibleGaps, entry)
		}
	}
	return deadline
}

// resetDeadlineLocked updates entry's deadline and keeps next_deadline's
// argmin cache coherent (spec.md §4.5).
func (b *Box) resetDeadlineLocked(entry Entry, deadline time.Time) {
	if st, ok := b.entries[entry]; ok {
		st.deadline = deadline
	}

	if b.nextDeadline == entry {
		b.nextDeadline = b.argminDeadlineLocked()
	} else if st, ok := b.entries[b.nextDeadline]; ok && deadline.Before(st.deadline) {
		b.nextDeadline = entry
	}
}

func (b *Box) argminDeadlineLocked() Entry {
	var best Entry
	var bestSet bool
	for entry, st := range b.entries {
		if !bestSet || st.deadline.Before(b.entries[best].deadline) {
			best, bestSet = entry, true
		}
	}
	return best
}

// ResetChannelDeadline resets a channel's deadline to now+timeout, or
// now+NoUpdatesTimeout when timeout is zero.
func (b *Box) ResetChannelDeadline(id int64, timeout time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if timeout <= 0 {
		timeout = NoUpdatesTimeout
	}
	b.resetDeadlineLocked(Channel(id), time.Now().Add(timeout))
}

// applyDeadlinesReset flushes the batched "touched this round" entries
// queued by ProcessUpdates, each reset to now+NoUpdatesTimeout.
func (b *Box) applyDeadlinesReset() {
	deadline := time.Now().Add(NoUpdatesTimeout)
	for entry := range b.resetDeadlinesFor {
		b.resetDeadlineLocked(entry, deadline)
	}
	b.resetDeadlinesFor = make(map[Entry]bool)
}

// ProcessUpdates implements spec.md §4.5's process_updates(container):
// out is the list of updates that applied cleanly (in arrival order plus
// any gap-buffered updates resolved this round); users/chats are the
// container's own, passed through unconditionally. A gap returns
// (nil, nil, nil, errGap) with the offending entry already queued for
// difference-fetch.
func (b *Box) ProcessUpdates(c Container) (out, users, chats []tl.Object, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	date, hasDate := c.Date()
	if !hasDate {
		b.beginGetDiff(Account)
		return nil, nil, nil, errGap
	}

	seq := c.Seq()
	seqStart := c.SeqStart()
	if seqStart == NoSeq {
		seqStart = seq
	}
	users, chats = c.Users(), c.Chats()
	inner := c.Updates()

	if seqStart != NoSeq {
		switch {
		case b.seq+1 > seqStart:
			return nil, users, chats, nil
		case b.seq+1 < seqStart:
			b.beginGetDiff(Account)
			return nil, nil, nil, errGap
		default:
			b.date = date
			if seq != NoSeq {
				b.seq = seq
			}
		}
	}

	for _, u := range inner {
		if applied := b.applyPtsInfoLocked(u, true); applied != nil {
			out = append(out, applied)
		}
	}

	b.applyDeadlinesReset()

	for entry, gap := range b.possibleGaps {
		sort.SliceStable(gap.updates, func(i, j int) bool {
			return gapSortKey(gap.updates[i]) < gapSortKey(gap.updates[j])
		})
		pending := gap.updates
		gap.updates = nil
		for _, u := range pending {
			// applyPtsInfoLocked re-buffers an update that is still ahead
			// of the local pts, and drops a duplicate.
			if applied := b.applyPtsInfoLocked(u, false); applied != nil {
				out = append(out, applied)
			}
		}
		if len(gap.updates) == 0 {
			delete(b.possibleGaps, entry)
		}
	}

	return out, users, chats, nil
}

func gapSortKey(u tl.Object) int32 {
	if info := extractPtsInfo(u); info != nil {
		return info.pts - info.ptsCount
	}
	return 0
}

// applyPtsInfoLocked implements spec.md §4.5's apply_pts_info; caller
// holds b.mu.
func (b *Box) applyPtsInfoLocked(u tl.Object, resetDeadline bool) tl.Object {
	info := extractPtsInfo(u)
	if info == nil {
		return u
	}

	if resetDeadline {
		b.resetDeadlinesFor[info.entry] = true
	}

	if b.gettingDiff[info.entry] {
		return nil
	}

	if st, ok := b.entries[info.entry]; ok {
		local := st.pts
		switch {
		case local+info.ptsCount > info.pts:
			return nil
		case local+info.ptsCount < info.pts:
			gap, ok := b.possibleGaps[info.entry]
			if !ok {
				gap = &possibleGap{deadline: time.Now().Add(PossibleGapTimeout)}
				b.possibleGaps[info.entry] = gap
			}
			gap.updates = append(gap.updates, u)
			return nil
		default:
			st.pts = local + info.ptsCount
			return u
		}
	}

	local := info.pts - 1
	b.entries[info.entry] = &state{pts: local + info.ptsCount, deadline: time.Now().Add(NoUpdatesTimeout)}
	return u
}
