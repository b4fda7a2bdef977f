package msgbox

import (
	"testing"
	"time"

	"github.com/nullx/mtcore/tl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePtsUpdate is a minimal account-pts update for tests.
type fakePtsUpdate struct {
	id       int
	pts      int32
	ptsCount int32
}

func (u fakePtsUpdate) CRC() uint32         { return 0 }
func (u fakePtsUpdate) Pts() (int32, int32) { return u.pts, u.ptsCount }

// fakeChannelPtsUpdate carries a channel id alongside pts/pts_count.
type fakeChannelPtsUpdate struct {
	fakePtsUpdate
	channelID int64
}

func (u fakeChannelPtsUpdate) ChannelID() int64 { return u.channelID }

// fakeContainer is a minimal Container implementation for process_updates
// tests.
type fakeContainer struct {
	date     int32
	hasDate  bool
	seq      int32
	seqStart int32
	updates  []tl.Object
	users    []tl.Object
	chats    []tl.Object
}

func (c fakeContainer) CRC() uint32          { return 0 }
func (c fakeContainer) Date() (int32, bool)  { return c.date, c.hasDate }
func (c fakeContainer) Seq() int32           { return c.seq }
func (c fakeContainer) SeqStart() int32      { return c.seqStart }
func (c fakeContainer) Updates() []tl.Object { return c.updates }
func (c fakeContainer) Users() []tl.Object   { return c.users }
func (c fakeContainer) Chats() []tl.Object   { return c.chats }

func withAccountPts(t *testing.T, pts int32) *Box {
	t.Helper()
	b := New(nil)
	b.Load(SessionState{Pts: pts, Date: 1}, nil)
	return b
}

// scenario 3: pts_count = 0 vs 1 coexistence.
func TestApplyPtsInfo_ZeroAndOneCountCoexist(t *testing.T) {
	b := New(nil)

	c1 := Channel(1)
	first := fakeChannelPtsUpdate{fakePtsUpdate: fakePtsUpdate{id: 1, pts: 5, ptsCount: 0}, channelID: 1}
	second := fakeChannelPtsUpdate{fakePtsUpdate: fakePtsUpdate{id: 2, pts: 5, ptsCount: 1}, channelID: 1}

	out, _, _, err := b.ProcessUpdates(fakeContainer{hasDate: true, date: 1, updates: []tl.Object{first, second}})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	b.mu.Lock()
	pts := b.entries[c1].pts
	b.mu.Unlock()
	assert.EqualValues(t, 5, pts)
}

// scenario 4: gap then fill within the grace period.
func TestProcessUpdates_GapThenFill(t *testing.T) {
	b := withAccountPts(t, 10)

	u13 := fakePtsUpdate{id: 13, pts: 13, ptsCount: 1}
	out, _, _, err := b.ProcessUpdates(fakeContainer{hasDate: true, date: 2, updates: []tl.Object{u13}})
	require.NoError(t, err)
	assert.Empty(t, out, "out-of-order update must be buffered, not emitted")

	u11 := fakePtsUpdate{id: 11, pts: 11, ptsCount: 1}
	u12 := fakePtsUpdate{id: 12, pts: 12, ptsCount: 1}
	out, _, _, err = b.ProcessUpdates(fakeContainer{hasDate: true, date: 3, updates: []tl.Object{u11, u12}})
	require.NoError(t, err)
	require.Len(t, out, 3)

	got := []int32{}
	for _, o := range out {
		pts, _ := o.(fakePtsUpdate).Pts()
		got = append(got, pts)
	}
	assert.Equal(t, []int32{11, 12, 13}, got)

	b.mu.Lock()
	pts := b.entries[Account].pts
	b.mu.Unlock()
	assert.EqualValues(t, 13, pts)
}

// scenario 5: gap timeout with no filler.
func TestCheckDeadlines_GapTimeout(t *testing.T) {
	b := withAccountPts(t, 10)

	u13 := fakePtsUpdate{id: 13, pts: 13, ptsCount: 1}
	_, _, _, err := b.ProcessUpdates(fakeContainer{hasDate: true, date: 2, updates: []tl.Object{u13}})
	require.NoError(t, err)

	b.mu.Lock()
	b.possibleGaps[Account].deadline = time.Now().Add(-100 * time.Millisecond)
	b.mu.Unlock()

	deadline := b.CheckDeadlines()
	assert.WithinDuration(t, time.Now(), deadline, time.Second)

	b.mu.Lock()
	inDiff := b.gettingDiff[Account]
	b.mu.Unlock()
	assert.True(t, inDiff)
}

// scenario 6: seq gap.
func TestProcessUpdates_SeqGap(t *testing.T) {
	b := New(nil)
	b.mu.Lock()
	b.seq = 5
	b.mu.Unlock()

	out, users, chats, err := b.ProcessUpdates(fakeContainer{hasDate: true, date: 1, seq: 8, seqStart: 8})
	assert.True(t, IsGap(err))
	assert.Nil(t, out)
	assert.Nil(t, users)
	assert.Nil(t, chats)

	b.mu.Lock()
	inDiff := b.gettingDiff[Account]
	b.mu.Unlock()
	assert.True(t, inDiff)
}

func TestProcessUpdates_NoDateIsGap(t *testing.T) {
	b := New(nil)
	_, _, _, err := b.ProcessUpdates(fakeContainer{hasDate: false})
	assert.True(t, IsGap(err))
}

func TestProcessUpdates_AlreadyHandledSeqIsNoop(t *testing.T) {
	b := New(nil)
	b.mu.Lock()
	b.seq = 10
	b.mu.Unlock()

	u := fakePtsUpdate{pts: 1, ptsCount: 1}
	out, _, _, err := b.ProcessUpdates(fakeContainer{hasDate: true, date: 1, seq: 8, seqStart: 8, updates: []tl.Object{u}})
	require.NoError(t, err)
	assert.Nil(t, out, "updates in an already-applied container must not be re-applied")
}

// MessageBox no-duplicate-delivery + monotonicity, over a randomized-ish
// but deterministic interleaving.
func TestProcessUpdates_MonotoneAndNoDuplicates(t *testing.T) {
	b := withAccountPts(t, 0)
	seen := map[int32]int{}

	rounds := [][]fakePtsUpdate{
		{{pts: 1, ptsCount: 1}},
		{{pts: 2, ptsCount: 1}, {pts: 2, ptsCount: 1}}, // second is a stale duplicate
		{{pts: 3, ptsCount: 1}},
	}
	for i, round := range rounds {
		items := make([]tl.Object, len(round))
		for j, u := range round {
			items[j] = u
		}
		out, _, _, err := b.ProcessUpdates(fakeContainer{hasDate: true, date: int32(i + 1), updates: items})
		require.NoError(t, err)
		for _, o := range out {
			pts, _ := o.(fakePtsUpdate).Pts()
			seen[pts]++
		}
	}

	for pts, count := range seen {
		assert.Equalf(t, 1, count, "pts %d delivered %d times", pts, count)
	}

	b.mu.Lock()
	final := b.entries[Account].pts
	b.mu.Unlock()
	assert.EqualValues(t, 3, final)
}

// Difference idempotence: applying DifferenceEmpty twice only moves
// (date, seq) once, and the second application is a no-op.
type fakeDifferenceEmpty struct {
	date int32
	seq  int32
}

func (d fakeDifferenceEmpty) CRC() uint32 { return 0 }
func (d fakeDifferenceEmpty) Date() int32 { return d.date }
func (d fakeDifferenceEmpty) Seq() int32  { return d.seq }

type fakeChatHashes struct{}

func (fakeChatHashes) ChannelAccessHash(int64) (int64, bool) { return 0, false }
func (fakeChatHashes) SelfIsBot() bool                       { return false }
func (fakeChatHashes) Extend([]tl.Object, []tl.Object)       {}


func TestApplyDifference_EmptyIsIdempotent(t *testing.T) {
	b := withAccountPts(t, 1)
	b.mu.Lock()
	b.gettingDiff[Account] = true
	b.mu.Unlock()

	out, users, chats := b.ApplyDifference(fakeDifferenceEmpty{date: 42, seq: 7}, fakeChatHashes{})
	assert.Nil(t, out)
	assert.Nil(t, users)
	assert.Nil(t, chats)

	b.mu.Lock()
	assert.EqualValues(t, 42, b.date)
	assert.EqualValues(t, 7, b.seq)
	b.mu.Unlock()

	out, _, _ = b.ApplyDifference(fakeDifferenceEmpty{date: 42, seq: 7}, fakeChatHashes{})
	assert.Nil(t, out)

	b.mu.Lock()
	assert.EqualValues(t, 42, b.date)
	assert.EqualValues(t, 7, b.seq)
	b.mu.Unlock()
}

func TestTrySetChannelState_DoesNotClobberExisting(t *testing.T) {
	b := New(nil)
	b.TrySetChannelState(7, 100)
	b.TrySetChannelState(7, 200)

	b.mu.Lock()
	pts := b.entries[Channel(7)].pts
	b.mu.Unlock()
	assert.EqualValues(t, 100, pts)
}
