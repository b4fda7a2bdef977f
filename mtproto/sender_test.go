package mtproto

import (
	"testing"
	"time"

	"github.com/nullx/mtcore/mtconfig"
	"github.com/nullx/mtcore/mtcrypto"
	"github.com/nullx/mtcore/mtlog"
	"github.com/nullx/mtcore/mtmetrics"
	"github.com/nullx/mtcore/tl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLogOutMethod struct{}

func (fakeLogOutMethod) CRC() uint32                           { return 0x5717da40 }
func (fakeLogOutMethod) Encode() ([]byte, error)                { return []byte{}, nil }
func (fakeLogOutMethod) ReadResult(*tl.DecodeBuf) (any, error) { return nil, nil }
func (fakeLogOutMethod) IsLogOut() bool                         { return true }

func newTestSender(t *testing.T) *Sender {
	t.Helper()
	key := NewAuthKey(mtcrypto.Default{})
	key.Set(make([]byte, 256))
	state := NewState(key, mtcrypto.Default{}, 1)

	return &Sender{
		Options: mtconfig.SenderOptions{AutoReconnect: false, Retries: 1, RetryDelayMillis: 0},
		Log:     mtlog.Logger{},
		Metrics: mtmetrics.New("test", "sender"),
		Crypto:  mtcrypto.Default{},
		authKey: key,
		state:   state,
		packer:  NewPacker(state),
		pending: make(map[int64]*RequestState),
	}
}

// scenario 2: bad_server_salt retry.
func TestHandleBadServerSalt_UpdatesSaltAndRequeues(t *testing.T) {
	s := newTestSender(t)

	st := NewRequestState(fakeMethod{crc: 0xaaaa})
	st.MsgID = 555
	s.pending[555] = st

	s.handleBadServerSalt(0, badServerSalt{BadMsgID: 555, NewServerSalt: 999})

	assert.EqualValues(t, 999, s.state.Salt())
	_, stillPending := s.pending[555]
	assert.False(t, stillPending, "the bad-salt request must be popped out of pending")
	assert.Zero(t, st.MsgID, "requeue() clears the stale msg id before re-enqueuing")
}

// scenario 7: LogOut completes on ack, since Telegram never rpc_results it.
func TestHandleMsgsAck_CompletesLogOut(t *testing.T) {
	s := newTestSender(t)

	st := NewRequestState(fakeLogOutMethod{})
	st.MsgID = 777
	s.pending[777] = st

	s.handleMsgsAck(msgsAck{MsgIDs: []int64{777}})

	select {
	case res := <-st.Done():
		require.NoError(t, res.Err)
		assert.Equal(t, true, res.Value)
	default:
		t.Fatal("LogOut request was not completed by its ack")
	}
	_, stillPending := s.pending[777]
	assert.False(t, stillPending)
}

func TestHandleMsgsAck_IgnoresNonLogOutRequests(t *testing.T) {
	s := newTestSender(t)

	st := NewRequestState(fakeMethod{crc: 1})
	st.MsgID = 888
	s.pending[888] = st

	s.handleMsgsAck(msgsAck{MsgIDs: []int64{888}})

	_, stillPending := s.pending[888]
	assert.True(t, stillPending, "an ordinary content-related request waits for its own rpc_result, not the ack")
}

// scenario 8: a second keep-alive with no pong for the first is a
// liveness failure and must trigger reconnect.
func TestIssueKeepAlive_SecondCallWithNoPongTriggersReconnect(t *testing.T) {
	s := newTestSender(t)
	s.userConnected = true

	s.issueKeepAlive()
	s.mu.Lock()
	outstanding := s.outstandingPing
	s.mu.Unlock()
	require.NotNil(t, outstanding, "first keep-alive enqueues a ping and tracks it")

	s.issueKeepAlive()

	assert.Eventually(t, func() bool {
		return s.Phase() == PhaseDisconnected
	}, time.Second, 5*time.Millisecond, "a second keep-alive with an unanswered ping must reconnect (here: fail, since AutoReconnect is off)")
}

// Reconnect must never reuse the pre-drop session id (spec.md §4.4.4 step
// 4): reusing it risks a stale msg_id colliding with one issued after the
// reconnect.
func TestRunReconnect_AssignsFreshSessionID(t *testing.T) {
	s := newTestSender(t)
	s.userConnected = true
	oldSessionID := s.state.SessionID()

	s.runReconnect()

	assert.NotEqual(t, oldSessionID, s.state.SessionID())
	assert.Equal(t, PhaseDisconnected, s.Phase(), "AutoReconnect is off, so runReconnect settles in Disconnected")
}

func TestRunReconnect_WithoutAutoReconnectFailsPending(t *testing.T) {
	s := newTestSender(t)
	s.Options.AutoReconnect = false
	s.userConnected = true

	st := NewRequestState(fakeMethod{crc: 0xbeef})
	st.MsgID = 42
	s.pending[42] = st

	s.runReconnect()

	s.mu.Lock()
	_, stillPending := s.pending[42]
	s.mu.Unlock()
	assert.False(t, stillPending, "finalDisconnect drains pending, since AutoReconnect is off")

	select {
	case res := <-st.Done():
		assert.Error(t, res.Err)
	default:
		t.Fatal("pending request was never completed")
	}
}
