package mtproto

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nullx/mtcore/mtconfig"
	"github.com/nullx/mtcore/mtcrypto"
	"github.com/nullx/mtcore/mtlog"
	"github.com/nullx/mtcore/mtmetrics"
	"github.com/nullx/mtcore/session"
	"github.com/nullx/mtcore/tl"
	"github.com/nullx/mtcore/transport"
)

// SenderPhase is the MTProtoSender state machine's position (spec.md
// §4.4: "Disconnected -> (Connecting -> KeyGen?)* -> Running ->
// (Reconnecting -> Connecting ...) -> Disconnected").
type SenderPhase int32

const (
	PhaseDisconnected SenderPhase = iota
	PhaseConnecting
	PhaseKeyGen
	PhaseRunning
	PhaseReconnecting
)

const pingDelay = 60 * time.Second

// lastAcksCap bounds the last_acks memory pop_states consults (spec.md
// §4.4.3), matching the send loop's "drain pending_ack... bounded N=10".
const lastAcksCap = 10

// Sender is MTProtoSender (spec.md §4.4): owns the transport, the
// MTProtoState envelope, the MessagePacker queue, the pending-request
// map, and the send/receive/keep-alive task lifecycle. Concurrency is
// structured with golang.org/x/sync/errgroup and a
// golang.org/x/sync/semaphore.Weighted connect guard, standing in for
// the teacher's manual sync.WaitGroup + stop-channel fan-out while
// preserving the same serialization guarantees (spec.md §5).
type Sender struct {
	Registry  tl.Registry
	AppConfig *mtconfig.AppConfig
	Options   mtconfig.SenderOptions
	Log       mtlog.Logger
	Metrics   *mtmetrics.Metrics
	Crypto    mtcrypto.Provider
	Store     session.Store
	Auth      []ServerPublicKey

	transport transport.Transport
	newConn   func() transport.Transport

	state   *State
	authKey *AuthKey
	packer  *Packer

	connectSem *semaphore.Weighted

	mu            sync.Mutex
	phase         SenderPhase
	userConnected bool
	reconnecting  bool

	pending   map[int64]*RequestState
	lastAcks  []*RequestState
	pendingAck []int64

	outstandingPing    *int64
	nextPing           time.Time
	lastContainerFirst int64 // first_msg_id from the most recent NewSessionCreated

	updates chan tl.Object
	lastUpdatesWarn time.Time

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	dcID int32
	addr string
}

// NewSender builds a Sender in PhaseDisconnected. newConn is invoked each
// (re)connect attempt to obtain a fresh Transport (e.g. a fresh *TCP for
// the target address) since a closed Transport cannot be reused.
func NewSender(cfg *mtconfig.AppConfig, opts mtconfig.SenderOptions, registry tl.Registry,
	crypto mtcrypto.Provider, store session.Store, keys []ServerPublicKey,
	newConn func() transport.Transport) *Sender {

	if crypto == nil {
		crypto = mtcrypto.Default{}
	}
	authKey := NewAuthKey(crypto)
	return &Sender{
		Registry:   registry,
		AppConfig:  cfg,
		Options:    opts,
		Crypto:     crypto,
		Store:      store,
		Auth:       keys,
		newConn:    newConn,
		authKey:    authKey,
		connectSem: semaphore.NewWeighted(1),
		pending:    make(map[int64]*RequestState),
		updates:    make(chan tl.Object, maxInt(opts.UpdatesQueueSize, 1)),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (s *Sender) Updates() <-chan tl.Object { return s.updates }

func (s *Sender) Phase() SenderPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Sender) setPhase(p SenderPhase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// Connect implements spec.md §4.4's connect(): guarded by a weighted
// semaphore of 1 (the mutual-exclusion guard), retried up to
// Options.Retries times with Options.RetryDelayMillis between attempts.
func (s *Sender) Connect(ctx context.Context, dcID int32, addr string) error {
	if err := s.connectSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.connectSem.Release(1)

	s.dcID, s.addr = dcID, addr
	retries := s.Options.Retries
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		s.setPhase(PhaseConnecting)
		if err := s.connectOnce(ctx); err != nil {
			lastErr = err
			s.Log.Warn("connect attempt %d/%d to DC %d (%s) failed: %v", attempt+1, retries, dcID, addr, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(s.Options.RetryDelayMillis) * time.Millisecond):
			}
			continue
		}
		return nil
	}
	s.setPhase(PhaseDisconnected)
	return lastErr
}

func (s *Sender) connectOnce(ctx context.Context) error {
	tr := s.newConn()
	if err := tr.Connect(ctx, 10*time.Second); err != nil {
		return err
	}

	if s.state == nil {
		sessionID, err := s.Crypto.RandomBytes(8)
		if err != nil {
			_ = tr.Disconnect()
			return err
		}
		s.state = NewState(s.authKey, s.Crypto, int64(getUint64LE(sessionID)))
		s.packer = NewPacker(s.state)
	}

	if s.authKey.Empty() {
		s.setPhase(PhaseKeyGen)
		if err := s.keyGen(tr); err != nil {
			_ = tr.Disconnect()
			return err
		}
	}

	s.transport = tr
	s.ctx, s.cancel = context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(s.ctx)
	s.group = g

	s.mu.Lock()
	s.userConnected = true
	s.reconnecting = false
	s.mu.Unlock()

	g.Go(func() error { return s.sendLoop(gctx) })
	g.Go(func() error { return s.receiveLoop(gctx) })

	s.setPhase(PhaseRunning)
	return nil
}

// keyGen runs the authenticator over a plain sender on the just-dialed
// transport (spec.md §4.4: "If the held auth key is empty, perform
// authentication via §4.2").
func (s *Sender) keyGen(tr transport.Transport) error {
	plain := NewPlainSender(tr)
	authr := NewAuthenticator(plain, s.Crypto, s.Auth)
	result, err := authr.Run()
	if err != nil {
		return err
	}
	s.authKey.Set(result.AuthKeyBytes)
	s.state.SetSalt(result.ServerSalt)
	s.state.SetTimeOffset(result.TimeOffset)
	return nil
}

// Send implements spec.md §4.4's send(): rejects when not
// user-connected, builds one RequestState per request (chained via
// After when ordered), enqueues them, and returns completion handles.
func (s *Sender) Send(ctx context.Context, ordered bool, reqs ...tl.Request) ([]*RequestState, error) {
	s.mu.Lock()
	connected := s.userConnected
	s.mu.Unlock()
	if !connected {
		return nil, ErrNotConnected
	}

	states := make([]*RequestState, len(reqs))
	var prev *RequestState
	for i, r := range reqs {
		st := NewRequestState(r)
		if ordered {
			st.After = prev
		}
		states[i] = st
		prev = st
		s.packer.Enqueue(st)
	}
	return states, nil
}

// SendSync sends a single request and blocks for its result.
func (s *Sender) SendSync(ctx context.Context, req tl.Request) (any, error) {
	states, err := s.Send(ctx, false, req)
	if err != nil {
		return nil, err
	}
	res := states[0].Wait()
	return res.Value, res.Err
}

// sendLoop is the send task (spec.md §4.4 "Send loop").
func (s *Sender) sendLoop(ctx context.Context) error {
	for {
		s.mu.Lock()
		connected, reconnecting := s.userConnected, s.reconnecting
		s.mu.Unlock()
		if !connected || reconnecting {
			return nil
		}

		s.drainPendingAck()

		timeout := time.Until(s.nextPingDeadline())
		if timeout <= 0 {
			timeout = time.Millisecond
		}
		getCtx, cancel := context.WithTimeout(ctx, timeout)
		batch, payload, err := s.packer.Get(getCtx)
		cancel()
		if err != nil {
			if err == context.DeadlineExceeded {
				s.issueKeepAlive()
				continue
			}
			return nil
		}

		msgID := batch[0].MsgID
		seqNo := s.lastSeqNoFor(batch)
		encrypted, err := s.state.EncryptMessageData(msgID, seqNo, payload)
		if err != nil {
			s.completeAll(batch, nil, err)
			continue
		}

		s.mu.Lock()
		for _, st := range batch {
			if st.ContentRelated() {
				s.pending[st.MsgID] = st
			}
		}
		s.mu.Unlock()
		s.Metrics.SetPending(len(s.pending))

		if err := s.transport.Send(encrypted); err != nil {
			s.startReconnect(err)
			return nil
		}
	}
}

// lastSeqNoFor draws a fresh seq_no from State for the outer encrypted
// envelope (content-related when any message in the batch is). It is
// separate from the per-message seq_nos Packer.assignAndWrap already
// assigned, and advances State's counter once more when content-related.
func (s *Sender) lastSeqNoFor(batch []*RequestState) int32 {
	anyContentRelated := false
	for _, st := range batch {
		if st.ContentRelated() {
			anyContentRelated = true
			break
		}
	}
	return s.state.NextSeqNo(anyContentRelated)
}

func (s *Sender) completeAll(batch []*RequestState, value any, err error) {
	for _, st := range batch {
		st.Complete(value, err)
	}
}

func (s *Sender) drainPendingAck() {
	s.mu.Lock()
	if len(s.pendingAck) == 0 {
		s.mu.Unlock()
		return
	}
	ids := s.pendingAck
	s.pendingAck = nil
	s.mu.Unlock()

	st := NewRequestState(msgsAck{MsgIDs: ids})
	s.packer.Enqueue(st)
	s.recordLastAck(st)
}

func (s *Sender) recordLastAck(st *RequestState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAcks = append(s.lastAcks, st)
	if len(s.lastAcks) > lastAcksCap {
		s.lastAcks = s.lastAcks[len(s.lastAcks)-lastAcksCap:]
	}
}

func (s *Sender) nextPingDeadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextPing.IsZero() {
		s.nextPing = time.Now().Add(pingDelay)
	}
	return s.nextPing
}

// issueKeepAlive implements spec.md §4.4.1.
func (s *Sender) issueKeepAlive() {
	s.mu.Lock()
	outstanding := s.outstandingPing
	s.mu.Unlock()

	if outstanding != nil {
		s.startReconnect(nil)
		return
	}

	pingID := rand.Int63()
	st := NewRequestState(ping{PingID: pingID})
	s.packer.Enqueue(st)

	s.mu.Lock()
	s.outstandingPing = &pingID
	s.nextPing = time.Now().Add(pingDelay)
	s.mu.Unlock()
}

// receiveLoop is the receive task (spec.md §4.4 "Receive loop").
func (s *Sender) receiveLoop(ctx context.Context) error {
	for {
		s.mu.Lock()
		connected, reconnecting := s.userConnected, s.reconnecting
		s.mu.Unlock()
		if !connected || reconnecting {
			return nil
		}

		raw, err := s.transport.Recv()
		if err != nil {
			s.startReconnect(err)
			return nil
		}

		// A bare 4-byte frame is the transport-level error indicator (a
		// negative int32 the server sends instead of an encrypted
		// message when it rejects the connection outright); -404 means
		// our auth key is no longer valid (spec.md §4.4's
		// InvalidBufferError(404) row).
		if len(raw) == 4 {
			code := -int32(getUint32LE(raw))
			if code == 404 {
				s.authKey.Clear()
				s.Disconnect()
				return nil
			}
			s.startReconnect(&InvalidBufferError{Code: int(code)})
			return nil
		}

		decoded, err := s.state.DecryptMessageData(raw)
		if err != nil {
			s.Log.Warn("dropping undecryptable message: %v", err)
			continue
		}

		obj, err := decodeObject(tl.NewDecodeBuf(decoded.Body), s.Registry)
		if err != nil {
			s.Log.Warn("dropping undecodable message %d: %v", decoded.MessageID, err)
			continue
		}

		s.dispatch(decoded.MessageID, decoded.SeqNo, obj)
	}
}

// Disconnect tears the connection down without reconnecting, completing
// every pending request with ErrDisconnected (spec.md §5, Cancellation).
func (s *Sender) Disconnect() {
	s.mu.Lock()
	s.userConnected = false
	pending := s.pending
	s.pending = make(map[int64]*RequestState)
	s.mu.Unlock()

	if s.transport != nil {
		_ = s.transport.Disconnect()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.group != nil {
		_ = s.group.Wait()
	}
	for _, st := range pending {
		st.Complete(nil, ErrDisconnected.Here())
	}
	s.setPhase(PhaseDisconnected)
}
