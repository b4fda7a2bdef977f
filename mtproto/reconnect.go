package mtproto

import (
	"context"
	"time"
)

// startReconnect implements spec.md §4.4.4: idempotent (a no-op if
// already reconnecting or not user-connected), otherwise spawns the
// reconnect task in the background.
func (s *Sender) startReconnect(cause error) {
	s.mu.Lock()
	if s.reconnecting || !s.userConnected {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	s.setPhase(PhaseReconnecting)
	s.Metrics.IncReconnect()
	if cause != nil {
		s.Log.Warn("reconnecting after: %v", cause)
	} else {
		s.Log.Warn("reconnecting: keep-alive liveness lost")
	}

	go s.runReconnect()
}

func (s *Sender) runReconnect() {
	if s.transport != nil {
		_ = s.transport.Disconnect()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.group != nil {
		_ = s.group.Wait()
	}

	s.mu.Lock()
	s.reconnecting = false
	s.mu.Unlock()

	// spec.md §4.4.4 step 4: reconnect resets State with a fresh session
	// id, never the old one — reusing it would let a stale msg_id from
	// before the drop collide with one issued after.
	sessionID, err := s.Crypto.RandomBytes(8)
	if err != nil {
		s.Log.Warn("reconnect: failed to generate a fresh session id: %v", err)
		sessionID = make([]byte, 8)
	}
	s.state.Reset(int64(getUint64LE(sessionID)))

	// spec.md §4.4.4 step 5: "or forever if auto-reconnect is disabled,
	// zero attempts instead" — read here as AutoReconnect gating the loop
	// entirely (false = give up immediately) and Retries<=0 meaning
	// "retry forever" once the loop is allowed to run at all.
	if !s.Options.AutoReconnect {
		s.finalDisconnect()
		return
	}

	retries := s.Options.Retries
	forever := retries <= 0
	ctx := context.Background()
	for attempt := 0; forever || attempt < retries; attempt++ {
		if err := s.Connect(ctx, s.dcID, s.addr); err == nil {
			s.requeuePendingAfterReconnect()
			return
		}
		time.Sleep(time.Duration(s.Options.RetryDelayMillis) * time.Millisecond)
	}
	s.finalDisconnect()
}

// requeuePendingAfterReconnect re-enqueues every request that was
// in-flight when the connection dropped, preserving their original Req
// and After chain but discarding the stale msg_id/container_id (spec.md
// §4.4.4 implies resend: the pending map survived Reset(), only the
// transport/session identity changed).
func (s *Sender) requeuePendingAfterReconnect() {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[int64]*RequestState)
	s.mu.Unlock()

	for _, st := range pending {
		s.requeue(st)
	}
}

// finalDisconnect is reached when reconnection gives up for good:
// complete every pending request with ErrDisconnected and settle in
// PhaseDisconnected.
func (s *Sender) finalDisconnect() {
	s.mu.Lock()
	s.userConnected = false
	pending := s.pending
	s.pending = make(map[int64]*RequestState)
	s.mu.Unlock()

	for _, st := range pending {
		st.Complete(nil, ErrDisconnected.Here())
	}
	s.setPhase(PhaseDisconnected)
}
