package call

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/santerog80-rgb/Talkio/internal/domain"
)

// Role distinguishes the side that sent the offer from the side answering it.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// State is the lifecycle position of a Session.
type State int

const (
	// StateIdle: created, not yet negotiating. A callee session holds the
	// remote offer here until it is accepted or rejected.
	StateIdle State = iota
	// StateOffering: local offer sent, awaiting the answer record.
	StateOffering
	// StateAnswering: local answer sent, awaiting transport connection.
	StateAnswering
	// StateConnected: the transport reported a connected state.
	StateConnected
	// StateEnded: terminated by either side.
	StateEnded
	// StateFailed: the transport or a negotiation step failed permanently.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) terminal() bool {
	return s == StateEnded || s == StateFailed
}

// EndReason explains why a session reached a terminal state.
type EndReason string

const (
	ReasonHangup   EndReason = "hangup"
	ReasonRejected EndReason = "rejected"
	ReasonTimeout  EndReason = "timeout"
	ReasonFailed   EndReason = "failed"
)

// events receives session lifecycle notifications. Implemented by Router,
// which fans them out to registered observers.
type events interface {
	remoteTrack(s *Session, track domain.TrackInfo)
	connectionState(s *Session, state domain.TransportState)
	ended(s *Session, reason EndReason, detail string)
}

// Session is one active or pending call. It owns exactly one transport and
// is itself owned by the Router, which destroys it on terminal state.
type Session struct {
	ID         string
	Role       Role
	RemoteUser string

	localUser string
	signals   domain.SignalStore
	transport domain.Transport
	notify    events

	mu        sync.Mutex
	state     State
	remoteSet bool
	pending   []domain.ICECandidate
	released  bool
	timer     *time.Timer

	pendingTimeout time.Duration
}

func newSession(role Role, localUser, remoteUser string, transport domain.Transport, signals domain.SignalStore, notify events, pendingTimeout time.Duration) *Session {
	s := &Session{
		ID:             uuid.New().String(),
		Role:           role,
		RemoteUser:     remoteUser,
		localUser:      localUser,
		signals:        signals,
		transport:      transport,
		notify:         notify,
		state:          StateIdle,
		pendingTimeout: pendingTimeout,
	}

	transport.OnICECandidate(func(cand domain.ICECandidate) {
		// Trickle local candidates as they are discovered. Best effort:
		// a lost candidate degrades connectivity, it does not break state.
		go func() {
			rec := domain.SignalRecord{
				FromUser: s.localUser,
				ToUser:   s.RemoteUser,
				Type:     domain.SignalCandidate,
				Payload:  domain.SignalPayload{Candidate: &cand},
			}
			if _, err := s.signals.Send(context.Background(), rec); err != nil {
				log.Printf("[call] send candidate: %v", err)
			}
		}()
	})

	transport.OnTrack(func(track domain.TrackInfo) {
		s.notify.remoteTrack(s, track)
	})

	transport.OnConnectionStateChange(func(state domain.TransportState) {
		s.onTransportState(state)
	})

	return s
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initiate creates and sends the offer. Caller role, Idle state only.
func (s *Session) Initiate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Role != RoleCaller {
		return fmt.Errorf("initiate: session is %s", s.Role)
	}
	if s.state != StateIdle {
		return fmt.Errorf("initiate in state %s: %w", s.state, domain.ErrSessionClosed)
	}

	offer, err := s.transport.CreateOffer(ctx)
	if err != nil {
		s.failLocked(fmt.Sprintf("create offer: %v", err))
		return fmt.Errorf("create offer: %w", domain.ErrNegotiationFailed)
	}

	rec := domain.SignalRecord{
		FromUser: s.localUser,
		ToUser:   s.RemoteUser,
		Type:     domain.SignalOffer,
		Payload:  domain.SignalPayload{SDP: &offer},
	}
	if _, err := s.signals.Send(ctx, rec); err != nil {
		s.failLocked(fmt.Sprintf("send offer: %v", err))
		return fmt.Errorf("send offer: %w", err)
	}

	s.state = StateOffering
	s.armTimerLocked()
	log.Printf("[call] %s: offer sent to %s", s.ID, s.RemoteUser)
	return nil
}

// handleRemoteOffer stores the remote offer on a freshly created callee
// session. Candidates that raced ahead of the offer are flushed afterwards.
func (s *Session) handleRemoteOffer(ctx context.Context, desc domain.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.terminal() {
		return domain.ErrSessionClosed
	}
	if err := s.transport.SetRemoteDescription(ctx, desc); err != nil {
		s.failLocked(fmt.Sprintf("apply offer: %v", err))
		return fmt.Errorf("apply offer: %w", domain.ErrNegotiationFailed)
	}
	s.remoteSet = true
	s.flushPendingLocked(ctx)
	s.armTimerLocked()
	return nil
}

// Accept answers an incoming call. Callee role, Idle state only.
func (s *Session) Accept(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Role != RoleCallee {
		return fmt.Errorf("accept: session is %s", s.Role)
	}
	if s.state != StateIdle {
		return fmt.Errorf("accept in state %s: %w", s.state, domain.ErrSessionClosed)
	}

	answer, err := s.transport.CreateAnswer(ctx)
	if err != nil {
		s.failLocked(fmt.Sprintf("create answer: %v", err))
		return fmt.Errorf("create answer: %w", domain.ErrNegotiationFailed)
	}

	rec := domain.SignalRecord{
		FromUser: s.localUser,
		ToUser:   s.RemoteUser,
		Type:     domain.SignalAnswer,
		Payload:  domain.SignalPayload{SDP: &answer},
	}
	if _, err := s.signals.Send(ctx, rec); err != nil {
		s.failLocked(fmt.Sprintf("send answer: %v", err))
		return fmt.Errorf("send answer: %w", err)
	}

	s.state = StateAnswering
	s.armTimerLocked()
	log.Printf("[call] %s: answer sent to %s", s.ID, s.RemoteUser)
	return nil
}

// Reject declines an incoming call and terminates the session.
func (s *Session) Reject(ctx context.Context) error {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	rec := domain.SignalRecord{
		FromUser: s.localUser,
		ToUser:   s.RemoteUser,
		Type:     domain.SignalCallReject,
	}
	if _, err := s.signals.Send(ctx, rec); err != nil {
		log.Printf("[call] %s: send reject: %v", s.ID, err)
	}

	s.terminate(StateEnded, ReasonRejected, "")
	return nil
}

// End hangs up. Safe to call in any state, including concurrently with an
// in-flight negotiation step; a no-op once the session is terminal.
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	rec := domain.SignalRecord{
		FromUser: s.localUser,
		ToUser:   s.RemoteUser,
		Type:     domain.SignalCallEnd,
	}
	if _, err := s.signals.Send(ctx, rec); err != nil {
		log.Printf("[call] %s: send call-end: %v", s.ID, err)
	}

	s.terminate(StateEnded, ReasonHangup, "")
	return nil
}

// handleAnswer applies the remote answer. Only valid while Offering and only
// from the session's own peer; anything else is stale.
func (s *Session) handleAnswer(ctx context.Context, rec domain.SignalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOffering || rec.FromUser != s.RemoteUser {
		return domain.ErrStaleSignal
	}
	if rec.Payload.SDP == nil {
		return domain.ErrStaleSignal
	}

	if err := s.transport.SetRemoteDescription(ctx, *rec.Payload.SDP); err != nil {
		s.failLocked(fmt.Sprintf("apply answer: %v", err))
		return fmt.Errorf("apply answer: %w", domain.ErrNegotiationFailed)
	}
	s.remoteSet = true
	s.flushPendingLocked(ctx)
	log.Printf("[call] %s: answer applied", s.ID)
	return nil
}

// handleCandidate applies a remote candidate, or buffers it when the remote
// description is not yet set. The relay gives no ordering guarantee between
// an answer and candidates sent after it, so buffering is not an error path.
func (s *Session) handleCandidate(ctx context.Context, rec domain.SignalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.terminal() {
		return domain.ErrSessionClosed
	}
	if rec.Payload.Candidate == nil {
		return domain.ErrStaleSignal
	}

	if !s.remoteSet {
		s.pending = append(s.pending, *rec.Payload.Candidate)
		log.Printf("[call] %s: buffered candidate (%d pending)", s.ID, len(s.pending))
		return nil
	}
	if err := s.transport.AddICECandidate(ctx, *rec.Payload.Candidate); err != nil {
		return fmt.Errorf("add candidate: %w", domain.ErrNegotiationFailed)
	}
	return nil
}

// handleRemoteEnd processes call-end / call-reject. Idempotent.
func (s *Session) handleRemoteEnd(typ domain.SignalType) {
	reason := ReasonHangup
	if typ == domain.SignalCallReject {
		reason = ReasonRejected
	}
	s.terminate(StateEnded, reason, "")
}

// flushPendingLocked applies buffered candidates in arrival order. Called
// with the mutex held, immediately after the remote description is applied.
func (s *Session) flushPendingLocked(ctx context.Context) {
	for _, cand := range s.pending {
		if err := s.transport.AddICECandidate(ctx, cand); err != nil {
			log.Printf("[call] %s: flush candidate: %v", s.ID, err)
		}
	}
	s.pending = nil
}

func (s *Session) onTransportState(state domain.TransportState) {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}

	switch state {
	case domain.TransportConnected:
		s.state = StateConnected
		s.stopTimerLocked()
		s.mu.Unlock()
		log.Printf("[call] %s: connected", s.ID)
	case domain.TransportFailed:
		s.mu.Unlock()
		s.terminate(StateFailed, ReasonFailed, "transport failure")
		return
	default:
		s.mu.Unlock()
	}

	s.notify.connectionState(s, state)
}

// onTimeout fires when a pending negotiation outlived pendingTimeout.
func (s *Session) onTimeout() {
	s.mu.Lock()
	pending := s.state == StateIdle || s.state == StateOffering || s.state == StateAnswering
	s.mu.Unlock()
	if !pending {
		return
	}
	log.Printf("[call] %s: negotiation timed out", s.ID)
	s.terminate(StateFailed, ReasonTimeout, "negotiation timed out")
}

// failLocked moves a non-terminal session to Failed. Mutex held by caller.
func (s *Session) failLocked(detail string) {
	if s.state.terminal() {
		return
	}
	s.state = StateFailed
	s.stopTimerLocked()
	s.releaseLocked()
	go s.notify.ended(s, ReasonFailed, detail)
}

// terminate moves the session to a terminal state and releases the
// transport exactly once.
func (s *Session) terminate(final State, reason EndReason, detail string) {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	s.state = final
	s.stopTimerLocked()
	s.releaseLocked()
	s.mu.Unlock()

	log.Printf("[call] %s: %s (%s)", s.ID, final, reason)
	s.notify.ended(s, reason, detail)
}

// releaseLocked closes the transport. Guarded against double release.
func (s *Session) releaseLocked() {
	if s.released {
		return
	}
	s.released = true
	if err := s.transport.Close(); err != nil {
		log.Printf("[call] %s: close transport: %v", s.ID, err)
	}
}

func (s *Session) armTimerLocked() {
	if s.pendingTimeout <= 0 {
		return
	}
	s.stopTimerLocked()
	s.timer = time.AfterFunc(s.pendingTimeout, s.onTimeout)
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
