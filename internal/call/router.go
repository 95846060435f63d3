package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/santerog80-rgb/Talkio/internal/domain"
)

// TransportFactory creates a fresh media transport for a session.
type TransportFactory func() (domain.Transport, error)

// Observer receives call lifecycle events. Nil fields are skipped, so an
// observer registers only for what it cares about. Registration is
// one-to-many; observers are invoked in registration order.
type Observer struct {
	IncomingCall    func(s *Session)
	RemoteTrack     func(s *Session, track domain.TrackInfo)
	ConnectionState func(s *Session, state domain.TransportState)
	CallEnded       func(remoteUser string, reason EndReason, detail string)
}

// Config tunes Router behavior.
type Config struct {
	// PendingTimeout bounds how long a session may sit in a pre-connected
	// state before moving to Failed. Zero disables the timeout.
	PendingTimeout time.Duration
}

// Router owns the single relay subscription for the local user and the
// single live session, if any. Every inbound record mutates at most one
// session; the router itself keeps no call state beyond "current or none".
type Router struct {
	localUser string
	signals   domain.SignalStore
	relay     domain.RelayChannel
	factory   TransportFactory
	cfg       Config

	mu        sync.Mutex
	sub       domain.Subscription
	session   *Session
	observers []Observer

	stale     atomic.Uint64
	dupOffers atomic.Uint64
}

// NewRouter wires a router for localUser. Call Start to begin receiving.
func NewRouter(localUser string, signals domain.SignalStore, relay domain.RelayChannel, factory TransportFactory, cfg Config) *Router {
	return &Router{
		localUser: localUser,
		signals:   signals,
		relay:     relay,
		factory:   factory,
		cfg:       cfg,
	}
}

// Register adds an observer. Must be called before Start delivers events to
// guarantee the observer sees every notification.
func (r *Router) Register(obs Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, obs)
}

// Start opens the relay subscription for records addressed to the local
// user. Idempotent: a second Start replaces the existing subscription.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		r.sub.Close()
		r.sub = nil
	}

	sub, err := r.relay.Subscribe(ctx, domain.SignalChannel(r.localUser), func(payload []byte) {
		r.onPayload(ctx, payload)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.SignalChannel(r.localUser), domain.ErrRelayUnavailable)
	}
	r.sub = sub
	log.Printf("[router] subscribed for %s", r.localUser)
	return nil
}

// Close ends the active session and drops the subscription.
func (r *Router) Close() {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	s := r.session
	r.mu.Unlock()

	if s != nil {
		s.End(context.Background())
	}
	if sub != nil {
		sub.Close()
	}
}

// Call starts an outbound call. Fails with ErrDuplicateCall while another
// session is live: there is no call waiting.
func (r *Router) Call(ctx context.Context, toUser string) (*Session, error) {
	r.mu.Lock()
	if s := r.session; s != nil && !s.State().terminal() {
		r.mu.Unlock()
		return nil, domain.ErrDuplicateCall
	}

	transport, err := r.factory()
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("create transport: %w", err)
	}
	s := newSession(RoleCaller, r.localUser, toUser, transport, r.signals, r, r.cfg.PendingTimeout)
	r.session = s
	r.mu.Unlock()

	if err := s.Initiate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Active returns the current session, or nil.
func (r *Router) Active() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// StaleSignals reports how many answer/candidate records were dropped for
// referencing a non-matching or absent session.
func (r *Router) StaleSignals() uint64 { return r.stale.Load() }

// RejectedOffers reports how many offers were auto-rejected because a
// session was already live.
func (r *Router) RejectedOffers() uint64 { return r.dupOffers.Load() }

func (r *Router) onPayload(ctx context.Context, payload []byte) {
	var rec domain.SignalRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		log.Printf("[router] bad record: %v", err)
		return
	}
	if rec.ToUser != r.localUser {
		// The subscription is filtered by the backend; a mismatch here
		// means a misrouted row.
		log.Printf("[router] record for %s on channel of %s", rec.ToUser, r.localUser)
		return
	}
	r.dispatch(ctx, rec)
}

// dispatch routes one record purely by type. Single-flight: the relay
// delivers one record at a time per subscription.
func (r *Router) dispatch(ctx context.Context, rec domain.SignalRecord) {
	switch rec.Type {
	case domain.SignalOffer:
		r.handleOffer(ctx, rec)

	case domain.SignalAnswer:
		s := r.sessionFor(rec.FromUser)
		if s == nil {
			r.stale.Add(1)
			return
		}
		if err := s.handleAnswer(ctx, rec); err != nil {
			if errors.Is(err, domain.ErrStaleSignal) {
				r.stale.Add(1)
				return
			}
			log.Printf("[router] answer from %s: %v", rec.FromUser, err)
		}

	case domain.SignalCandidate:
		r.mu.Lock()
		s := r.session
		r.mu.Unlock()
		if s == nil {
			r.stale.Add(1)
			return
		}
		if err := s.handleCandidate(ctx, rec); err != nil {
			if errors.Is(err, domain.ErrStaleSignal) || errors.Is(err, domain.ErrSessionClosed) {
				r.stale.Add(1)
				return
			}
			log.Printf("[router] candidate from %s: %v", rec.FromUser, err)
		}

	case domain.SignalCallEnd, domain.SignalCallReject:
		r.mu.Lock()
		s := r.session
		r.mu.Unlock()
		if s == nil {
			return
		}
		s.handleRemoteEnd(rec.Type)

	default:
		log.Printf("[router] unhandled record type: %s", rec.Type)
	}
}

func (r *Router) handleOffer(ctx context.Context, rec domain.SignalRecord) {
	if rec.Payload.SDP == nil {
		log.Printf("[router] offer from %s without SDP", rec.FromUser)
		return
	}

	r.mu.Lock()
	if s := r.session; s != nil && !s.State().terminal() {
		r.mu.Unlock()
		r.dupOffers.Add(1)
		log.Printf("[router] busy, rejecting offer from %s", rec.FromUser)
		reject := domain.SignalRecord{
			FromUser: r.localUser,
			ToUser:   rec.FromUser,
			Type:     domain.SignalCallReject,
		}
		if _, err := r.signals.Send(ctx, reject); err != nil {
			log.Printf("[router] send reject: %v", err)
		}
		return
	}

	transport, err := r.factory()
	if err != nil {
		r.mu.Unlock()
		log.Printf("[router] create transport: %v", err)
		return
	}
	s := newSession(RoleCallee, r.localUser, rec.FromUser, transport, r.signals, r, r.cfg.PendingTimeout)
	r.session = s
	r.mu.Unlock()

	if err := s.handleRemoteOffer(ctx, *rec.Payload.SDP); err != nil {
		log.Printf("[router] offer from %s: %v", rec.FromUser, err)
		return
	}

	log.Printf("[router] incoming call from %s", rec.FromUser)
	r.eachObserver(func(obs Observer) {
		if obs.IncomingCall != nil {
			obs.IncomingCall(s)
		}
	})
}

// sessionFor returns the current session when it belongs to remoteUser.
func (r *Router) sessionFor(remoteUser string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil || r.session.RemoteUser != remoteUser {
		return nil
	}
	return r.session
}

func (r *Router) eachObserver(fn func(Observer)) {
	r.mu.Lock()
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.mu.Unlock()

	for _, obs := range observers {
		fn(obs)
	}
}

// remoteTrack, connectionState and ended implement the session events
// interface and fan out to registered observers.

func (r *Router) remoteTrack(s *Session, track domain.TrackInfo) {
	r.eachObserver(func(obs Observer) {
		if obs.RemoteTrack != nil {
			obs.RemoteTrack(s, track)
		}
	})
}

func (r *Router) connectionState(s *Session, state domain.TransportState) {
	r.eachObserver(func(obs Observer) {
		if obs.ConnectionState != nil {
			obs.ConnectionState(s, state)
		}
	})
}

func (r *Router) ended(s *Session, reason EndReason, detail string) {
	r.mu.Lock()
	if r.session == s {
		r.session = nil
	}
	r.mu.Unlock()

	r.eachObserver(func(obs Observer) {
		if obs.CallEnded != nil {
			obs.CallEnded(s.RemoteUser, reason, detail)
		}
	})
}
