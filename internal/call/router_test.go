package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/santerog80-rgb/Talkio/internal/domain"
)

// fakeRelay captures subscriptions and lets tests inject inbound records.
type fakeRelay struct {
	mu      sync.Mutex
	subs    []*fakeSub
	err     error
	channel string
	handler func([]byte)
}

func (f *fakeRelay) Subscribe(ctx context.Context, channel string, handler func([]byte)) (domain.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &fakeSub{}
	f.subs = append(f.subs, sub)
	f.channel = channel
	f.handler = handler
	return sub, nil
}

func (f *fakeRelay) deliver(t *testing.T, rec domain.SignalRecord) {
	t.Helper()
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler == nil {
		t.Fatal("no active subscription")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	handler(payload)
}

type fakeSub struct {
	mu     sync.Mutex
	closed bool
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func newTestRouter(t *testing.T) (*Router, *fakeRelay, *fakeSignals, *fakeTransport) {
	t.Helper()
	relay := &fakeRelay{}
	signals := &fakeSignals{}
	transport := &fakeTransport{offerSDP: "v=0\r\noffer", answerSDP: "v=0\r\nanswer"}
	factory := func() (domain.Transport, error) { return transport, nil }
	r := NewRouter("alice", signals, relay, factory, Config{})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return r, relay, signals, transport
}

func offerFrom(user string) domain.SignalRecord {
	return domain.SignalRecord{
		FromUser: user, ToUser: "alice", Type: domain.SignalOffer,
		Payload: domain.SignalPayload{SDP: &domain.SessionDescription{Type: "offer", SDP: "v=0"}},
	}
}

func TestStart_SubscribesToOwnChannel(t *testing.T) {
	_, relay, _, _ := newTestRouter(t)
	if relay.channel != "signaling:alice" {
		t.Errorf("expected signaling:alice, got %s", relay.channel)
	}
}

func TestStart_ReplacesExistingSubscription(t *testing.T) {
	r, relay, _, _ := newTestRouter(t)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if len(relay.subs) != 2 {
		t.Fatalf("expected two subscriptions, got %d", len(relay.subs))
	}
	if !relay.subs[0].isClosed() {
		t.Error("first subscription left open")
	}
	if relay.subs[1].isClosed() {
		t.Error("replacement subscription closed")
	}
}

func TestStart_WrapsRelayFailure(t *testing.T) {
	relay := &fakeRelay{err: errors.New("connection refused")}
	r := NewRouter("alice", &fakeSignals{}, relay, nil, Config{})

	err := r.Start(context.Background())
	if !errors.Is(err, domain.ErrRelayUnavailable) {
		t.Errorf("expected relay unavailable, got %v", err)
	}
}

func TestIncomingOffer_CreatesCalleeSession(t *testing.T) {
	r, relay, _, transport := newTestRouter(t)

	var incoming *Session
	r.Register(Observer{IncomingCall: func(s *Session) { incoming = s }})

	relay.deliver(t, offerFrom("bob"))

	if incoming == nil {
		t.Fatal("incoming call observer not invoked")
	}
	if incoming.Role != RoleCallee || incoming.RemoteUser != "bob" {
		t.Errorf("unexpected session: role=%s remote=%s", incoming.Role, incoming.RemoteUser)
	}
	if transport.remoteDesc == nil {
		t.Error("remote offer not applied to transport")
	}
	if r.Active() != incoming {
		t.Error("router does not track the new session")
	}
}

func TestIncomingOffer_RejectedWhileBusy(t *testing.T) {
	r, relay, signals, _ := newTestRouter(t)

	if _, err := r.Call(context.Background(), "bob"); err != nil {
		t.Fatalf("call: %v", err)
	}
	active := r.Active()

	relay.deliver(t, offerFrom("mallory"))

	if r.RejectedOffers() != 1 {
		t.Errorf("expected 1 rejected offer, got %d", r.RejectedOffers())
	}
	if r.Active() != active {
		t.Error("live session replaced by second offer")
	}

	last := signals.sent()[len(signals.sent())-1]
	if last.Type != domain.SignalCallReject || last.ToUser != "mallory" {
		t.Errorf("expected reject to mallory, got %+v", last)
	}
}

func TestCall_DuplicateFails(t *testing.T) {
	r, _, _, _ := newTestRouter(t)

	if _, err := r.Call(context.Background(), "bob"); err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, err := r.Call(context.Background(), "carol"); !errors.Is(err, domain.ErrDuplicateCall) {
		t.Errorf("expected duplicate call, got %v", err)
	}
}

func TestAnswer_WithoutSessionCountedStale(t *testing.T) {
	r, relay, _, _ := newTestRouter(t)

	relay.deliver(t, domain.SignalRecord{
		FromUser: "bob", ToUser: "alice", Type: domain.SignalAnswer,
		Payload: domain.SignalPayload{SDP: &domain.SessionDescription{Type: "answer", SDP: "v=0"}},
	})

	if r.StaleSignals() != 1 {
		t.Errorf("expected 1 stale signal, got %d", r.StaleSignals())
	}
}

func TestAnswer_FromWrongPeerCountedStale(t *testing.T) {
	r, relay, _, transport := newTestRouter(t)

	if _, err := r.Call(context.Background(), "bob"); err != nil {
		t.Fatalf("call: %v", err)
	}

	relay.deliver(t, domain.SignalRecord{
		FromUser: "mallory", ToUser: "alice", Type: domain.SignalAnswer,
		Payload: domain.SignalPayload{SDP: &domain.SessionDescription{Type: "answer", SDP: "v=0"}},
	})

	if r.StaleSignals() != 1 {
		t.Errorf("expected 1 stale signal, got %d", r.StaleSignals())
	}
	if transport.remoteDesc != nil {
		t.Error("stale answer applied to transport")
	}
}

func TestAnswer_CompletesOutboundCall(t *testing.T) {
	r, relay, _, transport := newTestRouter(t)

	s, err := r.Call(context.Background(), "bob")
	if err != nil {
		t.Fatalf("call: %v", err)
	}

	relay.deliver(t, domain.SignalRecord{
		FromUser: "bob", ToUser: "alice", Type: domain.SignalAnswer,
		Payload: domain.SignalPayload{SDP: &domain.SessionDescription{Type: "answer", SDP: "v=0"}},
	})

	if transport.remoteDesc == nil {
		t.Error("answer not applied to transport")
	}

	transport.onState(domain.TransportConnected)
	if s.State() != StateConnected {
		t.Errorf("expected connected, got %s", s.State())
	}
}

func TestRemoteEnd_ClearsSessionAndNotifies(t *testing.T) {
	r, relay, _, _ := newTestRouter(t)

	var (
		endedUser   string
		endedReason EndReason
	)
	r.Register(Observer{CallEnded: func(remoteUser string, reason EndReason, detail string) {
		endedUser = remoteUser
		endedReason = reason
	}})

	if _, err := r.Call(context.Background(), "bob"); err != nil {
		t.Fatalf("call: %v", err)
	}

	relay.deliver(t, domain.SignalRecord{
		FromUser: "bob", ToUser: "alice", Type: domain.SignalCallEnd,
	})

	if r.Active() != nil {
		t.Error("session not cleared after remote end")
	}
	if endedUser != "bob" || endedReason != ReasonHangup {
		t.Errorf("unexpected end notification: user=%s reason=%s", endedUser, endedReason)
	}
}

func TestMisroutedRecord_Ignored(t *testing.T) {
	r, relay, _, transport := newTestRouter(t)

	rec := offerFrom("bob")
	rec.ToUser = "carol"
	relay.deliver(t, rec)

	if r.Active() != nil {
		t.Error("misrouted offer created a session")
	}
	if transport.remoteDesc != nil {
		t.Error("misrouted offer applied to transport")
	}
}

func TestCandidate_AfterRemoteEndCountedStale(t *testing.T) {
	r, relay, _, _ := newTestRouter(t)

	if _, err := r.Call(context.Background(), "bob"); err != nil {
		t.Fatalf("call: %v", err)
	}
	relay.deliver(t, domain.SignalRecord{FromUser: "bob", ToUser: "alice", Type: domain.SignalCallEnd})

	relay.deliver(t, domain.SignalRecord{
		FromUser: "bob", ToUser: "alice", Type: domain.SignalCandidate,
		Payload: domain.SignalPayload{Candidate: &domain.ICECandidate{Candidate: "candidate:1"}},
	})

	if r.StaleSignals() != 1 {
		t.Errorf("expected 1 stale signal, got %d", r.StaleSignals())
	}
}

func TestClose_EndsSessionAndSubscription(t *testing.T) {
	r, relay, _, transport := newTestRouter(t)

	if _, err := r.Call(context.Background(), "bob"); err != nil {
		t.Fatalf("call: %v", err)
	}
	r.Close()

	if !relay.subs[0].isClosed() {
		t.Error("subscription left open")
	}
	if transport.closes() != 1 {
		t.Errorf("expected transport closed, got %d closes", transport.closes())
	}
}

func TestObservers_MultipleInvoked(t *testing.T) {
	r, relay, _, _ := newTestRouter(t)

	calls := 0
	r.Register(Observer{IncomingCall: func(*Session) { calls++ }})
	r.Register(Observer{IncomingCall: func(*Session) { calls++ }})

	relay.deliver(t, offerFrom("bob"))

	if calls != 2 {
		t.Errorf("expected both observers invoked, got %d", calls)
	}
}
