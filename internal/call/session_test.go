package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/santerog80-rgb/Talkio/internal/domain"
)

// fakeTransport records calls for verification.
type fakeTransport struct {
	mu         sync.Mutex
	offerSDP   string
	answerSDP  string
	remoteErr  error
	remoteDesc *domain.SessionDescription
	candidates []domain.ICECandidate
	closeCount int

	onCandidate func(domain.ICECandidate)
	onTrack     func(domain.TrackInfo)
	onState     func(domain.TransportState)
}

func (t *fakeTransport) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: "offer", SDP: t.offerSDP}, nil
}

func (t *fakeTransport) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: "answer", SDP: t.answerSDP}, nil
}

func (t *fakeTransport) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	if t.remoteErr != nil {
		return t.remoteErr
	}
	t.mu.Lock()
	t.remoteDesc = &desc
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) AddICECandidate(ctx context.Context, cand domain.ICECandidate) error {
	t.mu.Lock()
	t.candidates = append(t.candidates, cand)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) OnICECandidate(fn func(domain.ICECandidate)) { t.onCandidate = fn }

func (t *fakeTransport) OnTrack(fn func(domain.TrackInfo)) { t.onTrack = fn }

func (t *fakeTransport) OnConnectionStateChange(fn func(domain.TransportState)) { t.onState = fn }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closeCount++
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCount
}

func (t *fakeTransport) applied() []domain.ICECandidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.ICECandidate, len(t.candidates))
	copy(out, t.candidates)
	return out
}

// fakeSignals records every sent record.
type fakeSignals struct {
	mu      sync.Mutex
	records []domain.SignalRecord
	err     error
}

func (f *fakeSignals) Send(ctx context.Context, rec domain.SignalRecord) (domain.SignalRecord, error) {
	if f.err != nil {
		return domain.SignalRecord{}, f.err
	}
	f.mu.Lock()
	f.records = append(f.records, rec)
	f.mu.Unlock()
	return rec, nil
}

func (f *fakeSignals) sent() []domain.SignalRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SignalRecord, len(f.records))
	copy(out, f.records)
	return out
}

func (f *fakeSignals) lastType() domain.SignalType {
	recs := f.sent()
	if len(recs) == 0 {
		return ""
	}
	return recs[len(recs)-1].Type
}

// fakeEvents records lifecycle notifications.
type fakeEvents struct {
	mu      sync.Mutex
	tracks  []domain.TrackInfo
	states  []domain.TransportState
	reasons []EndReason
}

func (f *fakeEvents) remoteTrack(s *Session, track domain.TrackInfo) {
	f.mu.Lock()
	f.tracks = append(f.tracks, track)
	f.mu.Unlock()
}

func (f *fakeEvents) connectionState(s *Session, state domain.TransportState) {
	f.mu.Lock()
	f.states = append(f.states, state)
	f.mu.Unlock()
}

func (f *fakeEvents) ended(s *Session, reason EndReason, detail string) {
	f.mu.Lock()
	f.reasons = append(f.reasons, reason)
	f.mu.Unlock()
}

func (f *fakeEvents) endReasons() []EndReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]EndReason, len(f.reasons))
	copy(out, f.reasons)
	return out
}

func newTestSession(role Role, remote string, timeout time.Duration) (*Session, *fakeTransport, *fakeSignals, *fakeEvents) {
	transport := &fakeTransport{offerSDP: "v=0\r\noffer", answerSDP: "v=0\r\nanswer"}
	signals := &fakeSignals{}
	events := &fakeEvents{}
	s := newSession(role, "alice", remote, transport, signals, events, timeout)
	return s, transport, signals, events
}

func TestInitiate_SendsOfferAndEntersOffering(t *testing.T) {
	s, _, signals, _ := newTestSession(RoleCaller, "bob", 0)

	if err := s.Initiate(context.Background()); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if s.State() != StateOffering {
		t.Errorf("expected offering, got %s", s.State())
	}

	recs := signals.sent()
	if len(recs) != 1 || recs[0].Type != domain.SignalOffer {
		t.Fatalf("expected one offer record, got %v", recs)
	}
	if recs[0].ToUser != "bob" || recs[0].Payload.SDP == nil {
		t.Errorf("malformed offer record: %+v", recs[0])
	}
}

func TestAccept_SendsAnswerAndEntersAnswering(t *testing.T) {
	s, transport, signals, _ := newTestSession(RoleCallee, "bob", 0)

	offer := domain.SessionDescription{Type: "offer", SDP: "v=0\r\nremote"}
	if err := s.handleRemoteOffer(context.Background(), offer); err != nil {
		t.Fatalf("handle offer: %v", err)
	}
	if transport.remoteDesc == nil || transport.remoteDesc.SDP != "v=0\r\nremote" {
		t.Fatalf("remote description not applied")
	}

	if err := s.Accept(context.Background()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if s.State() != StateAnswering {
		t.Errorf("expected answering, got %s", s.State())
	}
	if signals.lastType() != domain.SignalAnswer {
		t.Errorf("expected answer record, got %s", signals.lastType())
	}
}

func TestHandleAnswer_FlushesBufferedCandidatesInOrder(t *testing.T) {
	s, transport, _, _ := newTestSession(RoleCaller, "bob", 0)
	ctx := context.Background()

	if err := s.Initiate(ctx); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	// Candidates outrun the answer: the relay does not order records of
	// distinct types.
	for _, c := range []string{"candidate:1", "candidate:2"} {
		rec := domain.SignalRecord{
			FromUser: "bob", ToUser: "alice", Type: domain.SignalCandidate,
			Payload: domain.SignalPayload{Candidate: &domain.ICECandidate{Candidate: c}},
		}
		if err := s.handleCandidate(ctx, rec); err != nil {
			t.Fatalf("buffer candidate: %v", err)
		}
	}
	if got := transport.applied(); len(got) != 0 {
		t.Fatalf("expected candidates buffered, %d applied", len(got))
	}

	answer := domain.SignalRecord{
		FromUser: "bob", ToUser: "alice", Type: domain.SignalAnswer,
		Payload: domain.SignalPayload{SDP: &domain.SessionDescription{Type: "answer", SDP: "v=0"}},
	}
	if err := s.handleAnswer(ctx, answer); err != nil {
		t.Fatalf("handle answer: %v", err)
	}

	applied := transport.applied()
	if len(applied) != 2 || applied[0].Candidate != "candidate:1" || applied[1].Candidate != "candidate:2" {
		t.Fatalf("expected flush in arrival order, got %v", applied)
	}

	// Late candidates apply immediately now.
	late := domain.SignalRecord{
		FromUser: "bob", ToUser: "alice", Type: domain.SignalCandidate,
		Payload: domain.SignalPayload{Candidate: &domain.ICECandidate{Candidate: "candidate:3"}},
	}
	if err := s.handleCandidate(ctx, late); err != nil {
		t.Fatalf("late candidate: %v", err)
	}
	if applied := transport.applied(); len(applied) != 3 {
		t.Fatalf("expected immediate apply after remote set, got %d", len(applied))
	}
}

func TestHandleAnswer_StaleWhenNotOffering(t *testing.T) {
	s, _, _, _ := newTestSession(RoleCaller, "bob", 0)

	answer := domain.SignalRecord{
		FromUser: "bob", ToUser: "alice", Type: domain.SignalAnswer,
		Payload: domain.SignalPayload{SDP: &domain.SessionDescription{Type: "answer", SDP: "v=0"}},
	}
	if err := s.handleAnswer(context.Background(), answer); err != domain.ErrStaleSignal {
		t.Errorf("expected stale signal, got %v", err)
	}
}

func TestHandleAnswer_StaleFromWrongPeer(t *testing.T) {
	s, _, _, _ := newTestSession(RoleCaller, "bob", 0)
	if err := s.Initiate(context.Background()); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	answer := domain.SignalRecord{
		FromUser: "mallory", ToUser: "alice", Type: domain.SignalAnswer,
		Payload: domain.SignalPayload{SDP: &domain.SessionDescription{Type: "answer", SDP: "v=0"}},
	}
	if err := s.handleAnswer(context.Background(), answer); err != domain.ErrStaleSignal {
		t.Errorf("expected stale signal, got %v", err)
	}
	if s.State() != StateOffering {
		t.Errorf("state changed on stale answer: %s", s.State())
	}
}

func TestEnd_IdempotentAndReleasesOnce(t *testing.T) {
	s, transport, signals, _ := newTestSession(RoleCaller, "bob", 0)
	ctx := context.Background()

	if err := s.Initiate(ctx); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := s.End(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := s.End(ctx); err != nil {
		t.Fatalf("second end: %v", err)
	}

	if s.State() != StateEnded {
		t.Errorf("expected ended, got %s", s.State())
	}
	if transport.closes() != 1 {
		t.Errorf("expected one transport close, got %d", transport.closes())
	}

	// offer + exactly one call-end
	ends := 0
	for _, rec := range signals.sent() {
		if rec.Type == domain.SignalCallEnd {
			ends++
		}
	}
	if ends != 1 {
		t.Errorf("expected one call-end record, got %d", ends)
	}
}

func TestRemoteEnd_NoOpWhenAlreadyTerminal(t *testing.T) {
	s, transport, _, events := newTestSession(RoleCaller, "bob", 0)

	if err := s.End(context.Background()); err != nil {
		t.Fatalf("end: %v", err)
	}
	s.handleRemoteEnd(domain.SignalCallEnd)
	s.handleRemoteEnd(domain.SignalCallReject)

	if transport.closes() != 1 {
		t.Errorf("expected one transport close, got %d", transport.closes())
	}
	if got := events.endReasons(); len(got) != 1 {
		t.Errorf("expected one ended notification, got %v", got)
	}
}

func TestReject_SendsRejectRecord(t *testing.T) {
	s, _, signals, events := newTestSession(RoleCallee, "bob", 0)

	if err := s.Reject(context.Background()); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if signals.lastType() != domain.SignalCallReject {
		t.Errorf("expected call-reject record, got %s", signals.lastType())
	}
	if got := events.endReasons(); len(got) != 1 || got[0] != ReasonRejected {
		t.Errorf("expected rejected reason, got %v", got)
	}
}

func TestTransportConnected_MovesToConnected(t *testing.T) {
	s, transport, _, _ := newTestSession(RoleCaller, "bob", 0)
	if err := s.Initiate(context.Background()); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	transport.onState(domain.TransportConnected)

	if s.State() != StateConnected {
		t.Errorf("expected connected, got %s", s.State())
	}
}

func TestTransportFailure_MovesToFailed(t *testing.T) {
	s, transport, _, events := newTestSession(RoleCaller, "bob", 0)
	if err := s.Initiate(context.Background()); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	transport.onState(domain.TransportFailed)

	if s.State() != StateFailed {
		t.Errorf("expected failed, got %s", s.State())
	}
	if transport.closes() != 1 {
		t.Errorf("expected transport released, got %d closes", transport.closes())
	}
	if got := events.endReasons(); len(got) != 1 || got[0] != ReasonFailed {
		t.Errorf("expected failed reason, got %v", got)
	}
}

func TestApplyAnswerFailure_MovesToFailed(t *testing.T) {
	s, transport, _, _ := newTestSession(RoleCaller, "bob", 0)
	if err := s.Initiate(context.Background()); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	transport.remoteErr = context.DeadlineExceeded

	answer := domain.SignalRecord{
		FromUser: "bob", ToUser: "alice", Type: domain.SignalAnswer,
		Payload: domain.SignalPayload{SDP: &domain.SessionDescription{Type: "answer", SDP: "v=0"}},
	}
	if err := s.handleAnswer(context.Background(), answer); err == nil {
		t.Fatal("expected error")
	}
	if s.State() != StateFailed {
		t.Errorf("expected failed, got %s", s.State())
	}
	if transport.closes() != 1 {
		t.Errorf("expected transport released, got %d closes", transport.closes())
	}
}

func TestPendingTimeout_FailsSession(t *testing.T) {
	s, _, _, events := newTestSession(RoleCaller, "bob", 20*time.Millisecond)
	if err := s.Initiate(context.Background()); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for s.State() != StateFailed {
		if time.Now().After(deadline) {
			t.Fatalf("session never timed out, state %s", s.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := events.endReasons(); len(got) != 1 || got[0] != ReasonTimeout {
		t.Errorf("expected timeout reason, got %v", got)
	}
}

func TestCandidateAfterCleanup_Discarded(t *testing.T) {
	s, transport, _, _ := newTestSession(RoleCaller, "bob", 0)
	ctx := context.Background()

	if err := s.Initiate(ctx); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := s.End(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}

	rec := domain.SignalRecord{
		FromUser: "bob", ToUser: "alice", Type: domain.SignalCandidate,
		Payload: domain.SignalPayload{Candidate: &domain.ICECandidate{Candidate: "candidate:9"}},
	}
	if err := s.handleCandidate(ctx, rec); err != domain.ErrSessionClosed {
		t.Errorf("expected session closed, got %v", err)
	}
	if got := transport.applied(); len(got) != 0 {
		t.Errorf("candidate applied to released transport: %v", got)
	}
}

func TestLocalCandidate_SentToRemote(t *testing.T) {
	s, transport, signals, _ := newTestSession(RoleCaller, "bob", 0)
	if err := s.Initiate(context.Background()); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	transport.onCandidate(domain.ICECandidate{Candidate: "candidate:local"})

	// The send is asynchronous.
	deadline := time.Now().Add(time.Second)
	for {
		for _, rec := range signals.sent() {
			if rec.Type == domain.SignalCandidate && rec.ToUser == "bob" {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("local candidate never sent")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
