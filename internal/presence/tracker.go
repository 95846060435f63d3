// Package presence maintains and publishes the local user's availability
// status, reacting to visibility and lifecycle events.
package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/santerog80-rgb/Talkio/internal/domain"
)

// Tracker owns the local user's published status. Writes are best effort:
// a failed write is logged, never surfaced to the triggering flow. The one
// exception is the offline write on shutdown, which is synchronous and
// must complete before process teardown.
type Tracker struct {
	profiles domain.ProfileStore
	userID   string
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	status domain.PresenceStatus
	stop   chan struct{}
	done   chan struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithHeartbeat refreshes last_seen every interval while the user is not
// offline. Zero disables the heartbeat.
func WithHeartbeat(interval time.Duration) Option {
	return func(t *Tracker) { t.interval = interval }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a Tracker for userID. Call Start to go online.
func New(profiles domain.ProfileStore, userID string, opts ...Option) *Tracker {
	t := &Tracker{
		profiles: profiles,
		userID:   userID,
		now:      time.Now,
		status:   domain.StatusOffline,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start publishes online and begins the heartbeat, if configured.
func (t *Tracker) Start(ctx context.Context) {
	t.SetStatus(ctx, domain.StatusOnline)

	if t.interval <= 0 {
		return
	}
	t.mu.Lock()
	if t.stop != nil {
		t.mu.Unlock()
		return
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	stop, done := t.stop, t.done
	t.mu.Unlock()

	go t.heartbeat(stop, done)
}

// SetStatus writes {status, last_seen} for the local user. Each transition
// produces one write; rapid toggling is not coalesced since writes are
// idempotent on the final state.
func (t *Tracker) SetStatus(ctx context.Context, status domain.PresenceStatus) error {
	t.mu.Lock()
	t.status = status
	t.mu.Unlock()

	if err := t.profiles.UpdateStatus(ctx, t.userID, status, t.now()); err != nil {
		log.Printf("[presence] set %s: %v", status, err)
		return err
	}
	return nil
}

// Status returns the last status handed to SetStatus.
func (t *Tracker) Status() domain.PresenceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// VisibilityChanged maps tab visibility onto status: hidden means away,
// visible means online.
func (t *Tracker) VisibilityChanged(ctx context.Context, hidden bool) {
	if hidden {
		t.SetStatus(ctx, domain.StatusAway)
	} else {
		t.SetStatus(ctx, domain.StatusOnline)
	}
}

// Shutdown publishes offline and stops the heartbeat. The offline write is
// the last write for this user and completes before return.
func (t *Tracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return t.SetStatus(ctx, domain.StatusOffline)
}

func (t *Tracker) heartbeat(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			status := t.status
			t.mu.Unlock()
			if status == domain.StatusOffline {
				continue
			}
			if err := t.profiles.UpdateStatus(context.Background(), t.userID, status, t.now()); err != nil {
				log.Printf("[presence] heartbeat: %v", err)
			}
		}
	}
}
