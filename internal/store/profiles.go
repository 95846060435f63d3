package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/santerog80-rgb/Talkio/internal/domain"
)

// Profiles wraps the profiles table with a read cache that lives for the
// process only. Any mutation of a profile invalidates its cache entry, so
// a status change is never served stale.
type Profiles struct {
	data domain.DataStore

	mu    sync.Mutex
	cache map[string]*domain.Profile
}

func NewProfiles(data domain.DataStore) *Profiles {
	return &Profiles{
		data:  data,
		cache: make(map[string]*domain.Profile),
	}
}

// Get returns the profile for id, from cache when possible.
func (p *Profiles) Get(ctx context.Context, id string) (*domain.Profile, error) {
	p.mu.Lock()
	if cached, ok := p.cache[id]; ok {
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	var rows []domain.Profile
	if err := p.data.Select(ctx, "profiles", domain.Filter{"id": id}, &rows, domain.Limit(1)); err != nil {
		return nil, fmt.Errorf("get profile %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("profile %s not found", id)
	}

	prof := &rows[0]
	p.mu.Lock()
	p.cache[id] = prof
	p.mu.Unlock()
	return prof, nil
}

// Update patches a profile and refreshes its cache entry.
func (p *Profiles) Update(ctx context.Context, id string, patch map[string]any) (*domain.Profile, error) {
	merged := make(map[string]any, len(patch)+1)
	for k, v := range patch {
		merged[k] = v
	}
	merged["updated_at"] = time.Now().UTC().Format(time.RFC3339)

	var prof domain.Profile
	if err := p.data.Update(ctx, "profiles", domain.Filter{"id": id}, merged, &prof); err != nil {
		return nil, fmt.Errorf("update profile %s: %w", id, err)
	}

	p.mu.Lock()
	p.cache[id] = &prof
	p.mu.Unlock()
	return &prof, nil
}

// UpdateStatus writes status and last_seen and drops the cache entry.
func (p *Profiles) UpdateStatus(ctx context.Context, id string, status domain.PresenceStatus, lastSeen time.Time) error {
	patch := map[string]any{
		"status":    string(status),
		"last_seen": lastSeen.UTC().Format(time.RFC3339),
	}
	if err := p.data.Update(ctx, "profiles", domain.Filter{"id": id}, patch, nil); err != nil {
		return fmt.Errorf("update status %s: %w", id, err)
	}

	p.mu.Lock()
	delete(p.cache, id)
	p.mu.Unlock()
	return nil
}
