package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santerog80-rgb/Talkio/internal/domain"
)

// Signals is the single write path for signaling records: an append to the
// signaling table, optionally followed by a publish so relay backends
// without server-side fan-out still deliver the row to the addressed user.
type Signals struct {
	data domain.DataStore
	pub  domain.RelayPublisher
}

// NewSignals wraps data. pub may be nil when the backend fans out inserts
// by itself.
func NewSignals(data domain.DataStore, pub domain.RelayPublisher) *Signals {
	return &Signals{data: data, pub: pub}
}

// Send appends rec and returns the stored row. Records are immutable once
// created; there is no update or delete path.
func (s *Signals) Send(ctx context.Context, rec domain.SignalRecord) (domain.SignalRecord, error) {
	var stored domain.SignalRecord
	if err := s.data.Insert(ctx, "signaling", rec, &stored); err != nil {
		return domain.SignalRecord{}, fmt.Errorf("append signal: %w", err)
	}

	if s.pub != nil {
		payload, err := json.Marshal(stored)
		if err != nil {
			return stored, fmt.Errorf("encode signal: %w", err)
		}
		if err := s.pub.Publish(ctx, domain.SignalChannel(stored.ToUser), payload); err != nil {
			return stored, fmt.Errorf("publish signal: %w", err)
		}
	}
	return stored, nil
}
