package domain

import (
	"context"
	"time"
)

// DataStore is the generic backend data API: row-level CRUD over named
// tables. Implementations exist for direct Postgres access and for the
// backend's REST data endpoint.
type DataStore interface {
	// Insert appends record to table. When dest is non-nil the stored row,
	// including server-assigned columns, is decoded into it.
	Insert(ctx context.Context, table string, record any, dest any) error

	// Select reads the rows of table matching filter into dest, which must
	// be a pointer to a slice.
	Select(ctx context.Context, table string, filter Filter, dest any, opts ...SelectOption) error

	// Update patches the rows matching filter. When dest is non-nil the
	// first updated row is decoded into it.
	Update(ctx context.Context, table string, filter Filter, patch map[string]any, dest any) error

	// Delete removes the rows matching filter.
	Delete(ctx context.Context, table string, filter Filter) error
}

// Filter is a set of column equality constraints.
type Filter map[string]any

// SelectOptions modify a Select query.
type SelectOptions struct {
	OrderBy    string
	Descending bool
	Limit      int
}

// SelectOption configures a Select call.
type SelectOption func(*SelectOptions)

// OrderBy sorts the result by column, ascending unless desc is set.
func OrderBy(column string, desc bool) SelectOption {
	return func(o *SelectOptions) {
		o.OrderBy = column
		o.Descending = desc
	}
}

// Limit caps the number of returned rows.
func Limit(n int) SelectOption {
	return func(o *SelectOptions) { o.Limit = n }
}

// SignalStore is the single write path for signaling records.
type SignalStore interface {
	Send(ctx context.Context, rec SignalRecord) (SignalRecord, error)
}

// RelayChannel delivers newly inserted rows to channel subscribers as raw
// JSON. Delivery is at-least-once with no ordering guarantee across rows of
// distinct types.
type RelayChannel interface {
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) (Subscription, error)
}

// RelayPublisher is the producing side of a relay channel. Backends whose
// store fans out inserts by itself do not need one.
type RelayPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscription is an open relay subscription.
type Subscription interface {
	Close() error
}

// ProfileStore reads and mutates user profiles.
type ProfileStore interface {
	Get(ctx context.Context, id string) (*Profile, error)
	UpdateStatus(ctx context.Context, id string, status PresenceStatus, lastSeen time.Time) error
}

// TransportState mirrors the connection state of the media transport.
type TransportState string

const (
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// TrackInfo describes a remote media track that started arriving.
type TrackInfo struct {
	ID       string
	StreamID string
	Kind     string
	Codec    string
}

// Transport is one peer-to-peer media connection. Descriptions and
// candidates are applied in the order given; buffering candidates until the
// remote description is set is the caller's concern.
type Transport interface {
	CreateOffer(ctx context.Context) (SessionDescription, error)
	CreateAnswer(ctx context.Context) (SessionDescription, error)
	SetRemoteDescription(ctx context.Context, desc SessionDescription) error
	AddICECandidate(ctx context.Context, cand ICECandidate) error

	OnICECandidate(fn func(ICECandidate))
	OnTrack(fn func(TrackInfo))
	OnConnectionStateChange(fn func(TransportState))

	Close() error
}
