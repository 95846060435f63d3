package domain

import "time"

// PresenceStatus is a user's self-reported availability state.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusOffline PresenceStatus = "offline"
)

// Profile is a row of the profiles table.
type Profile struct {
	ID        string         `json:"id"`
	FullName  string         `json:"full_name,omitempty"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Status    PresenceStatus `json:"status,omitempty"`
	LastSeen  *time.Time     `json:"last_seen,omitempty"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
}
