package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/santerog80-rgb/Talkio/internal/domain"
)

// Notification is a row of the notifications table.
type Notification struct {
	ID        string     `json:"id,omitempty"`
	UserID    string     `json:"user_id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	IsRead    bool       `json:"is_read"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Notifications reads and writes user notifications.
type Notifications struct {
	data   domain.DataStore
	relay  domain.RelayChannel
	pub    domain.RelayPublisher
	userID string
}

// NewNotifications wraps data. pub may be nil when the backend fans out
// inserts by itself.
func NewNotifications(data domain.DataStore, relay domain.RelayChannel, pub domain.RelayPublisher, userID string) *Notifications {
	return &Notifications{data: data, relay: relay, pub: pub, userID: userID}
}

// Notify stores one notification per recipient, publishing each stored row
// to the recipient's channel when the relay has no server-side fan-out.
func (n *Notifications) Notify(ctx context.Context, userIDs []string, typ, title, body string) error {
	for _, uid := range userIDs {
		row := Notification{UserID: uid, Type: typ, Title: title, Body: body}
		var stored Notification
		if err := n.data.Insert(ctx, "notifications", row, &stored); err != nil {
			return fmt.Errorf("notify %s: %w", uid, err)
		}
		if n.pub == nil {
			continue
		}
		payload, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("encode notification: %w", err)
		}
		if err := n.pub.Publish(ctx, domain.NotificationChannel(uid), payload); err != nil {
			return fmt.Errorf("publish notification: %w", err)
		}
	}
	return nil
}

// Subscribe delivers the local user's notifications as they are stored.
func (n *Notifications) Subscribe(ctx context.Context, handler func(Notification)) (domain.Subscription, error) {
	return n.relay.Subscribe(ctx, domain.NotificationChannel(n.userID), func(payload []byte) {
		var row Notification
		if err := json.Unmarshal(payload, &row); err != nil {
			log.Printf("[chat] bad notification row: %v", err)
			return
		}
		handler(row)
	})
}

// UnreadCount returns how many notifications the local user has not read.
func (n *Notifications) UnreadCount(ctx context.Context) (int, error) {
	var rows []Notification
	err := n.data.Select(ctx, "notifications", domain.Filter{
		"user_id": n.userID,
		"is_read": false,
	}, &rows)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return len(rows), nil
}

// MarkAllRead flags every unread notification of the local user.
func (n *Notifications) MarkAllRead(ctx context.Context) error {
	filter := domain.Filter{"user_id": n.userID, "is_read": false}
	if err := n.data.Update(ctx, "notifications", filter, map[string]any{"is_read": true}, nil); err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}
