// Package chat wraps the conversation tables: messages, groups and
// notifications. These are thin data-store wrappers; the engineering core
// of the client lives in call and presence.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/santerog80-rgb/Talkio/internal/domain"
)

// Message is a row of the messages table.
type Message struct {
	ID             string     `json:"id,omitempty"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Body           string     `json:"body"`
	MessageType    string     `json:"message_type"`
	IsRead         bool       `json:"is_read"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
}

// Messages reads and writes conversation messages.
type Messages struct {
	data  domain.DataStore
	relay domain.RelayChannel
	pub   domain.RelayPublisher
}

// NewMessages wraps data. pub may be nil when the backend fans out inserts
// by itself.
func NewMessages(data domain.DataStore, relay domain.RelayChannel, pub domain.RelayPublisher) *Messages {
	return &Messages{data: data, relay: relay, pub: pub}
}

// Send stores a message, publishes it to the conversation channel when the
// relay has no server-side fan-out, and touches the conversation's
// updated_at so conversation lists sort by recency. The touch failing does
// not fail the send.
func (m *Messages) Send(ctx context.Context, conversationID, senderID, body, messageType string) (*Message, error) {
	if messageType == "" {
		messageType = "text"
	}
	msg := Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		MessageType:    messageType,
	}

	var stored Message
	if err := m.data.Insert(ctx, "messages", msg, &stored); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	if m.pub != nil {
		payload, err := json.Marshal(stored)
		if err != nil {
			return nil, fmt.Errorf("encode message: %w", err)
		}
		if err := m.pub.Publish(ctx, domain.MessageChannel(conversationID), payload); err != nil {
			return nil, fmt.Errorf("publish message: %w", err)
		}
	}

	patch := map[string]any{"updated_at": time.Now().UTC().Format(time.RFC3339)}
	if err := m.data.Update(ctx, "conversations", domain.Filter{"id": conversationID}, patch, nil); err != nil {
		log.Printf("[chat] touch conversation %s: %v", conversationID, err)
	}
	return &stored, nil
}

// List returns up to limit messages of a conversation, oldest first.
func (m *Messages) List(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []Message
	err := m.data.Select(ctx, "messages", domain.Filter{"conversation_id": conversationID}, &rows,
		domain.OrderBy("created_at", false), domain.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return rows, nil
}

// MarkRead flags every unread message of a conversation not sent by userID.
func (m *Messages) MarkRead(ctx context.Context, conversationID, userID string) error {
	// The generic filter is equality-only, so unread rows are fetched and
	// patched individually. Conversations are small enough for this.
	var rows []Message
	err := m.data.Select(ctx, "messages", domain.Filter{
		"conversation_id": conversationID,
		"is_read":         false,
	}, &rows)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	for _, msg := range rows {
		if msg.SenderID == userID {
			continue
		}
		patch := map[string]any{"is_read": true}
		if err := m.data.Update(ctx, "messages", domain.Filter{"id": msg.ID}, patch, nil); err != nil {
			return fmt.Errorf("mark read %s: %w", msg.ID, err)
		}
	}
	return nil
}

// Subscribe delivers new messages of a conversation as they are stored.
func (m *Messages) Subscribe(ctx context.Context, conversationID string, handler func(Message)) (domain.Subscription, error) {
	return m.relay.Subscribe(ctx, domain.MessageChannel(conversationID), func(payload []byte) {
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("[chat] bad message row: %v", err)
			return
		}
		handler(msg)
	})
}
