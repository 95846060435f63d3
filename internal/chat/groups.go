package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/santerog80-rgb/Talkio/internal/domain"
)

// Conversation is a row of the conversations table. Direct chats and
// groups share it; groups carry the group_* columns.
type Conversation struct {
	ID               string    `json:"id,omitempty"`
	IsGroup          bool      `json:"is_group"`
	GroupName        string    `json:"group_name,omitempty"`
	GroupDescription string    `json:"group_description,omitempty"`
	GroupAvatar      string    `json:"group_avatar,omitempty"`
	CreatedBy        string    `json:"created_by,omitempty"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
}

// Participant is a row of the conversation_participants table.
type Participant struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Role           string `json:"role"`
}

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Groups manages group conversations and their membership.
type Groups struct {
	data   domain.DataStore
	userID string
}

func NewGroups(data domain.DataStore, userID string) *Groups {
	return &Groups{data: data, userID: userID}
}

// Create makes a group conversation with the local user as admin and the
// given members. Each member also receives a group_invite notification.
func (g *Groups) Create(ctx context.Context, name, description string, members []string) (*Conversation, error) {
	conv := Conversation{
		IsGroup:          true,
		GroupName:        name,
		GroupDescription: description,
		CreatedBy:        g.userID,
		UpdatedAt:        time.Now().UTC(),
	}
	var stored Conversation
	if err := g.data.Insert(ctx, "conversations", conv, &stored); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}

	participants := append([]Participant{{
		ConversationID: stored.ID,
		UserID:         g.userID,
		Role:           RoleAdmin,
	}}, memberRows(stored.ID, members)...)
	for _, p := range participants {
		if err := g.data.Insert(ctx, "conversation_participants", p, nil); err != nil {
			return nil, fmt.Errorf("add participant %s: %w", p.UserID, err)
		}
	}

	for _, uid := range members {
		n := Notification{
			UserID: uid,
			Type:   "group_invite",
			Title:  "New group",
			Body:   fmt.Sprintf("You were added to the group %q", name),
		}
		if err := g.data.Insert(ctx, "notifications", n, nil); err != nil {
			return nil, fmt.Errorf("notify %s: %w", uid, err)
		}
	}
	return &stored, nil
}

// AddMembers adds members to an existing group.
func (g *Groups) AddMembers(ctx context.Context, conversationID string, userIDs []string) error {
	for _, p := range memberRows(conversationID, userIDs) {
		if err := g.data.Insert(ctx, "conversation_participants", p, nil); err != nil {
			return fmt.Errorf("add member %s: %w", p.UserID, err)
		}
	}
	return nil
}

// RemoveMember removes one member from a group.
func (g *Groups) RemoveMember(ctx context.Context, conversationID, userID string) error {
	err := g.data.Delete(ctx, "conversation_participants", domain.Filter{
		"conversation_id": conversationID,
		"user_id":         userID,
	})
	if err != nil {
		return fmt.Errorf("remove member %s: %w", userID, err)
	}
	return nil
}

// Promote makes userID an admin of the group.
func (g *Groups) Promote(ctx context.Context, conversationID, userID string) error {
	filter := domain.Filter{"conversation_id": conversationID, "user_id": userID}
	if err := g.data.Update(ctx, "conversation_participants", filter, map[string]any{"role": RoleAdmin}, nil); err != nil {
		return fmt.Errorf("promote %s: %w", userID, err)
	}
	return nil
}

// Leave removes the local user from the group. A leaving admin first hands
// admin to some remaining member, so a group is never left admin-less.
func (g *Groups) Leave(ctx context.Context, conversationID string) error {
	var self []Participant
	err := g.data.Select(ctx, "conversation_participants", domain.Filter{
		"conversation_id": conversationID,
		"user_id":         g.userID,
	}, &self, domain.Limit(1))
	if err != nil {
		return fmt.Errorf("leave group: %w", err)
	}

	if len(self) > 0 && self[0].Role == RoleAdmin {
		var others []Participant
		err := g.data.Select(ctx, "conversation_participants", domain.Filter{
			"conversation_id": conversationID,
		}, &others)
		if err != nil {
			return fmt.Errorf("leave group: %w", err)
		}
		for _, p := range others {
			if p.UserID == g.userID {
				continue
			}
			if err := g.Promote(ctx, conversationID, p.UserID); err != nil {
				return err
			}
			break
		}
	}

	return g.RemoveMember(ctx, conversationID, g.userID)
}

// Update patches the group's metadata (name, description, avatar).
func (g *Groups) Update(ctx context.Context, conversationID string, patch map[string]any) (*Conversation, error) {
	var conv Conversation
	if err := g.data.Update(ctx, "conversations", domain.Filter{"id": conversationID}, patch, &conv); err != nil {
		return nil, fmt.Errorf("update group: %w", err)
	}
	return &conv, nil
}

// Delete removes a group entirely: its messages, then its participants,
// then the conversation row itself.
func (g *Groups) Delete(ctx context.Context, conversationID string) error {
	if err := g.data.Delete(ctx, "messages", domain.Filter{"conversation_id": conversationID}); err != nil {
		return fmt.Errorf("delete group messages: %w", err)
	}
	if err := g.data.Delete(ctx, "conversation_participants", domain.Filter{"conversation_id": conversationID}); err != nil {
		return fmt.Errorf("delete group participants: %w", err)
	}
	if err := g.data.Delete(ctx, "conversations", domain.Filter{"id": conversationID}); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return nil
}

// Members lists the participants of a group.
func (g *Groups) Members(ctx context.Context, conversationID string) ([]Participant, error) {
	var rows []Participant
	err := g.data.Select(ctx, "conversation_participants", domain.Filter{
		"conversation_id": conversationID,
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("group members: %w", err)
	}
	return rows, nil
}

// IsAdmin reports whether userID administers the group.
func (g *Groups) IsAdmin(ctx context.Context, conversationID, userID string) (bool, error) {
	var rows []Participant
	err := g.data.Select(ctx, "conversation_participants", domain.Filter{
		"conversation_id": conversationID,
		"user_id":         userID,
	}, &rows, domain.Limit(1))
	if err != nil {
		return false, fmt.Errorf("is admin: %w", err)
	}
	return len(rows) > 0 && rows[0].Role == RoleAdmin, nil
}

func memberRows(conversationID string, userIDs []string) []Participant {
	rows := make([]Participant, 0, len(userIDs))
	for _, uid := range userIDs {
		rows = append(rows, Participant{
			ConversationID: conversationID,
			UserID:         uid,
			Role:           RoleMember,
		})
	}
	return rows
}
