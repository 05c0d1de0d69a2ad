// Package domain contains core concepts of the inbox.
// This file defines Conversation entities and the identity tuple invariant.
// No runtime, network, or storage logic should be added here.
package domain

import (
	"fmt"
	"time"
)

type ConversationContext string

const (
	ContextProperty  ConversationContext = "property"
	ContextCommunity ConversationContext = "community"
)

func (c ConversationContext) Valid() bool {
	return c == ContextProperty || c == ContextCommunity
}

// ParticipantState is the per-participant read position and visibility.
type ParticipantState struct {
	UnreadCount int        `json:"unreadCount"`
	LastReadAt  *time.Time `json:"lastReadAt,omitempty"`
	Hidden      bool       `json:"hidden"`
}

// MessagePreview is the denormalized last message kept on the conversation
// so list rows never need a second read.
type MessagePreview struct {
	MessageID      string    `json:"messageId"`
	SenderID       string    `json:"senderId"`
	Body           string    `json:"body"`
	HasAttachments bool      `json:"hasAttachments"`
	At             time.Time `json:"at"`
}

type Conversation struct {
	ID            string                      `json:"id"`
	Context       ConversationContext         `json:"context"`
	Participants  [2]string                   `json:"participants"`
	PropertyID    string                      `json:"propertyId,omitempty"`
	CreatedAt     time.Time                   `json:"createdAt"`
	LastMessageAt time.Time                   `json:"lastMessageAt"`
	LastMessage   *MessagePreview             `json:"lastMessage,omitempty"`
	States        map[string]ParticipantState `json:"states"`
	// Version grows by one on every mutation. Realtime deltas carry it so
	// clients can drop duplicates and stale deliveries.
	Version uint64 `json:"version"`
}

func NewConversation(id, userA, userB string, context ConversationContext, propertyID string, now time.Time) Conversation {
	a, b := sortPair(userA, userB)
	return Conversation{
		ID:            id,
		Context:       context,
		Participants:  [2]string{a, b},
		PropertyID:    propertyID,
		CreatedAt:     now,
		LastMessageAt: now,
		States: map[string]ParticipantState{
			a: {},
			b: {},
		},
		Version: 1,
	}
}

// IdentityKey canonicalises the identity tuple. (A, B) and (B, A) map to the same key.
func IdentityKey(userA, userB string, context ConversationContext, propertyID string) string {
	a, b := sortPair(userA, userB)
	return fmt.Sprintf("%s:%s:%s:%s", context, a, b, propertyID)
}

func (c Conversation) IdentityKey() string {
	return IdentityKey(c.Participants[0], c.Participants[1], c.Context, c.PropertyID)
}

func (c Conversation) HasParticipant(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// OtherParticipant returns the counterpart of userID, or "" if userID is not a participant.
func (c Conversation) OtherParticipant(userID string) string {
	switch userID {
	case c.Participants[0]:
		return c.Participants[1]
	case c.Participants[1]:
		return c.Participants[0]
	default:
		return ""
	}
}

func (c Conversation) StateFor(userID string) ParticipantState {
	return c.States[userID]
}

// RecordMessage applies the side effects of a new message: the preview and
// lastMessageAt move forward, every other participant gets one more unread,
// and the thread reappears for anybody who had hidden it.
func (c *Conversation) RecordMessage(m Message) {
	c.LastMessageAt = m.CreatedAt
	preview := m.Preview()
	c.LastMessage = &preview
	if c.States == nil {
		c.States = make(map[string]ParticipantState)
	}
	for _, p := range c.Participants {
		state := c.States[p]
		if p != m.SenderID {
			state.UnreadCount++
		}
		state.Hidden = false
		c.States[p] = state
	}
	c.Version++
}

// MarkRead resets the unread counter. It reports false when there was nothing to change.
func (c *Conversation) MarkRead(userID string, at time.Time) bool {
	state := c.States[userID]
	if state.UnreadCount == 0 && state.LastReadAt != nil {
		return false
	}
	state.UnreadCount = 0
	state.LastReadAt = &at
	c.States[userID] = state
	c.Version++
	return true
}

func (c *Conversation) Hide(userID string) bool {
	state := c.States[userID]
	if state.Hidden {
		return false
	}
	state.Hidden = true
	c.States[userID] = state
	c.Version++
	return true
}

func (c *Conversation) Unhide(userID string) bool {
	state := c.States[userID]
	if !state.Hidden {
		return false
	}
	state.Hidden = false
	c.States[userID] = state
	c.Version++
	return true
}

// NextMessageTime returns a creation time strictly after the last message.
func (c Conversation) NextMessageTime(now time.Time) time.Time {
	if c.LastMessage != nil && !now.After(c.LastMessage.At) {
		return c.LastMessage.At.Add(time.Nanosecond)
	}
	return now
}

func sortPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
