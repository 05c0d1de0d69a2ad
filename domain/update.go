package domain

import "time"

// ConversationUpdate is the realtime delta pushed to one user.
// UnreadCount is absolute, never a delta, so applying an update twice is harmless.
type ConversationUpdate struct {
	ConversationID  string               `json:"conversationId"`
	Kind            string               `json:"kind"`
	LastMessage     string               `json:"lastMessage"`
	LastMessageTime time.Time            `json:"lastMessageTime"`
	UnreadCount     int                  `json:"unreadCount"`
	Version         uint64               `json:"version"`
	Hidden          bool                 `json:"hidden,omitempty"`
	Summary         *ConversationSummary `json:"summary,omitempty"`
	Message         *Message             `json:"message,omitempty"`
}
