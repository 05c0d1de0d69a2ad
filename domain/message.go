// Package domain contains core concepts of the inbox.
// This file defines Message entities and related rules.
// Messages are immutable once appended.
package domain

import (
	"strings"
	"time"
)

// Message represents an immutable chat entry inside one conversation.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	Body           string       `json:"body"`
	CreatedAt      time.Time    `json:"createdAt"`
	ClientRef      string       `json:"clientRef,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// IsMine is viewer relative and never persisted.
func (m Message) IsMine(viewerID string) bool {
	return m.SenderID == viewerID
}

func (m Message) Preview() MessagePreview {
	return MessagePreview{
		MessageID:      m.ID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		HasAttachments: len(m.Attachments) > 0,
		At:             m.CreatedAt,
	}
}

// HasContent is true when the trimmed body is non-empty or attachments are present.
func HasContent(body string, attachmentIDs []string) bool {
	return strings.TrimSpace(body) != "" || len(attachmentIDs) > 0
}
