package domain

import "time"

type Attachment struct {
	ID             string    `json:"id"`
	MessageID      string    `json:"messageId,omitempty"`
	ConversationID string    `json:"conversationId"`
	UploaderID     string    `json:"uploaderId"`
	FileName       string    `json:"fileName"`
	MimeType       string    `json:"mimeType"`
	FileSize       int64     `json:"fileSize"`
	StorageKey     string    `json:"storageKey"`
	StorageURL     string    `json:"storageUrl"`
	Width          *int      `json:"width,omitempty"`
	Height         *int      `json:"height,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Bound reports whether a message already owns the attachment.
func (a Attachment) Bound() bool { return a.MessageID != "" }

func (a Attachment) IsImage() bool {
	return len(a.MimeType) > 6 && a.MimeType[:6] == "image/"
}
