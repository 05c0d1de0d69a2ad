package client

import (
	"context"
	"fmt"
	"strings"

	"marketplace-inbox/errors"
)

// Compose is the message being written: text plus the files queued for it.
type Compose struct {
	Text  string
	Queue *UploadQueue
}

// Sendable is true once there is something to send and no upload is still
// queued, running, or failed.
func (c *Compose) Sendable() bool {
	hasFiles := c.Queue != nil && len(c.Queue.Snapshot()) > 0
	if strings.TrimSpace(c.Text) == "" && !hasFiles {
		return false
	}
	return c.Queue == nil || c.Queue.Ready()
}

// Send hands text and finished attachments to the session as one message and
// resets the composer. A failed send is kept by the session for retry.
func (c *Compose) Send(ctx context.Context, session *ChatSession) (Entry, error) {
	if c.Queue != nil && !c.Queue.Ready() {
		return Entry{}, fmt.Errorf("%w: attachments are not all uploaded", errors.ErrValidation)
	}
	attachments := c.Queue.doneOrNil()
	entry, err := session.Send(ctx, c.Text, attachments)
	if entry.Message.ClientRef == "" {
		return entry, err
	}
	c.Text = ""
	if c.Queue != nil {
		c.Queue.Clear()
	}
	return entry, err
}
