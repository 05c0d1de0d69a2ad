package httpapi

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"marketplace-inbox/errors"
	"marketplace-inbox/runtime"
)

// Close reasons sent in the final "closed" event. "resync" asks the client to
// refetch a snapshot before subscribing again.
const (
	closeReplaced = "replaced"
	closeResync   = "resync"
)

// stream holds the (user, channel) slot for as long as the client is connected.
// Opening the same stream again, from another tab for instance, ends this one.
func (h *handler) stream(kind runtime.ChannelKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(userIDKey)
		sub := h.deps.Notifier.Subscribe(userID, kind)
		defer sub.Close()

		c.Header("Cache-Control", "no-store")
		c.Header("X-Accel-Buffering", "no")
		heartbeat := time.NewTicker(h.heartbeat)
		defer heartbeat.Stop()

		c.SSEvent("ready", gin.H{"channel": kind})
		c.Writer.Flush()

		c.Stream(func(io.Writer) bool {
			select {
			case <-c.Request.Context().Done():
				return false
			case update, ok := <-sub.Updates():
				if !ok {
					reason := closeReplaced
					if errors.Is(sub.Err(), errors.ErrSlowConsumer) {
						reason = closeResync
					}
					c.SSEvent("closed", gin.H{"reason": reason})
					return false
				}
				c.SSEvent("update", update)
				return true
			case <-heartbeat.C:
				c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
				return true
			}
		})
		h.log.Debug("Stream ended", "user_id", userID, "channel", kind, "reason", sub.Err())
	}
}
