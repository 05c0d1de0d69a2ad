package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"marketplace-inbox/domain/event"
	"marketplace-inbox/errors"
)

// ChannelPublisher feeds committed events into the fanout channel.
type ChannelPublisher struct {
	log    *slog.Logger
	events chan<- event.DomainEvent
}

func NewChannelPublisher(log *slog.Logger, events chan<- event.DomainEvent) ChannelPublisher {
	return ChannelPublisher{log: log, events: events}
}

// Publish waits for room in the channel until ctx is done.
func (p ChannelPublisher) Publish(ctx context.Context, e event.DomainEvent) error {
	select {
	case p.events <- e:
		return nil
	case <-ctx.Done():
		p.log.Warn("Event not published", "type", e.Type(), "conversation_id", e.ConversationID())
		return fmt.Errorf("%w: publishing %s: %v", errors.ErrTransient, e.Type(), ctx.Err())
	}
}
