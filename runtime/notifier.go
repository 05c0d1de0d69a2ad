package runtime

import (
	"context"
	"log/slog"

	"marketplace-inbox/contract"
	"marketplace-inbox/domain"
	"marketplace-inbox/domain/event"
)

// Notifier turns committed conversation events into per-user realtime updates.
// It is an EventSink fed by the fanout worker.
type Notifier struct {
	log        *slog.Logger
	registry   *Registry
	summarizer contract.ISummarizer
}

func NewNotifier(log *slog.Logger, registry *Registry, summarizer contract.ISummarizer) *Notifier {
	return &Notifier{log: log, registry: registry, summarizer: summarizer}
}

func (n *Notifier) Consume(ctx context.Context, e event.DomainEvent) error {
	for _, userID := range event.Audience(e) {
		if _, ok := n.registry.Lookup(userID, ChannelList); !ok {
			if _, ok = n.registry.Lookup(userID, ChannelConversation); !ok {
				continue
			}
		}
		delivered := n.registry.Deliver(userID, n.updateFor(ctx, e, userID))
		n.log.Debug("Realtime update delivered",
			"user_id", userID, "conversation_id", e.ConversationID(), "kind", e.Type(), "channels", delivered)
	}
	return nil
}

func (n *Notifier) updateFor(ctx context.Context, e event.DomainEvent, userID string) domain.ConversationUpdate {
	conversation := e.Snapshot()
	state := conversation.StateFor(userID)
	update := domain.ConversationUpdate{
		ConversationID:  conversation.ID,
		Kind:            string(e.Type()),
		LastMessageTime: conversation.LastMessageAt,
		UnreadCount:     state.UnreadCount,
		Version:         conversation.Version,
		Hidden:          state.Hidden,
	}
	summary, err := n.summarizer.Summarize(ctx, conversation, userID)
	if err != nil {
		n.log.Warn("Cannot summarize conversation, sending a bare update",
			"conversation_id", conversation.ID, "user_id", userID, "error", err)
		update.LastMessage = domain.Snippet(conversation.LastMessage, userID, domain.PlaceholderName)
	} else {
		update.LastMessage = summary.LastMessageSnippet
		update.Summary = &summary
	}
	if appended, ok := e.(event.MessageAppended); ok {
		message := appended.Message
		update.Message = &message
	}
	return update
}

// Subscribe acquires a raw handle. The caller must Close it.
func (n *Notifier) Presence(userID string) domain.Presence {
	return n.registry.Presence(userID)
}

func (n *Notifier) Subscribe(userID string, kind ChannelKind) *Subscription {
	return n.registry.Subscribe(userID, kind)
}

// SubscribeConversationUpdates calls onUpdate for every delta of the user's
// conversations until ctx is done or the handle is closed.
func (n *Notifier) SubscribeConversationUpdates(ctx context.Context, userID string, onUpdate func(domain.ConversationUpdate)) *Subscription {
	return n.subscribe(ctx, userID, ChannelConversation, onUpdate)
}

// SubscribeConversationList is the list-row flavour of SubscribeConversationUpdates.
func (n *Notifier) SubscribeConversationList(ctx context.Context, userID string, onListUpdate func(domain.ConversationUpdate)) *Subscription {
	return n.subscribe(ctx, userID, ChannelList, onListUpdate)
}

func (n *Notifier) subscribe(ctx context.Context, userID string, kind ChannelKind, fn func(domain.ConversationUpdate)) *Subscription {
	sub := n.registry.Subscribe(userID, kind)
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-sub.Updates():
				if !ok {
					return
				}
				fn(update)
			}
		}
	}()
	return sub
}
