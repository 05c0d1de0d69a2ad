package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"marketplace-inbox/contract"
	"marketplace-inbox/domain/event"
)

const defaultSinkTimeout = 2 * time.Second

// EventFanout broadcasts committed domain events to in-process sinks:
// the realtime notifier, the search index, metrics and the cross-instance relay.
//
// Delivery is best effort. A failing or slow sink is logged and skipped, it
// never holds back the other sinks. Durable state lives in the repositories;
// clients recover missed deltas with a snapshot.
type EventFanout struct {
	Log         *slog.Logger
	Name        contract.WorkerName
	DomainEvent <-chan event.DomainEvent
	sinkTimeout time.Duration
	sinks       []contract.EventSink
}

func NewEventFanout(log *slog.Logger, domainEvent <-chan event.DomainEvent, sinkTimeout time.Duration) *EventFanout {
	if sinkTimeout <= 0 {
		sinkTimeout = defaultSinkTimeout
	}
	return &EventFanout{Log: log, DomainEvent: domainEvent, sinkTimeout: sinkTimeout}
}

func (w *EventFanout) Add(sinks ...contract.EventSink) *EventFanout {
	w.sinks = append(w.sinks, sinks...)
	return w
}

func (w *EventFanout) WithName(name string) *EventFanout {
	w.Name = contract.WorkerName(name)
	return w
}

func (w *EventFanout) GetName() contract.WorkerName { return w.Name }

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case evt, ok := <-w.DomainEvent:
			if !ok {
				w.Log.Debug("Event channel closed, stopping fanout", "name", w.Name)
				return nil
			}
			w.Fanout(ctx, evt)
		case <-ctx.Done():
			w.Log.Debug("Context done, stopping fanout", "name", w.Name)
			return nil
		}
	}
}

// Fanout One sink for each event
func (w *EventFanout) Fanout(ctx context.Context, evt event.DomainEvent) {
	for _, sink := range w.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
		if err := sink.Consume(sinkCtx, evt); err != nil {
			w.Log.Warn("Sink failed to consume event",
				"sink", fmt.Sprintf("%T", sink), "type", evt.Type(), "conversation_id", evt.ConversationID(), "error", err)
		}
		cancel()
	}
}
