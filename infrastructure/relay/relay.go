// Package relay forwards committed conversation events between server instances
// so a user connected to one instance sees deltas produced on another.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"

	"marketplace-inbox/domain"
	"marketplace-inbox/domain/event"
	"marketplace-inbox/errors"
)

const SubjectPrefix = "inbox.events."

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type envelope struct {
	Origin  string              `json:"origin"`
	Type    event.Type          `json:"type"`
	UserID  string              `json:"userId,omitempty"`
	State   domain.Conversation `json:"state"`
	Message *domain.Message     `json:"message,omitempty"`
}

// Relay is both an EventSink (local events out) and a Worker (remote events in).
// Remote events are pushed to a channel that must feed a fanout without the
// relay itself, otherwise events would bounce between instances.
type Relay struct {
	log    *slog.Logger
	conn   *nats.Conn
	origin string
	remote chan<- event.DomainEvent
}

func Connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return conn, nil
}

func NewRelay(log *slog.Logger, conn *nats.Conn, origin string, remote chan<- event.DomainEvent) *Relay {
	return &Relay{log: log, conn: conn, origin: origin, remote: remote}
}

func (r *Relay) Consume(_ context.Context, e event.DomainEvent) error {
	payload, err := json.Marshal(r.wrap(e))
	if err != nil {
		return err
	}
	if err = r.conn.Publish(SubjectPrefix+e.ConversationID(), payload); err != nil {
		return fmt.Errorf("%w: relaying %s: %v", errors.ErrTransient, e.Type(), err)
	}
	return nil
}

func (r *Relay) Run(ctx context.Context) error {
	messages := make(chan *nats.Msg, 256)
	sub, err := r.conn.ChanSubscribe(SubjectPrefix+">", messages)
	if err != nil {
		return fmt.Errorf("%w: subscribing to %s>: %v", errors.ErrTransient, SubjectPrefix, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			r.log.Warn("Cannot unsubscribe relay", "error", err)
		}
	}()
	r.log.Info("Relay listening", "subject", SubjectPrefix+">", "origin", r.origin)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-messages:
			e, origin, err := decode(msg.Data)
			if err != nil {
				r.log.Warn("Dropping malformed relay message", "subject", msg.Subject, "error", err)
				continue
			}
			if origin == r.origin {
				continue
			}
			select {
			case r.remote <- e:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (r *Relay) wrap(e event.DomainEvent) envelope {
	env := envelope{Origin: r.origin, Type: e.Type(), State: e.Snapshot()}
	switch evt := e.(type) {
	case event.MessageAppended:
		message := evt.Message
		env.Message = &message
	case event.ConversationRead:
		env.UserID = evt.UserID
	case event.ConversationHidden:
		env.UserID = evt.UserID
	case event.ConversationRestored:
		env.UserID = evt.UserID
	}
	return env
}

func decode(data []byte) (event.DomainEvent, string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", err
	}
	switch env.Type {
	case event.ConversationCreatedType:
		return event.ConversationCreated{State: env.State}, env.Origin, nil
	case event.MessageAppendedType:
		if env.Message == nil {
			return nil, "", fmt.Errorf("message missing from %s", env.Type)
		}
		return event.MessageAppended{Message: *env.Message, State: env.State}, env.Origin, nil
	case event.ConversationReadType:
		return event.ConversationRead{UserID: env.UserID, State: env.State}, env.Origin, nil
	case event.ConversationHiddenType:
		return event.ConversationHidden{UserID: env.UserID, State: env.State}, env.Origin, nil
	case event.ConversationRestoredType:
		return event.ConversationRestored{UserID: env.UserID, State: env.State}, env.Origin, nil
	default:
		return nil, "", fmt.Errorf("unknown event type %q", env.Type)
	}
}
