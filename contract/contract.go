//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"io"
	"reflect"
	"time"

	"marketplace-inbox/domain"
	"marketplace-inbox/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink consumes committed domain events. Sinks must not block for long:
// they run inline in the fanout loop.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// IEventPublisher hands committed events over to the fanout.
type IEventPublisher interface {
	Publish(ctx context.Context, e event.DomainEvent) error
}

// IBlobStore is the durable storage behind attachments.
type IBlobStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// IDirectory is the read-only view over the identity provider, the property
// catalog and the plan service.
type IDirectory interface {
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
	GetProfiles(ctx context.Context, userIDs []string) (map[string]domain.Profile, error)
	GetProperty(ctx context.Context, propertyID string) (domain.Property, error)
	GetProperties(ctx context.Context, propertyIDs []string) (map[string]domain.Property, error)
}

// ISummarizer renders a conversation as a list row for one viewer.
type ISummarizer interface {
	Summarize(ctx context.Context, conversation domain.Conversation, viewerID string) (domain.ConversationSummary, error)
}
