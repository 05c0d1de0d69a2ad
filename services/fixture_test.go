package services

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"marketplace-inbox/domain"
	"marketplace-inbox/domain/event"
	"marketplace-inbox/errors"
	"marketplace-inbox/mocks"
	"marketplace-inbox/repositories"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e event.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) ofType(t event.Type) []event.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []event.DomainEvent
	for _, e := range p.events {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	log           *slog.Logger
	db            *badger.DB
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	attachments   repositories.AttachmentRepository
	directory     *mocks.MockIDirectory
	publisher     *recordingPublisher
}

var (
	alice = domain.Profile{ID: "alice", DisplayName: "Alice", Email: "alice@example.com", PlanTier: domain.PlanPro}
	bob   = domain.Profile{ID: "bob", Name: "Bob Owner", Email: "bob@example.com"}
	carol = domain.Profile{ID: "carol", Email: "carol.m@example.com"}
	house = domain.Property{ID: "p1", OwnerID: "bob", Title: "Casa 3 ambientes en Posadas", CoverImage: "https://img/p1.jpg"}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	f := &fixture{
		log:           log,
		db:            db,
		conversations: repositories.NewConversationRepository(db, log),
		messages:      repositories.NewMessageRepository(db, log, 50),
		attachments:   repositories.NewAttachmentRepository(db, log),
		directory:     mocks.NewMockIDirectory(gomock.NewController(t)),
		publisher:     &recordingPublisher{},
	}
	stubDirectory(f.directory, []domain.Profile{alice, bob, carol}, []domain.Property{house})
	return f
}

// stubDirectory answers lookups from fixed profiles and properties.
func stubDirectory(dir *mocks.MockIDirectory, profiles []domain.Profile, properties []domain.Property) {
	byUser := map[string]domain.Profile{}
	for _, p := range profiles {
		byUser[p.ID] = p
	}
	byProperty := map[string]domain.Property{}
	for _, p := range properties {
		byProperty[p.ID] = p
	}

	dir.EXPECT().GetProfile(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, id string) (domain.Profile, error) {
			if p, ok := byUser[id]; ok {
				return p, nil
			}
			return domain.Profile{}, errors.ErrNotFound
		}).AnyTimes()
	dir.EXPECT().GetProfiles(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ids []string) (map[string]domain.Profile, error) {
			out := map[string]domain.Profile{}
			for _, id := range ids {
				if p, ok := byUser[id]; ok {
					out[id] = p
				}
			}
			return out, nil
		}).AnyTimes()
	dir.EXPECT().GetProperty(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, id string) (domain.Property, error) {
			if p, ok := byProperty[id]; ok {
				return p, nil
			}
			return domain.Property{}, errors.ErrNotFound
		}).AnyTimes()
	dir.EXPECT().GetProperties(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ids []string) (map[string]domain.Property, error) {
			out := map[string]domain.Property{}
			for _, id := range ids {
				if p, ok := byProperty[id]; ok {
					out[id] = p
				}
			}
			return out, nil
		}).AnyTimes()
}

func (f *fixture) conversationService() *ConversationService {
	return NewConversationService(f.log, f.conversations, f.directory, f.publisher)
}

func (f *fixture) messageService() *MessageService {
	return NewMessageService(f.log, f.conversations, f.messages, f.directory,
		domain.DefaultPlanCatalog(), nil, nil, f.publisher)
}

func (f *fixture) inboxService() *InboxService {
	return NewInboxService(f.log, f.conversations, f.directory)
}

func (f *fixture) resolve(t *testing.T, current, target string, ctx domain.ConversationContext, propertyID string) string {
	t.Helper()
	resolution, err := f.conversationService().Resolve(context.Background(), ResolveCommand{
		CurrentUserID: current, TargetUserID: target, Context: ctx, PropertyID: propertyID,
	})
	require.NoError(t, err)
	return resolution.ConversationID
}
