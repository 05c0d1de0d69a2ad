package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"marketplace-inbox/contract"
	"marketplace-inbox/domain"
	"marketplace-inbox/domain/event"
	"marketplace-inbox/errors"
	"marketplace-inbox/repositories"
)

const maxResolveAttempts = 3

type IConversationService interface {
	Resolve(ctx context.Context, cmd ResolveCommand) (Resolution, error)
}

type ResolveCommand struct {
	CurrentUserID string
	TargetUserID  string
	Context       domain.ConversationContext
	PropertyID    string
}

// Resolution is the outcome of Resolve. Existing is false only for the call that created the row.
type Resolution struct {
	ConversationID string `json:"conversationId"`
	Existing       bool   `json:"existing"`
}

type ConversationService struct {
	log           *slog.Logger
	conversations repositories.IConversationRepository
	directory     contract.IDirectory
	publisher     contract.IEventPublisher
	now           func() time.Time
	onRecovered   func()
}

func NewConversationService(
	log *slog.Logger,
	conversations repositories.IConversationRepository,
	directory contract.IDirectory,
	publisher contract.IEventPublisher,
) *ConversationService {
	return &ConversationService{
		log:           log,
		conversations: conversations,
		directory:     directory,
		publisher:     publisher,
		now:           time.Now,
	}
}

// OnConflictRecovered is called each time a lost creation race is resolved to the winner's row.
func (s *ConversationService) OnConflictRecovered(fn func()) *ConversationService {
	s.onRecovered = fn
	return s
}

// Resolve returns the conversation for (current, target, context, property),
// creating it when absent. Concurrent calls with the same tuple in any
// participant order all end up with the same id.
func (s *ConversationService) Resolve(ctx context.Context, cmd ResolveCommand) (Resolution, error) {
	if err := s.check(ctx, cmd); err != nil {
		return Resolution{}, err
	}

	key := domain.IdentityKey(cmd.CurrentUserID, cmd.TargetUserID, cmd.Context, cmd.PropertyID)
	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		existing, err := s.conversations.FindByIdentity(key)
		if err == nil {
			return s.reopen(ctx, existing, cmd.CurrentUserID)
		}
		if !errors.Is(err, errors.ErrNotFound) {
			return Resolution{}, err
		}

		candidate := domain.NewConversation(uuid.NewString(), cmd.CurrentUserID, cmd.TargetUserID,
			cmd.Context, cmd.PropertyID, s.now().UTC())
		stored, created, err := s.conversations.CreateIfAbsent(candidate)
		switch {
		case errors.Is(err, errors.ErrConflict):
			s.log.Debug("Lost conversation creation race, re-reading", "identity", key, "attempt", attempt)
			if s.onRecovered != nil {
				s.onRecovered()
			}
			continue
		case err != nil:
			return Resolution{}, err
		case !created:
			return s.reopen(ctx, stored, cmd.CurrentUserID)
		}

		s.log.Info("Conversation created",
			"conversation_id", stored.ID, "context", stored.Context, "property_id", stored.PropertyID)
		s.publish(ctx, event.ConversationCreated{State: stored})
		return Resolution{ConversationID: stored.ID}, nil
	}
	return Resolution{}, fmt.Errorf("%w: resolving %s", errors.ErrTransient, key)
}

func (s *ConversationService) check(ctx context.Context, cmd ResolveCommand) error {
	switch {
	case !cmd.Context.Valid():
		return fmt.Errorf("%w: unknown context %q", errors.ErrValidation, cmd.Context)
	case cmd.CurrentUserID == "" || cmd.TargetUserID == "":
		return fmt.Errorf("%w: both participants are required", errors.ErrValidation)
	case cmd.CurrentUserID == cmd.TargetUserID:
		return errors.ErrSameParticipant
	case cmd.Context == domain.ContextProperty && cmd.PropertyID == "":
		return errors.ErrPropertyRequired
	case cmd.Context == domain.ContextCommunity && cmd.PropertyID != "":
		return errors.ErrPropertyNotAllowed
	}

	if _, err := s.directory.GetProfile(ctx, cmd.TargetUserID); err != nil {
		return err
	}
	if cmd.Context == domain.ContextProperty {
		if _, err := s.directory.GetProperty(ctx, cmd.PropertyID); err != nil {
			return err
		}
	}
	return nil
}

// reopen un-hides the conversation for a caller who had deleted it from their inbox.
func (s *ConversationService) reopen(ctx context.Context, conversation domain.Conversation, userID string) (Resolution, error) {
	if conversation.StateFor(userID).Hidden {
		restored, changed, err := s.conversations.Update(conversation.ID, func(c *domain.Conversation) bool {
			return c.Unhide(userID)
		})
		if err != nil {
			return Resolution{}, err
		}
		if changed {
			s.publish(ctx, event.ConversationRestored{UserID: userID, State: restored})
		}
	}
	return Resolution{ConversationID: conversation.ID, Existing: true}, nil
}

func (s *ConversationService) publish(ctx context.Context, e event.DomainEvent) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log.Warn("Committed change not broadcast", "type", e.Type(), "conversation_id", e.ConversationID(), "error", err)
	}
}
