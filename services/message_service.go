package services

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"marketplace-inbox/contract"
	"marketplace-inbox/domain"
	"marketplace-inbox/domain/event"
	"marketplace-inbox/errors"
	"marketplace-inbox/moderation"
	"marketplace-inbox/repositories"
)

type IMessageService interface {
	Append(ctx context.Context, cmd AppendCommand) (domain.Message, error)
	MarkRead(ctx context.Context, conversationID, userID string) error
	Hide(ctx context.Context, conversationID, userID string) error
	Page(ctx context.Context, conversationID, viewerID, cursor string, limit int) (Page, error)
	Counterpart(ctx context.Context, conversationID, viewerID string) (string, error)
}

// URLSigner re-signs attachment urls on read.
type URLSigner interface {
	RefreshAll(ctx context.Context, messages []domain.Message)
}

type AppendCommand struct {
	ConversationID string
	SenderID       string
	Body           string
	AttachmentIDs  []string
	ClientRef      string
}

type Page struct {
	Messages   []domain.Message `json:"messages"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

type MessageService struct {
	log           *slog.Logger
	conversations repositories.IConversationRepository
	messages      repositories.IMessageRepository
	directory     contract.IDirectory
	plans         domain.PlanCatalog
	moderator     *moderation.Moderator
	signer        URLSigner
	publisher     contract.IEventPublisher
	now           func() time.Time
}

func NewMessageService(
	log *slog.Logger,
	conversations repositories.IConversationRepository,
	messages repositories.IMessageRepository,
	directory contract.IDirectory,
	plans domain.PlanCatalog,
	moderator *moderation.Moderator,
	signer URLSigner,
	publisher contract.IEventPublisher,
) *MessageService {
	return &MessageService{
		log:           log,
		conversations: conversations,
		messages:      messages,
		directory:     directory,
		plans:         plans,
		moderator:     moderator,
		signer:        signer,
		publisher:     publisher,
		now:           time.Now,
	}
}

// Append stores a message and applies its side effects atomically.
// Retrying with the same ClientRef returns the original message.
func (s *MessageService) Append(ctx context.Context, cmd AppendCommand) (domain.Message, error) {
	body := strings.TrimSpace(cmd.Body)
	if !domain.HasContent(body, cmd.AttachmentIDs) {
		return domain.Message{}, errors.ErrEmptyMessage
	}
	if len(cmd.AttachmentIDs) > 0 {
		if err := s.checkAttachmentCount(ctx, cmd.SenderID, len(cmd.AttachmentIDs)); err != nil {
			return domain.Message{}, err
		}
	}

	censored, words := s.moderator.Censor(body)
	if len(words) > 0 {
		s.log.Info("Message body censored", "conversation_id", cmd.ConversationID, "sender_id", cmd.SenderID, "matches", len(words))
	}

	result, err := s.messages.Append(repositories.AppendInput{
		ConversationID: cmd.ConversationID,
		SenderID:       cmd.SenderID,
		Body:           censored,
		ClientRef:      cmd.ClientRef,
		AttachmentIDs:  cmd.AttachmentIDs,
		At:             s.now().UTC(),
	})
	if err != nil {
		return domain.Message{}, err
	}

	message := result.Message
	if result.Replayed {
		s.log.Debug("Append replayed", "message_id", message.ID, "client_ref", cmd.ClientRef)
	} else {
		s.publish(ctx, event.MessageAppended{Message: message, State: result.Conversation})
	}
	if s.signer != nil && len(message.Attachments) > 0 {
		page := []domain.Message{message}
		s.signer.RefreshAll(ctx, page)
		message = page[0]
	}
	return message, nil
}

func (s *MessageService) checkAttachmentCount(ctx context.Context, senderID string, count int) error {
	profile, err := s.directory.GetProfile(ctx, senderID)
	if err != nil {
		return err
	}
	limits := s.plans.LimitsFor(profile.PlanTier)
	if count > limits.MaxFiles {
		return fmt.Errorf("%w: Maximum %d files per message", errors.ErrValidation, limits.MaxFiles)
	}
	return nil
}

// MarkRead zeroes the viewer's unread counter. Calling it again is a no-op.
func (s *MessageService) MarkRead(ctx context.Context, conversationID, userID string) error {
	now := s.now().UTC()
	return s.mutate(ctx, conversationID, userID,
		func(c *domain.Conversation) bool { return c.MarkRead(userID, now) },
		func(c domain.Conversation) event.DomainEvent { return event.ConversationRead{UserID: userID, State: c} })
}

// Hide removes the conversation from the user's inbox only. A new message brings it back.
func (s *MessageService) Hide(ctx context.Context, conversationID, userID string) error {
	return s.mutate(ctx, conversationID, userID,
		func(c *domain.Conversation) bool { return c.Hide(userID) },
		func(c domain.Conversation) event.DomainEvent { return event.ConversationHidden{UserID: userID, State: c} })
}

func (s *MessageService) mutate(
	ctx context.Context,
	conversationID, userID string,
	change func(c *domain.Conversation) bool,
	toEvent func(c domain.Conversation) event.DomainEvent,
) error {
	if _, err := s.participantView(conversationID, userID); err != nil {
		return err
	}
	updated, changed, err := s.conversations.Update(conversationID, change)
	if err != nil {
		return err
	}
	if changed {
		s.publish(ctx, toEvent(updated))
	}
	return nil
}

// Page returns messages oldest to newest, starting after cursor.
func (s *MessageService) Page(ctx context.Context, conversationID, viewerID, cursor string, limit int) (Page, error) {
	if _, err := s.participantView(conversationID, viewerID); err != nil {
		return Page{}, err
	}
	messages, next, err := s.messages.List(conversationID, cursor, limit)
	if err != nil {
		return Page{}, err
	}
	if s.signer != nil {
		s.signer.RefreshAll(ctx, messages)
	}
	return Page{Messages: messages, NextCursor: next}, nil
}

// Messages walks the thread page by page, starting after the message whose id
// is cursor (from the beginning when empty). Iteration stops at the first error.
func (s *MessageService) Messages(ctx context.Context, conversationID, viewerID, cursor string, pageSize int) iter.Seq2[domain.Message, error] {
	return func(yield func(domain.Message, error) bool) {
		cursor := cursor
		for {
			if err := ctx.Err(); err != nil {
				yield(domain.Message{}, err)
				return
			}
			page, err := s.Page(ctx, conversationID, viewerID, cursor, pageSize)
			if err != nil {
				yield(domain.Message{}, err)
				return
			}
			for _, m := range page.Messages {
				if !yield(m, nil) {
					return
				}
			}
			if page.NextCursor == "" {
				return
			}
			cursor = page.NextCursor
		}
	}
}

// Counterpart returns the other participant of a conversation the viewer belongs to.
func (s *MessageService) Counterpart(_ context.Context, conversationID, viewerID string) (string, error) {
	conversation, err := s.participantView(conversationID, viewerID)
	if err != nil {
		return "", err
	}
	return conversation.OtherParticipant(viewerID), nil
}

func (s *MessageService) participantView(conversationID, userID string) (domain.Conversation, error) {
	conversation, err := s.conversations.Get(conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !conversation.HasParticipant(userID) {
		return domain.Conversation{}, fmt.Errorf("%w: %s is not part of %s", errors.ErrForbidden, userID, conversationID)
	}
	return conversation, nil
}

func (s *MessageService) publish(ctx context.Context, e event.DomainEvent) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log.Warn("Committed change not broadcast", "type", e.Type(), "conversation_id", e.ConversationID(), "error", err)
	}
}
