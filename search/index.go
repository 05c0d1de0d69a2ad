// Package search keeps a full-text index of message bodies so users can find
// messages across their own conversations.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/blugelabs/bluge"

	"marketplace-inbox/domain/event"
	"marketplace-inbox/errors"
)

const (
	fieldBody         = "body"
	fieldConversation = "conversation_id"
	fieldSender       = "sender_id"
	fieldParticipant  = "participant"
	fieldCreatedAt    = "created_at"

	DefaultLimit = 20
	MaxLimit     = 100
)

// Hit is one matching message.
type Hit struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"createdAt"`
	Score          float64   `json:"score"`
}

// Index is an EventSink: every appended message is indexed with both
// participants so a search only ever returns the caller's conversations.
type Index struct {
	log    *slog.Logger
	writer *bluge.Writer
}

// Open opens (or creates) an on-disk index. An empty path keeps the index in memory.
func Open(log *slog.Logger, path string) (*Index, error) {
	cfg := bluge.InMemoryOnlyConfig()
	if path != "" {
		cfg = bluge.DefaultConfig(path)
	}
	writer, err := bluge.OpenWriter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	return &Index{log: log, writer: writer}, nil
}

func (i *Index) Close() error {
	return i.writer.Close()
}

func (i *Index) Consume(_ context.Context, e event.DomainEvent) error {
	appended, ok := e.(event.MessageAppended)
	if !ok {
		return nil
	}
	message := appended.Message
	if strings.TrimSpace(message.Body) == "" {
		return nil
	}

	doc := bluge.NewDocument(message.ID).
		AddField(bluge.NewTextField(fieldBody, message.Body).StoreValue()).
		AddField(bluge.NewKeywordField(fieldConversation, message.ConversationID).StoreValue()).
		AddField(bluge.NewKeywordField(fieldSender, message.SenderID).StoreValue()).
		AddField(bluge.NewDateTimeField(fieldCreatedAt, message.CreatedAt).StoreValue())
	for _, participant := range appended.State.Participants {
		doc.AddField(bluge.NewKeywordField(fieldParticipant, participant))
	}

	if err := i.writer.Update(doc.ID(), doc); err != nil {
		return fmt.Errorf("%w: indexing message %s: %v", errors.ErrStorage, message.ID, err)
	}
	i.log.Debug("Message indexed", "message_id", message.ID, "conversation_id", message.ConversationID)
	return nil
}

// Search returns the best matches for text among the conversations userID takes part in.
func (i *Index) Search(ctx context.Context, userID, text string, limit int) ([]Hit, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: search text is empty", errors.ErrValidation)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	reader, err := i.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("%w: opening index reader: %v", errors.ErrTransient, err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			i.log.Warn("Cannot close index reader", "error", err)
		}
	}()

	query := bluge.NewBooleanQuery().
		AddMust(bluge.NewMatchQuery(text).SetField(fieldBody)).
		AddMust(bluge.NewTermQuery(userID).SetField(fieldParticipant))
	matches, err := reader.Search(ctx, bluge.NewTopNSearch(limit, query))
	if err != nil {
		return nil, fmt.Errorf("%w: searching messages: %v", errors.ErrTransient, err)
	}

	hits := make([]Hit, 0, limit)
	match, err := matches.Next()
	for err == nil && match != nil {
		hit := Hit{Score: match.Score}
		visitErr := match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				hit.MessageID = string(value)
			case fieldBody:
				hit.Body = string(value)
			case fieldConversation:
				hit.ConversationID = string(value)
			case fieldSender:
				hit.SenderID = string(value)
			case fieldCreatedAt:
				if at, decodeErr := bluge.DecodeDateTime(value); decodeErr == nil {
					hit.CreatedAt = at.UTC()
				}
			}
			return true
		})
		if visitErr != nil {
			return nil, fmt.Errorf("%w: reading hit: %v", errors.ErrTransient, visitErr)
		}
		hits = append(hits, hit)
		match, err = matches.Next()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: iterating hits: %v", errors.ErrTransient, err)
	}
	return hits, nil
}
