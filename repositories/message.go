//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"marketplace-inbox/domain"
	"marketplace-inbox/errors"
)

type IMessageRepository interface {
	Append(input AppendInput) (AppendResult, error)
	List(conversationID string, cursor string, limit int) ([]domain.Message, string, error)
	Get(id string) (domain.Message, error)
}

type MessageRepository struct {
	db           *badger.DB
	log          *slog.Logger
	defaultLimit int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, defaultLimit int) MessageRepository {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	return MessageRepository{db: db, log: log, defaultLimit: defaultLimit}
}

type AppendInput struct {
	ConversationID string
	SenderID       string
	Body           string
	ClientRef      string
	AttachmentIDs  []string
	At             time.Time
}

// AppendResult carries the stored message and the conversation right after the append.
// Replayed is true when ClientRef matched an earlier append and nothing was written.
type AppendResult struct {
	Message      domain.Message
	Conversation domain.Conversation
	Replayed     bool
}

func messagePrefix(conversationID string) []byte {
	return []byte("msg:" + conversationID + ":")
}

// messageKey is "msg:{conversation}:{timestamp_padded}:{uuid}". The 19 digit zero
// padding keeps lexicographical order chronological and the uuid breaks ties.
func messageKey(m domain.Message) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", m.ConversationID, m.CreatedAt.UnixNano(), m.ID))
}

func messageIDKey(id string) []byte { return []byte("msgid:" + id) }

func clientRefKey(conversationID, senderID, ref string) []byte {
	return []byte("msgref:" + conversationID + ":" + senderID + ":" + ref)
}

// Append stores the message, binds its attachments and applies the conversation
// side effects in a single transaction.
func (m MessageRepository) Append(input AppendInput) (AppendResult, error) {
	var result AppendResult
	err := updateWithRetry(m.db, func(txn *badger.Txn) error {
		result = AppendResult{}
		var conversation domain.Conversation
		if err := getJSON(txn, conversationKey(input.ConversationID), &conversation); err != nil {
			return fmt.Errorf("conversation %s: %w", input.ConversationID, err)
		}
		if !conversation.HasParticipant(input.SenderID) {
			return errors.ErrForbidden
		}

		if input.ClientRef != "" {
			replayed, err := m.replay(txn, input)
			if err == nil {
				result = AppendResult{Message: replayed, Conversation: conversation, Replayed: true}
				return nil
			}
			if !errors.Is(err, errors.ErrNotFound) {
				return err
			}
		}

		message := domain.Message{
			ID:             uuid.NewString(),
			ConversationID: conversation.ID,
			SenderID:       input.SenderID,
			Body:           input.Body,
			CreatedAt:      conversation.NextMessageTime(input.At),
			ClientRef:      input.ClientRef,
		}
		for _, attachmentID := range input.AttachmentIDs {
			attachment, err := bindAttachment(txn, attachmentID, message)
			if err != nil {
				return err
			}
			message.Attachments = append(message.Attachments, attachment)
		}

		key := messageKey(message)
		if err := setJSON(txn, key, message); err != nil {
			return err
		}
		if err := txn.Set(messageIDKey(message.ID), key); err != nil {
			return err
		}
		if message.ClientRef != "" {
			if err := txn.Set(clientRefKey(message.ConversationID, message.SenderID, message.ClientRef), []byte(message.ID)); err != nil {
				return err
			}
		}

		conversation.RecordMessage(message)
		if err := setJSON(txn, conversationKey(conversation.ID), conversation); err != nil {
			return err
		}
		result = AppendResult{Message: message, Conversation: conversation}
		return nil
	})
	return result, err
}

func (m MessageRepository) replay(txn *badger.Txn, input AppendInput) (domain.Message, error) {
	item, err := txn.Get(clientRefKey(input.ConversationID, input.SenderID, input.ClientRef))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, errors.ErrNotFound
	}
	if err != nil {
		return domain.Message{}, err
	}
	id, err := item.ValueCopy(nil)
	if err != nil {
		return domain.Message{}, err
	}
	return getMessage(txn, string(id))
}

// bindAttachment claims an unbound attachment uploaded by the sender into the same conversation.
func bindAttachment(txn *badger.Txn, attachmentID string, message domain.Message) (domain.Attachment, error) {
	var attachment domain.Attachment
	if err := getJSON(txn, attachmentKey(attachmentID), &attachment); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return domain.Attachment{}, fmt.Errorf("%w: %s does not exist", errors.ErrAttachmentUnavailable, attachmentID)
		}
		return domain.Attachment{}, err
	}
	switch {
	case attachment.UploaderID != message.SenderID:
		return domain.Attachment{}, fmt.Errorf("%w: %s belongs to another uploader", errors.ErrAttachmentUnavailable, attachmentID)
	case attachment.ConversationID != message.ConversationID:
		return domain.Attachment{}, fmt.Errorf("%w: %s belongs to another conversation", errors.ErrAttachmentUnavailable, attachmentID)
	case attachment.Bound():
		return domain.Attachment{}, fmt.Errorf("%w: %s is already sent", errors.ErrAttachmentUnavailable, attachmentID)
	}
	attachment.MessageID = message.ID
	if err := setJSON(txn, attachmentKey(attachment.ID), attachment); err != nil {
		return domain.Attachment{}, err
	}
	return attachment, nil
}

// List returns up to limit messages oldest-to-newest, starting right after the
// message whose id is cursor. The returned cursor is empty once the thread is exhausted.
func (m MessageRepository) List(conversationID string, cursor string, limit int) ([]domain.Message, string, error) {
	if limit <= 0 {
		limit = m.defaultLimit
	}
	var messages []domain.Message
	next := ""
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := messagePrefix(conversationID)
		seekKey := prefix
		if cursor != "" {
			item, err := txn.Get(messageIDKey(cursor))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return errors.ErrInvalidCursor
			}
			if err != nil {
				return err
			}
			if seekKey, err = item.ValueCopy(nil); err != nil {
				return err
			}
			if !strings.HasPrefix(string(seekKey), string(prefix)) {
				return errors.ErrInvalidCursor
			}
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		it.Seek(seekKey)
		if cursor != "" && it.ValidForPrefix(prefix) && string(it.Item().Key()) == string(seekKey) {
			it.Next()
		}
		for ; it.ValidForPrefix(prefix); it.Next() {
			if len(messages) == limit {
				next = messages[len(messages)-1].ID
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", limit))
				break
			}
			var message domain.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &message)
			}); err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return messages, next, nil
}

func (m MessageRepository) Get(id string) (domain.Message, error) {
	var message domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		message, err = getMessage(txn, id)
		return err
	})
	return message, err
}

func getMessage(txn *badger.Txn, id string) (domain.Message, error) {
	item, err := txn.Get(messageIDKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, errors.ErrNotFound
	}
	if err != nil {
		return domain.Message{}, err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return domain.Message{}, err
	}
	var message domain.Message
	if err = getJSON(txn, key, &message); err != nil {
		return domain.Message{}, err
	}
	return message, nil
}
