//go:generate go run go.uber.org/mock/mockgen -source=conversation.go -destination=../mocks/mock_conversation_repository.go -package=mocks
package repositories

import (
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"marketplace-inbox/domain"
	"marketplace-inbox/errors"
)

type IConversationRepository interface {
	CreateIfAbsent(conversation domain.Conversation) (domain.Conversation, bool, error)
	FindByIdentity(identityKey string) (domain.Conversation, error)
	Get(id string) (domain.Conversation, error)
	ListForUser(userID string) ([]domain.Conversation, error)
	Update(id string, mutate func(c *domain.Conversation) bool) (domain.Conversation, bool, error)
}

type ConversationRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewConversationRepository(db *badger.DB, log *slog.Logger) ConversationRepository {
	return ConversationRepository{db: db, log: log}
}

// Key layout:
//
//	conv:{id}                 the conversation document
//	convkey:{identity tuple}  id of the only conversation for that tuple
//	uconv:{user}:{id}         membership index used to list a user's inbox
func conversationKey(id string) []byte { return []byte("conv:" + id) }
func identityKey(key string) []byte    { return []byte("convkey:" + key) }
func userIndexPrefix(userID string) []byte {
	return []byte("uconv:" + userID + ":")
}
func userIndexKey(userID, conversationID string) []byte {
	return append(userIndexPrefix(userID), conversationID...)
}

// CreateIfAbsent is a conditional insert scoped by the identity tuple.
// When the tuple already exists the stored conversation is returned with created=false.
// Two transactions racing on the same tuple read the same identity key, so badger
// rejects the loser with ErrConflict; that is surfaced as errors.ErrConflict.
func (r ConversationRepository) CreateIfAbsent(conversation domain.Conversation) (domain.Conversation, bool, error) {
	var stored domain.Conversation
	created := false
	err := r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(identityKey(conversation.IdentityKey()))
		switch {
		case err == nil:
			var existingID []byte
			if existingID, err = item.ValueCopy(nil); err != nil {
				return err
			}
			return getJSON(txn, conversationKey(string(existingID)), &stored)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		if err = setJSON(txn, conversationKey(conversation.ID), conversation); err != nil {
			return err
		}
		if err = txn.Set(identityKey(conversation.IdentityKey()), []byte(conversation.ID)); err != nil {
			return err
		}
		for _, p := range conversation.Participants {
			if err = txn.Set(userIndexKey(p, conversation.ID), nil); err != nil {
				return err
			}
		}
		stored = conversation
		created = true
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		r.log.Debug("Conversation creation lost a race", "identity", conversation.IdentityKey())
		return domain.Conversation{}, false, fmt.Errorf("%w: %s", errors.ErrConflict, conversation.IdentityKey())
	}
	if err != nil {
		return domain.Conversation{}, false, err
	}
	return stored, created, nil
}

func (r ConversationRepository) FindByIdentity(key string) (domain.Conversation, error) {
	var conversation domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(identityKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.ErrNotFound
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, conversationKey(string(id)), &conversation)
	})
	return conversation, err
}

func (r ConversationRepository) Get(id string) (domain.Conversation, error) {
	var conversation domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, conversationKey(id), &conversation)
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("conversation %s: %w", id, err)
	}
	return conversation, nil
}

// ListForUser returns every conversation the user belongs to, hidden ones included.
func (r ConversationRepository) ListForUser(userID string) ([]domain.Conversation, error) {
	var conversations []domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := userIndexPrefix(userID)
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			conversationID := string(it.Item().Key()[len(prefix):])
			var c domain.Conversation
			if err := getJSON(txn, conversationKey(conversationID), &c); err != nil {
				if errors.Is(err, errors.ErrNotFound) {
					r.log.Warn("Dangling inbox index entry", "user_id", userID, "conversation_id", conversationID)
					continue
				}
				return err
			}
			conversations = append(conversations, c)
		}
		return nil
	})
	return conversations, err
}

// Update loads, mutates and stores a conversation in one transaction, retrying on conflict.
// mutate reports whether it changed anything; unchanged conversations are not rewritten.
func (r ConversationRepository) Update(id string, mutate func(c *domain.Conversation) bool) (domain.Conversation, bool, error) {
	var (
		conversation domain.Conversation
		changed      bool
	)
	err := updateWithRetry(r.db, func(txn *badger.Txn) error {
		conversation = domain.Conversation{}
		if err := getJSON(txn, conversationKey(id), &conversation); err != nil {
			return err
		}
		changed = mutate(&conversation)
		if !changed {
			return nil
		}
		return setJSON(txn, conversationKey(id), conversation)
	})
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("conversation %s: %w", id, err)
	}
	return conversation, changed, nil
}
