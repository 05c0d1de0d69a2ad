//go:generate go run go.uber.org/mock/mockgen -source=attachment.go -destination=../mocks/mock_attachment_repository.go -package=mocks
package repositories

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"marketplace-inbox/domain"
	"marketplace-inbox/errors"
)

type IAttachmentRepository interface {
	Save(attachment domain.Attachment) error
	Get(id string) (domain.Attachment, error)
	DeleteUnbound(id string) error
	ListOrphans(olderThan time.Time, limit int) ([]domain.Attachment, error)
}

type AttachmentRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewAttachmentRepository(db *badger.DB, log *slog.Logger) AttachmentRepository {
	return AttachmentRepository{db: db, log: log}
}

const attachmentPrefix = "att:"

func attachmentKey(id string) []byte { return []byte(attachmentPrefix + id) }

// Save stores a freshly uploaded attachment. Ids are never reused.
func (r AttachmentRepository) Save(attachment domain.Attachment) error {
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(attachmentKey(attachment.ID)); err == nil {
			return fmt.Errorf("%w: attachment %s", errors.ErrConflict, attachment.ID)
		}
		return setJSON(txn, attachmentKey(attachment.ID), attachment)
	})
}

func (r AttachmentRepository) Get(id string) (domain.Attachment, error) {
	var attachment domain.Attachment
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, attachmentKey(id), &attachment)
	})
	return attachment, err
}

// DeleteUnbound removes an attachment only while no message owns it.
// A concurrent bind makes one of the two transactions fail with a conflict.
func (r AttachmentRepository) DeleteUnbound(id string) error {
	return asConflict(r.db.Update(func(txn *badger.Txn) error {
		return deleteUnbound(txn, id)
	}))
}

func deleteUnbound(txn *badger.Txn, id string) error {
	var attachment domain.Attachment
	if err := getJSON(txn, attachmentKey(id), &attachment); err != nil {
		return err
	}
	if attachment.Bound() {
		return fmt.Errorf("%w: attachment %s is bound to %s", errors.ErrConflict, id, attachment.MessageID)
	}
	return txn.Delete(attachmentKey(id))
}

// ListOrphans scans for attachments that were uploaded before olderThan and never sent.
func (r AttachmentRepository) ListOrphans(olderThan time.Time, limit int) ([]domain.Attachment, error) {
	var orphans []domain.Attachment
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(attachmentPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(orphans) == limit {
				break
			}
			var attachment domain.Attachment
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &attachment)
			}); err != nil {
				return err
			}
			if !attachment.Bound() && attachment.CreatedAt.Before(olderThan) {
				orphans = append(orphans, attachment)
			}
		}
		return nil
	})
	return orphans, err
}
