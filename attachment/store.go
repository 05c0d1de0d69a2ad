package attachment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"marketplace-inbox/contract"
	"marketplace-inbox/domain"
	"marketplace-inbox/domain/mimetypes"
	"marketplace-inbox/errors"
	"marketplace-inbox/repositories"
)

const DefaultURLTTL = time.Hour

// Upload is one file sent by a participant before the message that will carry it.
type Upload struct {
	UploaderID     string
	ConversationID string
	FileName       string
	DeclaredMime   string
	Size           int64
	Body           io.Reader
}

// Usage is the uploader's position against the daily quota.
type Usage struct {
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// Store persists attachment blobs and records, and charges the daily quota.
type Store struct {
	log         *slog.Logger
	blobs       contract.IBlobStore
	quota       repositories.IQuotaLedger
	attachments repositories.IAttachmentRepository
	urlTTL      time.Duration
	now         func() time.Time
	onOutcome   func(outcome string)
}

func NewStore(
	log *slog.Logger,
	blobs contract.IBlobStore,
	quota repositories.IQuotaLedger,
	attachments repositories.IAttachmentRepository,
	urlTTL time.Duration,
) *Store {
	if urlTTL <= 0 {
		urlTTL = DefaultURLTTL
	}
	return &Store{
		log:         log,
		blobs:       blobs,
		quota:       quota,
		attachments: attachments,
		urlTTL:      urlTTL,
		now:         time.Now,
	}
}

// OnOutcome registers a hook receiving "stored", "rejected", "rate_limited" or "failed".
func (s *Store) OnOutcome(fn func(outcome string)) *Store {
	s.onOutcome = fn
	return s
}

// Upload validates the file, charges one unit of quota, writes the blob and
// records an unbound attachment. Any failure after the charge refunds it.
func (s *Store) Upload(ctx context.Context, up Upload, limits domain.PlanLimits) (attachment domain.Attachment, err error) {
	defer func() { s.report(err) }()

	declared := mimetypes.Normalize(up.DeclaredMime)
	if result := Validate(FileInfo{Name: up.FileName, Size: up.Size, MimeType: string(declared)}, limits); !result.OK() {
		return domain.Attachment{}, fmt.Errorf("%w: %s", errors.ErrValidation, result.Error())
	}

	data, err := io.ReadAll(io.LimitReader(up.Body, limits.MaxSizeBytes()+1))
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("%w: reading upload: %v", errors.ErrTransient, err)
	}
	if result := Validate(FileInfo{Name: up.FileName, Size: int64(len(data)), MimeType: string(declared)}, limits); !result.OK() {
		return domain.Attachment{}, fmt.Errorf("%w: %s", errors.ErrValidation, result.Error())
	}
	detected := mimetype.Detect(data)
	if _, ok := mimetypes.Matches(detected.String(), declared); !ok {
		return domain.Attachment{}, fmt.Errorf("%w: %w: declared %s, content is %s",
			errors.ErrValidation, errors.ErrUnsupportedMedia, declared, detected.String())
	}

	now := s.now().UTC()
	used, err := s.quota.Consume(ctx, up.UploaderID, now, limits.DailyCount)
	if err != nil {
		return domain.Attachment{}, err
	}

	fileName := SanitizeFileName(up.FileName)
	attachment = domain.Attachment{
		ID:             uuid.NewString(),
		ConversationID: up.ConversationID,
		UploaderID:     up.UploaderID,
		FileName:       fileName,
		MimeType:       string(declared),
		FileSize:       int64(len(data)),
		StorageKey:     BlobKey(up.UploaderID, up.ConversationID, now, fileName),
		CreatedAt:      now,
	}
	if mimetypes.IsImage(declared) {
		if w, h, ok := imageDimensions(data); ok {
			attachment.Width, attachment.Height = &w, &h
		}
	}

	if err = s.blobs.Put(ctx, attachment.StorageKey, attachment.MimeType, bytes.NewReader(data), attachment.FileSize); err != nil {
		s.refund(ctx, up.UploaderID, now)
		return domain.Attachment{}, fmt.Errorf("%w: writing blob: %v", errors.ErrStorage, err)
	}
	if err = s.attachments.Save(attachment); err != nil {
		if delErr := s.blobs.Delete(ctx, attachment.StorageKey); delErr != nil {
			s.log.Warn("Blob left behind after failed save", "key", attachment.StorageKey, "error", delErr)
		}
		s.refund(ctx, up.UploaderID, now)
		return domain.Attachment{}, fmt.Errorf("%w: saving attachment: %v", errors.ErrStorage, err)
	}

	s.log.Debug("Attachment stored",
		"attachment_id", attachment.ID, "conversation_id", attachment.ConversationID,
		"size", attachment.FileSize, "daily_used", used)
	return s.Refresh(ctx, attachment), nil
}

// Refresh signs a fresh URL for the attachment. On failure the URL is left empty.
func (s *Store) Refresh(ctx context.Context, attachment domain.Attachment) domain.Attachment {
	url, err := s.blobs.SignedURL(ctx, attachment.StorageKey, s.urlTTL)
	if err != nil {
		s.log.Warn("Cannot sign attachment url", "attachment_id", attachment.ID, "error", err)
		attachment.StorageURL = ""
		return attachment
	}
	attachment.StorageURL = url
	return attachment
}

// RefreshAll re-signs the attachments of a page of messages in place.
func (s *Store) RefreshAll(ctx context.Context, messages []domain.Message) {
	for i := range messages {
		for j := range messages[i].Attachments {
			messages[i].Attachments[j] = s.Refresh(ctx, messages[i].Attachments[j])
		}
	}
}

// Usage reports today's consumption for the uploader.
func (s *Store) Usage(ctx context.Context, userID string, limits domain.PlanLimits) (Usage, error) {
	now := s.now().UTC()
	used, err := s.quota.Used(ctx, userID, now)
	if err != nil {
		return Usage{}, err
	}
	return Usage{
		Used:      used,
		Remaining: max(limits.DailyCount-used, 0),
		ResetAt:   repositories.NextReset(now),
	}, nil
}

func (s *Store) refund(ctx context.Context, userID string, day time.Time) {
	if err := s.quota.Refund(ctx, userID, day); err != nil {
		s.log.Error("Quota refund failed", "user_id", userID, "error", err)
	}
}

func (s *Store) report(err error) {
	if s.onOutcome == nil {
		return
	}
	switch {
	case err == nil:
		s.onOutcome("stored")
	case errors.Is(err, errors.ErrRateLimited):
		s.onOutcome("rate_limited")
	case errors.Is(err, errors.ErrValidation):
		s.onOutcome("rejected")
	default:
		s.onOutcome("failed")
	}
}
