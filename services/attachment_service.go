package services

import (
	"context"
	"fmt"
	"log/slog"

	"marketplace-inbox/attachment"
	"marketplace-inbox/contract"
	"marketplace-inbox/domain"
	"marketplace-inbox/errors"
	"marketplace-inbox/repositories"
)

type IAttachmentService interface {
	Upload(ctx context.Context, upload attachment.Upload) (domain.Attachment, error)
	Limits(ctx context.Context, userID string) (LimitsInfo, error)
}

// LimitsInfo tells the client what it may upload today.
type LimitsInfo struct {
	PlanTier domain.PlanTier   `json:"planTier"`
	Limits   domain.PlanLimits `json:"limits"`
	attachment.Usage
}

type AttachmentService struct {
	log           *slog.Logger
	conversations repositories.IConversationRepository
	directory     contract.IDirectory
	plans         domain.PlanCatalog
	store         *attachment.Store
}

func NewAttachmentService(
	log *slog.Logger,
	conversations repositories.IConversationRepository,
	directory contract.IDirectory,
	plans domain.PlanCatalog,
	store *attachment.Store,
) *AttachmentService {
	return &AttachmentService{log: log, conversations: conversations, directory: directory, plans: plans, store: store}
}

// Upload stores an attachment for a conversation the uploader belongs to.
// The attachment stays unbound until a message claims it.
func (s *AttachmentService) Upload(ctx context.Context, upload attachment.Upload) (domain.Attachment, error) {
	conversation, err := s.conversations.Get(upload.ConversationID)
	if err != nil {
		return domain.Attachment{}, err
	}
	if !conversation.HasParticipant(upload.UploaderID) {
		return domain.Attachment{}, fmt.Errorf("%w: %s is not part of %s", errors.ErrForbidden, upload.UploaderID, upload.ConversationID)
	}
	profile, err := s.directory.GetProfile(ctx, upload.UploaderID)
	if err != nil {
		return domain.Attachment{}, err
	}
	return s.store.Upload(ctx, upload, s.plans.LimitsFor(profile.PlanTier))
}

func (s *AttachmentService) Limits(ctx context.Context, userID string) (LimitsInfo, error) {
	profile, err := s.directory.GetProfile(ctx, userID)
	if err != nil {
		return LimitsInfo{}, err
	}
	tier := profile.PlanTier
	if _, ok := s.plans[tier]; !ok {
		tier = domain.PlanFree
	}
	limits := s.plans.LimitsFor(tier)
	usage, err := s.store.Usage(ctx, userID, limits)
	if err != nil {
		return LimitsInfo{}, err
	}
	return LimitsInfo{PlanTier: tier, Limits: limits, Usage: usage}, nil
}
