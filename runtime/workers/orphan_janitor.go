package workers

import (
	"context"
	"log/slog"
	"time"

	"marketplace-inbox/contract"
	"marketplace-inbox/errors"
	"marketplace-inbox/repositories"
)

const orphanBatchSize = 100

// OrphanJanitor reclaims attachments that were uploaded but never sent.
// The record goes first: if a message binds the attachment concurrently the
// delete loses the transaction and the blob is kept.
type OrphanJanitor struct {
	log         *slog.Logger
	attachments repositories.IAttachmentRepository
	blobs       contract.IBlobStore
	interval    time.Duration
	ttl         time.Duration
	now         func() time.Time
	onReclaimed func(n int)
}

func NewOrphanJanitor(
	log *slog.Logger,
	attachments repositories.IAttachmentRepository,
	blobs contract.IBlobStore,
	interval, ttl time.Duration,
) *OrphanJanitor {
	return &OrphanJanitor{
		log:         log,
		attachments: attachments,
		blobs:       blobs,
		interval:    interval,
		ttl:         ttl,
		now:         time.Now,
	}
}

func (j *OrphanJanitor) OnReclaimed(fn func(n int)) *OrphanJanitor {
	j.onReclaimed = fn
	return j
}

func (j *OrphanJanitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil {
				return err
			}
		}
	}
}

// Sweep deletes one batch of expired orphans and reports how many were reclaimed.
func (j *OrphanJanitor) Sweep(ctx context.Context) (int, error) {
	orphans, err := j.attachments.ListOrphans(j.now().Add(-j.ttl), orphanBatchSize)
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for _, orphan := range orphans {
		if err = j.attachments.DeleteUnbound(orphan.ID); err != nil {
			if !errors.Is(err, errors.ErrConflict) && !errors.Is(err, errors.ErrNotFound) {
				j.log.Warn("Cannot delete orphan attachment", "attachment_id", orphan.ID, "error", err)
			}
			continue
		}
		if err = j.blobs.Delete(ctx, orphan.StorageKey); err != nil {
			j.log.Warn("Orphan blob left behind", "key", orphan.StorageKey, "error", err)
		}
		reclaimed++
	}
	if reclaimed > 0 {
		j.log.Info("Reclaimed orphan attachments", "count", reclaimed)
		if j.onReclaimed != nil {
			j.onReclaimed(reclaimed)
		}
	}
	return reclaimed, nil
}
