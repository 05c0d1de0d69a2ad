package workers

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"marketplace-inbox/domain"
	"marketplace-inbox/mocks"
	"marketplace-inbox/repositories"
)

func TestOrphanJanitor_Sweep(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	req.NoError(err)
	defer db.Close()

	attachments := repositories.NewAttachmentRepository(db, log)
	blobs := mocks.NewMockIBlobStore(gomock.NewController(t))
	now := time.Now().UTC()

	// Given an old orphan, a fresh orphan and an old bound attachment
	req.NoError(attachments.Save(domain.Attachment{ID: "old", StorageKey: "u/c/old", CreatedAt: now.Add(-48 * time.Hour)}))
	req.NoError(attachments.Save(domain.Attachment{ID: "fresh", StorageKey: "u/c/fresh", CreatedAt: now}))
	req.NoError(attachments.Save(domain.Attachment{ID: "sent", MessageID: "m1", StorageKey: "u/c/sent", CreatedAt: now.Add(-48 * time.Hour)}))

	// Then only the old orphan blob is deleted
	blobs.EXPECT().Delete(gomock.Any(), "u/c/old").Return(nil).Times(1)

	var reported int
	janitor := NewOrphanJanitor(log, attachments, blobs, time.Hour, 24*time.Hour).
		OnReclaimed(func(n int) { reported = n })

	// When the janitor sweeps
	reclaimed, err := janitor.Sweep(context.Background())
	req.NoError(err)
	req.Equal(1, reclaimed)
	req.Equal(1, reported)

	_, err = attachments.Get("old")
	req.Error(err)
	_, err = attachments.Get("fresh")
	req.NoError(err)
	_, err = attachments.Get("sent")
	req.NoError(err)
}
