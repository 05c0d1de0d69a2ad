package attachment

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"marketplace-inbox/domain"
	"marketplace-inbox/errors"
	"marketplace-inbox/mocks"
	"marketplace-inbox/repositories"
)

type storeFixture struct {
	store       *Store
	blobs       *mocks.MockIBlobStore
	quota       repositories.BadgerQuotaLedger
	attachments repositories.AttachmentRepository
	outcomes    []string
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	f := &storeFixture{
		blobs:       mocks.NewMockIBlobStore(gomock.NewController(t)),
		quota:       repositories.NewBadgerQuotaLedger(db, log),
		attachments: repositories.NewAttachmentRepository(db, log),
	}
	f.store = NewStore(log, f.blobs, f.quota, f.attachments, time.Minute).
		OnOutcome(func(outcome string) { f.outcomes = append(f.outcomes, outcome) })
	return f
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func pngUpload(data []byte) Upload {
	return Upload{
		UploaderID:     "alice",
		ConversationID: "c1",
		FileName:       "living room.png",
		DeclaredMime:   "image/png",
		Size:           int64(len(data)),
		Body:           bytes.NewReader(data),
	}
}

func TestStore_Upload(t *testing.T) {
	req := require.New(t)
	f := newStoreFixture(t)
	ctx := context.Background()
	data := pngBytes(t, 3, 2)

	// Given a blob store accepting the write
	f.blobs.EXPECT().
		Put(gomock.Any(), gomock.Any(), "image/png", gomock.Any(), int64(len(data))).
		DoAndReturn(func(_ context.Context, key, _ string, body io.Reader, _ int64) error {
			req.True(strings.HasPrefix(key, "alice/c1/"))
			req.True(strings.HasSuffix(key, "-living_room.png"))
			written, err := io.ReadAll(body)
			req.NoError(err)
			req.Equal(data, written)
			return nil
		})
	f.blobs.EXPECT().SignedURL(gomock.Any(), gomock.Any(), time.Minute).Return("https://blobs/signed", nil)

	// When alice uploads a png
	att, err := f.store.Upload(ctx, pngUpload(data), domain.DefaultPlanCatalog().LimitsFor(domain.PlanFree))

	// Then an unbound attachment is recorded with its dimensions and a signed url
	req.NoError(err)
	req.False(att.Bound())
	req.Equal("living_room.png", att.FileName)
	req.Equal("https://blobs/signed", att.StorageURL)
	req.NotNil(att.Width)
	req.Equal(3, *att.Width)
	req.Equal(2, *att.Height)

	stored, err := f.attachments.Get(att.ID)
	req.NoError(err)
	req.Equal(att.StorageKey, stored.StorageKey)

	used, err := f.quota.Used(ctx, "alice", time.Now())
	req.NoError(err)
	req.Equal(1, used)
	req.Equal([]string{"stored"}, f.outcomes)
}

func TestStore_Upload_ContentMustMatchDeclaredType(t *testing.T) {
	req := require.New(t)
	f := newStoreFixture(t)
	ctx := context.Background()

	// Given a pdf body declared as a png
	up := pngUpload([]byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n<<>>\nendobj\n"))

	// When it is uploaded
	_, err := f.store.Upload(ctx, up, domain.DefaultPlanCatalog().LimitsFor(domain.PlanFree))

	// Then it is rejected before any quota is charged
	req.ErrorIs(err, errors.ErrValidation)
	req.ErrorIs(err, errors.ErrUnsupportedMedia)
	used, err := f.quota.Used(ctx, "alice", time.Now())
	req.NoError(err)
	req.Zero(used)
	req.Equal([]string{"rejected"}, f.outcomes)
}

func TestStore_Upload_DeclaredTypeWithParameters(t *testing.T) {
	req := require.New(t)
	f := newStoreFixture(t)
	data := pngBytes(t, 1, 1)

	// Given a png declared with media type parameters
	up := pngUpload(data)
	up.DeclaredMime = "Image/PNG; charset=binary"
	f.blobs.EXPECT().Put(gomock.Any(), gomock.Any(), "image/png", gomock.Any(), int64(len(data))).Return(nil)
	f.blobs.EXPECT().SignedURL(gomock.Any(), gomock.Any(), time.Minute).Return("u", nil)

	// When it is uploaded
	att, err := f.store.Upload(context.Background(), up, domain.DefaultPlanCatalog().LimitsFor(domain.PlanFree))

	// Then the content matches the normalized type
	req.NoError(err)
	req.Equal("image/png", att.MimeType)
}

func TestStore_Upload_BodyLargerThanDeclared(t *testing.T) {
	req := require.New(t)
	f := newStoreFixture(t)
	limits := domain.PlanLimits{MaxSizeMB: 1, DailyCount: 5, MaxFiles: 1, AllowedMimes: []string{"image/png"}}

	// Given a body bigger than the plan allows but a small declared size
	up := pngUpload(append(pngBytes(t, 1, 1), make([]byte, 2*1024*1024)...))
	up.Size = 10

	_, err := f.store.Upload(context.Background(), up, limits)
	req.ErrorIs(err, errors.ErrValidation)
	req.Contains(err.Error(), "Exceeds 1MB limit")
}

func TestStore_Upload_DailyQuota(t *testing.T) {
	req := require.New(t)
	f := newStoreFixture(t)
	ctx := context.Background()
	limits := domain.PlanLimits{MaxSizeMB: 1, DailyCount: 1, MaxFiles: 1, AllowedMimes: []string{"image/png"}}
	data := pngBytes(t, 1, 1)

	f.blobs.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)
	f.blobs.EXPECT().SignedURL(gomock.Any(), gomock.Any(), gomock.Any()).Return("u", nil).Times(1)

	// Given the single daily upload is consumed
	_, err := f.store.Upload(ctx, pngUpload(data), limits)
	req.NoError(err)

	// When a second upload is attempted the same day
	_, err = f.store.Upload(ctx, pngUpload(data), limits)

	// Then it is rate limited with the reset time
	req.ErrorIs(err, errors.ErrRateLimited)
	var quota *errors.QuotaExceeded
	req.True(errors.As(err, &quota))
	req.Equal(1, quota.Limit)
	req.True(quota.ResetAt.After(time.Now()))

	usage, err := f.store.Usage(ctx, "alice", limits)
	req.NoError(err)
	req.Equal(1, usage.Used)
	req.Zero(usage.Remaining)
	req.Equal([]string{"stored", "rate_limited"}, f.outcomes)
}

func TestStore_Upload_BlobFailureRefundsQuota(t *testing.T) {
	req := require.New(t)
	f := newStoreFixture(t)
	ctx := context.Background()

	// Given the blob store is down
	f.blobs.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(fmt.Errorf("connection reset"))

	_, err := f.store.Upload(ctx, pngUpload(pngBytes(t, 2, 2)), domain.DefaultPlanCatalog().LimitsFor(domain.PlanFree))

	// Then the error is a storage failure and the quota unit is given back
	req.ErrorIs(err, errors.ErrStorage)
	used, err := f.quota.Used(ctx, "alice", time.Now())
	req.NoError(err)
	req.Zero(used)
	orphans, err := f.attachments.ListOrphans(time.Now().Add(time.Hour), 10)
	req.NoError(err)
	req.Empty(orphans)
	req.Equal([]string{"failed"}, f.outcomes)
}

func TestStore_RefreshAll(t *testing.T) {
	req := require.New(t)
	f := newStoreFixture(t)
	f.blobs.EXPECT().SignedURL(gomock.Any(), "k1", time.Minute).Return("https://fresh/k1", nil)
	f.blobs.EXPECT().SignedURL(gomock.Any(), "k2", time.Minute).Return("", fmt.Errorf("signer down"))

	messages := []domain.Message{{
		ID: "m1",
		Attachments: []domain.Attachment{
			{ID: "a1", StorageKey: "k1", StorageURL: "https://stale/k1"},
			{ID: "a2", StorageKey: "k2", StorageURL: "https://stale/k2"},
		},
	}}
	f.store.RefreshAll(context.Background(), messages)

	req.Equal("https://fresh/k1", messages[0].Attachments[0].StorageURL)
	req.Empty(messages[0].Attachments[1].StorageURL)
}
