package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"

	"marketplace-inbox/attachment"
	"marketplace-inbox/domain"
	"marketplace-inbox/errors"
)

type UploadState string

const (
	UploadQueued    UploadState = "queued"
	UploadUploading UploadState = "uploading"
	UploadDone      UploadState = "done"
	UploadError     UploadState = "error"
	UploadCancelled UploadState = "cancelled"
)

func (s UploadState) Terminal() bool {
	return s == UploadDone || s == UploadError || s == UploadCancelled
}

// Uploader is the transport used by the queue. *API implements it.
type Uploader interface {
	Upload(ctx context.Context, conversationID string, file File, progress func(sent, total int64)) (domain.Attachment, error)
}

// UploadItem is a read-only copy of one queue entry.
type UploadItem struct {
	ID         string
	FileName   string
	State      UploadState
	Progress   int
	Attachment *domain.Attachment
	Err        string
}

// Rejection is a file refused by validation. It never entered the queue.
type Rejection struct {
	FileName string
	Reasons  []string
}

type uploadEntry struct {
	item   UploadItem
	file   File
	cancel context.CancelFunc
}

// UploadQueue uploads files for one conversation, each independently and at
// most `parallel` at a time. It lives in memory only.
type UploadQueue struct {
	uploader       Uploader
	conversationID string
	limits         domain.PlanLimits
	slots          *semaphore.Weighted

	mu       sync.Mutex
	entries  map[string]*uploadEntry
	order    []string
	wg       sync.WaitGroup
	onChange func(UploadItem)
}

func NewUploadQueue(uploader Uploader, conversationID string, limits domain.PlanLimits, parallel int64) *UploadQueue {
	if parallel <= 0 {
		parallel = 2
	}
	return &UploadQueue{
		uploader:       uploader,
		conversationID: conversationID,
		limits:         limits,
		slots:          semaphore.NewWeighted(parallel),
		entries:        make(map[string]*uploadEntry),
	}
}

// OnChange registers a callback receiving every state or progress change.
func (q *UploadQueue) OnChange(fn func(UploadItem)) *UploadQueue {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onChange = fn
	return q
}

// Add validates the files and queues the accepted ones. Files already in the
// queue count against the per-message limit.
func (q *UploadQueue) Add(ctx context.Context, files ...File) ([]string, []Rejection) {
	q.mu.Lock()
	active := lo.Filter(q.order, func(id string, _ int) bool {
		state := q.entries[id].item.State
		return state != UploadCancelled && state != UploadError
	})
	infos := make([]attachment.FileInfo, 0, len(active)+len(files))
	for _, id := range active {
		infos = append(infos, q.entries[id].file.Info())
	}
	for _, f := range files {
		infos = append(infos, f.Info())
	}
	results := attachment.ValidateBatch(infos, q.limits)[len(active):]

	var (
		ids        []string
		rejections []Rejection
		accepted   []*uploadEntry
	)
	for i, result := range results {
		if !result.OK() {
			rejections = append(rejections, Rejection{FileName: files[i].Name, Reasons: result.Reasons})
			continue
		}
		entryCtx, cancel := context.WithCancel(ctx)
		entry := &uploadEntry{
			item:   UploadItem{ID: uuid.NewString(), FileName: files[i].Name, State: UploadQueued},
			file:   files[i],
			cancel: cancel,
		}
		q.entries[entry.item.ID] = entry
		q.order = append(q.order, entry.item.ID)
		ids = append(ids, entry.item.ID)
		accepted = append(accepted, entry)
		q.wg.Add(1)
		go q.run(entryCtx, entry.item.ID)
	}
	q.mu.Unlock()

	for _, entry := range accepted {
		q.notify(entry.item)
	}
	return ids, rejections
}

func (q *UploadQueue) run(ctx context.Context, id string) {
	defer q.wg.Done()

	if err := q.slots.Acquire(ctx, 1); err != nil {
		q.finish(id, nil, context.Canceled)
		return
	}
	defer q.slots.Release(1)

	file, ok := q.transition(id, UploadUploading)
	if !ok {
		return
	}
	stored, err := q.uploader.Upload(ctx, q.conversationID, file, func(sent, total int64) {
		if total > 0 {
			q.progress(id, int(sent*100/total))
		}
	})
	if ctx.Err() != nil {
		err = context.Canceled
	}
	q.finish(id, &stored, err)
}

// transition moves a queued entry to uploading unless it was cancelled meanwhile.
func (q *UploadQueue) transition(id string, to UploadState) (File, bool) {
	q.mu.Lock()
	entry, ok := q.entries[id]
	if !ok || entry.item.State != UploadQueued {
		q.mu.Unlock()
		return File{}, false
	}
	entry.item.State = to
	item := entry.item
	q.mu.Unlock()
	q.notify(item)
	return entry.file, true
}

// progress only ever moves forward and stays below 100 until done.
func (q *UploadQueue) progress(id string, percent int) {
	q.mu.Lock()
	entry, ok := q.entries[id]
	if !ok || entry.item.State != UploadUploading || percent <= entry.item.Progress {
		q.mu.Unlock()
		return
	}
	entry.item.Progress = min(percent, 99)
	item := entry.item
	q.mu.Unlock()
	q.notify(item)
}

func (q *UploadQueue) finish(id string, stored *domain.Attachment, err error) {
	q.mu.Lock()
	entry, ok := q.entries[id]
	if !ok || entry.item.State.Terminal() {
		q.mu.Unlock()
		return
	}
	switch {
	case errors.Is(err, context.Canceled):
		entry.item.State = UploadCancelled
	case err != nil:
		entry.item.State = UploadError
		entry.item.Err = humanReason(err)
	default:
		entry.item.State = UploadDone
		entry.item.Progress = 100
		entry.item.Attachment = stored
	}
	entry.cancel()
	item := entry.item
	q.mu.Unlock()
	q.notify(item)
}

// Cancel stops a queued or uploading entry.
func (q *UploadQueue) Cancel(id string) error {
	q.mu.Lock()
	entry, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: upload %s", errors.ErrNotFound, id)
	}
	if entry.item.State.Terminal() {
		q.mu.Unlock()
		return fmt.Errorf("%w: upload %s is %s", errors.ErrConflict, id, entry.item.State)
	}
	entry.item.State = UploadCancelled
	entry.cancel()
	item := entry.item
	q.mu.Unlock()
	q.notify(item)
	return nil
}

// Remove drops a terminal entry. Failed uploads are re-added, never retried in place.
func (q *UploadQueue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.entries[id]
	if !ok {
		return fmt.Errorf("%w: upload %s", errors.ErrNotFound, id)
	}
	if !entry.item.State.Terminal() {
		return fmt.Errorf("%w: upload %s is still %s", errors.ErrConflict, id, entry.item.State)
	}
	delete(q.entries, id)
	q.order = lo.Without(q.order, id)
	return nil
}

func (q *UploadQueue) Snapshot() []UploadItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return lo.Map(q.order, func(id string, _ int) UploadItem { return q.entries[id].item })
}

// Ready is true when every remaining entry is done.
func (q *UploadQueue) Ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return lo.EveryBy(q.order, func(id string) bool { return q.entries[id].item.State == UploadDone })
}

// Done returns the stored attachments in queue order.
func (q *UploadQueue) Done() []domain.Attachment {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.Attachment
	for _, id := range q.order {
		if item := q.entries[id].item; item.State == UploadDone && item.Attachment != nil {
			out = append(out, *item.Attachment)
		}
	}
	return out
}

// Clear forgets every entry, cancelling those still running.
func (q *UploadQueue) Clear() {
	q.mu.Lock()
	for _, entry := range q.entries {
		entry.cancel()
	}
	q.entries = make(map[string]*uploadEntry)
	q.order = nil
	q.mu.Unlock()
}

// Wait blocks until every upload goroutine has returned.
func (q *UploadQueue) Wait() {
	q.wg.Wait()
}

func (q *UploadQueue) notify(item UploadItem) {
	q.mu.Lock()
	fn := q.onChange
	q.mu.Unlock()
	if fn != nil {
		fn(item)
	}
}

func humanReason(err error) string {
	var quota *errors.QuotaExceeded
	switch {
	case errors.As(err, &quota):
		return fmt.Sprintf("Daily limit of %d uploads reached", quota.Limit)
	case errors.Is(err, errors.ErrUnsupportedMedia):
		return "File content does not match its type"
	case errors.Is(err, errors.ErrValidation):
		return err.Error()
	case errors.Is(err, errors.ErrForbidden):
		return "You cannot upload to this conversation"
	default:
		return "Upload failed, please try again"
	}
}

func (q *UploadQueue) doneOrNil() []domain.Attachment {
	if q == nil {
		return nil
	}
	return q.Done()
}
