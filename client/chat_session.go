package client

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketplace-inbox/domain"
	"marketplace-inbox/errors"
)

type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusConfirmed EntryStatus = "confirmed"
	StatusFailed    EntryStatus = "failed"
)

const DefaultReadDebounce = 750 * time.Millisecond

// Entry is one line of the thread as displayed. Unconfirmed entries are keyed
// by their ClientRef and have no server id yet.
type Entry struct {
	Message domain.Message
	Status  EntryStatus
	Err     string
}

// ChatAPI is the part of the API a chat session needs.
type ChatAPI interface {
	Messages(ctx context.Context, conversationID, cursor string, limit int) (MessagePage, error)
	Send(ctx context.Context, conversationID string, request SendRequest) (domain.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// ChatSession is the open thread. Sends are optimistic: an entry shows up as
// pending at once, then turns confirmed or failed. Failed entries stay until
// retried.
type ChatSession struct {
	log            *slog.Logger
	api            ChatAPI
	conversationID string
	userID         string
	readDebounce   time.Duration
	pageSize       int
	now            func() time.Time

	mu         sync.Mutex
	confirmed  []domain.Message
	seenIDs    map[string]struct{}
	unsent     map[string]*Entry
	unsentRefs []string
	readTimer  *time.Timer
	closed     bool
	onChange   func()
}

func NewChatSession(log *slog.Logger, api ChatAPI, conversationID, userID string, readDebounce time.Duration) *ChatSession {
	if readDebounce <= 0 {
		readDebounce = DefaultReadDebounce
	}
	return &ChatSession{
		log:            log,
		api:            api,
		conversationID: conversationID,
		userID:         userID,
		readDebounce:   readDebounce,
		pageSize:       100,
		now:            time.Now,
		seenIDs:        make(map[string]struct{}),
		unsent:         make(map[string]*Entry),
	}
}

// OnChange registers a callback fired after every change of Entries.
func (s *ChatSession) OnChange(fn func()) *ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
	return s
}

// Open loads the whole history and marks the conversation read.
func (s *ChatSession) Open(ctx context.Context) error {
	cursor := ""
	for {
		page, err := s.api.Messages(ctx, s.conversationID, cursor, s.pageSize)
		if err != nil {
			return err
		}
		s.mu.Lock()
		for _, m := range page.Messages {
			s.addConfirmedLocked(m)
		}
		s.mu.Unlock()
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	s.changed()
	return s.api.MarkRead(ctx, s.conversationID)
}

// Send shows the message as pending and posts it. The returned entry is
// confirmed or failed; a failed entry remains in the thread for Retry.
func (s *ChatSession) Send(ctx context.Context, body string, attachments []domain.Attachment) (Entry, error) {
	if !domain.HasContent(body, attachmentIDs(attachments)) {
		return Entry{}, errors.ErrEmptyMessage
	}

	ref := uuid.NewString()
	entry := &Entry{
		Status: StatusPending,
		Message: domain.Message{
			ConversationID: s.conversationID,
			SenderID:       s.userID,
			Body:           strings.TrimSpace(body),
			ClientRef:      ref,
			CreatedAt:      s.now().UTC(),
			Attachments:    attachments,
		},
	}
	s.mu.Lock()
	s.unsent[ref] = entry
	s.unsentRefs = append(s.unsentRefs, ref)
	s.mu.Unlock()
	s.changed()

	return s.deliver(ctx, ref)
}

// Retry resends a failed entry with its original correlation id, so a send
// that reached the server before failing is not duplicated.
func (s *ChatSession) Retry(ctx context.Context, ref string) (Entry, error) {
	s.mu.Lock()
	entry, ok := s.unsent[ref]
	if !ok {
		s.mu.Unlock()
		return Entry{}, fmt.Errorf("%w: no unsent message %s", errors.ErrNotFound, ref)
	}
	if entry.Status != StatusFailed {
		s.mu.Unlock()
		return *entry, fmt.Errorf("%w: message %s is %s", errors.ErrConflict, ref, entry.Status)
	}
	entry.Status = StatusPending
	entry.Err = ""
	s.mu.Unlock()
	s.changed()

	return s.deliver(ctx, ref)
}

func (s *ChatSession) deliver(ctx context.Context, ref string) (Entry, error) {
	s.mu.Lock()
	entry, ok := s.unsent[ref]
	if !ok {
		s.mu.Unlock()
		return Entry{}, fmt.Errorf("%w: no unsent message %s", errors.ErrNotFound, ref)
	}
	request := SendRequest{
		Body:          entry.Message.Body,
		AttachmentIDs: attachmentIDs(entry.Message.Attachments),
		ClientRef:     ref,
	}
	s.mu.Unlock()

	message, err := s.api.Send(ctx, s.conversationID, request)

	s.mu.Lock()
	if err != nil {
		entry, ok = s.unsent[ref]
		if !ok {
			// A realtime echo confirmed it while the response was lost.
			confirmed, _ := s.confirmedByRefLocked(ref)
			s.mu.Unlock()
			return confirmed, nil
		}
		entry.Status = StatusFailed
		entry.Err = err.Error()
		failed := *entry
		s.mu.Unlock()
		s.log.Warn("Message not sent", "conversation_id", s.conversationID, "client_ref", ref, "error", err)
		s.changed()
		return failed, err
	}
	s.addConfirmedLocked(message)
	s.mu.Unlock()
	s.changed()
	return Entry{Message: message, Status: StatusConfirmed}, nil
}

// Receive folds a realtime update into the thread. Messages already shown,
// by id or by correlation id, are not duplicated.
func (s *ChatSession) Receive(update domain.ConversationUpdate) {
	if update.ConversationID != s.conversationID || update.Message == nil {
		return
	}
	message := *update.Message

	s.mu.Lock()
	_, seen := s.seenIDs[message.ID]
	if !seen {
		s.addConfirmedLocked(message)
	}
	incoming := !seen && message.SenderID != s.userID
	if incoming {
		s.scheduleReadLocked()
	}
	s.mu.Unlock()

	if !seen {
		s.changed()
	}
}

// Entries lists confirmed messages in server order, then unsent ones in send order.
func (s *ChatSession) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.confirmed)+len(s.unsentRefs))
	for _, m := range s.confirmed {
		out = append(out, Entry{Message: m, Status: StatusConfirmed})
	}
	for _, ref := range s.unsentRefs {
		out = append(out, *s.unsent[ref])
	}
	return out
}

// Close stops the pending read receipt.
func (s *ChatSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.readTimer != nil {
		s.readTimer.Stop()
	}
}

// addConfirmedLocked inserts in (CreatedAt, ID) order and settles the unsent
// entry carrying the same correlation id.
func (s *ChatSession) addConfirmedLocked(message domain.Message) {
	if _, ok := s.seenIDs[message.ID]; ok {
		return
	}
	s.seenIDs[message.ID] = struct{}{}
	if message.ClientRef != "" {
		if _, ok := s.unsent[message.ClientRef]; ok {
			delete(s.unsent, message.ClientRef)
			s.unsentRefs = slices.DeleteFunc(s.unsentRefs, func(ref string) bool { return ref == message.ClientRef })
		}
	}
	i, _ := slices.BinarySearchFunc(s.confirmed, message, func(a, b domain.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	s.confirmed = slices.Insert(s.confirmed, i, message)
}

func (s *ChatSession) scheduleReadLocked() {
	if s.closed {
		return
	}
	if s.readTimer != nil {
		s.readTimer.Reset(s.readDebounce)
		return
	}
	s.readTimer = time.AfterFunc(s.readDebounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.api.MarkRead(ctx, s.conversationID); err != nil {
			s.log.Warn("Cannot mark conversation read", "conversation_id", s.conversationID, "error", err)
		}
	})
}

func (s *ChatSession) changed() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func attachmentIDs(attachments []domain.Attachment) []string {
	ids := make([]string, 0, len(attachments))
	for _, a := range attachments {
		ids = append(ids, a.ID)
	}
	return ids
}

func (s *ChatSession) confirmedByRefLocked(ref string) (Entry, bool) {
	for _, m := range s.confirmed {
		if m.ClientRef == ref {
			return Entry{Message: m, Status: StatusConfirmed}, true
		}
	}
	return Entry{}, false
}
