package repositories

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"marketplace-inbox/domain"
	"marketplace-inbox/errors"
)

func seedConversation(t *testing.T, repo ConversationRepository, a, b string) domain.Conversation {
	t.Helper()
	c := domain.NewConversation(uuid.NewString(), a, b, domain.ContextCommunity, "", time.Now().UTC())
	stored, _, err := repo.CreateIfAbsent(c)
	require.NoError(t, err)
	return stored
}

func TestMessageRepository_Append_UpdatesUnreadAndOrder(t *testing.T) {
	req := require.New(t)
	db := setupTestDB(t)
	conversations := NewConversationRepository(db, slog.Default())
	messages := NewMessageRepository(db, slog.Default(), 10)
	c := seedConversation(t, conversations, "alice", "bob")

	// Given two appends issued with the same wall clock
	at := time.Now().UTC()
	first, err := messages.Append(AppendInput{ConversationID: c.ID, SenderID: "alice", Body: "hello", At: at})
	req.NoError(err)
	second, err := messages.Append(AppendInput{ConversationID: c.ID, SenderID: "alice", Body: "again", At: at})
	req.NoError(err)

	// Then creation times are still strictly increasing
	req.True(second.Message.CreatedAt.After(first.Message.CreatedAt))

	// And only bob accumulated unread messages
	stored, err := conversations.Get(c.ID)
	req.NoError(err)
	req.Equal(0, stored.StateFor("alice").UnreadCount)
	req.Equal(2, stored.StateFor("bob").UnreadCount)
	req.Equal(second.Message.CreatedAt, stored.LastMessageAt)
	req.Equal("again", stored.LastMessage.Body)
}

func TestMessageRepository_Append_Rejections(t *testing.T) {
	req := require.New(t)
	db := setupTestDB(t)
	conversations := NewConversationRepository(db, slog.Default())
	messages := NewMessageRepository(db, slog.Default(), 10)
	c := seedConversation(t, conversations, "alice", "bob")

	_, err := messages.Append(AppendInput{ConversationID: c.ID, SenderID: "mallory", Body: "hi", At: time.Now()})
	req.ErrorIs(err, errors.ErrForbidden)

	_, err = messages.Append(AppendInput{ConversationID: "nope", SenderID: "alice", Body: "hi", At: time.Now()})
	req.ErrorIs(err, errors.ErrNotFound)

	_, err = messages.Append(AppendInput{ConversationID: c.ID, SenderID: "alice", AttachmentIDs: []string{"ghost"}, At: time.Now()})
	req.ErrorIs(err, errors.ErrAttachmentUnavailable)
}

func TestMessageRepository_Append_ReplaysClientRef(t *testing.T) {
	req := require.New(t)
	db := setupTestDB(t)
	conversations := NewConversationRepository(db, slog.Default())
	messages := NewMessageRepository(db, slog.Default(), 10)
	c := seedConversation(t, conversations, "alice", "bob")

	input := AppendInput{ConversationID: c.ID, SenderID: "alice", Body: "once", ClientRef: "ref-1", At: time.Now()}
	first, err := messages.Append(input)
	req.NoError(err)
	req.False(first.Replayed)

	// When the client retries the same send
	retry, err := messages.Append(input)

	// Then the stored message is returned and nothing is counted twice
	req.NoError(err)
	req.True(retry.Replayed)
	req.Equal(first.Message.ID, retry.Message.ID)
	stored, err := conversations.Get(c.ID)
	req.NoError(err)
	req.Equal(1, stored.StateFor("bob").UnreadCount)
}

func TestMessageRepository_Append_BindsAttachments(t *testing.T) {
	req := require.New(t)
	db := setupTestDB(t)
	conversations := NewConversationRepository(db, slog.Default())
	messages := NewMessageRepository(db, slog.Default(), 10)
	attachments := NewAttachmentRepository(db, slog.Default())
	c := seedConversation(t, conversations, "alice", "bob")

	own := domain.Attachment{ID: "a1", ConversationID: c.ID, UploaderID: "alice", MimeType: "image/png", CreatedAt: time.Now()}
	foreign := domain.Attachment{ID: "a2", ConversationID: c.ID, UploaderID: "bob", MimeType: "image/png", CreatedAt: time.Now()}
	req.NoError(attachments.Save(own))
	req.NoError(attachments.Save(foreign))

	// Someone else's upload cannot be attached
	_, err := messages.Append(AppendInput{ConversationID: c.ID, SenderID: "alice", AttachmentIDs: []string{"a2"}, At: time.Now()})
	req.ErrorIs(err, errors.ErrAttachmentUnavailable)

	result, err := messages.Append(AppendInput{ConversationID: c.ID, SenderID: "alice", AttachmentIDs: []string{"a1"}, At: time.Now()})
	req.NoError(err)
	req.Len(result.Message.Attachments, 1)
	req.Equal(result.Message.ID, result.Message.Attachments[0].MessageID)

	bound, err := attachments.Get("a1")
	req.NoError(err)
	req.True(bound.Bound())

	// An attachment is owned by exactly one message
	_, err = messages.Append(AppendInput{ConversationID: c.ID, SenderID: "alice", AttachmentIDs: []string{"a1"}, At: time.Now()})
	req.ErrorIs(err, errors.ErrAttachmentUnavailable)
	req.ErrorIs(attachments.DeleteUnbound("a1"), errors.ErrConflict)
}

func TestAttachmentRepository_DeleteUnboundLosesRaceToBinding(t *testing.T) {
	req := require.New(t)
	db := setupTestDB(t)
	attachments := NewAttachmentRepository(db, slog.Default())
	orphan := domain.Attachment{ID: "a1", UploaderID: "alice", StorageKey: "alice/c1/a1", CreatedAt: time.Now()}
	req.NoError(attachments.Save(orphan))

	// Given a sweep that has read the attachment as unbound
	txn := db.NewTransaction(true)
	defer txn.Discard()
	req.NoError(deleteUnbound(txn, "a1"))

	// When a message binds it before the sweep commits
	orphan.MessageID = "m1"
	req.NoError(db.Update(func(bind *badger.Txn) error {
		return setJSON(bind, attachmentKey(orphan.ID), orphan)
	}))

	// Then the sweep fails with the domain conflict and the binding survives
	req.ErrorIs(asConflict(txn.Commit()), errors.ErrConflict)
	bound, err := attachments.Get("a1")
	req.NoError(err)
	req.True(bound.Bound())
}

func TestMessageRepository_List_PaginatesWithoutGapsOrRepeats(t *testing.T) {
	req := require.New(t)
	db := setupTestDB(t)
	conversations := NewConversationRepository(db, slog.Default())
	messages := NewMessageRepository(db, slog.Default(), 10)
	c := seedConversation(t, conversations, "alice", "bob")
	other := seedConversation(t, conversations, "alice", "carol")

	start := time.Now().UTC()
	var want []string
	for i := 0; i < 7; i++ {
		sender := "alice"
		if i%2 == 1 {
			sender = "bob"
		}
		res, err := messages.Append(AppendInput{ConversationID: c.ID, SenderID: sender, Body: fmt.Sprintf("m%d", i), At: start.Add(time.Duration(i) * time.Second)})
		req.NoError(err)
		want = append(want, res.Message.ID)
	}
	_, err := messages.Append(AppendInput{ConversationID: other.ID, SenderID: "carol", Body: "elsewhere", At: start})
	req.NoError(err)

	// When paging three at a time
	var (
		got    []string
		cursor string
		last   time.Time
	)
	for {
		page, next, err := messages.List(c.ID, cursor, 3)
		req.NoError(err)
		for _, m := range page {
			req.False(m.CreatedAt.Before(last))
			last = m.CreatedAt
			got = append(got, m.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}

	// Then every message shows up exactly once, oldest first
	req.Equal(want, got)

	// A cursor from another conversation is rejected
	_, _, err = messages.List(other.ID, want[0], 3)
	req.ErrorIs(err, errors.ErrInvalidCursor)
}
