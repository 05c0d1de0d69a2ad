package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketplace-inbox/domain"
)

func summaries(now time.Time) []domain.ConversationSummary {
	return []domain.ConversationSummary{
		{ID: "c1", Type: domain.ContextProperty, Title: "Casa en Posadas", OtherUserName: "Bob", LastMessageTime: now.Add(-time.Hour), Version: 3},
		{ID: "c2", Type: domain.ContextCommunity, Title: "Ana", OtherUserName: "Ana", LastMessageTime: now.Add(-time.Minute), Version: 5},
		{ID: "c3", Type: domain.ContextProperty, Title: "Depto centro", OtherUserName: "Carla", LastMessageTime: now.Add(-2 * time.Hour), Version: 1},
	}
}

func ids(rows []domain.ConversationSummary) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out
}

func TestInbox_ApplyRepositionsAndIsIdempotent(t *testing.T) {
	req := require.New(t)
	now := time.Now().UTC()
	inbox := NewInbox()
	inbox.Replace(summaries(now))
	req.Equal([]string{"c2", "c1", "c3"}, ids(inbox.View(domain.FilterAll, "")))

	// Given a new message in the oldest conversation
	update := domain.ConversationUpdate{
		ConversationID:  "c3",
		LastMessage:     "Carla: sigue disponible?",
		LastMessageTime: now,
		UnreadCount:     2,
		Version:         2,
	}

	// When it is applied twice
	req.Equal(Applied, inbox.Apply(update))
	req.Equal(Stale, inbox.Apply(update))

	// Then the row moves to the top once, with an absolute unread count
	req.Equal([]string{"c3", "c2", "c1"}, ids(inbox.View(domain.FilterAll, "")))
	row, ok := inbox.Get("c3")
	req.True(ok)
	req.Equal(2, row.UnreadCount)
	req.Equal("Carla: sigue disponible?", row.LastMessageSnippet)
	req.Equal(2, inbox.TotalUnread())

	// An older version arriving late is ignored
	req.Equal(Stale, inbox.Apply(domain.ConversationUpdate{ConversationID: "c3", UnreadCount: 7, Version: 1}))
	row, _ = inbox.Get("c3")
	req.Equal(2, row.UnreadCount)

	// A read elsewhere zeroes the count without moving the row
	req.Equal(Applied, inbox.Apply(domain.ConversationUpdate{ConversationID: "c3", UnreadCount: 0, Version: 3}))
	req.Zero(inbox.TotalUnread())
	req.Equal([]string{"c3", "c2", "c1"}, ids(inbox.View(domain.FilterAll, "")))
}

func TestInbox_UnknownConversation(t *testing.T) {
	req := require.New(t)
	now := time.Now().UTC()
	inbox := NewInbox()
	inbox.Replace(summaries(now))

	// Without a summary the client has to refetch
	req.Equal(NeedsSnapshot, inbox.Apply(domain.ConversationUpdate{ConversationID: "c9", Version: 1}))

	// With one it is inserted directly
	summary := domain.ConversationSummary{ID: "c9", Type: domain.ContextCommunity, Title: "Dario", OtherUserName: "Dario", LastMessageTime: now, Version: 1, UnreadCount: 1}
	req.Equal(Applied, inbox.Apply(domain.ConversationUpdate{ConversationID: "c9", Version: 1, Summary: &summary}))
	req.Equal("c9", inbox.View(domain.FilterAll, "")[0].ID)

	// Hiding removes it
	req.Equal(Applied, inbox.Apply(domain.ConversationUpdate{ConversationID: "c9", Version: 2, Hidden: true}))
	_, ok := inbox.Get("c9")
	req.False(ok)
}

func TestInbox_LocalFilterAndSearch(t *testing.T) {
	req := require.New(t)
	inbox := NewInbox()
	inbox.Replace(summaries(time.Now().UTC()))

	req.Equal([]string{"c1", "c3"}, ids(inbox.View(domain.FilterProperties, "")))
	req.Equal([]string{"c2"}, ids(inbox.View(domain.FilterCommunity, "")))
	req.Equal([]string{"c1"}, ids(inbox.View(domain.FilterAll, "POSADAS")))
	req.Equal([]string{"c3"}, ids(inbox.View(domain.FilterProperties, "carla")))
	req.Empty(inbox.View(domain.FilterCommunity, "carla"))
	req.Equal([]string{"c1", "c2", "c3"}, inbox.IDs())
}
