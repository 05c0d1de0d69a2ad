package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIdentityKey_IsOrderIndependent(t *testing.T) {
	req := require.New(t)
	req.Equal(
		IdentityKey("alice", "bob", ContextProperty, "p1"),
		IdentityKey("bob", "alice", ContextProperty, "p1"),
	)
	req.NotEqual(
		IdentityKey("alice", "bob", ContextProperty, "p1"),
		IdentityKey("alice", "bob", ContextProperty, "p2"),
	)
	req.NotEqual(
		IdentityKey("alice", "bob", ContextProperty, ""),
		IdentityKey("alice", "bob", ContextCommunity, ""),
	)
}

func TestConversation_RecordMessage_UnreadAccounting(t *testing.T) {
	req := require.New(t)
	now := time.Now().UTC()

	// Given a fresh conversation hidden by bob
	c := NewConversation("c1", "alice", "bob", ContextCommunity, "", now)
	req.True(c.Hide("bob"))
	version := c.Version

	// When alice sends a message
	c.RecordMessage(Message{ID: "m1", SenderID: "alice", Body: "hi", CreatedAt: now.Add(time.Second)})

	// Then only bob gets an unread, and the thread is visible again
	req.Equal(0, c.StateFor("alice").UnreadCount)
	req.Equal(1, c.StateFor("bob").UnreadCount)
	req.False(c.StateFor("bob").Hidden)
	req.Equal(now.Add(time.Second), c.LastMessageAt)
	req.Equal(version+1, c.Version)
	req.Equal("m1", c.LastMessage.MessageID)
}

func TestConversation_MarkRead_IsIdempotent(t *testing.T) {
	req := require.New(t)
	now := time.Now().UTC()
	c := NewConversation("c1", "alice", "bob", ContextCommunity, "", now)
	for i := 0; i < 3; i++ {
		c.RecordMessage(Message{ID: "m", SenderID: "alice", CreatedAt: now.Add(time.Duration(i+1) * time.Second)})
	}
	req.Equal(3, c.StateFor("bob").UnreadCount)

	req.True(c.MarkRead("bob", now))
	version := c.Version
	req.Equal(0, c.StateFor("bob").UnreadCount)
	req.NotNil(c.StateFor("bob").LastReadAt)

	// A second call changes nothing
	req.False(c.MarkRead("bob", now.Add(time.Minute)))
	req.Equal(version, c.Version)
}

func TestConversation_NextMessageTime_IsStrictlyIncreasing(t *testing.T) {
	req := require.New(t)
	now := time.Now().UTC()
	c := NewConversation("c1", "alice", "bob", ContextCommunity, "", now)
	c.RecordMessage(Message{ID: "m1", SenderID: "alice", CreatedAt: now})

	req.Equal(now.Add(time.Nanosecond), c.NextMessageTime(now))
	req.Equal(now.Add(time.Nanosecond), c.NextMessageTime(now.Add(-time.Hour)))
	req.Equal(now.Add(time.Hour), c.NextMessageTime(now.Add(time.Hour)))
}

func TestConversation_OtherParticipant(t *testing.T) {
	req := require.New(t)
	c := NewConversation("c1", "bob", "alice", ContextCommunity, "", time.Now())
	req.Equal("alice", c.OtherParticipant("bob"))
	req.Equal("bob", c.OtherParticipant("alice"))
	req.Equal("", c.OtherParticipant("carol"))
	req.False(c.HasParticipant("carol"))
}
