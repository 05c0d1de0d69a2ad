package domain

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

const (
	AttachmentSnippet = "📎 Attachment"
	snippetLength     = 120
)

// Thread is the closed set of conversation sources: PropertyThread or CommunityThread.
// Threads are normalised once into a ConversationSummary; nothing downstream
// switches on the concrete type again.
type Thread interface {
	conversation() Conversation
	summarize(viewerID string) ConversationSummary
}

type PropertyThread struct {
	Conversation Conversation
	Property     Property
	Other        Profile
}

type CommunityThread struct {
	Conversation Conversation
	Other        Profile
}

func (t PropertyThread) conversation() Conversation  { return t.Conversation }
func (t CommunityThread) conversation() Conversation { return t.Conversation }

func (t PropertyThread) summarize(viewerID string) ConversationSummary {
	s := baseSummary(t.Conversation, t.Other, viewerID)
	s.Title = strings.TrimSpace(t.Property.Title)
	if s.Title == "" {
		s.Title = s.OtherUserName
	}
	s.PropertyID = t.Property.ID
	s.CoverImage = t.Property.CoverImage
	return s
}

func (t CommunityThread) summarize(viewerID string) ConversationSummary {
	s := baseSummary(t.Conversation, t.Other, viewerID)
	s.Title = s.OtherUserName
	return s
}

// ConversationSummary is the one canonical list row shape.
type ConversationSummary struct {
	ID                 string              `json:"id"`
	Type               ConversationContext `json:"typeBadge"`
	Title              string              `json:"title"`
	OtherUserID        string              `json:"otherUserId"`
	OtherUserName      string              `json:"otherUserName"`
	OtherUserAvatar    string              `json:"otherUserAvatar,omitempty"`
	PropertyID         string              `json:"propertyId,omitempty"`
	CoverImage         string              `json:"coverImage,omitempty"`
	LastMessageSnippet string              `json:"lastMessageSnippet"`
	LastMessageTime    time.Time           `json:"lastMessageTime"`
	UnreadCount        int                 `json:"unreadCount"`
	Version            uint64              `json:"version"`
}

// Summarize normalises a thread for the given viewer.
func Summarize(t Thread, viewerID string) ConversationSummary {
	return t.summarize(viewerID)
}

func baseSummary(c Conversation, other Profile, viewerID string) ConversationSummary {
	otherName := DisplayName(other)
	return ConversationSummary{
		ID:                 c.ID,
		Type:               c.Context,
		OtherUserID:        other.ID,
		OtherUserName:      otherName,
		OtherUserAvatar:    CleanAvatarURL(other.AvatarURL),
		LastMessageSnippet: Snippet(c.LastMessage, viewerID, otherName),
		LastMessageTime:    c.LastMessageAt,
		UnreadCount:        c.StateFor(viewerID).UnreadCount,
		Version:            c.Version,
	}
}

// Snippet renders "You: ..." or "{otherName}: ..." for the last message.
func Snippet(preview *MessagePreview, viewerID, otherName string) string {
	if preview == nil {
		return ""
	}
	text := strings.Join(strings.Fields(preview.Body), " ")
	if text == "" && preview.HasAttachments {
		text = AttachmentSnippet
	}
	if runes := []rune(text); len(runes) > snippetLength {
		text = string(runes[:snippetLength]) + "…"
	}
	if preview.SenderID == viewerID {
		return "You: " + text
	}
	return otherName + ": " + text
}

type ListFilter string

const (
	FilterAll        ListFilter = "all"
	FilterProperties ListFilter = "properties"
	FilterCommunity  ListFilter = "community"
)

func ParseListFilter(raw string) (ListFilter, bool) {
	switch ListFilter(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FilterAll:
		return FilterAll, true
	case FilterProperties:
		return FilterProperties, true
	case FilterCommunity:
		return FilterCommunity, true
	default:
		return "", false
	}
}

func (f ListFilter) Accepts(s ConversationSummary) bool {
	switch f {
	case FilterProperties:
		return s.Type == ContextProperty
	case FilterCommunity:
		return s.Type == ContextCommunity
	default:
		return true
	}
}

// MatchesSearch is a case-insensitive substring match over title and other participant name.
func MatchesSearch(s ConversationSummary, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s.Title), term) ||
		strings.Contains(strings.ToLower(s.OtherUserName), term)
}

// SortSummaries orders by last message time, newest first, ties broken by id.
func SortSummaries(summaries []ConversationSummary) {
	slices.SortStableFunc(summaries, func(a, b ConversationSummary) int {
		if c := b.LastMessageTime.Compare(a.LastMessageTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
