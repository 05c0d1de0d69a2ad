package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"marketplace-inbox/contract"
	"marketplace-inbox/domain"
	"marketplace-inbox/errors"
	"marketplace-inbox/repositories"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type IInboxService interface {
	List(ctx context.Context, userID string, query ListQuery) (ListPage, error)
	Summarize(ctx context.Context, conversation domain.Conversation, viewerID string) (domain.ConversationSummary, error)
}

type ListQuery struct {
	Filter domain.ListFilter
	Search string
	Cursor string
	Limit  int
}

type ListPage struct {
	Conversations []domain.ConversationSummary `json:"conversations"`
	NextCursor    string                       `json:"nextCursor,omitempty"`
}

// InboxService aggregates a user's conversations into list rows.
// Every call reads the repositories; there is no cached list.
type InboxService struct {
	log           *slog.Logger
	conversations repositories.IConversationRepository
	directory     contract.IDirectory
}

func NewInboxService(log *slog.Logger, conversations repositories.IConversationRepository, directory contract.IDirectory) *InboxService {
	return &InboxService{log: log, conversations: conversations, directory: directory}
}

func (s *InboxService) List(ctx context.Context, userID string, query ListQuery) (ListPage, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	if query.Filter == "" {
		query.Filter = domain.FilterAll
	}
	after, err := decodeListCursor(query.Cursor)
	if err != nil {
		return ListPage{}, err
	}

	conversations, err := s.conversations.ListForUser(userID)
	if err != nil {
		return ListPage{}, err
	}
	visible := lo.Filter(conversations, func(c domain.Conversation, _ int) bool {
		return !c.StateFor(userID).Hidden
	})
	threads, err := s.threads(ctx, visible, userID)
	if err != nil {
		return ListPage{}, err
	}

	summaries := make([]domain.ConversationSummary, 0, len(threads))
	for _, thread := range threads {
		summary := domain.Summarize(thread, userID)
		if query.Filter.Accepts(summary) && domain.MatchesSearch(summary, query.Search) {
			summaries = append(summaries, summary)
		}
	}
	domain.SortSummaries(summaries)

	if after != nil {
		summaries = lo.Filter(summaries, func(s domain.ConversationSummary, _ int) bool {
			return after.before(s)
		})
	}
	page := ListPage{Conversations: summaries}
	if len(summaries) > limit {
		page.Conversations = summaries[:limit]
		page.NextCursor = encodeListCursor(page.Conversations[limit-1])
	}
	return page, nil
}

// Summarize renders a single conversation for the realtime notifier.
func (s *InboxService) Summarize(ctx context.Context, conversation domain.Conversation, viewerID string) (domain.ConversationSummary, error) {
	threads, err := s.threads(ctx, []domain.Conversation{conversation}, viewerID)
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	return domain.Summarize(threads[0], viewerID), nil
}

// threads normalises conversations into the closed Thread union with one
// batched directory lookup per kind. Missing profiles or listings degrade to
// placeholders instead of hiding the conversation.
func (s *InboxService) threads(ctx context.Context, conversations []domain.Conversation, viewerID string) ([]domain.Thread, error) {
	otherIDs := lo.Map(conversations, func(c domain.Conversation, _ int) string { return c.OtherParticipant(viewerID) })
	propertyIDs := lo.FilterMap(conversations, func(c domain.Conversation, _ int) (string, bool) {
		return c.PropertyID, c.Context == domain.ContextProperty && c.PropertyID != ""
	})

	profiles, err := s.directory.GetProfiles(ctx, otherIDs)
	if err != nil {
		return nil, err
	}
	properties := map[string]domain.Property{}
	if len(propertyIDs) > 0 {
		if properties, err = s.directory.GetProperties(ctx, propertyIDs); err != nil {
			return nil, err
		}
	}

	threads := make([]domain.Thread, 0, len(conversations))
	for _, c := range conversations {
		otherID := c.OtherParticipant(viewerID)
		other, ok := profiles[otherID]
		if !ok {
			s.log.Debug("Profile missing for list row", "user_id", otherID, "conversation_id", c.ID)
			other = domain.Profile{ID: otherID}
		}
		switch c.Context {
		case domain.ContextProperty:
			property, ok := properties[c.PropertyID]
			if !ok {
				property = domain.Property{ID: c.PropertyID}
			}
			threads = append(threads, domain.PropertyThread{Conversation: c, Property: property, Other: other})
		default:
			threads = append(threads, domain.CommunityThread{Conversation: c, Other: other})
		}
	}
	return threads, nil
}

// listCursor is the position of the last row of a page in list order.
type listCursor struct {
	at time.Time
	id string
}

// before reports whether s sorts strictly after the cursor row.
func (c *listCursor) before(s domain.ConversationSummary) bool {
	if cmp := c.at.Compare(s.LastMessageTime); cmp != 0 {
		return cmp > 0
	}
	return s.ID > c.id
}

func encodeListCursor(s domain.ConversationSummary) string {
	raw := strconv.FormatInt(s.LastMessageTime.UnixNano(), 10) + ":" + s.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeListCursor(cursor string) (*listCursor, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, errors.ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return nil, errors.ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidCursor, err)
	}
	return &listCursor{at: time.Unix(0, n).UTC(), id: id}, nil
}
