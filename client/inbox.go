package client

import (
	"slices"
	"sync"

	"marketplace-inbox/domain"
)

type ApplyOutcome int

const (
	Applied ApplyOutcome = iota
	// Stale updates carry a version the inbox has already seen.
	Stale
	// NeedsSnapshot means the update concerns a row the inbox does not know
	// and carries no summary to build it from.
	NeedsSnapshot
)

// Inbox is the client-side conversation list. Rows are replaced from a
// snapshot and then kept current by realtime updates, applied idempotently.
type Inbox struct {
	mu   sync.RWMutex
	rows map[string]domain.ConversationSummary
}

func NewInbox() *Inbox {
	return &Inbox{rows: make(map[string]domain.ConversationSummary)}
}

func (i *Inbox) Replace(snapshot []domain.ConversationSummary) {
	rows := make(map[string]domain.ConversationSummary, len(snapshot))
	for _, s := range snapshot {
		rows[s.ID] = s
	}
	i.mu.Lock()
	i.rows = rows
	i.mu.Unlock()
}

// Apply folds one realtime update into the list. Unread counts are absolute so
// replaying an update never double counts.
func (i *Inbox) Apply(update domain.ConversationUpdate) ApplyOutcome {
	i.mu.Lock()
	defer i.mu.Unlock()

	row, known := i.rows[update.ConversationID]
	if known && update.Version <= row.Version {
		return Stale
	}
	if update.Hidden {
		delete(i.rows, update.ConversationID)
		return Applied
	}
	if update.Summary != nil {
		i.rows[update.ConversationID] = *update.Summary
		return Applied
	}
	if !known {
		return NeedsSnapshot
	}
	row.LastMessageSnippet = update.LastMessage
	if !update.LastMessageTime.IsZero() {
		row.LastMessageTime = update.LastMessageTime
	}
	row.UnreadCount = update.UnreadCount
	row.Version = update.Version
	i.rows[update.ConversationID] = row
	return Applied
}

// View filters and searches locally, newest conversation first.
func (i *Inbox) View(filter domain.ListFilter, search string) []domain.ConversationSummary {
	i.mu.RLock()
	out := make([]domain.ConversationSummary, 0, len(i.rows))
	for _, row := range i.rows {
		if filter.Accepts(row) && domain.MatchesSearch(row, search) {
			out = append(out, row)
		}
	}
	i.mu.RUnlock()
	domain.SortSummaries(out)
	return out
}

func (i *Inbox) Get(conversationID string) (domain.ConversationSummary, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	row, ok := i.rows[conversationID]
	return row, ok
}

func (i *Inbox) TotalUnread() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	total := 0
	for _, row := range i.rows {
		total += row.UnreadCount
	}
	return total
}

func (i *Inbox) IDs() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	ids := make([]string, 0, len(i.rows))
	for id := range i.rows {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
