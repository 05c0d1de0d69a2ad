package runtime

import (
	"log/slog"
	"sync"
	"time"

	"marketplace-inbox/domain"
	"marketplace-inbox/errors"
)

type ChannelKind string

const (
	ChannelConversation ChannelKind = "conversation"
	ChannelList         ChannelKind = "list"
)

func (k ChannelKind) Valid() bool {
	return k == ChannelConversation || k == ChannelList
}

type subscriptionKey struct {
	userID string
	kind   ChannelKind
}

// Registry tracks live subscriptions. There is at most one subscription per
// (user, channel kind): subscribing again closes the previous handle.
type Registry struct {
	mu         sync.RWMutex
	log        *slog.Logger
	bufferSize int
	sessions   map[subscriptionKey]*Subscription
	lastSeen   map[string]time.Time
	now        func() time.Time
	onChange   func(active int)
	onDropped  func(kind ChannelKind)
}

func NewRegistry(log *slog.Logger, bufferSize int) *Registry {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Registry{
		log:        log,
		bufferSize: bufferSize,
		sessions:   make(map[subscriptionKey]*Subscription),
		lastSeen:   make(map[string]time.Time),
		now:        time.Now,
	}
}

// OnChange registers a callback receiving the number of active subscriptions after each change.
func (r *Registry) OnChange(fn func(active int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// OnDropped registers a callback invoked when a subscription is closed for being too slow.
func (r *Registry) OnDropped(fn func(kind ChannelKind)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDropped = fn
}

// Subscribe acquires the (user, kind) slot. The caller owns the returned handle
// and must Close it; a previous holder of the slot is closed here.
func (r *Registry) Subscribe(userID string, kind ChannelKind) *Subscription {
	sub := newSubscription(r, userID, kind, r.bufferSize)
	key := subscriptionKey{userID: userID, kind: kind}

	r.mu.Lock()
	previous := r.sessions[key]
	r.sessions[key] = sub
	active := len(r.sessions)
	onChange := r.onChange
	r.mu.Unlock()

	if previous != nil {
		r.log.Debug("Replacing subscription", "user_id", userID, "kind", kind)
		previous.shutdown(errors.ErrSubscriptionClosed)
	}
	if onChange != nil {
		onChange(active)
	}
	return sub
}

// release frees the slot only if sub still owns it.
func (r *Registry) release(sub *Subscription) {
	key := subscriptionKey{userID: sub.UserID, kind: sub.Kind}
	r.mu.Lock()
	if r.sessions[key] != sub {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, key)
	if !r.onlineLocked(sub.UserID) {
		r.lastSeen[sub.UserID] = r.now().UTC()
	}
	active := len(r.sessions)
	onChange := r.onChange
	r.mu.Unlock()

	if onChange != nil {
		onChange(active)
	}
}

// Deliver pushes an update to every channel the user is subscribed to.
// It returns the number of subscriptions that accepted it.
func (r *Registry) Deliver(userID string, update domain.ConversationUpdate) int {
	r.mu.RLock()
	targets := make([]*Subscription, 0, 2)
	for _, kind := range []ChannelKind{ChannelConversation, ChannelList} {
		if sub, ok := r.sessions[subscriptionKey{userID: userID, kind: kind}]; ok {
			targets = append(targets, sub)
		}
	}
	onDropped := r.onDropped
	r.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if sub.deliver(update) {
			delivered++
			continue
		}
		if errors.Is(sub.Err(), errors.ErrSlowConsumer) {
			r.log.Warn("Subscriber too slow, closed", "user_id", userID, "kind", sub.Kind)
			if onDropped != nil {
				onDropped(sub.Kind)
			}
		}
	}
	return delivered
}

func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Lookup(userID string, kind ChannelKind) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.sessions[subscriptionKey{userID: userID, kind: kind}]
	return sub, ok
}

// Online reports whether the user holds at least one live subscription.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onlineLocked(userID)
}

// Presence reports the user as online, or when their last subscription ended.
func (r *Registry) Presence(userID string) domain.Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	presence := domain.Presence{UserID: userID, IsOnline: r.onlineLocked(userID)}
	if presence.IsOnline {
		now := r.now().UTC()
		presence.LastSeen = &now
	} else if seen, ok := r.lastSeen[userID]; ok {
		presence.LastSeen = &seen
	}
	return presence
}

func (r *Registry) onlineLocked(userID string) bool {
	for _, kind := range []ChannelKind{ChannelConversation, ChannelList} {
		if _, ok := r.sessions[subscriptionKey{userID: userID, kind: kind}]; ok {
			return true
		}
	}
	return false
}
