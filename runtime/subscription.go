package runtime

import (
	"sync"

	"marketplace-inbox/domain"
	"marketplace-inbox/errors"
)

// Subscription is a handle on one realtime channel.
// Updates stops receiving as soon as Close returns.
type Subscription struct {
	UserID string
	Kind   ChannelKind

	registry *Registry
	updates  chan domain.ConversationUpdate
	done     chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

func newSubscription(registry *Registry, userID string, kind ChannelKind, bufferSize int) *Subscription {
	return &Subscription{
		UserID:   userID,
		Kind:     kind,
		registry: registry,
		updates:  make(chan domain.ConversationUpdate, bufferSize),
		done:     make(chan struct{}),
	}
}

func (s *Subscription) Updates() <-chan domain.ConversationUpdate { return s.updates }

// Done is closed when the subscription ends for any reason.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err explains why the subscription ended: ErrSlowConsumer means updates were
// dropped and the client has to refetch a snapshot.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the registry slot. Safe to call more than once.
func (s *Subscription) Close() {
	s.shutdown(errors.ErrSubscriptionClosed)
}

func (s *Subscription) shutdown(reason error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = reason
	close(s.done)
	close(s.updates)
	s.mu.Unlock()

	s.registry.release(s)
}

// deliver never blocks. A full buffer ends the subscription instead of
// silently losing an update.
func (s *Subscription) deliver(update domain.ConversationUpdate) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	select {
	case s.updates <- update:
		s.mu.Unlock()
		return true
	default:
		s.mu.Unlock()
		s.shutdown(errors.ErrSlowConsumer)
		return false
	}
}
