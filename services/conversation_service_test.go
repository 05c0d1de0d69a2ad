package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"marketplace-inbox/domain"
	"marketplace-inbox/domain/event"
	"marketplace-inbox/errors"
)

func TestConversationService_ResolveIsSymmetric(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	svc := f.conversationService()
	ctx := context.Background()

	// Given alice contacts bob about his listing
	first, err := svc.Resolve(ctx, ResolveCommand{CurrentUserID: "alice", TargetUserID: "bob", Context: domain.ContextProperty, PropertyID: "p1"})
	req.NoError(err)
	req.False(first.Existing)

	// When bob resolves the same tuple from his side
	second, err := svc.Resolve(ctx, ResolveCommand{CurrentUserID: "bob", TargetUserID: "alice", Context: domain.ContextProperty, PropertyID: "p1"})

	// Then both get the same conversation and only one was created
	req.NoError(err)
	req.True(second.Existing)
	req.Equal(first.ConversationID, second.ConversationID)
	req.Len(f.publisher.ofType(event.ConversationCreatedType), 1)

	// And a community conversation between the same users is a different thread
	community, err := svc.Resolve(ctx, ResolveCommand{CurrentUserID: "alice", TargetUserID: "bob", Context: domain.ContextCommunity})
	req.NoError(err)
	req.NotEqual(first.ConversationID, community.ConversationID)
}

func TestConversationService_ResolveRejections(t *testing.T) {
	f := newFixture(t)
	svc := f.conversationService()

	tests := []struct {
		name string
		cmd  ResolveCommand
		err  error
	}{
		{"Self conversation", ResolveCommand{CurrentUserID: "alice", TargetUserID: "alice", Context: domain.ContextCommunity}, errors.ErrSameParticipant},
		{"Property context without property", ResolveCommand{CurrentUserID: "alice", TargetUserID: "bob", Context: domain.ContextProperty}, errors.ErrPropertyRequired},
		{"Community context with property", ResolveCommand{CurrentUserID: "alice", TargetUserID: "bob", Context: domain.ContextCommunity, PropertyID: "p1"}, errors.ErrPropertyNotAllowed},
		{"Unknown target", ResolveCommand{CurrentUserID: "alice", TargetUserID: "ghost", Context: domain.ContextCommunity}, errors.ErrNotFound},
		{"Unknown property", ResolveCommand{CurrentUserID: "alice", TargetUserID: "bob", Context: domain.ContextProperty, PropertyID: "p404"}, errors.ErrNotFound},
		{"Unknown context", ResolveCommand{CurrentUserID: "alice", TargetUserID: "bob", Context: "auction"}, errors.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			_, err := svc.Resolve(context.Background(), tt.cmd)
			req.ErrorIs(err, tt.err)
		})
	}

	conversations, err := f.conversations.ListForUser("alice")
	require.NoError(t, err)
	require.Empty(t, conversations)
}

func TestConversationService_ConcurrentResolveCreatesOneConversation(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	svc := f.conversationService()

	const callers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]int{}
		created int
		errs    []error
	)
	// Given both participants racing to open the same thread
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := ResolveCommand{CurrentUserID: "alice", TargetUserID: "bob", Context: domain.ContextProperty, PropertyID: "p1"}
			if i%2 == 1 {
				cmd.CurrentUserID, cmd.TargetUserID = "bob", "alice"
			}
			resolution, err := svc.Resolve(context.Background(), cmd)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ids[resolution.ConversationID]++
			if !resolution.Existing {
				created++
			}
		}(i)
	}
	wg.Wait()

	// Then every caller sees the same id and exactly one of them created it
	req.Empty(errs)
	req.Len(ids, 1)
	req.Equal(1, created)
	conversations, err := f.conversations.ListForUser("bob")
	req.NoError(err)
	req.Len(conversations, 1)
	req.Len(f.publisher.ofType(event.ConversationCreatedType), 1)
}

func TestConversationService_ResolveRestoresHiddenConversation(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	id := f.resolve(t, "alice", "carol", domain.ContextCommunity, "")

	// Given alice deleted the conversation from her inbox
	req.NoError(f.messageService().Hide(ctx, id, "alice"))

	// When she contacts carol again
	again := f.resolve(t, "alice", "carol", domain.ContextCommunity, "")

	// Then the same thread comes back for her
	req.Equal(id, again)
	conversation, err := f.conversations.Get(id)
	req.NoError(err)
	req.False(conversation.StateFor("alice").Hidden)
	restored := f.publisher.ofType(event.ConversationRestoredType)
	req.Len(restored, 1)
	req.Equal([]string{"alice"}, event.Audience(restored[0]))
}
