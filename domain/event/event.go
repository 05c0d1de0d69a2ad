package event

import (
	"marketplace-inbox/domain"
)

type Type string

const (
	ConversationCreatedType  Type = "CONVERSATION_CREATED"
	MessageAppendedType      Type = "MESSAGE_APPENDED"
	ConversationReadType     Type = "CONVERSATION_READ"
	ConversationHiddenType   Type = "CONVERSATION_HIDDEN"
	ConversationRestoredType Type = "CONVERSATION_RESTORED"
)

// DomainEvent is emitted after a conversation mutation has been committed.
// Snapshot carries the conversation as it was right after the mutation.
type DomainEvent interface {
	Type() Type
	ConversationID() string
	Snapshot() domain.Conversation
}

type ConversationCreated struct {
	State domain.Conversation
}

func (e ConversationCreated) Type() Type                    { return ConversationCreatedType }
func (e ConversationCreated) ConversationID() string        { return e.State.ID }
func (e ConversationCreated) Snapshot() domain.Conversation { return e.State }

type MessageAppended struct {
	Message domain.Message
	State   domain.Conversation
}

func (e MessageAppended) Type() Type                    { return MessageAppendedType }
func (e MessageAppended) ConversationID() string        { return e.State.ID }
func (e MessageAppended) Snapshot() domain.Conversation { return e.State }

// ConversationRead only concerns the reader.
type ConversationRead struct {
	UserID string
	State  domain.Conversation
}

func (e ConversationRead) Type() Type                    { return ConversationReadType }
func (e ConversationRead) ConversationID() string        { return e.State.ID }
func (e ConversationRead) Snapshot() domain.Conversation { return e.State }

type ConversationHidden struct {
	UserID string
	State  domain.Conversation
}

func (e ConversationHidden) Type() Type                    { return ConversationHiddenType }
func (e ConversationHidden) ConversationID() string        { return e.State.ID }
func (e ConversationHidden) Snapshot() domain.Conversation { return e.State }

// ConversationRestored is emitted when resolving brings a hidden thread back for UserID.
type ConversationRestored struct {
	UserID string
	State  domain.Conversation
}

func (e ConversationRestored) Type() Type                    { return ConversationRestoredType }
func (e ConversationRestored) ConversationID() string        { return e.State.ID }
func (e ConversationRestored) Snapshot() domain.Conversation { return e.State }

// Audience lists the users a delta must reach.
func Audience(e DomainEvent) []string {
	switch evt := e.(type) {
	case ConversationRead:
		return []string{evt.UserID}
	case ConversationHidden:
		return []string{evt.UserID}
	case ConversationRestored:
		return []string{evt.UserID}
	default:
		p := e.Snapshot().Participants
		return []string{p[0], p[1]}
	}
}
