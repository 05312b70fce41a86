// Package messaging keeps a participant's conversations and the open
// message thread in sync with the document store.
//
// Conversations live in the "conversations" collection, each message log in
// the conversation's "messages" subcollection. Every conversation carries a
// denormalized copy of its newest message (lastMessage) and a per-participant
// unread counter; both are written by the Composer after the message itself.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/klipach/contractmatch/contract"
	"github.com/klipach/contractmatch/profile"
	"github.com/klipach/contractmatch/store"
)

const (
	conversationsCollection = "conversations"
	messagesSubcollection   = "messages"
	idSeparator             = "_"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("not a participant of the conversation")
	ErrSameParticipant      = errors.New("a conversation needs two distinct participants")
)

// ConversationID is the id of the one conversation between a and b,
// independent of argument order.
func ConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, idSeparator)
}

func MessagesPath(conversationID string) string {
	return conversationsCollection + "/" + conversationID + "/" + messagesSubcollection
}

// IndexQuery selects every conversation of uid, newest activity first.
func IndexQuery(uid string) store.Query {
	return store.Collection(conversationsCollection).
		Where("participants", store.OpArrayContains, uid).
		OrderBy("lastMessage.timestamp", store.Desc)
}

// ThreadQuery selects the message log of a conversation, oldest first.
func ThreadQuery(conversationID string) store.Query {
	return store.Collection(MessagesPath(conversationID)).
		OrderBy("timestamp", store.Asc)
}

type Conversations struct {
	store store.DocumentStore
}

func NewConversations(st store.DocumentStore) *Conversations {
	return &Conversations{store: st}
}

// GetOrCreate returns the conversation between a and b, creating it on
// first contact. Concurrent first contacts converge on the same document.
func (c *Conversations) GetOrCreate(ctx context.Context, a, b profile.Ref) (contract.Conversation, error) {
	if a.UID == "" || b.UID == "" || a.UID == b.UID {
		return contract.Conversation{}, ErrSameParticipant
	}
	id := ConversationID(a.UID, b.UID)

	conv, err := c.Get(ctx, id)
	if err == nil || !errors.Is(err, ErrConversationNotFound) {
		return conv, err
	}

	participants := []string{a.UID, b.UID}
	sort.Strings(participants)
	kinds := map[string]any{}
	for _, ref := range []profile.Ref{a, b} {
		if ref.Kind.Valid() {
			kinds[ref.UID] = ref.Kind.String()
		}
	}
	err = c.store.CreateWithID(ctx, conversationsCollection, id, map[string]any{
		"participants":     []any{participants[0], participants[1]},
		"participantKinds": kinds,
		"unreadCount":      map[string]any{a.UID: 0, b.UID: 0},
		"lastMessage": map[string]any{
			"content":   "",
			"senderId":  "",
			"timestamp": store.ServerTimestamp,
		},
		"createdAt": store.ServerTimestamp,
	})
	if err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return contract.Conversation{}, fmt.Errorf("create conversation %s: %w", id, err)
	}
	return c.Get(ctx, id)
}

func (c *Conversations) Get(ctx context.Context, id string) (contract.Conversation, error) {
	doc, err := c.store.Get(ctx, conversationsCollection, id)
	if errors.Is(err, store.ErrNotFound) {
		return contract.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return contract.Conversation{}, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return decodeConversation(doc)
}

// GetFor returns the conversation only when uid participates in it.
func (c *Conversations) GetFor(ctx context.Context, id, uid string) (contract.Conversation, error) {
	conv, err := c.Get(ctx, id)
	if err != nil {
		return conv, err
	}
	if !conv.HasParticipant(uid) {
		return contract.Conversation{}, ErrNotParticipant
	}
	return conv, nil
}

// MarkRead zeroes uid's unread counter. Only uid's own actions call it.
func (c *Conversations) MarkRead(ctx context.Context, id, uid string) error {
	err := c.store.Update(ctx, conversationsCollection, id, store.Update{Path: "unreadCount." + uid, Value: 0})
	if errors.Is(err, store.ErrNotFound) {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("mark conversation %s read: %w", id, err)
	}
	return nil
}

// Messages returns the current message log in thread order.
func (c *Conversations) Messages(ctx context.Context, id string) ([]contract.Message, error) {
	docs, err := c.store.List(ctx, ThreadQuery(id))
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", id, err)
	}
	msgs := make([]contract.Message, 0, len(docs))
	for _, doc := range docs {
		m, err := decodeMessage(doc)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// RecordKind stores uid's participant kind on the conversation, so readers
// find the profile without probing every collection.
func (c *Conversations) RecordKind(ctx context.Context, id, uid string, kind profile.Kind) error {
	if !kind.Valid() {
		return profile.ErrUnknownKind
	}
	err := c.store.Update(ctx, conversationsCollection, id, store.Update{Path: "participantKinds." + uid, Value: kind.String()})
	if errors.Is(err, store.ErrNotFound) {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("record kind on %s: %w", id, err)
	}
	return nil
}

// counterpartRef names the other participant of conv, with its kind when
// the conversation recorded one.
func counterpartRef(conv contract.Conversation, uid string) (profile.Ref, bool) {
	other, ok := conv.Counterpart(uid)
	if !ok {
		return profile.Ref{}, false
	}
	ref := profile.Ref{UID: other}
	if kind, err := profile.ParseKind(conv.ParticipantKinds[other]); err == nil {
		ref.Kind = kind
	}
	return ref, true
}

func decodeConversation(doc store.Document) (contract.Conversation, error) {
	var conv contract.Conversation
	if err := doc.DataTo(&conv); err != nil {
		return contract.Conversation{}, fmt.Errorf("decode conversation %s: %w", doc.ID(), err)
	}
	conv.ID = doc.ID()
	return conv, nil
}

func decodeMessage(doc store.Document) (contract.Message, error) {
	var m contract.Message
	if err := doc.DataTo(&m); err != nil {
		return contract.Message{}, fmt.Errorf("decode message %s: %w", doc.ID(), err)
	}
	m.ID = doc.ID()
	return m, nil
}
