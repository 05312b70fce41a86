package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/klipach/contractmatch/log"
	"github.com/klipach/contractmatch/store"
)

const (
	conversationIDLogField = "conversationID"
	messageIDLogField      = "messageID"
)

var ErrEmptyMessage = errors.New("message is empty")

// Receipt describes a sent message. SummaryErr is set when the message was
// stored but the conversation's lastMessage summary could not be updated;
// the summary catches up with the next successful send.
type Receipt struct {
	MessageID  string
	SummaryErr error
}

type Composer struct {
	store         store.DocumentStore
	conversations *Conversations
}

func NewComposer(st store.DocumentStore, conversations *Conversations) *Composer {
	return &Composer{store: st, conversations: conversations}
}

// Send appends text to the conversation's message log and then mirrors it
// into the conversation summary, bumping every other participant's unread
// counter. Blank text is rejected before any store call.
func (c *Composer) Send(ctx context.Context, conversationID, senderID, text string) (Receipt, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Receipt{}, ErrEmptyMessage
	}
	logger := log.LoggerFromContext(ctx).With(slog.String(conversationIDLogField, conversationID))

	conv, err := c.conversations.GetFor(ctx, conversationID, senderID)
	if err != nil {
		return Receipt{}, err
	}

	messageID, err := c.store.Create(ctx, MessagesPath(conversationID), map[string]any{
		"content":   text,
		"senderId":  senderID,
		"timestamp": store.ServerTimestamp,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("append message: %w", err)
	}

	updates := []store.Update{
		{Path: "lastMessage.content", Value: text},
		{Path: "lastMessage.senderId", Value: senderID},
		{Path: "lastMessage.timestamp", Value: store.ServerTimestamp},
	}
	for _, p := range conv.Participants {
		if p != senderID {
			updates = append(updates, store.Update{Path: "unreadCount." + p, Value: store.Increment{By: 1}})
		}
	}

	receipt := Receipt{MessageID: messageID}
	if err := c.store.Update(ctx, conversationsCollection, conversationID, updates...); err != nil {
		logger.Warn("message sent but conversation summary is stale",
			slog.String(messageIDLogField, messageID),
			slog.String(log.ErrorMsgLogField, err.Error()),
		)
		receipt.SummaryErr = err
	}
	return receipt, nil
}
