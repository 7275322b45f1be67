package store

import (
	"context"
	"time"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

// MessageStore is the durable, append-only message log.
//
// Append and History for the same conversation are expected to be
// serialised by the caller when ordering between them matters; the store
// itself only guarantees that every appended message gets the next
// sequence number and a non-decreasing timestamp.
type MessageStore interface {
	Append(ctx context.Context, conversationID, senderID, content string) (*domain.Message, error)
	// History returns every message of the conversation, oldest first.
	History(ctx context.Context, conversationID string) ([]domain.Message, error)
	Close() error
}

// ConversationLookup is the slice of the registry that stores without
// transactional access to the conversations table depend on.
type ConversationLookup interface {
	Get(ctx context.Context, id string) (*domain.Conversation, error)
	Touch(ctx context.Context, id string, seq int64, at time.Time) error
}

// Options tune validation shared by all stores.
type Options struct {
	MaxContentLength int
	Now              func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxContentLength == 0 {
		o.MaxContentLength = domain.DefaultMaxContentLength
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
