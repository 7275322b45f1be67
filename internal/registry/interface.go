package registry

import (
	"context"
	"time"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

// Registry maps participant triples to conversations.
type Registry interface {
	// Resolve returns the conversation for the triple, creating it on first
	// use. Concurrent calls for the same triple observe the same conversation.
	Resolve(ctx context.Context, triple domain.ParticipantTriple) (*domain.Conversation, error)
	Get(ctx context.Context, id string) (*domain.Conversation, error)
	// ListByContentItem returns the conversations of a content item, most
	// recently active first.
	ListByContentItem(ctx context.Context, contentItemID string) ([]domain.Conversation, error)
	// Touch records that message seq was appended at the given time. Stale
	// calls (seq not beyond the recorded count) are ignored.
	Touch(ctx context.Context, id string, seq int64, at time.Time) error
}
