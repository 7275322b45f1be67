package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

// MemoryRegistry is a process-local Registry for single-instance
// deployments and tests.
type MemoryRegistry struct {
	mu    sync.RWMutex
	convs map[string]*domain.Conversation
	now   func() time.Time
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		convs: make(map[string]*domain.Conversation),
		now:   time.Now,
	}
}

// WithClock replaces the time source.
func (r *MemoryRegistry) WithClock(now func() time.Time) *MemoryRegistry {
	r.now = now
	return r
}

func (r *MemoryRegistry) Resolve(_ context.Context, triple domain.ParticipantTriple) (*domain.Conversation, error) {
	triple = triple.Normalize()
	if err := triple.Validate(); err != nil {
		return nil, err
	}
	id := triple.ConversationID()

	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.convs[id]
	if !ok {
		now := r.now().UTC()
		conv = &domain.Conversation{
			ID:            id,
			ContentItemID: triple.ContentItemID,
			CreatorID:     triple.CreatorID,
			VisitorID:     triple.VisitorID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		r.convs[id] = conv
	}

	c := *conv
	return &c, nil
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (*domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.convs[id]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	c := *conv
	return &c, nil
}

func (r *MemoryRegistry) ListByContentItem(_ context.Context, contentItemID string) ([]domain.Conversation, error) {
	r.mu.RLock()
	convs := make([]domain.Conversation, 0)
	for _, conv := range r.convs {
		if conv.ContentItemID == contentItemID {
			convs = append(convs, *conv)
		}
	}
	r.mu.RUnlock()

	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return convs[i].ID < convs[j].ID
	})
	return convs, nil
}

func (r *MemoryRegistry) Touch(_ context.Context, id string, seq int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.convs[id]
	if !ok {
		return domain.ErrConversationNotFound
	}
	if seq <= conv.MessageCount {
		return nil
	}
	t := at
	conv.MessageCount = seq
	conv.LastMessageAt = &t
	conv.UpdatedAt = at
	return nil
}
