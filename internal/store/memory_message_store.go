package store

import (
	"context"
	"sync"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

// MemoryMessageStore keeps every conversation's log in process memory.
type MemoryMessageStore struct {
	convs ConversationLookup
	opts  Options

	mu   sync.RWMutex
	logs map[string][]domain.Message
}

// NewMemoryMessageStore creates an in-memory store. convs decides which
// conversation ids exist.
func NewMemoryMessageStore(convs ConversationLookup, opts Options) *MemoryMessageStore {
	return &MemoryMessageStore{
		convs: convs,
		opts:  opts.withDefaults(),
		logs:  make(map[string][]domain.Message),
	}
}

func (s *MemoryMessageStore) Append(ctx context.Context, conversationID, senderID, content string) (*domain.Message, error) {
	if err := domain.ValidateContent(content, s.opts.MaxContentLength); err != nil {
		return nil, err
	}
	if _, err := s.convs.Get(ctx, conversationID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	entries := s.logs[conversationID]
	var last *domain.Message
	if len(entries) > 0 {
		last = &entries[len(entries)-1]
	}

	createdAt := s.opts.Now().UTC()
	seq := int64(1)
	if last != nil {
		createdAt = domain.NextTimestamp(createdAt, &last.CreatedAt)
		seq = last.Seq + 1
	}
	id, err := domain.NewMessageID(createdAt)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	msg := domain.Message{
		ID:             id,
		ConversationID: conversationID,
		Seq:            seq,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      createdAt,
	}
	s.logs[conversationID] = append(entries, msg)
	s.mu.Unlock()

	if err := s.convs.Touch(ctx, conversationID, seq, createdAt); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *MemoryMessageStore) History(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if _, err := s.convs.Get(ctx, conversationID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.logs[conversationID]
	out := make([]domain.Message, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *MemoryMessageStore) Close() error {
	return nil
}
