package cache

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// HistoryCache stores full conversation histories. Keys embed the
// conversation's message count, so an entry never goes stale: a new
// message produces a new key and the old entry simply expires.
type HistoryCache interface {
	Get(ctx context.Context, key string) ([]domain.Message, error)
	Set(ctx context.Context, key string, messages []domain.Message, ttl time.Duration) error
	BuildKey(conversationID string, version int64) string
	Close() error
}
