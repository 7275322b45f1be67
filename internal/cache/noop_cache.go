package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

// NoopHistoryCache always misses. Used when caching is disabled.
type NoopHistoryCache struct{}

func (NoopHistoryCache) Get(context.Context, string) ([]domain.Message, error) {
	return nil, ErrCacheMiss
}

func (NoopHistoryCache) Set(context.Context, string, []domain.Message, time.Duration) error {
	return nil
}

func (NoopHistoryCache) BuildKey(conversationID string, version int64) string {
	return fmt.Sprintf("%s:v%d", conversationID, version)
}

func (NoopHistoryCache) Close() error {
	return nil
}
