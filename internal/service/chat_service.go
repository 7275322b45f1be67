package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-chat/internal/audit"
	"github.com/weiawesome/wes-io-chat/internal/cache"
	"github.com/weiawesome/wes-io-chat/internal/directory"
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/registry"
	"github.com/weiawesome/wes-io-chat/internal/store"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

type chatServiceImpl struct {
	registry  registry.Registry
	store     store.MessageStore
	cache     cache.HistoryCache
	cacheTTL  time.Duration
	directory directory.Directory
	presence  PresenceReader
	sf        singleflight.Group
}

func NewChatService(
	reg registry.Registry,
	st store.MessageStore,
	historyCache cache.HistoryCache,
	cacheTTL time.Duration,
	dir directory.Directory,
	presence PresenceReader,
) ChatService {
	if historyCache == nil {
		historyCache = cache.NoopHistoryCache{}
	}
	return &chatServiceImpl{
		registry:  reg,
		store:     st,
		cache:     historyCache,
		cacheTTL:  cacheTTL,
		directory: dir,
		presence:  presence,
	}
}

func (s *chatServiceImpl) GetConversation(ctx context.Context, requesterID string, triple domain.ParticipantTriple) (*ConversationView, error) {
	triple = triple.Normalize()
	if err := triple.Validate(); err != nil {
		return nil, err
	}
	if !triple.Includes(requesterID) {
		audit.LogWithDetail(ctx, audit.ActionJoinDenied, requesterID, triple.ConversationID(), "history", "history read denied")
		return nil, domain.ErrUnauthorizedParticipant
	}

	conv, err := s.registry.Resolve(ctx, triple)
	if err != nil {
		return nil, err
	}

	messages, err := s.history(ctx, conv)
	if err != nil {
		return nil, err
	}

	profiles, err := s.directory.Lookup(ctx, conv.CreatorID, conv.VisitorID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldConversationID, conv.ID).Msg("participant lookup failed")
		profiles = nil
	}

	online, err := s.presence.Online(ctx, conv.ID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldConversationID, conv.ID).Msg("presence lookup failed")
		online = []string{}
	}

	audit.Log(ctx, audit.ActionReadHistory, requesterID, conv.ID, "history read")
	return &ConversationView{
		Conversation: conv,
		Messages:     messages,
		Creator:      directory.Resolve(profiles, conv.CreatorID),
		Visitor:      directory.Resolve(profiles, conv.VisitorID),
		Online:       online,
	}, nil
}

// history serves the full log through the cache. Keys carry the message
// count the registry reported, so a hit is never older than that count.
func (s *chatServiceImpl) history(ctx context.Context, conv *domain.Conversation) ([]domain.Message, error) {
	if conv.MessageCount == 0 {
		return s.store.History(ctx, conv.ID)
	}

	cacheKey := s.cache.BuildKey(conv.ID, conv.MessageCount)
	ch := s.sf.DoChan(cacheKey, func() (interface{}, error) {
		return s.fetchWithCache(context.WithoutCancel(ctx), conv.ID, cacheKey)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	messages, ok := res.Val.([]domain.Message)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	return messages, nil
}

func (s *chatServiceImpl) fetchWithCache(ctx context.Context, conversationID, cacheKey string) ([]domain.Message, error) {
	cached, err := s.cache.Get(ctx, cacheKey)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("cache get error")
	}

	messages, err := s.store.History(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	// The store may already hold more than the registry reported; file the
	// result under the count it actually has.
	setKey := s.cache.BuildKey(conversationID, int64(len(messages)))
	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.cache.Set(cacheCtx, setKey, messages, s.cacheTTL); err != nil {
			l := log.L()
			l.Warn().Err(err).Msg("cache set error")
		}
	}()

	return messages, nil
}

func (s *chatServiceImpl) ListConversations(ctx context.Context, requesterID, contentItemID string) ([]ConversationSummary, error) {
	convs, err := s.registry.ListByContentItem(ctx, contentItemID)
	if err != nil {
		return nil, err
	}

	var ids []string
	mine := make([]domain.Conversation, 0, len(convs))
	for _, c := range convs {
		if !c.IsParticipant(requesterID) {
			continue
		}
		mine = append(mine, c)
		ids = append(ids, c.CreatorID, c.VisitorID)
	}

	profiles, err := s.directory.Lookup(ctx, ids...)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("participant lookup failed")
		profiles = nil
	}

	out := make([]ConversationSummary, 0, len(mine))
	for _, c := range mine {
		out = append(out, ConversationSummary{
			Conversation: c,
			Creator:      directory.Resolve(profiles, c.CreatorID),
			Visitor:      directory.Resolve(profiles, c.VisitorID),
		})
	}
	return out, nil
}

func (s *chatServiceImpl) GetPresence(ctx context.Context, requesterID, conversationID string) ([]string, error) {
	conv, err := s.registry.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(requesterID) {
		return nil, domain.ErrUnauthorizedParticipant
	}

	online, err := s.presence.Online(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}
	return online, nil
}
