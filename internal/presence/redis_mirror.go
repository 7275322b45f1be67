package presence

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/weiawesome/wes-io-chat/internal/config"
	pkglog "github.com/weiawesome/wes-io-chat/pkg/log"
)

// Redis key pattern:
// {prefix}:{conversation_id}:online   HASH participant_id -> number of
//                                     instances that see the participant online
//
// A participant is listed while any chat-service instance still holds one of
// their sessions. Fields are removed when the count drops to zero.

// RedisMirror copies aggregate presence into Redis for other services.
// Writes happen on a background worker; when its buffer is full updates
// are dropped and logged rather than delaying a room operation. Keys of
// conversations with locally online participants are refreshed every ttl/2
// so that a crashed instance's contribution eventually expires.
type RedisMirror struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	updates chan Update
	stopCh  chan struct{}
	doneCh  chan struct{}
	started atomic.Bool
	stopped sync.Once
}

// NewRedisMirror connects to Redis. Call Start to begin draining updates.
func NewRedisMirror(redisCfg config.RedisConfig, cfg config.PresenceConfig) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Address,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisMirrorWithClient(client, cfg), nil
}

// NewRedisMirrorWithClient wraps an existing client.
func NewRedisMirrorWithClient(client *redis.Client, cfg config.PresenceConfig) *RedisMirror {
	buffer := cfg.MirrorBuffer
	if buffer <= 0 {
		buffer = 1024
	}
	return &RedisMirror{
		client:  client,
		prefix:  cfg.MirrorPrefix,
		ttl:     cfg.MirrorTTL,
		updates: make(chan Update, buffer),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (m *RedisMirror) key(conversationID string) string {
	return fmt.Sprintf("%s:%s:online", m.prefix, conversationID)
}

// Start drains updates until ctx is cancelled or Close is called.
func (m *RedisMirror) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go m.run(ctx)
}

func (m *RedisMirror) run(ctx context.Context) {
	defer close(m.doneCh)
	l := pkglog.L()

	refresh := time.Hour
	if m.ttl > 0 {
		refresh = m.ttl / 2
	}
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	// conversation -> participants this instance reports online
	active := make(map[string]int)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case u := <-m.updates:
			if u.Online {
				active[u.ConversationID]++
			} else {
				active[u.ConversationID]--
				if active[u.ConversationID] <= 0 {
					delete(active, u.ConversationID)
				}
			}

			opCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := m.apply(opCtx, u); err != nil {
				l.Warn().Err(err).
					Str(pkglog.FieldConversationID, u.ConversationID).
					Str(pkglog.FieldParticipantID, u.ParticipantID).
					Msg("failed to mirror presence")
			}
			cancel()
		case <-ticker.C:
			if m.ttl <= 0 {
				continue
			}
			for conversationID := range active {
				opCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				if err := m.client.Expire(opCtx, m.key(conversationID), m.ttl).Err(); err != nil {
					l.Warn().Err(err).Str(pkglog.FieldConversationID, conversationID).Msg("failed to refresh presence ttl")
				}
				cancel()
			}
		}
	}
}

// Publish enqueues u without blocking.
func (m *RedisMirror) Publish(u Update) {
	select {
	case m.updates <- u:
	default:
		l := pkglog.L()
		l.Warn().Str(pkglog.FieldConversationID, u.ConversationID).Msg("presence mirror buffer full, dropping update")
	}
}

func (m *RedisMirror) apply(ctx context.Context, u Update) error {
	key := m.key(u.ConversationID)
	delta := int64(1)
	if !u.Online {
		delta = -1
	}

	pipe := m.client.TxPipeline()
	incr := pipe.HIncrBy(ctx, key, u.ParticipantID, delta)
	if m.ttl > 0 {
		pipe.Expire(ctx, key, m.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	if incr.Val() <= 0 {
		return m.client.HDel(ctx, key, u.ParticipantID).Err()
	}
	return nil
}

// Online lists participants any instance reports online.
func (m *RedisMirror) Online(ctx context.Context, conversationID string) ([]string, error) {
	counts, err := m.client.HGetAll(ctx, m.key(conversationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}

	online := make([]string, 0, len(counts))
	for participantID, raw := range counts {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			online = append(online, participantID)
		}
	}
	sort.Strings(online)
	return online, nil
}

// Close stops the worker and the client. Pending updates are discarded.
func (m *RedisMirror) Close() error {
	m.stopped.Do(func() {
		close(m.stopCh)
	})
	if m.started.Load() {
		<-m.doneCh
	}
	return m.client.Close()
}
