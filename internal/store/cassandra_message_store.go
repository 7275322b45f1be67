package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/weiawesome/wes-io-chat/internal/config"
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

const createMessagesTable = `CREATE TABLE IF NOT EXISTS messages_by_conversation (
	conversation_id text,
	seq bigint,
	message_id text,
	sender_id text,
	content text,
	created_at timestamp,
	PRIMARY KEY ((conversation_id), seq)
) WITH CLUSTERING ORDER BY (seq ASC)`

// maxAppendAttempts bounds retries when another writer claimed the next seq.
const maxAppendAttempts = 5

// CassandraMessageStore keeps one partition per conversation, clustered by
// seq. Inserts are lightweight transactions so a seq is never overwritten.
type CassandraMessageStore struct {
	session *gocql.Session
	convs   ConversationLookup
	opts    Options
}

// NewCassandraMessageStore connects to the cluster and makes sure the
// messages table exists.
func NewCassandraMessageStore(cfg config.CassandraConfig, convs ConversationLookup, opts Options) (*CassandraMessageStore, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.Timeout

	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	if err := session.Query(createMessagesTable).Exec(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to create messages table: %w", err)
	}

	return &CassandraMessageStore{session: session, convs: convs, opts: opts.withDefaults()}, nil
}

func (s *CassandraMessageStore) Append(ctx context.Context, conversationID, senderID, content string) (*domain.Message, error) {
	if err := domain.ValidateContent(content, s.opts.MaxContentLength); err != nil {
		return nil, err
	}
	if _, err := s.convs.Get(ctx, conversationID); err != nil {
		return nil, err
	}

	l := log.Ctx(ctx)
	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		lastSeq, lastAt, err := s.last(ctx, conversationID)
		if err != nil {
			return nil, err
		}

		// Cassandra timestamps carry milliseconds only.
		createdAt := domain.NextTimestamp(s.opts.Now().UTC().Truncate(time.Millisecond), lastAt)
		id, err := domain.NewMessageID(createdAt)
		if err != nil {
			return nil, err
		}
		msg := domain.Message{
			ID:             id,
			ConversationID: conversationID,
			Seq:            lastSeq + 1,
			SenderID:       senderID,
			Content:        content,
			CreatedAt:      createdAt,
		}

		applied, err := s.session.Query(
			`INSERT INTO messages_by_conversation (conversation_id, seq, message_id, sender_id, content, created_at)
			 VALUES (?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
			msg.ConversationID, msg.Seq, msg.ID, msg.SenderID, msg.Content, msg.CreatedAt,
		).WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			l.Error().Err(err).Str(log.FieldConversationID, conversationID).Msg("failed to insert message")
			return nil, fmt.Errorf("failed to insert message: %w", err)
		}
		if !applied {
			l.Debug().Int("attempt", attempt).Str(log.FieldConversationID, conversationID).Msg("seq taken, retrying append")
			continue
		}

		if err := s.convs.Touch(ctx, conversationID, msg.Seq, msg.CreatedAt); err != nil {
			l.Warn().Err(err).Str(log.FieldConversationID, conversationID).Msg("failed to touch conversation")
		}
		return &msg, nil
	}

	return nil, fmt.Errorf("failed to append message to %s: too much contention", conversationID)
}

func (s *CassandraMessageStore) last(ctx context.Context, conversationID string) (int64, *time.Time, error) {
	var seq int64
	var at time.Time
	err := s.session.Query(
		`SELECT seq, created_at FROM messages_by_conversation
		 WHERE conversation_id = ? ORDER BY seq DESC LIMIT 1`,
		conversationID,
	).WithContext(ctx).Consistency(gocql.LocalQuorum).Scan(&seq, &at)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return 0, nil, nil
		}
		return 0, nil, fmt.Errorf("failed to read last message: %w", err)
	}
	return seq, &at, nil
}

func (s *CassandraMessageStore) History(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if _, err := s.convs.Get(ctx, conversationID); err != nil {
		return nil, err
	}

	iter := s.session.Query(
		`SELECT message_id, seq, sender_id, content, created_at
		 FROM messages_by_conversation WHERE conversation_id = ?`,
		conversationID,
	).WithContext(ctx).PageSize(500).Iter()

	messages := make([]domain.Message, 0)
	var msg domain.Message
	for iter.Scan(&msg.ID, &msg.Seq, &msg.SenderID, &msg.Content, &msg.CreatedAt) {
		msg.ConversationID = conversationID
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
		msg = domain.Message{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

func (s *CassandraMessageStore) Close() error {
	s.session.Close()
	return nil
}

func parseConsistency(s string) gocql.Consistency {
	switch strings.ToUpper(s) {
	case "ONE":
		return gocql.One
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "LOCAL_ONE":
		return gocql.LocalOne
	case "EACH_QUORUM":
		return gocql.EachQuorum
	default:
		return gocql.LocalQuorum
	}
}
