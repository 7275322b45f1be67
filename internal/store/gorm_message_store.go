package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// GormMessageStore keeps messages in the chat_messages table next to the
// conversations table so each append is a single transaction.
type GormMessageStore struct {
	db   *gorm.DB
	opts Options
}

// NewGormMessageStore creates a new GORM-based message store.
func NewGormMessageStore(db *gorm.DB, opts Options) *GormMessageStore {
	return &GormMessageStore{db: db, opts: opts.withDefaults()}
}

func (s *GormMessageStore) Append(ctx context.Context, conversationID, senderID, content string) (*domain.Message, error) {
	if err := domain.ValidateContent(content, s.opts.MaxContentLength); err != nil {
		return nil, err
	}

	var msg domain.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv domain.ConversationModel
		if err := tx.First(&conv, "id = ?", conversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrConversationNotFound
			}
			return err
		}

		createdAt := domain.NextTimestamp(s.opts.Now().UTC(), conv.LastMessageAt)
		id, err := domain.NewMessageID(createdAt)
		if err != nil {
			return err
		}

		model := domain.MessageModel{
			ID:             id,
			ConversationID: conversationID,
			Seq:            conv.MessageCount + 1,
			SenderID:       senderID,
			Content:        content,
			CreatedAt:      createdAt,
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}

		// Guarded on the count read above; a concurrent writer that slipped
		// in first makes this a no-op and the unique (conversation, seq)
		// index has already rejected the duplicate.
		result := tx.Model(&domain.ConversationModel{}).
			Where("id = ? AND message_count = ?", conversationID, conv.MessageCount).
			Updates(map[string]interface{}{
				"message_count":   model.Seq,
				"last_message_at": createdAt,
				"updated_at":      createdAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return fmt.Errorf("concurrent append to conversation %s", conversationID)
		}

		msg = model.ToDomain()
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrConversationNotFound) {
			return nil, err
		}
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldConversationID, conversationID).Msg("failed to append message")
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	return &msg, nil
}

func (s *GormMessageStore) History(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&domain.ConversationModel{}).Where("id = ?", conversationID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to look up conversation: %w", err)
	}
	if count == 0 {
		return nil, domain.ErrConversationNotFound
	}

	var models []domain.MessageModel
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq ASC").
		Find(&models).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldConversationID, conversationID).Msg("failed to load history")
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	messages := make([]domain.Message, len(models))
	for i := range models {
		messages[i] = models[i].ToDomain()
	}
	return messages, nil
}

// Close is a no-op; the connection pool is owned by the caller.
func (s *GormMessageStore) Close() error {
	return nil
}
