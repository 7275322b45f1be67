package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// GormRegistry implements Registry on the conversations table.
type GormRegistry struct {
	db *gorm.DB
	sf singleflight.Group
}

// NewGormRegistry creates a new GORM-based conversation registry.
func NewGormRegistry(db *gorm.DB) *GormRegistry {
	return &GormRegistry{db: db}
}

// Resolve finds or creates the conversation for the triple. Creation is an
// insert that ignores a conflicting row followed by a read, so racing
// instances all converge on the single stored row.
func (r *GormRegistry) Resolve(ctx context.Context, triple domain.ParticipantTriple) (*domain.Conversation, error) {
	triple = triple.Normalize()
	if err := triple.Validate(); err != nil {
		return nil, err
	}

	id := triple.ConversationID()
	// Callers share one in-flight insert; it must outlive any single caller.
	ch := r.sf.DoChan(id, func() (interface{}, error) {
		return r.findOrCreate(context.WithoutCancel(ctx), id, triple)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		conv := *res.Val.(*domain.Conversation)
		return &conv, nil
	}
}

func (r *GormRegistry) findOrCreate(ctx context.Context, id string, triple domain.ParticipantTriple) (*domain.Conversation, error) {
	l := log.Ctx(ctx)

	model := domain.ConversationModel{
		ID:            id,
		ContentItemID: triple.ContentItemID,
		CreatorID:     triple.CreatorID,
		VisitorID:     triple.VisitorID,
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldConversationID, id).Msg("failed to create conversation")
		return nil, fmt.Errorf("failed to create conversation: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		l.Debug().Str(log.FieldConversationID, id).Msg("conversation created")
	}

	return r.Get(ctx, id)
}

// Get retrieves a conversation by ID.
func (r *GormRegistry) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	var model domain.ConversationModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrConversationNotFound
		}
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Str(log.FieldConversationID, id).Msg("failed to get conversation")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// ListByContentItem lists the conversations of a content item.
func (r *GormRegistry) ListByContentItem(ctx context.Context, contentItemID string) ([]domain.Conversation, error) {
	var models []domain.ConversationModel
	err := r.db.WithContext(ctx).
		Where("content_item_id = ?", contentItemID).
		Order("updated_at DESC").
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str("content_item_id", contentItemID).Msg("failed to list conversations")
		return nil, err
	}

	convs := make([]domain.Conversation, len(models))
	for i := range models {
		convs[i] = *models[i].ToDomain()
	}
	return convs, nil
}

// Touch bumps the activity columns of a conversation.
func (r *GormRegistry) Touch(ctx context.Context, id string, seq int64, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&domain.ConversationModel{}).
		Where("id = ? AND message_count < ?", id, seq).
		Updates(map[string]interface{}{
			"message_count":   seq,
			"last_message_at": at,
			"updated_at":      at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to touch conversation: %w", result.Error)
	}
	return nil
}
