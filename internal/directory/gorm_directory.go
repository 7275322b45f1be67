package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

// GormDirectory implements Directory on the participants table.
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) Lookup(ctx context.Context, ids ...string) (map[string]domain.Participant, error) {
	out := make(map[string]domain.Participant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var models []domain.ParticipantModel
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to look up participants: %w", err)
	}
	for i := range models {
		out[models[i].ID] = models[i].ToDomain()
	}
	return out, nil
}

func (d *GormDirectory) Apply(ctx context.Context, event *domain.ProfileEvent) error {
	if strings.TrimSpace(event.UserID) == "" {
		return domain.ErrParticipantNotFound
	}

	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.ParticipantModel
		err := tx.First(&existing, "id = ?", event.UserID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if event.Deleted {
				return nil
			}
			return tx.Create(&domain.ParticipantModel{
				ID:               event.UserID,
				Username:         event.Username,
				Picture:          event.Picture,
				ProfileUpdatedAt: event.UpdatedAt.UTC(),
			}).Error
		case err != nil:
			return err
		}

		if existing.ProfileUpdatedAt.After(event.UpdatedAt) {
			return nil
		}
		if event.Deleted {
			return tx.Delete(&domain.ParticipantModel{}, "id = ?", event.UserID).Error
		}
		return tx.Model(&domain.ParticipantModel{}).
			Where("id = ?", event.UserID).
			Updates(map[string]interface{}{
				"username":           event.Username,
				"picture":            event.Picture,
				"profile_updated_at": event.UpdatedAt.UTC(),
			}).Error
	})
}
