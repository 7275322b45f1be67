package consumer

import (
	"context"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

// ProfileHandler applies profile events. directory.Directory satisfies it.
type ProfileHandler interface {
	Apply(ctx context.Context, event *domain.ProfileEvent) error
}

// ProfileConsumer consumes profile events published by the user service.
type ProfileConsumer interface {
	Start(ctx context.Context) error
	Close() error
}
