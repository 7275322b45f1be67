package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	pkglog "github.com/weiawesome/wes-io-chat/pkg/log"
)

// ConfluentConsumer implements ProfileConsumer using confluent-kafka-go.
type ConfluentConsumer struct {
	consumer *kafka.Consumer
	topic    string
	handler  ProfileHandler
	doneCh   chan struct{}
}

// NewConfluentConsumer creates a Kafka consumer for profile events.
func NewConfluentConsumer(brokers, topic, groupID string, handler ProfileHandler) (*ConfluentConsumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"group.id":           groupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &ConfluentConsumer{
		consumer: c,
		topic:    topic,
		handler:  handler,
		doneCh:   make(chan struct{}),
	}, nil
}

// Start subscribes and consumes in the background until ctx is done.
func (cc *ConfluentConsumer) Start(ctx context.Context) error {
	if err := cc.consumer.Subscribe(cc.topic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", cc.topic, err)
	}

	l := pkglog.L()
	l.Info().Str("topic", cc.topic).Msg("profile consumer started")

	go cc.consumeLoop(ctx)

	return nil
}

func (cc *ConfluentConsumer) consumeLoop(ctx context.Context) {
	l := pkglog.L()
	defer close(cc.doneCh)

	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("profile consumer shutting down")
			return
		default:
			msg, err := cc.consumer.ReadMessage(100 * time.Millisecond)
			if err != nil {
				var kerr kafka.Error
				if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
					continue
				}
				l.Error().Err(err).Msg("profile consumer error")
				continue
			}

			cc.processMessage(ctx, msg)
		}
	}
}

func (cc *ConfluentConsumer) processMessage(ctx context.Context, msg *kafka.Message) {
	l := pkglog.L()

	event, err := decodeProfileEvent(msg.Value)
	if err != nil {
		l.Error().Err(err).Msg("failed to decode profile event")
		return
	}

	l.Debug().
		Str(pkglog.FieldUserID, event.UserID).
		Bool("deleted", event.Deleted).
		Msg("received profile event")

	if err := cc.handler.Apply(ctx, event); err != nil {
		l.Error().Err(err).Str(pkglog.FieldUserID, event.UserID).Msg("failed to apply profile event")
	}
}

func decodeProfileEvent(value []byte) (*domain.ProfileEvent, error) {
	var event domain.ProfileEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile event: %w", err)
	}
	if event.UserID == "" {
		return nil, errors.New("profile event without user_id")
	}
	if event.UpdatedAt.IsZero() {
		event.UpdatedAt = time.Now().UTC()
	}
	return &event, nil
}

// Close waits for the consume loop to exit, so cancel the Start context
// first, then releases the consumer.
func (cc *ConfluentConsumer) Close() error {
	<-cc.doneCh
	if err := cc.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	return nil
}
