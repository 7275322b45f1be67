package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/weiawesome/wes-io-chat/internal/domain"
)

// Event types published on the chat events topic.
const (
	EventMessageAppended = "message.appended"
	EventPresenceChanged = "presence.changed"
)

// ChatEvent is the value of every record on the chat events topic. Records
// are keyed by conversation id so a conversation's events stay ordered.
type ChatEvent struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Payload        json.RawMessage `json:"payload"`
}

// PresencePayload is the payload of a presence.changed event.
type PresencePayload struct {
	ParticipantID string `json:"participant_id"`
	Online        bool   `json:"online"`
}

type EventProducer interface {
	PublishMessage(ctx context.Context, msg *domain.Message) error
	PublishPresence(ctx context.Context, conversationID, participantID string, online bool) error
	Close() error
}

// NoopProducer drops every event. Used when Kafka is disabled.
type NoopProducer struct{}

func (NoopProducer) PublishMessage(context.Context, *domain.Message) error { return nil }

func (NoopProducer) PublishPresence(context.Context, string, string, bool) error { return nil }

func (NoopProducer) Close() error { return nil }
