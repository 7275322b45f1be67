package service

import (
	"context"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/presence"
)

// ConversationView is a conversation with its full history and the
// profiles of both participants.
type ConversationView struct {
	Conversation *domain.Conversation `json:"conversation"`
	Messages     []domain.Message     `json:"messages"`
	Creator      domain.Participant   `json:"creator"`
	Visitor      domain.Participant   `json:"visitor"`
	Online       []string             `json:"online"`
}

// ConversationSummary is one entry of a content item's conversation list.
type ConversationSummary struct {
	Conversation domain.Conversation `json:"conversation"`
	Creator      domain.Participant  `json:"creator"`
	Visitor      domain.Participant  `json:"visitor"`
}

// ChatService answers the request/response side of chat: history,
// listings and presence. Live delivery goes through the room manager.
type ChatService interface {
	GetConversation(ctx context.Context, requesterID string, triple domain.ParticipantTriple) (*ConversationView, error)
	ListConversations(ctx context.Context, requesterID, contentItemID string) ([]ConversationSummary, error)
	GetPresence(ctx context.Context, requesterID, conversationID string) ([]string, error)
}

// PresenceReader lists the online participants of a conversation.
// presence.RedisMirror satisfies it for cross-instance reads.
type PresenceReader interface {
	Online(ctx context.Context, conversationID string) ([]string, error)
}

// TrackerPresence reads presence from this instance's tracker.
func TrackerPresence(t *presence.Tracker) PresenceReader {
	return trackerReader{t}
}

type trackerReader struct {
	t *presence.Tracker
}

func (r trackerReader) Online(_ context.Context, conversationID string) ([]string, error) {
	return r.t.Online(conversationID), nil
}
