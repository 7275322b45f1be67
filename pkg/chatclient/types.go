package chatclient

import (
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-chat/pkg/protocol"
)

// JoinParams identifies a conversation by its participant triple.
type JoinParams struct {
	ContentItemID string
	CreatorID     string
	VisitorID     string
}

// Event is an inbound server frame: protocol.MessageReceived,
// protocol.PresenceChanged, protocol.Error or protocol.Pong.
type Event = protocol.ServerFrame

type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Picture  string `json:"picture,omitempty"`
}

type Conversation struct {
	ID            string     `json:"id"`
	ContentItemID string     `json:"content_item_id"`
	CreatorID     string     `json:"creator_id"`
	VisitorID     string     `json:"visitor_id"`
	MessageCount  int64      `json:"message_count"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ConversationView is the HTTP history response.
type ConversationView struct {
	Conversation Conversation       `json:"conversation"`
	Messages     []protocol.Message `json:"messages"`
	Creator      Participant        `json:"creator"`
	Visitor      Participant        `json:"visitor"`
	Online       []string           `json:"online"`
}

type ConversationSummary struct {
	Conversation Conversation `json:"conversation"`
	Creator      Participant  `json:"creator"`
	Visitor      Participant  `json:"visitor"`
}

// APIError is a failed HTTP call.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api: %d %s: %s", e.StatusCode, e.Code, e.Message)
}
