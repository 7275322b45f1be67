package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// conversationNamespace scopes the name-based UUIDs minted for conversations.
var conversationNamespace = uuid.MustParse("6f1c3a52-9d4e-4b8e-a0f7-2c5d8e1b7a90")

// Conversation is the persistent two-party thread between a content item's
// creator and one visitor.
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

// ParticipantTriple identifies a conversation by its natural key.
type ParticipantTriple struct {
	ContentItemID string `json:"content_item_id" form:"content_item_id"`
	CreatorID     string `json:"creator_id" form:"creator_id"`
	VisitorID     string `json:"visitor_id" form:"visitor_id"`
}

// Normalize trims surrounding whitespace from every id.
func (p ParticipantTriple) Normalize() ParticipantTriple {
	return ParticipantTriple{
		ContentItemID: strings.TrimSpace(p.ContentItemID),
		CreatorID:     strings.TrimSpace(p.CreatorID),
		VisitorID:     strings.TrimSpace(p.VisitorID),
	}
}

// Validate rejects blank ids and a creator acting as their own visitor.
func (p ParticipantTriple) Validate() error {
	if p.ContentItemID == "" || p.CreatorID == "" || p.VisitorID == "" {
		return fmt.Errorf("%w: content_item_id, creator_id and visitor_id are required", ErrInvalidParticipants)
	}
	if p.CreatorID == p.VisitorID {
		return fmt.Errorf("%w: creator and visitor must differ", ErrInvalidParticipants)
	}
	return nil
}

// Includes reports whether userID is the creator or the visitor of the
// conversation the triple names. Call on a normalized triple.
func (p ParticipantTriple) Includes(userID string) bool {
	return userID != "" && (userID == p.CreatorID || userID == p.VisitorID)
}

// ConversationID derives the stable id of the conversation for the triple.
// Each component is length-prefixed so ("a", "bc") and ("ab", "c") differ.
func (p ParticipantTriple) ConversationID() string {
	name := fmt.Sprintf("%d:%s|%d:%s|%d:%s",
		len(p.ContentItemID), p.ContentItemID,
		len(p.CreatorID), p.CreatorID,
		len(p.VisitorID), p.VisitorID,
	)
	return uuid.NewSHA1(conversationNamespace, []byte(name)).String()
}

// Triple returns the natural key of c.
func (c *Conversation) Triple() ParticipantTriple {
	return ParticipantTriple{ContentItemID: c.ContentItemID, CreatorID: c.CreatorID, VisitorID: c.VisitorID}
}

// IsParticipant reports whether userID is the creator or the visitor.
func (c *Conversation) IsParticipant(userID string) bool {
	return userID != "" && (userID == c.CreatorID || userID == c.VisitorID)
}

// Participants returns the creator and visitor ids, creator first.
func (c *Conversation) Participants() []string {
	return []string{c.CreatorID, c.VisitorID}
}
