package domain

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

// DefaultMaxContentLength bounds message content in runes.
const DefaultMaxContentLength = 2000

// Message is an immutable entry of a conversation's log. Seq starts at 1
// and orders messages within a conversation; CreatedAt never decreases
// along Seq.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int64     `json:"seq"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// ValidateContent rejects content that is blank after trimming or longer
// than maxLen runes. A non-positive maxLen disables the length check.
func ValidateContent(content string, maxLen int) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	if maxLen > 0 && utf8.RuneCountInString(content) > maxLen {
		return fmt.Errorf("%w: limit is %d characters", ErrMessageTooLong, maxLen)
	}
	return nil
}

// NewMessageID mints a ULID whose timestamp part is at.
func NewMessageID(at time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(at), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate message id: %w", err)
	}
	return id.String(), nil
}

// NextTimestamp returns now, or last when the clock went backwards.
func NextTimestamp(now time.Time, last *time.Time) time.Time {
	if last != nil && now.Before(*last) {
		return *last
	}
	return now
}
