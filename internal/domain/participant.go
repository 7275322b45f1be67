package domain

import "time"

// Participant is the public profile of a user taking part in conversations.
type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Picture  string `json:"picture,omitempty"`
}

// ProfileEvent is published by the user service whenever a profile changes.
type ProfileEvent struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Picture   string    `json:"picture"`
	Deleted   bool      `json:"deleted"`
	UpdatedAt time.Time `json:"updated_at"`
}
