package domain

import "time"

// SessionState is the lifecycle of one connection's membership in a room.
// Connecting -> Joined -> Closed, Closed is terminal.
type SessionState int32

const (
	SessionConnecting SessionState = iota
	SessionJoined
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionJoined:
		return "joined"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionInfo is a read-only snapshot of a room session.
type SessionInfo struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	ParticipantID  string       `json:"participant_id"`
	JoinedAt       time.Time    `json:"joined_at"`
	State          SessionState `json:"state"`
}
