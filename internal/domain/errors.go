package domain

import "errors"

var (
	// ErrInvalidParticipants is returned for a malformed participant triple,
	// including a creator talking to themselves.
	ErrInvalidParticipants = errors.New("invalid participants")
	// ErrUnauthorizedParticipant is returned when the requester is neither
	// the creator nor the visitor of the conversation.
	ErrUnauthorizedParticipant = errors.New("requester is not a participant of this conversation")
	ErrConversationNotFound    = errors.New("conversation not found")
	ErrEmptyMessage            = errors.New("message content is empty")
	ErrMessageTooLong          = errors.New("message content is too long")
	// ErrSessionNotJoined is returned for sends and leaves on a session that
	// is not (or no longer) joined to a room.
	ErrSessionNotJoined    = errors.New("session has not joined a room")
	ErrParticipantNotFound = errors.New("participant not found")
)
