// Package protocol defines the frames exchanged over the chat WebSocket.
//
// Every frame travels as an envelope {"type": ..., "data": {...}}. The set
// of frame types is closed: decoders reject unknown types and unknown
// fields instead of skipping them.
package protocol

import "time"

// Type tags a frame variant.
type Type string

// Client -> server.
const (
	TypeJoinRoom    Type = "join_room"
	TypeSendMessage Type = "send_message"
	TypeLeaveRoom   Type = "leave_room"
	TypePing        Type = "ping"
)

// Server -> client.
const (
	TypeHistory         Type = "history"
	TypeMessageReceived Type = "message_received"
	TypePresenceChanged Type = "presence_changed"
	TypeError           Type = "error"
	TypePong            Type = "pong"
)

// Error codes carried by Error frames.
const (
	CodeInvalidParticipants     = "INVALID_PARTICIPANTS"
	CodeUnauthorizedParticipant = "UNAUTHORIZED_PARTICIPANT"
	CodeConversationNotFound    = "CONVERSATION_NOT_FOUND"
	CodeEmptyMessage            = "EMPTY_MESSAGE"
	CodeMessageTooLong          = "MESSAGE_TOO_LONG"
	CodeNotJoined               = "NOT_JOINED"
	CodeBadRequest              = "BAD_REQUEST"
	CodeInternalError           = "INTERNAL_ERROR"
)

// Frame is implemented by every frame variant.
type Frame interface {
	FrameType() Type
}

// ClientFrame is a frame sent by a client.
type ClientFrame interface {
	Frame
	clientFrame()
}

// ServerFrame is a frame sent by the server.
type ServerFrame interface {
	Frame
	serverFrame()
}

// JoinRoom asks to join the conversation identified by the triple.
// RequesterID may be omitted when the connection is authenticated.
type JoinRoom struct {
	ContentItemID string `json:"content_item_id"`
	CreatorID     string `json:"creator_id"`
	VisitorID     string `json:"visitor_id"`
	RequesterID   string `json:"requester_id,omitempty"`
}

// SendMessage posts content to the joined conversation.
type SendMessage struct {
	Content string `json:"content"`
}

// LeaveRoom ends the current room session, keeping the connection open.
type LeaveRoom struct{}

// Ping is answered with Pong.
type Ping struct{}

// Message is the wire form of a stored chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int64     `json:"seq"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// History is the first frame after a successful join: the full ordered
// history plus the participants online at join time.
type History struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	Online         []string  `json:"online"`
}

// MessageReceived fans out a newly appended message.
type MessageReceived struct {
	Message
}

// PresenceChanged reports a participant going online or offline.
type PresenceChanged struct {
	ConversationID string `json:"conversation_id"`
	ParticipantID  string `json:"participant_id"`
	Online         bool   `json:"online"`
}

// Error reports a failed request.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Pong answers Ping.
type Pong struct{}

func (JoinRoom) FrameType() Type        { return TypeJoinRoom }
func (SendMessage) FrameType() Type     { return TypeSendMessage }
func (LeaveRoom) FrameType() Type       { return TypeLeaveRoom }
func (Ping) FrameType() Type            { return TypePing }
func (History) FrameType() Type         { return TypeHistory }
func (MessageReceived) FrameType() Type { return TypeMessageReceived }
func (PresenceChanged) FrameType() Type { return TypePresenceChanged }
func (Error) FrameType() Type           { return TypeError }
func (Pong) FrameType() Type            { return TypePong }

func (JoinRoom) clientFrame()    {}
func (SendMessage) clientFrame() {}
func (LeaveRoom) clientFrame()   {}
func (Ping) clientFrame()        {}

func (History) serverFrame()         {}
func (MessageReceived) serverFrame() {}
func (PresenceChanged) serverFrame() {}
func (Error) serverFrame()           {}
func (Pong) serverFrame()            {}

// NewError builds an Error frame.
func NewError(code, message string) Error {
	return Error{Code: code, Message: message}
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}
