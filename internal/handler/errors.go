package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/protocol"
)

type errorMapping struct {
	target error
	status int
	code   string
	text   string
}

var errorMappings = []errorMapping{
	{domain.ErrInvalidParticipants, http.StatusBadRequest, protocol.CodeInvalidParticipants, "creator and visitor must be distinct, non-empty ids"},
	{domain.ErrUnauthorizedParticipant, http.StatusForbidden, protocol.CodeUnauthorizedParticipant, "not a participant of this conversation"},
	{domain.ErrConversationNotFound, http.StatusNotFound, protocol.CodeConversationNotFound, "conversation not found"},
	{domain.ErrEmptyMessage, http.StatusBadRequest, protocol.CodeEmptyMessage, "message content is empty"},
	{domain.ErrMessageTooLong, http.StatusBadRequest, protocol.CodeMessageTooLong, "message content is too long"},
	{domain.ErrSessionNotJoined, http.StatusConflict, protocol.CodeNotJoined, "join a conversation first"},
	{protocol.ErrMalformedFrame, http.StatusBadRequest, protocol.CodeBadRequest, "malformed frame"},
	{protocol.ErrUnknownFrameType, http.StatusBadRequest, protocol.CodeBadRequest, "unknown frame type"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, protocol.CodeInternalError, "operation timed out"},
}

// classify maps err onto an HTTP status and a protocol error code. Domain
// errors keep their wrapped detail; anything unrecognised is reported as an
// internal error without leaking its text.
func classify(err error) (int, protocol.Error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			msg := m.text
			if m.status < http.StatusInternalServerError {
				msg = err.Error()
			}
			return m.status, protocol.NewError(m.code, msg)
		}
	}
	return http.StatusInternalServerError, protocol.NewError(protocol.CodeInternalError, "internal error")
}
