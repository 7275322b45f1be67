package room

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/protocol"
)

// Connection is the outbound half of a live client connection.
type Connection interface {
	ID() string
	// Deliver enqueues f without blocking. An error means the frame was not
	// accepted: the connection is closed or its send buffer is full.
	Deliver(f protocol.ServerFrame) error
	Close()
}

// Session is one connection's membership in a conversation room.
type Session struct {
	id             string
	conversationID string
	participantID  string
	joinedAt       time.Time
	conn           Connection
	room           *room

	state    atomic.Int32
	evicting atomic.Bool
}

func newSession(conn Connection, conversationID, participantID string) *Session {
	s := &Session{
		id:             conn.ID(),
		conversationID: conversationID,
		participantID:  participantID,
		conn:           conn,
	}
	s.state.Store(int32(domain.SessionConnecting))
	return s
}

func (s *Session) ID() string             { return s.id }
func (s *Session) ConversationID() string { return s.conversationID }
func (s *Session) ParticipantID() string  { return s.participantID }

// State returns the current lifecycle state.
func (s *Session) State() domain.SessionState {
	return domain.SessionState(s.state.Load())
}

// Info returns a snapshot of the session.
func (s *Session) Info() domain.SessionInfo {
	return domain.SessionInfo{
		ID:             s.id,
		ConversationID: s.conversationID,
		ParticipantID:  s.participantID,
		JoinedAt:       s.joinedAt,
		State:          s.State(),
	}
}

func (s *Session) transition(from, to domain.SessionState) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// room is the fan-out set of one conversation. sem is a one-slot
// semaphore: holding it serialises join, send and leave for the room and
// guards sessions.
type room struct {
	conversationID string
	sem            chan struct{}
	sessions       map[string]*Session

	// refs counts registered sessions plus joins in flight; guarded by
	// Manager.mu.
	refs int
}

func newRoom(conversationID string) *room {
	return &room{
		conversationID: conversationID,
		sem:            make(chan struct{}, 1),
		sessions:       make(map[string]*Session),
	}
}

func (r *room) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lockAlways is used by cleanup paths that must run to completion.
func (r *room) lockAlways() {
	r.sem <- struct{}{}
}

func (r *room) unlock() {
	<-r.sem
}
