package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-chat/internal/audit"
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/kafka"
	"github.com/weiawesome/wes-io-chat/internal/presence"
	"github.com/weiawesome/wes-io-chat/internal/registry"
	"github.com/weiawesome/wes-io-chat/internal/store"
	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/protocol"
)

// ErrDeliveryFailed is returned by Join when the history frame could not
// be handed to the connection.
var ErrDeliveryFailed = errors.New("failed to deliver to connection")

// JoinRequest asks for RequesterID to join the conversation of the triple.
type JoinRequest struct {
	domain.ParticipantTriple
	RequesterID string
}

// Manager owns every room of this instance and is the only writer of
// presence. All operations on one conversation are serialised by that
// conversation's room lock; different conversations proceed in parallel.
type Manager struct {
	registry registry.Registry
	store    store.MessageStore
	presence *presence.Tracker
	events   kafka.EventProducer
	now      func() time.Time

	mu       sync.Mutex
	rooms    map[string]*room
	sessions map[string]*Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithEventProducer publishes appended messages and presence changes.
func WithEventProducer(p kafka.EventProducer) Option {
	return func(m *Manager) {
		m.events = p
	}
}

// WithClock replaces the time source for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(reg registry.Registry, st store.MessageStore, tracker *presence.Tracker, opts ...Option) *Manager {
	m := &Manager{
		registry: reg,
		store:    st,
		presence: tracker,
		events:   kafka.NoopProducer{},
		now:      time.Now,
		rooms:    make(map[string]*room),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Join resolves the conversation, checks that the requester takes part in
// it and registers a session for conn. Under the room lock the connection
// first receives the full history, so every message appended afterwards
// reaches it as a MessageReceived frame. A connection holds at most one
// session; a previous one is left first.
func (m *Manager) Join(ctx context.Context, conn Connection, req JoinRequest) (*Session, error) {
	triple := req.ParticipantTriple.Normalize()
	if err := triple.Validate(); err != nil {
		return nil, err
	}
	// Outsiders are turned away before anything is created for them.
	if !triple.Includes(req.RequesterID) {
		audit.LogWithDetail(ctx, audit.ActionJoinDenied, req.RequesterID, triple.ConversationID(), "not a participant", "join denied")
		return nil, domain.ErrUnauthorizedParticipant
	}

	conv, err := m.registry.Resolve(ctx, triple)
	if err != nil {
		return nil, err
	}

	m.Leave(ctx, conn.ID())

	sess := newSession(conn, conv.ID, req.RequesterID)
	r := m.acquireRoom(conv.ID)
	if err := r.lock(ctx); err != nil {
		sess.transition(domain.SessionConnecting, domain.SessionClosed)
		m.releaseRoom(r)
		return nil, err
	}
	err = m.joinLocked(ctx, r, sess)
	r.unlock()
	if err != nil {
		sess.transition(domain.SessionConnecting, domain.SessionClosed)
		m.releaseRoom(r)
		return nil, err
	}

	audit.Log(ctx, audit.ActionJoin, sess.participantID, conv.ID, "joined conversation")
	return sess, nil
}

func (m *Manager) joinLocked(ctx context.Context, r *room, sess *Session) error {
	history, err := m.store.History(ctx, r.conversationID)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	online := m.presence.Online(r.conversationID)
	if !contains(online, sess.participantID) {
		online = append(online, sess.participantID)
		sort.Strings(online)
	}

	err = sess.conn.Deliver(protocol.History{
		ConversationID: r.conversationID,
		Messages:       toWireAll(history),
		Online:         online,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	sess.room = r
	sess.joinedAt = m.now().UTC()
	sess.transition(domain.SessionConnecting, domain.SessionJoined)
	r.sessions[sess.id] = sess

	m.mu.Lock()
	m.sessions[sess.id] = sess
	m.mu.Unlock()

	if m.presence.MarkOnline(r.conversationID, sess.participantID, sess.id) {
		m.broadcastLocked(ctx, r, protocol.PresenceChanged{
			ConversationID: r.conversationID,
			ParticipantID:  sess.participantID,
			Online:         true,
		}, sess.id)
		m.publishPresence(ctx, r.conversationID, sess.participantID, true)
	}
	return nil
}

// Send appends content to the session's conversation and fans it out to
// every joined session of the room, the sender's included. Validation and
// storage errors go to the caller only.
func (m *Manager) Send(ctx context.Context, sessionID, content string) (*domain.Message, error) {
	sess, ok := m.Session(sessionID)
	if !ok || sess.State() != domain.SessionJoined {
		return nil, domain.ErrSessionNotJoined
	}
	// Length limits are the store's call; emptiness never needs the lock.
	if err := domain.ValidateContent(content, 0); err != nil {
		return nil, err
	}

	r := sess.room
	if err := r.lock(ctx); err != nil {
		return nil, err
	}
	defer r.unlock()

	if sess.State() != domain.SessionJoined {
		return nil, domain.ErrSessionNotJoined
	}

	msg, err := m.store.Append(ctx, sess.conversationID, sess.participantID, content)
	if err != nil {
		return nil, err
	}

	m.broadcastLocked(ctx, r, protocol.MessageReceived{Message: toWire(msg)}, "")

	if err := m.events.PublishMessage(ctx, msg); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldConversationID, msg.ConversationID).Msg("failed to publish message event")
	}
	audit.LogWithDetail(ctx, audit.ActionSendMessage, sess.participantID, sess.conversationID, msg.ID, "message sent")
	return msg, nil
}

// Leave closes the session and reports whether there was one to close.
// It always runs to completion regardless of ctx.
func (m *Manager) Leave(ctx context.Context, sessionID string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if !ok || !sess.transition(domain.SessionJoined, domain.SessionClosed) {
		return false
	}

	r := sess.room
	r.lockAlways()
	delete(r.sessions, sess.id)
	if m.presence.MarkOffline(r.conversationID, sess.participantID, sess.id) {
		m.broadcastLocked(ctx, r, protocol.PresenceChanged{
			ConversationID: r.conversationID,
			ParticipantID:  sess.participantID,
			Online:         false,
		}, "")
		m.publishPresence(ctx, r.conversationID, sess.participantID, false)
	}
	r.unlock()
	m.releaseRoom(r)

	audit.Log(ctx, audit.ActionLeave, sess.participantID, sess.conversationID, "left conversation")
	return true
}

// Session looks up a joined session by id.
func (m *Manager) Session(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Presence lists the online participants of a conversation.
func (m *Manager) Presence(conversationID string) []string {
	return m.presence.Online(conversationID)
}

// SessionCount returns the number of joined sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// RoomCount returns the number of rooms with sessions or joins in flight.
func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Shutdown closes every session and its connection.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		m.Leave(ctx, s.id)
		s.conn.Close()
	}
}

// broadcastLocked hands f to every session of r except the one with id
// except. Sessions that refuse the frame are evicted in the background;
// eviction needs the room lock the caller is holding.
func (m *Manager) broadcastLocked(ctx context.Context, r *room, f protocol.ServerFrame, except string) {
	for id, s := range r.sessions {
		if id == except {
			continue
		}
		if err := s.conn.Deliver(f); err != nil {
			if s.evicting.CompareAndSwap(false, true) {
				go m.evict(log.WithLogger(context.Background(), log.Ctx(ctx)), s, err)
			}
		}
	}
}

func (m *Manager) evict(ctx context.Context, s *Session, cause error) {
	l := log.Ctx(ctx)
	l.Warn().Err(cause).
		Str(log.FieldConnectionID, s.id).
		Str(log.FieldConversationID, s.conversationID).
		Msg("evicting slow or closed connection")

	audit.LogWithDetail(ctx, audit.ActionEvicted, s.participantID, s.conversationID, cause.Error(), "session evicted")
	s.conn.Close()
	m.Leave(ctx, s.id)
}

func (m *Manager) publishPresence(ctx context.Context, conversationID, participantID string, online bool) {
	if err := m.events.PublishPresence(ctx, conversationID, participantID, online); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldConversationID, conversationID).Msg("failed to publish presence event")
	}
}

func (m *Manager) acquireRoom(conversationID string) *room {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[conversationID]
	if !ok {
		r = newRoom(conversationID)
		m.rooms[conversationID] = r
	}
	r.refs++
	return r
}

func (m *Manager) releaseRoom(r *room) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.refs--
	if r.refs <= 0 && m.rooms[r.conversationID] == r {
		delete(m.rooms, r.conversationID)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
