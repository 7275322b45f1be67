package presence

import (
	"crypto/sha1"
	"encoding/binary"
	"sort"
	"sync"
)

const shardCount = 32

// Update is an aggregate presence transition.
type Update struct {
	ConversationID string `json:"conversation_id"`
	ParticipantID  string `json:"participant_id"`
	Online         bool   `json:"online"`
}

// Mirror receives every aggregate transition. Publish must not block.
type Mirror interface {
	Publish(u Update)
}

// conversation -> participant -> live session ids
type bucket struct {
	sync.RWMutex
	convs map[string]map[string]map[string]struct{}
}

// Tracker derives per-conversation presence from joined sessions. A
// participant is online while at least one of their sessions is joined.
// State is sharded by conversation id; conversations never share a lock
// with conversations in other shards and reads never wait on I/O.
type Tracker struct {
	shards [shardCount]*bucket
	mirror Mirror
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMirror forwards transitions to m.
func WithMirror(m Mirror) Option {
	return func(t *Tracker) {
		t.mirror = m
	}
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{}
	for i := 0; i < shardCount; i++ {
		t.shards[i] = &bucket{convs: make(map[string]map[string]map[string]struct{})}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) shard(conversationID string) *bucket {
	h := sha1.Sum([]byte(conversationID))
	return t.shards[binary.BigEndian.Uint32(h[:4])%shardCount]
}

// MarkOnline records sessionID as live for the participant and reports
// whether the participant just went from offline to online.
func (t *Tracker) MarkOnline(conversationID, participantID, sessionID string) bool {
	b := t.shard(conversationID)
	b.Lock()
	defer b.Unlock()

	participants, ok := b.convs[conversationID]
	if !ok {
		participants = make(map[string]map[string]struct{})
		b.convs[conversationID] = participants
	}
	sessions, ok := participants[participantID]
	if !ok {
		sessions = make(map[string]struct{})
		participants[participantID] = sessions
	}

	wasOnline := len(sessions) > 0
	sessions[sessionID] = struct{}{}
	if wasOnline {
		return false
	}

	t.publish(Update{ConversationID: conversationID, ParticipantID: participantID, Online: true})
	return true
}

// MarkOffline drops sessionID and reports whether it was the participant's
// last live session. Unknown sessions are ignored.
func (t *Tracker) MarkOffline(conversationID, participantID, sessionID string) bool {
	b := t.shard(conversationID)
	b.Lock()
	defer b.Unlock()

	participants, ok := b.convs[conversationID]
	if !ok {
		return false
	}
	sessions, ok := participants[participantID]
	if !ok {
		return false
	}
	if _, ok := sessions[sessionID]; !ok {
		return false
	}

	delete(sessions, sessionID)
	if len(sessions) > 0 {
		return false
	}

	delete(participants, participantID)
	if len(participants) == 0 {
		delete(b.convs, conversationID)
	}
	t.publish(Update{ConversationID: conversationID, ParticipantID: participantID, Online: false})
	return true
}

// IsOnline reports the aggregate presence of a participant.
func (t *Tracker) IsOnline(conversationID, participantID string) bool {
	b := t.shard(conversationID)
	b.RLock()
	defer b.RUnlock()

	return len(b.convs[conversationID][participantID]) > 0
}

// Online lists the online participants of a conversation, sorted.
func (t *Tracker) Online(conversationID string) []string {
	b := t.shard(conversationID)
	b.RLock()
	online := make([]string, 0, len(b.convs[conversationID]))
	for participantID, sessions := range b.convs[conversationID] {
		if len(sessions) > 0 {
			online = append(online, participantID)
		}
	}
	b.RUnlock()

	sort.Strings(online)
	return online
}

func (t *Tracker) publish(u Update) {
	if t.mirror != nil {
		t.mirror.Publish(u)
	}
}
