package room

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/presence"
	"github.com/weiawesome/wes-io-chat/internal/registry"
	"github.com/weiawesome/wes-io-chat/internal/store"
	"github.com/weiawesome/wes-io-chat/pkg/protocol"
)

var (
	errConnClosed = errors.New("connection closed")
	errConnFull   = errors.New("send buffer full")
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames []protocol.ServerFrame
	full   bool
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Deliver(f protocol.ServerFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	if c.full {
		return errConnFull
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) setFull(full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.full = full
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) snapshot() []protocol.ServerFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.ServerFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeConn) history(t *testing.T) protocol.History {
	t.Helper()
	frames := c.snapshot()
	if len(frames) == 0 {
		t.Fatalf("%s received no frames, want history first", c.id)
	}
	h, ok := frames[0].(protocol.History)
	if !ok {
		t.Fatalf("%s first frame = %T, want protocol.History", c.id, frames[0])
	}
	return h
}

// after returns the frames received after the history frame.
func (c *fakeConn) after() []protocol.ServerFrame {
	frames := c.snapshot()
	if len(frames) == 0 {
		return nil
	}
	return frames[1:]
}

type harness struct {
	mgr     *Manager
	reg     *registry.MemoryRegistry
	store   store.MessageStore
	tracker *presence.Tracker
}

func newHarness() *harness {
	reg := registry.NewMemoryRegistry()
	st := store.NewMemoryMessageStore(reg, store.Options{})
	tracker := presence.NewTracker()
	return &harness{
		mgr:     NewManager(reg, st, tracker),
		reg:     reg,
		store:   st,
		tracker: tracker,
	}
}

func (h *harness) join(t *testing.T, conn Connection, contentItem, creator, visitor, requester string) *Session {
	t.Helper()
	sess, err := h.mgr.Join(context.Background(), conn, JoinRequest{
		ParticipantTriple: domain.ParticipantTriple{ContentItemID: contentItem, CreatorID: creator, VisitorID: visitor},
		RequesterID:       requester,
	})
	if err != nil {
		t.Fatalf("Join(%s) error = %v", requester, err)
	}
	return sess
}

func presenceFrame(conv, participant string, online bool) protocol.PresenceChanged {
	return protocol.PresenceChanged{ConversationID: conv, ParticipantID: participant, Online: online}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManager_ExampleScenario(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	c1 := newFakeConn("c1")
	c1Sess := h.join(t, c1, "E", "C1", "U1", "C1")
	conv := c1Sess.ConversationID()

	if got := c1.history(t); len(got.Messages) != 0 || !reflect.DeepEqual(got.Online, []string{"C1"}) {
		t.Errorf("C1 history = %+v, want no messages and online [C1]", got)
	}

	u1 := newFakeConn("u1")
	u1Sess := h.join(t, u1, "E", "C1", "U1", "U1")
	if u1Sess.ConversationID() != conv {
		t.Fatalf("U1 joined %s, want %s", u1Sess.ConversationID(), conv)
	}
	if got := u1.history(t); len(got.Messages) != 0 || !reflect.DeepEqual(got.Online, []string{"C1", "U1"}) {
		t.Errorf("U1 history = %+v, want no messages and online [C1 U1]", got)
	}
	if got, want := c1.after(), []protocol.ServerFrame{presenceFrame(conv, "U1", true)}; !reflect.DeepEqual(got, want) {
		t.Errorf("C1 frames = %+v, want %+v", got, want)
	}

	msg, err := h.mgr.Send(ctx, u1Sess.ID(), "hi")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	want := protocol.MessageReceived{Message: toWire(msg)}
	if got := c1.after(); len(got) != 2 || got[1] != want {
		t.Errorf("C1 frames = %+v, want presence then %+v", got, want)
	}
	if got := u1.after(); len(got) != 1 || got[0] != want {
		t.Errorf("U1 frames = %+v, want [%+v]", got, want)
	}

	// U2 talks to C1 about the same item in a separate conversation.
	u2 := newFakeConn("u2")
	u2Sess := h.join(t, u2, "E", "C1", "U2", "U2")
	if u2Sess.ConversationID() == conv {
		t.Fatal("U2 joined C1/U1 conversation")
	}
	if got := u2.history(t); len(got.Messages) != 0 {
		t.Errorf("U2 history = %+v, want empty", got.Messages)
	}
	if got := c1.after(); len(got) != 2 {
		t.Errorf("C1 frames after U2 joined = %d, want 2", len(got))
	}

	if !h.mgr.Leave(ctx, u1Sess.ID()) {
		t.Fatal("Leave() = false, want true")
	}
	if got := c1.after(); len(got) != 3 || got[2] != presenceFrame(conv, "U1", false) {
		t.Errorf("C1 frames = %+v, want U1 offline last", got)
	}
	if h.tracker.IsOnline(conv, "U1") {
		t.Error("U1 still online after leave")
	}
}

func TestManager_UnauthorizedJoin(t *testing.T) {
	h := newHarness()
	c1 := newFakeConn("c1")
	c1Sess := h.join(t, c1, "E", "C1", "U1", "C1")

	u3 := newFakeConn("u3")
	_, err := h.mgr.Join(context.Background(), u3, JoinRequest{
		ParticipantTriple: domain.ParticipantTriple{ContentItemID: "E", CreatorID: "C1", VisitorID: "U1"},
		RequesterID:       "U3",
	})
	if !errors.Is(err, domain.ErrUnauthorizedParticipant) {
		t.Fatalf("Join(U3) error = %v, want %v", err, domain.ErrUnauthorizedParticipant)
	}

	if len(u3.snapshot()) != 0 {
		t.Errorf("U3 received %d frames, want 0", len(u3.snapshot()))
	}
	if len(c1.after()) != 0 {
		t.Errorf("C1 received %+v, want nothing", c1.after())
	}
	if h.tracker.IsOnline(c1Sess.ConversationID(), "U3") {
		t.Error("U3 marked online")
	}
	if got := h.mgr.SessionCount(); got != 1 {
		t.Errorf("SessionCount() = %d, want 1", got)
	}
}

func TestManager_InvalidParticipants(t *testing.T) {
	h := newHarness()
	_, err := h.mgr.Join(context.Background(), newFakeConn("c1"), JoinRequest{
		ParticipantTriple: domain.ParticipantTriple{ContentItemID: "E", CreatorID: "C1", VisitorID: "C1"},
		RequesterID:       "C1",
	})
	if !errors.Is(err, domain.ErrInvalidParticipants) {
		t.Errorf("Join() error = %v, want %v", err, domain.ErrInvalidParticipants)
	}
}

func TestManager_PresenceAggregatesSessions(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	u1 := newFakeConn("u1")
	u1Sess := h.join(t, u1, "E", "C1", "U1", "U1")
	conv := u1Sess.ConversationID()

	tabA := h.join(t, newFakeConn("c1-a"), "E", "C1", "U1", "C1")
	tabB := h.join(t, newFakeConn("c1-b"), "E", "C1", "U1", "C1")

	h.mgr.Leave(ctx, tabA.ID())
	if !h.tracker.IsOnline(conv, "C1") {
		t.Error("C1 offline while a session remains")
	}
	h.mgr.Leave(ctx, tabB.ID())

	want := []protocol.ServerFrame{
		presenceFrame(conv, "C1", true),
		presenceFrame(conv, "C1", false),
	}
	if got := u1.after(); !reflect.DeepEqual(got, want) {
		t.Errorf("U1 frames = %+v, want %+v", got, want)
	}
}

func TestManager_SendValidation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if _, err := h.mgr.Send(ctx, "nobody", "hi"); !errors.Is(err, domain.ErrSessionNotJoined) {
		t.Errorf("Send(unknown session) error = %v, want %v", err, domain.ErrSessionNotJoined)
	}

	c1 := newFakeConn("c1")
	sess := h.join(t, c1, "E", "C1", "U1", "C1")

	if _, err := h.mgr.Send(ctx, sess.ID(), "  "); !errors.Is(err, domain.ErrEmptyMessage) {
		t.Errorf("Send(blank) error = %v, want %v", err, domain.ErrEmptyMessage)
	}
	if len(c1.after()) != 0 {
		t.Errorf("frames after rejected send = %+v, want none", c1.after())
	}
	msgs, _ := h.store.History(ctx, sess.ConversationID())
	if len(msgs) != 0 {
		t.Errorf("History() len = %d, want 0", len(msgs))
	}

	h.mgr.Leave(ctx, sess.ID())
	if sess.State() != domain.SessionClosed {
		t.Errorf("State() = %v, want closed", sess.State())
	}
	if _, err := h.mgr.Send(ctx, sess.ID(), "hi"); !errors.Is(err, domain.ErrSessionNotJoined) {
		t.Errorf("Send(after leave) error = %v, want %v", err, domain.ErrSessionNotJoined)
	}
}

func TestManager_LeaveIsIdempotent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	sess := h.join(t, newFakeConn("c1"), "E", "C1", "U1", "C1")

	if !h.mgr.Leave(ctx, sess.ID()) {
		t.Error("first Leave() = false, want true")
	}
	if h.mgr.Leave(ctx, sess.ID()) {
		t.Error("second Leave() = true, want false")
	}
	if got := h.mgr.RoomCount(); got != 0 {
		t.Errorf("RoomCount() = %d, want 0", got)
	}
}

func TestManager_RejoinReplacesSession(t *testing.T) {
	h := newHarness()
	conn := newFakeConn("c1")

	first := h.join(t, conn, "E", "C1", "U1", "C1")
	second := h.join(t, conn, "E", "C1", "U2", "C1")

	if first.State() != domain.SessionClosed {
		t.Errorf("first.State() = %v, want closed", first.State())
	}
	if h.tracker.IsOnline(first.ConversationID(), "C1") {
		t.Error("C1 still online in the first conversation")
	}
	if got, ok := h.mgr.Session(conn.ID()); !ok || got != second {
		t.Errorf("Session(%s) = %v, want the second session", conn.ID(), got)
	}
}

func TestManager_JoinThenConsistency(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	sender := h.join(t, newFakeConn("u1"), "E", "C1", "U1", "U1")

	const total = 60
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			if _, err := h.mgr.Send(ctx, sender.ID(), fmt.Sprintf("m%d", i)); err != nil {
				t.Errorf("Send() error = %v", err)
				return
			}
		}
	}()

	// Join somewhere in the middle of the stream.
	waitFor(t, "some messages", func() bool {
		msgs, _ := h.store.History(ctx, sender.ConversationID())
		return len(msgs) >= 5
	})
	c1 := newFakeConn("c1")
	h.join(t, c1, "E", "C1", "U1", "C1")
	wg.Wait()

	seen := make(map[int64]int)
	for _, m := range c1.history(t).Messages {
		seen[m.Seq]++
	}
	var last int64
	for _, f := range c1.after() {
		mr, ok := f.(protocol.MessageReceived)
		if !ok {
			continue
		}
		if mr.Seq <= last {
			t.Errorf("live frames out of order: %d after %d", mr.Seq, last)
		}
		last = mr.Seq
		seen[mr.Seq]++
	}

	for seq := int64(1); seq <= total; seq++ {
		if seen[seq] != 1 {
			t.Errorf("message %d seen %d times, want exactly once", seq, seen[seq])
		}
	}
}

func TestManager_ConcurrentSendersShareOneOrder(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	c1 := newFakeConn("c1")
	u1 := newFakeConn("u1")
	c1Sess := h.join(t, c1, "E", "C1", "U1", "C1")
	u1Sess := h.join(t, u1, "E", "C1", "U1", "U1")

	var wg sync.WaitGroup
	for _, id := range []string{c1Sess.ID(), u1Sess.ID()} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if _, err := h.mgr.Send(ctx, id, fmt.Sprintf("%s-%d", id, i)); err != nil {
					t.Errorf("Send() error = %v", err)
				}
			}
		}(id)
	}
	wg.Wait()

	seqs := func(c *fakeConn) []int64 {
		var out []int64
		for _, f := range c.after() {
			if mr, ok := f.(protocol.MessageReceived); ok {
				out = append(out, mr.Seq)
			}
		}
		return out
	}
	a, b := seqs(c1), seqs(u1)
	if len(a) != 50 || !reflect.DeepEqual(a, b) {
		t.Fatalf("receivers disagree: c1 %v, u1 %v", a, b)
	}
	for i, seq := range a {
		if seq != int64(i+1) {
			t.Fatalf("seq[%d] = %d, want %d", i, seq, i+1)
		}
	}
}

func TestManager_EvictsSlowConsumer(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	c1 := newFakeConn("c1")
	u1 := newFakeConn("u1")
	c1Sess := h.join(t, c1, "E", "C1", "U1", "C1")
	u1Sess := h.join(t, u1, "E", "C1", "U1", "U1")

	c1.setFull(true)
	if _, err := h.mgr.Send(ctx, u1Sess.ID(), "hi"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	waitFor(t, "eviction", func() bool { return h.mgr.SessionCount() == 1 })
	if !c1.isClosed() {
		t.Error("slow connection was not closed")
	}
	if c1Sess.State() != domain.SessionClosed {
		t.Errorf("State() = %v, want closed", c1Sess.State())
	}
	waitFor(t, "offline notice", func() bool {
		frames := u1.after()
		return len(frames) > 0 && frames[len(frames)-1] == presenceFrame(c1Sess.ConversationID(), "C1", false)
	})
}

func TestManager_JoinHonoursCancellation(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	conn := newFakeConn("c1")
	_, err := h.mgr.Join(ctx, conn, JoinRequest{
		ParticipantTriple: domain.ParticipantTriple{ContentItemID: "E", CreatorID: "C1", VisitorID: "U1"},
		RequesterID:       "C1",
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Join() error = %v, want %v", err, context.Canceled)
	}
	if got := h.mgr.RoomCount(); got != 0 {
		t.Errorf("RoomCount() = %d, want 0", got)
	}
	if len(conn.snapshot()) != 0 {
		t.Errorf("cancelled join delivered %d frames", len(conn.snapshot()))
	}
}

func TestManager_JoinFailsWhenConnectionClosed(t *testing.T) {
	h := newHarness()
	conn := newFakeConn("c1")
	conn.Close()

	_, err := h.mgr.Join(context.Background(), conn, JoinRequest{
		ParticipantTriple: domain.ParticipantTriple{ContentItemID: "E", CreatorID: "C1", VisitorID: "U1"},
		RequesterID:       "C1",
	})
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("Join() error = %v, want %v", err, ErrDeliveryFailed)
	}
	if h.mgr.SessionCount() != 0 || h.mgr.RoomCount() != 0 {
		t.Errorf("SessionCount() = %d, RoomCount() = %d, want 0, 0", h.mgr.SessionCount(), h.mgr.RoomCount())
	}
}

func TestManager_Shutdown(t *testing.T) {
	h := newHarness()
	c1 := newFakeConn("c1")
	u1 := newFakeConn("u1")
	h.join(t, c1, "E", "C1", "U1", "C1")
	h.join(t, u1, "E", "C1", "U1", "U1")

	h.mgr.Shutdown(context.Background())

	if h.mgr.SessionCount() != 0 {
		t.Errorf("SessionCount() = %d, want 0", h.mgr.SessionCount())
	}
	if !c1.isClosed() || !u1.isClosed() {
		t.Error("connections left open after Shutdown")
	}
}

// stallingStore parks the first Append until its context ends.
type stallingStore struct {
	store.MessageStore
	once    sync.Once
	entered chan struct{}
}

func (s *stallingStore) Append(ctx context.Context, conversationID, senderID, content string) (*domain.Message, error) {
	stall := false
	s.once.Do(func() { stall = true })
	if stall {
		close(s.entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.MessageStore.Append(ctx, conversationID, senderID, content)
}

func TestManager_CancelledSendReleasesRoom(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	st := &stallingStore{
		MessageStore: store.NewMemoryMessageStore(reg, store.Options{}),
		entered:      make(chan struct{}),
	}
	h := &harness{reg: reg, store: st, tracker: presence.NewTracker()}
	h.mgr = NewManager(reg, st, h.tracker)

	c1Sess := h.join(t, newFakeConn("c1"), "E", "C1", "U1", "C1")
	u1Sess := h.join(t, newFakeConn("u1"), "E", "C1", "U1", "U1")

	connCtx, closeConn := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := h.mgr.Send(connCtx, c1Sess.ID(), "hello")
		errCh <- err
	}()

	<-st.entered
	closeConn()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Send() error = %v, want %v", err, context.Canceled)
		}
	case <-time.After(time.Second):
		t.Fatal("Send() did not return after its context was cancelled")
	}

	if !h.mgr.Leave(context.Background(), c1Sess.ID()) {
		t.Fatal("Leave() = false, want true")
	}
	if got := c1Sess.State(); got != domain.SessionClosed {
		t.Errorf("State() after Leave = %v, want %v", got, domain.SessionClosed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := h.mgr.Send(ctx, u1Sess.ID(), "still here")
	if err != nil {
		t.Fatalf("Send() from the other session error = %v", err)
	}
	if msg.Seq != 1 {
		t.Errorf("Seq = %d, want 1", msg.Seq)
	}
}

func TestManager_OutsiderCreatesNothing(t *testing.T) {
	h := newHarness()
	triple := domain.ParticipantTriple{ContentItemID: "E", CreatorID: "C1", VisitorID: "U1"}

	_, err := h.mgr.Join(context.Background(), newFakeConn("u3"), JoinRequest{
		ParticipantTriple: triple,
		RequesterID:       "U3",
	})
	if !errors.Is(err, domain.ErrUnauthorizedParticipant) {
		t.Fatalf("Join(U3) error = %v, want %v", err, domain.ErrUnauthorizedParticipant)
	}
	if _, err := h.reg.Get(context.Background(), triple.ConversationID()); !errors.Is(err, domain.ErrConversationNotFound) {
		t.Errorf("Get() after denied join error = %v, want %v", err, domain.ErrConversationNotFound)
	}
	if got := h.mgr.RoomCount(); got != 0 {
		t.Errorf("RoomCount() = %d, want 0", got)
	}
}
