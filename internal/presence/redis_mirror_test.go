package presence

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/weiawesome/wes-io-chat/internal/config"
	"github.com/weiawesome/wes-io-chat/internal/testutil"
)

func newTestMirror(t *testing.T, srv *testutil.RedisServer, buffer int) *RedisMirror {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	m := NewRedisMirrorWithClient(client, config.PresenceConfig{
		MirrorPrefix: "presence:conversation",
		MirrorTTL:    time.Hour,
		MirrorBuffer: buffer,
	})
	t.Cleanup(func() { m.Close() })
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRedisMirror_CountsAcrossInstances(t *testing.T) {
	srv := testutil.NewRedisServer(t)
	a := newTestMirror(t, srv, 8)
	b := newTestMirror(t, srv, 8)
	ctx := context.Background()
	const key = "presence:conversation:conv:online"

	for _, m := range []*RedisMirror{a, b} {
		if err := m.apply(ctx, Update{ConversationID: "conv", ParticipantID: "C1", Online: true}); err != nil {
			t.Fatalf("apply(online) error = %v", err)
		}
	}
	if got, want := srv.Hash(key), map[string]string{"C1": "2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("hash = %v, want %v", got, want)
	}
	if got := srv.TTL(key); got != time.Hour {
		t.Errorf("TTL = %v, want %v", got, time.Hour)
	}

	if err := a.apply(ctx, Update{ConversationID: "conv", ParticipantID: "C1"}); err != nil {
		t.Fatalf("apply(offline) error = %v", err)
	}
	online, err := b.Online(ctx, "conv")
	if err != nil {
		t.Fatalf("Online() error = %v", err)
	}
	if want := []string{"C1"}; !reflect.DeepEqual(online, want) {
		t.Errorf("Online() with one instance left = %v, want %v", online, want)
	}

	if err := b.apply(ctx, Update{ConversationID: "conv", ParticipantID: "C1"}); err != nil {
		t.Fatalf("apply(offline) error = %v", err)
	}
	if got := srv.Hash(key); got != nil {
		t.Errorf("hash after last offline = %v, want field removed", got)
	}
	online, err = a.Online(ctx, "conv")
	if err != nil {
		t.Fatalf("Online() error = %v", err)
	}
	if len(online) != 0 {
		t.Errorf("Online() = %v, want empty", online)
	}
}

func TestRedisMirror_OfflineWithoutOnlineRemovesField(t *testing.T) {
	srv := testutil.NewRedisServer(t)
	m := newTestMirror(t, srv, 8)

	if err := m.apply(context.Background(), Update{ConversationID: "conv", ParticipantID: "U1"}); err != nil {
		t.Fatalf("apply() error = %v", err)
	}
	if got := srv.Hash("presence:conversation:conv:online"); got != nil {
		t.Errorf("hash = %v, want no negative counts left behind", got)
	}
}

func TestRedisMirror_PublishDropsWhenFull(t *testing.T) {
	srv := testutil.NewRedisServer(t)
	m := newTestMirror(t, srv, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Publish(Update{ConversationID: "conv", ParticipantID: "C1", Online: true})
		m.Publish(Update{ConversationID: "conv", ParticipantID: "U1", Online: true})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish() blocked on a full buffer")
	}
	if got := len(m.updates); got != 1 {
		t.Errorf("queued updates = %d, want 1", got)
	}
	if got := (<-m.updates).ParticipantID; got != "C1" {
		t.Errorf("kept update for %q, want C1", got)
	}
}

func TestRedisMirror_FailuresAreNotSurfaced(t *testing.T) {
	srv := testutil.NewRedisServer(t)
	m := newTestMirror(t, srv, 8)
	m.Start(context.Background())

	tr := NewTracker(WithMirror(m))

	srv.SetFailing(true)
	if !tr.MarkOnline("conv", "C1", "s1") {
		t.Fatal("MarkOnline() = false, want true while the mirror is failing")
	}
	waitFor(t, "the failed write", func() bool { return srv.Failures() > 0 })
	srv.SetFailing(false)

	if !tr.MarkOnline("conv", "U1", "s2") {
		t.Fatal("MarkOnline() = false, want true")
	}
	waitFor(t, "the worker to keep mirroring", func() bool {
		return srv.Hash("presence:conversation:conv:online")["U1"] == "1"
	})

	if got, want := tr.Online("conv"), []string{"C1", "U1"}; !reflect.DeepEqual(got, want) {
		t.Errorf("tracker Online() = %v, want %v", got, want)
	}
}
