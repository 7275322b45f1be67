package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/testutil"
)

func TestGormRegistry_SharedResolveSurvivesCancelledCaller(t *testing.T) {
	db := testutil.NewTestDB(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	err := db.Callback().Create().Before("gorm:create").Register("test:gate", func(*gorm.DB) {
		once.Do(func() {
			close(entered)
			<-release
		})
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	reg := NewGormRegistry(db)
	triple := domain.ParticipantTriple{ContentItemID: "E", CreatorID: "C1", VisitorID: "U1"}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := reg.Resolve(firstCtx, triple)
		firstErr <- err
	}()
	<-entered

	type result struct {
		conv *domain.Conversation
		err  error
	}
	second := make(chan result, 1)
	go func() {
		conv, err := reg.Resolve(context.Background(), triple)
		second <- result{conv, err}
	}()
	// Let the second caller join the in-flight insert.
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("cancelled Resolve() error = %v, want %v", err, context.Canceled)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled Resolve() did not return")
	}

	close(release)
	select {
	case r := <-second:
		if r.err != nil {
			t.Fatalf("Resolve() error = %v", r.err)
		}
		if r.conv.ID != triple.ConversationID() {
			t.Errorf("Resolve().ID = %s, want %s", r.conv.ID, triple.ConversationID())
		}
	case <-time.After(time.Second):
		t.Fatal("Resolve() did not return")
	}
}
