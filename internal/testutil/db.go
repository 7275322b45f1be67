// Package testutil holds helpers shared by package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/database"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// NewTestDB opens a private in-memory sqlite database with the chat schema
// migrated. A single connection keeps every query on the same memory db.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1)),
		MaxOpenConns: 1,
		LogLevel:     "silent",
	})
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}

	if err := database.AutoMigrate(db,
		&domain.ConversationModel{},
		&domain.MessageModel{},
		&domain.ParticipantModel{},
	); err != nil {
		t.Fatalf("AutoMigrate() error = %v", err)
	}

	t.Cleanup(func() {
		database.Close(db)
	})
	return db
}
