package main

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-chat/internal/config"
	"github.com/weiawesome/wes-io-chat/internal/directory"
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/registry"
	"github.com/weiawesome/wes-io-chat/internal/store"
	"github.com/weiawesome/wes-io-chat/pkg/database"
	"github.com/weiawesome/wes-io-chat/pkg/jwt"
	"github.com/weiawesome/wes-io-chat/pkg/middleware"
)

// backend bundles the persistence side selected by store.driver.
type backend struct {
	db        *gorm.DB
	registry  registry.Registry
	store     store.MessageStore
	directory directory.Directory
}

func (b *backend) Close() {
	b.store.Close()
	if b.db != nil {
		database.Close(b.db)
	}
}

func openBackend(cfg *config.Config) (*backend, error) {
	opts := store.Options{MaxContentLength: cfg.Chat.MaxContentLength}

	driver := strings.ToLower(cfg.Store.Driver)
	if driver == "memory" {
		reg := registry.NewMemoryRegistry()
		return &backend{
			registry:  reg,
			store:     store.NewMemoryMessageStore(reg, opts),
			directory: directory.NewMemoryDirectory(),
		}, nil
	}

	// Conversations and profiles live in SQL for every other driver.
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.AutoMigrate(db,
		&domain.ConversationModel{},
		&domain.MessageModel{},
		&domain.ParticipantModel{},
	); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to auto-migrate: %w", err)
	}

	reg := registry.NewGormRegistry(db)
	b := &backend{db: db, registry: reg, directory: directory.NewGormDirectory(db)}

	switch driver {
	case "sql", "":
		b.store = store.NewGormMessageStore(db, opts)
	case "cassandra":
		st, err := store.NewCassandraMessageStore(cfg.Cassandra, reg, opts)
		if err != nil {
			database.Close(db)
			return nil, err
		}
		b.store = st
	default:
		database.Close(db)
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	return b, nil
}

func newAuth(cfg config.AuthConfig) (*middleware.AuthMiddleware, error) {
	if !cfg.Enabled {
		return middleware.NewTrustedHeaderMiddleware(cfg.TrustedHeader), nil
	}
	tokens, err := jwt.NewManager(cfg.JWTSecret, cfg.AccessDuration, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}
	return middleware.NewAuthMiddleware(tokens), nil
}
