package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-chat/internal/cache"
	"github.com/weiawesome/wes-io-chat/internal/config"
	"github.com/weiawesome/wes-io-chat/internal/consumer"
	"github.com/weiawesome/wes-io-chat/internal/handler"
	"github.com/weiawesome/wes-io-chat/internal/hub"
	"github.com/weiawesome/wes-io-chat/internal/kafka"
	"github.com/weiawesome/wes-io-chat/internal/presence"
	"github.com/weiawesome/wes-io-chat/internal/room"
	"github.com/weiawesome/wes-io-chat/internal/service"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log)
	l := log.L()
	l.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting chat service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence
	be, err := openBackend(cfg)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to open storage backend")
	}
	defer be.Close()
	l.Info().Str("store", cfg.Store.Driver).Str("database", cfg.Database.Driver).Msg("storage ready")

	// History cache
	var historyCache cache.HistoryCache = cache.NoopHistoryCache{}
	if cfg.Cache.Enabled {
		rc, err := cache.NewRedisHistoryCache(cfg.Redis, cfg.Cache.Prefix)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to initialize history cache")
		}
		defer rc.Close()
		historyCache = rc
		l.Info().Str("address", cfg.Redis.Address).Msg("history cache connected")
	}

	// Presence
	var trackerOpts []presence.Option
	var mirror *presence.RedisMirror
	if cfg.Presence.MirrorEnabled {
		mirror, err = presence.NewRedisMirror(cfg.Redis, cfg.Presence)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to initialize presence mirror")
		}
		defer mirror.Close()
		mirror.Start(ctx)
		trackerOpts = append(trackerOpts, presence.WithMirror(mirror))
	}
	tracker := presence.NewTracker(trackerOpts...)
	presenceReader := service.TrackerPresence(tracker)
	if mirror != nil {
		presenceReader = mirror
	}

	// Kafka
	var producer kafka.EventProducer = kafka.NoopProducer{}
	if cfg.Kafka.Enabled {
		p, err := kafka.NewConfluentProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to initialize kafka producer")
		}
		defer p.Close()
		producer = p

		profiles, err := consumer.NewConfluentConsumer(cfg.Kafka.Brokers, cfg.Kafka.ProfileTopic, cfg.Kafka.GroupID, be.directory)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to initialize profile consumer")
		}
		if err := profiles.Start(ctx); err != nil {
			l.Fatal().Err(err).Msg("failed to start profile consumer")
		}
		defer func() {
			cancel()
			profiles.Close()
		}()
		l.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("connected to kafka")
	}

	auth, err := newAuth(cfg.Auth)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to initialize authentication")
	}

	// Rooms and connections
	rooms := room.NewManager(be.registry, be.store, tracker, room.WithEventProducer(producer))
	wsHub := hub.NewHub()
	go wsHub.Run()

	chatSvc := service.NewChatService(be.registry, be.store, historyCache, cfg.Cache.TTL, be.directory, presenceReader)

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), log.GinMiddleware(l))

	handler.NewWSHandler(wsHub, rooms, auth, cfg.WebSocket).RegisterRoutes(r)
	handler.NewHTTPHandler(chatSvc, auth, wsHub, rooms).RegisterRoutes(r)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		l.Info().Str("addr", server.Addr).Msg("chat service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info().Msg("shutting down chat service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("server forced to shutdown")
	}
	// Upgraded connections are not tracked by the http server.
	rooms.Shutdown(shutdownCtx)
	wsHub.Stop()

	l.Info().Msg("chat service stopped")
}
