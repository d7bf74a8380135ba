package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/wfplatform/chat-service/internal/api"
	"github.com/wfplatform/chat-service/internal/config"
	"github.com/wfplatform/chat-service/internal/events"
	"github.com/wfplatform/chat-service/internal/identity"
	"github.com/wfplatform/chat-service/internal/pipeline"
	"github.com/wfplatform/chat-service/internal/presence"
	"github.com/wfplatform/chat-service/internal/server"
	"github.com/wfplatform/chat-service/internal/stats"
	"github.com/wfplatform/chat-service/internal/store"
)

var (
	configPath string
	addr       string
	dsn        string
	signingKey string
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to TOML config file")
	flag.StringVar(&addr, "addr", "", "server address")
	flag.StringVar(&dsn, "dsn", "", "database connection string")
	flag.StringVar(&signingKey, "signing-key", "", "base64 encoded signing key")
	flag.Parse()

	cfg, err := config.NewConfig(configPath, addr, dsn, signingKey)
	if err != nil {
		log.Fatal("config: ", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatal("logger: ", err)
	}
	defer logger.Sync()

	db, err := store.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatalw("db open", "err", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Errorw("db close", "err", err)
		}
	}()

	if err := db.Migrate(); err != nil {
		logger.Fatalw("migrate", "err", err)
	}

	var presenceStore presence.Store
	if cfg.RedisAddr != "" {
		presenceStore, err = presence.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.PresenceTTL)
		if err != nil {
			logger.Fatalw("redis", "err", err)
		}
	} else {
		logger.Warn("no redis address configured, using in-process presence store")
		presenceStore = presence.NewMemoryStore(cfg.PresenceTTL)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.KafkaAddr != "" {
		publisher = events.NewKafkaPublisher(cfg.KafkaAddr, cfg.KafkaTopic)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Errorw("publisher close", "err", err)
		}
	}()

	statsUpdater := stats.NewUpdater()

	registry := server.NewRegistry(logger, db, presenceStore, statsUpdater, cfg.HeartbeatInterval, cfg.OfflineGrace)
	hub := server.NewHub(logger, registry, statsUpdater)

	pl := pipeline.New(db, hub, publisher, pipeline.Policy{
		MaxContentBytes:    cfg.MaxContentBytes,
		MaxAttachmentBytes: int64(cfg.MaxAttachmentBytes),
	}, logger)
	hub.BindPipeline(pl)

	verifier := identity.NewJWTVerifier([]byte(cfg.SigningKey))

	app := api.NewChatApp(logger, hub, registry, verifier, cfg)

	go registry.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Infow("received signal", "signal", sig.String())
	case err := <-errCh:
		logger.Errorw("server", "err", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := app.Shutdown(shutDownCtx); err != nil {
		logger.Errorw("HTTP server shutdown", "err", err)
	}

	logger.Info("shutting down messaging core")
	registry.Shutdown()
	hub.Shutdown()

	logger.Info("shutdown complete")
}
