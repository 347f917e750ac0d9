package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"realtime-chat/internal/auth"
	"realtime-chat/internal/chat"
	"realtime-chat/internal/notify"
	"realtime-chat/internal/presence"
	"realtime-chat/internal/server"
	"realtime-chat/internal/storage"
)

// appConfig defines fields parsed from environment variables
type appConfig struct {
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	JWTSecret      string        `env:"JWT_SECRET,required"`
	DBTimeout      time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"30s"`
	DBMaxConns     int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`

	Server server.EnvConfig
	DB     storage.Config
	NATS   notify.Config
}

type notifier interface {
	chat.Notifier
	Close() error
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("godotenv.Load: %v", err)
	}

	cfg := appConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("Cannot parse env config: %v", err)
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Bad LOG_LEVEL: %v", err)
	}
	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Level = level
	logger, err := zapCfg.Build()
	if err != nil {
		log.Fatalf("zap.Build: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	store, err := storage.New(context.Background(), sugar, cfg.DB,
		storage.ConnectionTimeout(cfg.DBTimeout),
		storage.MaxConns(cfg.DBMaxConns),
	)
	if err != nil {
		sugar.Fatalf("Cannot create Store instance: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		sugar.Fatalf("Cannot apply schema: %v", err)
	}

	var events notifier = notify.Nop{}
	if cfg.NATS.URL != "" {
		n, err := notify.Connect(sugar, cfg.NATS)
		if err != nil {
			sugar.Fatalf("Cannot connect to NATS: %v", err)
		}
		events = n
	} else {
		sugar.Info("NATS_URL is not set, offline notifications are dropped")
	}

	registry := presence.NewRegistry(sugar)
	service := chat.NewService(sugar, store, store, registry, events)

	serverOpts := []server.Option{
		server.WithEnvConfig(cfg.Server),
		server.TimeoutHandler(cfg.RequestTimeout, "Request timed out"),
		server.RegisterAfterShutdown(registry.Close),
		server.RegisterAfterShutdown(func() {
			sugar.Info("Closing notifier")
			if err := events.Close(); err != nil {
				sugar.Errorf("Notifier close: %v", err)
			}
		}),
		server.RegisterAfterShutdown(func() {
			sugar.Info("Closing store")
			store.Close()
			sugar.Info("Store is closed")
		}),
	}

	srv, err := server.NewServer(sugar, service, auth.NewVerifier([]byte(cfg.JWTSecret)), serverOpts...)
	if err != nil {
		sugar.Fatalf("Cannot create Server instance: %v", err)
	}

	if err := srv.Start(); err != nil {
		sugar.Fatalf("Cannot start http srv: %v", err)
	}
}
