package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"chatserver/internal/app"
	"chatserver/internal/bridge"
	"chatserver/internal/config"
	"chatserver/internal/ratelimit"
	"chatserver/internal/realtime"
	"chatserver/internal/server"
	"chatserver/internal/util"
	"chatserver/pkg/auth"
	"chatserver/pkg/storage"
	"chatserver/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to init store", "err", err)
	}

	msgBridge, err := newBridge(cfg)
	if err != nil {
		util.Fatal("failed to init bridge", "err", err)
	}
	defer msgBridge.Close()

	jwtTTL, err := config.ParseJWTTTL(cfg.JWT.TTL)
	if err != nil {
		util.Fatal("failed to parse jwt ttl", "err", err)
	}
	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		TTL:      jwtTTL,
	})
	if err != nil {
		util.Fatal("failed to init token manager", "err", err)
	}

	var revoker store.TokenRevoker
	if cfg.Redis.Addr != "" {
		revoker = store.NewRedisTokenRevoker(cfg.Redis.Addr, cfg.Redis.Password)
	} else {
		revoker = store.NewMemoryTokenRevoker()
	}

	appCore, err := app.New(app.Config{
		Store:   st,
		Bridge:  msgBridge,
		Tokens:  tokens,
		Revoker: revoker,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	hub := realtime.NewHub()
	defer hub.Close()

	// Relay bridge events into the local hub. Every instance receives every
	// message and fans it out to its own subscribed connections.
	err = msgBridge.Subscribe(context.Background(), func(ev bridge.Event) {
		payload, err := server.MarshalEvent(ev)
		if err != nil {
			slog.Error("marshal bridge event", "err", err)
			return
		}
		hub.Broadcast(ev.RoomID, payload)
	})
	if err != nil {
		util.Fatal("failed to subscribe bridge", "err", err)
	}

	var attachments storage.AttachmentStore
	if cfg.Storage.Endpoint != "" {
		attachments, err = storage.NewMinioStore(
			cfg.Storage.Endpoint,
			cfg.Storage.AccessKey,
			cfg.Storage.SecretKey,
			cfg.Storage.Bucket,
			cfg.Storage.UseSSL,
		)
		if err != nil {
			util.Fatal("failed to init attachment storage", "err", err)
		}
	}

	loginLimiter := newLimiter(cfg, cfg.RateLimit.LoginPerMinute)
	publishLimiter := newLimiter(cfg, cfg.RateLimit.PublishPerMinute)

	httpServer := server.New(server.Config{
		App:            appCore,
		Hub:            hub,
		Attachments:    attachments,
		LoginLimiter:   loginLimiter,
		PublishLimiter: publishLimiter,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("chat server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

func newBridge(cfg config.FileConfig) (bridge.Bridge, error) {
	switch cfg.Bridge.Driver {
	case "amqp":
		return bridge.NewAMQPBridge(cfg.Bridge.AMQPURL, cfg.Bridge.Exchange)
	default:
		return bridge.NewRedisBridge(cfg.Redis.Addr, cfg.Redis.Password, cfg.Bridge.Channel)
	}
}

func newLimiter(cfg config.FileConfig, perMinute int) *ratelimit.FixedWindowLimiter {
	if perMinute <= 0 || cfg.Redis.Addr == "" {
		return nil
	}
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.Redis.Addr, cfg.Redis.Password, "", perMinute, time.Minute)
	if err != nil {
		util.Fatal("failed to init rate limiter", "err", err)
	}
	return limiter
}
