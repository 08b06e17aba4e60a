package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"pocketchat/internal/metrics"
	"pocketchat/internal/ratelimit"
	"pocketchat/internal/util"
	"pocketchat/pkg/chatsync"
	"pocketchat/services/chat/internal/app"
	"pocketchat/services/chat/internal/config"
	"pocketchat/services/chat/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
	}

	remote, err := newRemoteStore(cfg, m)
	if err != nil {
		util.Fatal("failed to init remote store", "backend", cfg.RemoteBackend, "err", err)
	}
	local, closeLocal, err := newLocalStore(cfg, redisClient)
	if err != nil {
		util.Fatal("failed to init local store", "backend", cfg.LocalBackend, "err", err)
	}
	defer closeLocal()

	textGen, err := newTextGenerator(cfg)
	if err != nil {
		util.Fatal("failed to init text generator", "provider", cfg.GenerationProvider, "err", err)
	}
	imageGen, err := newImageGenerator(cfg)
	if err != nil {
		util.Fatal("failed to init image generator", "provider", cfg.ImageProvider, "err", err)
	}
	imageRefs, err := newImageRefs(ctx, cfg)
	if err != nil {
		util.Fatal("failed to init image storage", "err", err)
	}

	holder, exchanger, err := newSessions(cfg)
	if err != nil {
		util.Fatal("failed to init sign-in", "err", err)
	}

	engine, err := chatsync.New(chatsync.Config{
		Remote:       remote,
		Local:        local,
		Sessions:     holder,
		ScopeKey:     cfg.LocalScopeKey,
		StoreTimeout: cfg.StoreTimeout(),
		Observer:     m,
		Logger:       logger,
	})
	if err != nil {
		util.Fatal("failed to init sync engine", "err", err)
	}

	appCore, err := app.New(app.Config{
		Transcript:        engine,
		Text:              textGen,
		Images:            imageGen,
		ImageRefs:         imageRefs,
		Sessions:          holder,
		Exchanger:         exchanger,
		SystemPrompt:      cfg.SystemPrompt,
		GenerationTimeout: cfg.GenerationTimeout(),
		Location:          cfg.Location(),
		Observer:          m,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.TurnRateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewFixedWindowLimiter(redisClient, ratelimit.Options{
			Prefix: cfg.RedisPrefix + ":ratelimit:turns",
			Limit:  cfg.TurnRateLimitPerMinute,
			Window: time.Minute,
		})
		if err != nil {
			util.Fatal("failed to init turn rate limiter", "err", err)
		}
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal("invalid trustedProxyCidrs", "err", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Limiter:        limiter,
		TrustedProxies: trusted,
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        m,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	// Warm the transcript so the first GET does not pay for it.
	logger.Info("transcript loaded", "entries", len(engine.LoadTranscript(ctx)))

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.StoreTimeout()*2 + cfg.GenerationTimeout() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	logger.Info("chat server listening", "addr", addr, "remote", cfg.RemoteBackend, "local", cfg.LocalBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
