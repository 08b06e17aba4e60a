package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pocketchat/internal/metrics"
	"pocketchat/internal/usertoken"
	"pocketchat/pkg/ai"
	"pocketchat/pkg/localstore"
	"pocketchat/pkg/session"
	"pocketchat/pkg/storage"
	"pocketchat/pkg/store"
	"pocketchat/services/chat/internal/config"
)

func newRemoteStore(cfg config.FileConfig, m *metrics.Metrics) (store.RemoteStore, error) {
	var next store.RemoteStore
	switch cfg.RemoteBackend {
	case "none":
		return nil, nil
	case "memory":
		next = store.NewMemoryStore()
	case "http":
		s, err := store.NewHTTPStore(cfg.StoreRESTURL, cfg.StoreAPIKey)
		if err != nil {
			return nil, err
		}
		next = s
	case "postgres":
		s, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		next = s
	default:
		return nil, fmt.Errorf("unknown remote backend %q", cfg.RemoteBackend)
	}
	return store.NewBreakerStore(next, store.BreakerConfig{
		Name:                "remote-" + cfg.RemoteBackend,
		ConsecutiveFailures: uint32(cfg.BreakerFailures),
		OpenTimeout:         time.Duration(cfg.BreakerOpenSeconds) * time.Second,
		OnStateChange:       m.ObserveBreaker,
	}), nil
}

func newLocalStore(cfg config.FileConfig, client *redis.Client) (*localstore.Store, func(), error) {
	noop := func() {}
	var kv localstore.KV
	closeKV := noop
	switch cfg.LocalBackend {
	case "memory":
		kv = localstore.NewMemoryKV()
	case "pebble":
		p, err := localstore.OpenPebbleKV(cfg.LocalPath)
		if err != nil {
			return nil, noop, err
		}
		kv = p
		closeKV = func() { _ = p.Close() }
	case "redis":
		if client == nil {
			return nil, noop, errors.New("redis client required")
		}
		r, err := localstore.NewRedisKV(client, cfg.RedisPrefix+":local")
		if err != nil {
			return nil, noop, err
		}
		kv = r
	default:
		return nil, noop, fmt.Errorf("unknown local backend %q", cfg.LocalBackend)
	}
	s, err := localstore.New(kv)
	if err != nil {
		closeKV()
		return nil, noop, err
	}
	return s, closeKV, nil
}

func newTextGenerator(cfg config.FileConfig) (ai.TextGenerator, error) {
	switch cfg.GenerationProvider {
	case "gemini":
		client, err := ai.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiBaseURL)
		if err != nil {
			return nil, err
		}
		return ai.NewGeminiGenerator(client, cfg.GenerationModel), nil
	case "ollama":
		return ai.NewOllamaGenerator(cfg.GenerationBaseURL, cfg.GenerationModel), nil
	case "openai-compat":
		return ai.NewOpenAICompatGenerator(cfg.GenerationBaseURL, cfg.GenerationAPIKey, cfg.GenerationModel), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.GenerationProvider)
	}
}

// newImageGenerator returns nil when image generation is off; image prompts
// then get the failure reply.
func newImageGenerator(cfg config.FileConfig) (ai.ImageGenerator, error) {
	switch cfg.ImageProvider {
	case "none":
		return nil, nil
	case "huggingface":
		return ai.NewHuggingFaceImageGenerator(cfg.ImageBaseURL, cfg.HFAPIKey, cfg.ImageModel)
	case "gemini":
		client, err := ai.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiBaseURL)
		if err != nil {
			return nil, err
		}
		return ai.NewGeminiImageGenerator(client, cfg.ImageModel), nil
	default:
		return nil, fmt.Errorf("unknown image provider %q", cfg.ImageProvider)
	}
}

func newImageRefs(ctx context.Context, cfg config.FileConfig) (storage.ImageRefs, error) {
	if cfg.ObjectStoreEndpoint == "" {
		return storage.DataURIRefs{}, nil
	}
	objects, err := storage.NewMinioStore(ctx, storage.MinioConfig{
		Endpoint:  cfg.ObjectStoreEndpoint,
		AccessKey: cfg.ObjectStoreAccessKey,
		SecretKey: cfg.ObjectStoreSecretKey,
		Bucket:    cfg.ObjectStoreBucket,
		UseSSL:    cfg.ObjectStoreUseSSL,
	})
	if err != nil {
		return nil, err
	}
	return storage.NewObjectImageRefs(objects, time.Duration(cfg.ImageURLExpirySeconds)*time.Second)
}

// newSessions always returns a holder; the exchanger is nil when no identity
// provider is configured.
func newSessions(cfg config.FileConfig) (*session.Holder, *session.Exchanger, error) {
	holder := session.NewHolder()
	if cfg.IDPJWKSURL == "" {
		return holder, nil, nil
	}
	verifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  cfg.IDPJWKSURL,
		Issuer:   cfg.IDPIssuer,
		Audience: cfg.IDPAudience,
	})
	if err != nil {
		return nil, nil, err
	}
	exchanger, err := session.NewExchanger(session.ExchangerConfig{
		Verifier: verifier,
		Secret:   cfg.StoreJWTSecret,
		Issuer:   cfg.StoreJWTIssuer,
		TTL:      time.Duration(cfg.SessionTTLSeconds) * time.Second,
	}, holder)
	if err != nil {
		return nil, nil, err
	}
	return holder, exchanger, nil
}
