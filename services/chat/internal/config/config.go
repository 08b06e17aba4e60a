package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port              string   `yaml:"port"`
	LogLevel          string   `yaml:"logLevel"`
	Timezone          string   `yaml:"timezone"`
	AllowedOrigins    []string `yaml:"allowedOrigins"`
	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`

	// Remote store of record: none, http, postgres or memory.
	RemoteBackend       string `yaml:"remoteBackend"`
	StoreRESTURL        string `yaml:"storeRestURL"`
	StoreAPIKey         string `yaml:"storeAPIKey"`
	DatabaseURL         string `yaml:"databaseURL"`
	StoreTimeoutSeconds int    `yaml:"storeTimeoutSeconds"`
	BreakerFailures     int    `yaml:"breakerFailures"`
	BreakerOpenSeconds  int    `yaml:"breakerOpenSeconds"`

	// Local fallback area: pebble, redis or memory.
	LocalBackend  string `yaml:"localBackend"`
	LocalPath     string `yaml:"localPath"`
	LocalScopeKey string `yaml:"localScopeKey"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisPrefix   string `yaml:"redisPrefix"`

	// Text generation: gemini, ollama or openai-compat.
	GenerationProvider       string `yaml:"generationProvider"`
	GenerationBaseURL        string `yaml:"generationBaseURL"`
	GenerationAPIKey         string `yaml:"generationAPIKey"`
	GenerationModel          string `yaml:"generationModel"`
	GenerationTimeoutSeconds int    `yaml:"generationTimeoutSeconds"`
	SystemPrompt             string `yaml:"systemPrompt"`
	GeminiAPIKey             string `yaml:"geminiAPIKey"`
	GeminiBaseURL            string `yaml:"geminiBaseURL"`

	// Image generation: none, huggingface or gemini.
	ImageProvider string `yaml:"imageProvider"`
	ImageBaseURL  string `yaml:"imageBaseURL"`
	ImageModel    string `yaml:"imageModel"`
	HFAPIKey      string `yaml:"hfAPIKey"`

	// Object storage for generated images. Empty endpoint inlines images.
	ObjectStoreEndpoint   string `yaml:"objectStoreEndpoint"`
	ObjectStoreAccessKey  string `yaml:"objectStoreAccessKey"`
	ObjectStoreSecretKey  string `yaml:"objectStoreSecretKey"`
	ObjectStoreBucket     string `yaml:"objectStoreBucket"`
	ObjectStoreUseSSL     bool   `yaml:"objectStoreUseSSL"`
	ImageURLExpirySeconds int    `yaml:"imageURLExpirySeconds"`

	// Token hand-off. Empty idpJwksURL disables sign-in.
	IDPJWKSURL        string `yaml:"idpJwksURL"`
	IDPIssuer         string `yaml:"idpIssuer"`
	IDPAudience       string `yaml:"idpAudience"`
	StoreJWTSecret    string `yaml:"storeJWTSecret"`
	StoreJWTIssuer    string `yaml:"storeJWTIssuer"`
	SessionTTLSeconds int    `yaml:"sessionTTLSeconds"`

	TurnRateLimitPerMinute int `yaml:"turnRateLimitPerMinute"`
}

// StoreTimeout returns the per-call store deadline.
func (c FileConfig) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

// GenerationTimeout returns the per-call generation deadline.
func (c FileConfig) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutSeconds) * time.Second
}

// Location returns the display time zone.
func (c FileConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads config from path (defaults to config.yaml), applies environment
// overrides and defaults, then validates.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	overrides := map[string]*string{
		"PORT":                    &cfg.Port,
		"LOG_LEVEL":               &cfg.LogLevel,
		"GEMINI_API_KEY":          &cfg.GeminiAPIKey,
		"HF_API_KEY":              &cfg.HFAPIKey,
		"GENERATION_API_KEY":      &cfg.GenerationAPIKey,
		"STORE_REST_URL":          &cfg.StoreRESTURL,
		"STORE_API_KEY":           &cfg.StoreAPIKey,
		"DATABASE_URL":            &cfg.DatabaseURL,
		"STORE_JWT_SECRET":        &cfg.StoreJWTSecret,
		"REDIS_ADDR":              &cfg.RedisAddr,
		"REDIS_PASSWORD":          &cfg.RedisPassword,
		"OBJECT_STORE_ACCESS_KEY": &cfg.ObjectStoreAccessKey,
		"OBJECT_STORE_SECRET_KEY": &cfg.ObjectStoreSecretKey,
	}
	for env, field := range overrides {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*field = v
		}
	}
	if v := os.Getenv("TURN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.TurnRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	setDefault := func(field *string, value string) {
		*field = strings.TrimSpace(*field)
		if *field == "" {
			*field = value
		}
	}
	setDefault(&cfg.LogLevel, "info")
	setDefault(&cfg.Timezone, "UTC")
	setDefault(&cfg.RemoteBackend, "none")
	setDefault(&cfg.LocalBackend, "pebble")
	setDefault(&cfg.LocalPath, "data/local")
	setDefault(&cfg.LocalScopeKey, "pocketchat_messages")
	setDefault(&cfg.RedisPrefix, "pocketchat")
	setDefault(&cfg.GenerationProvider, "gemini")
	setDefault(&cfg.ImageProvider, "none")
	setDefault(&cfg.ObjectStoreBucket, "pocketchat-images")
	setDefault(&cfg.StoreJWTIssuer, "pocketchat")
	cfg.RemoteBackend = strings.ToLower(cfg.RemoteBackend)
	cfg.LocalBackend = strings.ToLower(cfg.LocalBackend)
	cfg.GenerationProvider = strings.ToLower(cfg.GenerationProvider)
	cfg.ImageProvider = strings.ToLower(cfg.ImageProvider)
	if cfg.GenerationProvider == "gemini" && strings.TrimSpace(cfg.GenerationModel) == "" {
		cfg.GenerationModel = "gemini-1.5-flash"
	}
	if cfg.ImageProvider == "gemini" && strings.TrimSpace(cfg.ImageModel) == "" {
		cfg.ImageModel = "gemini-2.0-flash"
	}
	if cfg.StoreTimeoutSeconds <= 0 {
		cfg.StoreTimeoutSeconds = 30
	}
	if cfg.GenerationTimeoutSeconds <= 0 {
		cfg.GenerationTimeoutSeconds = 30
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenSeconds <= 0 {
		cfg.BreakerOpenSeconds = 30
	}
	if cfg.SessionTTLSeconds <= 0 {
		cfg.SessionTTLSeconds = 3600
	}
	if cfg.ImageURLExpirySeconds <= 0 {
		cfg.ImageURLExpirySeconds = 900
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("config: invalid timezone %q: %w", cfg.Timezone, err)
	}
	switch cfg.RemoteBackend {
	case "none", "memory":
	case "http":
		if cfg.StoreRESTURL == "" {
			return errors.New("config: storeRestURL is required for remoteBackend http (or STORE_REST_URL)")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for remoteBackend postgres (or DATABASE_URL)")
		}
	default:
		return fmt.Errorf("config: unknown remoteBackend %q", cfg.RemoteBackend)
	}
	switch cfg.LocalBackend {
	case "pebble", "memory":
	case "redis":
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required for localBackend redis (or REDIS_ADDR)")
		}
	default:
		return fmt.Errorf("config: unknown localBackend %q", cfg.LocalBackend)
	}
	switch cfg.GenerationProvider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return errors.New("config: geminiAPIKey is required (set in config.yaml or GEMINI_API_KEY)")
		}
	case "ollama":
		if cfg.GenerationModel == "" {
			return errors.New("config: generationModel is required for ollama")
		}
	case "openai-compat":
		if cfg.GenerationBaseURL == "" || cfg.GenerationModel == "" {
			return errors.New("config: generationBaseURL and generationModel are required for openai-compat")
		}
	default:
		return fmt.Errorf("config: unknown generationProvider %q", cfg.GenerationProvider)
	}
	switch cfg.ImageProvider {
	case "none":
	case "huggingface":
		if cfg.HFAPIKey == "" {
			return errors.New("config: hfAPIKey is required for imageProvider huggingface (or HF_API_KEY)")
		}
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return errors.New("config: geminiAPIKey is required for imageProvider gemini")
		}
	default:
		return fmt.Errorf("config: unknown imageProvider %q", cfg.ImageProvider)
	}
	if cfg.IDPJWKSURL != "" {
		if cfg.IDPIssuer == "" || cfg.IDPAudience == "" {
			return errors.New("config: idpIssuer and idpAudience are required when idpJwksURL is set")
		}
		if cfg.StoreJWTSecret == "" {
			return errors.New("config: storeJWTSecret is required when idpJwksURL is set (or STORE_JWT_SECRET)")
		}
	}
	if cfg.TurnRateLimitPerMinute < 0 {
		return errors.New("config: turnRateLimitPerMinute must not be negative")
	}
	if cfg.TurnRateLimitPerMinute > 0 && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when turnRateLimitPerMinute is set")
	}
	return nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
