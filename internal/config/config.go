// Package config loads the entitled server configuration from the environment.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/goentitle/pkg/billing/creem"
	"github.com/mihaimyh/goentitle/pkg/entitle"
)

// Storage backends accepted in STORAGE_BACKEND.
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
)

// Config holds all configuration for the entitled server.
type Config struct {
	ListenAddr      string        `validate:"required"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	LogLevel        string        `validate:"oneof=trace debug info warn error"`
	LogFormat       string        `validate:"oneof=json console"`

	MetricsNamespace string `validate:"required"`
	CircuitBreaker   bool

	CreemAPIKey        string
	CreemWebhookSecret string
	CreemBaseURL       string `validate:"required,http_url"`
	CreemTestMode      bool
	// Products maps plan keys to Creem product ids; unset plans are absent.
	Products map[string]string

	SuperVIPEmails []string

	StorageBackend   string `validate:"oneof=memory postgres redis firestore"`
	DatabaseURL      string `validate:"required_if=StorageBackend postgres"`
	AutoMigrate      bool
	RedisAddr        string `validate:"required_if=StorageBackend redis"`
	RedisPassword    string
	RedisDB          int    `validate:"gte=0"`
	FirestoreProject string `validate:"required_if=StorageBackend firestore"`

	SupabaseJWTSecret string
	AuthCookieName    string

	SiteURL string `validate:"omitempty,http_url"`

	OpenRouterAPIKey   string
	OpenRouterBaseURL  string `validate:"omitempty,http_url"`
	OpenRouterSiteURL  string
	OpenRouterSiteName string
	Models             entitle.ModelIDs
}

var validate = validator.New()

// Load reads configuration from the environment.
// A .env file is loaded if present but not required.
func Load() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from the process environment only.
func FromEnv() (*Config, error) {
	shutdown, err := envOrDefaultDuration("ENTITLE_SHUTDOWN_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	redisDB, err := envOrDefaultInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	testMode := os.Getenv("CREEM_TEST_MODE") == "1"
	baseURL, err := creem.ResolveBaseURL(os.Getenv("CREEM_BASE_URL"), testMode)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddr:         envOrDefault("ENTITLE_LISTEN_ADDR", ":8080"),
		ShutdownTimeout:    shutdown,
		LogLevel:           strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(envOrDefault("LOG_FORMAT", "json")),
		MetricsNamespace:   envOrDefault("METRICS_NAMESPACE", "goentitle"),
		CircuitBreaker:     envBool("STORAGE_CIRCUIT_BREAKER", true),
		CreemAPIKey:        strings.TrimSpace(os.Getenv("CREEM_API_KEY")),
		CreemWebhookSecret: strings.TrimSpace(os.Getenv("CREEM_WEBHOOK_SECRET")),
		CreemBaseURL:       baseURL,
		CreemTestMode:      testMode,
		Products:           productsFromEnv(),
		SuperVIPEmails:     splitList(os.Getenv("SUPER_VIP_EMAILS")),
		StorageBackend:     strings.ToLower(envOrDefault("STORAGE_BACKEND", BackendMemory)),
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		AutoMigrate:        envBool("DATABASE_AUTO_MIGRATE", false),
		RedisAddr:          strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            redisDB,
		FirestoreProject:   strings.TrimSpace(os.Getenv("FIRESTORE_PROJECT")),
		SupabaseJWTSecret:  strings.TrimSpace(os.Getenv("SUPABASE_JWT_SECRET")),
		AuthCookieName:     strings.TrimSpace(os.Getenv("AUTH_COOKIE_NAME")),
		SiteURL:            strings.TrimSpace(os.Getenv("NEXT_PUBLIC_SITE_URL")),
		OpenRouterAPIKey:   strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")),
		OpenRouterBaseURL:  strings.TrimSpace(os.Getenv("OPENROUTER_BASE_URL")),
		OpenRouterSiteURL:  strings.TrimSpace(os.Getenv("OPENROUTER_SITE_URL")),
		OpenRouterSiteName: envOrDefault("OPENROUTER_SITE_NAME", os.Getenv("NEXT_PUBLIC_SITE_NAME")),
		Models: entitle.ModelIDs{
			NanoBanana:     strings.TrimSpace(os.Getenv("NEXT_PUBLIC_OPENROUTER_MODEL_NANO_BANANA")),
			NanoBananaPro:  strings.TrimSpace(os.Getenv("NEXT_PUBLIC_OPENROUTER_MODEL_NANO_BANANA_PRO")),
			NanoBananaPlus: strings.TrimSpace(os.Getenv("NEXT_PUBLIC_OPENROUTER_MODEL_NANO_BANANA_PLUS")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints and that the override list is well formed.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := entitle.NewAllowList(c.SuperVIPEmails); err != nil {
		return fmt.Errorf("SUPER_VIP_EMAILS: %w", err)
	}
	return nil
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c *Config) NewLogger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if c.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// ProductEnvVar names the variable holding the Creem product id for a plan.
func ProductEnvVar(planKey string) string {
	return "CREEM_PRODUCT_ID_" + strings.ToUpper(planKey)
}

func productsFromEnv() map[string]string {
	products := make(map[string]string, len(entitle.PlanKeys))
	for _, plan := range entitle.PlanKeys {
		if v := strings.TrimSpace(os.Getenv(ProductEnvVar(plan))); v != "" {
			products[plan] = v
		}
	}
	return products
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' || r == ' ' || r == '\n' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}
