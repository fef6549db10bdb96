package infra

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv        string `envconfig:"APP_ENV" default:"development"`
	Port          string `envconfig:"PORT" default:"8080"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`
	SigningSecret string `envconfig:"SIGNING_SECRET"`

	DatabaseURL string `envconfig:"DATABASE_URL"`
	RedisURL    string `envconfig:"REDIS_URL"`

	StorageEndpoint  string `envconfig:"STORAGE_ENDPOINT"`
	StorageRegion    string `envconfig:"STORAGE_REGION" default:"us-east-1"`
	StorageAccessKey string `envconfig:"STORAGE_ACCESS_KEY"`
	StorageSecretKey string `envconfig:"STORAGE_SECRET_KEY"`
	StorageUseSSL    bool   `envconfig:"STORAGE_USE_SSL" default:"true"`
	StoragePublicURL string `envconfig:"STORAGE_PUBLIC_URL"`
	FacesBucket      string `envconfig:"FACES_BUCKET" default:"faces"`
	ResultsBucket    string `envconfig:"RESULTS_BUCKET" default:"results"`
	TemplatesBucket  string `envconfig:"TEMPLATES_BUCKET" default:"templates"`

	ReplicateAPIToken    string `envconfig:"REPLICATE_API_TOKEN"`
	ReplicateBaseURL     string `envconfig:"REPLICATE_BASE_URL" default:"https://api.replicate.com/v1"`
	FaceSwapModelVersion string `envconfig:"FACESWAP_MODEL_VERSION" default:"9f15898c2cd6e85e9e5807f2ead2d5c7f0f2c285c3e7a42e1f0e2028acdf9e76"`

	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	PaymentsMarkPaid    bool   `envconfig:"PAYMENTS_MARK_PAID" default:"false"`

	TemplateCheckReachable bool `envconfig:"TEMPLATE_CHECK_REACHABLE" default:"false"`
	FaceMaxDimension       int  `envconfig:"FACE_MAX_DIMENSION" default:"1024"`

	InferenceTimeout     time.Duration `envconfig:"INFERENCE_TIMEOUT" default:"120s"`
	TemplateCheckTimeout time.Duration `envconfig:"TEMPLATE_CHECK_TIMEOUT" default:"5s"`
	ResultFetchTimeout   time.Duration `envconfig:"RESULT_FETCH_TIMEOUT" default:"60s"`
	SignedURLTTL         time.Duration `envconfig:"SIGNED_URL_TTL" default:"720h"`
	IdempotencyTTL       time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	HTTPReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	HTTPWriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"180s"`
	HTTPIdleTimeout  time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	RateLimitPerMin    int      `envconfig:"RATE_LIMIT_PER_MINUTE" default:"10"`
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.StorageEndpoint = NormalizeEndpoint(cfg.StorageEndpoint)
	cfg.CORSAllowedOrigins = trimList(cfg.CORSAllowedOrigins)

	if cfg.StorageEndpoint == "" {
		return nil, fmt.Errorf("STORAGE_ENDPOINT is required")
	}
	if cfg.StorageAccessKey == "" || cfg.StorageSecretKey == "" {
		return nil, fmt.Errorf("STORAGE_ACCESS_KEY and STORAGE_SECRET_KEY are required")
	}
	if cfg.ReplicateAPIToken == "" {
		return nil, fmt.Errorf("REPLICATE_API_TOKEN is required")
	}
	if cfg.StripeWebhookSecret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	if cfg.SigningSecret == "" {
		return nil, fmt.Errorf("SIGNING_SECRET is required")
	}
	if cfg.InferenceTimeout <= 0 {
		return nil, fmt.Errorf("INFERENCE_TIMEOUT must be positive")
	}
	if cfg.HTTPWriteTimeout <= cfg.InferenceTimeout {
		// The response must outlive the slowest inference call.
		cfg.HTTPWriteTimeout = cfg.InferenceTimeout + cfg.ResultFetchTimeout
	}

	return &cfg, nil
}

// NormalizeEndpoint strips a scheme and trailing slash; minio-go expects host[:port].
func NormalizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "https://")
	raw = strings.TrimPrefix(raw, "http://")
	return strings.TrimRight(raw, "/")
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
