// Package config loads process-wide settings from the environment. The
// resulting Config is built once at startup and handed to constructors.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	Storage   StorageConfig
	OpenAI    OpenAIConfig
	Stripe    StripeConfig
	GitHub    GitHubConfig
	Deploy    DeployConfig
	Wormhole  WormholeConfig
	Auth      AuthConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Telemetry TelemetryConfig
	Uploads   UploadConfig

	ProfilePath string
}

// StorageConfig selects and configures the object store backend.
type StorageConfig struct {
	Type        string // fs | memory | s3 | gcs | sql
	DataDir     string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3Prefix    string
	GCSBucket   string
	GCSPrefix   string
	DatabaseURL string // sql backend; empty selects sqlite under DataDir
}

type OpenAIConfig struct {
	APIKey          string
	Model           string
	BaseURL         string
	ClassifyTimeout time.Duration
}

type StripeConfig struct {
	SecretKey  string
	BaseURL    string
	Currency   string
	SuccessURL string // checkout redirect; may contain {CHECKOUT_SESSION_ID}
	CancelURL  string
}

type GitHubConfig struct {
	Token        string
	Owner        string
	Repo         string
	Branch       string
	APIBase      string
	LocalRoot    string
	AllowedPaths []string
}

type DeployConfig struct {
	NetlifyToken string
	SiteID       string
	APIBase      string
	HookURL      string
}

type WormholeConfig struct {
	TokenSecret string
	Policy      []string // CEL expressions over `action`
}

type AuthConfig struct {
	JWTSecret string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	RPS           int
	Burst         int
	PrivilegedRPM int
}

type TelemetryConfig struct {
	Endpoint string
	Insecure bool
}

type UploadConfig struct {
	MaxBytes     int64
	AllowedTypes []string
}

// Load loads configuration from environment variables.
func Load() *Config {
	dataDir := envOr("DATA_DIR", "data")

	port := envOr("PORT", "8080")
	publicURL := strings.TrimRight(envOr("PUBLIC_URL", "http://localhost:"+port), "/")
	return &Config{
		Port:      port,
		LogLevel:  strings.ToUpper(envOr("LOG_LEVEL", "INFO")),
		LogFormat: envOr("LOG_FORMAT", "text"),
		Storage: StorageConfig{
			Type:        envOr("ARTIFACT_STORAGE_TYPE", "fs"),
			DataDir:     dataDir,
			S3Bucket:    os.Getenv("ARTIFACT_S3_BUCKET"),
			S3Region:    envOr("ARTIFACT_S3_REGION", envOr("AWS_REGION", "us-east-1")),
			S3Endpoint:  os.Getenv("ARTIFACT_S3_ENDPOINT"),
			S3Prefix:    os.Getenv("ARTIFACT_S3_PREFIX"),
			GCSBucket:   os.Getenv("ARTIFACT_GCS_BUCKET"),
			GCSPrefix:   os.Getenv("ARTIFACT_GCS_PREFIX"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		OpenAI: OpenAIConfig{
			APIKey:          os.Getenv("OPENAI_API_KEY"),
			Model:           envOr("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL:         os.Getenv("OPENAI_BASE_URL"),
			ClassifyTimeout: envDuration("CLASSIFY_TIMEOUT", 8*time.Second),
		},
		Stripe: StripeConfig{
			SecretKey:  os.Getenv("STRIPE_SECRET_KEY"),
			BaseURL:    envOr("STRIPE_API_BASE", "https://api.stripe.com"),
			Currency:   envOr("STRIPE_CURRENCY", "usd"),
			SuccessURL: envOr("STRIPE_SUCCESS_URL", publicURL+"/checkout/success?session_id={CHECKOUT_SESSION_ID}"),
			CancelURL:  envOr("STRIPE_CANCEL_URL", publicURL+"/checkout/cancel"),
		},
		GitHub: GitHubConfig{
			Token:        os.Getenv("GITHUB_TOKEN"),
			Owner:        os.Getenv("GITHUB_OWNER"),
			Repo:         os.Getenv("GITHUB_REPO"),
			Branch:       envOr("GITHUB_BRANCH", "main"),
			APIBase:      envOr("GITHUB_API_BASE", "https://api.github.com"),
			LocalRoot:    envOr("REPO_LOCAL_ROOT", "."),
			AllowedPaths: envList("REPO_ALLOWED_PATHS", []string{"**"}),
		},
		Deploy: DeployConfig{
			NetlifyToken: os.Getenv("NETLIFY_TOKEN"),
			SiteID:       os.Getenv("NETLIFY_SITE_ID"),
			APIBase:      envOr("NETLIFY_API_BASE", "https://api.netlify.com/api/v1"),
			HookURL:      os.Getenv("DEPLOY_HOOK_URL"),
		},
		Wormhole: WormholeConfig{
			TokenSecret: os.Getenv("WORMHOLE_TOKEN_SECRET"),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("AUTH_JWT_SECRET"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			RPS:           envInt("RATE_LIMIT_RPS", 10),
			Burst:         envInt("RATE_LIMIT_BURST", 20),
			PrivilegedRPM: envInt("PRIVILEGED_RPM", 30),
		},
		Telemetry: TelemetryConfig{
			Endpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure: os.Getenv("OTEL_INSECURE") == "true",
		},
		Uploads: UploadConfig{
			MaxBytes: int64(envInt("UPLOAD_MAX_BYTES", 20<<20)),
		},
		ProfilePath: os.Getenv("SIGNALHUB_PROFILE"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envList(key string, def []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
