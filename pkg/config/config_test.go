package config_test

import (
	"testing"
	"time"

	"github.com/buildcoprojects/signalhub/pkg/config"
	"github.com/stretchr/testify/assert"
)

// TestLoad_Defaults verifies that Load() returns safe defaults when no
// environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{
		"PORT", "LOG_LEVEL", "DATA_DIR", "ARTIFACT_STORAGE_TYPE", "OPENAI_MODEL",
		"CLASSIFY_TIMEOUT", "STRIPE_CURRENCY", "GITHUB_BRANCH", "REPO_ALLOWED_PATHS",
		"RATE_LIMIT_RPS", "REDIS_DB", "PUBLIC_URL", "STRIPE_SUCCESS_URL", "STRIPE_CANCEL_URL",
	} {
		t.Setenv(k, "")
	}

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "fs", cfg.Storage.Type)
	assert.Equal(t, "data", cfg.Storage.DataDir)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, 8*time.Second, cfg.OpenAI.ClassifyTimeout)
	assert.Equal(t, "usd", cfg.Stripe.Currency)
	assert.Equal(t, "http://localhost:8080/checkout/success?session_id={CHECKOUT_SESSION_ID}", cfg.Stripe.SuccessURL)
	assert.Equal(t, "http://localhost:8080/checkout/cancel", cfg.Stripe.CancelURL)
	assert.Equal(t, "main", cfg.GitHub.Branch)
	assert.Equal(t, []string{"**"}, cfg.GitHub.AllowedPaths)
	assert.Equal(t, 10, cfg.RateLimit.RPS)
	assert.Equal(t, int64(20<<20), cfg.Uploads.MaxBytes)
}

// TestLoad_Overrides verifies that environment variables override defaults.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ARTIFACT_STORAGE_TYPE", "s3")
	t.Setenv("ARTIFACT_S3_BUCKET", "signals")
	t.Setenv("CLASSIFY_TIMEOUT", "2s")
	t.Setenv("REPO_ALLOWED_PATHS", "src/**, docs/*.md ,")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("OTEL_INSECURE", "true")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "signals", cfg.Storage.S3Bucket)
	assert.Equal(t, 2*time.Second, cfg.OpenAI.ClassifyTimeout)
	assert.Equal(t, []string{"src/**", "docs/*.md"}, cfg.GitHub.AllowedPaths)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.Telemetry.Insecure)
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "many")
	t.Setenv("CLASSIFY_TIMEOUT", "-1s")

	cfg := config.Load()

	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Equal(t, 8*time.Second, cfg.OpenAI.ClassifyTimeout)
}
