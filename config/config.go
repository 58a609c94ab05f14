package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
)

// ErrMissingKey is returned when no usable credential resolves for a provider.
var ErrMissingKey = errors.New("credential not configured")

// Environment returns "prod" or "test". Explicit process env wins over .env
// values because godotenv never overwrites variables already exported.
func Environment() string {
	if v := os.Getenv("APP_ENV"); v == "prod" || v == "production" {
		return "prod"
	}
	return "test"
}

// Get resolves a configuration key with a fixed precedence:
// environment-scoped value (<KEY>_PROD / <KEY>_TEST) first, flat <KEY> second.
// Values exported in the process environment override anything loaded from
// .env by main.
func Get(key string) string {
	scoped := key + "_" + strings.ToUpper(Environment())
	if v := os.Getenv(scoped); v != "" {
		return v
	}
	return os.Getenv(key)
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// OpenAIKey resolves the OpenAI credential. Project-scoped keys (sk-proj-)
// are restricted and get substituted by an alternative key when configured.
func OpenAIKey() (string, error) {
	key := Get("OPENAI_APIKEY")
	if strings.HasPrefix(key, "sk-proj-") {
		log.Printf("[config][openai] project-scoped key detected, using alternative key")
		if alt := first(Get("OPENAI_ALTERNATIVE_KEY"), Get("OPENAI_STANDARD_KEY")); alt != "" {
			key = alt
		}
	}
	if key == "" {
		return "", ErrMissingKey
	}
	return key, nil
}

// VisionKey resolves the Google Vision credential from either of the two key
// names that have been used historically.
func VisionKey() (string, error) {
	key := first(Get("GOOGLE_VISION_APIKEY"), Get("GOOGLE_VISION_KEY"))
	if key == "" {
		return "", ErrMissingKey
	}
	return key, nil
}

// DeepSeekKey resolves the DeepSeek credential. Only the new key name is
// consulted; the old one is retired.
func DeepSeekKey() (string, error) {
	key := Get("DEEPSEEK_NEWKEY")
	if key == "" {
		return "", ErrMissingKey
	}
	return key, nil
}

func StripeSecretKey() string     { return Get("STRIPE_SECRET_KEY") }
func StripeWebhookSecret() string { return Get("STRIPE_WEBHOOK_SECRET") }

// PriceID returns the Stripe price id for a plan ("monthly" or "yearly").
func PriceID(plan string) string {
	if plan == "yearly" {
		return Get("STRIPE_YEARLY_PRICE_ID")
	}
	return Get("STRIPE_MONTHLY_PRICE_ID")
}

// ClientDomain is the redirect base for checkout success/cancel pages.
func ClientDomain() string {
	if v := Get("CLIENT_DOMAIN"); v != "" {
		return v
	}
	if Environment() == "prod" {
		return "https://studypal.app"
	}
	return "https://dev.studypal.app"
}

func GoogleProject() string { return Get("GCLOUD_PROJECT") }

func GeminiLocation() string {
	if v := Get("GEMINI_LOCATION"); v != "" {
		return v
	}
	return "us-central1"
}

var (
	signingOnce   sync.Once
	signingSecret []byte
)

// SigningSecret returns the HMAC secret for temporary API tokens. When
// API_TOKEN_SECRET is unset a random value is generated once per process;
// tokens issued with it do not verify in other instances or after a restart.
// That is a known operational caveat, not something this layer papers over.
func SigningSecret() []byte {
	signingOnce.Do(func() {
		if v := Get("API_TOKEN_SECRET"); v != "" {
			signingSecret = []byte(v)
			return
		}
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			log.Printf("[config][token] random secret generation failed: %v", err)
			signingSecret = []byte("dev-insecure-secret")
			return
		}
		signingSecret = []byte(hex.EncodeToString(b))
		log.Printf("[config][token] API_TOKEN_SECRET unset, generated ephemeral secret; tokens will not verify across instances")
	})
	return signingSecret
}
