// Package config loads the agent's runtime configuration from the
// environment. Missing secrets are a fatal startup condition: the agent
// refuses to run rather than operate without them.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Defaults for the optional settings.
const (
	DefaultListenAddr         = "127.0.0.1:7870"
	DefaultDBPath             = "securekit.db"
	DefaultLanguage           = "en"
	DefaultStorageQuotaBytes  = 5 << 20
	DefaultRefreshAttemptsCap = 3
)

// Config is the agent's runtime configuration.
type Config struct {
	BackendURL       string
	BackendPublicKey string
	StorageSecret    string
	JWTSecret        string

	RecaptchaSiteKey   string
	RecaptchaSecretKey string

	ListenAddr         string
	DBPath             string
	Language           string
	StorageQuotaBytes  int
	RefreshAttemptsCap int
}

// Load reads configuration from the environment. The backend URL and
// public key, the storage secret, and the JWT secret are required; the
// reCAPTCHA keys are optional and enable the registration gate when set.
func Load() (*Config, error) {
	cfg := &Config{
		RecaptchaSiteKey:   os.Getenv("SECUREKIT_RECAPTCHA_SITE_KEY"),
		RecaptchaSecretKey: os.Getenv("SECUREKIT_RECAPTCHA_SECRET_KEY"),
		ListenAddr:         getEnv("SECUREKIT_LISTEN_ADDR", DefaultListenAddr),
		DBPath:             getEnv("SECUREKIT_DB_PATH", DefaultDBPath),
		Language:           getEnv("SECUREKIT_LANGUAGE", DefaultLanguage),
		StorageQuotaBytes:  getEnvAsInt("SECUREKIT_STORAGE_QUOTA_BYTES", DefaultStorageQuotaBytes),
		RefreshAttemptsCap: getEnvAsInt("SECUREKIT_REFRESH_ATTEMPTS", DefaultRefreshAttemptsCap),
	}

	var err error
	if cfg.BackendURL, err = mustGetEnv("SECUREKIT_BACKEND_URL"); err != nil {
		return nil, err
	}
	if cfg.BackendPublicKey, err = mustGetEnv("SECUREKIT_BACKEND_PUBLIC_KEY"); err != nil {
		return nil, err
	}
	if cfg.StorageSecret, err = mustGetEnv("SECUREKIT_STORAGE_SECRET"); err != nil {
		return nil, err
	}
	if cfg.JWTSecret, err = mustGetEnv("SECUREKIT_JWT_SECRET"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CaptchaEnabled reports whether the reCAPTCHA registration gate is
// configured.
func (c *Config) CaptchaEnabled() bool {
	return c.RecaptchaSiteKey != ""
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func mustGetEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("missing required environment variable %s", key)
	}
	return value, nil
}

func getEnvAsInt(key string, defaultVal int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal
	}
	return val
}
