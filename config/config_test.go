package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SECUREKIT_BACKEND_URL", "https://backend.example.com")
	t.Setenv("SECUREKIT_BACKEND_PUBLIC_KEY", "public-key")
	t.Setenv("SECUREKIT_STORAGE_SECRET", "storage-secret")
	t.Setenv("SECUREKIT_JWT_SECRET", "jwt-secret")
}

func TestLoad(t *testing.T) {
	t.Run("required values and defaults", func(t *testing.T) {
		setRequired(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "https://backend.example.com", cfg.BackendURL)
		assert.Equal(t, "public-key", cfg.BackendPublicKey)
		assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
		assert.Equal(t, DefaultDBPath, cfg.DBPath)
		assert.Equal(t, DefaultLanguage, cfg.Language)
		assert.Equal(t, DefaultStorageQuotaBytes, cfg.StorageQuotaBytes)
		assert.False(t, cfg.CaptchaEnabled())
	})

	t.Run("overrides", func(t *testing.T) {
		setRequired(t)
		t.Setenv("SECUREKIT_LISTEN_ADDR", "127.0.0.1:9000")
		t.Setenv("SECUREKIT_LANGUAGE", "es-MX")
		t.Setenv("SECUREKIT_STORAGE_QUOTA_BYTES", "1048576")
		t.Setenv("SECUREKIT_RECAPTCHA_SITE_KEY", "site-key")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
		assert.Equal(t, "es-MX", cfg.Language)
		assert.Equal(t, 1048576, cfg.StorageQuotaBytes)
		assert.True(t, cfg.CaptchaEnabled())
	})

	t.Run("invalid int falls back to default", func(t *testing.T) {
		setRequired(t)
		t.Setenv("SECUREKIT_STORAGE_QUOTA_BYTES", "not-a-number")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, DefaultStorageQuotaBytes, cfg.StorageQuotaBytes)
	})
}

func TestLoadMissingRequired(t *testing.T) {
	required := []string{
		"SECUREKIT_BACKEND_URL",
		"SECUREKIT_BACKEND_PUBLIC_KEY",
		"SECUREKIT_STORAGE_SECRET",
		"SECUREKIT_JWT_SECRET",
	}
	for _, missing := range required {
		t.Run(missing, func(t *testing.T) {
			setRequired(t)
			t.Setenv(missing, "")

			_, err := Load()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), missing), "error should name %s: %v", missing, err)
		})
	}
}
