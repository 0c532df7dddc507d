package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setSecrets(t *testing.T) {
	t.Setenv("JWT_ACCESS_SECRET", "access-secret")
	t.Setenv("JWT_REFRESH_SECRET", "refresh-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setSecrets(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "5000", cfg.AppPort)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.ResetTokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.OTPTTL)
	assert.Equal(t, OTPStorePostgres, cfg.OTPStore)
	assert.False(t, cfg.TwilioEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	setSecrets(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_ACCESS_TTL", "5m")
	t.Setenv("OTP_STORE", "Redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("LOGIN_MAX_ATTEMPTS", "3")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, OTPStoreRedis, cfg.OTPStore)
	assert.Equal(t, 3, cfg.LoginMaxAttempts)
	assert.Equal(t, "https://a.example,https://b.example", cfg.AllowedOrigins())
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	setSecrets(t)
	t.Setenv("OTP_TTL", "ten minutes")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.OTPTTL)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"missing secrets", map[string]string{"JWT_ACCESS_SECRET": "", "JWT_REFRESH_SECRET": ""}},
		{"identical secrets", map[string]string{"JWT_REFRESH_SECRET": "access-secret"}},
		{"redis without url", map[string]string{"OTP_STORE": "redis", "REDIS_URL": ""}},
		{"unknown store", map[string]string{"OTP_STORE": "mongo"}},
		{"twilio without service", map[string]string{"TWILIO_ACCOUNT_SID": "AC1", "TWILIO_AUTH_TOKEN": "tok", "TWILIO_VERIFY_SERVICE_SID": ""}},
		{"negative ttl", map[string]string{"JWT_ACCESS_TTL": "-1m"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setSecrets(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
