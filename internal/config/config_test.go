package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "FRONTEND_URL", "STORE_DRIVER", "DB_PATH", "DATABASE_URL", "REDIS_URL",
		"TOKEN_SECRET", "TOKEN_TTL", "FLOW_IDLE_TTL", "SUBMIT_RATE_PER_MIN", "GRPC_PORT",
		"TELEMETRY_ENABLED", "STUDY_FILE", "LOG_LEVEL", "LOG_FILE",
	} {
		unsetEnv(t, key)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "./data/research.db", cfg.DBPath)
	assert.Equal(t, devTokenSecret, cfg.TokenSecret)
	assert.Equal(t, 12*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 2*time.Hour, cfg.FlowIdleTTL)
	assert.Equal(t, 10, cfg.SubmitRatePerMin)
	assert.False(t, cfg.TelemetryEnabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadRequiresSecretInProduction(t *testing.T) {
	unsetEnv(t, "TOKEN_SECRET")
	t.Setenv("FRONTEND_URL", "https://study.example.edu")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_SECRET")
}

func TestLoadPostgresNeedsURL(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Postgres")
	unsetEnv(t, "DATABASE_URL")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("CBT_TEST_INT", "ten")
	t.Setenv("CBT_TEST_BOOL", "maybe")
	t.Setenv("CBT_TEST_DURATION", "soon")

	assert.Equal(t, 7, getEnvInt("CBT_TEST_INT", 7))
	assert.True(t, getEnvBool("CBT_TEST_BOOL", true))
	assert.Equal(t, time.Minute, getEnvDuration("CBT_TEST_DURATION", time.Minute))

	t.Setenv("CBT_TEST_DURATION", "90s")
	assert.Equal(t, 90*time.Second, getEnvDuration("CBT_TEST_DURATION", time.Minute))
}

func TestLoadStudyDefaults(t *testing.T) {
	study, err := LoadStudy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultStudy(), study)
	assert.Equal(t, "3. What are the emotions that you felt?", study.Prompts.Emotion)
}

func TestLoadStudyOverridesWordingOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "study.yaml")
	content := `
title: Pilot Study
prompts:
  situation: "1. Describe the situation."
review:
  reframe: "Your reframe"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	study, err := LoadStudy(path)
	require.NoError(t, err)

	defaults := DefaultStudy()
	assert.Equal(t, "Pilot Study", study.Title)
	assert.Equal(t, defaults.Consent, study.Consent)
	assert.Equal(t, "1. Describe the situation.", study.Prompts.Situation)
	assert.Equal(t, defaults.Prompts.Reaction, study.Prompts.Reaction)
	assert.Equal(t, "Your reframe", study.Review.Reframe)
	assert.Equal(t, defaults.Review.Situation, study.Review.Situation)
}

func TestLoadStudyErrors(t *testing.T) {
	_, err := LoadStudy(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prompts: [unclosed"), 0o600))
	_, err = LoadStudy(path)
	require.Error(t, err)
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	prev, had := os.LookupEnv(key)
	require.NoError(t, os.Unsetenv(key))
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, prev)
		}
	})
}
