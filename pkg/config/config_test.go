package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(testLogger())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, "mock", cfg.STT.DefaultBackend)
	assert.Equal(t, 8000, cfg.Session.SampleRate)
	assert.Equal(t, "mulaw", cfg.Session.Encoding)
	assert.Equal(t, 1500*time.Millisecond, cfg.Session.QuietThreshold)
	assert.Equal(t, 0.008, cfg.Session.VADThreshold)
	assert.Equal(t, time.Second, cfg.Session.VADSilenceDuration)
	assert.Equal(t, "transcriptions", cfg.AMQP.QueueName)
	assert.True(t, cfg.AMQP.Durable)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", ":9000")
	t.Setenv("QUIET_THRESHOLD", "2s")
	t.Setenv("VAD_THRESHOLD", "0.02")
	t.Setenv("AMQP_DURABLE", "off")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(testLogger())
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTP.Address)
	assert.Equal(t, 2*time.Second, cfg.Session.QuietThreshold)
	assert.Equal(t, 0.02, cfg.Session.VADThreshold)
	assert.False(t, cfg.AMQP.Durable)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel())
}

func TestInvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("AUDIO_SAMPLE_RATE", "not-a-number")
	t.Setenv("QUIET_THRESHOLD", "soon")
	t.Setenv("LOG_LEVEL", "shouting")

	cfg, err := Load(testLogger())
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Session.SampleRate)
	assert.Equal(t, 1500*time.Millisecond, cfg.Session.QuietThreshold)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel())
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	t.Setenv("STT_DEFAULT_BACKEND", "dictaphone")

	_, err := Load(testLogger())
	assert.Error(t, err)
}

func TestValidateRequiresWhisperKey(t *testing.T) {
	t.Setenv("STT_DEFAULT_BACKEND", "whisper")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load(testLogger())
	require.Error(t, err)

	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load(testLogger())
	require.NoError(t, err)
	assert.Equal(t, "whisper", cfg.STT.DefaultBackend)
}

func TestBackendNameNormalized(t *testing.T) {
	t.Setenv("STT_DEFAULT_BACKEND", "Mock")

	cfg, err := Load(testLogger())
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.STT.DefaultBackend)
}
