package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config is the full server configuration, loaded from environment
// variables with optional .env file support.
type Config struct {
	HTTP    HTTPConfig
	Logging LoggingConfig
	Session SessionConfig
	STT     STTConfig
	AMQP    AMQPConfig
	Twilio  TwilioConfig
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

// SessionConfig holds per-call pipeline tuning.
type SessionConfig struct {
	SampleRate         int
	Encoding           string
	QuietThreshold     time.Duration
	MaxBufferDuration  time.Duration
	VADThreshold       float64
	VADSilenceDuration time.Duration
}

// STTConfig selects and configures the transcription backend.
type STTConfig struct {
	DefaultBackend string

	WhisperAPIKey   string
	WhisperAPIURL   string
	WhisperModel    string
	WhisperLanguage string
	WhisperTimeout  time.Duration

	GoogleCredentialsFile string
	GoogleAPIKey          string

	AWSRegion            string
	AWSAccessKey         string
	AWSSecretKey         string
	TranscribeVocabulary string
}

// AMQPConfig holds message-queue settings. An empty URL disables AMQP.
type AMQPConfig struct {
	URL          string
	QueueName    string
	ExchangeName string
	RoutingKey   string
	Durable      bool
}

// TwilioConfig holds caller-lookup credentials. Empty credentials disable
// lookup; sessions then get placeholder caller ids.
type TwilioConfig struct {
	AccountSID     string
	AuthToken      string
	APIURL         string
	StaticCallerID string
}

// SupportedBackends lists the transcription backends this build knows.
var SupportedBackends = []string{"mock", "whisper", "google", "amazon"}

// Load reads configuration from the environment, after a best-effort .env
// load.
func Load(logger *logrus.Logger) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		logger.Debug("Loaded .env file")
	} else {
		logger.Debug("No .env file found, using environment variables only")
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			Address:      getEnv("HTTP_ADDRESS", ":8080"),
			ReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", 0),
			WriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Session: SessionConfig{
			SampleRate:         getEnvInt("AUDIO_SAMPLE_RATE", 8000),
			Encoding:           getEnv("AUDIO_ENCODING", "mulaw"),
			QuietThreshold:     getEnvDuration("QUIET_THRESHOLD", 1500*time.Millisecond),
			MaxBufferDuration:  getEnvDuration("MAX_BUFFER_DURATION", 30*time.Second),
			VADThreshold:       getEnvFloat("VAD_THRESHOLD", 0.008),
			VADSilenceDuration: getEnvDuration("VAD_SILENCE_DURATION", 1000*time.Millisecond),
		},
		STT: STTConfig{
			DefaultBackend:        getEnv("STT_DEFAULT_BACKEND", "mock"),
			WhisperAPIKey:         getEnv("OPENAI_API_KEY", ""),
			WhisperAPIURL:         getEnv("WHISPER_API_URL", ""),
			WhisperModel:          getEnv("WHISPER_MODEL", "whisper-1"),
			WhisperLanguage:       getEnv("WHISPER_LANGUAGE", "en"),
			WhisperTimeout:        getEnvDuration("WHISPER_TIMEOUT", 30*time.Second),
			GoogleCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
			GoogleAPIKey:          getEnv("GOOGLE_API_KEY", ""),
			AWSRegion:             getEnv("AWS_REGION", "us-east-1"),
			AWSAccessKey:          getEnv("AWS_ACCESS_KEY_ID", ""),
			AWSSecretKey:          getEnv("AWS_SECRET_ACCESS_KEY", ""),
			TranscribeVocabulary:  getEnv("TRANSCRIBE_VOCABULARY", ""),
		},
		AMQP: AMQPConfig{
			URL:          getEnv("AMQP_URL", ""),
			QueueName:    getEnv("AMQP_QUEUE_NAME", "transcriptions"),
			ExchangeName: getEnv("AMQP_EXCHANGE", ""),
			RoutingKey:   getEnv("AMQP_ROUTING_KEY", ""),
			Durable:      getEnvBool("AMQP_DURABLE", true),
		},
		Twilio: TwilioConfig{
			AccountSID:     getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:      getEnv("TWILIO_AUTH_TOKEN", ""),
			APIURL:         getEnv("TWILIO_API_URL", ""),
			StaticCallerID: getEnv("STATIC_CALLER_ID", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints and backend credentials.
func (c *Config) Validate() error {
	backend := strings.ToLower(c.STT.DefaultBackend)
	supported := false
	for _, name := range SupportedBackends {
		if backend == name {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("unsupported STT backend %q, must be one of %s",
			c.STT.DefaultBackend, strings.Join(SupportedBackends, ", "))
	}
	c.STT.DefaultBackend = backend

	switch backend {
	case "whisper":
		if c.STT.WhisperAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the whisper backend")
		}
	case "google":
		if c.STT.GoogleCredentialsFile == "" && c.STT.GoogleAPIKey == "" {
			return fmt.Errorf("GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_API_KEY is required for the google backend")
		}
	}

	if c.Session.SampleRate <= 0 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE must be positive")
	}
	if c.Session.VADThreshold <= 0 || c.Session.VADThreshold >= 1 {
		return fmt.Errorf("VAD_THRESHOLD must be between 0 and 1")
	}
	if c.Session.QuietThreshold <= 0 {
		return fmt.Errorf("QUIET_THRESHOLD must be positive")
	}
	return nil
}

// LogLevel parses the configured log level, defaulting to info.
func (c *Config) LogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatValue
}
