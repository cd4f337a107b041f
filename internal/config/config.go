package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"voice-bridge/internal/observability"

	"github.com/joho/godotenv"
)

var ErrEmptyEnvironmentVariable = errors.New("empty environment variable")

// Queue backends for MixJob dispatch
const (
	QueueBackendAsynq = "asynq"
	QueueBackendKafka = "kafka"
)

// Config holds the bridge server configuration
type Config struct {
	Server    ServerConfig
	OpenAI    OpenAIConfig
	Twilio    TwilioConfig
	Recording RecordingConfig
	Queue     QueueConfig
	RateLimit RateLimitConfig
	Log       observability.LogConfig
}

// RateLimitConfig limits outbound call creation per client IP. Zero disables it.
type RateLimitConfig struct {
	CallsPerMinute int
}

// WorkerConfig holds configuration for the mix/transcription workers
type WorkerConfig struct {
	OpenAI      OpenAIConfig
	Queue       QueueConfig
	Database    DatabaseConfig
	Log         observability.LogConfig
	FFmpegPath  string
	Concurrency int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
	// PublicURL is the externally reachable base (e.g. an ngrok https URL) used
	// to build the media stream URL in TwiML. Empty means use the request host.
	PublicURL string
}

// OpenAIConfig holds realtime and transcription settings
type OpenAIConfig struct {
	APIKey               string
	RealtimeURL          string
	Voice                string
	Instructions         string
	Temperature          float64
	DialTimeout          time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	TranscriptionModel   string
}

// TwilioConfig holds credentials for outbound calls. All empty disables POST /calls.
type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
	Greeting    string
}

// Enabled reports whether outbound calling is configured.
func (t TwilioConfig) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.PhoneNumber != ""
}

// RecordingConfig holds where and how call audio is captured
type RecordingConfig struct {
	Dir           string
	FrameInterval time.Duration
}

// QueueConfig holds MixJob queue configuration
type QueueConfig struct {
	Backend         string
	RedisAddr       string
	Name            string
	KafkaBrokers    []string
	KafkaTopic      string
	KafkaGroupID    string
	DispatchTimeout time.Duration
	OutboxPath      string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string
	Username string
	Password string
	Name     string
}

// ConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s",
		c.Username, c.Password, c.Host, c.Name)
}

// Load reads and validates the environment for the bridge server
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{}
	var err error

	if cfg.OpenAI, err = loadOpenAI(); err != nil {
		return nil, err
	}

	cfg.Server.Port, err = intEnv("SERVER_PORT", 5050)
	if err != nil {
		return nil, err
	}
	cfg.Server.PublicURL = strings.TrimRight(os.Getenv("PUBLIC_URL"), "/")

	cfg.Twilio = TwilioConfig{
		AccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		AuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		PhoneNumber: os.Getenv("TWILIO_PHONE_NUMBER"),
		Greeting:    getEnvWithDefault("TWILIO_GREETING", "O.K. you can start talking!"),
	}

	cfg.Recording.Dir = getEnvWithDefault("RECORDINGS_DIR", "recordings")
	if cfg.Recording.FrameInterval, err = durationEnv("FRAME_INTERVAL", 20*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.Recording.FrameInterval <= 0 {
		return nil, fmt.Errorf("FRAME_INTERVAL must be positive, got %s", cfg.Recording.FrameInterval)
	}

	if cfg.Queue, err = loadQueue(cfg.Recording.Dir); err != nil {
		return nil, err
	}
	if cfg.RateLimit.CallsPerMinute, err = intEnv("CALLS_RATE_LIMIT_PER_MINUTE", 10); err != nil {
		return nil, err
	}
	if cfg.Log, err = loadLog(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadWorker reads and validates the environment for a mix worker
func LoadWorker() (*WorkerConfig, error) {
	loadEnvFile()

	cfg := &WorkerConfig{}
	var err error

	if cfg.OpenAI, err = loadOpenAI(); err != nil {
		return nil, err
	}
	if cfg.Queue, err = loadQueue(getEnvWithDefault("RECORDINGS_DIR", "recordings")); err != nil {
		return nil, err
	}
	if cfg.Log, err = loadLog(); err != nil {
		return nil, err
	}

	if cfg.Database.Host, err = requireEnv("DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.Database.Username, err = requireEnv("DB_USERNAME"); err != nil {
		return nil, err
	}
	if cfg.Database.Password, err = requireEnv("DB_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.Database.Name, err = requireEnv("DB_NAME"); err != nil {
		return nil, err
	}

	cfg.FFmpegPath = getEnvWithDefault("FFMPEG_PATH", "ffmpeg")
	if cfg.Concurrency, err = intEnv("WORKER_CONCURRENCY", 1); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvFile loads env.local in non-production environments; a missing file is fine.
func loadEnvFile() {
	if os.Getenv("GO_ENV") != "production" {
		_ = godotenv.Load("env.local")
	}
}

func loadOpenAI() (OpenAIConfig, error) {
	var cfg OpenAIConfig
	var err error

	if cfg.APIKey, err = requireEnv("OPENAI_API_KEY"); err != nil {
		return cfg, err
	}
	cfg.RealtimeURL = getEnvWithDefault("OPENAI_REALTIME_URL",
		"wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-12-17")
	cfg.Voice = getEnvWithDefault("OPENAI_VOICE", "alloy")
	cfg.Instructions = getEnvWithDefault("OPENAI_INSTRUCTIONS", "You are a helpful assistant.")
	cfg.TranscriptionModel = getEnvWithDefault("OPENAI_TRANSCRIPTION_MODEL", "whisper-1")

	temperature := getEnvWithDefault("OPENAI_TEMPERATURE", "0.8")
	if cfg.Temperature, err = strconv.ParseFloat(temperature, 64); err != nil {
		return cfg, fmt.Errorf("failed to parse OPENAI_TEMPERATURE: %w", err)
	}
	if cfg.DialTimeout, err = durationEnv("OPENAI_DIAL_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.MaxReconnectAttempts, err = intEnv("OPENAI_MAX_RECONNECT_ATTEMPTS", 3); err != nil {
		return cfg, err
	}
	if cfg.ReconnectDelay, err = durationEnv("OPENAI_RECONNECT_DELAY", 500*time.Millisecond); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadQueue(recordingsDir string) (QueueConfig, error) {
	var cfg QueueConfig
	var err error

	cfg.Backend = getEnvWithDefault("QUEUE_BACKEND", QueueBackendAsynq)
	switch cfg.Backend {
	case QueueBackendAsynq, QueueBackendKafka:
	default:
		return cfg, fmt.Errorf("unsupported QUEUE_BACKEND %q", cfg.Backend)
	}

	cfg.RedisAddr = getEnvWithDefault("REDIS_HOST", "localhost:6379")
	cfg.Name = getEnvWithDefault("MIX_QUEUE_NAME", "audio_mix_jobs")
	cfg.KafkaBrokers = strings.Split(getEnvWithDefault("KAFKA_BROKERS", "localhost:9092"), ",")
	cfg.KafkaTopic = getEnvWithDefault("KAFKA_TOPIC", "audio-mix-jobs")
	cfg.KafkaGroupID = getEnvWithDefault("KAFKA_CONSUMER_GROUP", "audio-mix-workers")
	if cfg.DispatchTimeout, err = durationEnv("DISPATCH_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	cfg.OutboxPath = getEnvWithDefault("OUTBOX_PATH", recordingsDir+"/undispatched.jsonl")
	return cfg, nil
}

func loadLog() (observability.LogConfig, error) {
	var cfg observability.LogConfig
	var err error

	cfg.Level = getEnvWithDefault("LOG_LEVEL", "info")
	cfg.Filename = os.Getenv("LOG_FILENAME")
	if cfg.MaxSize, err = intEnv("LOG_MAX_SIZE", 100); err != nil {
		return cfg, err
	}
	if cfg.MaxBackups, err = intEnv("LOG_MAX_BACKUPS", 7); err != nil {
		return cfg, err
	}
	if cfg.MaxAge, err = intEnv("LOG_MAX_AGE", 14); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// requireEnv retrieves an environment variable or returns an error if empty
func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s is not set: %w", key, ErrEmptyEnvironmentVariable)
	}
	return value, nil
}

// getEnvWithDefault retrieves an environment variable or returns a default value
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func intEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return value, nil
}

func durationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return value, nil
}
