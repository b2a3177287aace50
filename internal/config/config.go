// Package config provides configuration for the relay and the chat server.
package config

import (
	"os"
	"strconv"
	"time"
)

// RelayConfig holds the inference relay configuration.
type RelayConfig struct {
	// Server settings
	HTTPPort int

	// Upstream inference provider
	UpstreamURL     string
	UpstreamAPIKey  string
	UpstreamTimeout time.Duration
	Mode            string

	// Call ledger
	DatabaseURL string

	// Operator files
	ModelsFile string
	PolicyFile string

	// Per-client rate limit, requests per second. Zero disables it.
	RateLimit float64
	RateBurst int

	// Logging
	LogLevel string
}

// ChatConfig holds the conversation server configuration.
type ChatConfig struct {
	// Server settings
	HTTPPort int

	// Relay settings
	RelayURL   string
	RelayToken string

	// Conversation settings
	RequestTimeout time.Duration
	TimeFormat     string
	SpeechLocale   string

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel string
}

// LoadRelay loads relay configuration from environment variables.
func LoadRelay() *RelayConfig {
	return &RelayConfig{
		HTTPPort:        getEnvInt("RELAY_PORT", 8080),
		UpstreamURL:     getEnv("HUGGINGFACE_API_URL", "https://api-inference.huggingface.co/models"),
		UpstreamAPIKey:  getEnv("HUGGINGFACE_API_KEY", ""),
		UpstreamTimeout: time.Duration(getEnvInt("RELAY_UPSTREAM_TIMEOUT_MS", 60000)) * time.Millisecond,
		Mode:            getEnv("RELAY_MODE", ""),
		DatabaseURL:     getEnv("RELAY_DATABASE_URL", "file:relay.db?cache=shared&mode=rwc"),
		ModelsFile:      getEnv("RELAY_MODELS_FILE", ""),
		PolicyFile:      getEnv("RELAY_POLICY_FILE", ""),
		RateLimit:       getEnvFloat("RELAY_RATE_LIMIT", 0),
		RateBurst:       getEnvInt("RELAY_RATE_BURST", 10),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
}

// LoadChat loads chat server configuration from environment variables.
func LoadChat() *ChatConfig {
	return &ChatConfig{
		HTTPPort:       getEnvInt("CHAT_PORT", 8090),
		RelayURL:       getEnv("RELAY_URL", "http://localhost:8080/"),
		RelayToken:     getEnv("RELAY_TOKEN", ""),
		RequestTimeout: time.Duration(getEnvInt("CHAT_REQUEST_TIMEOUT_MS", 60000)) * time.Millisecond,
		TimeFormat:     getEnv("CHAT_TIME_FORMAT", "3:04 PM"),
		SpeechLocale:   getEnv("SPEECH_LOCALE", "en-US"),
		PingInterval:   time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:   time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:    time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 16<<20)),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
