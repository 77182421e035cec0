package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the environment-driven service configuration. Every knob has
// a sane default except the upstream API key, which must be provided.
type Config struct {
	Addr string

	// Upstream speech service.
	OpenAIAPIKey string
	RealtimeURL  string
	Voice        string
	Instructions string
	Temperature  float64

	// Greeting spoken when a call connects and no per-call override was
	// carried in the stream parameters.
	FirstMessage string

	// Host advertised to the telephony provider in the stream TwiML.
	// Empty means derive from the incoming request.
	PublicHost string

	// Optional transcript sink. Empty disables delivery.
	WebhookURL     string
	WebhookTimeout time.Duration

	// Optional Postgres DSN for the tool backends. Empty runs the
	// service without database-backed tools.
	DatabaseURL string

	// Socket behavior.
	WSWriteTimeout     time.Duration
	HandshakeTimeout   time.Duration
	MaxCallDuration    time.Duration
	SessionCreateGrace time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOICEBRIDGE_ADDR", ":5050"),
		OpenAIAPIKey:        strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		RealtimeURL:         envOr("VOICEBRIDGE_REALTIME_URL", ""),
		Voice:               envOr("VOICEBRIDGE_VOICE", "shimmer"),
		Instructions:        envOr("VOICEBRIDGE_INSTRUCTIONS", defaultInstructions),
		Temperature:         envFloat64Or("VOICEBRIDGE_TEMPERATURE", 0.8),
		FirstMessage:        envOr("VOICEBRIDGE_FIRST_MESSAGE", "Hello, how can I help you today?"),
		PublicHost:          envOr("VOICEBRIDGE_PUBLIC_HOST", ""),
		WebhookURL:          envOr("VOICEBRIDGE_WEBHOOK_URL", ""),
		WebhookTimeout:      envDurationOr("VOICEBRIDGE_WEBHOOK_TIMEOUT", 10*time.Second),
		DatabaseURL:         envOr("VOICEBRIDGE_DATABASE_URL", ""),
		WSWriteTimeout:      envDurationOr("VOICEBRIDGE_WS_WRITE_TIMEOUT", 5*time.Second),
		HandshakeTimeout:    envDurationOr("VOICEBRIDGE_HANDSHAKE_TIMEOUT", 10*time.Second),
		MaxCallDuration:     envDurationOr("VOICEBRIDGE_MAX_CALL_DURATION", 2*time.Hour),
		SessionCreateGrace:  envDurationOr("VOICEBRIDGE_SESSION_CREATE_GRACE", 10*time.Second),
		ReadHeaderTimeout:   envDurationOr("VOICEBRIDGE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("VOICEBRIDGE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("VOICEBRIDGE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY must be set")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_TEMPERATURE must be in [0, 2]")
	}
	if cfg.WebhookTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_WEBHOOK_TIMEOUT must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.MaxCallDuration <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_MAX_CALL_DURATION must be > 0")
	}
	if cfg.SessionCreateGrace <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_SESSION_CREATE_GRACE must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.WebhookURL != "" && !strings.HasPrefix(cfg.WebhookURL, "http") {
		return Config{}, fmt.Errorf("VOICEBRIDGE_WEBHOOK_URL must be an http(s) URL")
	}

	return cfg, nil
}

const defaultInstructions = "You are a helpful and professional AI assistant for a phone conversation. " +
	"Keep answers brief and natural for voice. If the caller asks about products, " +
	"availability, or appointments, use the provided tools."

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
