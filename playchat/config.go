package playchat

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config controls how the SDK connects.
type Config struct {
	URL              string // relay websocket endpoint, e.g. ws://localhost:8098/socket
	RESTBaseURL      string // REST base, e.g. http://localhost:8098
	Token            string // JWT, sent as ?token= and as bearer on REST calls
	UserID           string // derived from Token when empty
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	RequestTimeout   time.Duration
	TypingDebounce   time.Duration
	TypingTTL        time.Duration
}

// DefaultConfig returns sensible defaults.
// Set a timeout to 0 to disable it.
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:8098/socket",
		RESTBaseURL:      "http://localhost:8098",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		RequestTimeout:   30 * time.Second,
		TypingDebounce:   time.Second,
		TypingTTL:        5 * time.Second,
	}
}

// LoadConfig starts from DefaultConfig, loads a .env file if present and
// applies PLAYCHAT_* environment variables.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	cfg.URL = getEnvOrDefault("PLAYCHAT_WS_URL", cfg.URL)
	cfg.RESTBaseURL = getEnvOrDefault("PLAYCHAT_API_URL", cfg.RESTBaseURL)
	cfg.Token = os.Getenv("PLAYCHAT_TOKEN")
	cfg.UserID = os.Getenv("PLAYCHAT_USER_ID")

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"PLAYCHAT_HANDSHAKE_TIMEOUT", &cfg.HandshakeTimeout},
		{"PLAYCHAT_READ_TIMEOUT", &cfg.ReadTimeout},
		{"PLAYCHAT_WRITE_TIMEOUT", &cfg.WriteTimeout},
		{"PLAYCHAT_REQUEST_TIMEOUT", &cfg.RequestTimeout},
		{"PLAYCHAT_TYPING_DEBOUNCE", &cfg.TypingDebounce},
		{"PLAYCHAT_TYPING_TTL", &cfg.TypingTTL},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, WrapError(ErrorInvalidConfig, "invalid duration for "+d.key, err)
		}
		*d.dst = parsed
	}
	return cfg, nil
}

// Validate checks the fields every session needs.
func (c *Config) Validate() error {
	if c.URL == "" {
		return NewError(ErrorInvalidConfig, "empty URL")
	}
	if c.RESTBaseURL == "" {
		return NewError(ErrorInvalidConfig, "empty REST base URL")
	}
	if c.TypingDebounce < 0 || c.TypingTTL < 0 {
		return NewError(ErrorInvalidConfig, "negative typing interval")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
