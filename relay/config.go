package relay

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vovakirdan/playchat-sdk/playchat-sdk-go/playchat/rest"
)

type Config struct {
	Addr         string
	DatabaseURL  string // empty selects the in-memory store
	JWTSecret    []byte // empty disables token checks
	Users        []rest.User
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LogLevel     string
}

// LoadConfig reads .env (if any) and RELAY_* / DATABASE_URL / JWT_SECRET.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	readTimeout, err := getDurationOrDefault("RELAY_READ_TIMEOUT", "15s")
	if err != nil {
		return Config{}, err
	}
	writeTimeout, err := getDurationOrDefault("RELAY_WRITE_TIMEOUT", "15s")
	if err != nil {
		return Config{}, err
	}
	users, err := ParseUsers(os.Getenv("RELAY_USERS"))
	if err != nil {
		return Config{}, err
	}

	return Config{
		Addr:         getEnvOrDefault("RELAY_ADDR", ":8098"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		JWTSecret:    []byte(os.Getenv("JWT_SECRET")),
		Users:        users,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		LogLevel:     getEnvOrDefault("RELAY_LOG_LEVEL", "info"),
	}, nil
}

// ParseUsers parses "id:name[:email],id:name[:email]".
func ParseUsers(list string) ([]rest.User, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, nil
	}
	var users []rest.User
	for _, item := range strings.Split(list, ",") {
		parts := strings.Split(strings.TrimSpace(item), ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
			return nil, fmt.Errorf("invalid user entry %q", item)
		}
		u := rest.User{ID: parts[0], Name: parts[1]}
		if len(parts) == 3 {
			u.Email = parts[2]
		}
		users = append(users, u)
	}
	return users, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}
