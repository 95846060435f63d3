package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the client configuration.
type Config struct {
	// URL is the backend project URL, used by the REST store and the
	// realtime relay.
	URL    string
	APIKey string
	Token  string

	// JWTSecret enables token signature verification when set.
	JWTSecret string

	// Store selects the data store backend: "rest" or "postgres".
	Store       string
	DatabaseURL string

	// Relay selects the relay backend: "realtime" or "redis".
	Relay         string
	RedisAddr     string
	RedisPassword string

	ICEURLs []string

	// CallTimeout bounds pending call negotiation; zero disables it.
	CallTimeout time.Duration

	// HeartbeatInterval drives presence last_seen refreshes; zero
	// disables the heartbeat.
	HeartbeatInterval time.Duration

	// CallTarget, when set, is a user id to call on startup.
	CallTarget string
}

// Load reads configuration from a .env file (if present) and environment
// variables. Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	token := os.Getenv("TALKIO_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TALKIO_TOKEN environment variable is required")
	}

	cfg := &Config{
		URL:               getEnv("TALKIO_URL", ""),
		APIKey:            getEnv("TALKIO_API_KEY", ""),
		Token:             token,
		JWTSecret:         getEnv("TALKIO_JWT_SECRET", ""),
		Store:             getEnv("TALKIO_STORE", "rest"),
		DatabaseURL:       getEnv("TALKIO_DB_URL", ""),
		Relay:             getEnv("TALKIO_RELAY", "realtime"),
		RedisAddr:         getEnv("TALKIO_REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("TALKIO_REDIS_PASSWORD", ""),
		CallTimeout:       seconds("TALKIO_CALL_TIMEOUT", 45),
		HeartbeatInterval: seconds("TALKIO_HEARTBEAT", 30),
		CallTarget:        getEnv("TALKIO_CALL", ""),
	}

	if ice := os.Getenv("TALKIO_ICE_URLS"); ice != "" {
		cfg.ICEURLs = strings.Split(ice, ",")
	}

	switch cfg.Store {
	case "rest":
		if cfg.URL == "" {
			return nil, fmt.Errorf("TALKIO_URL is required for the rest store")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("TALKIO_DB_URL is required for the postgres store")
		}
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	switch cfg.Relay {
	case "realtime":
		if cfg.URL == "" {
			return nil, fmt.Errorf("TALKIO_URL is required for the realtime relay")
		}
	case "redis":
	default:
		return nil, fmt.Errorf("unknown relay %q", cfg.Relay)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func seconds(key string, defaultValue int) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Duration(defaultValue) * time.Second
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return time.Duration(defaultValue) * time.Second
	}
	return time.Duration(n) * time.Second
}
