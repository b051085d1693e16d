package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	// SQLitePath is the DSN of the conversation store database.
	SQLitePath string

	JWTSecret          string
	AccessTokenMinutes int

	// PresenceGrace is the delay between a disconnect and the user being
	// marked fully offline, to absorb quick reconnects.
	PresenceGrace time.Duration

	// RedisAddr enables the Redis fan-out adapter when non-empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CORSOrigins []string
	Debug       bool

	// GeoAPIBaseURL is the third-party IP-geolocation endpoint base.
	GeoAPIBaseURL string
}

func Load() (*Config, error) {
	cfg := &Config{
		AppName: getEnv("APP_NAME", "MarketGo Relay"),
		Env:     getEnv("APP_ENV", "development"),
		Host:    getEnv("HTTP_HOST", "0.0.0.0"),
		Port:    getEnvAsInt("HTTP_PORT", 8000),

		SQLitePath: getEnv("SQLITE_PATH", "marketgo.db"),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		AccessTokenMinutes: getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24),

		PresenceGrace: time.Duration(getEnvAsInt("PRESENCE_GRACE_MS", 5000)) * time.Millisecond,

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		Debug: getEnvAsBool("DEBUG", true),

		GeoAPIBaseURL: getEnv("GEO_API_BASE_URL", "http://ip-api.com"),
	}

	cors := getEnv("CORS_ORIGINS", "")
	if cors != "" {
		parts := strings.Split(cors, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORSOrigins = parts
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.PresenceGrace <= 0 {
		return nil, fmt.Errorf("PRESENCE_GRACE_MS must be positive")
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
