package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	EHR      EHRConfig
	Relay    RelayConfig
	Extract  ExtractConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// RateLimitRPS and RateLimitBurst configure the per-IP limiter
	// applied to the relay mount.
	RateLimitRPS   int
	RateLimitBurst int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

type AuthConfig struct {
	// JWTSecret signs session tokens. Symmetric key; rotate by restart.
	JWTSecret  string
	SessionTTL time.Duration
}

// EHRConfig selects and configures the EHR connector.
type EHRConfig struct {
	// Backend is "demo" or "openmrs"
	Backend  string
	BaseURL  string
	Username string
	Password string

	// UseRelay routes backend calls through the local relay mount
	// instead of the backend origin directly.
	UseRelay    bool
	RelayPrefix string

	// Pre-resolved metadata UUIDs. Each one set skips the corresponding
	// lookup during connector initialization.
	EncounterTypeUUID string
	LocationUUID      string
	VisitTypeUUID     string
	NotesConceptUUID  string
}

// RelayConfig configures the CORS relay mount.
type RelayConfig struct {
	Enabled bool
	// Prefix is the local mount path, e.g. "/openmrs-proxy"
	Prefix string
	// Upstream is the fixed base URL requests are forwarded to
	Upstream string
	Timeout  time.Duration
}

// ExtractConfig configures the note-structuring client.
type ExtractConfig struct {
	Enabled bool
	// BaseURL of an OpenAI-compatible chat completions API
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func Load() (*Config, error) {
	// Local development convenience; ignored when the file is absent.
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:           getEnvInt("SERVER_PORT", 8080),
			Env:            getEnv("ENV", "development"),
			RateLimitRPS:   getEnvInt("RELAY_RATE_LIMIT_RPS", 20),
			RateLimitBurst: getEnvInt("RELAY_RATE_LIMIT_BURST", 40),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "scribe"),
			Password: getEnv("DB_PASSWORD", "scribe"),
			Database: getEnv("DB_NAME", "scribe"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
			SessionTTL: getEnvDuration("SESSION_TTL", time.Hour),
		},
		EHR: EHRConfig{
			Backend:           strings.ToLower(getEnv("EHR_BACKEND", "demo")),
			BaseURL:           getEnv("EHR_BASE_URL", ""),
			Username:          getEnv("EHR_USERNAME", ""),
			Password:          getEnv("EHR_PASSWORD", ""),
			UseRelay:          getEnvBool("EHR_USE_RELAY", false),
			RelayPrefix:       getEnv("EHR_RELAY_PREFIX", "/openmrs-proxy"),
			EncounterTypeUUID: getEnv("EHR_ENCOUNTER_TYPE_UUID", ""),
			LocationUUID:      getEnv("EHR_LOCATION_UUID", ""),
			VisitTypeUUID:     getEnv("EHR_VISIT_TYPE_UUID", ""),
			NotesConceptUUID:  getEnv("EHR_NOTES_CONCEPT_UUID", ""),
		},
		Relay: RelayConfig{
			Enabled:  getEnvBool("RELAY_ENABLED", true),
			Prefix:   getEnv("RELAY_PREFIX", "/openmrs-proxy"),
			Upstream: getEnv("RELAY_UPSTREAM", ""),
			Timeout:  getEnvDuration("RELAY_TIMEOUT", 30*time.Second),
		},
		Extract: ExtractConfig{
			Enabled: getEnvBool("EXTRACT_ENABLED", false),
			BaseURL: getEnv("EXTRACT_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  getEnv("EXTRACT_API_KEY", ""),
			Model:   getEnv("EXTRACT_MODEL", "gpt-4o-mini"),
			Timeout: getEnvDuration("EXTRACT_TIMEOUT", 60*time.Second),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
