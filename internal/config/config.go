package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string
	HTTPAddr    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	// MirrorPath is the device-local sqlite file backing the ticket mirror.
	MirrorPath string

	Campaign CampaignConfig
	Otel     OtelConfig

	AssistantEndpoint string
	AssistantAPIKey   string
	AssistantModel    string
}

// CampaignConfig describes the contribution campaign window and per-type
// ticket expiration, in the reference timezone used for the daily grant key.
type CampaignConfig struct {
	Start                      string
	End                        string
	Timezone                   string
	DailyExpirationDays        int
	ContributionExpirationDays int
}

// OtelConfig gates the OpenTelemetry pipeline (metrics and traces share the
// one collector endpoint).
type OtelConfig struct {
	Enabled  bool
	Endpoint string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "concierge"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "concierge"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 2),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 10),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		MirrorPath: getenv("MIRROR_PATH", "concierge-mirror.db"),

		Campaign: CampaignConfig{
			Start:                      getenv("CAMPAIGN_START", "2026-01-01"),
			End:                        getenv("CAMPAIGN_END", "2026-04-30"),
			Timezone:                   getenv("CAMPAIGN_TIMEZONE", "Asia/Tokyo"),
			DailyExpirationDays:        getenvInt("DAILY_EXPIRATION_DAYS", 30),
			ContributionExpirationDays: getenvInt("CONTRIBUTION_EXPIRATION_DAYS", 30),
		},
		Otel: OtelConfig{
			Enabled:  getenvBool("OTEL_ENABLED", false),
			Endpoint: strings.TrimSpace(getenv("OTEL_EXPORTER_ENDPOINT", "localhost:4317")),
		},

		AssistantEndpoint: strings.TrimSpace(getenv("ASSISTANT_ENDPOINT", "")),
		AssistantAPIKey:   strings.TrimSpace(getenv("ASSISTANT_API_KEY", "")),
		AssistantModel:    getenv("ASSISTANT_MODEL", "concierge-default"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
