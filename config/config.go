package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	MetricsAPIBaseURL    string
	MetricsAPIToken      string
	MetricsAPIQueryToken string
	FetchTimeoutSec      int

	SoundPageBaseURL string
	SoundRenderer    string
	ChromeBin        string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	WorkDir           string
	HandoffPollMs     int
	HandoffTimeoutSec int

	SinkBackend        string
	SpreadsheetID      string
	ServiceAccountFile string
	WorkbookPath       string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	LockBackend   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTLSec    int

	MaxRetries      int
	BatchIntervalMs int
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		MetricsAPIBaseURL:    getEnv("METRICS_API_BASE_URL", "https://api.scrapecreators.com/v1"),
		MetricsAPIToken:      getEnv("METRICS_API_TOKEN", ""),
		MetricsAPIQueryToken: getEnv("METRICS_API_QUERY_TOKEN", ""),
		FetchTimeoutSec:      getEnvInt("FETCH_TIMEOUT_SEC", 0),

		SoundPageBaseURL: getEnv("SOUND_PAGE_BASE_URL", "https://www.tiktok.com/music/"),
		SoundRenderer:    getEnv("SOUND_RENDERER", "chrome"),
		ChromeBin:        getEnv("CHROME_BIN", ""),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		WorkDir:           getEnv("WORK_DIR", "."),
		HandoffPollMs:     getEnvInt("HANDOFF_POLL_MS", 1000),
		HandoffTimeoutSec: getEnvInt("HANDOFF_TIMEOUT_SEC", 0),

		SinkBackend:        getEnv("SINK_BACKEND", "sheets"),
		SpreadsheetID:      getEnv("SPREADSHEET_ID", ""),
		ServiceAccountFile: getEnv("SERVICE_ACCOUNT_FILE", "service_account.json"),
		WorkbookPath:       getEnv("WORKBOOK_PATH", "./output/metrics.xlsx"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "metrics"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "metrics"),
		PostgresDB:       getEnv("POSTGRES_DB", "clip_metrics"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		LockBackend:   getEnv("LOCK_BACKEND", "file"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		LockTTLSec:    getEnvInt("LOCK_TTL_SEC", 60),

		MaxRetries:      getEnvInt("MAX_RETRIES", 3),
		BatchIntervalMs: getEnvInt("BATCH_INTERVAL_MS", 1000),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// HandoffPoll is the interval between hand-off file existence checks.
func (c *Config) HandoffPoll() time.Duration {
	return time.Duration(c.HandoffPollMs) * time.Millisecond
}

// HandoffTimeout is how long a stage waits for its hand-off file. Zero waits forever.
func (c *Config) HandoffTimeout() time.Duration {
	return time.Duration(c.HandoffTimeoutSec) * time.Second
}

// FetchTimeout bounds each outbound HTTP call. Zero leaves the client default.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// BatchInterval is the minimum gap between runs of a multi-URL batch.
func (c *Config) BatchInterval() time.Duration {
	return time.Duration(c.BatchIntervalMs) * time.Millisecond
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSec) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
		log.Printf("[config] Invalid int for %s=%q, using default %d", key, val, fallback)
	}
	return fallback
}
