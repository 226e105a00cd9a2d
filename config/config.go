package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config represents the application configuration
type Config struct {
	// Environment
	Environment string `validate:"required"`

	// Search and fetch configuration
	SearchURL        string        `validate:"required,url"`
	FetchTimeout     time.Duration `validate:"gt=0"`
	FetchMinDelay    time.Duration `validate:"gte=0"`
	FetchMaxDelay    time.Duration `validate:"gtefield=FetchMinDelay"`
	FetchMaxAttempts int           `validate:"gte=1,lte=10"`
	FetchBlockTime   time.Duration `validate:"gt=0"`
	SelectorsFile    string

	// Proxy configuration
	ProxyURL      string   `validate:"omitempty,url"`
	ProxyURLs     []string `validate:"dive,url"`
	ProxyCooldown time.Duration

	// Memcache configuration; empty disables rate-limit block markers
	MemcacheAddr string

	// Redis configuration
	RedisAddr            string
	RedisDB              int `validate:"gte=0"`
	RedisSeenPrefix      string
	RedisStream          string
	RedisStreamCount     int `validate:"gte=1"`
	RedisStreamMaxLength int `validate:"gte=0"`

	// Dedup store
	DedupBackend      string `validate:"oneof=redis file"`
	SeenFile          string `validate:"required_if=DedupBackend file"`
	SeenRetentionDays int    `validate:"gte=1"`

	// Listing store
	StorageBackend   string `validate:"oneof=postgres memory"`
	PostgresDSN      string `validate:"required_if=StorageBackend postgres"`
	PostgresMaxConns int    `validate:"gte=1"`
	CampaignsFile    string

	// Cycle results
	PublisherBackend string   `validate:"oneof=redis kafka none"`
	KafkaBrokers     []string `validate:"required_if=PublisherBackend kafka"`
	KafkaTopic       string

	// Notifications
	TelegramAPIURL   string `validate:"required,url"`
	TelegramBotToken string
	TelegramChatID   string
	NotifyDelay      time.Duration `validate:"gte=0"`

	// Cycle behaviour
	AllowSynthetic         bool
	MaxConsecutiveFailures int           `validate:"gte=0"`
	CampaignRefresh        time.Duration `validate:"gt=0"`

	// Ops surface; empty HTTPAddr disables it
	HTTPAddr        string
	EventBufferSize int `validate:"gte=1"`
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() Config {
	return Config{
		Environment: getEnv("SNIPEDEAL_ENVIRONMENT", "development"),

		SearchURL:        getEnv("SEARCH_URL", "https://www.subito.it/annunci-italia/vendita/usato/"),
		FetchTimeout:     getSeconds("FETCH_TIMEOUT_SECONDS", 10),
		FetchMinDelay:    getMillis("FETCH_MIN_DELAY_MS", 1000),
		FetchMaxDelay:    getMillis("FETCH_MAX_DELAY_MS", 5000),
		FetchMaxAttempts: getInt("FETCH_MAX_ATTEMPTS", 3),
		FetchBlockTime:   getSeconds("FETCH_BLOCK_SECONDS", 300),
		SelectorsFile:    getEnv("SELECTORS_FILE", ""),
		ProxyURL:         getEnv("PROXY_URL", ""),
		ProxyURLs:        getList("PROXY_URLS"),
		ProxyCooldown:    getSeconds("PROXY_COOLDOWN_SECONDS", 60),

		MemcacheAddr: getEnvAllowEmpty("MEMCACHE_ADDR", "localhost:11211"),

		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:              getInt("REDIS_DB", 0),
		RedisSeenPrefix:      getEnv("REDIS_SEEN_PREFIX", "snipedeal:seen"),
		RedisStream:          getEnv("REDIS_STREAM", "snipedeal:cycles"),
		RedisStreamCount:     getInt("REDIS_STREAM_COUNT", 1),
		RedisStreamMaxLength: getInt("REDIS_STREAM_MAX_LENGTH", 1000),

		DedupBackend:      getEnv("DEDUP_BACKEND", "redis"),
		SeenFile:          getEnv("SEEN_FILE", "data/seen_items.json"),
		SeenRetentionDays: getInt("SEEN_RETENTION_DAYS", 7),

		StorageBackend:   getEnv("STORAGE_BACKEND", "postgres"),
		PostgresDSN:      getEnv("POSTGRES_DSN", ""),
		PostgresMaxConns: getInt("POSTGRES_MAX_CONNS", 4),
		CampaignsFile:    getEnv("CAMPAIGNS_FILE", "campaigns.yaml"),

		PublisherBackend: getEnv("PUBLISHER_BACKEND", "redis"),
		KafkaBrokers:     getList("KAFKA_BROKERS"),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "snipedeal.cycles"),

		TelegramAPIURL:   getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		NotifyDelay:      getMillis("NOTIFY_DELAY_MS", 1000),

		AllowSynthetic:         getBool("ALLOW_SYNTHETIC", false),
		MaxConsecutiveFailures: getInt("MAX_CONSECUTIVE_FAILURES", 0),
		CampaignRefresh:        getSeconds("CAMPAIGN_REFRESH_SECONDS", 60),

		HTTPAddr:        getEnvAllowEmpty("HTTP_ADDR", ":8080"),
		EventBufferSize: getInt("EVENT_BUFFER_SIZE", 500),
	}
}

var validate = validator.New()

// Validate checks the configuration
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// IsProduction reports whether the worker runs in production
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// TelegramConfigured reports whether notification credentials are present
func (c Config) TelegramConfigured() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

// Proxies returns the rotating list, or the static proxy alone
func (c Config) Proxies() []string {
	if len(c.ProxyURLs) > 0 {
		return c.ProxyURLs
	}
	if c.ProxyURL != "" {
		return []string{c.ProxyURL}
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAllowEmpty returns the default only when key is unset
func getEnvAllowEmpty(key, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	return value
}

func getInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return n
}

func getBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return b
}

func getSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getInt(key, defaultValue)) * time.Second
}

func getMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getInt(key, defaultValue)) * time.Millisecond
}

func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
