package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Browser    BrowserConfig
	Capture    CaptureConfig
	Storage    StorageConfig
	Index      IndexConfig
	Redis      RedisConfig
	NATS       NATSConfig
	CloudWatch CloudWatchConfig
	Capacity   CapacityConfig
	Security   SecurityConfig
	LogLevel   string
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// BrowserConfig выбирает реализацию BrowserProvider один раз при старте.
type BrowserConfig struct {
	Provider       string
	ExecutablePath string
	RemoteURL      string
	ExtraArgs      []string
}

type CaptureConfig struct {
	KeyFolder         string
	ViewportWidth     int
	ViewportHeight    int
	WaitUntil         string
	NavigationTimeout time.Duration
	RequestTimeout    time.Duration
	MaxBodyBytes      int64
}

type StorageConfig struct {
	Backend         string
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	UseSSL          bool
	CreateBucket    bool
	URLMode         string
	PresignedTTL    time.Duration
}

type IndexConfig struct {
	Backend string

	PostgresDSN     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	DynamoTable       string
	DynamoRegion      string
	DynamoEndpoint    string
	DynamoStrongReads bool
	TTLDays           int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
	TTL      time.Duration
}

type NATSConfig struct {
	Enabled bool
	URL     string
	Subject string
}

type CloudWatchConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string

	MetricsEnabled       bool
	MetricsNamespace     string
	MetricsBufferSize    int
	MetricsFlushInterval time.Duration

	LogsEnabled       bool
	LogGroupName      string
	LogStreamName     string
	LogsBufferSize    int
	LogsFlushInterval time.Duration
}

type CapacityConfig struct {
	MaxMemoryPercent    float64
	MaxBrowserProcesses int
}

type SecurityConfig struct {
	AllowedOrigins     []string
	AuthEnabled        bool
	AuthToken          string
	AuthCookieTTL      time.Duration
	RateLimitPerMinute int

	// TrustedProxies адреса и CIDR балансировщиков, которым доверяем
	// X-Forwarded-For/X-Forwarded-Proto. Пусто: адрес клиента берется из соединения.
	TrustedProxies []string

	// FeedMaxClients лимит WebSocket соединений ленты, 0 без лимита
	FeedMaxClients int
}

func Load() (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	navigationTimeout, err := parseDuration(getEnv("CAPTURE_NAVIGATION_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPTURE_NAVIGATION_TIMEOUT: %w", err)
	}

	requestTimeout, err := parseDuration(getEnv("CAPTURE_REQUEST_TIMEOUT", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPTURE_REQUEST_TIMEOUT: %w", err)
	}

	viewportWidth, err := strconv.Atoi(getEnv("CAPTURE_VIEWPORT_WIDTH", "1280"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPTURE_VIEWPORT_WIDTH: %w", err)
	}

	viewportHeight, err := strconv.Atoi(getEnv("CAPTURE_VIEWPORT_HEIGHT", "720"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPTURE_VIEWPORT_HEIGHT: %w", err)
	}

	presignedTTL, err := parseDuration(getEnv("S3_PRESIGNED_TTL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid S3_PRESIGNED_TTL: %w", err)
	}

	ttlDays, err := strconv.Atoi(getEnv("CAPTURE_INDEX_TTL_DAYS", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPTURE_INDEX_TTL_DAYS: %w", err)
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	redisTTL, err := parseDuration(getEnv("REDIS_CACHE_TTL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_CACHE_TTL: %w", err)
	}

	metricsFlushInterval, err := parseDuration(getEnv("CLOUDWATCH_METRICS_FLUSH_INTERVAL", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CLOUDWATCH_METRICS_FLUSH_INTERVAL: %w", err)
	}

	logsFlushInterval, err := parseDuration(getEnv("CLOUDWATCH_LOGS_FLUSH_INTERVAL", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CLOUDWATCH_LOGS_FLUSH_INTERVAL: %w", err)
	}

	maxMemoryPercent, err := strconv.ParseFloat(getEnv("CAPACITY_MAX_MEMORY_PERCENT", "90"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid CAPACITY_MAX_MEMORY_PERCENT: %w", err)
	}

	maxBrowserProcesses, err := strconv.Atoi(getEnv("CAPACITY_MAX_BROWSER_PROCESSES", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPACITY_MAX_BROWSER_PROCESSES: %w", err)
	}

	rateLimitPerMinute, err := strconv.Atoi(getEnv("SCREENSHOT_RATE_LIMIT_PER_MINUTE", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCREENSHOT_RATE_LIMIT_PER_MINUTE: %w", err)
	}

	authCookieTTL, err := parseDuration(getEnv("AUTH_COOKIE_TTL", "12h"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_COOKIE_TTL: %w", err)
	}

	feedMaxClients, err := strconv.Atoi(getEnv("WS_MAX_CLIENTS", "200"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_MAX_CLIENTS: %w", err)
	}

	region := getEnv("AWS_REGION", "us-east-1")

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    requestTimeout + 5*time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Browser: BrowserConfig{
			Provider:       strings.ToLower(getEnv("BROWSER_PROVIDER", "local")),
			ExecutablePath: getEnv("BROWSER_EXECUTABLE_PATH", ""),
			RemoteURL:      getEnv("BROWSER_REMOTE_URL", ""),
			ExtraArgs:      splitCSV(getEnv("BROWSER_EXTRA_ARGS", "")),
		},
		Capture: CaptureConfig{
			KeyFolder:         getEnv("CAPTURE_KEY_FOLDER", "link-preview"),
			ViewportWidth:     viewportWidth,
			ViewportHeight:    viewportHeight,
			WaitUntil:         getEnv("CAPTURE_WAIT_UNTIL", "networkidle"),
			NavigationTimeout: navigationTimeout,
			RequestTimeout:    requestTimeout,
			MaxBodyBytes:      64 * 1024,
		},
		Storage: StorageConfig{
			Backend:         strings.ToLower(getEnv("STORAGE_BACKEND", "s3")),
			Bucket:          getEnv("AWS_BUCKET_NAME", ""),
			Region:          region,
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    getEnvBool("S3_USE_PATH_STYLE", false),
			UseSSL:          getEnvBool("MINIO_USE_SSL", true),
			CreateBucket:    getEnvBool("MINIO_CREATE_BUCKET", false),
			URLMode:         getEnv("S3_URL_MODE", "public"),
			PresignedTTL:    presignedTTL,
		},
		Index: IndexConfig{
			Backend:           strings.ToLower(getEnv("CAPTURE_INDEX_BACKEND", "none")),
			PostgresDSN:       getEnv("DATABASE_URL", ""),
			MaxOpenConns:      10,
			MaxIdleConns:      2,
			ConnMaxLifetime:   5 * time.Minute,
			DynamoTable:       getEnv("DYNAMODB_TABLE_CAPTURES", "link_preview_captures"),
			DynamoRegion:      getEnv("DYNAMODB_REGION", region),
			DynamoEndpoint:    getEnv("DYNAMODB_ENDPOINT", ""),
			DynamoStrongReads: getEnvBool("DYNAMODB_STRONG_READS", false),
			TTLDays:           ttlDays,
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
			TTL:      redisTTL,
		},
		NATS: NATSConfig{
			Enabled: getEnvBool("NATS_ENABLED", false),
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
			Subject: getEnv("NATS_SUBJECT", "screenshots.captured"),
		},
		CloudWatch: CloudWatchConfig{
			Region:               getEnv("CLOUDWATCH_REGION", region),
			Endpoint:             getEnv("CLOUDWATCH_ENDPOINT", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			MetricsEnabled:       getEnvBool("CLOUDWATCH_METRICS_ENABLED", false),
			MetricsNamespace:     getEnv("CLOUDWATCH_METRICS_NAMESPACE", "LinkPreview/Capture"),
			MetricsBufferSize:    100,
			MetricsFlushInterval: metricsFlushInterval,
			LogsEnabled:          getEnvBool("CLOUDWATCH_LOGS_ENABLED", false),
			LogGroupName:         getEnv("CLOUDWATCH_LOG_GROUP", "/link-preview/api"),
			LogStreamName:        getEnv("CLOUDWATCH_LOG_STREAM", hostnameOr("link-preview")),
			LogsBufferSize:       50,
			LogsFlushInterval:    logsFlushInterval,
		},
		Capacity: CapacityConfig{
			MaxMemoryPercent:    maxMemoryPercent,
			MaxBrowserProcesses: maxBrowserProcesses,
		},
		Security: SecurityConfig{
			AllowedOrigins:     splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:8080,http://127.0.0.1:8080")),
			AuthEnabled:        getEnvBool("AUTH_ENABLED", false),
			AuthToken:          getEnv("AUTH_BEARER_TOKEN", ""),
			AuthCookieTTL:      authCookieTTL,
			RateLimitPerMinute: rateLimitPerMinute,
			TrustedProxies:     splitCSV(getEnv("TRUSTED_PROXIES", "")),
			FeedMaxClients:     feedMaxClients,
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет согласованность настроек, которые нельзя исправить дефолтами.
func (c *Config) Validate() error {
	switch c.Browser.Provider {
	case "local", "serverless", "remote":
	default:
		return fmt.Errorf("unsupported BROWSER_PROVIDER: %s", c.Browser.Provider)
	}
	if c.Browser.Provider == "serverless" && strings.TrimSpace(c.Browser.ExecutablePath) == "" {
		return fmt.Errorf("BROWSER_EXECUTABLE_PATH is required when BROWSER_PROVIDER=serverless")
	}

	switch c.Storage.Backend {
	case "s3", "minio":
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND: %s", c.Storage.Backend)
	}
	if strings.TrimSpace(c.Storage.Bucket) == "" {
		return fmt.Errorf("AWS_BUCKET_NAME is required")
	}

	switch c.Index.Backend {
	case "none", "postgres", "dynamodb":
	default:
		return fmt.Errorf("unsupported CAPTURE_INDEX_BACKEND: %s", c.Index.Backend)
	}
	if c.Index.Backend == "postgres" && strings.TrimSpace(c.Index.PostgresDSN) == "" {
		return fmt.Errorf("DATABASE_URL is required when CAPTURE_INDEX_BACKEND=postgres")
	}

	if c.Capture.NavigationTimeout <= 0 {
		return fmt.Errorf("CAPTURE_NAVIGATION_TIMEOUT must be positive")
	}
	if c.Capture.RequestTimeout < c.Capture.NavigationTimeout {
		return fmt.Errorf("CAPTURE_REQUEST_TIMEOUT must be >= CAPTURE_NAVIGATION_TIMEOUT")
	}
	if c.Capture.ViewportWidth <= 0 || c.Capture.ViewportHeight <= 0 {
		return fmt.Errorf("capture viewport must be positive")
	}

	if c.Security.AuthEnabled && c.Security.AuthToken == "" {
		return fmt.Errorf("AUTH_BEARER_TOKEN is required when AUTH_ENABLED=true")
	}
	for _, proxy := range c.Security.TrustedProxies {
		if _, err := netip.ParsePrefix(proxy); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(proxy); err != nil {
			return fmt.Errorf("invalid TRUSTED_PROXIES entry: %q", proxy)
		}
	}
	if c.Security.FeedMaxClients < 0 {
		return fmt.Errorf("WS_MAX_CLIENTS must not be negative")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}

func hostnameOr(fallback string) string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return fallback
	}
	return name
}

func splitCSV(raw string) []string {
	items := make([]string, 0)
	current := ""

	for _, r := range raw {
		if r == ',' {
			if current != "" {
				items = append(items, current)
				current = ""
			}
			continue
		}
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			current += string(r)
		}
	}

	if current != "" {
		items = append(items, current)
	}

	return items
}

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}
