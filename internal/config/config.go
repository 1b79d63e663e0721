package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Sites
	SitesConfigPath string

	// Fetch
	UserAgent          string
	FetchTimeout       time.Duration
	FetchMaxSize       int64
	FetchMaxConcurrent int
	FetchRatePerSec    int

	// Sync worker
	SyncOnStart     bool
	DefaultSchedule string
	RetentionDays   int
	CleanupInterval time.Duration

	// Content analysis
	AnthropicAPIKey     string
	AnthropicModel      string
	AnalyzeBatchSize    int
	AnalyzeBatchDelay   time.Duration
	AnalyzeMinChars     int
	AnalyzeMaxPerRun    int

	// Temporal（未設定の場合はcronワーカーで動作する）
	TemporalAddress   string
	TemporalNamespace string
	TemporalTaskQueue string

	// Storage（S3_ENDPOINTとS3_BUCKETが揃っている場合のみS3/R2を使う）
	OutputDir       string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3Region        string
	S3PublicBaseURL string

	// Server
	ServerPort string
	BaseURL    string

	// Rate Limit
	RateLimitGeneral int

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.SitesConfigPath = getEnvString("SITES_CONFIG", "sites.json")
	cfg.UserAgent = getEnvString("USER_AGENT", "sitewatch/1.0 (+https://github.com/hitoshi/sitewatch)")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 10485760)
	cfg.FetchMaxConcurrent = getEnvInt("FETCH_MAX_CONCURRENT", 3)
	cfg.FetchRatePerSec = getEnvInt("FETCH_RATE_PER_SEC", 4)
	cfg.SyncOnStart = getEnvBool("SYNC_ON_START", true)
	cfg.DefaultSchedule = getEnvString("DEFAULT_SCHEDULE", "0 * * * *")
	cfg.RetentionDays = getEnvInt("RETENTION_DAYS", 30)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.AnthropicAPIKey = getEnvString("ANTHROPIC_API_KEY", "")
	cfg.AnthropicModel = getEnvString("ANTHROPIC_MODEL", "claude-sonnet-4-20250514")
	cfg.AnalyzeBatchSize = getEnvInt("ANALYZE_BATCH_SIZE", 5)
	cfg.AnalyzeBatchDelay = getEnvDuration("ANALYZE_BATCH_DELAY", 2*time.Second)
	cfg.AnalyzeMinChars = getEnvInt("ANALYZE_MIN_CHARS", 100)
	cfg.AnalyzeMaxPerRun = getEnvInt("ANALYZE_MAX_PER_RUN", 20)
	cfg.TemporalAddress = getEnvString("TEMPORAL_ADDRESS", "")
	cfg.TemporalNamespace = getEnvString("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvString("TEMPORAL_TASK_QUEUE", "sitewatch-sync")
	cfg.OutputDir = getEnvString("OUTPUT_DIR", "output")
	cfg.S3Endpoint = getEnvString("S3_ENDPOINT", "")
	cfg.S3AccessKey = getEnvString("S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnvString("S3_SECRET_KEY", "")
	cfg.S3Bucket = getEnvString("S3_BUCKET", "")
	cfg.S3Region = getEnvString("S3_REGION", "auto")
	cfg.S3PublicBaseURL = getEnvString("S3_PUBLIC_BASE_URL", "")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// UseS3 はS3/R2ストレージが構成されているかどうかを返す。
func (c *Config) UseS3() bool {
	return c.S3Endpoint != "" && c.S3Bucket != ""
}

// UseTemporal はTemporalオーケストレーションが構成されているかどうかを返す。
func (c *Config) UseTemporal() bool {
	return c.TemporalAddress != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
