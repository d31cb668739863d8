package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `validate:"required"`
	DBMaxConns  int    `validate:"gte=1"`

	// Redis（空の場合は検索条件キャッシュを使用しない）
	RedisURL        string
	ProfileCacheTTL time.Duration

	// Worker
	WorkerConcurrency int           `validate:"gte=1,lte=32"`
	JobMaxAttempts    int           `validate:"gte=1"`
	JobRetryBaseDelay time.Duration `validate:"gt=0"`
	JobQueueSize      int           `validate:"gte=1"`
	ScrapeJobsFile    string        `validate:"required"`

	// Scrape
	ScrapeBrowser  string        `validate:"oneof=http chrome"`
	ScrapeHeadless bool
	ScrapeTimeout  time.Duration `validate:"gt=0"`
	ScrapeRPS      float64       `validate:"gte=0"`
	ScrapeDelayMin time.Duration `validate:"gte=0"`
	ScrapeDelayMax time.Duration `validate:"gtefield=ScrapeDelayMin"`

	// Match
	MatchThreshold int           `validate:"gte=0,lte=100"`
	MatchTimeout   time.Duration `validate:"gt=0"`

	// Notify
	NotifyRateLimit  int           `validate:"gte=1"`
	NotifyRateWindow time.Duration `validate:"gt=0"`
	AWSRegion        string        `validate:"required"`
	SESFromEmail     string        `validate:"omitempty,email"`
	SMSSenderID      string        `validate:"omitempty,max=11"`
	TelegramBotToken string
	AppBaseURL       string `validate:"required,url"`

	// Server
	ServerPort      string `validate:"required,numeric"`
	ShutdownTimeout time.Duration

	// Logging
	LogLevel string `validate:"oneof=debug info warn error"`
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

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
	cfg.DBMaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.ProfileCacheTTL = getEnvDuration("PROFILE_CACHE_TTL", time.Minute)
	cfg.WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", 2)
	cfg.JobMaxAttempts = getEnvInt("JOB_MAX_ATTEMPTS", 3)
	cfg.JobRetryBaseDelay = getEnvDuration("JOB_RETRY_BASE_DELAY", 30*time.Second)
	cfg.JobQueueSize = getEnvInt("JOB_QUEUE_SIZE", 64)
	cfg.ScrapeJobsFile = getEnvString("SCRAPE_JOBS_FILE", "configs/jobs.yaml")
	cfg.ScrapeBrowser = getEnvString("SCRAPE_BROWSER", "http")
	cfg.ScrapeHeadless = getEnvBool("SCRAPE_HEADLESS", true)
	cfg.ScrapeTimeout = getEnvDuration("SCRAPE_TIMEOUT", 30*time.Second)
	cfg.ScrapeRPS = getEnvFloat("SCRAPE_RPS", 0.5)
	cfg.ScrapeDelayMin = getEnvDuration("SCRAPE_DELAY_MIN", time.Second)
	cfg.ScrapeDelayMax = getEnvDuration("SCRAPE_DELAY_MAX", 3*time.Second)
	cfg.MatchThreshold = getEnvInt("MATCH_THRESHOLD", 50)
	cfg.MatchTimeout = getEnvDuration("MATCH_TIMEOUT", 2*time.Minute)
	cfg.NotifyRateLimit = getEnvInt("NOTIFY_RATE_LIMIT", 10)
	cfg.NotifyRateWindow = getEnvDuration("NOTIFY_RATE_WINDOW", time.Hour)
	cfg.AWSRegion = getEnvString("AWS_REGION", "eu-west-1")
	cfg.SESFromEmail = getEnvString("SES_FROM_EMAIL", "")
	cfg.SMSSenderID = getEnvString("SMS_SENDER_ID", "")
	cfg.TelegramBotToken = getEnvString("TELEGRAM_BOT_TOKEN", "")
	cfg.AppBaseURL = getEnvString("APP_BASE_URL", "http://localhost:3000")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validate はゴルーチンセーフで、構造体ごとの解析結果をキャッシュする。
var validate = validator.New(validator.WithRequiredStructEnabled())

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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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
