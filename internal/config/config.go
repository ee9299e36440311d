// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ジョブストアの種別
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// スケジューラーの種別
const (
	SchedulerInline = "inline"
	SchedulerAsynq  = "asynq"
)

// 画像抽出ツールの種別
const (
	ExtractorPdfimages = "pdfimages"
	ExtractorPdfcpu    = "pdfcpu"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ファイル制限
	MaxFileSize int64 // アップロードPDFの最大サイズ（バイト）

	// ジョブ/キュー設定
	JobStore          string // ジョブストアの種別 (memory, redis)
	Scheduler         string // スケジューラーの種別 (inline, asynq)
	QueueRedisURL     string // Redis接続URL（redis ストア / asynq 使用時）
	WorkerConcurrency int    // Asynqワーカーの並列数
	JobExpireMinutes  int    // ジョブ成果物の保持期間（分）

	// 抽出処理設定
	WorkDir            string // 作業ディレクトリのルート
	PdfimagesPath      string // pdfimages 実行ファイルのパス
	ImageExtractor     string // 画像抽出ツールの種別 (pdfimages, pdfcpu)
	ToolTimeoutSeconds int    // 外部ツール1回あたりのタイムアウト（秒、0で無効）

	// ログ設定
	LogLevel string // ログレベル (debug, info, warn, error)
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 500*1024*1024), // 500MiB

		JobStore:          getEnv("JOB_STORE", StoreMemory),
		Scheduler:         getEnv("SCHEDULER", SchedulerInline),
		QueueRedisURL:     getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),
		JobExpireMinutes:  getEnvAsInt("JOB_EXPIRE_MINUTES", 60),

		WorkDir:            getEnv("WORK_DIR", filepath.Join(os.TempDir(), "image-forge")),
		PdfimagesPath:      getEnv("PDFIMAGES_PATH", "pdfimages"),
		ImageExtractor:     getEnv("IMAGE_EXTRACTOR", ExtractorPdfimages),
		ToolTimeoutSeconds: getEnvAsInt("TOOL_TIMEOUT_SECONDS", 0),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.JobStore {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("JOB_STORE must be %q or %q (received: %s)", StoreMemory, StoreRedis, c.JobStore)
	}
	switch c.Scheduler {
	case SchedulerInline, SchedulerAsynq:
	default:
		return fmt.Errorf("SCHEDULER must be %q or %q (received: %s)", SchedulerInline, SchedulerAsynq, c.Scheduler)
	}
	switch c.ImageExtractor {
	case ExtractorPdfimages, ExtractorPdfcpu:
	default:
		return fmt.Errorf("IMAGE_EXTRACTOR must be %q or %q (received: %s)", ExtractorPdfimages, ExtractorPdfcpu, c.ImageExtractor)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if (c.JobStore == StoreRedis || c.Scheduler == SchedulerAsynq) && c.QueueRedisURL == "" {
		return fmt.Errorf("QUEUE_REDIS_URL is required for the redis store and the asynq scheduler")
	}
	return nil
}

// ToolTimeout は外部ツール1回あたりのタイムアウトを返します。0は無効を意味します。
func (c *Config) ToolTimeout() time.Duration {
	if c.ToolTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.ToolTimeoutSeconds) * time.Second
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
