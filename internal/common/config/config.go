package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/uma-arai/sbcntr-booking/internal/common/database"
)

type Config struct {
	DB  database.Config
	SFN struct {
		TaskToken string
	}
	HTTP struct {
		Port string
	}
	Cron struct {
		// Secret が空の場合、定期実行のトリガーはすべて拒否されます
		Secret string
	}
	Booking struct {
		// BlockOnPending がtrueの場合、承認待ちの予約も在庫計算に含めます
		BlockOnPending bool
	}
	Redis struct {
		Addr          string
		Password      string
		DB            int
		ChannelPrefix string
	}
	Mail struct {
		RabbitMQURL string
		Queue       string
		From        string
	}
	EnableTracing bool
}

// LoadConfig は設定を読み込みます
func LoadConfig(taskToken string) (*Config, error) {
	// .envはローカル開発用なので存在しなくても問題ない
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to load .env file: %v", err)
	}

	cfg := &Config{
		DB: database.Config{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getEnvAsIntOrDefault("DB_PORT", 5432),
			UserName: getEnvOrDefault("DB_USERNAME", "sbcntrapp"),
			Password: getEnvOrDefault("DB_PASSWORD", "password"),
			DBName:   getEnvOrDefault("DB_NAME", "sbcntrapp"),
			SSLMode:  os.Getenv("DB_SSL_MODE"),
		},
		EnableTracing: false,
	}
	cfg.SFN.TaskToken = taskToken
	cfg.HTTP.Port = getEnvOrDefault("HTTP_PORT", "8080")
	cfg.Cron.Secret = os.Getenv("CRON_SECRET")
	cfg.Booking.BlockOnPending = getEnvAsBoolOrDefault("BOOKING_BLOCK_ON_PENDING", false)
	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = getEnvAsIntOrDefault("REDIS_DB", 0)
	cfg.Redis.ChannelPrefix = getEnvOrDefault("REDIS_CHANNEL_PREFIX", "notifications")
	cfg.Mail.RabbitMQURL = os.Getenv("RABBITMQ_URL")
	cfg.Mail.Queue = getEnvOrDefault("MAIL_QUEUE", "email.outbound")
	cfg.Mail.From = getEnvOrDefault("MAIL_FROM", "no-reply@sbcntr.example.com")

	if cfg.Cron.Secret == "" {
		log.Printf("Environment variable CRON_SECRET is not set, scheduled triggers will be denied")
	}

	// 環境変数[SBCNTR_ENABLE_TRACING]を見てトレースを有効にする。対応しているTracingはAWS_XRAYのみ。
	// 環境変数[AWS_XRAY_SDK_DISABLED]がtrueの場合は必ずトレースを無効にする。
	enableKey := os.Getenv("SBCNTR_ENABLE_TRACING")
	if !sdkDisabled() && (strings.ToLower(enableKey) == "true" || enableKey == "1") {
		os.Setenv("AWS_XRAY_SDK_DISABLED", "FALSE")
		cfg.EnableTracing = true
	} else {
		os.Setenv("AWS_XRAY_SDK_DISABLED", "TRUE")
		cfg.EnableTracing = false
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	log.Printf("Environment variable %s is not set, using default value", key)
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Printf("Environment variable %s is not an integer, using default value", key)
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		log.Printf("Environment variable %s is not a boolean, using default value", key)
	}
	return defaultValue
}

// Check if SDK is disabled
func sdkDisabled() bool {
	disableKey := os.Getenv("AWS_XRAY_SDK_DISABLED")
	return strings.ToLower(disableKey) == "true"
}
