package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// GatewayConfig 消息网关配置
type GatewayConfig struct {
	BaseURL string
	APIKey  string
}

// Config 缺勤检测通知服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig

	// 消息网关
	Gateway struct {
		WhatsApp       GatewayConfig // 主渠道
		SMS            GatewayConfig // 备用渠道
		SMSSenderID    string        // SMS 发送方标识
		SendTimeoutSec int           // 单次发送超时（秒），默认 15
	}

	// 通知分发配置
	Notifier struct {
		DefaultCountryCode string // 默认国家码，默认 "91"
		ChunkSize          int    // 批量发送分块大小，默认 20
		ChunkDelayMs       int    // 分块间隔（毫秒），默认 100
		DedupKeyPrefix     string // Redis 去重键前缀，默认 "notify:dedup:"
		LastRunKey         string // 最近一次运行摘要的 Redis 键，默认 "notify:lastrun"
	}

	// 缺勤检测配置
	Detector struct {
		PageSize int // 花名册分页大小，默认 500
	}

	// 调度配置
	Scheduler struct {
		Timezone        string // 调度时区，默认 "Asia/Kolkata"
		IntervalMinutes int    // 轮询间隔（分钟），默认 60
		WeeklyOffDay    string // 每周休息日，默认 "Sunday"
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（环境变量覆盖默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "upasthiti")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Gateway.WhatsApp.BaseURL = getEnv("WHATSAPP_BASE_URL", "http://localhost:8085")
	cfg.Gateway.WhatsApp.APIKey = getEnv("WHATSAPP_API_KEY", "")
	cfg.Gateway.SMS.BaseURL = getEnv("SMS_BASE_URL", "http://localhost:8086")
	cfg.Gateway.SMS.APIKey = getEnv("SMS_API_KEY", "")
	cfg.Gateway.SMSSenderID = getEnv("SMS_SENDER_ID", "UPASTH")
	cfg.Gateway.SendTimeoutSec = getEnvInt("GATEWAY_SEND_TIMEOUT", 15)

	cfg.Notifier.DefaultCountryCode = getEnv("PHONE_DEFAULT_CC", "91")
	cfg.Notifier.ChunkSize = getEnvInt("NOTIFY_CHUNK_SIZE", 20)
	cfg.Notifier.ChunkDelayMs = getEnvInt("NOTIFY_CHUNK_DELAY_MS", 100)
	cfg.Notifier.DedupKeyPrefix = getEnv("NOTIFY_DEDUP_PREFIX", "notify:dedup:")
	cfg.Notifier.LastRunKey = getEnv("NOTIFY_LASTRUN_KEY", "notify:lastrun")

	cfg.Detector.PageSize = getEnvInt("DETECTOR_PAGE_SIZE", 500)

	cfg.Scheduler.Timezone = getEnv("SCHEDULER_TIMEZONE", "Asia/Kolkata")
	cfg.Scheduler.IntervalMinutes = getEnvInt("SCHEDULER_INTERVAL_MINUTES", 60)
	cfg.Scheduler.WeeklyOffDay = getEnv("SCHEDULER_WEEKLY_OFF_DAY", "Sunday")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8087")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
