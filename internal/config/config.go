package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Telegram  TelegramConfig
	Evaluator EvaluatorConfig
	Candles   CandlesConfig
	Scheduler SchedulerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// KafkaConfig holds Kafka/Redpanda configuration
type KafkaConfig struct {
	Brokers            []string
	SignalsTopic       string
	SubscriptionsTopic string
	ConsumerGroup      string
}

// TelegramConfig holds the notification channel credentials
type TelegramConfig struct {
	BotToken string
	ChatID   int64
}

// EvaluatorConfig points at the external strategy evaluator service
type EvaluatorConfig struct {
	URL     string
	Timeout time.Duration
}

// CandlesConfig holds upstream market-data provider settings
type CandlesConfig struct {
	BinanceBases   []string
	BybitBases     []string
	MinClosedBars  int
	RequestTimeout time.Duration
}

// SchedulerConfig holds alert worker settings
type SchedulerConfig struct {
	Enabled    bool
	Workers    int
	RunTimeout time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8081"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "postgres"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "trader"),
			Password: getEnv("DB_PASSWORD", "trader5"),
			DBName:   getEnv("DB_NAME", "signal_alerts"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
		Kafka: KafkaConfig{
			Brokers:            parseList(getEnv("KAFKA_BROKERS", "localhost:19092")),
			SignalsTopic:       getEnv("KAFKA_SIGNALS_TOPIC", "signal-alerts"),
			SubscriptionsTopic: getEnv("KAFKA_SUBSCRIPTIONS_TOPIC", "signal-subscriptions"),
			ConsumerGroup:      getEnv("KAFKA_CONSUMER_GROUP", "signal-alert-service"),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   getEnvInt64("TELEGRAM_CHAT_ID", 0),
		},
		Evaluator: EvaluatorConfig{
			URL:     getEnv("EVALUATOR_URL", "http://localhost:8090"),
			Timeout: time.Duration(getEnvInt("EVALUATOR_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		Candles: CandlesConfig{
			BinanceBases: parseList(getEnv("CANDLE_API_BASES",
				"https://api.binance.com,https://api1.binance.com,https://data-api.binance.vision")),
			BybitBases:     parseList(getEnv("BYBIT_API_BASES", "https://api.bybit.com")),
			MinClosedBars:  getEnvInt("MIN_CLOSED_CANDLES", 30),
			RequestTimeout: time.Duration(getEnvInt("CANDLE_REQUEST_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:    getEnvBool("SCHEDULER_ENABLED", true),
			Workers:    getEnvInt("SCHEDULER_WORKERS", 4),
			RunTimeout: time.Duration(getEnvInt("SCHEDULER_RUN_TIMEOUT_SECONDS", 60)) * time.Second,
		},
	}
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

// Address returns the Redis address in host:port format
func (r *RedisConfig) Address() string {
	return r.Host + ":" + r.Port
}

// Configured reports whether Telegram credentials are present.
func (t *TelegramConfig) Configured() bool {
	return t.BotToken != "" && t.ChatID != 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
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

// parseList splits a comma-separated value list
func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
