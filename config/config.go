package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	HTTP     ServerConfig
	MySQL    MySQLConfig
	Log      LogConfig
	Gateways GatewaysConfig
	Billing  BillingConfig
	Refunds  RefundsConfig
	Jobs     JobsConfig
}

type AppConfig struct {
	ServiceName string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type LogConfig struct {
	Level string
}

type GatewaysConfig struct {
	HTTPTimeout time.Duration
}

type BillingConfig struct {
	BatchSize        int32
	RetryMaxAttempts int32
}

type RefundsConfig struct {
	BatchSize           int32
	ReconcileStaleAfter time.Duration
}

type JobsConfig struct {
	BillingInterval         time.Duration
	RetryInterval           time.Duration
	RefundReconcileInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "billing-service"),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Gateways: GatewaysConfig{
			HTTPTimeout: getSecondsEnv("GATEWAY_HTTP_TIMEOUT_SECONDS", 30*time.Second),
		},
		Billing: BillingConfig{
			BatchSize:        int32(getIntEnv("BILLING_BATCH_SIZE", 100)),
			RetryMaxAttempts: int32(getIntEnv("BILLING_RETRY_MAX_ATTEMPTS", 3)),
		},
		Refunds: RefundsConfig{
			BatchSize:           int32(getIntEnv("REFUNDS_BATCH_SIZE", 100)),
			ReconcileStaleAfter: getMinutesEnv("REFUNDS_RECONCILE_STALE_AFTER_MINUTES", 30*time.Minute),
		},
		Jobs: JobsConfig{
			BillingInterval:         getMinutesEnv("BILLING_RUN_INTERVAL_MINUTES", 15*time.Minute),
			RetryInterval:           getMinutesEnv("BILLING_RETRY_INTERVAL_MINUTES", 60*time.Minute),
			RefundReconcileInterval: getMinutesEnv("REFUNDS_RECONCILE_INTERVAL_MINUTES", 10*time.Minute),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
