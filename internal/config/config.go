package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port       string
	DBConn     string
	Store      string
	LogLevel   string
	JWTSecret  string
	HMACSecret string
	CBRURL     string
	RulesFile  string
	Timezone   string

	// CORSOrigins lists allowed browser origins.
	CORSOrigins []string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string

	RedisAddr      string
	RedisChannel   string
	ReportCacheTTL time.Duration
	KafkaBrokers   []string
	KafkaTopic     string
	EventSinks     []string

	DelinquencySchedule string
	ReminderSchedule    string
	RoyaltySchedule     string
	RepriceSchedule     string
	RepriceProduct      string
	RepriceMargin       string
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:       getEnv("PORT", "8080"),
		DBConn:     getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=sacco sslmode=disable"),
		Store:      getEnv("STORE", "postgres"),
		LogLevel:   getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:  getEnv("JWT_SECRET", "secret"),
		HMACSecret: getEnv("HMAC_SECRET", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"),
		CBRURL:     getEnv("CBR_URL", "https://www.cbr.ru/DailyInfoWebServ/DailyInfo.asmx"),
		RulesFile:  getEnv("RULES_FILE", ""),
		Timezone:   getEnv("TIMEZONE", ""),

		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SenderEmail:  getEnv("SMTP_SENDER", "noreply@sacco.local"),

		RedisAddr:    getEnv("REDIS_ADDR", ""),
		RedisChannel: getEnv("REDIS_CHANNEL", "sacco:loan_events"),
		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "sacco.loan-events"),
		EventSinks:   splitList(getEnv("EVENT_SINKS", "log")),

		DelinquencySchedule: getEnv("DELINQUENCY_SCHEDULE", "0 1 * * *"),
		ReminderSchedule:    getEnv("REMINDER_SCHEDULE", "0 8 * * *"),
		RoyaltySchedule:     getEnv("ROYALTY_SCHEDULE", "0 3 1 * *"),
		RepriceSchedule:     getEnv("REPRICE_SCHEDULE", ""),
		RepriceProduct:      getEnv("REPRICE_PRODUCT", ""),
		RepriceMargin:       getEnv("REPRICE_MARGIN", "5"),
	}

	ttl, err := strconv.Atoi(getEnv("REPORT_CACHE_TTL_SECONDS", "600"))
	if err != nil {
		return nil, fmt.Errorf("invalid REPORT_CACHE_TTL_SECONDS: %w", err)
	}
	cfg.ReportCacheTTL = time.Duration(ttl) * time.Second

	if cfg.Store != "postgres" && cfg.Store != "memory" {
		return nil, fmt.Errorf("STORE must be postgres or memory, got %q", cfg.Store)
	}
	if cfg.Store == "postgres" && cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.HMACSecret == "" {
		return nil, fmt.Errorf("HMAC_SECRET is required")
	}
	for _, sink := range cfg.EventSinks {
		switch sink {
		case "log", "email":
		case "redis":
			if cfg.RedisAddr == "" {
				return nil, fmt.Errorf("REDIS_ADDR is required for the redis event sink")
			}
		case "kafka":
			if len(cfg.KafkaBrokers) == 0 {
				return nil, fmt.Errorf("KAFKA_BROKERS is required for the kafka event sink")
			}
		default:
			return nil, fmt.Errorf("unknown event sink %q", sink)
		}
	}

	return cfg, nil
}

// EmailEnabled reports whether SMTP delivery is configured.
func (c *Config) EmailEnabled() bool {
	return c.SMTPHost != ""
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
