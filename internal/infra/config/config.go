package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL   string
	LogLevel      string
	Environment   string
	HTTPAddr      string   // serves /metrics and /healthz
	Locale        string   // locale for messages produced outside a request
	ElevatedRoles []string // roles allowed to revoke grants of others

	KafkaBrokers     []string // empty disables Kafka; mails are then only logged
	KafkaMailTopic   string
	KafkaEventTopic  string
	KafkaSignupTopic string
	KafkaSignupGroup string

	TelegramToken     string // empty disables the bot and push delivery
	AdminTelegramID   int64
	AdminUserID       string // account acting for the admin chat
	SendNotifications bool

	CronSpecExpire   string
	CronSpecRevoked  string
	CronSpecMatch    string
	CronSpecFollowup string
	SweepConcurrency int
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds the configuration from lookup, which has the
// signature of os.LookupEnv.
func FromLookup(lookup func(string) (string, bool)) (*AppConfig, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg := &AppConfig{}
	var err error

	cfg.DatabaseURL = get("DATABASE_URL", "")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.LogLevel = strings.ToLower(get("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(get("ENVIRONMENT", "development"))
	cfg.HTTPAddr = get("HTTP_ADDR", ":9090")
	cfg.Locale = get("LOCALE", "en-US")
	cfg.ElevatedRoles = splitList(get("ELEVATED_ROLES", "admin,supporter"))

	cfg.KafkaBrokers = splitList(get("KAFKA_BROKERS", ""))
	cfg.KafkaMailTopic = get("KAFKA_MAIL_TOPIC", "access-mails")
	cfg.KafkaEventTopic = get("KAFKA_EVENT_TOPIC", "access-grant-events")
	cfg.KafkaSignupTopic = get("KAFKA_SIGNUP_TOPIC", "user-signups")
	cfg.KafkaSignupGroup = get("KAFKA_SIGNUP_GROUP", "access-grant-service")

	cfg.TelegramToken = get("TELEGRAM_TOKEN", "")
	if cfg.TelegramToken != "" {
		adminIDStr := get("ADMIN_TELEGRAM_ID", "")
		if adminIDStr == "" {
			return nil, fmt.Errorf("ADMIN_TELEGRAM_ID is not set")
		}
		cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
		cfg.AdminUserID = get("ADMIN_USER_ID", "")
		if cfg.AdminUserID == "" {
			return nil, fmt.Errorf("ADMIN_USER_ID is not set")
		}
	}
	cfg.SendNotifications, err = strconv.ParseBool(get("SEND_NOTIFICATIONS", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid SEND_NOTIFICATIONS: %w", err)
	}

	cfg.CronSpecExpire = get("CRON_SPEC_EXPIRE", "*/10 * * * *")  // every 10 minutes
	cfg.CronSpecRevoked = get("CRON_SPEC_REVOKED", "*/5 * * * *") // every 5 minutes
	cfg.CronSpecMatch = get("CRON_SPEC_MATCH", "*/15 * * * *")    // every 15 minutes
	cfg.CronSpecFollowup = get("CRON_SPEC_FOLLOWUP", "0 9 * * *") // 9 AM daily

	cfg.SweepConcurrency, err = strconv.Atoi(get("SWEEP_CONCURRENCY", "4"))
	if err != nil || cfg.SweepConcurrency < 1 {
		return nil, fmt.Errorf("invalid SWEEP_CONCURRENCY %q", get("SWEEP_CONCURRENCY", ""))
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
