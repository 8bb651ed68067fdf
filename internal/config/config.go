package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	PublicBaseURL  string
	LogLevel       string
	DatabaseURL    string
	UseMemoryStore bool

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Auth
	StaffJWTSecret   string
	OAuthStateSecret string

	// Scheduling
	DefaultTimezone    string
	StaffInitialStatus string

	// Google Calendar OAuth
	GoogleClientID            string
	GoogleClientSecret        string
	GoogleRedirectURL         string
	CalendarConnectSuccessURL string
	CalendarProviderTimeout   time.Duration
	CalendarRefreshLockTTL    time.Duration

	// AWS
	AWSRegion            string
	AWSAccessKeyID       string
	AWSSecretAccessKey   string
	AWSEndpointOverride  string
	AWSMaxAttempts       int
	NotificationQueueURL string
	SyncRetryQueueURL    string
	SyncLogTable         string
	SyncRetryMaxAttempts int
	NotificationWorkers  int

	// Kafka status event stream
	KafkaBrokers     []string
	KafkaStatusTopic string

	// Email
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SESConfigSet      string

	// HTTP
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Tracing
	OTelEnabled     bool
	OTelEndpoint    string
	OTelSampleRatio float64
	OTelServiceName string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		UseMemoryStore: getEnvAsBool("USE_MEMORY_STORE", false),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		StaffJWTSecret:   getEnv("STAFF_JWT_SECRET", ""),
		OAuthStateSecret: getEnv("OAUTH_STATE_SECRET", ""),

		DefaultTimezone:    getEnv("DEFAULT_TIMEZONE", "America/Sao_Paulo"),
		StaffInitialStatus: strings.ToLower(strings.TrimSpace(getEnv("STAFF_INITIAL_STATUS", "confirmed"))),

		GoogleClientID:            getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:        getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:         getEnv("GOOGLE_REDIRECT_URL", ""),
		CalendarConnectSuccessURL: getEnv("CALENDAR_CONNECT_SUCCESS_URL", ""),
		CalendarProviderTimeout:   getEnvAsDuration("CALENDAR_PROVIDER_TIMEOUT", 10*time.Second),
		CalendarRefreshLockTTL:    getEnvAsDuration("CALENDAR_REFRESH_LOCK_TTL", 15*time.Second),

		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:  getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		AWSMaxAttempts:       getEnvAsInt("AWS_MAX_ATTEMPTS", 3),
		NotificationQueueURL: getEnv("NOTIFICATION_QUEUE_URL", ""),
		SyncRetryQueueURL:    getEnv("SYNC_RETRY_QUEUE_URL", ""),
		SyncLogTable:         getEnv("SYNC_LOG_TABLE", ""),
		SyncRetryMaxAttempts: getEnvAsInt("SYNC_RETRY_MAX_ATTEMPTS", 5),
		NotificationWorkers:  getEnvAsInt("NOTIFICATION_WORKERS", 2),

		KafkaBrokers:     getEnvAsList("KAFKA_BROKERS"),
		KafkaStatusTopic: getEnv("KAFKA_STATUS_TOPIC", "appointments.status"),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Agenda"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESConfigSet:      getEnv("SES_CONFIGURATION_SET", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		OTelEnabled:     getEnvAsBool("OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelSampleRatio: getEnvAsFloat("OTEL_SAMPLING_RATIO", 1),
		OTelServiceName: getEnv("OTEL_SERVICE_NAME", "agenda-api"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
