package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	UseSupabase        bool

	// Postgres audit ledger (goose migrations run on start)
	DatabaseURL string

	// Daily spend counters
	RedisURL string

	// Events
	RabbitMQURL    string
	EventsExchange string

	// External collaborators
	FraudRegistryURL string
	HistoryAPIURL    string

	// Auth
	JWTSecret      string
	InternalAPIKey string

	// Workflow policy
	ApprovalTTL         time.Duration
	CoolingOff          time.Duration
	RiskCheckTimeout    time.Duration
	ExpirySweepSchedule string

	// Risk reference policy
	AnomalyMultiplier         int
	AnomalyWindow             time.Duration
	SuspiciousAmountThreshold int64
	DenyList                  []string // "bank:account" pairs
	KnownBanks                []string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		UseSupabase:        getEnvBool("USE_SUPABASE", false),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		RabbitMQURL:    getEnv("RABBITMQ_URL", ""),
		EventsExchange: getEnv("EVENTS_EXCHANGE", "guardian_transfer_events"),

		FraudRegistryURL: getEnv("FRAUD_REGISTRY_URL", ""),
		HistoryAPIURL:    getEnv("HISTORY_API_URL", ""),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		InternalAPIKey: getEnv("INTERNAL_API_KEY", ""),

		ApprovalTTL:         getEnvDuration("APPROVAL_TTL", 5*time.Minute),
		CoolingOff:          getEnvDuration("COOLING_OFF", 5*time.Second),
		RiskCheckTimeout:    getEnvDuration("RISK_CHECK_TIMEOUT", 3*time.Second),
		ExpirySweepSchedule: getEnv("EXPIRY_SWEEP_SCHEDULE", "@every 5s"),

		AnomalyMultiplier:         getEnvInt("ANOMALY_MULTIPLIER", 3),
		AnomalyWindow:             getEnvDuration("ANOMALY_WINDOW", 30*24*time.Hour),
		SuspiciousAmountThreshold: int64(getEnvInt("SUSPICIOUS_AMOUNT_THRESHOLD", 0)),
		DenyList:                  getEnvList("DENY_LIST"),
		KnownBanks:                getEnvList("KNOWN_BANKS"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
