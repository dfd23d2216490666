package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBURL             string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Billing   BillingConfig
	Redis     RedisConfig
	Supabase  SupabaseConfig
	Reconcile ReconcileConfig
}

// BillingConfig carries webhook secrets per payment provider.
type BillingConfig struct {
	StripeWebhookSecret     string
	StripeWebhookTolerance  time.Duration
	AbacatePayWebhookSecret string
	AbacatePayPeriodDays    int
	WebhookRateLimit        float64
	WebhookRateBurst        int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SupabaseConfig struct {
	URL       string
	JWTSecret string
}

type ReconcileConfig struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "praxis"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBURL:             strings.TrimSpace(getenv("DATABASE_URL", "")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Billing: BillingConfig{
			StripeWebhookSecret:     strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			StripeWebhookTolerance:  getenvDuration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
			AbacatePayWebhookSecret: strings.TrimSpace(getenv("ABACATEPAY_WEBHOOK_SECRET", "")),
			AbacatePayPeriodDays:    getenvInt("ABACATEPAY_PERIOD_DAYS", 30),
			WebhookRateLimit:        getenvFloat("WEBHOOK_RATE_LIMIT", 20),
			WebhookRateBurst:        getenvInt("WEBHOOK_RATE_BURST", 40),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Supabase: SupabaseConfig{
			URL:       strings.TrimSpace(getenv("SUPABASE_URL", "")),
			JWTSecret: strings.TrimSpace(getenv("SUPABASE_JWT_SECRET", "")),
		},
		Reconcile: ReconcileConfig{
			Enabled:   getenvBool("RECONCILE_ENABLED", true),
			Interval:  getenvDuration("RECONCILE_INTERVAL", 5*time.Minute),
			BatchSize: getenvInt("RECONCILE_BATCH_SIZE", 100),
		},
	}

	if cfg.Billing.StripeWebhookSecret == "" && cfg.Billing.AbacatePayWebhookSecret == "" {
		log.Println("no webhook secrets configured; every webhook will be rejected")
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// WebhookSecrets returns the configured secret per provider, skipping blanks.
func (c BillingConfig) WebhookSecrets() map[string]string {
	out := map[string]string{}
	if c.StripeWebhookSecret != "" {
		out["stripe"] = c.StripeWebhookSecret
	}
	if c.AbacatePayWebhookSecret != "" {
		out["abacatepay"] = c.AbacatePayWebhookSecret
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
