package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// PayPalConfig holds the REST app credentials.
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	APIBase      string
}

// StripeConfig holds the secret key and an optional API override.
type StripeConfig struct {
	SecretKey string
	APIURL    string
}

// VNPayConfig holds the merchant terminal settings.
type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	Host       string
	Rate       int64
}

// GooglePayConfig holds the merchant and gateway settings.
type GooglePayConfig struct {
	Environment       string
	MerchantName      string
	MerchantID        string
	Gateway           string
	GatewayMerchantID string
}

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv        string
	Port          string
	PublicBaseURL string

	StoreDriver string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	SessionCookieName   string
	SessionCookieSecure bool
	SessionTTL          time.Duration

	ProviderTimeout time.Duration
	Currency        string
	PayPal          PayPalConfig
	Stripe          StripeConfig
	VNPay           VNPayConfig
	GooglePay       GooglePayConfig

	AdminToken         string
	CORSAllowedOrigins []string
	IdempotencyTTL     time.Duration
	RateLimitCheckout  string
	RateLimitAdmin     string
	MaxBodyBytes       int64

	OrderWebhookURL    string
	OrderWebhookSecret string
	WebhookTimeout     time.Duration
	WebhookReplayTTL   time.Duration

	KafkaBrokers      string
	KafkaOrderTopic   string
	WorkerConcurrency int

	CircuitProviderMinReq      int
	CircuitProviderFailureRate float64
	CircuitProviderOpenFor     time.Duration

	LogFormat          string
	LogLevel           string
	MetricsNamespace   string
	TracingExporter    string
	TracingEndpoint    string
	TracingSampleRatio float64
	ShutdownTimeout    time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:        valueOrDefault(k.String("APP_ENV"), "development"),
		Port:          valueOrDefault(k.String("PORT"), "8080"),
		PublicBaseURL: strings.TrimRight(valueOrDefault(k.String("PUBLIC_BASE_URL"), "http://localhost:8080"), "/"),

		StoreDriver: strings.ToLower(valueOrDefault(k.String("STORE_DRIVER"), DriverPostgres)),
		DatabaseURL: k.String("DATABASE_URL"),
		SQLitePath:  valueOrDefault(k.String("SQLITE_PATH"), "checkout.db"),
		RedisURL:    k.String("REDIS_URL"),

		SessionCookieName:   valueOrDefault(k.String("SESSION_COOKIE_NAME"), "toko_checkout"),
		SessionCookieSecure: parseBool(k.String("SESSION_COOKIE_SECURE")),
		SessionTTL:          parseDuration(k.String("SESSION_TTL"), "168h"),

		ProviderTimeout: parseDuration(k.String("PROVIDER_TIMEOUT"), "30s"),
		Currency:        strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "USD")),
		PayPal: PayPalConfig{
			ClientID:     k.String("PAYPAL_CLIENT_ID"),
			ClientSecret: k.String("PAYPAL_CLIENT_SECRET"),
			APIBase:      valueOrDefault(k.String("PAYPAL_API"), "https://api-m.sandbox.paypal.com"),
		},
		Stripe: StripeConfig{
			SecretKey: k.String("STRIPE_SECRET_KEY"),
			APIURL:    k.String("STRIPE_API_URL"),
		},
		VNPay: VNPayConfig{
			TmnCode:    k.String("VNPAY_TMN_CODE"),
			HashSecret: k.String("VNPAY_HASH_SECRET"),
			Host:       valueOrDefault(k.String("VNPAY_HOST"), "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),
			Rate:       parseInt64(k.String("VNPAY_RATE"), 24000),
		},
		GooglePay: GooglePayConfig{
			Environment:       valueOrDefault(k.String("GOOGLEPAY_ENV"), "TEST"),
			MerchantName:      valueOrDefault(k.String("GOOGLEPAY_MERCHANT_NAME"), "Demo Store"),
			MerchantID:        k.String("GOOGLEPAY_MERCHANT_ID"),
			Gateway:           valueOrDefault(k.String("GOOGLEPAY_GATEWAY"), "example"),
			GatewayMerchantID: valueOrDefault(k.String("GOOGLEPAY_GATEWAY_MERCHANT_ID"), "exampleGatewayMerchantId"),
		},

		AdminToken:         strings.TrimSpace(k.String("ADMIN_TOKEN")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		RateLimitCheckout:  valueOrDefault(k.String("RATE_LIMIT_CHECKOUT"), "30-M"),
		RateLimitAdmin:     valueOrDefault(k.String("RATE_LIMIT_ADMIN"), "10-M"),
		MaxBodyBytes:       parseInt64(k.String("MAX_BODY_BYTES"), 1<<20),

		OrderWebhookURL:    strings.TrimSpace(k.String("ORDER_WEBHOOK_URL")),
		OrderWebhookSecret: k.String("ORDER_WEBHOOK_SECRET"),
		WebhookTimeout:     parseDuration(k.String("WEBHOOK_TIMEOUT"), "5s"),
		WebhookReplayTTL:   parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),

		KafkaBrokers:      k.String("KAFKA_BROKERS"),
		KafkaOrderTopic:   valueOrDefault(k.String("KAFKA_ORDER_TOPIC"), "checkout.orders"),
		WorkerConcurrency: int(parseInt64(k.String("WORKER_CONCURRENCY"), 10)),

		CircuitProviderMinReq:      int(parseInt64(k.String("CIRCUIT_PROVIDER_MIN_REQ"), 10)),
		CircuitProviderFailureRate: parseFloat(k.String("CIRCUIT_PROVIDER_FAILURE_RATE"), 0.5),
		CircuitProviderOpenFor:     parseDuration(k.String("CIRCUIT_PROVIDER_OPEN_FOR"), "30s"),

		LogFormat:          valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:           valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsNamespace:   valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "toko_checkout"),
		TracingExporter:    valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "none"),
		TracingEndpoint:    k.String("OBS_TRACING_ENDPOINT"),
		TracingSampleRatio: parseFloat(k.String("OBS_TRACING_SAMPLE_RATIO"), 1),
		ShutdownTimeout:    parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case DriverSQLite:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.StoreDriver)
	}
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	if c.VNPay.Rate <= 0 {
		return errors.New("VNPAY_RATE must be positive")
	}
	if c.OrderWebhookURL != "" && c.OrderWebhookSecret == "" {
		return errors.New("ORDER_WEBHOOK_SECRET is required when ORDER_WEBHOOK_URL is set")
	}
	if c.ProviderTimeout <= 0 {
		return errors.New("PROVIDER_TIMEOUT must be positive")
	}
	return nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// URL joins path onto the public base URL.
func (c *Config) URL(path string) string {
	return c.PublicBaseURL + "/" + strings.TrimLeft(path, "/")
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt64(value string, fallback int64) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseFloat(value string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
