package config

import (
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
	FrontendURL string

	Telemetry TelemetryConfig

	DBType            string
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

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimit RateLimitConfig

	Gateway GatewayConfig

	ReconcilerConfigPath string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	environment := getenv("ENVIRONMENT", getenv("NODE_ENV", "development"))
	if environment != EnvProduction {
		_ = godotenv.Load()
		environment = getenv("ENVIRONMENT", getenv("NODE_ENV", "development"))
	}

	addr := getenv("HTTP_ADDR", "")
	if addr == "" {
		addr = ":" + getenv("PORT", "5000")
	}

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "invoicepay"),
		AppVersion:        getenv("SERVICE_VERSION", getenv("APP_VERSION", "0.1.0")),
		Environment:       environment,
		HTTPAddr:          addr,
		FrontendURL:       getenv("FRONTEND_URL", "https://invoice-pay.netlify.app"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "invoicepay"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "require"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           getenvInt("REDIS_DB", 0),
		Telemetry: TelemetryConfig{
			DeploymentEnv: strings.TrimSpace(getenv("DEPLOYMENT_ENV", environment)),
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:   getenvBool("OTEL_ENABLED", true),
			OTLPEndpoint:  strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317"))),
			OTLPProtocol: strings.ToLower(strings.TrimSpace(
				getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
			)),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		RateLimit: RateLimitConfig{
			Enabled: getenvBool("RATE_LIMIT_ENABLED", false),
			Rate:    getenvFloat("RATE_LIMIT_RATE", 1),
			Burst:   getenvInt("RATE_LIMIT_BURST", 10),
		},
		Gateway: GatewayConfig{
			AppID:             strings.TrimSpace(getenv("CASHFREE_APP_ID", "")),
			Secret:            strings.TrimSpace(getenv("CASHFREE_SECRET", "")),
			WebhookSecret:     strings.TrimSpace(getenv("CASHFREE_WEBHOOK_SECRET", "")),
			Env:               normalizeGatewayEnv(getenv("CASHFREE_ENV", GatewayEnvSandbox)),
			BaseURLOverride:   strings.TrimSpace(getenv("CASHFREE_BASE_URL", "")),
			APIVersion:        getenv("CASHFREE_API_VERSION", DefaultGatewayAPIVersion),
			Timeout:           getenvDuration("GATEWAY_TIMEOUT", 15*time.Second),
			WebhookTestBypass: getenvBool("CASHFREE_WEBHOOK_TEST_BYPASS", false),
		},
		ReconcilerConfigPath: strings.TrimSpace(getenv("RECONCILER_CONFIG_PATH", "")),
	}

	return cfg
}

// TelemetryConfig drives logging and OTLP export. DeploymentEnv labels telemetry and
// defaults to Environment.
type TelemetryConfig struct {
	DeploymentEnv string
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OTLPEndpoint  string
	OTLPProtocol  string
	SamplingRatio float64
}

// RateLimitConfig bounds gateway-bound requests per client address. Rate is tokens per second.
type RateLimitConfig struct {
	Enabled bool
	Rate    float64
	Burst   int
}

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), EnvProduction)
}

// WebhookBypassAllowed reports whether dashboard test deliveries may skip signature checks.
func (c Config) WebhookBypassAllowed() bool {
	return c.Gateway.WebhookTestBypass && !c.IsProduction()
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
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
