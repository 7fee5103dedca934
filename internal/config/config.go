package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Admin     AdminConfig
	Cache     CacheConfig
	Catalog   CatalogConfig
	CRM       CRMConfig
	Database  DatabaseConfig
	Knowledge KnowledgeConfig
	Observe   ObserveConfig
	Server    ServerConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`

	// BookingRatePerMinute limits booking submissions per client address.
	BookingRatePerMinute int `env:"SERVER_BOOKING_RATE_PER_MIN, default=30"`
	BookingBurst         int `env:"SERVER_BOOKING_BURST, default=5"`
}

// CRMConfig holds the connection settings for the practice-management CRM.
type CRMConfig struct {
	BaseURL string `env:"CRM_BASE_URL, required"`

	ClientID string `env:"CRM_CLIENT_ID, required"`

	// Exactly one of ClientSecret or ClientSecretARN is expected. The ARN
	// form is resolved through AWS Secrets Manager at startup.
	ClientSecret    string `env:"CRM_CLIENT_SECRET"`
	ClientSecretARN string `env:"CRM_CLIENT_SECRET_ARN"`

	TimeoutSeconds int `env:"CRM_TIMEOUT_SECS, default=12"`

	// The schedule the portal books against. The CRM exposes bookings and
	// availability per facility, doctor and address.
	FacilityID int `env:"CRM_FACILITY_ID, default=1"`
	DoctorID   int `env:"CRM_DOCTOR_ID, default=10073"`
	AddressID  int `env:"CRM_ADDRESS_ID, default=1"`

	// HistoryFloor is the earliest date scanned when resolving patients.
	HistoryFloor string `env:"CRM_HISTORY_FLOOR, default=2020-01-01"`
}

// Timeout is the per-call bound applied to every CRM request.
func (c CRMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheConfig specifies cache configuration.
type CacheConfig struct {
	// Type selects the cache implementation: "memory" (default) or "redis"
	Type string `env:"CACHE_TYPE, default=memory"`

	// DirectoryTTL is how long the insurance provider list is served
	// before it is fetched again.
	DirectoryTTL time.Duration `env:"CACHE_DIRECTORY_TTL, default=1h"`

	// Redis holds distributed cache settings.
	Redis RedisConfig
}

// RedisConfig specifies distributed cache configuration.
type RedisConfig struct {
	// Address is the Redis server address (host:port).
	Address string `env:"REDIS_ADDRESS"`

	// TLS enables TLS connection to Redis. Defaults to true so the secure option
	// is the default.
	TLS bool `env:"REDIS_TLS, default=true"`

	Username string `env:"REDIS_USERNAME"`
	Password string `env:"REDIS_PASSWORD"`
}

type AdminConfig struct {
	// Key is the shared admin secret. It is both the login credential and
	// the HMAC key for session cookies. Admin routes are disabled when empty.
	Key          string        `env:"ADMIN_KEY"`
	SessionTTL   time.Duration `env:"ADMIN_SESSION_TTL, default=24h"`
	CookieSecure bool          `env:"ADMIN_COOKIE_SECURE, default=true"`

	// IngestAPIKey authenticates the automation that posts conversation
	// transcripts.
	IngestAPIKey string `env:"INGEST_API_KEY"`
}

type DatabaseConfig struct {
	URL     string `env:"DATABASE_URL"`
	Migrate bool   `env:"DATABASE_MIGRATE, default=true"`
}

type KnowledgeConfig struct {
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL, default=gemini-1.5-flash"`
}

type CatalogConfig struct {
	// File optionally overrides the embedded booking options catalog.
	File string `env:"BOOKING_CATALOG_FILE"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	PrometheusEnabled          bool   `env:"OBSERVE_PROMETHEUS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=clinic-portal"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.CRM.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid CRM configuration: %w", err)
	}

	err = cfg.Cache.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the CRM credentials can be resolved.
func (c *CRMConfig) Validate() error {
	if c.ClientSecret == "" && c.ClientSecretARN == "" {
		return fmt.Errorf("one of CRM_CLIENT_SECRET or CRM_CLIENT_SECRET_ARN is required")
	}

	if c.ClientSecret != "" && c.ClientSecretARN != "" {
		return fmt.Errorf("CRM_CLIENT_SECRET and CRM_CLIENT_SECRET_ARN are mutually exclusive")
	}

	if _, err := time.Parse(time.DateOnly, c.HistoryFloor); err != nil {
		return fmt.Errorf("CRM_HISTORY_FLOOR must be a YYYY-MM-DD date: %w", err)
	}

	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("CRM_TIMEOUT_SECS must be positive")
	}

	return nil
}

// Validate checks that the cache configuration is valid.
func (c *CacheConfig) Validate() error {
	switch c.Type {
	case "memory":
	case "redis":
		if c.Redis.Address == "" {
			return fmt.Errorf("REDIS_ADDRESS required when CACHE_TYPE=redis")
		}
	default:
		return fmt.Errorf("CACHE_TYPE must be either \"memory\" or \"redis\", got %q", c.Type)
	}

	if c.DirectoryTTL <= 0 {
		return fmt.Errorf("CACHE_DIRECTORY_TTL must be positive")
	}

	return nil
}
