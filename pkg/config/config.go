package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store types
const (
	StoreTypePostgres = "postgres"
	StoreTypeMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Store configuration
	Store StoreConfig

	// Cache configuration for tenant lookups
	Cache CacheConfig

	// Tenancy configuration
	Tenancy TenancyConfig

	// Auth configuration
	Auth AuthConfig

	// Authz configuration
	Authz AuthzConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StoreConfig selects and tunes the membership store
type StoreConfig struct {
	Type            string
	PostgresURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// QueryTimeout bounds every store call
	QueryTimeout time.Duration

	// ProbeTimeout bounds the startup capability probe
	ProbeTimeout time.Duration

	// RunMigrations applies the schema at startup
	RunMigrations bool
}

// CacheConfig holds the API-key and subdomain lookup cache settings
type CacheConfig struct {
	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
	RedisTTL      time.Duration

	L1Size int
	L1TTL  time.Duration

	// APIKeyTTL caches API-key mappings. Zero looks every key up so
	// revocation applies on the next request.
	APIKeyTTL time.Duration
}

// TenancyConfig holds tenant resolution settings
type TenancyConfig struct {
	// DefaultTenantID is the fallback tenant. Empty disables the fallback.
	DefaultTenantID    string
	BaseDomain         string
	ReservedSubdomains []string
	OwnerBypassEnabled bool
	APIKeyHeader       string
	TenantHeader       string
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string

	OIDCIssuerURL string
	OIDCClientID  string

	// FailedAttemptLimit is the number of invalid tokens one client may
	// present per window. Zero disables throttling.
	FailedAttemptLimit  int
	FailedAttemptWindow time.Duration
}

// AuthzConfig holds permission engine settings
type AuthzConfig struct {
	// CatalogPath points to a YAML catalog. Empty selects the built-in catalog.
	CatalogPath  string
	CheckTimeout time.Duration
	AuditTimeout time.Duration

	// AuditLogSink also writes audit events to the application log
	AuditLogSink bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Store:         loadStoreConfig(),
		Cache:         loadCacheConfig(),
		Tenancy:       loadTenancyConfig(),
		Auth:          loadAuthConfig(),
		Authz:         loadAuthzConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TENANTGUARD_HOST", "0.0.0.0"),
		Port:            getEnv("TENANTGUARD_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TENANTGUARD_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TENANTGUARD_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TENANTGUARD_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TENANTGUARD_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("TENANTGUARD_HEALTH_PORT", "9090"),
	}
}

// loadStoreConfig loads store configuration from environment
func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Type:            strings.ToLower(getEnv("TENANTGUARD_STORE_TYPE", StoreTypePostgres)),
		PostgresURL:     getEnv("TENANTGUARD_POSTGRES_URL", ""),
		MaxOpenConns:    getEnvInt("TENANTGUARD_POSTGRES_MAX_CONNS", 20),
		MaxIdleConns:    getEnvInt("TENANTGUARD_POSTGRES_MIN_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("TENANTGUARD_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		QueryTimeout:    getEnvDuration("TENANTGUARD_STORE_TIMEOUT", 2*time.Second),
		ProbeTimeout:    getEnvDuration("TENANTGUARD_PROBE_TIMEOUT", 5*time.Second),
		RunMigrations:   getEnvBool("TENANTGUARD_RUN_MIGRATIONS", false),
	}
}

// loadCacheConfig loads cache configuration from environment
func loadCacheConfig() CacheConfig {
	return CacheConfig{
		RedisURL:      getEnv("TENANTGUARD_REDIS_URL", ""),
		RedisPassword: getEnv("TENANTGUARD_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("TENANTGUARD_REDIS_DB", 0),
		RedisPoolSize: getEnvInt("TENANTGUARD_REDIS_POOL_SIZE", 10),
		RedisTTL:      getEnvDuration("TENANTGUARD_REDIS_TTL", 10*time.Minute),
		L1Size:        getEnvInt("TENANTGUARD_L1_CACHE_SIZE", 10000),
		L1TTL:         getEnvDuration("TENANTGUARD_L1_CACHE_TTL", time.Minute),
		APIKeyTTL:     getEnvDuration("TENANTGUARD_APIKEY_CACHE_TTL", 0),
	}
}

// loadTenancyConfig loads tenant resolution configuration from environment
func loadTenancyConfig() TenancyConfig {
	return TenancyConfig{
		DefaultTenantID:    getEnv("TENANTGUARD_DEFAULT_TENANT_ID", ""),
		BaseDomain:         getEnv("TENANTGUARD_BASE_DOMAIN", ""),
		ReservedSubdomains: getEnvList("TENANTGUARD_RESERVED_SUBDOMAINS"),
		OwnerBypassEnabled: getEnvBool("TENANTGUARD_OWNER_BYPASS_ENABLED", false),
		APIKeyHeader:       getEnv("TENANTGUARD_API_KEY_HEADER", "X-API-Key"),
		TenantHeader:       getEnv("TENANTGUARD_TENANT_HEADER", "X-Tenant-ID"),
	}
}

// loadAuthConfig loads token verification configuration from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:           getEnv("TENANTGUARD_JWT_SECRET", ""),
		JWTIssuer:           getEnv("TENANTGUARD_JWT_ISSUER", "tenantguard"),
		OIDCIssuerURL:       getEnv("TENANTGUARD_OIDC_ISSUER_URL", ""),
		OIDCClientID:        getEnv("TENANTGUARD_OIDC_CLIENT_ID", ""),
		FailedAttemptLimit:  getEnvInt("TENANTGUARD_FAILED_AUTH_LIMIT", 20),
		FailedAttemptWindow: getEnvDuration("TENANTGUARD_FAILED_AUTH_WINDOW", time.Minute),
	}
}

// loadAuthzConfig loads permission engine configuration from environment
func loadAuthzConfig() AuthzConfig {
	return AuthzConfig{
		CatalogPath:  getEnv("TENANTGUARD_CATALOG_PATH", ""),
		CheckTimeout: getEnvDuration("TENANTGUARD_CHECK_TIMEOUT", 2*time.Second),
		AuditTimeout: getEnvDuration("TENANTGUARD_AUDIT_TIMEOUT", 2*time.Second),
		AuditLogSink: getEnvBool("TENANTGUARD_AUDIT_LOG_SINK", false),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           strings.ToLower(getEnv("TENANTGUARD_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TENANTGUARD_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TENANTGUARD_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TENANTGUARD_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TENANTGUARD_OTEL_SERVICE_NAME", "tenantguard"),
		OTelServiceVersion: getEnv("TENANTGUARD_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TENANTGUARD_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("TENANTGUARD_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Server.HealthPort == "" {
		return errors.New("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return errors.New("server port and health port must be different")
	}

	// Validate store config based on type
	switch c.Store.Type {
	case StoreTypePostgres:
		if c.Store.PostgresURL == "" {
			return errors.New("postgres URL is required for postgres store")
		}
	case StoreTypeMemory:
	default:
		return fmt.Errorf("invalid store type: %s (must be postgres or memory)", c.Store.Type)
	}
	if c.Store.QueryTimeout <= 0 {
		return errors.New("store timeout must be positive")
	}

	if c.Cache.APIKeyTTL < 0 {
		return errors.New("api key cache ttl must not be negative")
	}

	// Validate tenancy config
	if c.Tenancy.DefaultTenantID != "" {
		if _, err := uuid.Parse(c.Tenancy.DefaultTenantID); err != nil {
			return fmt.Errorf("default tenant id must be a UUID: %w", err)
		}
	}
	if c.Tenancy.APIKeyHeader == "" || c.Tenancy.TenantHeader == "" {
		return errors.New("api key and tenant header names are required")
	}
	if strings.EqualFold(c.Tenancy.APIKeyHeader, c.Tenancy.TenantHeader) {
		return errors.New("api key header and tenant header must be different")
	}

	// Validate auth config
	if c.Auth.JWTSecret == "" && c.Auth.OIDCIssuerURL == "" {
		return errors.New("a JWT secret or an OIDC issuer is required")
	}
	if c.Auth.JWTSecret != "" && c.Auth.JWTIssuer == "" {
		return errors.New("JWT issuer is required when a JWT secret is set")
	}
	if c.Auth.OIDCIssuerURL != "" && c.Auth.OIDCClientID == "" {
		return errors.New("OIDC client id is required when an OIDC issuer is set")
	}
	if c.Auth.FailedAttemptLimit > 0 && c.Auth.FailedAttemptWindow <= 0 {
		return errors.New("failed auth window must be positive when a limit is set")
	}

	// Validate authz config
	if c.Authz.CheckTimeout <= 0 || c.Authz.AuditTimeout <= 0 {
		return errors.New("check and audit timeouts must be positive")
	}

	// Validate observability config
	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Observability.LogLevel)
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return errors.New("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return errors.New("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return errors.New("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable, or nil when unset
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
