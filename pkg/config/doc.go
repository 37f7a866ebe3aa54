// Package config provides application configuration management from environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	TENANTGUARD_HOST="0.0.0.0"
//	TENANTGUARD_PORT="8080"
//	TENANTGUARD_HEALTH_PORT="9090"
//	TENANTGUARD_SHUTDOWN_TIMEOUT="30s"
//
// Store settings:
//
//	TENANTGUARD_STORE_TYPE="postgres"  # postgres, memory
//	TENANTGUARD_POSTGRES_URL="postgres://localhost/tenantguard?sslmode=disable"
//	TENANTGUARD_POSTGRES_MAX_CONNS="20"
//	TENANTGUARD_STORE_TIMEOUT="2s"
//	TENANTGUARD_RUN_MIGRATIONS="false"
//
// Tenant lookup cache:
//
//	TENANTGUARD_REDIS_URL="redis://localhost:6379"
//	TENANTGUARD_REDIS_TTL="10m"
//	TENANTGUARD_L1_CACHE_SIZE="10000"
//	TENANTGUARD_L1_CACHE_TTL="1m"
//	TENANTGUARD_APIKEY_CACHE_TTL="0s"  # 0 disables API-key caching
//
// Tenancy:
//
//	TENANTGUARD_DEFAULT_TENANT_ID=""  # empty disables the fallback tenant
//	TENANTGUARD_BASE_DOMAIN="example.com"
//	TENANTGUARD_RESERVED_SUBDOMAINS="www,api,app"
//	TENANTGUARD_OWNER_BYPASS_ENABLED="false"
//	TENANTGUARD_API_KEY_HEADER="X-API-Key"
//	TENANTGUARD_TENANT_HEADER="X-Tenant-ID"
//
// Authentication and authorization:
//
//	TENANTGUARD_JWT_SECRET="..."
//	TENANTGUARD_JWT_ISSUER="tenantguard"
//	TENANTGUARD_OIDC_ISSUER_URL="https://id.example.com"
//	TENANTGUARD_OIDC_CLIENT_ID="tenantguard"
//	TENANTGUARD_FAILED_AUTH_LIMIT="20"
//	TENANTGUARD_CATALOG_PATH="/etc/tenantguard/catalog.yaml"
//	TENANTGUARD_CHECK_TIMEOUT="2s"
//
// Observability settings:
//
//	TENANTGUARD_LOG_LEVEL="info"  # debug, info, warn, error
//	TENANTGUARD_METRICS_ENABLED="true"
//	TENANTGUARD_OTEL_ENABLED="true"
//	TENANTGUARD_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
