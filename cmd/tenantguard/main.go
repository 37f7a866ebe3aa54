package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/config"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/middleware"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
	"github.com/platinummonkey/tenantguard/pkg/store"
	"github.com/platinummonkey/tenantguard/pkg/tenants"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("tenantguard exited with error")
	}
}

// backend is the membership store plus the handles main needs to close
type backend struct {
	db    *sql.DB
	store store.MembershipStore
	admin store.RoleAdminStore
	caps  store.Capabilities
	audit audit.Logger
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"version": version,
		"store":   cfg.Store.Type,
	}).Info("Starting tenantguard")

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}
	otelMetrics, err := observability.NewOTelMetrics()
	if err != nil {
		return fmt.Errorf("failed to create otel instruments: %w", err)
	}

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Cache.RedisURL != "" {
		redisClient, err = openRedis(ctx, cfg.Cache)
		if err != nil {
			return err
		}
	}

	lookups := store.NewCachedLookups(be.store, redisClient, store.CacheConfig{
		L1Size:      cfg.Cache.L1Size,
		L1TTL:       cfg.Cache.L1TTL,
		RedisTTL:    cfg.Cache.RedisTTL,
		APIKeyTTL:   cfg.Cache.APIKeyTTL,
		LoadTimeout: cfg.Store.QueryTimeout,
	}, logger)
	lookups.Observe(metrics.RecordCacheLookup)

	catalog := rbac.DefaultCatalog()
	if cfg.Authz.CatalogPath != "" {
		catalog, err = rbac.LoadCatalogFile(cfg.Authz.CatalogPath)
		if err != nil {
			return fmt.Errorf("failed to load permission catalog: %w", err)
		}
	}

	engine, err := rbac.NewEngine(rbac.EngineConfig{
		Catalog:      catalog,
		Store:        lookups,
		Audit:        be.audit,
		Metrics:      metrics,
		OTel:         otelMetrics,
		Logger:       logger,
		StoreTimeout: cfg.Authz.CheckTimeout,
		AuditTimeout: cfg.Authz.AuditTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create permission engine: %w", err)
	}
	admin := rbac.NewAdmin(engine, be.admin)

	resolver, err := tenants.NewResolver(tenants.Config{
		DefaultTenantID:    cfg.Tenancy.DefaultTenantID,
		BaseDomain:         cfg.Tenancy.BaseDomain,
		ReservedSubdomains: cfg.Tenancy.ReservedSubdomains,
		OwnerBypassEnabled: cfg.Tenancy.OwnerBypassEnabled,
		Capabilities:       be.caps,
		Store:              lookups,
		Audit:              be.audit,
		Metrics:            metrics,
		OTel:               otelMetrics,
		Logger:             logger,
		StoreTimeout:       cfg.Store.QueryTimeout,
		AuditTimeout:       cfg.Authz.AuditTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create tenant resolver: %w", err)
	}

	verifier, err := buildVerifier(ctx, cfg.Auth)
	if err != nil {
		return err
	}

	guard, err := middleware.NewGuard(middleware.GuardConfig{
		Verifier:     verifier,
		Resolver:     resolver,
		Engine:       engine,
		Limiter:      buildLimiter(ctx, cfg.Auth, redisClient),
		APIKeyHeader: cfg.Tenancy.APIKeyHeader,
		TenantHeader: cfg.Tenancy.TenantHeader,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create route guard: %w", err)
	}

	router := mux.NewRouter()
	router.Use(middleware.Correlation(logger))
	router.Use(middleware.Instrument(metrics))
	router.Use(httputil.RecoveryMiddleware(logger))
	router.Use(httputil.LoggingMiddleware(logger))

	rbac.NewHandlers(engine, admin, logger).RegisterRoutes(router, guard.Bind)
	if searcher, ok := be.audit.(audit.Searcher); ok {
		router.Handle("/v1/audit/events",
			guard.ProtectStrict("audit:read")(http.HandlerFunc(audit.NewHandlers(searcher, logger).ListEvents)),
		).Methods(http.MethodGet)
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "tenantguard"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, observability.NewHealthChecker(be.db, redisClient, version))
	if metrics != nil {
		healthRouter.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	healthServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      healthRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("health server", healthServer.Shutdown)
	shutdown.Register("audit", func(context.Context) error { return be.audit.Close() })
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	if be.db != nil {
		shutdown.Register("database", func(context.Context) error { return be.db.Close() })
	}
	if providers != nil {
		shutdown.Register("otel", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", server.Addr).Info("API server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return shutdown.Wait(gctx)
	})

	return g.Wait()
}

// openBackend connects the configured membership store and its audit sink
func openBackend(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*backend, error) {
	var sinks []audit.Logger
	if cfg.Authz.AuditLogSink {
		sinks = append(sinks, audit.NewLogrusLogger(logger))
	}

	if cfg.Store.Type == config.StoreTypeMemory {
		logger.Warn("Using the in-memory store; memberships are lost on restart")
		mem := store.NewMemoryStore()
		seedMemoryStore(mem, cfg.Tenancy.DefaultTenantID)

		return &backend{
			store: mem,
			admin: mem,
			caps:  store.Capabilities{Subdomains: true, APIKeys: true},
			audit: audit.NewMultiLogger(append([]audit.Logger{audit.NewRecorder()}, sinks...)...),
		}, nil
	}

	db, err := sql.Open("postgres", cfg.Store.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Store.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Store.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Store.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Store.RunMigrations {
		logger.Info("Applying schema migrations")
		if err := store.Migrate(ctx, db, true); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	caps, err := store.ProbeCapabilities(ctx, db, cfg.Store.ProbeTimeout)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to probe store capabilities: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"subdomains": caps.Subdomains,
		"api_keys":   caps.APIKeys,
	}).Info("Store capabilities probed")

	dbAudit, err := audit.NewDBLogger(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}

	pg := store.NewPostgresStore(db, cfg.Store.QueryTimeout)
	return &backend{
		db:    db,
		store: pg,
		admin: pg,
		caps:  caps,
		audit: audit.NewMultiLogger(append([]audit.Logger{dbAudit}, sinks...)...),
	}, nil
}

// seedMemoryStore installs the system roles and, when configured, an active
// default tenant so a fresh in-memory deployment can serve requests.
func seedMemoryStore(mem *store.MemoryStore, defaultTenantID string) {
	for _, tmpl := range rbac.SystemRoles() {
		perms := make([]string, 0, len(tmpl.Permissions))
		for _, p := range tmpl.Permissions {
			perms = append(perms, p.String())
		}
		mem.PutRole(store.Role{
			Name:        tmpl.Name,
			Description: tmpl.Description,
			IsSystem:    true,
			Permissions: perms,
		})
	}
	if defaultTenantID != "" {
		mem.PutTenant(store.Tenant{
			ID:     defaultTenantID,
			Name:   "Default",
			Slug:   "default",
			Status: store.TenantStatusActive,
		})
	}
}

func openRedis(ctx context.Context, cfg config.CacheConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB != 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// buildVerifier chains the configured token verifiers, HMAC first
func buildVerifier(ctx context.Context, cfg config.AuthConfig) (auth.Verifier, error) {
	var chain auth.Chain
	if cfg.JWTSecret != "" {
		v, err := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
		if err != nil {
			return nil, fmt.Errorf("failed to create jwt verifier: %w", err)
		}
		chain = append(chain, v)
	}
	if cfg.OIDCIssuerURL != "" {
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			return nil, fmt.Errorf("failed to create oidc verifier: %w", err)
		}
		chain = append(chain, v)
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return chain, nil
}

// buildLimiter returns the failed-attempt limiter, shared through Redis when
// one is configured. A zero limit disables throttling.
func buildLimiter(ctx context.Context, cfg config.AuthConfig, redisClient *redis.Client) middleware.AttemptLimiter {
	if cfg.FailedAttemptLimit <= 0 {
		return nil
	}
	limits := &middleware.RateLimitConfig{
		MaxFailures:    cfg.FailedAttemptLimit,
		WindowDuration: cfg.FailedAttemptWindow,
	}
	if redisClient != nil {
		return middleware.NewDistributedRateLimiter(redisClient, limits, "")
	}
	limiter := middleware.NewRateLimiter(limits)
	limiter.StartCleanup(ctx)
	return limiter
}
