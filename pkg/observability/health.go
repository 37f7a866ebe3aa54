package observability

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/httputil"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker reports liveness and readiness. The database is required;
// Redis only caches tenant lookups, so losing it degrades instead of failing.
type HealthChecker struct {
	db      *sql.DB
	redis   *redis.Client
	version string
	timeout time.Duration
}

// NewHealthChecker creates a health checker. db and redisClient may be nil.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, version string) *HealthChecker {
	return &HealthChecker{
		db:      db,
		redis:   redisClient,
		version: version,
		timeout: 5 * time.Second,
	}
}

// Liveness always answers 200 while the process serves requests
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	})
}

// Readiness answers 503 when a required dependency is unhealthy
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, status)
}

// Check probes every configured dependency
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}

	if h.db != nil {
		dep := h.checkDatabase(ctx)
		status.Dependencies["database"] = dep
		status.Status = worst(status.Status, dep.Status)
	}

	if h.redis != nil {
		dep := h.checkRedis(ctx)
		status.Dependencies["redis"] = dep
		if dep.Status != StatusHealthy {
			status.Status = worst(status.Status, StatusDegraded)
		}
	}

	return status
}

func (h *HealthChecker) checkDatabase(ctx context.Context) DependencyStatus {
	start := time.Now()
	dep := DependencyStatus{Status: StatusHealthy, Timestamp: start.UTC()}

	var one int
	err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	dep.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = "query failed: " + err.Error()
		return dep
	}

	stats := h.db.Stats()
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		dep.Status = StatusDegraded
		dep.Message = "connection pool exhausted"
	}
	return dep
}

func (h *HealthChecker) checkRedis(ctx context.Context) DependencyStatus {
	start := time.Now()
	dep := DependencyStatus{Status: StatusHealthy, Timestamp: start.UTC()}

	err := h.redis.Ping(ctx).Err()
	dep.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
	}
	return dep
}

func worst(a, b string) string {
	rank := map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// RegisterHealthRoutes mounts /healthz and /readyz on router
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/healthz", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", checker.Readiness).Methods(http.MethodGet)
}
