package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the authorization core
type Metrics struct {
	registry *prometheus.Registry

	// PermissionDenials counts denied checks, labeled by the permission asked for
	PermissionDenials *prometheus.CounterVec

	// ChecksTotal counts every check by result and reason
	ChecksTotal *prometheus.CounterVec

	// TenantResolutions counts resolver outcomes by source
	TenantResolutions *prometheus.CounterVec

	// OwnerBypasses counts requests served through the owner-device bypass
	OwnerBypasses prometheus.Counter

	// AuditWriteFailures counts audit rows that could not be written
	AuditWriteFailures *prometheus.CounterVec

	// StoreErrors counts store lookups that failed as unavailable
	StoreErrors *prometheus.CounterVec

	// CacheLookups counts subdomain and API-key cache hits and misses
	CacheLookups *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on registry. A nil registry
// gets a fresh one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		PermissionDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_permission_denials_total",
				Help: "Total number of denied permission checks",
			},
			[]string{"permission"},
		),
		ChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_permission_checks_total",
				Help: "Total number of permission checks",
			},
			[]string{"result", "reason"},
		),
		TenantResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_tenant_resolutions_total",
				Help: "Total number of tenant resolutions",
			},
			[]string{"source", "outcome"},
		),
		OwnerBypasses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantguard_owner_bypass_total",
				Help: "Total number of requests resolved through the owner-device bypass",
			},
		),
		AuditWriteFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_audit_write_failures_total",
				Help: "Total number of audit events that could not be written",
			},
			[]string{"kind"},
		),
		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_store_errors_total",
				Help: "Total number of store lookups that failed as unavailable",
			},
			[]string{"operation"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_cache_lookups_total",
				Help: "Total number of tenant lookup cache hits and misses",
			},
			[]string{"kind", "result"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantguard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		m.PermissionDenials,
		m.ChecksTotal,
		m.TenantResolutions,
		m.OwnerBypasses,
		m.AuditWriteFailures,
		m.StoreErrors,
		m.CacheLookups,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// Registry returns the registry the metrics were registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordCheck counts one permission check. Denials are also counted per permission.
func (m *Metrics) RecordCheck(permission string, allowed bool, reason string) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.ChecksTotal.WithLabelValues(result, reason).Inc()
	if !allowed {
		m.PermissionDenials.WithLabelValues(permission).Inc()
	}
}

// RecordResolution counts one tenant resolution outcome
func (m *Metrics) RecordResolution(source, outcome string) {
	if m == nil {
		return
	}
	m.TenantResolutions.WithLabelValues(source, outcome).Inc()
}

// RecordOwnerBypass counts one owner-device bypass
func (m *Metrics) RecordOwnerBypass() {
	if m == nil {
		return
	}
	m.OwnerBypasses.Inc()
}

// RecordAuditFailure counts one failed audit write
func (m *Metrics) RecordAuditFailure(kind string) {
	if m == nil {
		return
	}
	m.AuditWriteFailures.WithLabelValues(kind).Inc()
}

// RecordStoreError counts one unavailable store lookup
func (m *Metrics) RecordStoreError(operation string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(operation).Inc()
}

// RecordCacheLookup counts one cache hit or miss
func (m *Metrics) RecordCacheLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(kind, result).Inc()
}

// RecordHTTPRequest counts one served request and observes its latency
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
