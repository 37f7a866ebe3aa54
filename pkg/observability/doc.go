// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing and health probes for the authorization service.
//
// # Logging
//
//	logger := observability.NewLogger("info", os.Stdout)
//	observability.WithTraceContext(ctx, logger).Info("resolved tenant")
//
// # Prometheus Metrics
//
// NewMetrics registers the authorization counters on a registry:
//
//	tenantguard_permission_denials_total{permission}
//	tenantguard_permission_checks_total{result,reason}
//	tenantguard_tenant_resolutions_total{source,outcome}
//	tenantguard_owner_bypass_total
//	tenantguard_audit_write_failures_total{kind}
//	tenantguard_store_errors_total{operation}
//	tenantguard_cache_lookups_total{kind,result}
//
// Every Record method is safe on a nil *Metrics, so components can run
// without metrics in tests.
//
// # Tracing
//
// InitOTel installs OTLP/gRPC providers; Tracer returns the module tracer.
// OTelMetrics records latency histograms for checks, resolutions and store calls.
//
// # Health
//
// HealthChecker serves /healthz (liveness) and /readyz (readiness). A failed
// database makes the service unready; a failed Redis only degrades it.
package observability
