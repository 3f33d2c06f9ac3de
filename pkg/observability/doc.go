// Package observability carries the service's logs, metrics, traces, health
// probes and shutdown sequencing.
//
// Logs are logrus JSON lines. RequestLogger stamps each request with an
// X-Request-ID and stores a scoped logger in the context, so handlers and
// services log with the request and user ids attached:
//
//	observability.FromContext(ctx).WithError(err).Warn("audit write failed")
//
// Metrics are registered on a caller-supplied registry and served from the
// health port next to /healthz and /readyz. Tests use NewNopMetrics.
//
// InitOTel is a no-op unless OpenTelemetry is enabled; TracingMiddleware then
// opens one server span per request.
package observability
