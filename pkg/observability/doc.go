// Package observability provides logging, metrics and health checks
// for the identity provider.
//
// # Overview
//
// Logging goes through logrus. NewLogger builds a configured instance
// that the rest of the application receives by injection, so tests can
// substitute a silent logger.
//
// Metrics are Prometheus collectors grouped in a Metrics struct and
// registered against a caller-supplied registry. HTTPMetricsMiddleware
// instruments the router, and the remaining collectors are incremented
// at the call sites that own the event (assertion decided, login
// attempted, session swept).
//
// Health checks probe the database and, when configured, the Redis
// session backend. The readiness endpoint reports degraded rather than
// unhealthy when only Redis is down, since SQL-backed sessions keep
// the provider functional.
package observability
