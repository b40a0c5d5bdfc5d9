// Package metrics exposes relay counters through OpenTelemetry and serves them
// on a Prometheus endpoint.
package metrics
