// Package metrics exposes Prometheus collectors for the email pipeline:
// jobs created, dispatch outcomes and latency, webhook events, and HTTP
// request durations. Methods are safe on a nil *Metrics.
package metrics
