// Package prometheus exposes the engine's counters through
// github.com/prometheus/client_golang.
//
// [Collector] reads [authcore.Engine.MetricsSnapshot] on every scrape; it
// keeps no state of its own. Counter names are prefixed authcore_ and end in
// _total; the one histogram is authcore_authenticate_latency_seconds.
//
// Nothing is registered in the global Prometheus registry. Callers either
// register the collector themselves or mount [Handler].
package prometheus
