// Package metrics defines the recorder interfaces used by the dispatch sync
// core. Sinks like PromSink and InfluxSink live in infra/metrics, register
// themselves with RegisterSink and are built from config by NewSink.
package metrics
