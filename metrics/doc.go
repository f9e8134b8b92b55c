// Package metrics exposes Prometheus instrumentation for the decode
// scheduler and the export loop.
//
// Metrics are registered on the default registry via promauto at package
// initialization; embedding applications expose them through their own
// /metrics handler. Clip-labelled series use the clip display name, which is
// stable for the duration of one export.
package metrics
