package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decode scheduler metrics
var (
	FramesDecodedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exportcore_frames_decoded_total",
			Help: "Total number of frames decoded per clip",
		},
		[]string{"clip"},
	)

	SeeksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exportcore_seeks_total",
			Help: "Total number of decoder seeks per clip",
		},
		[]string{"clip"},
	)

	SyncFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exportcore_sync_fallbacks_total",
			Help: "Total number of rejected sync samples that forced an earlier seek candidate",
		},
		[]string{"clip"},
	)

	BufferEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exportcore_buffer_evictions_total",
			Help: "Total number of frames evicted from clip buffers",
		},
		[]string{"clip", "reason"}, // "capacity", "trailing", "seek"
	)

	BufferOccupancy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exportcore_buffer_occupancy",
			Help: "Current number of buffered decoded frames per clip",
		},
		[]string{"clip"},
	)

	FrameRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exportcore_frame_retries_total",
			Help: "Total number of frame-retrieval retry attempts",
		},
		[]string{"clip"},
	)
)

// Export loop metrics
var (
	ExportFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exportcore_export_frames_total",
			Help: "Total number of exported frames",
		},
		[]string{"status"}, // "rendered", "failed"
	)

	ExportFrameDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "exportcore_export_frame_duration_seconds",
			Help:    "Wall-clock time spent producing one exported frame",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exportcore_exports_total",
			Help: "Total number of export runs by mode and outcome",
		},
		[]string{"mode", "status"},
	)
)
