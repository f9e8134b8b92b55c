// Package export orchestrates a frame-accurate export run over a timeline
// of video clips.
//
// A ClipPreparation selects the decode mode once per export: parallel
// scheduling when two or more clips overlap inside the export range,
// a simpler sequential path for a single stream, and a per-request raw
// seeking fallback when the fast path cannot be guaranteed. The chosen
// path is exposed behind the uniform FrameSource interface.
//
// The FrameExporter then drives the per-frame loop: prefetch, collect the
// active clips' frames, hand them to the Compositor collaborator, and pass
// the composited image to the SinkEncoder collaborator. On a hard failure
// the sink is aborted so no partial output is finalized.
package export
