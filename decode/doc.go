// Package decode implements the parallel multi-clip decode scheduler for
// timeline export.
//
// The scheduler owns one decoder instance and one bounded frame buffer per
// active clip and turns independently-encoded video files into frame-accurate
// pixel data for a requested presentation time, while an export loop marches
// through time faster than real time.
//
// # Architecture
//
// Each clip is represented by a clip decoder state: a Decoder, the clip's
// SampleIndex (which fills incrementally while the container is parsed), a
// monotonically advancing decode cursor, and a FrameBuffer keyed by
// presentation timestamp. Decoded frames arrive asynchronously on the
// decoder's output channel; a per-clip consumer goroutine inserts them into
// the buffer, or releases them immediately once the scheduler is shutting
// down.
//
// The Manager decides, for a requested presentation time, whether to decode
// forward, decode in the background, or seek to a sync sample. Seeks locate
// the nearest sync sample by presentation time, not decode order, and fall
// back across progressively earlier sync candidates when the decoder rejects
// one.
//
// # Ordering and concurrency
//
// Within one clip, samples are always submitted in non-decreasing decode
// order; a seek resets the decoder rather than submitting out of order. At
// most one decode batch is in flight per clip at a time. Across clips there
// is no ordering dependency; each clip decodes independently.
package decode
