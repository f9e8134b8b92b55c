package export

import (
	"context"

	"github.com/clipforge/exportcore/decode"
)

// Mode identifies the decode path an export run resolved to.
type Mode int

const (
	// ModeAuto lets ClipPreparation choose based on the clip set.
	ModeAuto Mode = iota

	// ModeParallel schedules every overlapping clip's decoder concurrently.
	ModeParallel

	// ModeSequential decodes a single stream at a time with no cross-clip
	// scheduling.
	ModeSequential

	// ModeRawSeek performs a full synchronous seek-and-decode per requested
	// frame. Slow, used when the fast path cannot be guaranteed.
	ModeRawSeek
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeParallel:
		return "parallel"
	case ModeSequential:
		return "sequential"
	case ModeRawSeek:
		return "rawseek"
	default:
		return "unknown"
	}
}

// FrameSource is the uniform surface the exporter drives, implemented once
// per decode mode. Frames returned by Frame stay valid until the next
// Advance or Prefetch call for the same clip; the source retains ownership.
type FrameSource interface {
	// Prefetch guarantees, within bounded retries, that a frame near t is
	// available for every clip active at t.
	Prefetch(ctx context.Context, t float64) error

	// Frame returns the best available frame for the clip at timeline time
	// t. Returns false when the clip is unknown, inactive, or has nothing
	// buffered.
	Frame(clipID string, t float64) (*decode.Frame, bool)

	// Advance tells the source the export loop has finished rendering t, so
	// trailing frames can be evicted.
	Advance(t float64)

	// Close releases every decoder and buffered frame. Idempotent.
	Close()
}

// ParallelSource adapts the parallel decode scheduler to the FrameSource
// surface.
type ParallelSource struct {
	mgr *decode.Manager
}

// NewParallelSource wraps an initialized decode manager.
func NewParallelSource(mgr *decode.Manager) *ParallelSource {
	return &ParallelSource{mgr: mgr}
}

func (s *ParallelSource) Prefetch(ctx context.Context, t float64) error {
	return s.mgr.PrefetchFramesForTime(ctx, t)
}

func (s *ParallelSource) Frame(clipID string, t float64) (*decode.Frame, bool) {
	return s.mgr.GetFrameForClip(clipID, t)
}

func (s *ParallelSource) Advance(t float64) {
	s.mgr.AdvanceToTime(t)
}

func (s *ParallelSource) Close() {
	s.mgr.Cleanup()
}

var _ FrameSource = (*ParallelSource)(nil)
