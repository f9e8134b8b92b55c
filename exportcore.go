package exportcore

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/clipforge/exportcore/decode"
	"github.com/clipforge/exportcore/export"
	"github.com/clipforge/exportcore/limits"
)

// ClipInfo describes one clip's bytes and timeline geometry.
type ClipInfo = decode.ClipInfo

// NestingInfo places a clip inside a nested composition.
type NestingInfo = decode.NestingInfo

// Frame is a decoded video frame handed to the compositor.
type Frame = decode.Frame

// Mode identifies the decode path an export resolved to.
type Mode = export.Mode

const (
	ModeAuto       = export.ModeAuto
	ModeParallel   = export.ModeParallel
	ModeSequential = export.ModeSequential
	ModeRawSeek    = export.ModeRawSeek
)

// Options configures one export run.
type Options struct {
	// Start and End bound the export range [Start, End) in seconds.
	Start float64
	End   float64

	// FPS is the output frame rate.
	FPS float64

	// Clips is the immutable clip set for this export.
	Clips []ClipInfo

	// Compositor renders each output image from the active clips' frames.
	Compositor export.Compositor

	// Sink receives composited images and finalizes or aborts the output.
	Sink export.SinkEncoder

	// Mode forces a decode path. ModeAuto selects from the clip set.
	Mode Mode

	// ResolveParams supplies per-clip transform/effect values. Optional.
	ResolveParams func(clipID string, t float64) export.ClipParams

	// OnProgress is called after each rendered frame. Optional.
	OnProgress export.Progress

	// DecoderFactory builds one decoder per clip. Defaults to the built-in
	// passthrough decoder.
	DecoderFactory decode.DecoderFactory
}

// NewOptions creates Options with the common defaults: a 30 fps automatic-
// mode export.
func NewOptions() *Options {
	return &Options{
		FPS:  30,
		Mode: ModeAuto,
	}
}

// Exporter is the top-level handle for one export run.
type Exporter struct {
	opts *Options

	mu     sync.Mutex
	source export.FrameSource
	mode   Mode
}

// New validates the options and creates an export handle. Decoders are not
// touched until Run.
func New(options *Options) (*Exporter, error) {
	if options == nil {
		options = NewOptions()
	}
	if err := limits.ValidateTimeRange(options.Start, options.End); err != nil {
		return nil, err
	}
	if err := limits.ValidateFrameRate(options.FPS); err != nil {
		return nil, err
	}
	if len(options.Clips) == 0 {
		return nil, export.ErrNoClips
	}
	if options.Compositor == nil || options.Sink == nil {
		return nil, export.ErrMissingCollaborator
	}
	return &Exporter{opts: options, mode: options.Mode}, nil
}

// Mode returns the decode path the last Run resolved to.
func (e *Exporter) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Run prepares the decode path and executes the export loop. When automatic
// preparation fails before the loop commits, it degrades to the next simpler
// mode (parallel, then sequential, then raw seeking). Once the loop has
// started there is no mid-export fallback; failures abort the run.
func (e *Exporter) Run(ctx context.Context) error {
	source, mode, err := e.prepare(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.source = source
	e.mode = mode
	e.mu.Unlock()
	defer e.Close()

	cfg := export.ExportConfig{
		Start:         e.opts.Start,
		End:           e.opts.End,
		FPS:           e.opts.FPS,
		Clips:         e.opts.Clips,
		ResolveParams: e.opts.ResolveParams,
		OnProgress:    e.opts.OnProgress,
	}
	fe, err := export.NewFrameExporter(cfg, source, mode, e.opts.Compositor, e.opts.Sink)
	if err != nil {
		return err
	}
	return fe.Run(ctx)
}

// prepare builds the FrameSource, degrading to simpler modes when automatic
// preparation fails verification.
func (e *Exporter) prepare(ctx context.Context) (export.FrameSource, Mode, error) {
	prep := &export.ClipPreparation{
		Factory:   e.opts.DecoderFactory,
		ForceMode: e.opts.Mode,
	}

	source, mode, err := prep.Prepare(ctx, e.opts.Clips, e.opts.Start, e.opts.End, e.opts.FPS)
	if err == nil || e.opts.Mode != ModeAuto {
		return source, mode, err
	}

	for _, fallback := range fallbackChain(mode) {
		logrus.WithFields(logrus.Fields{
			"function": "prepare",
			"failed":   mode,
			"fallback": fallback,
			"error":    err,
		}).Warn("Export preparation failed; degrading to simpler mode")
		prep.ForceMode = fallback
		source, mode, err = prep.Prepare(ctx, e.opts.Clips, e.opts.Start, e.opts.End, e.opts.FPS)
		if err == nil {
			return source, mode, nil
		}
	}
	return nil, mode, fmt.Errorf("every decode mode failed: %w", err)
}

// fallbackChain lists the simpler modes to try after a preparation failure.
func fallbackChain(failed Mode) []Mode {
	switch failed {
	case ModeParallel:
		return []Mode{ModeSequential, ModeRawSeek}
	case ModeSequential:
		return []Mode{ModeRawSeek}
	default:
		return nil
	}
}

// Close releases the decode path's resources. Idempotent; Run calls it on
// completion, so an explicit Close is only needed when Run was never
// reached.
func (e *Exporter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.source == nil {
		return
	}
	e.source.Close()
	e.source = nil
}
