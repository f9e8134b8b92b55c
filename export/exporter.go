package export

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clipforge/exportcore/decode"
	"github.com/clipforge/exportcore/limits"
	"github.com/clipforge/exportcore/metrics"
)

// ClipParams carries transform and effect values for one clip, already
// resolved to plain numbers by the timeline layer.
type ClipParams map[string]float64

// Compositor renders one output image from the frames active at a time.
// Frames in the map are borrowed: they stay valid for the duration of the
// Render call only.
type Compositor interface {
	Render(t float64, frames map[string]*decode.Frame, params map[string]ClipParams) ([]byte, error)
}

// SinkEncoder receives composited images in presentation order. Abort must
// discard any partially written output.
type SinkEncoder interface {
	Encode(t float64, image []byte) error
	Finalize() error
	Abort()
}

// Progress is invoked after every rendered frame with the running count.
type Progress func(done, total int)

// ExportConfig describes one export run.
type ExportConfig struct {
	// Start and End bound the export time range [Start, End) in seconds.
	Start float64
	End   float64

	// FPS is the output frame rate.
	FPS float64

	// Clips is the immutable clip set for this export.
	Clips []decode.ClipInfo

	// ResolveParams supplies per-clip transform/effect values for a frame.
	// Optional; nil means no params are passed through.
	ResolveParams func(clipID string, t float64) ClipParams

	// OnProgress is called after each rendered frame. Optional.
	OnProgress Progress
}

// FrameExporter drives the per-frame export loop over a prepared
// FrameSource, handing each composited image to the sink encoder.
type FrameExporter struct {
	cfg     ExportConfig
	source  FrameSource
	mode    Mode
	comp    Compositor
	sink    SinkEncoder
	session uuid.UUID
}

// NewFrameExporter validates the configuration and collaborators.
func NewFrameExporter(cfg ExportConfig, source FrameSource, mode Mode, comp Compositor, sink SinkEncoder) (*FrameExporter, error) {
	if err := limits.ValidateTimeRange(cfg.Start, cfg.End); err != nil {
		return nil, err
	}
	if err := limits.ValidateFrameRate(cfg.FPS); err != nil {
		return nil, err
	}
	if len(cfg.Clips) == 0 {
		return nil, ErrNoClips
	}
	if source == nil || comp == nil || sink == nil {
		return nil, ErrMissingCollaborator
	}
	return &FrameExporter{
		cfg:     cfg,
		source:  source,
		mode:    mode,
		comp:    comp,
		sink:    sink,
		session: uuid.New(),
	}, nil
}

// Session returns the export run's identity used in every log entry.
func (e *FrameExporter) Session() uuid.UUID {
	return e.session
}

// TotalFrames is the number of output frames the run will produce.
func (e *FrameExporter) TotalFrames() int {
	return int(math.Round((e.cfg.End - e.cfg.Start) * e.cfg.FPS))
}

// Run executes the export loop. On any hard failure the sink is aborted so
// no partial output is finalized, and the error names the frame time.
func (e *FrameExporter) Run(ctx context.Context) error {
	total := e.TotalFrames()
	log := logrus.WithFields(logrus.Fields{
		"function": "Run",
		"session":  e.session,
		"mode":     e.mode,
		"frames":   total,
		"fps":      e.cfg.FPS,
	})
	log.Info("Export run starting")

	for i := 0; i < total; i++ {
		t := e.cfg.Start + float64(i)/e.cfg.FPS
		if err := e.renderFrame(ctx, t); err != nil {
			e.sink.Abort()
			metrics.ExportsTotal.WithLabelValues(e.mode.String(), "aborted").Inc()
			log.WithFields(logrus.Fields{"time": t, "frame": i, "error": err}).Error("Export aborted")
			return fmt.Errorf("%w: frame %d at %.3fs: %w", ErrExportAborted, i, t, err)
		}
		if e.cfg.OnProgress != nil {
			e.cfg.OnProgress(i+1, total)
		}
	}

	if err := e.sink.Finalize(); err != nil {
		metrics.ExportsTotal.WithLabelValues(e.mode.String(), "aborted").Inc()
		return fmt.Errorf("%w: finalize: %w", ErrExportAborted, err)
	}
	metrics.ExportsTotal.WithLabelValues(e.mode.String(), "completed").Inc()
	log.Info("Export run completed")
	return nil
}

func (e *FrameExporter) renderFrame(ctx context.Context, t float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	started := time.Now()

	if err := e.source.Prefetch(ctx, t); err != nil {
		metrics.ExportFramesTotal.WithLabelValues("failed").Inc()
		return err
	}

	frames := make(map[string]*decode.Frame)
	var params map[string]ClipParams
	for i := range e.cfg.Clips {
		c := &e.cfg.Clips[i]
		if !c.ActiveAt(t) {
			continue
		}
		if f, ok := e.source.Frame(c.ID, t); ok {
			frames[c.ID] = f
		}
		if e.cfg.ResolveParams != nil {
			if params == nil {
				params = make(map[string]ClipParams)
			}
			params[c.ID] = e.cfg.ResolveParams(c.ID, t)
		}
	}

	image, err := e.comp.Render(t, frames, params)
	if err != nil {
		metrics.ExportFramesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("render: %w", err)
	}
	if err := e.sink.Encode(t, image); err != nil {
		metrics.ExportFramesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("encode: %w", err)
	}

	e.source.Advance(t)
	metrics.ExportFramesTotal.WithLabelValues("rendered").Inc()
	metrics.ExportFrameDuration.Observe(time.Since(started).Seconds())
	return nil
}
