package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clipforge/exportcore/decode"
	"github.com/clipforge/exportcore/limits"
	"github.com/clipforge/exportcore/mp4meta"
)

// ClipPreparation resolves the decode mode once per export and builds the
// matching FrameSource. Fast mode (decoder-based) requires every clip's
// container to parse; within fast mode, parallel scheduling is used when two
// or more clips are simultaneously active inside the export range.
type ClipPreparation struct {
	// Factory builds one decoder per clip. Defaults to the passthrough
	// decoder when nil.
	Factory decode.DecoderFactory

	// ForceMode overrides automatic selection when not ModeAuto. The
	// orchestrator uses it to retry a failed export on a simpler path.
	ForceMode Mode
}

// SelectMode picks the decode path for the clip set and export range.
func (p *ClipPreparation) SelectMode(clips []decode.ClipInfo, start, end float64) Mode {
	if p.ForceMode != ModeAuto {
		return p.ForceMode
	}
	for _, c := range clips {
		if _, err := mp4meta.Probe(bytes.NewReader(c.Data)); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "SelectMode",
				"clip":     c.Name,
				"error":    err,
			}).Warn("Clip not parseable; falling back to raw seeking")
			return ModeRawSeek
		}
	}
	if maxConcurrent(clips, start, end) >= 2 {
		return ModeParallel
	}
	return ModeSequential
}

// maxConcurrent counts the largest number of clips simultaneously active
// anywhere inside [start, end), nested clips included.
func maxConcurrent(clips []decode.ClipInfo, start, end float64) int {
	relevant := make([]decode.ClipInfo, 0, len(clips))
	for _, c := range clips {
		if c.OverlapsRange(start, end) {
			relevant = append(relevant, c)
		}
	}
	best := 0
	for i := range relevant {
		s, _ := relevant[i].PlacementRange()
		if s < start {
			s = start
		}
		n := 0
		for j := range relevant {
			js, je := relevant[j].PlacementRange()
			if js <= s && s < je {
				n++
			}
		}
		if n > best {
			best = n
		}
	}
	return best
}

// Prepare selects the mode, builds the FrameSource, and verifies that the
// first frame of every clip active at the export start decodes before the
// run commits.
func (p *ClipPreparation) Prepare(ctx context.Context, clips []decode.ClipInfo, start, end, exportFPS float64) (FrameSource, Mode, error) {
	if len(clips) == 0 {
		return nil, ModeAuto, ErrNoClips
	}
	if err := limits.ValidateTimeRange(start, end); err != nil {
		return nil, ModeAuto, err
	}
	factory := p.Factory
	if factory == nil {
		factory = func() decode.Decoder { return decode.NewPassthroughDecoder() }
	}

	mode := p.SelectMode(clips, start, end)
	logrus.WithFields(logrus.Fields{
		"function": "Prepare",
		"mode":     mode,
		"clips":    len(clips),
		"start":    start,
		"end":      end,
	}).Info("Export mode selected")

	source, err := p.buildSource(ctx, mode, clips, exportFPS, factory)
	if err != nil {
		return nil, mode, err
	}

	if err := verifyFirstFrames(ctx, source, clips, start); err != nil {
		source.Close()
		return nil, mode, err
	}
	return source, mode, nil
}

func (p *ClipPreparation) buildSource(ctx context.Context, mode Mode, clips []decode.ClipInfo, exportFPS float64, factory decode.DecoderFactory) (FrameSource, error) {
	switch mode {
	case ModeParallel:
		mgr, err := decode.NewManager(factory)
		if err != nil {
			return nil, err
		}
		if err := mgr.Initialize(ctx, clips, exportFPS); err != nil {
			return nil, err
		}
		return NewParallelSource(mgr), nil
	case ModeSequential:
		return NewSequentialSource(ctx, clips, exportFPS, factory)
	case ModeRawSeek:
		return NewRawSeekSource(ctx, clips, factory)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, mode)
	}
}

// verifyFirstFrames fails fast when a clip active at the start time cannot
// produce its first frame, instead of discovering the failure deep into a
// long export run.
func verifyFirstFrames(ctx context.Context, source FrameSource, clips []decode.ClipInfo, start float64) error {
	for _, c := range clips {
		if !c.ActiveAt(start) {
			continue
		}
		var lastErr error
		verified := false
		for attempt := 0; attempt < limits.MaxVerifyAttempts; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(limits.VerifyRetryDelay):
				}
			}
			if err := source.Prefetch(ctx, start); err != nil {
				lastErr = err
				continue
			}
			if _, ok := source.Frame(c.ID, start); ok {
				verified = true
				break
			}
		}
		if !verified {
			if lastErr != nil {
				return fmt.Errorf("%w: clip %q at %.3fs: %v", ErrVerifyFailed, c.Name, start, lastErr)
			}
			return fmt.Errorf("%w: clip %q at %.3fs", ErrVerifyFailed, c.Name, start)
		}
	}
	return nil
}
