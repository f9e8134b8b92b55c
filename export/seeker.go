package export

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/clipforge/exportcore/decode"
	"github.com/clipforge/exportcore/limits"
	"github.com/clipforge/exportcore/mp4meta"
)

// VideoSeeker is the degraded per-request decode path: every frame request
// seeks to the nearest sync sample at or before the target, resubmits the
// run up to the target, flushes, and keeps the closest output frame. It is
// slow and keeps no state between requests beyond the reused decoder.
type VideoSeeker struct {
	name  string
	dec   decode.Decoder
	index *mp4meta.SampleIndex
}

// NewVideoSeeker wraps a configured decoder and a complete sample index.
func NewVideoSeeker(name string, dec decode.Decoder, index *mp4meta.SampleIndex) *VideoSeeker {
	return &VideoSeeker{name: name, dec: dec, index: index}
}

// SeekFrame synchronously decodes the run covering the source time and
// returns the frame nearest to it. The caller owns the returned frame and
// must release it.
func (vs *VideoSeeker) SeekFrame(ctx context.Context, src float64) (*decode.Frame, error) {
	if vs.index.Count() == 0 {
		return nil, decode.ErrFrameNotFound
	}
	target := vs.index.NearestIndexForTime(src)

	syncIdx := vs.index.SyncIndexBefore(target)
	candidates := append([]int{syncIdx},
		vs.index.EarlierSyncCandidates(syncIdx, limits.MaxSyncFallbackCandidates)...)

	submitted := false
	for _, cand := range candidates {
		if err := vs.dec.Reset(); err != nil {
			return nil, err
		}
		if err := vs.dec.Submit(vs.index.At(cand)); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "SeekFrame",
				"clip":     vs.name,
				"sample":   cand,
				"error":    err,
			}).Warn("Sync sample rejected; trying earlier candidate")
			continue
		}
		for i := cand + 1; i <= target; i++ {
			if err := vs.dec.Submit(vs.index.At(i)); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "SeekFrame",
					"clip":     vs.name,
					"sample":   i,
					"error":    err,
				}).Warn("Decoder rejected sample; skipping")
			}
		}
		submitted = true
		break
	}
	if !submitted {
		return nil, fmt.Errorf("%w: clip %q target %d", decode.ErrSeekFailed, vs.name, target)
	}

	best, err := vs.collect(ctx, src)
	if err != nil {
		return nil, err
	}
	if best == nil {
		return nil, fmt.Errorf("%w: clip %q time %.3fs", decode.ErrFrameNotFound, vs.name, src)
	}
	return best, nil
}

// collect drains decoder output while the flush completes, keeping only the
// frame closest to src.
func (vs *VideoSeeker) collect(ctx context.Context, src float64) (*decode.Frame, error) {
	flushed := make(chan error, 1)
	go func() { flushed <- vs.dec.Flush(ctx) }()

	var best *decode.Frame
	keep := func(f *decode.Frame) {
		if best == nil {
			best = f
			return
		}
		if absFloat(f.CTS-src) < absFloat(best.CTS-src) {
			best.Release()
			best = f
		} else {
			f.Release()
		}
	}

	for {
		select {
		case f, ok := <-vs.dec.Output():
			if !ok {
				return best, nil
			}
			keep(f)
		case err := <-flushed:
			if err != nil {
				if best != nil {
					best.Release()
				}
				return nil, err
			}
			// Flush returned: everything is on the channel now.
			for {
				select {
				case f, ok := <-vs.dec.Output():
					if !ok {
						return best, nil
					}
					keep(f)
				default:
					return best, nil
				}
			}
		}
	}
}

// Close releases the underlying decoder.
func (vs *VideoSeeker) Close() {
	vs.dec.Close()
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
