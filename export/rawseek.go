package export

import (
	"bytes"
	"context"

	"github.com/sirupsen/logrus"

	"github.com/clipforge/exportcore/decode"
	"github.com/clipforge/exportcore/mp4meta"
)

// RawSeekSource is the precise-mode fallback: no shared scheduling state,
// every Frame call runs a full synchronous seek-and-decode through a
// per-clip VideoSeeker. Clips whose container cannot be parsed are skipped
// with a warning instead of aborting the whole export.
type RawSeekSource struct {
	clips map[string]*rawClip
}

type rawClip struct {
	info   decode.ClipInfo
	seeker *VideoSeeker
	last   *decode.Frame
}

// NewRawSeekSource probes and fully indexes every parseable clip up front.
// Raw seeking is already the slow path, so extraction is synchronous.
func NewRawSeekSource(ctx context.Context, clips []decode.ClipInfo, factory decode.DecoderFactory) (*RawSeekSource, error) {
	if len(clips) == 0 {
		return nil, ErrNoClips
	}
	s := &RawSeekSource{clips: make(map[string]*rawClip)}
	for _, info := range clips {
		fi, err := probeWithTimeout(ctx, info.Data)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "NewRawSeekSource",
				"clip":     info.Name,
				"error":    err,
			}).Warn("Clip not parseable; it will contribute no frames")
			s.clips[info.ID] = &rawClip{info: info}
			continue
		}
		dec := factory()
		cfg := decode.Config{
			Codec:       fi.Track.Codec,
			Width:       fi.Track.Width,
			Height:      fi.Track.Height,
			Description: fi.Track.DecoderConfig,
		}
		if err := dec.Configure(cfg); err != nil {
			dec.Close()
			s.Close()
			return nil, err
		}
		index := mp4meta.NewSampleIndex(fi.Track.Timescale)
		if err := mp4meta.ExtractSamples(ctx, bytes.NewReader(info.Data), fi, index); err != nil {
			dec.Close()
			s.Close()
			return nil, err
		}
		s.clips[info.ID] = &rawClip{
			info:   info,
			seeker: NewVideoSeeker(info.Name, dec, index),
		}
	}
	return s, nil
}

// Prefetch is a no-op: the raw path does its work per request in Frame.
func (s *RawSeekSource) Prefetch(ctx context.Context, t float64) error {
	return nil
}

func (s *RawSeekSource) Frame(clipID string, t float64) (*decode.Frame, bool) {
	rc, ok := s.clips[clipID]
	if !ok || rc.seeker == nil || !rc.info.ActiveAt(t) {
		return nil, false
	}
	f, err := rc.seeker.SeekFrame(context.Background(), rc.info.SourceTime(t))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Frame",
			"clip":     rc.info.Name,
			"time":     t,
			"error":    err,
		}).Warn("Raw seek produced no frame")
		return nil, false
	}
	if rc.last != nil {
		rc.last.Release()
	}
	rc.last = f
	return f, true
}

func (s *RawSeekSource) Advance(t float64) {}

func (s *RawSeekSource) Close() {
	for _, rc := range s.clips {
		if rc.last != nil {
			rc.last.Release()
			rc.last = nil
		}
		if rc.seeker != nil {
			rc.seeker.Close()
		}
	}
}

var _ FrameSource = (*RawSeekSource)(nil)
