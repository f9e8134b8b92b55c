package export

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clipforge/exportcore/decode"
	"github.com/clipforge/exportcore/limits"
	"github.com/clipforge/exportcore/metrics"
	"github.com/clipforge/exportcore/mp4meta"
)

const sequentialPoll = 5 * time.Millisecond

// clipRunner is the single-stream decode state behind SequentialSource: one
// decoder, one sample index, one bounded frame buffer, driven strictly
// serially by the export loop.
type clipRunner struct {
	info      decode.ClipInfo
	dec       decode.Decoder
	index     *mp4meta.SampleIndex
	buffer    *decode.FrameBuffer
	cursor    int
	tolerance float64

	closed       atomic.Bool
	consumerDone chan struct{}
}

func newClipRunner(info decode.ClipInfo, dec decode.Decoder, index *mp4meta.SampleIndex, tolerance float64) *clipRunner {
	cr := &clipRunner{
		info:         info,
		dec:          dec,
		index:        index,
		buffer:       decode.NewFrameBuffer(limits.MaxFrameBuffer),
		tolerance:    tolerance,
		consumerDone: make(chan struct{}),
	}
	go cr.consume()
	return cr
}

func (cr *clipRunner) consume() {
	defer close(cr.consumerDone)
	for frame := range cr.dec.Output() {
		if cr.closed.Load() {
			frame.Release()
			continue
		}
		evicted := cr.buffer.Insert(frame)
		if evicted > 0 {
			metrics.BufferEvictionsTotal.WithLabelValues(cr.info.Name, "capacity").Add(float64(evicted))
		}
		metrics.FramesDecodedTotal.WithLabelValues(cr.info.Name).Inc()
	}
}

func (cr *clipRunner) buffered(src float64) bool {
	_, key, ok := cr.buffer.Nearest(decode.Micros(src))
	if !ok {
		return false
	}
	delta := key - decode.Micros(src)
	if delta < 0 {
		delta = -delta
	}
	return delta <= decode.Micros(cr.tolerance)
}

// prefetch decodes forward, or seeks and decodes, until a frame within
// tolerance of the source time for t is buffered.
func (cr *clipRunner) prefetch(ctx context.Context, t float64) error {
	if err := cr.waitForSamples(ctx); err != nil {
		return fmt.Errorf("clip %q: %w", cr.info.Name, err)
	}
	src := cr.info.SourceTime(t)
	if cr.buffered(src) {
		return nil
	}
	if err := cr.waitForCoverage(ctx, src); err != nil {
		return fmt.Errorf("clip %q: %w", cr.info.Name, err)
	}

	for attempt := 0; attempt < limits.MaxFrameRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			metrics.FrameRetriesTotal.WithLabelValues(cr.info.Name).Inc()
			time.Sleep(limits.RetryBackoff)
		}
		if cr.buffered(src) {
			return nil
		}
		// The index may still be growing; the nearest sample for the
		// source time has to be recomputed on every attempt.
		target := cr.index.NearestIndexForTime(src)
		// Already submitted through the target: the frame is in flight,
		// give the consumer time instead of re-decoding.
		if cr.cursor == target+1 {
			continue
		}
		if err := cr.decodeRun(target); err != nil {
			return err
		}
		if err := cr.dec.Flush(ctx); err != nil {
			return err
		}
	}
	if cr.buffered(src) {
		return nil
	}
	return fmt.Errorf("%w: clip %q time %.3fs cursor %d", decode.ErrFrameNotFound, cr.info.Name, t, cr.cursor)
}

// decodeRun submits samples from the cursor through target, seeking first
// when the cursor has moved past the target or trails it by more than the
// seek threshold.
func (cr *clipRunner) decodeRun(target int) error {
	if cr.cursor > target || target-cr.cursor > limits.SeekSampleThreshold {
		if err := cr.seek(target); err != nil {
			return err
		}
	}
	for i := cr.cursor; i <= target && i < cr.index.Count(); i++ {
		s := cr.index.At(i)
		if err := cr.dec.Submit(s); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "decodeRun",
				"clip":     cr.info.Name,
				"sample":   i,
				"error":    err,
			}).Warn("Decoder rejected sample; skipping")
			continue
		}
	}
	if target+1 > cr.cursor {
		cr.cursor = target + 1
	}
	return nil
}

// seek resets the decoder to the nearest sync sample at or before target,
// falling back to earlier candidates when the decoder rejects one.
func (cr *clipRunner) seek(target int) error {
	syncIdx := cr.index.SyncIndexBefore(target)
	candidates := append([]int{syncIdx},
		cr.index.EarlierSyncCandidates(syncIdx, limits.MaxSyncFallbackCandidates)...)

	for _, cand := range candidates {
		if err := cr.dec.Reset(); err != nil {
			return err
		}
		released := cr.buffer.Clear()
		if released > 0 {
			metrics.BufferEvictionsTotal.WithLabelValues(cr.info.Name, "seek").Add(float64(released))
		}
		if err := cr.dec.Submit(cr.index.At(cand)); err != nil {
			metrics.SyncFallbacksTotal.WithLabelValues(cr.info.Name).Inc()
			continue
		}
		cr.cursor = cand + 1
		metrics.SeeksTotal.WithLabelValues(cr.info.Name).Inc()
		return nil
	}
	return fmt.Errorf("%w: clip %q target %d", decode.ErrSeekFailed, cr.info.Name, target)
}

func (cr *clipRunner) frame(t float64) (*decode.Frame, bool) {
	targetKey := decode.Micros(cr.info.SourceTime(t))
	tolMicros := decode.Micros(cr.tolerance)

	oldest, newest, ok := cr.buffer.Bounds()
	if !ok {
		return nil, false
	}
	switch {
	case targetKey > newest+tolMicros:
		f, _, _ := cr.buffer.Newest()
		return f, f != nil
	case targetKey < oldest-tolMicros:
		f, _, _ := cr.buffer.Oldest()
		return f, f != nil
	default:
		f, _, ok := cr.buffer.Nearest(targetKey)
		return f, ok
	}
}

func (cr *clipRunner) advance(t float64) {
	src := cr.info.SourceTime(t)
	window := limits.TrailingEvictionWindow.Seconds()
	var evicted int
	if cr.info.Reversed {
		evicted = cr.buffer.EvictAfter(decode.Micros(src + window))
	} else {
		evicted = cr.buffer.EvictBefore(decode.Micros(src - window))
	}
	if evicted > 0 {
		metrics.BufferEvictionsTotal.WithLabelValues(cr.info.Name, "trailing").Add(float64(evicted))
	}
}

// waitForCoverage blocks until the index can resolve a nearest sample for
// the source time, bounded by limits.SampleWaitTimeout. A lookup past the
// newest arrival of a still-filling index would clamp to it and name the
// wrong sample.
func (cr *clipRunner) waitForCoverage(ctx context.Context, src float64) error {
	if cr.index.CoversTime(src) {
		return nil
	}
	deadline := time.Now().Add(limits.SampleWaitTimeout)
	for !cr.index.CoversTime(src) {
		if time.Now().After(deadline) {
			return decode.ErrSampleTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sequentialPoll):
		}
	}
	return nil
}

func (cr *clipRunner) waitForSamples(ctx context.Context) error {
	if cr.index.Count() > 0 {
		return nil
	}
	deadline := time.Now().Add(limits.SampleWaitTimeout)
	for cr.index.Count() == 0 {
		if time.Now().After(deadline) {
			return decode.ErrSampleTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sequentialPoll):
		}
	}
	return nil
}

func (cr *clipRunner) close() {
	if cr.closed.Swap(true) {
		return
	}
	cr.dec.Close()
	<-cr.consumerDone
	cr.buffer.Clear()
}

// SequentialSource decodes one stream at a time. It carries a runner per
// clip but never schedules two decodes concurrently; it is the fast-mode
// path when no two clips overlap inside the export range.
type SequentialSource struct {
	runners map[string]*clipRunner
}

// NewSequentialSource probes every clip, configures one decoder each and
// starts asynchronous sample extraction, mirroring the parallel scheduler's
// initialization without any cross-clip machinery.
func NewSequentialSource(ctx context.Context, clips []decode.ClipInfo, exportFPS float64, factory decode.DecoderFactory) (*SequentialSource, error) {
	if err := limits.ValidateFrameRate(exportFPS); err != nil {
		return nil, err
	}
	if len(clips) == 0 {
		return nil, ErrNoClips
	}
	tolerance := limits.ToleranceFrameFactor / exportFPS

	s := &SequentialSource{runners: make(map[string]*clipRunner)}
	for _, info := range clips {
		fi, err := probeWithTimeout(ctx, info.Data)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("clip %q: %w", info.Name, err)
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
			return nil, fmt.Errorf("clip %q: %w", info.Name, err)
		}
		index := mp4meta.NewSampleIndex(fi.Track.Timescale)
		cr := newClipRunner(info, dec, index, tolerance)
		s.runners[info.ID] = cr

		go func(info decode.ClipInfo) {
			r := bytes.NewReader(info.Data)
			if err := mp4meta.ExtractSamples(context.Background(), r, fi, index); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "NewSequentialSource",
					"clip":     info.Name,
					"error":    err,
				}).Error("Sample extraction failed")
			}
		}(info)
	}
	return s, nil
}

func (s *SequentialSource) Prefetch(ctx context.Context, t float64) error {
	for _, cr := range s.runners {
		if !cr.info.ActiveAt(t) {
			continue
		}
		if err := cr.prefetch(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (s *SequentialSource) Frame(clipID string, t float64) (*decode.Frame, bool) {
	cr, ok := s.runners[clipID]
	if !ok || !cr.info.ActiveAt(t) {
		return nil, false
	}
	return cr.frame(t)
}

func (s *SequentialSource) Advance(t float64) {
	for _, cr := range s.runners {
		if cr.info.ActiveAt(t) {
			cr.advance(t)
		}
	}
}

func (s *SequentialSource) Close() {
	for _, cr := range s.runners {
		cr.close()
	}
}

var _ FrameSource = (*SequentialSource)(nil)

// probeWithTimeout parses container metadata under the bounded metadata
// timeout.
func probeWithTimeout(ctx context.Context, data []byte) (*mp4meta.FileInfo, error) {
	type result struct {
		fi  *mp4meta.FileInfo
		err error
	}
	ch := make(chan result, 1)
	go func() {
		fi, err := mp4meta.Probe(bytes.NewReader(data))
		ch <- result{fi, err}
	}()
	select {
	case res := <-ch:
		return res.fi, res.err
	case <-time.After(limits.MetadataTimeout):
		return nil, decode.ErrMetadataTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
