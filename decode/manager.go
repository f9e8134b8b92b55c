package decode

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clipforge/exportcore/limits"
	"github.com/clipforge/exportcore/metrics"
	"github.com/clipforge/exportcore/mp4meta"
)

// Manager schedules decoding across multiple independent clips. It owns one
// ClipState per managed clip and decides, for a requested presentation time,
// whether to decode forward, decode in the background, or seek to a sync
// sample, while keeping each clip's frame buffer within bounds.
//
// The export loop is the only caller of the public methods; decoded frames
// additionally arrive through per-clip consumer goroutines that the shared
// lifecycle keeps in check during teardown.
type Manager struct {
	mu    sync.RWMutex
	clips map[string]*ClipState

	lc      *lifecycle
	factory DecoderFactory

	// frameDuration and tolerance derive from the export frame rate at
	// initialize time. Tolerance is the maximum |frame CTS - target| for a
	// buffered frame to satisfy a request.
	frameDuration float64
	tolerance     float64

	// session identifies this scheduler instance in logs and errors.
	session string

	extractCtx    context.Context
	extractCancel context.CancelFunc
}

// NewManager creates a decode scheduler that builds one decoder per clip
// using the given factory.
func NewManager(factory DecoderFactory) (*Manager, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: nil decoder factory", ErrDecoderConfig)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		clips:         make(map[string]*ClipState),
		lc:            newLifecycle(),
		factory:       factory,
		session:       uuid.NewString(),
		extractCtx:    ctx,
		extractCancel: cancel,
	}
	logrus.WithFields(logrus.Fields{
		"function": "NewManager",
		"session":  m.session,
	}).Debug("Decode scheduler created")
	return m, nil
}

// Initialize parses container metadata for every clip, configures one
// decoder per clip, and starts asynchronous sample extraction. It resolves
// once codec configuration is known; samples keep streaming in afterwards.
func (m *Manager) Initialize(ctx context.Context, clips []ClipInfo, exportFPS float64) error {
	if err := limits.ValidateFrameRate(exportFPS); err != nil {
		return err
	}
	if len(clips) == 0 {
		return ErrNoClips
	}
	if !m.lc.transition(PhaseCreated, PhaseRunning) {
		return fmt.Errorf("%w: phase %s", ErrAlreadyInitialized, m.lc.current())
	}

	m.frameDuration = 1.0 / exportFPS
	m.tolerance = limits.ToleranceFrameFactor * m.frameDuration

	logrus.WithFields(logrus.Fields{
		"function":  "Initialize",
		"session":   m.session,
		"clips":     len(clips),
		"fps":       exportFPS,
		"tolerance": m.tolerance,
	}).Info("Initializing parallel decode scheduler")

	for _, info := range clips {
		if err := m.initClip(ctx, info); err != nil {
			m.Cleanup()
			return err
		}
	}
	return nil
}

// initClip probes one clip's container, configures its decoder and starts
// its extraction and consumer goroutines.
func (m *Manager) initClip(ctx context.Context, info ClipInfo) error {
	fi, err := probeClip(ctx, info)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "initClip",
			"session":  m.session,
			"clip":     info.Name,
			"error":    err,
		}).Error("Clip initialization failed")
		return fmt.Errorf("clip %q: %w", info.Name, err)
	}

	dec := m.factory()
	cfg := Config{
		Codec:       fi.Track.Codec,
		Width:       fi.Track.Width,
		Height:      fi.Track.Height,
		Description: fi.Track.DecoderConfig,
	}
	if err := dec.Configure(cfg); err != nil {
		dec.Close()
		return fmt.Errorf("clip %q: %w: %v", info.Name, ErrDecoderConfig, err)
	}

	index := mp4meta.NewSampleIndex(fi.Track.Timescale)
	cs := newClipState(info, dec, index)

	go cs.consume(m.lc)
	go func() {
		r := bytes.NewReader(info.Data)
		if err := mp4meta.ExtractSamples(m.extractCtx, r, fi, index); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "initClip",
				"session":  m.session,
				"clip":     info.Name,
				"error":    err,
			}).Error("Sample extraction failed")
		}
	}()

	m.mu.Lock()
	m.clips[info.ID] = cs
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "initClip",
		"session":  m.session,
		"clip":     info.Name,
		"codec":    fi.Track.Codec,
		"samples":  fi.SampleCount(),
	}).Debug("Clip decoder configured")
	return nil
}

// probeClip parses container metadata with a bounded timeout.
func probeClip(ctx context.Context, info ClipInfo) (*mp4meta.FileInfo, error) {
	type result struct {
		fi  *mp4meta.FileInfo
		err error
	}
	ch := make(chan result, 1)
	go func() {
		fi, err := mp4meta.Probe(bytes.NewReader(info.Data))
		ch <- result{fi, err}
	}()
	select {
	case r := <-ch:
		return r.fi, r.err
	case <-time.After(limits.MetadataTimeout):
		return nil, ErrMetadataTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HasClip reports whether the scheduler manages the given clip.
func (m *Manager) HasClip(clipID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clips[clipID]
	return ok
}

// Tolerance returns the frame-match tolerance in seconds.
func (m *Manager) Tolerance() float64 {
	return m.tolerance
}

// ActiveClipIDs returns the ids of clips whose active range covers t.
func (m *Manager) ActiveClipIDs(t float64) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, cs := range m.clips {
		if cs.info.ActiveAt(t) {
			ids = append(ids, id)
		}
	}
	return ids
}

// activeStates returns the clip states active at t.
func (m *Manager) activeStates(t float64) []*ClipState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ClipState
	for _, cs := range m.clips {
		if cs.info.ActiveAt(t) {
			out = append(out, cs)
		}
	}
	return out
}

// PrefetchFramesForTime guarantees that, for every clip active at t, a frame
// matching t is buffered. The first pass decodes toward each clip's target;
// a bounded retry loop then flushes and re-decodes any clip whose frame is
// still missing before the miss is promoted to a hard failure.
func (m *Manager) PrefetchFramesForTime(ctx context.Context, t float64) error {
	if !m.lc.active() {
		return fmt.Errorf("%w: phase %s", ErrNotRunning, m.lc.current())
	}

	active := m.activeStates(t)
	for _, cs := range active {
		if err := m.prefetchClip(ctx, cs, t); err != nil {
			return fmt.Errorf("clip %q at %.3fs: %w", cs.info.Name, t, err)
		}
	}

	for attempt := 0; attempt < limits.MaxFrameRetries; attempt++ {
		missing := m.missingFrames(active, t, m.tolerance)
		if len(missing) == 0 {
			return nil
		}
		for _, cs := range missing {
			metrics.FrameRetriesTotal.WithLabelValues(cs.info.Name).Inc()
			if !cs.index.CoversTime(cs.info.SourceTime(t)) {
				// Samples still streaming in; decoding toward a clamped
				// target would chase the wrong sample. Wait for arrival.
				continue
			}
			if err := cs.decoder.Flush(ctx); err != nil {
				return fmt.Errorf("clip %q: flush: %w", cs.info.Name, err)
			}
			target := cs.index.NearestIndexForTime(cs.info.SourceTime(t))
			if target >= 0 {
				force := attempt > 0 && cs.Cursor() > target
				if err := m.decodeAhead(ctx, cs, target, true, force); err != nil {
					return fmt.Errorf("clip %q: %w", cs.info.Name, err)
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(limits.RetryBackoff):
		}
	}

	// Last chance with relaxed tolerance: a slightly-off frame beats an
	// aborted export.
	finalTol := m.tolerance * limits.FinalCheckToleranceFactor
	for _, cs := range m.missingFrames(active, t, finalTol) {
		return m.frameNotFound(cs, t)
	}
	return nil
}

// prefetchClip performs the first-pass decision for one clip: serve from the
// buffer and decode ahead in the background, or decode synchronously toward
// the target.
func (m *Manager) prefetchClip(ctx context.Context, cs *ClipState, t float64) error {
	if err := cs.waitForSamples(ctx); err != nil {
		return err
	}

	srcTime := cs.info.SourceTime(t)
	if err := cs.waitForCoverage(ctx, srcTime); err != nil {
		return err
	}
	target := cs.index.NearestIndexForTime(srcTime)
	if target < 0 {
		return ErrSampleTimeout
	}
	targetKey := Micros(cs.index.At(target).CTSSeconds())
	tolMicros := Micros(m.tolerance)

	if _, key, ok := cs.buffer.Nearest(targetKey); ok && absInt64(key-targetKey) <= tolMicros {
		// Request satisfied from the buffer; keep the decoder ahead of the
		// export cursor without blocking. The look-ahead distance stays
		// under half the buffer cap so prefetched frames cannot evict the
		// ones the export loop is about to consume.
		count := cs.index.Count()
		look := target + limits.MaxFrameBuffer/2
		if look > count-1 {
			look = count - 1
		}
		if cs.Cursor() < count && cs.Cursor() <= look {
			go func() {
				if err := m.decodeAhead(context.Background(), cs, look, false, false); err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "prefetchClip",
						"session":  m.session,
						"clip":     cs.info.Name,
						"error":    err,
					}).Warn("Background decode-ahead failed")
				}
			}()
		}
		return nil
	}

	return m.decodeAhead(ctx, cs, target, true, false)
}

// missingFrames returns the clips among active that have no buffered frame
// within tol seconds of their target for time t.
func (m *Manager) missingFrames(active []*ClipState, t float64, tol float64) []*ClipState {
	tolMicros := Micros(tol)
	var missing []*ClipState
	for _, cs := range active {
		src := cs.info.SourceTime(t)
		if !cs.index.CoversTime(src) {
			// The nearest-index result would clamp to the newest arrival;
			// any buffered frame it matches is not the requested one.
			missing = append(missing, cs)
			continue
		}
		target := cs.index.NearestIndexForTime(src)
		if target < 0 {
			missing = append(missing, cs)
			continue
		}
		targetKey := Micros(cs.index.At(target).CTSSeconds())
		_, key, ok := cs.buffer.Nearest(targetKey)
		if !ok || absInt64(key-targetKey) > tolMicros {
			missing = append(missing, cs)
		}
	}
	return missing
}

// decodeAhead decodes samples from the clip's cursor toward the target
// index in batches. A seek is performed first when the cursor has drifted
// more than the seek threshold from the needed sample. The loop keeps
// decoding forward while the cursor is still behind the target, no seek
// occurred, and the pass bound has not been reached.
//
// When await is false the decode runs only if no other batch is in flight
// for this clip; the frames land in the buffer asynchronously. forceSeek
// reseeks even inside the drift threshold, for retry passes whose earlier
// frames were already evicted.
func (m *Manager) decodeAhead(ctx context.Context, cs *ClipState, target int, await, forceSeek bool) error {
	if await {
		if err := cs.acquireDecode(ctx); err != nil {
			return err
		}
	} else if !cs.tryAcquireDecode() {
		return nil
	}
	defer cs.releaseDecode()

	for pass := 0; pass < limits.MaxDecodeAheadPasses; pass++ {
		count := cs.index.Count()
		if count == 0 {
			return nil
		}
		if target >= count {
			target = count - 1
		}

		seeked := false
		cursor := cs.Cursor()
		if (forceSeek && cursor > target) ||
			cursor > target+limits.SeekSampleThreshold ||
			cursor+limits.SeekSampleThreshold < target {
			if err := m.seekTo(cs, target); err != nil {
				return err
			}
			seeked = true
		}

		batch := limits.DecodeBatchSize
		if seeked {
			batch *= limits.PostSeekBatchMultiplier
		}
		start := cs.Cursor()
		end := start + batch
		// Never decode past the target: with a bounded buffer, overshoot
		// evicts the oldest frames, which are exactly the ones the caller
		// asked for.
		if end > target+1 {
			end = target + 1
		}
		if end > count {
			end = count
		}
		if end < start {
			// Cursor already past the target within the seek threshold;
			// the frame is expected to be buffered or unrecoverable
			// without a seek, which the drift check above decides.
			end = start
		}
		for i := start; i < end; i++ {
			if err := cs.decoder.Submit(cs.index.At(i)); err != nil {
				logSampleRejected(cs.info.Name, i, err)
			}
		}
		cs.setCursor(end)

		if await {
			if err := cs.decoder.Flush(ctx); err != nil {
				return err
			}
		}
		if seeked || cs.Cursor() > target {
			break
		}
	}
	return nil
}

// seekTo resets the decoder and resubmits from the nearest sync sample whose
// presentation time is at or before the target's. Rejected candidates fall
// back to progressively earlier sync samples; when every candidate is
// exhausted the stream restarts from its first sample.
//
// The frame buffer is cleared on every reset: buffered presentation times no
// longer relate to the new cursor position.
func (m *Manager) seekTo(cs *ClipState, target int) error {
	syncIdx := cs.index.SyncIndexBefore(target)
	candidates := append([]int{syncIdx},
		cs.index.EarlierSyncCandidates(syncIdx, limits.MaxSyncFallbackCandidates)...)

	for _, cand := range candidates {
		if err := m.resetForSeek(cs); err != nil {
			return err
		}
		if err := cs.decoder.Submit(cs.index.At(cand)); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "seekTo",
				"session":  m.session,
				"clip":     cs.info.Name,
				"sample":   cand,
				"error":    err,
			}).Warn("Sync sample rejected; trying earlier candidate")
			metrics.SyncFallbacksTotal.WithLabelValues(cs.info.Name).Inc()
			continue
		}
		cs.setCursor(cand + 1)
		cs.needsKeyframe = false
		metrics.SeeksTotal.WithLabelValues(cs.info.Name).Inc()
		logrus.WithFields(logrus.Fields{
			"function": "seekTo",
			"session":  m.session,
			"clip":     cs.info.Name,
			"target":   target,
			"sync":     cand,
		}).Debug("Seek completed")
		return nil
	}

	// Every candidate rejected: restart from the first sample of the stream.
	if err := m.resetForSeek(cs); err != nil {
		return err
	}
	first := cs.index.At(0)
	if first == nil {
		return ErrSeekFailed
	}
	if err := cs.decoder.Submit(first); err != nil {
		return fmt.Errorf("%w: first sample rejected: %v", ErrSeekFailed, err)
	}
	cs.setCursor(1)
	cs.needsKeyframe = false
	metrics.SeeksTotal.WithLabelValues(cs.info.Name).Inc()
	return nil
}

func (m *Manager) resetForSeek(cs *ClipState) error {
	if err := cs.decoder.Reset(); err != nil {
		return err
	}
	cs.needsKeyframe = true
	released := cs.buffer.Clear()
	if released > 0 {
		metrics.BufferEvictionsTotal.WithLabelValues(cs.info.Name, "seek").Add(float64(released))
	}
	return nil
}

// GetFrameForClip returns the buffered frame nearest the target
// presentation time for t. Targets beyond the newest buffered timestamp by
// more than the tolerance clamp to the newest frame; targets before the
// oldest clamp to the oldest. A nearest match that exceeds the tolerance is
// still returned, with the discrepancy logged. Returns false only when the
// buffer is completely empty or the clip is unknown.
func (m *Manager) GetFrameForClip(clipID string, t float64) (*Frame, bool) {
	m.mu.RLock()
	cs, ok := m.clips[clipID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	targetKey := Micros(cs.info.SourceTime(t))
	tolMicros := Micros(m.tolerance)

	oldest, newest, ok := cs.buffer.Bounds()
	if !ok {
		return nil, false
	}
	if targetKey > newest+tolMicros {
		f, _, _ := cs.buffer.Newest()
		return f, true
	}
	if targetKey < oldest-tolMicros {
		f, _, _ := cs.buffer.Oldest()
		return f, true
	}

	f, key, _ := cs.buffer.Nearest(targetKey)
	if absInt64(key-targetKey) > tolMicros {
		logrus.WithFields(logrus.Fields{
			"function": "GetFrameForClip",
			"session":  m.session,
			"clip":     cs.info.Name,
			"target":   targetKey,
			"matched":  key,
		}).Warn("Nearest frame exceeds tolerance; returning it anyway")
	}
	return f, true
}

// AdvanceToTime evicts and releases buffered frames the export loop has
// moved past: anything more than the trailing window behind t, per clip,
// independent of the buffer-size cap.
func (m *Manager) AdvanceToTime(t float64) {
	window := int64(limits.TrailingEvictionWindow / time.Microsecond)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cs := range m.clips {
		src := Micros(cs.info.SourceTime(t))
		var evicted int
		if cs.info.Reversed {
			evicted = cs.buffer.EvictAfter(src + window)
		} else {
			evicted = cs.buffer.EvictBefore(src - window)
		}
		if evicted > 0 {
			metrics.BufferEvictionsTotal.WithLabelValues(cs.info.Name, "trailing").Add(float64(evicted))
			metrics.BufferOccupancy.WithLabelValues(cs.info.Name).Set(float64(cs.buffer.Len()))
		}
	}
}

// Cleanup stops the scheduler: in-flight decoder output is released rather
// than buffered, every decoder is closed, every buffered frame released, and
// all clip state dropped. Idempotent and safe to call multiple times.
func (m *Manager) Cleanup() {
	if !m.lc.transition(PhaseRunning, PhaseShuttingDown) {
		m.lc.transition(PhaseCreated, PhaseClosed)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Cleanup",
		"session":  m.session,
	}).Info("Shutting down decode scheduler")

	m.extractCancel()

	m.mu.Lock()
	clips := m.clips
	m.clips = make(map[string]*ClipState)
	m.mu.Unlock()

	for _, cs := range clips {
		cs.close()
	}
	m.lc.transition(PhaseShuttingDown, PhaseClosed)
}

// frameNotFound builds the diagnosable hard failure for an exhausted
// retrieval: clip name, requested time, buffer state and decoder state.
func (m *Manager) frameNotFound(cs *ClipState, t float64) error {
	oldest, newest, ok := cs.buffer.Bounds()
	return fmt.Errorf("%w: clip %q time %.3fs (source %.3fs): buffer %d frames [%d..%d us, populated=%v], cursor %d of %d samples, session %s",
		ErrFrameNotFound, cs.info.Name, t, cs.info.SourceTime(t),
		cs.buffer.Len(), oldest, newest, ok, cs.Cursor(), cs.index.Count(), m.session)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
