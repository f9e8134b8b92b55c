package decode

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clipforge/exportcore/limits"
	"github.com/clipforge/exportcore/metrics"
	"github.com/clipforge/exportcore/mp4meta"
)

// sampleArrivalPoll is the polling interval while waiting for the first
// samples of a stream to arrive from the asynchronous container parse.
const sampleArrivalPoll = 5 * time.Millisecond

// ClipState holds everything the scheduler owns for one clip: the decoder,
// the incrementally filling sample index, the decode cursor, and the bounded
// frame buffer. All mutation happens through scheduler methods; the only
// other writer is the consumer goroutine inserting decoded frames.
type ClipState struct {
	info    ClipInfo
	decoder Decoder
	index   *mp4meta.SampleIndex
	buffer  *FrameBuffer

	// decodeGate holds the isDecoding guard: at most one decode batch may
	// be in flight per clip. Buffered size 1; a successful send acquires.
	decodeGate chan struct{}

	// cursor is the next sample index to submit. Only increases except
	// during an explicit seek. Atomic because diagnostics and background
	// decode heuristics read it outside the decode gate.
	cursor atomic.Int64

	// needsKeyframe is set after any decoder reset until a sync sample is
	// accepted.
	needsKeyframe bool

	consumerDone chan struct{}
}

func newClipState(info ClipInfo, dec Decoder, index *mp4meta.SampleIndex) *ClipState {
	return &ClipState{
		info:         info,
		decoder:      dec,
		index:        index,
		buffer:       NewFrameBuffer(limits.MaxFrameBuffer),
		decodeGate:   make(chan struct{}, 1),
		consumerDone: make(chan struct{}),
	}
}

// Info returns the clip's immutable geometry.
func (cs *ClipState) Info() ClipInfo {
	return cs.info
}

// Buffer exposes the clip's frame buffer for lookups and eviction.
func (cs *ClipState) Buffer() *FrameBuffer {
	return cs.buffer
}

// Index exposes the clip's sample index.
func (cs *ClipState) Index() *mp4meta.SampleIndex {
	return cs.index
}

// Cursor returns the next decode-order sample index to submit.
func (cs *ClipState) Cursor() int {
	return int(cs.cursor.Load())
}

func (cs *ClipState) setCursor(i int) {
	cs.cursor.Store(int64(i))
}

// tryAcquireDecode attempts to take the decode-in-flight guard.
func (cs *ClipState) tryAcquireDecode() bool {
	select {
	case cs.decodeGate <- struct{}{}:
		return true
	default:
		return false
	}
}

// acquireDecode blocks until the guard is free or the context ends.
func (cs *ClipState) acquireDecode(ctx context.Context) error {
	select {
	case cs.decodeGate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cs *ClipState) releaseDecode() {
	<-cs.decodeGate
}

// consume drains the decoder output channel into the frame buffer. Once the
// scheduler leaves the running phase, frames are released immediately
// instead of buffered, which keeps teardown races leak-free.
func (cs *ClipState) consume(lc *lifecycle) {
	defer close(cs.consumerDone)
	for frame := range cs.decoder.Output() {
		if !lc.active() {
			frame.Release()
			continue
		}
		evicted := cs.buffer.Insert(frame)
		if evicted > 0 {
			metrics.BufferEvictionsTotal.WithLabelValues(cs.info.Name, "capacity").Add(float64(evicted))
		}
		metrics.FramesDecodedTotal.WithLabelValues(cs.info.Name).Inc()
		metrics.BufferOccupancy.WithLabelValues(cs.info.Name).Set(float64(cs.buffer.Len()))
	}
}

// waitForSamples blocks until at least one sample has arrived from the
// container parse, bounded by limits.SampleWaitTimeout.
func (cs *ClipState) waitForSamples(ctx context.Context) error {
	if cs.index.Count() > 0 {
		return nil
	}
	logrus.WithFields(logrus.Fields{
		"function": "waitForSamples",
		"clip":     cs.info.Name,
	}).Debug("Waiting for first samples to arrive")

	deadline := time.Now().Add(limits.SampleWaitTimeout)
	for cs.index.Count() == 0 {
		if time.Now().After(deadline) {
			return ErrSampleTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sampleArrivalPoll):
		}
	}
	return nil
}

// waitForCoverage blocks until the index can resolve a nearest sample for
// the source time, bounded by limits.SampleWaitTimeout. While the container
// is still parsing, a lookup past the newest arrival would clamp to it and
// name the wrong sample.
func (cs *ClipState) waitForCoverage(ctx context.Context, src float64) error {
	if cs.index.CoversTime(src) {
		return nil
	}
	logrus.WithFields(logrus.Fields{
		"function": "waitForCoverage",
		"clip":     cs.info.Name,
		"source":   src,
	}).Debug("Waiting for samples to cover requested time")

	deadline := time.Now().Add(limits.SampleWaitTimeout)
	for !cs.index.CoversTime(src) {
		if time.Now().After(deadline) {
			return ErrSampleTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sampleArrivalPoll):
		}
	}
	return nil
}

// close releases the clip's resources: the decoder is closed, the consumer
// drained, and every buffered frame released.
func (cs *ClipState) close() {
	cs.decoder.Close()
	<-cs.consumerDone
	released := cs.buffer.Clear()
	metrics.BufferOccupancy.WithLabelValues(cs.info.Name).Set(0)
	logrus.WithFields(logrus.Fields{
		"function": "close",
		"clip":     cs.info.Name,
		"released": released,
	}).Debug("Clip decoder state closed")
}
