package decode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clipforge/exportcore/mp4meta"
)

// outputChannelDepth bounds the decoder output channel. The per-clip
// consumer drains continuously, so the depth only needs to absorb short
// bursts within one batch.
const outputChannelDepth = 16

// Config carries the codec configuration a decoder needs before samples can
// be submitted.
type Config struct {
	// Codec is the RFC 6381 codec string, e.g. "avc1.64001F".
	Codec string

	// Width and Height are the coded dimensions in pixels.
	Width  uint32
	Height uint32

	// Description is the codec-specific configuration payload (avcC).
	Description []byte
}

// Decoder is the asynchronous video decoder abstraction the scheduler drives.
//
// Submit returns immediately; decoded frames arrive later on the Output
// channel, out of the caller's control flow. Within one decoder, samples
// must be submitted in non-decreasing decode order, and the first sample
// after Reset must be a sync sample.
type Decoder interface {
	// Configure prepares the decoder for a codec. Must be called before Submit.
	Configure(cfg Config) error

	// Submit queues one encoded sample for decoding and returns immediately.
	// A rejection applies to this sample only.
	Submit(s *mp4meta.Sample) error

	// Flush blocks until every submitted sample has produced output or been
	// discarded.
	Flush(ctx context.Context) error

	// Reset drops all internal decoder state. The next submission must be a
	// sync sample.
	Reset() error

	// Output is the bounded channel decoded frames arrive on. It is closed
	// by Close after the last frame.
	Output() <-chan *Frame

	// Close releases decoder resources and closes the output channel.
	Close() error
}

// DecoderFactory constructs one decoder per clip at initialize time.
type DecoderFactory func() Decoder

// PassthroughDecoder is a built-in Decoder for intra-coded payloads: each
// submitted sample becomes one frame wrapping the encoded bytes. It enforces
// the sync-sample rule after Reset and delivers frames asynchronously on a
// bounded output channel, in submission order.
type PassthroughDecoder struct {
	mu           sync.Mutex
	cond         *sync.Cond
	queue        []*mp4meta.Sample
	inFlight     bool
	needKeyframe bool
	configured   bool
	closed       bool
	cfg          Config
	out          chan *Frame
}

// NewPassthroughDecoder creates a decoder and starts its delivery goroutine.
func NewPassthroughDecoder() *PassthroughDecoder {
	d := &PassthroughDecoder{
		out: make(chan *Frame, outputChannelDepth),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

// Configure records the codec configuration.
func (d *PassthroughDecoder) Configure(cfg Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDecoderClosed
	}
	if cfg.Codec == "" {
		return fmt.Errorf("%w: empty codec string", ErrDecoderConfig)
	}
	d.cfg = cfg
	d.configured = true
	return nil
}

// Submit queues a sample. Rejects non-sync samples immediately after Reset.
func (d *PassthroughDecoder) Submit(s *mp4meta.Sample) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDecoderClosed
	}
	if !d.configured {
		return ErrDecoderNotConfigured
	}
	if d.needKeyframe {
		if !s.Sync {
			return fmt.Errorf("%w: sample %d", ErrKeyframeRequired, s.Index)
		}
		d.needKeyframe = false
	}
	d.queue = append(d.queue, s)
	d.cond.Signal()
	return nil
}

// Flush blocks until the queue has drained and no frame is mid-delivery.
func (d *PassthroughDecoder) Flush(ctx context.Context) error {
	for {
		d.mu.Lock()
		drained := len(d.queue) == 0 && !d.inFlight
		closed := d.closed
		d.mu.Unlock()
		if drained || closed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// Reset discards queued samples; the next submission must be a sync sample.
func (d *PassthroughDecoder) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDecoderClosed
	}
	d.queue = d.queue[:0]
	d.needKeyframe = true
	return nil
}

// Output returns the decoded frame channel.
func (d *PassthroughDecoder) Output() <-chan *Frame {
	return d.out
}

// Close stops the delivery goroutine and closes the output channel.
// Idempotent.
func (d *PassthroughDecoder) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.queue = nil
	d.cond.Broadcast()
	d.mu.Unlock()
	return nil
}

// run pops queued samples and delivers frames until Close.
func (d *PassthroughDecoder) run() {
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.closed {
			d.mu.Unlock()
			close(d.out)
			return
		}
		s := d.queue[0]
		d.queue = d.queue[1:]
		d.inFlight = true
		width := int(d.cfg.Width)
		height := int(d.cfg.Height)
		d.mu.Unlock()

		payload := make([]byte, len(s.Data))
		copy(payload, s.Data)
		frame := &Frame{
			CTS:    s.CTSSeconds(),
			Width:  width,
			Height: height,
			Image:  &rawImage{data: payload},
		}
		d.out <- frame

		d.mu.Lock()
		d.inFlight = false
		d.mu.Unlock()
	}
}

var _ Decoder = (*PassthroughDecoder)(nil)

// logSampleRejected notes a per-sample decode rejection. Individual
// rejections are logged and skipped; they do not abort the batch.
func logSampleRejected(clipName string, index int, err error) {
	logrus.WithFields(logrus.Fields{
		"function": "logSampleRejected",
		"clip":     clipName,
		"sample":   index,
		"error":    err,
	}).Warn("Decoder rejected sample; skipping")
}
