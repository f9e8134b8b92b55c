package export

import (
	"context"
	"fmt"
	"sync"

	"github.com/clipforge/exportcore/decode"
	"github.com/clipforge/exportcore/mp4meta"
)

// countingImage counts releases so tests can verify frame ownership.
type countingImage struct {
	mu       sync.Mutex
	released int
}

func (ci *countingImage) Release() {
	ci.mu.Lock()
	ci.released++
	ci.mu.Unlock()
}

func (ci *countingImage) releaseCount() int {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	return ci.released
}

// scriptedDecoder is a synchronous decoder: every accepted sample produces
// one frame on the output channel before Submit returns. Declared sync
// samples listed in rejectSync are rejected.
type scriptedDecoder struct {
	mu           sync.Mutex
	configured   bool
	needKeyframe bool
	closed       bool
	rejectSync   map[int]bool

	submitted []int
	resets    int
	images    []*countingImage

	out chan *decode.Frame
}

func newScriptedDecoder() *scriptedDecoder {
	return &scriptedDecoder{
		rejectSync: make(map[int]bool),
		out:        make(chan *decode.Frame, 4096),
	}
}

func (d *scriptedDecoder) Configure(cfg decode.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cfg.Codec == "" {
		return decode.ErrDecoderConfig
	}
	d.configured = true
	return nil
}

func (d *scriptedDecoder) Submit(s *mp4meta.Sample) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return decode.ErrDecoderClosed
	}
	if !d.configured {
		return decode.ErrDecoderNotConfigured
	}
	if s.Sync && d.rejectSync[s.Index] {
		return fmt.Errorf("sample %d: declared sync sample is not decodable", s.Index)
	}
	if d.needKeyframe {
		if !s.Sync {
			return fmt.Errorf("%w: sample %d", decode.ErrKeyframeRequired, s.Index)
		}
		d.needKeyframe = false
	}
	d.submitted = append(d.submitted, s.Index)
	img := &countingImage{}
	d.images = append(d.images, img)
	d.out <- &decode.Frame{CTS: s.CTSSeconds(), Width: 640, Height: 480, Image: img}
	return nil
}

func (d *scriptedDecoder) Flush(ctx context.Context) error {
	return ctx.Err()
}

func (d *scriptedDecoder) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return decode.ErrDecoderClosed
	}
	d.needKeyframe = true
	d.resets++
	return nil
}

func (d *scriptedDecoder) Output() <-chan *decode.Frame {
	return d.out
}

func (d *scriptedDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.out)
	return nil
}

func (d *scriptedDecoder) resetCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

func (d *scriptedDecoder) allReleased() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, img := range d.images {
		if img.releaseCount() == 0 {
			return false
		}
	}
	return true
}

var _ decode.Decoder = (*scriptedDecoder)(nil)

// stubSource is a scripted FrameSource for exporter and verification tests.
type stubSource struct {
	mu           sync.Mutex
	frames       map[string]*decode.Frame
	prefetchErr  error
	prefetches   int
	advances     []float64
	closed       bool
	readyAfter   int // Frame returns false until this many prefetches
	failAtTime   float64
	failAtActive bool
}

func newStubSource() *stubSource {
	return &stubSource{frames: make(map[string]*decode.Frame)}
}

func (s *stubSource) Prefetch(ctx context.Context, t float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefetches++
	if s.failAtActive && t >= s.failAtTime {
		return decode.ErrFrameNotFound
	}
	return s.prefetchErr
}

func (s *stubSource) Frame(clipID string, t float64) (*decode.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefetches < s.readyAfter {
		return nil, false
	}
	f, ok := s.frames[clipID]
	return f, ok
}

func (s *stubSource) Advance(t float64) {
	s.mu.Lock()
	s.advances = append(s.advances, t)
	s.mu.Unlock()
}

func (s *stubSource) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

var _ FrameSource = (*stubSource)(nil)

// stubCompositor records rendered times and can fail at a given frame.
type stubCompositor struct {
	mu        sync.Mutex
	times     []float64
	seen      []map[string]*decode.Frame
	failAt    int // frame ordinal to fail at, -1 disables
	lastParam map[string]ClipParams
}

func newStubCompositor() *stubCompositor {
	return &stubCompositor{failAt: -1}
}

func (c *stubCompositor) Render(t float64, frames map[string]*decode.Frame, params map[string]ClipParams) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAt >= 0 && len(c.times) == c.failAt {
		return nil, fmt.Errorf("render failure at frame %d", c.failAt)
	}
	c.times = append(c.times, t)
	c.seen = append(c.seen, frames)
	c.lastParam = params
	return []byte{0xAB}, nil
}

// stubSink records encoded frames and terminal calls.
type stubSink struct {
	mu        sync.Mutex
	encoded   []float64
	finalized bool
	aborted   bool
	encodeErr error
}

func (s *stubSink) Encode(t float64, image []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.encodeErr != nil {
		return s.encodeErr
	}
	s.encoded = append(s.encoded, t)
	return nil
}

func (s *stubSink) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = true
	return nil
}

func (s *stubSink) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
}
