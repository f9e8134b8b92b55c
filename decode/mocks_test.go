package decode

import (
	"context"
	"fmt"
	"sync"

	"github.com/clipforge/exportcore/mp4meta"
)

// trackedImage counts releases so tests can verify frame ownership.
type trackedImage struct {
	mu       sync.Mutex
	released int
}

func (ti *trackedImage) Release() {
	ti.mu.Lock()
	ti.released++
	ti.mu.Unlock()
}

func (ti *trackedImage) releaseCount() int {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.released
}

// releaseLedger tracks every image a mock decoder produced.
type releaseLedger struct {
	mu     sync.Mutex
	images []*trackedImage
}

func (rl *releaseLedger) track() *trackedImage {
	ti := &trackedImage{}
	rl.mu.Lock()
	rl.images = append(rl.images, ti)
	rl.mu.Unlock()
	return ti
}

func (rl *releaseLedger) allReleased() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for _, ti := range rl.images {
		if ti.releaseCount() == 0 {
			return false
		}
	}
	return true
}

// mockDecoder is a scripted synchronous decoder: every accepted sample
// produces one frame on the output channel before Submit returns. Sync
// samples listed in rejectSync are rejected as if they were not true
// recoverable entry points.
type mockDecoder struct {
	mu           sync.Mutex
	configured   bool
	needKeyframe bool
	closed       bool
	rejectSync   map[int]bool

	submitted []int
	resets    int

	ledger *releaseLedger
	out    chan *Frame
}

func newMockDecoder() *mockDecoder {
	return &mockDecoder{
		rejectSync: make(map[int]bool),
		ledger:     &releaseLedger{},
		// Deep enough that Submit never blocks within a batch.
		out: make(chan *Frame, 4096),
	}
}

func (d *mockDecoder) Configure(cfg Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cfg.Codec == "" {
		return ErrDecoderConfig
	}
	d.configured = true
	return nil
}

func (d *mockDecoder) Submit(s *mp4meta.Sample) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDecoderClosed
	}
	if !d.configured {
		return ErrDecoderNotConfigured
	}
	if s.Sync && d.rejectSync[s.Index] {
		return fmt.Errorf("sample %d: declared sync sample is not decodable", s.Index)
	}
	if d.needKeyframe {
		if !s.Sync {
			return fmt.Errorf("%w: sample %d", ErrKeyframeRequired, s.Index)
		}
		d.needKeyframe = false
	}
	d.submitted = append(d.submitted, s.Index)
	d.out <- &Frame{
		CTS:    s.CTSSeconds(),
		Width:  640,
		Height: 480,
		Image:  d.ledger.track(),
	}
	return nil
}

func (d *mockDecoder) Flush(ctx context.Context) error {
	return ctx.Err()
}

func (d *mockDecoder) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDecoderClosed
	}
	d.needKeyframe = true
	d.resets++
	return nil
}

func (d *mockDecoder) Output() <-chan *Frame {
	return d.out
}

func (d *mockDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.out)
	return nil
}

func (d *mockDecoder) submittedSamples() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, len(d.submitted))
	copy(out, d.submitted)
	return out
}

func (d *mockDecoder) resetCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

var _ Decoder = (*mockDecoder)(nil)
