package decode

import (
	"sort"
	"sync"
)

// FrameBuffer is the bounded, time-indexed cache of decoded frames for one
// clip. Frames are keyed by integer microsecond presentation timestamps; a
// parallel sorted key slice provides O(log n) nearest-match lookup. When the
// buffer exceeds its cap, the single oldest frame is evicted and its backing
// memory released immediately.
type FrameBuffer struct {
	mu      sync.Mutex
	maxSize int
	frames  map[int64]*Frame
	keys    []int64 // sorted ascending; exactly the key set of frames
}

// NewFrameBuffer creates a buffer holding at most maxSize frames.
func NewFrameBuffer(maxSize int) *FrameBuffer {
	return &FrameBuffer{
		maxSize: maxSize,
		frames:  make(map[int64]*Frame),
	}
}

// Insert adds a decoded frame keyed by its presentation timestamp and
// returns the number of frames evicted to stay within the cap. A frame with
// a duplicate timestamp replaces (and releases) the previous one.
func (b *FrameBuffer) Insert(f *Frame) int {
	key := Micros(f.CTS)

	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.frames[key]; ok {
		old.Release()
		b.frames[key] = f
		return 0
	}

	pos := sort.Search(len(b.keys), func(i int) bool { return b.keys[i] >= key })
	b.keys = append(b.keys, 0)
	copy(b.keys[pos+1:], b.keys[pos:])
	b.keys[pos] = key
	b.frames[key] = f

	evicted := 0
	for len(b.keys) > b.maxSize {
		oldest := b.keys[0]
		b.frames[oldest].Release()
		delete(b.frames, oldest)
		b.keys = b.keys[1:]
		evicted++
	}
	return evicted
}

// Nearest returns the buffered frame whose key minimizes |key - target|,
// together with its key. Returns false when the buffer is empty.
func (b *FrameBuffer) Nearest(target int64) (*Frame, int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.keys) == 0 {
		return nil, 0, false
	}
	pos := sort.Search(len(b.keys), func(i int) bool { return b.keys[i] >= target })
	if pos == len(b.keys) {
		pos--
	} else if pos > 0 {
		if target-b.keys[pos-1] <= b.keys[pos]-target {
			pos--
		}
	}
	key := b.keys[pos]
	return b.frames[key], key, true
}

// Oldest returns the frame with the smallest buffered timestamp.
func (b *FrameBuffer) Oldest() (*Frame, int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.keys) == 0 {
		return nil, 0, false
	}
	key := b.keys[0]
	return b.frames[key], key, true
}

// Newest returns the frame with the largest buffered timestamp.
func (b *FrameBuffer) Newest() (*Frame, int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.keys) == 0 {
		return nil, 0, false
	}
	key := b.keys[len(b.keys)-1]
	return b.frames[key], key, true
}

// Bounds returns the oldest and newest buffered timestamps.
func (b *FrameBuffer) Bounds() (oldest, newest int64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.keys) == 0 {
		return 0, 0, false
	}
	return b.keys[0], b.keys[len(b.keys)-1], true
}

// EvictBefore releases every frame with a key strictly below cutoff and
// returns how many were released.
func (b *FrameBuffer) EvictBefore(cutoff int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := sort.Search(len(b.keys), func(i int) bool { return b.keys[i] >= cutoff })
	for i := 0; i < n; i++ {
		key := b.keys[i]
		b.frames[key].Release()
		delete(b.frames, key)
	}
	b.keys = b.keys[n:]
	return n
}

// EvictAfter releases every frame with a key strictly above cutoff and
// returns how many were released. Used for reversed clips, where playback
// consumes source timestamps in descending order.
func (b *FrameBuffer) EvictAfter(cutoff int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos := sort.Search(len(b.keys), func(i int) bool { return b.keys[i] > cutoff })
	n := len(b.keys) - pos
	for i := pos; i < len(b.keys); i++ {
		key := b.keys[i]
		b.frames[key].Release()
		delete(b.frames, key)
	}
	b.keys = b.keys[:pos]
	return n
}

// Clear releases every buffered frame and returns how many were released.
func (b *FrameBuffer) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.keys)
	for _, key := range b.keys {
		b.frames[key].Release()
	}
	b.frames = make(map[int64]*Frame)
	b.keys = b.keys[:0]
	return n
}

// Len returns the number of buffered frames.
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.keys)
}

// SortedKeys returns a copy of the sorted timestamp keys, for diagnostics.
func (b *FrameBuffer) SortedKeys() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int64, len(b.keys))
	copy(out, b.keys)
	return out
}
