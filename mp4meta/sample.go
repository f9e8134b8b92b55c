package mp4meta

import (
	"fmt"
	"sync"
)

// reorderWindowSeconds bounds how far presentation timestamps can run behind
// decode order due to B-frame reordering. Presentation time is near-sorted in
// decode order; once a sample's CTS exceeds the search target by more than
// this window, no later sample can be a better match.
const reorderWindowSeconds = 2.0

// Sample is one encoded sample of a video track, in decode order.
type Sample struct {
	// Index is the sample's position in decode order, starting at 0.
	Index int

	// CTS is the presentation timestamp in media timescale units.
	CTS int64

	// DTS is the decode timestamp in media timescale units.
	DTS int64

	// Duration is the sample duration in media timescale units.
	Duration uint32

	// Sync reports whether the sample is a decode-independent entry point.
	Sync bool

	// Data is the encoded payload.
	Data []byte

	// Timescale is the media timescale the timestamps are expressed in.
	Timescale uint32
}

// CTSSeconds returns the presentation timestamp in seconds.
func (s *Sample) CTSSeconds() float64 {
	if s.Timescale == 0 {
		return 0
	}
	return float64(s.CTS) / float64(s.Timescale)
}

// DurationSeconds returns the sample duration in seconds.
func (s *Sample) DurationSeconds() float64 {
	if s.Timescale == 0 {
		return 0
	}
	return float64(s.Duration) / float64(s.Timescale)
}

// SampleIndex is the append-only table of a file's video samples in decode
// order. Samples arrive incrementally while the container is parsed; readers
// may query the index concurrently with appends. Once Finish is called the
// index is read-only.
type SampleIndex struct {
	mu        sync.RWMutex
	samples   []*Sample
	timescale uint32
	complete  bool
}

// NewSampleIndex creates an empty index for a track with the given timescale.
func NewSampleIndex(timescale uint32) *SampleIndex {
	return &SampleIndex{timescale: timescale}
}

// Append adds one sample at the end of the decode-order table.
func (si *SampleIndex) Append(s *Sample) error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if si.complete {
		return ErrIndexComplete
	}
	s.Index = len(si.samples)
	if s.Timescale == 0 {
		s.Timescale = si.timescale
	}
	si.samples = append(si.samples, s)
	return nil
}

// Finish marks the index read-only. A finished index with zero samples is an
// initialization error for the owning clip.
func (si *SampleIndex) Finish() error {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.complete = true
	if len(si.samples) == 0 {
		return fmt.Errorf("%w: index finished empty", ErrNoSamples)
	}
	return nil
}

// Count returns the number of samples appended so far.
func (si *SampleIndex) Count() int {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return len(si.samples)
}

// Complete reports whether extraction has finished.
func (si *SampleIndex) Complete() bool {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return si.complete
}

// Timescale returns the media timescale of the track.
func (si *SampleIndex) Timescale() uint32 {
	return si.timescale
}

// At returns the sample at decode-order position i, or nil when out of range.
func (si *SampleIndex) At(i int) *Sample {
	si.mu.RLock()
	defer si.mu.RUnlock()
	if i < 0 || i >= len(si.samples) {
		return nil
	}
	return si.samples[i]
}

// DurationSeconds returns the total duration of all appended samples.
func (si *SampleIndex) DurationSeconds() float64 {
	si.mu.RLock()
	defer si.mu.RUnlock()
	var total uint64
	for _, s := range si.samples {
		total += uint64(s.Duration)
	}
	if si.timescale == 0 {
		return 0
	}
	return float64(total) / float64(si.timescale)
}

// NearestIndexForTime returns the decode-order index of the sample whose
// presentation time is closest to the given source time in seconds.
// Returns -1 when the index is empty.
//
// Presentation time is near-sorted in decode order, so the scan terminates
// once CTS exceeds the target by more than the reorder window.
func (si *SampleIndex) NearestIndexForTime(seconds float64) int {
	si.mu.RLock()
	defer si.mu.RUnlock()
	if len(si.samples) == 0 {
		return -1
	}
	best := 0
	bestDiff := absFloat(si.samples[0].CTSSeconds() - seconds)
	for i := 1; i < len(si.samples); i++ {
		cts := si.samples[i].CTSSeconds()
		diff := absFloat(cts - seconds)
		if diff < bestDiff {
			best = i
			bestDiff = diff
		}
		if cts > seconds+reorderWindowSeconds {
			break
		}
	}
	return best
}

// CoversTime reports whether a nearest-sample lookup for the given source
// time is reliable yet: extraction has finished, or a sample at or past that
// presentation time has already arrived. While the index is still filling, a
// lookup for a later time would clamp to the newest arrival and name the
// wrong sample.
func (si *SampleIndex) CoversTime(seconds float64) bool {
	si.mu.RLock()
	defer si.mu.RUnlock()
	if si.complete {
		return true
	}
	// Near-sorted CTS: only the trailing reorder window can still reach the
	// target, so the backward scan is short.
	for i := len(si.samples) - 1; i >= 0; i-- {
		cts := si.samples[i].CTSSeconds()
		if cts >= seconds {
			return true
		}
		if cts < seconds-reorderWindowSeconds {
			return false
		}
	}
	return false
}

// SyncIndexBefore returns the decode-order index of the nearest sync sample
// whose presentation time is at or before the presentation time of sample i.
// Sync samples have monotonically increasing presentation time, so the scan
// stops as soon as one overshoots the target. Falls back to the first sample
// when no earlier sync sample exists.
func (si *SampleIndex) SyncIndexBefore(i int) int {
	si.mu.RLock()
	defer si.mu.RUnlock()
	if i < 0 || i >= len(si.samples) {
		return 0
	}
	targetCTS := si.samples[i].CTS
	best := 0
	for j, s := range si.samples {
		if !s.Sync {
			continue
		}
		if s.CTS > targetCTS {
			break
		}
		best = j
	}
	return best
}

// EarlierSyncCandidates returns up to n sync-sample indexes strictly earlier
// (in decode order) than the given sync index, nearest first. Used when a
// declared sync sample is rejected by the decoder.
func (si *SampleIndex) EarlierSyncCandidates(syncIdx, n int) []int {
	si.mu.RLock()
	defer si.mu.RUnlock()
	var out []int
	for j := syncIdx - 1; j >= 0 && len(out) < n; j-- {
		if si.samples[j].Sync {
			out = append(out, j)
		}
	}
	return out
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
