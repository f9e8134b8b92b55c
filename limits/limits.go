// Package limits provides centralized tuning constants for the decode and
// export pipeline. This ensures consistent limits across different components
// of the system and keeps empirically tuned values in one documented place.
package limits

import (
	"errors"
	"fmt"
	"time"
)

const (
	// MaxFrameBuffer is the maximum number of decoded frames buffered per
	// clip. Decoded frames are large (a 1080p frame is ~3MB), so this cap
	// bounds worst-case memory per stream.
	MaxFrameBuffer = 30

	// DecodeBatchSize is the number of samples submitted to a decoder in
	// one decode-ahead pass.
	DecodeBatchSize = 60

	// PostSeekBatchMultiplier scales DecodeBatchSize for the first batch
	// after a seek, since the decoder starts from a sync sample that may be
	// well before the target.
	PostSeekBatchMultiplier = 5

	// SeekSampleThreshold is how many samples the decode cursor may drift
	// from the needed sample before a seek is forced instead of decoding
	// forward. Tuned empirically; changing it shifts the balance between
	// wasted forward decode and expensive decoder resets.
	SeekSampleThreshold = 30

	// MaxSyncFallbackCandidates is how many progressively earlier sync
	// samples are tried when a declared sync sample is rejected by the
	// decoder, before restarting from the first sample of the stream.
	MaxSyncFallbackCandidates = 5

	// MaxDecodeAheadPasses bounds the forward decode loop when the cursor
	// is still behind the target after one batch.
	MaxDecodeAheadPasses = 3

	// MaxFrameRetries is the number of retry attempts when a requested
	// frame is not yet buffered after the first prefetch pass.
	MaxFrameRetries = 15

	// FinalCheckToleranceFactor relaxes the frame-match tolerance on the
	// last retry pass. Tuned empirically; a slightly-off frame beats an
	// aborted export.
	FinalCheckToleranceFactor = 3

	// ToleranceFrameFactor sets the frame-match tolerance as a multiple of
	// the export frame duration.
	ToleranceFrameFactor = 1.5

	// MaxVerifyAttempts is the number of first-frame verification attempts
	// made by the mode selector before an export run is committed.
	MaxVerifyAttempts = 5
)

const (
	// MetadataTimeout bounds container parsing when waiting for codec
	// configuration during initialization.
	MetadataTimeout = 5 * time.Second

	// SampleWaitTimeout bounds waiting for the first samples of a stream
	// to arrive from the asynchronous container parse.
	SampleWaitTimeout = 10 * time.Second

	// RetryBackoff is the delay between frame-retrieval retry attempts.
	RetryBackoff = 20 * time.Millisecond

	// VerifyRetryDelay is the delay between first-frame verification
	// attempts in the mode selector.
	VerifyRetryDelay = 200 * time.Millisecond

	// TrailingEvictionWindow is how far behind the current export time a
	// buffered frame may be before AdvanceToTime releases it, independent
	// of the MaxFrameBuffer cap.
	TrailingEvictionWindow = 200 * time.Millisecond
)

var (
	// ErrInvalidFrameRate indicates a zero or negative export frame rate.
	ErrInvalidFrameRate = errors.New("invalid frame rate")

	// ErrInvalidTimeRange indicates an export range whose end does not
	// follow its start.
	ErrInvalidTimeRange = errors.New("invalid time range")
)

// ValidateFrameRate validates an export frame rate.
// Returns an error with context including the offending value.
func ValidateFrameRate(fps float64) error {
	if fps <= 0 {
		return fmt.Errorf("%w: %v fps", ErrInvalidFrameRate, fps)
	}
	return nil
}

// ValidateTimeRange validates an export time range in seconds.
func ValidateTimeRange(start, end float64) error {
	if end <= start {
		return fmt.Errorf("%w: start %.3fs, end %.3fs", ErrInvalidTimeRange, start, end)
	}
	return nil
}
